// 文件: pkg/perps/engine.go
// 持仓账本引擎 - 核心状态机
//
// 【并发模型】
// 单把互斥锁串行化全部操作。账本状态全部由引擎独占，
// 操作要么完整生效、要么完全不生效——任何校验失败都发生在
// 第一次状态写入之前。
//
// 【状态】
// - 用户余额 map + 用户名册 (追加切片 + 去重集合)
// - 持仓 map: (user, symbol) → Position，至多一个未平仓
// - 未平仓索引: 清算扫描只遍历这个索引，不做 用户×市场 全量扫描
// - 市场规格: 权威内存副本，Repository 只做持久化
//
// 【外部依赖】全部注入接口: 价格源、事件发布、流水出口、洗牌器

package perps

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"perpx.com/pkg/ident"
	"perpx.com/pkg/journal"
	natsx "perpx.com/pkg/nats"
	"perpx.com/pkg/pricefeed"
	"perpx.com/pkg/risk"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrMarketExists     = errors.New("market symbol already exists")
	ErrInvalidSpec      = errors.New("invalid market specification")
	ErrMarketNotFound   = errors.New("market symbol not found")
	ErrMarketInactive   = errors.New("market is not active")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidLeverage  = errors.New("leverage out of range")
	ErrBalanceCap       = errors.New("user balance cap exceeded")
	ErrNotionalCap      = errors.New("user notional cap exceeded")
	ErrInsufficient     = errors.New("insufficient balance")
	ErrPositionExists   = errors.New("position already open")
	ErrNoPosition       = errors.New("no open position")
	ErrOpenPositions    = errors.New("withdraw blocked by open positions")
	ErrStalePrice       = errors.New("price is stale")
	ErrNotLiquidatable  = errors.New("position is not liquidatable")
	ErrUnknownDepositor = errors.New("depositor is not authorized")
)

// =============================================================================
// 注入接口
// =============================================================================

// PriceProvider 价格源
type PriceProvider interface {
	GetPrice(symbol string) (pricefeed.Quote, error)
}

// EventPublisher 热路径事件发布 (NATS)
type EventPublisher interface {
	Publish(subject string, data any) error
}

// Shuffler 清算扫描顺序洗牌器
type Shuffler interface {
	Shuffle(users []int64) []int64
}

// =============================================================================
// Engine - 持仓账本
// =============================================================================

type posKey struct {
	userID int64
	symbol string
}

// Engine 持仓账本引擎
type Engine struct {
	mu sync.Mutex

	cfg    Config
	prices PriceProvider

	// 市场规格 (权威内存副本)
	markets map[string]*Market

	// 用户余额与名册
	balances map[int64]int64
	users    []int64 // 追加名册，保证遍历顺序稳定
	seen     map[int64]struct{}

	// 持仓与未平仓索引
	positions    map[posKey]*Position
	openIndex    map[posKey]struct{}
	openCount    map[int64]int
	userNotional map[int64]int64 // 用户名义敞口合计 (增量维护)

	// 授权代充值方 (跨链桥网关)
	depositors map[string]struct{}

	// 可选外部依赖
	repo      MarketRepository
	publisher EventPublisher
	sink      journal.Sink
	shuffler  Shuffler

	// 市场聚合持久化: 单写协程保序 (快照按提交顺序入列)
	persistCh   chan *Market
	persistDone chan struct{}
}

// NewEngine 创建账本引擎
func NewEngine(cfg Config, prices PriceProvider) *Engine {
	return &Engine{
		cfg:          cfg,
		prices:       prices,
		markets:      make(map[string]*Market),
		balances:     make(map[int64]int64),
		seen:         make(map[int64]struct{}),
		positions:    make(map[posKey]*Position),
		openIndex:    make(map[posKey]struct{}),
		openCount:    make(map[int64]int),
		userNotional: make(map[int64]int64),
		depositors:   make(map[string]struct{}),
	}
}

// AttachRepository 挂接市场规格持久化，并启动聚合落库写协程
func (e *Engine) AttachRepository(repo MarketRepository) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repo = repo

	if e.persistCh == nil {
		e.persistCh = make(chan *Market, 64)
		e.persistDone = make(chan struct{})
		go e.persistLoop(e.persistCh, e.persistDone)
	}
}

// Close 关闭聚合写协程，排空待落库快照
func (e *Engine) Close() {
	e.mu.Lock()
	ch := e.persistCh
	done := e.persistDone
	e.persistCh = nil
	e.mu.Unlock()

	if ch != nil {
		close(ch)
		<-done
	}
}

// AttachPublisher 挂接事件发布
func (e *Engine) AttachPublisher(pub EventPublisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = pub
}

// AttachSink 挂接流水出口
func (e *Engine) AttachSink(sink journal.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// AttachShuffler 挂接洗牌器
func (e *Engine) AttachShuffler(s Shuffler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shuffler = s
}

// AuthorizeDepositor 授权代充值方 (部署期配置)
func (e *Engine) AuthorizeDepositor(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.depositors[name] = struct{}{}
}

// =============================================================================
// 市场管理
// =============================================================================

// AddMarket 上线市场
func (e *Engine) AddMarket(symbol string, maxLeverage int, maintMarginBps int64) error {
	if symbol == "" || maxLeverage < 1 || maintMarginBps < 0 || maintMarginBps >= RatePrecision {
		return ErrInvalidSpec
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.markets[symbol]; ok {
		return ErrMarketExists
	}

	now := nowMilli()
	market := &Market{
		Symbol:         symbol,
		MaxLeverage:    maxLeverage,
		MaintMarginBps: maintMarginBps,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if e.repo != nil {
		if err := e.repo.Create(context.Background(), market); err != nil {
			return err
		}
	}

	e.markets[symbol] = market
	return nil
}

// SetMarketActive 启停市场
// 停用后禁止开仓，已有仓位仍可平仓/清算
func (e *Engine) SetMarketActive(symbol string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.markets[symbol]
	if !ok {
		return ErrMarketNotFound
	}

	if e.repo != nil {
		if err := e.repo.SetActive(context.Background(), symbol, active); err != nil {
			return err
		}
	}

	market.IsActive = active
	market.UpdatedAt = nowMilli()
	return nil
}

// GetMarket 查询市场规格 (副本)
func (e *Engine) GetMarket(symbol string) (*Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.markets[symbol]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return market.clone(), nil
}

// GetMarketSymbols 已上线市场列表 (字典序)
func (e *Engine) GetMarketSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.markets))
	for s := range e.markets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// 入金 / 出金
// =============================================================================

// Deposit 入金
func (e *Engine) Deposit(user int64, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credit(user, amount, "")
}

// DepositFor 代充值 (仅授权网关，跨链桥入口)
func (e *Engine) DepositFor(user int64, amount int64, from string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.depositors[from]; !ok {
		return ErrUnknownDepositor
	}
	return e.credit(user, amount, from)
}

// credit 入金公共路径 (调用方持锁)
func (e *Engine) credit(user int64, amount int64, from string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	before := e.balances[user]
	if e.cfg.MaxUserBalance > 0 && before+amount > e.cfg.MaxUserBalance {
		return ErrBalanceCap
	}

	e.touchUser(user)
	e.balances[user] = before + amount

	changeType := journal.ChangeDeposit
	if from != "" {
		changeType = journal.ChangeBridgeCredit
	}
	e.emitJournal(user, "", changeType, amount, before, before+amount, from)
	e.publish(natsx.SubjectBalanceDeposited, &BalanceEvent{
		UserID:    user,
		Amount:    amount,
		Balance:   before + amount,
		From:      from,
		Timestamp: nowMilli(),
	})
	return nil
}

// Withdraw 出金
// 有任何未平仓持仓时禁止出金
func (e *Engine) Withdraw(user int64, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 {
		return ErrInvalidAmount
	}
	if e.openCount[user] > 0 {
		return ErrOpenPositions
	}

	before := e.balances[user]
	if before < amount {
		return ErrInsufficient
	}

	e.balances[user] = before - amount

	e.emitJournal(user, "", journal.ChangeWithdraw, amount, before, before-amount, "")
	e.publish(natsx.SubjectBalanceWithdrawn, &BalanceEvent{
		UserID:    user,
		Amount:    amount,
		Balance:   before - amount,
		Timestamp: nowMilli(),
	})
	return nil
}

// GetBalance 查询余额
func (e *Engine) GetBalance(user int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[user]
}

// =============================================================================
// 开仓
// =============================================================================

// OpenPosition 开仓
//
// 校验顺序 (全部通过后才写状态，失败无副作用):
// 市场存在且可交易 → 杠杆范围 → 无已有持仓 → 余额覆盖
// 保证金+手续费 → 名义敞口上限 → 实时价格有效且新鲜
func (e *Engine) OpenPosition(user int64, symbol string, collateral int64, leverage int, isLong bool) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, ok := e.markets[symbol]
	if !ok {
		return nil, ErrMarketNotFound
	}
	if !market.IsActive {
		return nil, ErrMarketInactive
	}
	if collateral <= 0 {
		return nil, ErrInvalidAmount
	}
	if leverage < 1 || leverage > market.MaxLeverage {
		return nil, ErrInvalidLeverage
	}

	key := posKey{userID: user, symbol: symbol}
	if pos, ok := e.positions[key]; ok && pos.IsOpen {
		return nil, ErrPositionExists
	}

	debit, fees := openingDebit(collateral)
	before := e.balances[user]
	if before < debit {
		return nil, ErrInsufficient
	}

	sizeUSD := collateral * int64(leverage)
	if e.cfg.MaxUserNotional > 0 && e.userNotional[user]+sizeUSD > e.cfg.MaxUserNotional {
		return nil, ErrNotionalCap
	}

	price, err := e.freshPrice(symbol)
	if err != nil {
		return nil, err
	}

	// ===== 校验全部通过，开始提交 =====
	now := nowMilli()
	pos := &Position{
		UserID:      user,
		Symbol:      symbol,
		SizeUSD:     sizeUSD,
		Collateral:  collateral,
		EntryPrice:  price,
		Leverage:    leverage,
		IsLong:      isLong,
		IsOpen:      true,
		OpenTime:    now,
		LastFeeTime: now,
	}

	e.touchUser(user)
	e.balances[user] = before - debit
	e.positions[key] = pos
	e.openIndex[key] = struct{}{}
	e.openCount[user]++
	e.userNotional[user] += sizeUSD

	if isLong {
		market.TotalLongUSD += sizeUSD
	} else {
		market.TotalShortUSD += sizeUSD
	}
	e.persistAggregates(market)

	e.emitJournal(user, symbol, journal.ChangeOpenDebit, debit, before, before-debit, "")
	e.publish(natsx.SubjectPositionOpened, &PositionEvent{
		UserID:     user,
		Symbol:     symbol,
		Side:       pos.Side(),
		SizeUSD:    sizeUSD,
		Collateral: collateral,
		EntryPrice: price,
		TotalFees:  fees,
		Timestamp:  now,
	})

	snapshot := *pos
	return &snapshot, nil
}

// =============================================================================
// 平仓
// =============================================================================

// ClosePosition 平仓结算
//
// 结算额 = 保证金 + 盈亏 - 平仓费 - 持仓费 - 利润税
// 结算额为负时归零入账 (亏损以保证金为限，余额永不为负)
func (e *Engine) ClosePosition(user int64, symbol string) (settlement int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := posKey{userID: user, symbol: symbol}
	pos, ok := e.positions[key]
	if !ok || !pos.IsOpen {
		return 0, ErrNoPosition
	}

	price, err := e.freshPrice(symbol)
	if err != nil {
		return 0, err
	}

	now := nowMilli()
	pnl, err := risk.PnL(riskPosition(pos), price)
	if err != nil {
		return 0, err
	}

	closeFee, holdingFee, tax := closingCharges(pos.Collateral, pos.LastFeeTime, now, pnl)
	settlement = pos.Collateral + pnl - closeFee - holdingFee - tax
	if settlement < 0 {
		settlement = 0
	}

	// ===== 提交 =====
	before := e.balances[user]
	e.balances[user] = before + settlement
	e.closeOut(key, pos)

	if settlement > 0 {
		e.emitJournal(user, symbol, journal.ChangeCloseCredit, settlement, before, before+settlement, "")
	}
	e.publish(natsx.SubjectPositionClosed, &PositionEvent{
		UserID:      user,
		Symbol:      symbol,
		Side:        pos.Side(),
		SizeUSD:     pos.SizeUSD,
		Collateral:  pos.Collateral,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
		RealizedPnL: pnl,
		TotalFees:   closeFee + holdingFee + tax,
		Settlement:  settlement,
		Timestamp:   now,
	})
	return settlement, nil
}

// =============================================================================
// 清算
// =============================================================================

// LiquidatePosition 清算指定持仓 (无许可，任何调用方可触发)
//
// 清算资格由 risk.CanLiquidate 实时判定，不满足返回 ErrNotLiquidatable。
// 清算没收全部保证金，用户余额不变。
func (e *Engine) LiquidatePosition(caller string, user int64, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liquidate(caller, posKey{userID: user, symbol: symbol})
}

// liquidate 清算公共路径 (调用方持锁)
func (e *Engine) liquidate(caller string, key posKey) error {
	pos, ok := e.positions[key]
	if !ok || !pos.IsOpen {
		return ErrNoPosition
	}

	market, ok := e.markets[key.symbol]
	if !ok {
		return ErrMarketNotFound
	}

	price, err := e.freshPrice(key.symbol)
	if err != nil {
		return err
	}

	now := nowMilli()
	eligible, err := risk.CanLiquidate(riskPosition(pos), riskMarket(market), price, now)
	if err != nil {
		return err
	}
	if !eligible {
		return ErrNotLiquidatable
	}

	// ===== 提交: 没收保证金，持仓终态 =====
	e.closeOut(key, pos)

	balance := e.balances[key.userID]
	e.emitJournal(key.userID, key.symbol, journal.ChangeLiquidation, pos.Collateral, balance, balance, caller)
	e.publish(natsx.SubjectPositionLiquidated, &PositionEvent{
		UserID:     key.userID,
		Symbol:     key.symbol,
		Side:       pos.Side(),
		SizeUSD:    pos.SizeUSD,
		Collateral: pos.Collateral,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Liquidator: caller,
		Timestamp:  now,
	})
	return nil
}

// LiquidatePositions 全量清算扫描
//
// 只遍历未平仓索引。用户顺序经洗牌器打乱 (抗顺序套利)，
// 无洗牌器时按名册顺序。单个持仓价格获取失败跳过，不中断扫描。
// 整个扫描持锁进行，期间无并发状态变化。
func (e *Engine) LiquidatePositions(caller string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 收集有未平仓持仓的用户 (名册顺序，稳定)
	bySymbol := make(map[int64][]string)
	for key := range e.openIndex {
		bySymbol[key.userID] = append(bySymbol[key.userID], key.symbol)
	}

	users := make([]int64, 0, len(bySymbol))
	for _, u := range e.users {
		if _, ok := bySymbol[u]; ok {
			users = append(users, u)
		}
	}
	if e.shuffler != nil {
		users = e.shuffler.Shuffle(users)
	}

	count := 0
	for _, user := range users {
		symbols := bySymbol[user]
		sort.Strings(symbols)
		for _, symbol := range symbols {
			err := e.liquidate(caller, posKey{userID: user, symbol: symbol})
			switch {
			case err == nil:
				count++
			case errors.Is(err, ErrNotLiquidatable):
				// 健康持仓，跳过
			default:
				log.Printf("[Perps] sweep skip: user=%d, symbol=%s, err=%v", user, symbol, err)
			}
		}
	}
	return count, nil
}

// =============================================================================
// 查询
// =============================================================================

// GetPosition 持仓健康视图
//
// 实时价格 + 已过时间的纯计算，不落任何状态。
func (e *Engine) GetPosition(user int64, symbol string) (*PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := posKey{userID: user, symbol: symbol}
	pos, ok := e.positions[key]
	if !ok || !pos.IsOpen {
		return nil, ErrNoPosition
	}

	market, ok := e.markets[symbol]
	if !ok {
		return nil, ErrMarketNotFound
	}

	price, err := e.freshPrice(symbol)
	if err != nil {
		return nil, err
	}

	now := nowMilli()
	rp, rm := riskPosition(pos), riskMarket(market)

	pnl, err := risk.PnL(rp, price)
	if err != nil {
		return nil, err
	}
	liqPrice, err := risk.LiquidationPrice(rp, rm, now)
	if err != nil {
		return nil, err
	}
	eligible, err := risk.CanLiquidate(rp, rm, price, now)
	if err != nil {
		return nil, err
	}
	ratio, err := risk.MarginRatio(rp, price, now)
	if err != nil {
		return nil, err
	}

	accrued := holdingFeeAccrued(pos.Collateral, pos.LastFeeTime, now)

	return &PositionView{
		Position:         *pos,
		CurrentPrice:     price,
		LiquidationPrice: liqPrice,
		UnrealizedPnL:    pnl,
		AccruedFees:      accrued,
		NetPnL:           pnl - accrued,
		MarginRatioBps:   ratio,
		Liquidatable:     eligible,
	}, nil
}

// =============================================================================
// 内部工具 (全部要求调用方持锁)
// =============================================================================

// touchUser 登记用户名册
func (e *Engine) touchUser(user int64) {
	if _, ok := e.seen[user]; ok {
		return
	}
	e.seen[user] = struct{}{}
	e.users = append(e.users, user)
}

// closeOut 持仓进入终态，维护索引与聚合
func (e *Engine) closeOut(key posKey, pos *Position) {
	pos.IsOpen = false
	delete(e.openIndex, key)
	e.openCount[key.userID]--
	e.userNotional[key.userID] -= pos.SizeUSD

	if market, ok := e.markets[key.symbol]; ok {
		if pos.IsLong {
			market.TotalLongUSD -= pos.SizeUSD
		} else {
			market.TotalShortUSD -= pos.SizeUSD
		}
		e.persistAggregates(market)
	}
}

// freshPrice 获取实时价格并检查时效
func (e *Engine) freshPrice(symbol string) (int64, error) {
	quote, err := e.prices.GetPrice(symbol)
	if err != nil {
		return 0, err
	}
	if e.cfg.MaxPriceAge > 0 {
		age := time.Now().UnixMilli() - quote.UpdatedAt
		if age > e.cfg.MaxPriceAge.Milliseconds() {
			return 0, ErrStalePrice
		}
	}
	return quote.Price, nil
}

// emitJournal 发出余额流水 (冷路径，sink 未挂接时静默)
func (e *Engine) emitJournal(user int64, symbol string, t journal.ChangeType, amount, before, after int64, refID string) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(&journal.Event{
		EventID:       ident.NextID(),
		UserID:        user,
		Symbol:        symbol,
		ChangeType:    t,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		RefID:         refID,
		CreatedAt:     time.Now(),
	})
}

// publish 发出热路径事件 (publisher 未挂接时静默，失败只记日志)
func (e *Engine) publish(subject string, data any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(subject, data); err != nil {
		log.Printf("[Perps] publish failed: subject=%s, err=%v", subject, err)
	}
}

// persistAggregates 异步持久化市场敞口聚合 (best effort)
//
// 快照按提交顺序入列、由单个写协程落库——
// 并发协程会乱序覆盖，最后落库的可能不是最新聚合。
// 队列满时丢弃本次快照，后续提交会携带最新值补上。
func (e *Engine) persistAggregates(market *Market) {
	if e.repo == nil || e.persistCh == nil {
		return
	}
	select {
	case e.persistCh <- market.clone():
	default:
		log.Printf("[Perps] persist queue full, drop snapshot: symbol=%s", market.Symbol)
	}
}

// persistLoop 聚合落库写协程 (随 AttachRepository 启动)
func (e *Engine) persistLoop(ch chan *Market, done chan struct{}) {
	defer close(done)
	for snapshot := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.repo.Update(ctx, snapshot)
		cancel()
		if err != nil {
			log.Printf("[Perps] persist market failed: symbol=%s, err=%v", snapshot.Symbol, err)
		}
	}
}

// riskPosition 转换为风险计算快照
func riskPosition(pos *Position) risk.Position {
	return risk.Position{
		SizeUSD:     pos.SizeUSD,
		Collateral:  pos.Collateral,
		EntryPrice:  pos.EntryPrice,
		Leverage:    pos.Leverage,
		IsLong:      pos.IsLong,
		OpenTime:    pos.OpenTime,
		LastFeeTime: pos.LastFeeTime,
	}
}

// riskMarket 转换为风险计算快照
func riskMarket(market *Market) risk.Market {
	return risk.Market{
		Symbol:         market.Symbol,
		MaintMarginBps: market.MaintMarginBps,
	}
}
