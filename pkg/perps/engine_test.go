// 文件: pkg/perps/engine_test.go
// 持仓账本引擎测试
//
// 全部用内存接线: 静态价格源 + 内存流水出口，不依赖外部服务。
// 金额全部用字面量定点数验证。

package perps

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpx.com/pkg/journal"
	"perpx.com/pkg/pricefeed"
)

// =============================================================================
// 测试辅助
// =============================================================================

const (
	testSymbol = "BTC_USD"

	// $100.00 (8位小数价格)
	price100 = 100 * PricePrecision
)

// usd 把美元数转为 6 位小数定点
func usd(v int64) int64 {
	return v * UsdPrecision
}

type testEnv struct {
	engine *Engine
	feed   *pricefeed.Feed
	source *pricefeed.StaticSource
	sink   *journal.MemorySink
}

func newTestEnv(t *testing.T) *testEnv {
	source := pricefeed.NewStaticSource(price100, 8)
	feed := pricefeed.NewFeed()
	feed.Register(testSymbol, source)

	engine := NewEngine(DefaultConfig(), feed)
	sink := journal.NewMemorySink()
	engine.AttachSink(sink)

	// 维持保证金率 5%
	require.NoError(t, engine.AddMarket(testSymbol, 10, 500))

	return &testEnv{engine: engine, feed: feed, source: source, sink: sink}
}

// =============================================================================
// 入金 / 出金
// =============================================================================

func TestDeposit(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.engine.Deposit(1001, usd(100)))
	assert.Equal(t, usd(100), env.engine.GetBalance(1001))

	// 非正金额
	assert.ErrorIs(t, env.engine.Deposit(1001, 0), ErrInvalidAmount)
	assert.ErrorIs(t, env.engine.Deposit(1001, -1), ErrInvalidAmount)

	// 流水
	events := env.sink.ByType(journal.ChangeDeposit)
	require.Len(t, events, 1)
	assert.Equal(t, int64(0), events[0].BalanceBefore)
	assert.Equal(t, usd(100), events[0].BalanceAfter)
}

func TestDeposit_BalanceCap(t *testing.T) {
	source := pricefeed.NewStaticSource(price100, 8)
	feed := pricefeed.NewFeed()
	feed.Register(testSymbol, source)

	cfg := DefaultConfig()
	cfg.MaxUserBalance = usd(1000)
	engine := NewEngine(cfg, feed)

	require.NoError(t, engine.Deposit(1001, usd(900)))
	assert.ErrorIs(t, engine.Deposit(1001, usd(101)), ErrBalanceCap)

	// 失败无副作用
	assert.Equal(t, usd(900), engine.GetBalance(1001))

	// 恰好到上限可以
	require.NoError(t, engine.Deposit(1001, usd(100)))
	assert.Equal(t, usd(1000), engine.GetBalance(1001))
}

func TestDepositFor_Authorization(t *testing.T) {
	env := newTestEnv(t)

	// 未授权网关
	assert.ErrorIs(t, env.engine.DepositFor(1001, usd(50), "bridge_gateway"), ErrUnknownDepositor)
	assert.Equal(t, int64(0), env.engine.GetBalance(1001))

	// 授权后可代充值
	env.engine.AuthorizeDepositor("bridge_gateway")
	require.NoError(t, env.engine.DepositFor(1001, usd(50), "bridge_gateway"))
	assert.Equal(t, usd(50), env.engine.GetBalance(1001))

	// 跨链入金流水单独分类
	events := env.sink.ByType(journal.ChangeBridgeCredit)
	require.Len(t, events, 1)
	assert.Equal(t, "bridge_gateway", events[0].RefID)
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	require.NoError(t, env.engine.Withdraw(1001, usd(40)))
	assert.Equal(t, usd(60), env.engine.GetBalance(1001))

	assert.ErrorIs(t, env.engine.Withdraw(1001, usd(61)), ErrInsufficient)
	assert.ErrorIs(t, env.engine.Withdraw(1001, 0), ErrInvalidAmount)
	assert.Equal(t, usd(60), env.engine.GetBalance(1001))
}

func TestWithdraw_BlockedByOpenPosition(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)

	assert.ErrorIs(t, env.engine.Withdraw(1001, usd(10)), ErrOpenPositions)

	// 平仓后恢复可出金
	_, err = env.engine.ClosePosition(1001, testSymbol)
	require.NoError(t, err)
	require.NoError(t, env.engine.Withdraw(1001, usd(10)))
}

// =============================================================================
// 开仓
// =============================================================================

func TestOpenPosition(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	pos, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)

	assert.Equal(t, usd(100), pos.SizeUSD) // $50 × 2x
	assert.Equal(t, usd(50), pos.Collateral)
	assert.Equal(t, int64(price100), pos.EntryPrice)
	assert.True(t, pos.IsOpen)

	// 扣款 = 保证金 $50 + 开仓费 $0.50 (100bps)
	assert.Equal(t, int64(49_500_000), env.engine.GetBalance(1001))

	// 市场多头敞口
	market, err := env.engine.GetMarket(testSymbol)
	require.NoError(t, err)
	assert.Equal(t, usd(100), market.TotalLongUSD)
	assert.Equal(t, int64(0), market.TotalShortUSD)
}

func TestOpenPosition_Validation(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	// 未知市场
	_, err := env.engine.OpenPosition(1001, "DOGE_USD", usd(50), 2, true)
	assert.ErrorIs(t, err, ErrMarketNotFound)

	// 杠杆范围 (市场上限 10x)
	_, err = env.engine.OpenPosition(1001, testSymbol, usd(50), 0, true)
	assert.ErrorIs(t, err, ErrInvalidLeverage)
	_, err = env.engine.OpenPosition(1001, testSymbol, usd(50), 11, true)
	assert.ErrorIs(t, err, ErrInvalidLeverage)

	// 余额不足 (保证金 $100 + 费 $1 > 余额 $100)
	_, err = env.engine.OpenPosition(1001, testSymbol, usd(100), 2, true)
	assert.ErrorIs(t, err, ErrInsufficient)

	// 停用市场
	require.NoError(t, env.engine.SetMarketActive(testSymbol, false))
	_, err = env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	assert.ErrorIs(t, err, ErrMarketInactive)

	// 所有失败都无副作用
	assert.Equal(t, usd(100), env.engine.GetBalance(1001))
}

func TestOpenPosition_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(30), 2, true)
	require.NoError(t, err)

	_, err = env.engine.OpenPosition(1001, testSymbol, usd(30), 2, true)
	assert.ErrorIs(t, err, ErrPositionExists)

	// 平仓后可重新开仓
	_, err = env.engine.ClosePosition(1001, testSymbol)
	require.NoError(t, err)
	_, err = env.engine.OpenPosition(1001, testSymbol, usd(30), 2, false)
	require.NoError(t, err)
}

func TestOpenPosition_NotionalCapAtomic(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddMarket("ETH_USD", 10, 500))
	ethSource := pricefeed.NewStaticSource(price100, 8)
	env.feed.Register("ETH_USD", ethSource)

	cfg := env.engine.cfg
	cfg.MaxUserNotional = usd(150)
	env.engine.cfg = cfg

	require.NoError(t, env.engine.Deposit(1001, usd(200)))

	// 第一仓 $100 名义
	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)
	balanceAfterFirst := env.engine.GetBalance(1001)

	// 第二仓 $60 名义会超过 $150 上限 → 整体拒绝，余额分毫不动
	_, err = env.engine.OpenPosition(1001, "ETH_USD", usd(30), 2, true)
	assert.ErrorIs(t, err, ErrNotionalCap)
	assert.Equal(t, balanceAfterFirst, env.engine.GetBalance(1001))

	// $50 名义恰好到上限
	_, err = env.engine.OpenPosition(1001, "ETH_USD", usd(25), 2, true)
	require.NoError(t, err)
}

func TestOpenPosition_StalePrice(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	// 报价停留在 MaxPriceAge 之前
	env.source.SetQuote(pricefeed.RawQuote{
		Price:     price100,
		Decimals:  8,
		UpdatedAt: time.Now().Add(-time.Minute).UnixMilli(),
	})

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	assert.ErrorIs(t, err, ErrStalePrice)
	assert.Equal(t, usd(100), env.engine.GetBalance(1001))
}

// =============================================================================
// 平仓结算
// =============================================================================

// TestRoundTrip 入金→开仓→盈利平仓 全链路字面量验证
//
// 入金 $100，开 $50 保证金 2x 多仓 (名义 $100)，价格 +10%:
//   - 开仓费  $0.50 (保证金的 100bps)
//   - 盈亏    +$10.00 (名义 $100 × 10%)
//   - 平仓费  $0.50
//   - 利润税  $3.00 (盈利的 30%)
//   - 结算额  50 + 10 - 0.5 - 3 = $56.50
//   - 终余额  49.5 + 56.5 = $106.00
func TestRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)
	assert.Equal(t, int64(49_500_000), env.engine.GetBalance(1001))

	// 价格 $100 → $110
	env.source.Set(110 * PricePrecision)

	settlement, err := env.engine.ClosePosition(1001, testSymbol)
	require.NoError(t, err)
	assert.Equal(t, int64(56_500_000), settlement)
	assert.Equal(t, int64(106_000_000), env.engine.GetBalance(1001))

	// 平仓流水
	events := env.sink.ByType(journal.ChangeCloseCredit)
	require.Len(t, events, 1)
	assert.Equal(t, int64(56_500_000), events[0].Amount)
	assert.Equal(t, int64(49_500_000), events[0].BalanceBefore)
	assert.Equal(t, int64(106_000_000), events[0].BalanceAfter)
}

func TestClosePosition_ShortProfit(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, false)
	require.NoError(t, err)

	// 空头: 价格 -10% → +$10 盈利，结算与多头 +10% 对称
	env.source.Set(90 * PricePrecision)

	settlement, err := env.engine.ClosePosition(1001, testSymbol)
	require.NoError(t, err)
	assert.Equal(t, int64(56_500_000), settlement)
}

func TestClosePosition_LossCappedAtZero(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)

	// -60% → 亏损 $60 超过保证金 $50，结算归零
	env.source.Set(40 * PricePrecision)

	settlement, err := env.engine.ClosePosition(1001, testSymbol)
	require.NoError(t, err)
	assert.Equal(t, int64(0), settlement)

	// 余额不再变动，永不为负
	assert.Equal(t, int64(49_500_000), env.engine.GetBalance(1001))

	// 零结算不产生入账流水
	assert.Empty(t, env.sink.ByType(journal.ChangeCloseCredit))
}

func TestClosePosition_HoldingFee(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)

	// 回拨计费水位 3 个整周期 (白盒)
	key := posKey{userID: 1001, symbol: testSymbol}
	env.engine.positions[key].LastFeeTime -= 3 * time.Hour.Milliseconds()

	// 价格不变: 结算 = 50 - 0.5 (平仓费) - 1.5 (3周期×$0.50) = $48.00
	settlement, err := env.engine.ClosePosition(1001, testSymbol)
	require.NoError(t, err)
	assert.Equal(t, int64(48_000_000), settlement)
}

func TestClosePosition_NoPosition(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.ClosePosition(1001, testSymbol)
	assert.ErrorIs(t, err, ErrNoPosition)
}

// =============================================================================
// 清算
// =============================================================================

func TestLiquidatePosition(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)

	// 健康持仓不可清算
	err = env.engine.LiquidatePosition("keeper", 1001, testSymbol)
	assert.ErrorIs(t, err, ErrNotLiquidatable)

	// 维持需求 = $50 × 5% = $2.50
	// 多仓价值 50 + pnl <= 2.5 → pnl <= -47.5 → 价格 <= $52.50
	env.source.Set(52 * PricePrecision)

	require.NoError(t, env.engine.LiquidatePosition("keeper", 1001, testSymbol))

	// 保证金全额没收，余额不变
	assert.Equal(t, int64(49_500_000), env.engine.GetBalance(1001))

	// 终态: 持仓消失
	_, err = env.engine.GetPosition(1001, testSymbol)
	assert.ErrorIs(t, err, ErrNoPosition)

	// 不可重复清算
	err = env.engine.LiquidatePosition("keeper", 1001, testSymbol)
	assert.ErrorIs(t, err, ErrNoPosition)

	// 清算流水记录清算人
	events := env.sink.ByType(journal.ChangeLiquidation)
	require.Len(t, events, 1)
	assert.Equal(t, "keeper", events[0].RefID)
	assert.Equal(t, usd(50), events[0].Amount)
	assert.Equal(t, events[0].BalanceBefore, events[0].BalanceAfter)
}

func TestLiquidatePositions_Sweep(t *testing.T) {
	env := newTestEnv(t)

	// 三个用户: 两个多仓 (会被打爆)，一个空仓 (价格下跌反而健康)
	for _, user := range []int64{1001, 1002, 1003} {
		require.NoError(t, env.engine.Deposit(user, usd(100)))
	}
	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)
	_, err = env.engine.OpenPosition(1002, testSymbol, usd(50), 2, true)
	require.NoError(t, err)
	_, err = env.engine.OpenPosition(1003, testSymbol, usd(50), 2, false)
	require.NoError(t, err)

	// 价格 $52: 两个多仓越过清算线，空仓大幅盈利
	env.source.Set(52 * PricePrecision)

	count, err := env.engine.LiquidatePositions("keeper")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 空仓幸存
	view, err := env.engine.GetPosition(1003, testSymbol)
	require.NoError(t, err)
	assert.False(t, view.Liquidatable)

	// 再扫一遍: 没有可清算的了
	count, err = env.engine.LiquidatePositions("keeper")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// recordingShuffler 记录输入并反转顺序
type recordingShuffler struct {
	got []int64
}

func (s *recordingShuffler) Shuffle(users []int64) []int64 {
	s.got = append([]int64(nil), users...)
	out := make([]int64, len(users))
	for i, u := range users {
		out[len(users)-1-i] = u
	}
	return out
}

func TestLiquidatePositions_ShufflerApplied(t *testing.T) {
	env := newTestEnv(t)
	shuffler := &recordingShuffler{}
	env.engine.AttachShuffler(shuffler)

	for _, user := range []int64{1001, 1002} {
		require.NoError(t, env.engine.Deposit(user, usd(100)))
		_, err := env.engine.OpenPosition(user, testSymbol, usd(50), 2, true)
		require.NoError(t, err)
	}

	env.source.Set(52 * PricePrecision)

	count, err := env.engine.LiquidatePositions("keeper")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 洗牌器收到的是全部有持仓的用户
	assert.ElementsMatch(t, []int64{1001, 1002}, shuffler.got)
}

// =============================================================================
// 查询
// =============================================================================

func TestGetPosition_View(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Deposit(1001, usd(100)))

	_, err := env.engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)

	// 价格 +10%
	env.source.Set(110 * PricePrecision)

	view, err := env.engine.GetPosition(1001, testSymbol)
	require.NoError(t, err)

	assert.Equal(t, int64(110*PricePrecision), view.CurrentPrice)
	assert.Equal(t, usd(10), view.UnrealizedPnL)
	assert.Equal(t, int64(0), view.AccruedFees)
	assert.Equal(t, usd(10), view.NetPnL)
	assert.False(t, view.Liquidatable)

	// 保证金率 = (50+10)/100 = 60% = 6000bps
	assert.Equal(t, int64(6000), view.MarginRatioBps)

	// 清算价: 缓冲 = 50 - 2.5 = 47.5 → delta = $47.50 → $52.50
	assert.Equal(t, int64(5_250_000_000), view.LiquidationPrice)
}

func TestGetMarketSymbols(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddMarket("ETH_USD", 20, 500))

	assert.Equal(t, []string{"BTC_USD", "ETH_USD"}, env.engine.GetMarketSymbols())

	// 重复上线
	assert.ErrorIs(t, env.engine.AddMarket("ETH_USD", 20, 500), ErrMarketExists)
}

// =============================================================================
// 聚合持久化
// =============================================================================

// recordingRepo 记录 Update 调用顺序的内存存储
type recordingRepo struct {
	mu      sync.Mutex
	updates []*Market
}

func (r *recordingRepo) Create(_ context.Context, _ *Market) error { return nil }

func (r *recordingRepo) GetBySymbol(_ context.Context, _ string) (*Market, error) {
	return nil, ErrMarketNotFound
}

func (r *recordingRepo) Update(_ context.Context, market *Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, market.clone())
	return nil
}

func (r *recordingRepo) SetActive(_ context.Context, _ string, _ bool) error { return nil }

func (r *recordingRepo) List(_ context.Context) ([]*Market, error) { return nil, nil }

func (r *recordingRepo) ListActive(_ context.Context) ([]*Market, error) { return nil, nil }

func (r *recordingRepo) longUpdates(symbol string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.updates {
		if m.Symbol == symbol {
			out = append(out, m.TotalLongUSD)
		}
	}
	return out
}

func TestPersistAggregates_Ordered(t *testing.T) {
	source := pricefeed.NewStaticSource(price100, 8)
	feed := pricefeed.NewFeed()
	feed.Register(testSymbol, source)

	engine := NewEngine(DefaultConfig(), feed)
	repo := &recordingRepo{}
	engine.AttachRepository(repo)

	require.NoError(t, engine.AddMarket(testSymbol, 10, 500))
	require.NoError(t, engine.Deposit(1001, usd(100)))

	// 开仓 → TotalLongUSD=$100，平仓 → 回到 0
	_, err := engine.OpenPosition(1001, testSymbol, usd(50), 2, true)
	require.NoError(t, err)
	_, err = engine.ClosePosition(1001, testSymbol)
	require.NoError(t, err)

	// Close 排空写队列后，落库顺序必须与提交顺序一致——
	// 乱序落库会让旧快照覆盖新聚合
	engine.Close()
	assert.Equal(t, []int64{usd(100), 0}, repo.longUpdates(testSymbol))
}
