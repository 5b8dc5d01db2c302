// 文件: pkg/bridge/destination.go
// 跨链桥 - 目的侧网关
//
// 【入账模型】乐观预入账
// 收到消息即入账，不等待源链资产终局性——
// 传输通道至少一次投递，幂等由 nonce 兜底:
// 内存去重集合挡热路径，DB 唯一索引挡重启后的重放。
//
// 【换算】
// 结算资产 1:1 入账; 其他资产按价格源实时价折算成 USD，
// 以消息里的转账金额为准 (transferred amount authoritative)。

package bridge

import (
	"context"
	"errors"
	"log"
	"sync"

	"perpx.com/pkg/pricefeed"
	"perpx.com/pkg/risk"
)

var (
	// ErrNotConfigured 未挂接账本
	ErrNotConfigured = errors.New("bridge: gateway has no ledger configured")

	// ErrUnsupportedAsset token 没有入账路径
	ErrUnsupportedAsset = errors.New("bridge: unsupported asset")

	// ErrDuplicateDeposit nonce 已入账，本次投递为空操作
	ErrDuplicateDeposit = errors.New("bridge: duplicate deposit nonce")
)

// Ledger 入账目标 (由 perps.Engine 实现)
type Ledger interface {
	DepositFor(user int64, amount int64, from string) error
}

// DepositStore 充值记录持久化 (由 DepositRepo 实现)
type DepositStore interface {
	// InsertOnce 幂等插入，nonce 已存在时返回 false
	InsertOnce(ctx context.Context, msg *Message, usdAmount int64) (bool, error)

	// GetByNonce 按 nonce 查询，不存在返回 (nil, nil)
	GetByNonce(ctx context.Context, nonce int64) (*DepositRecord, error)
}

// PriceProvider 价格源 (资产折算用)
type PriceProvider interface {
	GetPrice(symbol string) (pricefeed.Quote, error)
}

// =============================================================================
// DestinationGateway - 目的侧网关
// =============================================================================

// DestinationGateway 目的侧入账网关
type DestinationGateway struct {
	mu sync.Mutex

	name   string // 在账本侧的授权身份
	ledger Ledger
	prices PriceProvider

	// 结算资产: 1:1 入账，无需折算
	settleToken string

	// 其他资产: token → 价格源 symbol
	assets map[string]string

	// nonce 去重
	seen map[int64]struct{}
	repo DepositStore // 可选持久化
}

// NewDestinationGateway 创建目的侧网关
//
// name 需要在账本侧 AuthorizeDepositor 登记后才能入账
func NewDestinationGateway(name, settleToken string) *DestinationGateway {
	return &DestinationGateway{
		name:        name,
		settleToken: settleToken,
		assets:      make(map[string]string),
		seen:        make(map[int64]struct{}),
	}
}

// AttachLedger 挂接账本
func (g *DestinationGateway) AttachLedger(ledger Ledger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ledger = ledger
}

// AttachPrices 挂接价格源
func (g *DestinationGateway) AttachPrices(prices PriceProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices = prices
}

// AttachRepo 挂接充值记录持久化
func (g *DestinationGateway) AttachRepo(repo DepositStore) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.repo = repo
}

// MapAsset 登记可折算资产的价格源 symbol
// 例: MapAsset("WBTC", "BTC_USD")
func (g *DestinationGateway) MapAsset(token, symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.assets[token] = symbol
}

// Name 网关身份
func (g *DestinationGateway) Name() string {
	return g.name
}

// =============================================================================
// 入账
// =============================================================================

// Receive 接收跨链消息并入账
//
// 失败语义:
//   - 未挂接账本: ErrNotConfigured (硬失败，消息可重投)
//   - token 无入账路径: ErrUnsupportedAsset
//   - nonce 已入账: ErrDuplicateDeposit (空操作)
//
// 【顺序约束】nonce 只在入账成功之后落档——
// 入账失败 (余额上限等) 时不留任何痕迹，源侧资产已进托管，
// 重投必须还能把这笔钱记上；先落档会把失败的充值永久锁死。
func (g *DestinationGateway) Receive(raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ledger == nil {
		return ErrNotConfigured
	}

	// 幂等: 内存集合挡热路径，DB 记录挡重启后的重放
	if _, ok := g.seen[msg.Nonce]; ok {
		return ErrDuplicateDeposit
	}
	if g.repo != nil {
		record, err := g.repo.GetByNonce(context.Background(), msg.Nonce)
		if err != nil {
			return err
		}
		if record != nil {
			g.seen[msg.Nonce] = struct{}{}
			return ErrDuplicateDeposit
		}
	}

	usdAmount, err := g.convert(msg.Token, msg.Amount)
	if err != nil {
		return err
	}

	if err := g.ledger.DepositFor(msg.User, usdAmount, g.name); err != nil {
		return err
	}

	// 入账已成立，先写内存防线再落档;
	// 落档失败只记日志——本进程内 seen 仍然挡重放
	g.seen[msg.Nonce] = struct{}{}
	if g.repo != nil {
		if _, err := g.repo.InsertOnce(context.Background(), msg, usdAmount); err != nil {
			log.Printf("[Bridge] record deposit failed: nonce=%d, err=%v", msg.Nonce, err)
		}
	}
	return nil
}

// convert 折算为 6 位小数 USD (调用方持锁)
func (g *DestinationGateway) convert(token string, amount int64) (int64, error) {
	if token == g.settleToken {
		return amount, nil
	}

	symbol, ok := g.assets[token]
	if !ok {
		return 0, ErrUnsupportedAsset
	}
	if g.prices == nil {
		return 0, ErrUnsupportedAsset
	}

	quote, err := g.prices.GetPrice(symbol)
	if err != nil {
		return 0, err
	}

	// token 6位小数 × 价格 8位小数 / 1e8 → 6位小数 USD
	return risk.MulDiv(amount, quote.Price, pricefeed.PricePrecision), nil
}
