// 文件: pkg/pricefeed/feed.go
// 价格源聚合 - 统一 8 位小数精度
//
// 【职责】
// 1. 管理 symbol → 价格源 的注册表
// 2. 把不同精度的外部报价归一化到 8 位小数
// 3. 提供时效性检查 (staleness)
//
// 【设计】
// 读路径是纯读操作，无副作用；只有 Register 会修改映射。
// 底层价格源返回非正价格或零时间戳时，向上抛出明确错误，
// 绝不回退到陈旧值或零值。

package pricefeed

import (
	"errors"
	"sync"
	"time"
)

// PricePrecision 归一化后的价格精度 (8 位小数)
const PricePrecision = 100_000_000

var (
	// ErrUnknownMarket 未注册价格源
	ErrUnknownMarket = errors.New("pricefeed: unknown market")

	// ErrInvalidQuote 底层报价非法 (价格非正或时间戳为零)
	ErrInvalidQuote = errors.New("pricefeed: invalid quote")
)

// =============================================================================
// 报价类型
// =============================================================================

// RawQuote 价格源的原始报价
type RawQuote struct {
	Price     int64 // 源精度下的定点价格
	Decimals  int   // 源精度 (小数位数)
	UpdatedAt int64 // 更新时间 (Unix 毫秒)
}

// Quote 归一化后的报价 (8 位小数)
type Quote struct {
	Symbol    string
	Price     int64 // 8 位小数定点价格
	UpdatedAt int64 // Unix 毫秒
}

// Source 价格源接口
//
// 由具体预言机适配器实现 (静态源、行情流源等)
type Source interface {
	// Quote 返回当前原始报价
	Quote() (RawQuote, error)
}

// =============================================================================
// Feed - 价格聚合器
// =============================================================================

// Feed 价格聚合器
type Feed struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewFeed 创建价格聚合器
func NewFeed() *Feed {
	return &Feed{sources: make(map[string]Source)}
}

// Register 注册价格源 (管理操作，覆盖旧源)
func (f *Feed) Register(symbol string, source Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[symbol] = source
}

// Symbols 已注册的 symbol 列表
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.sources))
	for s := range f.sources {
		out = append(out, s)
	}
	return out
}

// GetPrice 获取归一化报价
//
// 失败语义:
//   - 无价格源: ErrUnknownMarket
//   - 价格非正 / 时间戳为零: ErrInvalidQuote
func (f *Feed) GetPrice(symbol string) (Quote, error) {
	f.mu.RLock()
	source, ok := f.sources[symbol]
	f.mu.RUnlock()

	if !ok {
		return Quote{}, ErrUnknownMarket
	}

	raw, err := source.Quote()
	if err != nil {
		return Quote{}, err
	}
	if raw.Price <= 0 || raw.UpdatedAt == 0 {
		return Quote{}, ErrInvalidQuote
	}

	return Quote{
		Symbol:    symbol,
		Price:     normalize(raw.Price, raw.Decimals),
		UpdatedAt: raw.UpdatedAt,
	}, nil
}

// IsStale 报价是否超过最大允许时效
func (f *Feed) IsStale(symbol string, maxAge time.Duration) (bool, error) {
	quote, err := f.GetPrice(symbol)
	if err != nil {
		return false, err
	}
	age := time.Now().UnixMilli() - quote.UpdatedAt
	return age > maxAge.Milliseconds(), nil
}

// normalize 把 decimals 位小数的价格缩放到 8 位小数
func normalize(price int64, decimals int) int64 {
	const target = 8
	for decimals < target {
		price *= 10
		decimals++
	}
	for decimals > target {
		price /= 10
		decimals--
	}
	return price
}
