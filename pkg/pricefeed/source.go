// 文件: pkg/pricefeed/source.go
// 价格源实现
//
// - StaticSource: 手动设置价格，用于测试和管理操作
// - StreamSource: 订阅行情流 (pkg/market 的广播)，缓存最新报价

package pricefeed

import (
	"sync"
	"time"
)

// =============================================================================
// StaticSource - 静态价格源
// =============================================================================

// StaticSource 手动设置的价格源
type StaticSource struct {
	mu    sync.RWMutex
	quote RawQuote
}

// NewStaticSource 创建静态价格源
// decimals: 源精度 (8 = 已是归一化精度)
func NewStaticSource(price int64, decimals int) *StaticSource {
	return &StaticSource{
		quote: RawQuote{
			Price:     price,
			Decimals:  decimals,
			UpdatedAt: time.Now().UnixMilli(),
		},
	}
}

// Set 更新价格，时间戳取当前时刻
func (s *StaticSource) Set(price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote.Price = price
	s.quote.UpdatedAt = time.Now().UnixMilli()
}

// SetQuote 完整设置原始报价 (测试时效性/非法值用)
func (s *StaticSource) SetQuote(q RawQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = q
}

// Quote 实现 Source 接口
func (s *StaticSource) Quote() (RawQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote, nil
}

// =============================================================================
// StreamSource - 行情流价格源
// =============================================================================

// StreamSource 由外部行情流推送更新的价格源
//
// 典型接法:
//
//	src := pricefeed.NewStreamSource(8)
//	feed.Register("BTC_USD", src)
//	go func() {
//	    for q := range broadcaster.Subscribe() {
//	        src.Push(q.Price, q.UpdatedAt)
//	    }
//	}()
type StreamSource struct {
	mu       sync.RWMutex
	decimals int
	price    int64
	updated  int64
}

// NewStreamSource 创建行情流价格源
func NewStreamSource(decimals int) *StreamSource {
	return &StreamSource{decimals: decimals}
}

// Push 推送一次价格更新
func (s *StreamSource) Push(price, updatedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
	s.updated = updatedAt
}

// Quote 实现 Source 接口
// 未收到任何推送时返回零值报价，由 Feed 判定为 ErrInvalidQuote
func (s *StreamSource) Quote() (RawQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RawQuote{Price: s.price, Decimals: s.decimals, UpdatedAt: s.updated}, nil
}
