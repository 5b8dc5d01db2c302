// 文件: pkg/market/ticker.go
// 模拟行情生成器
//
// 用几何布朗运动 (GBM) 生成逼真价格序列，喂给 pricefeed 的行情流源。
// 内部用 float64 演化，输出统一转成 8 位小数定点——
// 定点转换只发生在边界，账本内部看不到浮点。

package market

import (
	"math"
	"math/rand"
	"time"
)

// PricePrecision 输出价格精度 (8 位小数)
const PricePrecision = 100_000_000

// Tick 一次行情更新
type Tick struct {
	Symbol    string
	Price     int64 // 8 位小数定点
	UpdatedAt int64 // Unix 毫秒
}

// Ticker 模拟行情生成器
type Ticker struct {
	Symbol     string
	Interval   time.Duration
	Volatility float64 // 年化波动率

	price       float64
	lastUpdated time.Time

	stopChan chan struct{}

	// 带缓冲 + 非阻塞发送: 下游慢时丢行情，绝不卡住生成循环
	outChan chan Tick
}

// NewTicker 创建行情生成器
func NewTicker(symbol string, startPrice float64, interval time.Duration) *Ticker {
	return &Ticker{
		Symbol:      symbol,
		Interval:    interval,
		Volatility:  0.5, // 加密资产典型年化波动率
		price:       startPrice,
		lastUpdated: time.Now(),
		stopChan:    make(chan struct{}),
		outChan:     make(chan Tick, 100),
	}
}

// Start 启动生成循环，返回只读行情通道
func (t *Ticker) Start() <-chan Tick {
	go t.loop()
	return t.outChan
}

// Stop 停止生成器
func (t *Ticker) Stop() {
	close(t.stopChan)
}

func (t *Ticker) loop() {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	defer close(t.outChan)

	// 独立随机源，避开全局 rand 的锁
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-t.stopChan:
			return

		case now := <-ticker.C:
			// GBM: S_new = S × exp(-0.5σ²dt + σ√dt·Z), 无漂移
			dt := now.Sub(t.lastUpdated).Hours() / 24 / 365
			if dt <= 0 {
				dt = 1e-9
			}

			sigma := t.Volatility
			z := r.NormFloat64()
			t.price *= math.Exp(-0.5*sigma*sigma*dt + sigma*math.Sqrt(dt)*z)
			t.lastUpdated = now

			tick := Tick{
				Symbol:    t.Symbol,
				Price:     int64(t.price * PricePrecision),
				UpdatedAt: now.UnixMilli(),
			}

			select {
			case t.outChan <- tick:
			default:
				// 通道满，丢弃本条行情
			}
		}
	}
}
