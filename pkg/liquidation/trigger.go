// 文件: pkg/liquidation/trigger.go
// 清算调度 - 定时触发器
//
// 【职责边界】
// 触发器只决定"什么时候扫"，不关心"扫哪些持仓"——
// 资格判定和执行全部在账本的 LiquidatePositions 里。
//
// 【节流语义】
// 同一触发器两次扫描之间至少间隔 Interval，
// 提前触发快速失败返回 ErrTooSoon，不排队不等待。

package liquidation

import (
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultInterval 默认全量扫描间隔
const DefaultInterval = 4 * time.Hour

// ErrTooSoon 距上次扫描不足一个间隔
var ErrTooSoon = errors.New("liquidation: sweep interval not elapsed")

// Sweeper 清算扫描入口 (由账本实现)
type Sweeper interface {
	// LiquidatePositions 扫描全部未平仓持仓，清算满足条件的，返回清算数量
	LiquidatePositions(caller string) (int, error)
}

// =============================================================================
// IntervalTrigger - 定时触发器
// =============================================================================

// IntervalTrigger 定时清算触发器
type IntervalTrigger struct {
	sweeper  Sweeper
	caller   string
	interval time.Duration

	mu        sync.Mutex
	lastSweep time.Time

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewIntervalTrigger 创建定时触发器
// caller 会出现在清算事件里，标识触发来源
func NewIntervalTrigger(sweeper Sweeper, caller string, interval time.Duration) *IntervalTrigger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &IntervalTrigger{
		sweeper:  sweeper,
		caller:   caller,
		interval: interval,
	}
}

// TriggerSweep 手动触发一次扫描
//
// 距上次扫描不足 interval 时快速失败 (ErrTooSoon)。
// 扫描本身的耗时计入下一个间隔的起点。
func (t *IntervalTrigger) TriggerSweep() (int, error) {
	t.mu.Lock()
	now := time.Now()
	if !t.lastSweep.IsZero() && now.Sub(t.lastSweep) < t.interval {
		t.mu.Unlock()
		return 0, ErrTooSoon
	}
	t.lastSweep = now
	t.mu.Unlock()

	return t.sweeper.LiquidatePositions(t.caller)
}

// =============================================================================
// 后台循环
// =============================================================================

// Start 启动后台定时扫描
func (t *IntervalTrigger) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.runLoop()
	}()

	log.Printf("[Liquidation] interval trigger started: interval=%v", t.interval)
}

// Stop 停止后台扫描
func (t *IntervalTrigger) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
	log.Println("[Liquidation] interval trigger stopped")
}

func (t *IntervalTrigger) runLoop() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			count, err := t.TriggerSweep()
			if err != nil && !errors.Is(err, ErrTooSoon) {
				log.Printf("[Liquidation] sweep failed: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("[Liquidation] sweep done: liquidated=%d", count)
			}
		}
	}
}
