// 文件: pkg/liquidation/event_trigger.go
// 清算调度 - 事件触发器
//
// 订阅账本的持仓活动事件 (开仓/平仓)，活动出现后尽快补扫一次。
// 定时触发器兜底，事件触发器降低从"越过清算线"到"被清算"的延迟。
//
// 【防抖】
// 事件风暴下同一冷却窗口只扫一次，多余事件直接丢弃——
// 扫描是全量的，丢事件不丢清算机会。

package liquidation

import (
	"log"
	"sync"
	"time"
)

// DefaultCooldown 事件触发默认冷却窗口
const DefaultCooldown = time.Minute

// EventTrigger 事件清算触发器
//
// 接法 (NATS):
//
//	trigger := liquidation.NewEventTrigger(engine, "event_keeper", time.Minute)
//	sub, _ := nats.NewSubscriber(url, trigger.OnActivity)
//	sub.Subscribe(nats.ActivitySubjects()...)
type EventTrigger struct {
	sweeper  Sweeper
	caller   string
	cooldown time.Duration

	mu        sync.Mutex
	lastSweep time.Time
}

// NewEventTrigger 创建事件触发器
func NewEventTrigger(sweeper Sweeper, caller string, cooldown time.Duration) *EventTrigger {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &EventTrigger{
		sweeper:  sweeper,
		caller:   caller,
		cooldown: cooldown,
	}
}

// OnActivity 持仓活动事件回调 (nats.MessageHandler 签名)
//
// 冷却窗口内的事件静默丢弃，永远返回 nil——
// 触发器不解析载荷，任何活动事件都只是"该扫一扫了"的信号。
func (t *EventTrigger) OnActivity(subject string, data []byte) error {
	t.mu.Lock()
	now := time.Now()
	if !t.lastSweep.IsZero() && now.Sub(t.lastSweep) < t.cooldown {
		t.mu.Unlock()
		return nil
	}
	t.lastSweep = now
	t.mu.Unlock()

	count, err := t.sweeper.LiquidatePositions(t.caller)
	if err != nil {
		log.Printf("[Liquidation] event sweep failed: subject=%s, err=%v", subject, err)
		return nil
	}
	if count > 0 {
		log.Printf("[Liquidation] event sweep done: subject=%s, liquidated=%d", subject, count)
	}
	return nil
}
