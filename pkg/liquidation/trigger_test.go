// 文件: pkg/liquidation/trigger_test.go
// 清算触发器测试

package liquidation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSweeper 记录扫描次数
type mockSweeper struct {
	calls   int
	callers []string
	result  int
}

func (m *mockSweeper) LiquidatePositions(caller string) (int, error) {
	m.calls++
	m.callers = append(m.callers, caller)
	return m.result, nil
}

// =============================================================================
// IntervalTrigger
// =============================================================================

func TestIntervalTrigger_Throttle(t *testing.T) {
	sweeper := &mockSweeper{result: 3}
	trigger := NewIntervalTrigger(sweeper, "keeper", time.Hour)

	// 首次触发立即执行
	count, err := trigger.TriggerSweep()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, sweeper.calls)

	// 间隔未到: 快速失败，不触碰 sweeper
	_, err = trigger.TriggerSweep()
	assert.ErrorIs(t, err, ErrTooSoon)
	assert.Equal(t, 1, sweeper.calls)

	// 回拨水位模拟间隔已过 (白盒)
	trigger.mu.Lock()
	trigger.lastSweep = time.Now().Add(-2 * time.Hour)
	trigger.mu.Unlock()

	count, err = trigger.TriggerSweep()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 2, sweeper.calls)
}

func TestIntervalTrigger_CallerName(t *testing.T) {
	sweeper := &mockSweeper{}
	trigger := NewIntervalTrigger(sweeper, "interval_keeper", time.Hour)

	_, err := trigger.TriggerSweep()
	require.NoError(t, err)
	assert.Equal(t, []string{"interval_keeper"}, sweeper.callers)
}

func TestIntervalTrigger_DefaultInterval(t *testing.T) {
	trigger := NewIntervalTrigger(&mockSweeper{}, "keeper", 0)
	assert.Equal(t, DefaultInterval, trigger.interval)
}

func TestIntervalTrigger_StartStop(t *testing.T) {
	sweeper := &mockSweeper{}
	trigger := NewIntervalTrigger(sweeper, "keeper", time.Hour)

	trigger.Start()
	trigger.Start() // 重复启动无害
	trigger.Stop()
	trigger.Stop() // 重复停止无害
}

// =============================================================================
// EventTrigger
// =============================================================================

func TestEventTrigger_Cooldown(t *testing.T) {
	sweeper := &mockSweeper{result: 1}
	trigger := NewEventTrigger(sweeper, "event_keeper", time.Minute)

	// 首个事件触发扫描
	require.NoError(t, trigger.OnActivity("perps.position.opened", nil))
	assert.Equal(t, 1, sweeper.calls)

	// 事件风暴: 冷却窗口内全部丢弃
	for i := 0; i < 10; i++ {
		require.NoError(t, trigger.OnActivity("perps.position.closed", nil))
	}
	assert.Equal(t, 1, sweeper.calls)

	// 冷却结束后恢复触发
	trigger.mu.Lock()
	trigger.lastSweep = time.Now().Add(-2 * time.Minute)
	trigger.mu.Unlock()

	require.NoError(t, trigger.OnActivity("perps.position.opened", nil))
	assert.Equal(t, 2, sweeper.calls)
}

func TestEventTrigger_CallerName(t *testing.T) {
	sweeper := &mockSweeper{}
	trigger := NewEventTrigger(sweeper, "event_keeper", time.Minute)

	require.NoError(t, trigger.OnActivity("perps.position.opened", nil))
	assert.Equal(t, []string{"event_keeper"}, sweeper.callers)
}
