// 文件: pkg/market/broadcaster.go
// 行情广播器 (Fan-out)
//
// 一条行情分发给 N 个订阅者: 价格源、清算调度、行情 UI。
// 隔离性: 某个订阅者处理慢，行情直接丢弃，不影响其他订阅者。

package market

import "sync"

// Broadcaster 行情广播器
type Broadcaster struct {
	// 读多写少: Broadcast 每秒上万次，Subscribe 只在启动时
	mu          sync.RWMutex
	subscribers []chan Tick
}

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe 订阅行情
// 缓冲 1024 条，给慢订阅者约 100ms 的喘息窗口
func (b *Broadcaster) Subscribe() <-chan Tick {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Tick, 1024)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Broadcast 广播一条行情 (热路径)
func (b *Broadcaster) Broadcast(tick Tick) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- tick:
		default:
			// 订阅者通道满，丢弃
		}
	}
}

// Close 关闭所有订阅者通道
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
