// 文件: pkg/journal/sink.go
// 流水出口实现
//
// - KafkaSink: 生产环境，异步发到 Kafka
// - MemorySink: 测试/模拟环境，留在内存里供断言

package journal

import (
	"log"
	"sync"

	"perpx.com/pkg/kafka"
)

// =============================================================================
// KafkaSink
// =============================================================================

// KafkaSink 把流水事件发到 Kafka
type KafkaSink struct {
	producer *kafka.Producer
}

// NewKafkaSink 创建 Kafka 流水出口
func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

// Emit 异步发送，发送失败只记日志 (冷路径不反压账本)
func (s *KafkaSink) Emit(e *Event) {
	if err := s.producer.Send(e); err != nil {
		log.Printf("[Journal] emit failed: event_id=%d, err=%v", e.EventID, err)
	}
}

// =============================================================================
// MemorySink
// =============================================================================

// MemorySink 内存流水出口 (测试用)
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemorySink 创建内存流水出口
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit 实现 Sink
func (s *MemorySink) Emit(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events 返回已记录的流水副本
func (s *MemorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType 按变更类型过滤
func (s *MemorySink) ByType(t ChangeType) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.ChangeType == t {
			out = append(out, e)
		}
	}
	return out
}
