// 文件: pkg/journal/writer.go
// 流水落库写入器
//
// 消费 Kafka 流水事件，批量写入 MySQL:
// - 批量写入提高吞吐
// - event_id 唯一键保证幂等，重放安全
// - 处理失败不中断消费

package journal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"perpx.com/pkg/kafka"
)

// =============================================================================
// DBWriter - 流水落库写入器
// =============================================================================

// DBWriter 流水落库写入器
type DBWriter struct {
	repo     *Repo
	consumer *kafka.Consumer

	// 批量缓冲
	buffer    []*Event
	bufferMu  sync.Mutex
	batchSize int
	flushCh   chan struct{}

	// 统计
	statsMu sync.Mutex
	stats   DBWriterStats

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DBWriterStats 写入统计
type DBWriterStats struct {
	ReceivedCount int64 // 接收数量
	WrittenCount  int64 // 写入数量
	ErrorCount    int64 // 错误数量
	BatchCount    int64 // 批次数量
}

// DBWriterConfig 配置
type DBWriterConfig struct {
	Brokers       []string      // Kafka brokers
	GroupID       string        // 消费者组
	BatchSize     int           // 批量大小
	FlushInterval time.Duration // 刷新间隔
}

// DefaultDBWriterConfig 默认配置
func DefaultDBWriterConfig(brokers []string) DBWriterConfig {
	return DBWriterConfig{
		Brokers:       brokers,
		GroupID:       "perps_journal_writer",
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
	}
}

// NewDBWriter 创建写入器
func NewDBWriter(cfg DBWriterConfig, repo *Repo) (*DBWriter, error) {
	ctx, cancel := context.WithCancel(context.Background())

	w := &DBWriter{
		repo:      repo,
		buffer:    make([]*Event, 0, cfg.BatchSize),
		batchSize: cfg.BatchSize,
		flushCh:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	consumerCfg := kafka.DefaultConsumerConfig(
		cfg.Brokers,
		cfg.GroupID,
		[]string{TopicJournalEvents},
	)

	consumer, err := kafka.NewConsumer(consumerCfg, w.handleMessage)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	w.consumer = consumer

	return w, nil
}

// =============================================================================
// 消息处理
// =============================================================================

// handleMessage 处理单条消息
func (w *DBWriter) handleMessage(topic string, key, value []byte) error {
	var event Event
	if err := event.FromJSON(value); err != nil {
		w.addError()
		return fmt.Errorf("unmarshal event: %w", err)
	}

	w.statsMu.Lock()
	w.stats.ReceivedCount++
	w.statsMu.Unlock()

	// 加入缓冲
	w.bufferMu.Lock()
	w.buffer = append(w.buffer, &event)
	shouldFlush := len(w.buffer) >= w.batchSize
	w.bufferMu.Unlock()

	if shouldFlush {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}

	return nil
}

// =============================================================================
// 批量写入
// =============================================================================

// flush 刷新缓冲写入数据库
func (w *DBWriter) flush() {
	w.bufferMu.Lock()
	events := w.buffer
	w.buffer = make([]*Event, 0, w.batchSize)
	w.bufferMu.Unlock()

	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.repo.BatchInsert(ctx, events); err != nil {
		w.addError()
		log.Printf("[Journal] batch insert error: %v", err)
		return
	}

	w.statsMu.Lock()
	w.stats.WrittenCount += int64(len(events))
	w.stats.BatchCount++
	w.statsMu.Unlock()
}

func (w *DBWriter) addError() {
	w.statsMu.Lock()
	w.stats.ErrorCount++
	w.statsMu.Unlock()
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动写入器
func (w *DBWriter) Start(flushInterval time.Duration) {
	w.consumer.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				w.flush() // 最后刷新一次
				return
			case <-ticker.C:
				w.flush()
			case <-w.flushCh:
				w.flush()
			}
		}
	}()
}

// Stop 停止写入器
func (w *DBWriter) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.consumer.Stop()
}

// Stats 获取统计
func (w *DBWriter) Stats() DBWriterStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}
