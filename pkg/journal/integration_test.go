// 文件: pkg/journal/integration_test.go
// 流水冷路径集成测试
//
// 真实 Kafka + MySQL: KafkaSink → Kafka → DBWriter → 流水表。
// 本地服务缺席时跳过。消费者组每次运行用独立 ID，从最新 offset 起消费。

package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"perpx.com/pkg/ident"
	"perpx.com/pkg/kafka"
)

const (
	testDSN         = "root:123456@tcp(127.0.0.1:3307)/perpx?charset=utf8mb4&parseTime=True&loc=Local"
	testKafkaBroker = "localhost:9092"
)

func setupJournalDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("skipping test; mysql not available: %v", err)
	}

	db.AutoMigrate(&Record{})
	return db
}

func TestColdPath_Integration(t *testing.T) {
	db := setupJournalDB(t)
	repo := NewRepo(db)

	producer, err := kafka.NewProducer(kafka.DefaultProducerConfig([]string{testKafkaBroker}))
	if err != nil {
		t.Skipf("skipping test; kafka not available: %v", err)
	}
	defer producer.Close()

	cfg := DefaultDBWriterConfig([]string{testKafkaBroker})
	// 独立消费者组: 每次运行从最新 offset 起，不吃历史积压
	cfg.GroupID = fmt.Sprintf("perps_journal_writer_it_%d", time.Now().UnixNano())

	writer, err := NewDBWriter(cfg, repo)
	require.NoError(t, err)
	writer.Start(100 * time.Millisecond)
	defer writer.Stop()

	// 等消费者组完成 rebalance 再发事件
	time.Sleep(2 * time.Second)

	sink := NewKafkaSink(producer)
	eventID := ident.NextID()
	event := &Event{
		EventID:       eventID,
		UserID:        9201,
		ChangeType:    ChangeDeposit,
		Amount:        100_000_000,
		BalanceBefore: 0,
		BalanceAfter:  100_000_000,
		CreatedAt:     time.Now(),
	}
	sink.Emit(event)

	// Kafka → DBWriter → MySQL
	require.Eventually(t, func() bool {
		record, err := repo.GetByEventID(context.Background(), eventID)
		return err == nil && record != nil
	}, 10*time.Second, 200*time.Millisecond)

	record, err := repo.GetByEventID(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(9201), record.UserID)
	assert.Equal(t, ChangeDeposit, record.ChangeType)
	assert.Equal(t, int64(100_000_000), record.Amount)

	// 重放同一事件: event_id 唯一键兜底，只留一条流水
	sink.Emit(event)
	require.Eventually(t, func() bool {
		return writer.Stats().ReceivedCount >= 2
	}, 10*time.Second, 200*time.Millisecond)
	time.Sleep(500 * time.Millisecond) // 等最后一个批次刷出

	var count int64
	require.NoError(t, db.Model(&Record{}).Where("event_id = ?", eventID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
