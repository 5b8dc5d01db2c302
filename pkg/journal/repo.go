// 文件: pkg/journal/repo.go
// 流水仓库 (GORM 实现)
//
// 幂等写入: event_id 唯一索引 + INSERT IGNORE，
// Kafka 重放同一事件不会产生重复流水。

package journal

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo 流水仓库
type Repo struct {
	db *gorm.DB
}

// NewRepo 创建流水仓库
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Insert 插入单条流水 (幂等)
func (r *Repo) Insert(ctx context.Context, e *Event) error {
	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		Create(recordFromEvent(e)).Error
}

// BatchInsert 批量插入流水 (幂等)
func (r *Repo) BatchInsert(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	records := make([]*Record, 0, len(events))
	for _, e := range events {
		records = append(records, recordFromEvent(e))
	}

	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		CreateInBatches(records, 100).
		Error
}

// GetByEventID 按幂等键查询
func (r *Repo) GetByEventID(ctx context.Context, eventID int64) (*Record, error) {
	var record Record
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&record).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByUser 查询用户流水 (按时间倒序)
func (r *Repo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Record, error) {
	var records []*Record
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error

	return records, err
}

func recordFromEvent(e *Event) *Record {
	return &Record{
		EventID:       e.EventID,
		UserID:        e.UserID,
		Symbol:        e.Symbol,
		ChangeType:    e.ChangeType,
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		RefID:         e.RefID,
		CreatedAt:     e.CreatedAt,
	}
}
