// 文件: pkg/bridge/repo.go
// 充值记录仓库 (GORM 实现)
//
// nonce 唯一索引是幂等入账的持久化防线:
// 网关重启后内存去重集合清空，靠这里挡住重放。

package bridge

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DepositRecord 充值记录
type DepositRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Nonce     int64  `gorm:"column:nonce;uniqueIndex"`
	UserID    int64  `gorm:"column:user_id;index"`
	Token     string `gorm:"column:token;type:varchar(16)"`
	Amount    int64  `gorm:"column:amount"`     // 原始 token 金额
	UsdAmount int64  `gorm:"column:usd_amount"` // 折算后入账金额
	SentAt    int64  `gorm:"column:sent_at"`
	CreatedAt int64  `gorm:"column:created_at"`
}

// TableName GORM 表名
func (DepositRecord) TableName() string {
	return "bridge_deposits"
}

// DepositRepo 充值记录仓库
type DepositRepo struct {
	db *gorm.DB
}

// NewDepositRepo 创建充值记录仓库
func NewDepositRepo(db *gorm.DB) *DepositRepo {
	return &DepositRepo{db: db}
}

// InsertOnce 幂等插入充值记录
//
// 返回 false 表示 nonce 已存在 (INSERT IGNORE 零行生效)
func (r *DepositRepo) InsertOnce(ctx context.Context, msg *Message, usdAmount int64) (bool, error) {
	record := &DepositRecord{
		Nonce:     msg.Nonce,
		UserID:    msg.User,
		Token:     msg.Token,
		Amount:    msg.Amount,
		UsdAmount: usdAmount,
		SentAt:    msg.SentAt,
		CreatedAt: time.Now().UnixMilli(),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		Create(record)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByNonce 按 nonce 查询
func (r *DepositRepo) GetByNonce(ctx context.Context, nonce int64) (*DepositRecord, error) {
	var record DepositRecord
	err := r.db.WithContext(ctx).
		Where("nonce = ?", nonce).
		First(&record).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByUser 查询用户充值记录
func (r *DepositRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]*DepositRecord, error) {
	var records []*DepositRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
