// 文件: pkg/perps/mysql_repo.go
// 市场规格 MySQL 存储实现
//
// 【设计】
// - 使用 GORM 作为 ORM
// - symbol 唯一索引兜底并发创建
// - 所有操作带 context 支持超时控制

package perps

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// 确保实现了接口
var _ MarketRepository = (*MySQLMarketRepository)(nil)

// MySQLMarketRepository MySQL 实现
type MySQLMarketRepository struct {
	db *gorm.DB
}

// NewMySQLMarketRepository 创建 MySQL 存储
func NewMySQLMarketRepository(db *gorm.DB) *MySQLMarketRepository {
	return &MySQLMarketRepository{db: db}
}

// Create 创建市场
func (r *MySQLMarketRepository) Create(ctx context.Context, market *Market) error {
	now := time.Now().UnixMilli()
	market.CreatedAt = now
	market.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(market).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrMarketExists
		}
		return err
	}
	return nil
}

// GetBySymbol 根据 symbol 查询
func (r *MySQLMarketRepository) GetBySymbol(ctx context.Context, symbol string) (*Market, error) {
	var market Market
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		First(&market).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMarketNotFound
		}
		return nil, err
	}
	return &market, nil
}

// Update 更新市场
func (r *MySQLMarketRepository) Update(ctx context.Context, market *Market) error {
	market.UpdatedAt = time.Now().UnixMilli()

	result := r.db.WithContext(ctx).
		Model(&Market{}).
		Where("symbol = ?", market.Symbol).
		Updates(map[string]interface{}{
			"max_leverage":    market.MaxLeverage,
			"maint_margin_bps": market.MaintMarginBps,
			"total_long_usd":  market.TotalLongUSD,
			"total_short_usd": market.TotalShortUSD,
			"is_active":       market.IsActive,
			"updated_at":      market.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMarketNotFound
	}
	return nil
}

// SetActive 更新启停状态
func (r *MySQLMarketRepository) SetActive(ctx context.Context, symbol string, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&Market{}).
		Where("symbol = ?", symbol).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now().UnixMilli(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMarketNotFound
	}
	return nil
}

// List 列出所有市场
func (r *MySQLMarketRepository) List(ctx context.Context) ([]*Market, error) {
	var markets []*Market
	err := r.db.WithContext(ctx).Find(&markets).Error
	return markets, err
}

// ListActive 列出可开仓市场
func (r *MySQLMarketRepository) ListActive(ctx context.Context) ([]*Market, error) {
	var markets []*Market
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&markets).Error
	return markets, err
}

// isDuplicateKeyError 判断是否为重复键错误
// MySQL error code 1062 = Duplicate entry
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
