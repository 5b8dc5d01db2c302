// 文件: pkg/perps/spec.go
// 永续市场规格定义
//
// 设计目标:
// 1. 金额全部用 int64 定点数，避免浮点精度问题
// 2. 规格字段带 GORM tag，直接作为存储模型
// 3. 账本持有权威内存副本，DB 只做持久化

package perps

import "time"

// =============================================================================
// 精度常量
// =============================================================================

const (
	// UsdPrecision 金额精度: 6 位小数 USD
	// 例: $1.50 = 1_500_000
	UsdPrecision = 1_000_000

	// PricePrecision 价格精度: 8 位小数
	// 例: $50000 = 5_000_000_000_000
	PricePrecision = 100_000_000

	// RatePrecision 费率/保证金率精度 (万分比)
	RatePrecision = 10000
)

// =============================================================================
// Market - 市场规格
// =============================================================================

// Market 永续市场规格
//
// 【设计说明】
// 1. 规格参数 (杠杆上限、维持保证金率) 上线后基本不变
// 2. 多空总敞口是账本运行时聚合，持久化仅作观测用
// 3. IsActive=false 时禁止开仓，已有仓位仍可平仓/清算
type Market struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	Symbol string `gorm:"column:symbol;type:varchar(32);uniqueIndex"`

	// ===== 规格参数 =====
	MaxLeverage    int   `gorm:"column:max_leverage"`
	MaintMarginBps int64 `gorm:"column:maint_margin_bps"` // 维持保证金率 (万分比)

	// ===== 多空总敞口 (6位小数 USD) =====
	TotalLongUSD  int64 `gorm:"column:total_long_usd"`
	TotalShortUSD int64 `gorm:"column:total_short_usd"`

	// ===== 生命周期 =====
	IsActive  bool  `gorm:"column:is_active;index"`
	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

// TableName GORM 表名
func (Market) TableName() string {
	return "perp_markets"
}

// clone 规格副本 (对外查询返回副本，内部状态不外泄)
func (m *Market) clone() *Market {
	c := *m
	return &c
}

// =============================================================================
// Config - 账本配置
// =============================================================================

// Config 账本风控配置
//
// 上限是协议风控参数，由部署方按环境配置
type Config struct {
	// MaxUserBalance 单用户余额上限 (6位小数 USD)
	MaxUserBalance int64

	// MaxUserNotional 单用户名义敞口总上限 (6位小数 USD)
	MaxUserNotional int64

	// MaxPriceAge 报价最大时效，超过视为陈旧拒绝操作
	// 0 表示不检查
	MaxPriceAge time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxUserBalance:  1_000_000 * UsdPrecision,  // $1M
		MaxUserNotional: 10_000_000 * UsdPrecision, // $10M
		MaxPriceAge:     30 * time.Second,
	}
}
