// 文件: pkg/risk/model.go
// 风险计算 - 输入快照定义
//
// 【设计】
// 风险计算只读快照、只返回数值，绝不修改共享状态。
// 账本层把自己的持仓/市场转换成这里的快照类型再调用，
// 避免 risk 反向依赖账本包。

package risk

// =============================================================================
// 精度常量
// =============================================================================

const (
	// UsdPrecision 金额精度: 6 位小数 USD
	// 例: $1.50 = 1_500_000
	UsdPrecision = 1_000_000

	// PricePrecision 价格精度: 8 位小数
	// 例: $50000.00 = 5_000_000_000_000
	PricePrecision = 100_000_000

	// RatePrecision 费率/保证金率精度 (万分比)
	RatePrecision = 10000
)

// =============================================================================
// 快照类型
// =============================================================================

// Position 持仓快照 (值传递)
//
// 对于这种小结构体，拷贝到栈上比让 GC 扫描堆指针更快
type Position struct {
	SizeUSD     int64 // 名义价值 (6位小数 USD)
	Collateral  int64 // 保证金 (6位小数 USD)
	EntryPrice  int64 // 开仓价 (8位小数)
	Leverage    int   // 杠杆倍数
	IsLong      bool  // 方向
	OpenTime    int64 // 开仓时间 (Unix 毫秒)
	LastFeeTime int64 // 持仓费计费水位 (Unix 毫秒)
}

// Market 市场快照
type Market struct {
	Symbol         string
	MaintMarginBps int64 // 维持保证金率 (万分比)
}
