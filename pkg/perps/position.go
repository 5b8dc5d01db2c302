// 文件: pkg/perps/position.go
// 持仓数据结构与事件定义
//
// 【关键概念区分】
// - 未实现盈亏: 随价格实时变化，查询时经 risk 计算，不落任何状态
// - 已实现盈亏: 只在平仓结算时产生一次，随事件发出
//
// 持仓生命周期: 开仓 → (健康 ⇄ 可清算, 由实时判定) → 平仓/清算 (终态)

package perps

import "time"

// =============================================================================
// Position - 用户持仓
// =============================================================================

// Position 用户在某市场上的持仓
//
// 每个 (user, symbol) 至多一个未平仓持仓。
// 终态后结构保留最后快照，重新开仓时整体覆盖。
type Position struct {
	UserID int64
	Symbol string

	// ===== 持仓参数 =====
	SizeUSD    int64 // 名义价值 = 保证金 × 杠杆 (6位小数 USD)
	Collateral int64 // 保证金 (6位小数 USD)
	EntryPrice int64 // 开仓价 (8位小数)
	Leverage   int   // 杠杆倍数
	IsLong     bool  // 方向

	// ===== 生命周期 =====
	IsOpen      bool
	OpenTime    int64 // Unix 毫秒
	LastFeeTime int64 // 持仓费计费水位 (Unix 毫秒)
}

// Side 方向字符串
func (p *Position) Side() string {
	if p.IsLong {
		return "LONG"
	}
	return "SHORT"
}

// =============================================================================
// PositionView - 持仓健康视图
// =============================================================================

// PositionView 持仓实时健康视图 (查询即算，不落库)
type PositionView struct {
	Position

	CurrentPrice     int64 // 实时价格 (8位小数)
	LiquidationPrice int64 // 清算触发价 (8位小数)
	UnrealizedPnL    int64 // 未实现盈亏 (带符号)
	AccruedFees      int64 // 已累计持仓费
	NetPnL           int64 // 盈亏 - 已累计持仓费
	MarginRatioBps   int64 // 保证金率 (万分比)
	Liquidatable     bool  // 当前是否满足清算条件
}

// =============================================================================
// 事件载荷 (NATS)
// =============================================================================

// PositionEvent 持仓事件
type PositionEvent struct {
	UserID int64  `json:"user_id"`
	Symbol string `json:"symbol"`
	Side   string `json:"side"`

	SizeUSD    int64 `json:"size_usd"`
	Collateral int64 `json:"collateral"`
	EntryPrice int64 `json:"entry_price"`
	ExitPrice  int64 `json:"exit_price,omitempty"` // 平仓/清算时的成交价

	// 平仓结算明细
	RealizedPnL int64 `json:"realized_pnl,omitempty"`
	TotalFees   int64 `json:"total_fees,omitempty"`
	Settlement  int64 `json:"settlement,omitempty"`

	// 清算人 (仅清算事件)
	Liquidator string `json:"liquidator,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// BalanceEvent 余额事件 (入金/出金)
type BalanceEvent struct {
	UserID  int64  `json:"user_id"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
	From    string `json:"from,omitempty"` // 代充值来源 (跨链桥)

	Timestamp int64 `json:"timestamp"`
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
