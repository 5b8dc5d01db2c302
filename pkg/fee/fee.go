// 文件: pkg/fee/fee.go
// 费用引擎 - 纯函数费用计算
//
// 【设计目标】
// 1. 纯函数: 无状态、无副作用，输入相同输出必然相同
// 2. 定点数: 全部用 int64 万分比计算，除法向零截断
// 3. 可独立测试: 每个函数都能用字面量输入直接验证
//
// 【精度约定】
// - 保证金/余额: 6 位小数 USD (1 USD = 1_000_000)
// - 费率: 万分比 (100 = 1%)
// - 利润税: 百分比 (30 = 30%)

package fee

import "time"

// =============================================================================
// 费率常量 (协议策略，非用户可配置)
// =============================================================================

const (
	// OpenFeeBps 开仓手续费 (万分比)
	// 例: 保证金 $50 → 手续费 $0.50
	OpenFeeBps = 100

	// CloseFeeBps 平仓手续费 (万分比)
	CloseFeeBps = 100

	// HoldFeeBps 每个持仓周期的持仓费 (万分比)
	// 例: 保证金 $100 持仓 1 周期 → $1.00
	HoldFeeBps = 100

	// ProfitTaxPct 利润税 (百分比)
	// 只对正盈利征收
	ProfitTaxPct = 30

	// RatePrecision 费率精度 (万分比)
	RatePrecision = 10000
)

// FeePeriod 持仓费结算周期
// 不足一个整周期不计费 (无按比例折算)
const FeePeriod = time.Hour

// =============================================================================
// 费用计算
// =============================================================================

// OpeningFee 开仓手续费
//
// 公式: fee = collateral × OpenFeeBps / 10000
func OpeningFee(collateral int64) int64 {
	return collateral * OpenFeeBps / RatePrecision
}

// ClosingFee 平仓手续费
//
// 公式: fee = collateral × CloseFeeBps / 10000
func ClosingFee(collateral int64) int64 {
	return collateral * CloseFeeBps / RatePrecision
}

// HoldingFee 持仓费
//
// 公式: fee = collateral × HoldFeeBps × 整周期数 / 10000
//
// 【整周期计费】
// 周期数 = floor((now - lastFeeTime) / FeePeriod)
// 持仓 0.9 个周期 → 0 费用
// 持仓 5 个周期   → 5 倍单周期费用
//
// 参数:
//   - collateral: 仓位保证金 (6位小数 USD)
//   - lastFeeTime: 上次计费水位 (Unix 毫秒)
//   - now: 当前时间 (Unix 毫秒)
func HoldingFee(collateral, lastFeeTime, now int64) int64 {
	periods := ElapsedPeriods(lastFeeTime, now)
	if periods <= 0 {
		return 0
	}
	return collateral * HoldFeeBps * periods / RatePrecision
}

// ElapsedPeriods 计算已经过的整周期数
func ElapsedPeriods(lastFeeTime, now int64) int64 {
	if now <= lastFeeTime {
		return 0
	}
	return (now - lastFeeTime) / FeePeriod.Milliseconds()
}

// ProfitTax 利润税
//
// 公式: tax = profit × ProfitTaxPct / 100
// 只对正盈利征收，亏损返回 0
func ProfitTax(profit int64) int64 {
	if profit <= 0 {
		return 0
	}
	return profit * ProfitTaxPct / 100
}
