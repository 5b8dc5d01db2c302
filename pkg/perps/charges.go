// 文件: pkg/perps/charges.go
// 账本费用桥接
//
// 费率策略全部在 pkg/fee (纯函数)，这里只做账本口径的组合:
// - 开仓扣款 = 保证金 + 开仓费
// - 平仓三项 = 平仓费 + 持仓费 + 利润税

package perps

import "perpx.com/pkg/fee"

// openingDebit 开仓扣款总额与其中的费用部分
func openingDebit(collateral int64) (debit, fees int64) {
	fees = fee.OpeningFee(collateral)
	return collateral + fees, fees
}

// closingCharges 平仓结算三项费用
//
// 利润税只对毛盈亏 (pnl) 的正值部分征收，与手续费无关
func closingCharges(collateral, lastFeeTime, now, pnl int64) (closeFee, holdingFee, tax int64) {
	closeFee = fee.ClosingFee(collateral)
	holdingFee = fee.HoldingFee(collateral, lastFeeTime, now)
	tax = fee.ProfitTax(pnl)
	return closeFee, holdingFee, tax
}

// holdingFeeAccrued 查询时刻已累计的持仓费
func holdingFeeAccrued(collateral, lastFeeTime, now int64) int64 {
	return fee.HoldingFee(collateral, lastFeeTime, now)
}
