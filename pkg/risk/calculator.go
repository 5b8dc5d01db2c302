// 文件: pkg/risk/calculator.go
// 风险计算 - 盈亏 / 清算价 / 保证金率
//
// 【核心原则】
// 清算资格是"当前价格 + 已过时间"的纯函数，
// 不存在持久化的 liquidatable 标志位——每次查询、每次操作前都重新计算。
//
// 持仓的状态机 {未开仓, 健康, 可清算, 已平仓} 由这里的三个函数间接定义:
// 健康 → 可清算 的转换完全由 CanLiquidate 的实时判定决定。

package risk

import (
	"errors"

	"perpx.com/pkg/fee"
)

var (
	// ErrInvalidPrice 价格非正
	ErrInvalidPrice = errors.New("risk: invalid price")
)

// =============================================================================
// 盈亏
// =============================================================================

// PnL 未实现盈亏 (带符号, 6位小数 USD)
//
// 【公式】
// 多头: PnL = (P - Entry) / Entry × SizeUSD
// 空头: 取反
//
// 除数是 Entry (不是 SizeUSD)，先乘后除保留精度:
//
//	PnL = SizeUSD × (P - Entry) / Entry
//
// 例: Entry=$100, P=$110, Size=$100 → (10/100)×100 = +$10
func PnL(pos Position, currentPrice int64) (int64, error) {
	if pos.EntryPrice <= 0 || currentPrice <= 0 {
		return 0, ErrInvalidPrice
	}

	delta := currentPrice - pos.EntryPrice
	pnl := MulDiv(pos.SizeUSD, delta, pos.EntryPrice)

	if !pos.IsLong {
		pnl = -pnl
	}
	return pnl, nil
}

// =============================================================================
// 清算价格
// =============================================================================

// LiquidationPrice 清算触发价
//
// 【推导】
// 可用缓冲 = Collateral - 维持保证金 - 预计持仓费
// 缓冲占名义价值的比例换算成价格偏移:
//
//	delta = Entry × 缓冲 / SizeUSD
//
// 多头: 清算价 = Entry - delta (价格跌破触发)
// 空头: 清算价 = Entry + delta (价格涨破触发)
//
// 【边界】
// 维持保证金 + 持仓费已耗尽保证金时，返回开仓价——
// 任何价格下都已满足清算条件。
//
// 持仓费按查询时刻已计整周期投影，随时间推移清算价向开仓价靠拢。
func LiquidationPrice(pos Position, market Market, now int64) (int64, error) {
	if pos.EntryPrice <= 0 {
		return 0, ErrInvalidPrice
	}
	if pos.SizeUSD <= 0 {
		return 0, nil
	}

	maintReq := pos.Collateral * market.MaintMarginBps / RatePrecision
	projFee := fee.HoldingFee(pos.Collateral, pos.LastFeeTime, now)

	cushion := pos.Collateral - maintReq - projFee
	if cushion <= 0 {
		// 已无缓冲，任意价格均可清算
		return pos.EntryPrice, nil
	}

	delta := MulDiv(pos.EntryPrice, cushion, pos.SizeUSD)

	if pos.IsLong {
		liq := pos.EntryPrice - delta
		if liq < 0 {
			liq = 0
		}
		return liq, nil
	}
	return pos.EntryPrice + delta, nil
}

// =============================================================================
// 清算判定
// =============================================================================

// CanLiquidate 是否满足清算条件
//
// 【公式】
// 当前价值 = Collateral + PnL - 持仓费
// 维持需求 = Collateral × MaintMarginBps / 10000
// 当前价值 <= 维持需求 → 可清算
//
// 纯函数: 只依赖实时价格和已过时间，无任何持久化状态。
func CanLiquidate(pos Position, market Market, currentPrice, now int64) (bool, error) {
	value, err := currentValue(pos, currentPrice, now)
	if err != nil {
		return false, err
	}
	maintReq := pos.Collateral * market.MaintMarginBps / RatePrecision
	return value <= maintReq, nil
}

// =============================================================================
// 保证金率
// =============================================================================

// MarginRatio 当前保证金率 (万分比)
//
// 公式: 当前价值 / SizeUSD × 10000
// 当前价值非正时返回 0
func MarginRatio(pos Position, currentPrice, now int64) (int64, error) {
	if pos.SizeUSD <= 0 {
		return 0, nil
	}
	value, err := currentValue(pos, currentPrice, now)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, nil
	}
	return value * RatePrecision / pos.SizeUSD, nil
}

// currentValue 当前保证金价值 = 保证金 + 盈亏 - 持仓费
func currentValue(pos Position, currentPrice, now int64) (int64, error) {
	pnl, err := PnL(pos, currentPrice)
	if err != nil {
		return 0, err
	}
	holding := fee.HoldingFee(pos.Collateral, pos.LastFeeTime, now)
	return pos.Collateral + pnl - holding, nil
}
