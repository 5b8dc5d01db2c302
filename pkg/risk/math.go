// 文件: pkg/risk/math.go
// 定点数乘除辅助

package risk

import "math/big"

// MulDiv 计算 a × b / den，中间结果用 big.Int 防止 int64 溢出
//
// 【为什么需要】
// 价格 8 位小数 (BTC ≈ 5e12)，名义价值 6 位小数 (上限 ≈ 1e12)，
// 两者相乘早已超出 int64 范围。
//
// 【截断语义】
// big.Int.Quo 向零截断，与 int64 原生除法一致，
// 保证盈亏/清算价在任何数量级下的舍入行为完全相同。
func MulDiv(a, b, den int64) int64 {
	if den == 0 {
		return 0
	}
	var x, y big.Int
	x.SetInt64(a)
	y.SetInt64(b)
	x.Mul(&x, &y)
	y.SetInt64(den)
	x.Quo(&x, &y)
	return x.Int64()
}
