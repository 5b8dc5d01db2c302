// 文件: pkg/fee/fee_test.go
// 费用引擎单元测试 - 全部用字面量验证截断语义

package fee

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Usd 测试辅助: 美元 → 6位小数定点数
func Usd(v int64) int64 {
	return v * 1_000_000
}

func TestOpeningFee(t *testing.T) {
	// $100 × 100bps = $1.00
	assert.Equal(t, int64(1_000_000), OpeningFee(Usd(100)))

	// $50 × 100bps = $0.50
	assert.Equal(t, int64(500_000), OpeningFee(Usd(50)))

	// 截断: 0.000033 USD × 100bps = 0.00000033 → 截断为 0
	assert.Equal(t, int64(0), OpeningFee(33))
}

func TestClosingFee(t *testing.T) {
	assert.Equal(t, int64(500_000), ClosingFee(Usd(50)))
	assert.Equal(t, int64(0), ClosingFee(0))
}

func TestHoldingFee_WholePeriodsOnly(t *testing.T) {
	collateral := Usd(100)
	start := int64(1_700_000_000_000) // 任意基准时刻 (毫秒)
	period := FeePeriod.Milliseconds()

	// 恰好 1 个周期 → 1% = $1.00
	assert.Equal(t, int64(1_000_000), HoldingFee(collateral, start, start+period))

	// 5 个周期 → 5% = $5.00
	assert.Equal(t, int64(5_000_000), HoldingFee(collateral, start, start+5*period))

	// 0.9 个周期 → 不足整周期，$0
	assert.Equal(t, int64(0), HoldingFee(collateral, start, start+period*9/10))

	// 1.9 个周期 → 只计 1 个
	assert.Equal(t, int64(1_000_000), HoldingFee(collateral, start, start+period*19/10))

	// 时间未前进
	assert.Equal(t, int64(0), HoldingFee(collateral, start, start))
}

func TestElapsedPeriods(t *testing.T) {
	period := FeePeriod.Milliseconds()
	assert.Equal(t, int64(0), ElapsedPeriods(100, 100))
	assert.Equal(t, int64(0), ElapsedPeriods(100, 100+period-1))
	assert.Equal(t, int64(1), ElapsedPeriods(100, 100+period))
	assert.Equal(t, int64(3), ElapsedPeriods(100, 100+3*period+period/2))

	// 时钟回拨不产生负周期
	assert.Equal(t, int64(0), ElapsedPeriods(100+period, 100))
}

func TestProfitTax(t *testing.T) {
	// $10 盈利 × 30% = $3.00
	assert.Equal(t, int64(3_000_000), ProfitTax(Usd(10)))

	// 亏损不征税
	assert.Equal(t, int64(0), ProfitTax(Usd(-10)))
	assert.Equal(t, int64(0), ProfitTax(0))

	// 截断: 1 微美元 × 30% = 0.3 → 0
	assert.Equal(t, int64(0), ProfitTax(1))
	assert.Equal(t, int64(3), ProfitTax(10))
}
