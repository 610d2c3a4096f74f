package executor

import (
	"math"

	"github.com/shopspring/decimal"
)

var maxSizeRatio = decimal.NewFromInt(2)

// CalculateOrderSize returns
//
//	min(maxPositionSize, defaultOrderSize * min(2, expectedProfit/minProfitThreshold))
//
// floored to cents. The result is always in [0, maxPositionSize]. A
// non-positive minProfitThreshold uses the full ratio of 2.
func CalculateOrderSize(defaultOrderSize, expectedProfit, minProfitThreshold, maxPositionSize float64) float64 {
	for _, v := range []float64{defaultOrderSize, expectedProfit, minProfitThreshold, maxPositionSize} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
	}
	if defaultOrderSize <= 0 || maxPositionSize <= 0 {
		return 0
	}

	ratio := maxSizeRatio
	if minProfitThreshold > 0 {
		ratio = decimal.Min(ratio, decimal.NewFromFloat(expectedProfit).Div(decimal.NewFromFloat(minProfitThreshold)))
	}
	if !ratio.IsPositive() {
		return 0
	}

	size := decimal.Min(
		decimal.NewFromFloat(defaultOrderSize).Mul(ratio),
		decimal.NewFromFloat(maxPositionSize),
	)
	return size.RoundDown(2).InexactFloat64()
}
