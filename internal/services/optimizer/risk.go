package optimizer

import (
	"math"
	"sort"

	"QuantEngine/internal/domain/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// RiskMetrics computes VaR(95), maximum drawdown and downside deviation of
// a daily portfolio return series, annualized with tradingDays.
func RiskMetrics(daily []float64, tradingDays int) models.RiskMetrics {
	if len(daily) == 0 {
		return models.RiskMetrics{}
	}
	scale := math.Sqrt(float64(tradingDays))
	return models.RiskMetrics{
		VaR95:             ValueAtRisk(daily, 0.05) * scale,
		MaxDrawdown:       MaxDrawdown(daily),
		DownsideDeviation: DownsideDeviation(daily) * scale,
	}
}

// ValueAtRisk is the p-quantile of daily returns (linear interpolation).
func ValueAtRisk(daily []float64, p float64) float64 {
	sorted := append([]float64(nil), daily...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}

// MaxDrawdown is the most negative peak-to-trough change of the wealth
// index cumprod(1+r), starting from 1. It is 0 for a series that never
// falls below a previous peak.
func MaxDrawdown(daily []float64) float64 {
	growth := make([]float64, len(daily)+1)
	growth[0] = 1
	for i, r := range daily {
		growth[i+1] = 1 + r
	}
	floats.CumProd(growth, growth)

	peak := growth[0]
	worst := 0.0
	for _, v := range growth {
		if v > peak {
			peak = v
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

// DownsideDeviation is sqrt(mean(r²)) over negative returns only.
func DownsideDeviation(daily []float64) float64 {
	var sum float64
	var n int
	for _, r := range daily {
		if r < 0 {
			sum += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
