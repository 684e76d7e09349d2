package stats

import (
	"math"

	"QuantEngine/internal/domain/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Moments are annualized first and second moments of a ReturnMatrix.
type Moments struct {
	Mean        []float64
	Cov         *mat.SymDense
	Vol         []float64
	TradingDays int
}

// Annualize scales daily means by tradingDays and the sample covariance by
// tradingDays.
func Annualize(m *ReturnMatrix, tradingDays int) Moments {
	n := m.Cols()
	td := float64(tradingDays)

	mean := make([]float64, n)
	for j := 0; j < n; j++ {
		mean[j] = stat.Mean(m.Column(j), nil) * td
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, m.Returns, nil)
	cov.ScaleSym(td, cov)

	vol := make([]float64, n)
	for j := 0; j < n; j++ {
		vol[j] = math.Sqrt(math.Max(cov.At(j, j), 0))
	}
	return Moments{Mean: mean, Cov: cov, Vol: vol, TradingDays: tradingDays}
}

// Degenerate reports the first asset whose variance is zero, if any.
func (mo Moments) Degenerate() (int, bool) {
	for j, v := range mo.Vol {
		if v <= 1e-12 || math.IsNaN(v) {
			return j, true
		}
	}
	return -1, false
}

func (mo Moments) Return(w []float64) float64 {
	return floats.Dot(mo.Mean, w)
}

func (mo Moments) Volatility(w []float64) float64 {
	wv := mat.NewVecDense(len(w), w)
	return math.Sqrt(math.Max(mat.Inner(wv, mo.Cov, wv), 0))
}

// Sharpe is (R-rf)/σ, or 0 when σ is 0.
func Sharpe(ret, vol, rf float64) float64 {
	if vol <= 0 || math.IsNaN(vol) {
		return 0
	}
	return (ret - rf) / vol
}

// Stats computes annualized return, volatility and Sharpe ratio of w.
func (mo Moments) Stats(w []float64, rf float64) models.PortfolioStats {
	ret := mo.Return(w)
	vol := mo.Volatility(w)
	return models.PortfolioStats{Return: ret, Volatility: vol, SharpeRatio: Sharpe(ret, vol, rf)}
}

// PortfolioReturns is the daily return series R·w.
func PortfolioReturns(m *ReturnMatrix, w []float64) []float64 {
	out := mat.NewVecDense(m.Rows(), nil)
	out.MulVec(m.Returns, mat.NewVecDense(len(w), w))
	return out.RawVector().Data
}
