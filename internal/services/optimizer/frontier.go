package optimizer

import (
	"context"
	"math/rand"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/services/stats"

	"gonum.org/v1/gonum/floats"
)

const (
	MinFrontierSamples = 20
	MaxFrontierSamples = 500
)

// ClampSamples bounds a requested frontier size to [20, 500].
func ClampSamples(n int) int {
	switch {
	case n < MinFrontierSamples:
		return MinFrontierSamples
	case n > MaxFrontierSamples:
		return MaxFrontierSamples
	default:
		return n
	}
}

// Frontier samples random fully invested long-only portfolios. The same
// matrix, count and seed always produce the same samples. On cancellation
// the partial result is dropped and the context error returned.
func (o *Optimizer) Frontier(ctx context.Context, m *stats.ReturnMatrix, count int) (models.FrontierResult, error) {
	count = ClampSamples(count)
	mo := stats.Annualize(m, o.cfg.TradingDays)
	rng := rand.New(rand.NewSource(o.cfg.FrontierSeed))
	n := m.Cols()

	res := models.FrontierResult{
		Symbols:      m.Symbols,
		Returns:      make([]float64, 0, count),
		Volatilities: make([]float64, 0, count),
		SharpeRatios: make([]float64, 0, count),
		Weights:      make([][]float64, 0, count),
		Seed:         o.cfg.FrontierSeed,
	}

	for i := 0; i < count; i++ {
		if i%32 == 0 {
			if err := ctx.Err(); err != nil {
				return models.FrontierResult{}, err
			}
		}
		w := make([]float64, n)
		for j := range w {
			w[j] = rng.Float64()
		}
		if s := floats.Sum(w); s > 0 {
			floats.Scale(1/s, w)
		} else {
			for j := range w {
				w[j] = 1 / float64(n)
			}
		}
		st := mo.Stats(w, o.cfg.RiskFreeRate)
		res.Returns = append(res.Returns, st.Return)
		res.Volatilities = append(res.Volatilities, st.Volatility)
		res.SharpeRatios = append(res.SharpeRatios, st.SharpeRatio)
		res.Weights = append(res.Weights, w)
	}
	res.GeneratedAt = time.Now().UTC()
	return res, nil
}
