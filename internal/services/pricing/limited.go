package pricing

import (
	"context"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/domain/repository"
	"QuantEngine/internal/service/ratelimit"
)

// Limited guards an external source with a token bucket keyed by its name.
type Limited struct {
	repository.PriceSource
	limiter      *ratelimit.Limiter
	capacity     float64
	refillPerSec float64
}

func NewLimited(src repository.PriceSource, l *ratelimit.Limiter, capacity, refillPerSec float64) *Limited {
	return &Limited{PriceSource: src, limiter: l, capacity: capacity, refillPerSec: refillPerSec}
}

func (l *Limited) Fetch(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	if !l.limiter.Allow(l.Name(), l.capacity, l.refillPerSec) {
		return models.PriceSeries{}, ErrRateLimited
	}
	return l.PriceSource.Fetch(ctx, symbol, from, to)
}
