package pricing

import (
	"context"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/domain/repository"
)

const (
	SourceClickHouse   = "clickhouse"
	SourceBackend      = "backend"
	SourceYahoo        = "yahoo"
	SourceAlphaVantage = "alphavantage"
)

// StoreSource serves history from the local bar store.
type StoreSource struct {
	store repository.PriceStore
}

func NewStoreSource(s repository.PriceStore) *StoreSource { return &StoreSource{store: s} }

func (s *StoreSource) Name() string { return SourceClickHouse }

func (s *StoreSource) Fetch(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	bars, err := s.store.GetBars(ctx, symbol, from, to)
	if err != nil {
		return models.PriceSeries{}, err
	}
	pts := make([]models.PricePoint, len(bars))
	for i, b := range bars {
		pts[i] = models.PricePoint{Date: b.Date, Close: b.Close, Volume: b.Volume}
	}
	return models.PriceSeries{Symbol: symbol, Source: SourceClickHouse, Points: pts}, nil
}
