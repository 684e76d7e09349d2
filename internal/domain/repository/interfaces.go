package repository

import (
	"context"
	"time"

	"QuantEngine/internal/domain/models"
)

// PriceSource is one strategy of the historical price fallback chain.
type PriceSource interface {
	Name() string
	Fetch(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error)
}

// PriceProvider returns cleaned daily history. An empty series means no
// source had data; it never fails for missing data.
type PriceProvider interface {
	Fetch(ctx context.Context, symbol string, lookbackDays int) models.PriceSeries
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.EngineEvent) error
	Close() error
}

type Metrics interface {
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSourceResult(source, result string)
	RecordFallback(reason string)
	RecordModelAccuracy(accuracy float64)
}
