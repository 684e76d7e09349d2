package repository

import (
	"context"
	"time"

	"QuantEngine/internal/domain/models"
)

// PriceStore provides access to persisted daily bars.
type PriceStore interface {
	Init(ctx context.Context) error // ensure tables
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.DailyBar, error)
	SaveBars(ctx context.Context, bars []models.DailyBar) error
	Health(ctx context.Context) error
	Close() error
}
