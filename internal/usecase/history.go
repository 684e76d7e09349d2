package usecase

import (
	"context"
	"fmt"
	"strings"

	"QuantEngine/internal/domain/models"
	domrepo "QuantEngine/internal/domain/repository"
)

type HistoryService struct {
	prices domrepo.PriceProvider
}

func NewHistoryService(prices domrepo.PriceProvider) *HistoryService {
	return &HistoryService{prices: prices}
}

// History returns the cleaned daily series of symbol over the last days.
func (s *HistoryService) History(ctx context.Context, symbol string, days int) (models.PriceSeries, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	series := s.prices.Fetch(ctx, symbol, days)
	if err := ctx.Err(); err != nil {
		return models.PriceSeries{}, err
	}
	if series.Empty() {
		return models.PriceSeries{}, fmt.Errorf("%w: %s", models.ErrDataUnavailable, symbol)
	}
	return series, nil
}
