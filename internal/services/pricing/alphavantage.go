package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantEngine/internal/domain/models"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// ErrRateLimited is returned when a source refuses or defers a request.
var ErrRateLimited = errors.New("price source rate limited")

// AlphaVantageSource reads TIME_SERIES_DAILY from Alpha Vantage.
type AlphaVantageSource struct {
	client *resty.Client
	apiKey string
}

func NewAlphaVantageSource(baseURL, apiKey string, timeout time.Duration) *AlphaVantageSource {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return &AlphaVantageSource{client: client, apiKey: apiKey}
}

func (a *AlphaVantageSource) Name() string { return SourceAlphaVantage }

type avDaily struct {
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

type avResponse struct {
	Series       map[string]avDaily `json:"Time Series (Daily)"`
	ErrorMessage string             `json:"Error Message"`
	Note         string             `json:"Note"`
	Information  string             `json:"Information"`
}

func (a *AlphaVantageSource) Fetch(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	size := "compact"
	if to.Sub(from) > 100*24*time.Hour {
		size = "full"
	}

	var body avResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"function":   "TIME_SERIES_DAILY",
			"symbol":     symbol,
			"outputsize": size,
			"apikey":     a.apiKey,
		}).
		SetResult(&body).
		Get("/query")
	if err != nil {
		return models.PriceSeries{}, fmt.Errorf("alphavantage request: %w", err)
	}
	if resp.IsError() {
		return models.PriceSeries{}, fmt.Errorf("alphavantage status %d", resp.StatusCode())
	}
	switch {
	case body.ErrorMessage != "":
		return models.PriceSeries{}, fmt.Errorf("alphavantage: %s", body.ErrorMessage)
	case body.Note != "" || body.Information != "":
		return models.PriceSeries{}, fmt.Errorf("%w: alphavantage: %s%s", ErrRateLimited, body.Note, body.Information)
	}

	pts := make([]models.PricePoint, 0, len(body.Series))
	for day, row := range body.Series {
		t, err := time.Parse("2006-01-02", day)
		if err != nil || t.Before(models.DayOf(from)) || t.After(to) {
			continue
		}
		cl, err := decimal.NewFromString(row.Close)
		if err != nil {
			continue
		}
		vol, _ := decimal.NewFromString(row.Volume)
		pts = append(pts, models.PricePoint{Date: t, Close: cl.InexactFloat64(), Volume: vol.InexactFloat64()})
	}
	if len(pts) == 0 {
		return models.PriceSeries{}, ErrNoData
	}
	return models.PriceSeries{Symbol: symbol, Source: SourceAlphaVantage, Points: pts}, nil
}
