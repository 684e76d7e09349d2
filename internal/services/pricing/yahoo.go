package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/pkg/util"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
)

// ChartFunc loads daily bars for symbol in [start, end].
type ChartFunc func(symbol string, start, end time.Time) ([]models.PricePoint, error)

// YahooSource reads daily bars from Yahoo Finance, retrying over shorter
// periods when the longer one yields nothing.
type YahooSource struct {
	periods []int
	chart   ChartFunc
}

func NewYahooSource(periods []string, fn ChartFunc) (*YahooSource, error) {
	days := make([]int, 0, len(periods))
	for _, p := range periods {
		d, err := util.PeriodDays(p)
		if err != nil {
			return nil, fmt.Errorf("yahoo period: %w", err)
		}
		days = append(days, d)
	}
	if fn == nil {
		fn = yahooChart
	}
	return &YahooSource{periods: days, chart: fn}, nil
}

func (y *YahooSource) Name() string { return SourceYahoo }

// Fetch tries each window in turn and returns the first that has rows. It
// stops early only when ctx itself is done.
func (y *YahooSource) Fetch(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	var lastErr error
	for _, start := range y.Windows(from, to) {
		series, err := y.FetchWindow(ctx, symbol, start, to)
		switch {
		case err == nil:
			return series, nil
		case ctx.Err() != nil:
			return models.PriceSeries{}, ctx.Err()
		case !errors.Is(err, ErrNoData):
			lastErr = err
		}
	}
	if lastErr != nil {
		return models.PriceSeries{}, lastErr
	}
	return models.PriceSeries{}, ErrNoData
}

// Windows returns the start of every period to try, longest first. Each
// period is capped at the requested lookback and repeats are dropped, so a
// short lookback is tried once.
func (y *YahooSource) Windows(from, to time.Time) []time.Time {
	lookback := int(to.Sub(from).Hours()/24 + 0.5)
	out := make([]time.Time, 0, len(y.periods))
	last := -1
	for _, d := range y.periods {
		d = min(d, lookback)
		if last >= 0 && last <= d {
			continue
		}
		last = d
		out = append(out, to.AddDate(0, 0, -d))
	}
	return out
}

// FetchWindow loads the single window [start, end].
func (y *YahooSource) FetchWindow(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error) {
	pts, err := y.load(ctx, symbol, start, end)
	if err != nil {
		return models.PriceSeries{}, err
	}
	if len(pts) == 0 {
		return models.PriceSeries{}, ErrNoData
	}
	return models.PriceSeries{Symbol: symbol, Source: SourceYahoo, Points: pts}, nil
}

// load runs the blocking chart call and gives up when ctx ends.
func (y *YahooSource) load(ctx context.Context, symbol string, start, end time.Time) ([]models.PricePoint, error) {
	type result struct {
		pts []models.PricePoint
		err error
	}
	ch := make(chan result, 1)
	go func() {
		pts, err := y.chart(symbol, start, end)
		ch <- result{pts, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.pts, r.err
	}
}

func yahooChart(symbol string, start, end time.Time) ([]models.PricePoint, error) {
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}
	iter := chart.Get(params)

	var pts []models.PricePoint
	for iter.Next() {
		bar := iter.Bar()
		cl, _ := bar.Close.Float64()
		pts = append(pts, models.PricePoint{
			Date:   time.Unix(int64(bar.Timestamp), 0).UTC(),
			Close:  cl,
			Volume: float64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	return pts, nil
}
