package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/domain/repository"
	applogger "QuantEngine/pkg/logger"
)

const (
	ResultHit     = "hit"
	ResultEmpty   = "empty"
	ResultError   = "error"
	ResultPartial = "partial"
)

// storeCoverageSlack is how far after the requested start a stored series
// may begin and still count as covering the lookback (weekends, holidays).
const storeCoverageSlack = 7 * 24 * time.Hour

// WindowedSource retries over shrinking windows. The chain gives every
// window its own attempt and timeout, so a slow long window does not use up
// the budget of the shorter ones.
type WindowedSource interface {
	repository.PriceSource
	Windows(from, to time.Time) []time.Time
	FetchWindow(ctx context.Context, symbol string, start, end time.Time) (models.PriceSeries, error)
}

// ErrNoData is returned by a source that answered but had no rows.
var ErrNoData = errors.New("no price data")

// Chain tries price sources in order and returns the first non-empty series.
type Chain struct {
	sources []repository.PriceSource
	timeout time.Duration
	metrics repository.Metrics
	store   repository.PriceStore
	log     *applogger.Logger
	now     func() time.Time
}

type ChainOption func(*Chain)

func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) { c.timeout = d }
}

func WithMetrics(m repository.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// WithStoreBack persists series served by any source other than the store itself.
func WithStoreBack(s repository.PriceStore) ChainOption {
	return func(c *Chain) { c.store = s }
}

func WithNow(now func() time.Time) ChainOption {
	return func(c *Chain) { c.now = now }
}

func NewChain(l *applogger.Logger, sources []repository.PriceSource, opts ...ChainOption) *Chain {
	if l == nil {
		l = applogger.NewNop()
	}
	c := &Chain{
		sources: sources,
		timeout: 10 * time.Second,
		log:     l.Component("pricing"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Fetch returns a cleaned series covering the last lookbackDays days. It
// never fails: if every source errors or has no rows the series is empty.
// A stored series that starts well after the lookback start is only used
// when no later source has data.
func (c *Chain) Fetch(ctx context.Context, symbol string, lookbackDays int) models.PriceSeries {
	to := c.now()
	from := to.AddDate(0, 0, -lookbackDays)

	var partial models.PriceSeries
	for _, src := range c.sources {
		if ctx.Err() != nil {
			break
		}
		series, err := c.fetchSource(ctx, src, symbol, from, to)
		switch {
		case err != nil:
			c.record(src.Name(), ResultError)
			c.log.Warn("price source failed",
				applogger.String("source", src.Name()),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			continue
		case series.Empty():
			c.record(src.Name(), ResultEmpty)
			c.log.Debug("price source empty", applogger.String("source", src.Name()), applogger.String("symbol", symbol))
			continue
		case src.Name() == SourceClickHouse && !covers(series, from):
			c.record(src.Name(), ResultPartial)
			c.log.Debug("stored history starts late",
				applogger.String("symbol", symbol),
				applogger.String("first", series.Points[0].Date.Format(time.DateOnly)),
			)
			if partial.Empty() {
				partial = series
			}
			continue
		}

		c.record(src.Name(), ResultHit)
		c.storeBack(ctx, src.Name(), series)
		return series
	}

	if !partial.Empty() {
		return partial
	}
	if c.metrics != nil {
		c.metrics.RecordError("price_unavailable")
	}
	c.log.Warn("no price source had data", applogger.String("symbol", symbol), applogger.Int("lookback_days", lookbackDays))
	return models.PriceSeries{Symbol: symbol}
}

func covers(s models.PriceSeries, from time.Time) bool {
	return !s.Points[0].Date.After(models.DayOf(from).Add(storeCoverageSlack))
}

// fetchSource runs one attempt, or one per window for a WindowedSource.
func (c *Chain) fetchSource(ctx context.Context, src repository.PriceSource, symbol string, from, to time.Time) (models.PriceSeries, error) {
	ws, ok := src.(WindowedSource)
	if !ok {
		return c.attempt(ctx, src.Name(), symbol, from, func(actx context.Context) (models.PriceSeries, error) {
			return src.Fetch(actx, symbol, from, to)
		})
	}

	var lastErr error
	for _, start := range ws.Windows(from, to) {
		series, err := c.attempt(ctx, src.Name(), symbol, from, func(actx context.Context) (models.PriceSeries, error) {
			return ws.FetchWindow(actx, symbol, start, to)
		})
		if err != nil {
			if ctx.Err() != nil {
				return models.PriceSeries{}, ctx.Err()
			}
			lastErr = err
			c.log.Debug("price window failed",
				applogger.String("source", src.Name()),
				applogger.String("start", start.Format(time.DateOnly)),
				applogger.Error(err),
			)
			continue
		}
		if !series.Empty() {
			return series, nil
		}
	}
	if lastErr != nil {
		return models.PriceSeries{}, lastErr
	}
	return models.PriceSeries{Symbol: symbol}, nil
}

func (c *Chain) attempt(ctx context.Context, name, symbol string, from time.Time, fetch func(context.Context) (models.PriceSeries, error)) (models.PriceSeries, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	series, err := fetch(actx)
	if c.metrics != nil {
		c.metrics.RecordLatency("price_fetch_"+name, time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return models.PriceSeries{Symbol: symbol}, nil
		}
		return models.PriceSeries{}, err
	}

	series = models.NewPriceSeries(symbol, name, series.Points).Since(from)
	return series, nil
}

func (c *Chain) storeBack(ctx context.Context, source string, s models.PriceSeries) {
	if c.store == nil || source == SourceClickHouse {
		return
	}
	if err := c.store.SaveBars(ctx, s.Bars()); err != nil {
		c.log.Warn("store fetched bars failed", applogger.String("symbol", s.Symbol), applogger.Error(err))
	}
}

func (c *Chain) record(source, result string) {
	if c.metrics != nil {
		c.metrics.RecordSourceResult(source, result)
	}
}

// Build assembles sources by name in the given order. Unknown names are an error.
func Build(names []string, factories map[string]repository.PriceSource) ([]repository.PriceSource, error) {
	out := make([]repository.PriceSource, 0, len(names))
	for _, n := range names {
		src, ok := factories[n]
		if !ok {
			return nil, fmt.Errorf("unknown price source %q", n)
		}
		if src == nil {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}
