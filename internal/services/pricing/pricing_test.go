package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/domain/repository"
	"QuantEngine/internal/service/ratelimit"
)

var testNow = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

type fakeSource struct {
	name  string
	pts   []models.PricePoint
	err   error
	delay time.Duration
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, symbol string, _, _ time.Time) (models.PriceSeries, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.PriceSeries{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.PriceSeries{}, f.err
	}
	return models.PriceSeries{Symbol: symbol, Points: f.pts}, nil
}

type fakeMetrics struct {
	mu      sync.Mutex
	results map[string]int
	errors  int
}

func (m *fakeMetrics) RecordError(string)            { m.mu.Lock(); m.errors++; m.mu.Unlock() }
func (m *fakeMetrics) RecordLatency(string, float64) {}
func (m *fakeMetrics) RecordFallback(string)         {}
func (m *fakeMetrics) RecordModelAccuracy(float64)   {}
func (m *fakeMetrics) RecordSourceResult(source, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string]int{}
	}
	m.results[source+"/"+result]++
}

type fakeStore struct {
	saved []models.DailyBar
}

func (s *fakeStore) Init(context.Context) error { return nil }
func (s *fakeStore) GetBars(context.Context, string, time.Time, time.Time) ([]models.DailyBar, error) {
	return nil, nil
}
func (s *fakeStore) SaveBars(_ context.Context, bars []models.DailyBar) error {
	s.saved = append(s.saved, bars...)
	return nil
}
func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

func sources(s ...repository.PriceSource) []repository.PriceSource { return s }

func days(n int) []models.PricePoint {
	pts := make([]models.PricePoint, n)
	for i := range pts {
		pts[i] = models.PricePoint{Date: testNow.AddDate(0, 0, -i), Close: 100 + float64(i), Volume: 1}
	}
	return pts
}

func TestChainFallsThroughInOrder(t *testing.T) {
	failing := &fakeSource{name: "clickhouse", err: errors.New("connection refused")}
	empty := &fakeSource{name: "backend"}
	good := &fakeSource{name: "yahoo", pts: days(10)}
	unused := &fakeSource{name: "alphavantage", pts: days(10)}
	m := &fakeMetrics{}
	store := &fakeStore{}

	c := NewChain(nil, sources(failing, empty, good, unused),
		WithMetrics(m), WithStoreBack(store), WithNow(func() time.Time { return testNow }))

	s := c.Fetch(context.Background(), "AAPL", 30)
	if s.Len() != 10 || s.Source != "yahoo" {
		t.Fatalf("expected 10 points from yahoo, got %d from %q", s.Len(), s.Source)
	}
	for i := 1; i < s.Len(); i++ {
		if !s.Points[i].Date.After(s.Points[i-1].Date) {
			t.Fatalf("series not ascending at %d", i)
		}
	}
	if unused.calls != 0 {
		t.Fatalf("sources after a hit must not be called")
	}
	if m.results["clickhouse/error"] != 1 || m.results["backend/empty"] != 1 || m.results["yahoo/hit"] != 1 {
		t.Fatalf("unexpected metrics: %v", m.results)
	}
	if len(store.saved) != 10 || store.saved[0].Source != "yahoo" {
		t.Fatalf("expected fetched bars stored back, got %d", len(store.saved))
	}
}

func TestChainTotalFailureIsEmpty(t *testing.T) {
	m := &fakeMetrics{}
	c := NewChain(nil, sources(
		&fakeSource{name: "a", err: errors.New("boom")},
		&fakeSource{name: "b", err: ErrNoData},
	), WithMetrics(m))

	s := c.Fetch(context.Background(), "NOPE", 30)
	if !s.Empty() || s.Symbol != "NOPE" {
		t.Fatalf("expected empty series for NOPE, got %+v", s)
	}
	if m.errors != 1 {
		t.Fatalf("expected one unavailable error recorded, got %d", m.errors)
	}
}

func TestChainAttemptTimeout(t *testing.T) {
	slow := &fakeSource{name: "slow", pts: days(5), delay: time.Second}
	fast := &fakeSource{name: "fast", pts: days(5)}
	c := NewChain(nil, sources(slow, fast),
		WithTimeout(20*time.Millisecond), WithNow(func() time.Time { return testNow }))

	s := c.Fetch(context.Background(), "X", 30)
	if s.Source != "fast" {
		t.Fatalf("expected fallback to fast source, got %q", s.Source)
	}
}

func TestChainTrimsToLookback(t *testing.T) {
	c := NewChain(nil, sources(&fakeSource{name: "a", pts: days(100)}),
		WithNow(func() time.Time { return testNow }))
	s := c.Fetch(context.Background(), "X", 30)
	if s.Len() != 31 {
		t.Fatalf("expected 31 days in a 30-day lookback, got %d", s.Len())
	}
}

func TestBuildUnknownSource(t *testing.T) {
	if _, err := Build([]string{"nope"}, nil); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}

func TestBackendSourceEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/enhanced-features/market/history" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("symbol") != "MSFT" || r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"date":"2025-01-02","close":101.5,"volume":1000},
			{"Date":"2025-01-03T00:00:00Z","Close":"102.25","Volume":2000},
			{"date":"2025-01-06"},
			{"close":99}
		]}`))
	}))
	defer srv.Close()

	b := NewBackendSource(srv.URL+"/api/", "Bearer t", nil)
	s, err := b.Fetch(context.Background(), "MSFT", testNow.AddDate(0, -1, 0), testNow)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if s.Len() != 2 || s.Points[1].Close != 102.25 || s.Points[1].Volume != 2000 {
		t.Fatalf("unexpected points: %+v", s.Points)
	}

	// a caller header replaces the configured token
	nb := NewBackendSource(srv.URL+"/api", "", nil)
	if _, err := nb.Fetch(context.Background(), "MSFT", testNow, testNow); err == nil {
		t.Fatalf("expected 401 without a token")
	}
	if _, err := nb.Fetch(WithAuthorization(context.Background(), "Bearer t"), "MSFT", testNow, testNow); err != nil {
		t.Fatalf("forwarded auth: %v", err)
	}
}

func TestBackendSourceBareArrayAndErrors(t *testing.T) {
	pts, err := parseBackendRows([]byte(`[{"date":"2025-01-02","close":10}]`))
	if err != nil || len(pts) != 1 || pts[0].Close != 10 {
		t.Fatalf("bare array: %v %+v", err, pts)
	}
	if _, err := parseBackendRows([]byte(`<html>`)); err == nil {
		t.Fatalf("expected malformed payload error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := NewBackendSource(srv.URL, "", nil).Fetch(context.Background(), "X", testNow, testNow); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestYahooSourceShrinksPeriods(t *testing.T) {
	var windows []int
	fn := func(_ string, start, end time.Time) ([]models.PricePoint, error) {
		d := int(end.Sub(start).Hours() / 24)
		windows = append(windows, d)
		if d > 200 {
			return nil, errors.New("range too large")
		}
		return days(5), nil
	}
	y, err := NewYahooSource([]string{"2y", "1y", "6mo"}, fn)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s, err := y.Fetch(context.Background(), "AAPL", testNow.AddDate(0, 0, -365), testNow)
	if err != nil || s.Len() != 5 {
		t.Fatalf("fetch: %v len=%d", err, s.Len())
	}
	// 2y is capped at the 365-day lookback, so 1y is not repeated
	if len(windows) != 2 || windows[0] != 365 || windows[1] != 180 {
		t.Fatalf("unexpected windows: %v", windows)
	}
}

func TestChainTimesOutEachYahooWindowSeparately(t *testing.T) {
	var (
		mu      sync.Mutex
		windows []int
	)
	fn := func(_ string, start, end time.Time) ([]models.PricePoint, error) {
		d := int(end.Sub(start).Hours()/24 + 0.5)
		mu.Lock()
		windows = append(windows, d)
		mu.Unlock()
		if d > 400 {
			time.Sleep(300 * time.Millisecond)
		}
		return days(5), nil
	}
	y, err := NewYahooSource([]string{"2y", "1y", "6mo"}, fn)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c := NewChain(nil, sources(y),
		WithTimeout(100*time.Millisecond), WithNow(func() time.Time { return testNow }))

	s := c.Fetch(context.Background(), "AAPL", 730)
	if s.Len() != 5 || s.Source != SourceYahoo {
		t.Fatalf("expected the 1y window to serve 5 points, got %d from %q", s.Len(), s.Source)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(windows) != 2 || windows[0] != 730 || windows[1] != 365 {
		t.Fatalf("unexpected windows: %v", windows)
	}
}

func TestChainSkipsStoreHistoryThatStartsLate(t *testing.T) {
	store := &fakeSource{name: SourceClickHouse, pts: days(10)}
	yahoo := &fakeSource{name: SourceYahoo, pts: days(31)}
	m := &fakeMetrics{}
	now := WithNow(func() time.Time { return testNow })

	s := NewChain(nil, sources(store, yahoo), WithMetrics(m), now).Fetch(context.Background(), "X", 30)
	if s.Source != SourceYahoo || s.Len() != 31 {
		t.Fatalf("expected full history from yahoo, got %d from %q", s.Len(), s.Source)
	}
	if m.results["clickhouse/partial"] != 1 || m.results["yahoo/hit"] != 1 {
		t.Fatalf("unexpected metrics: %v", m.results)
	}

	// with nothing better the partial series is still served
	s = NewChain(nil, sources(store, &fakeSource{name: SourceYahoo}), now).Fetch(context.Background(), "X", 30)
	if s.Source != SourceClickHouse || s.Len() != 10 {
		t.Fatalf("expected partial store series, got %d from %q", s.Len(), s.Source)
	}

	// a store series starting within the slack is a hit
	covered := &fakeSource{name: SourceClickHouse, pts: days(27)}
	s = NewChain(nil, sources(covered, yahoo), now).Fetch(context.Background(), "X", 30)
	if s.Source != SourceClickHouse {
		t.Fatalf("expected store hit, got %q", s.Source)
	}
}

func TestAlphaVantageSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("apikey") != "key":
			_, _ = w.Write([]byte(`{"Error Message":"invalid key"}`))
		case q.Get("symbol") == "LIMIT":
			_, _ = w.Write([]byte(`{"Note":"call frequency"}`))
		default:
			_, _ = w.Write([]byte(`{"Time Series (Daily)":{
				"2025-02-27":{"1. open":"1","4. close":"187.50","5. volume":"100"},
				"2025-02-28":{"1. open":"1","4. close":"188.25","5. volume":"200"},
				"2020-01-01":{"1. open":"1","4. close":"50.00","5. volume":"1"}
			}}`))
		}
	}))
	defer srv.Close()

	av := NewAlphaVantageSource(srv.URL, "key", time.Second)
	s, err := av.Fetch(context.Background(), "IBM", testNow.AddDate(0, 0, -30), testNow)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected rows inside the window only, got %d", s.Len())
	}

	if _, err := av.Fetch(context.Background(), "LIMIT", testNow, testNow); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	bad := NewAlphaVantageSource(srv.URL, "wrong", time.Second)
	if _, err := bad.Fetch(context.Background(), "IBM", testNow, testNow); err == nil {
		t.Fatalf("expected api error")
	}
}

func TestLimitedSource(t *testing.T) {
	src := &fakeSource{name: "yahoo", pts: days(3)}
	l := NewLimited(src, ratelimit.New(), 1, 0)
	if _, err := l.Fetch(context.Background(), "A", testNow, testNow); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := l.Fetch(context.Background(), "A", testNow, testNow); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("limited call must not reach the source")
	}
}
