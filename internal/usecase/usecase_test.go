package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/services/optimizer"
	"QuantEngine/internal/services/sentiment"
	"QuantEngine/pkg/cache"
	"QuantEngine/pkg/queue"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

type fakePrices struct {
	series map[string]models.PriceSeries
	calls  atomic.Int32
}

func (f *fakePrices) Fetch(_ context.Context, symbol string, _ int) models.PriceSeries {
	f.calls.Add(1)
	if s, ok := f.series[symbol]; ok {
		return s
	}
	return models.PriceSeries{Symbol: symbol}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.EngineEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.EngineEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type countingMetrics struct {
	nopMetrics
	mu        sync.Mutex
	fallbacks []string
	accuracy  float64
}

func (m *countingMetrics) RecordFallback(reason string) {
	m.mu.Lock()
	m.fallbacks = append(m.fallbacks, reason)
	m.mu.Unlock()
}

func (m *countingMetrics) RecordModelAccuracy(acc float64) {
	m.mu.Lock()
	m.accuracy = acc
	m.mu.Unlock()
}

// patterned builds prices whose daily returns are annualRet/252 ± annualVol/√252.
func patterned(symbol string, annualRet, annualVol float64, pattern []float64, n int) models.PriceSeries {
	mu := annualRet / 252
	sd := annualVol / math.Sqrt(252)
	pts := make([]models.PricePoint, n+1)
	price := 100.0
	pts[0] = models.PricePoint{Date: day0, Close: price}
	for i := 1; i <= n; i++ {
		price *= 1 + mu + sd*pattern[(i-1)%len(pattern)]
		pts[i] = models.PricePoint{Date: day0.AddDate(0, 0, i), Close: price}
	}
	return models.NewPriceSeries(symbol, "test", pts)
}

func flat(symbol string, n int) models.PriceSeries {
	pts := make([]models.PricePoint, n)
	for i := range pts {
		pts[i] = models.PricePoint{Date: day0.AddDate(0, 0, i), Close: 50}
	}
	return models.NewPriceSeries(symbol, "test", pts)
}

func portfolioPrices() *fakePrices {
	return portfolioPricesDays(252)
}

func portfolioPricesDays(n int) *fakePrices {
	return &fakePrices{series: map[string]models.PriceSeries{
		"AAA":  patterned("AAA", 0.08, 0.10, []float64{1, -1, 1, -1}, n),
		"BBB":  patterned("BBB", 0.03, 0.05, []float64{1, 1, -1, -1}, n),
		"FLAT": flat("FLAT", n+1),
	}}
}

func TestOptimizeNeedsTwoSymbols(t *testing.T) {
	p := portfolioPrices()
	svc := NewPortfolioService(PortfolioConfig{}, p, optimizer.New(nil), nil)

	_, err := svc.Optimize(context.Background(), models.OptimizationRequest{Symbols: []string{"aaa", " AAA ", ""}})
	if !errors.Is(err, models.ErrNotEnoughSymbols) {
		t.Fatalf("expected ErrNotEnoughSymbols, got %v", err)
	}
	if p.calls.Load() != 0 {
		t.Fatalf("expected no fetches for invalid request")
	}
}

func TestOptimizeDropsSymbolsWithoutData(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewPortfolioService(PortfolioConfig{}, portfolioPrices(), optimizer.New(nil), nil, WithPortfolioEvents(pub))

	res, err := svc.Optimize(context.Background(), models.OptimizationRequest{
		Symbols:       []string{"aaa", "bbb", "zzz"},
		RiskTolerance: models.RiskModerate,
	})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "ZZZ" {
		t.Fatalf("expected ZZZ dropped, got %v", res.Dropped)
	}
	if res.Sources["AAA"] != "test" || len(res.Weights) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := pub.types(); len(got) != 1 || got[0] != models.EventOptimizationCompleted {
		t.Fatalf("expected one optimization event, got %v", got)
	}
}

func TestOptimizeDataUnavailable(t *testing.T) {
	svc := NewPortfolioService(PortfolioConfig{}, portfolioPrices(), optimizer.New(nil), nil)
	_, err := svc.Optimize(context.Background(), models.OptimizationRequest{Symbols: []string{"AAA", "NOPE"}})
	if !errors.Is(err, models.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestOptimizeRiskOrderingEndToEnd(t *testing.T) {
	svc := NewPortfolioService(PortfolioConfig{}, portfolioPricesDays(504), optimizer.New(nil), nil)
	ctx := context.Background()

	cons, err := svc.Optimize(ctx, models.OptimizationRequest{Symbols: []string{"AAA", "BBB"}, RiskTolerance: models.RiskConservative})
	if err != nil {
		t.Fatalf("conservative: %v", err)
	}
	aggr, err := svc.Optimize(ctx, models.OptimizationRequest{Symbols: []string{"AAA", "BBB"}, RiskTolerance: models.RiskAggressive})
	if err != nil {
		t.Fatalf("aggressive: %v", err)
	}
	if cons.Fallback || aggr.Fallback {
		t.Fatalf("unexpected fallback: %q %q", cons.FallbackReason, aggr.FallbackReason)
	}
	if aggr.PortfolioStats.Volatility <= cons.PortfolioStats.Volatility {
		t.Fatalf("aggressive vol %v not above conservative %v", aggr.PortfolioStats.Volatility, cons.PortfolioStats.Volatility)
	}
	if cons.Weights["BBB"] < cons.Weights["AAA"] {
		t.Fatalf("conservative should favour BBB: %v", cons.Weights)
	}
	if aggr.Weights["AAA"] < aggr.Weights["BBB"] {
		t.Fatalf("aggressive should favour AAA: %v", aggr.Weights)
	}
}

func TestOptimizeDegenerateRecordsFallback(t *testing.T) {
	m := &countingMetrics{}
	svc := NewPortfolioService(PortfolioConfig{}, portfolioPrices(), optimizer.New(nil), nil, WithPortfolioMetrics(m))

	res, err := svc.Optimize(context.Background(), models.OptimizationRequest{Symbols: []string{"AAA", "FLAT"}})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !res.Fallback || math.Abs(res.Weights["AAA"]-0.5) > 1e-12 {
		t.Fatalf("expected equal-weight fallback, got %+v", res.Weights)
	}
	if len(m.fallbacks) != 1 || m.fallbacks[0] != "degenerate_covariance" {
		t.Fatalf("unexpected fallback metrics %v", m.fallbacks)
	}
}

func TestFrontierClampsCount(t *testing.T) {
	svc := NewPortfolioService(PortfolioConfig{}, portfolioPrices(), optimizer.New(nil), nil)
	res, err := svc.Frontier(context.Background(), []string{"AAA", "BBB"}, 5)
	if err != nil {
		t.Fatalf("frontier: %v", err)
	}
	if res.Len() != 20 || len(res.Weights) != 20 {
		t.Fatalf("expected 20 portfolios, got %d", res.Len())
	}
}

func TestOptimizeCancelled(t *testing.T) {
	svc := NewPortfolioService(PortfolioConfig{}, portfolioPrices(), optimizer.New(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Optimize(ctx, models.OptimizationRequest{Symbols: []string{"AAA", "BBB"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// wave oscillates around a drift so forward returns cover all three labels.
func wave(symbol string, n int, period, amp, drift float64) models.PriceSeries {
	pts := make([]models.PricePoint, n)
	for i := range pts {
		x := float64(i)
		pts[i] = models.PricePoint{
			Date:   day0.AddDate(0, 0, i),
			Close:  100 * (1 + amp*math.Sin(2*math.Pi*x/period)) * math.Pow(1+drift, x),
			Volume: 1000,
		}
	}
	return models.NewPriceSeries(symbol, "test", pts)
}

func sentimentFixture(t *testing.T) (*SentimentService, *fakePrices, *cache.MemoryCache, *recordingPublisher, *countingMetrics) {
	t.Helper()
	p := &fakePrices{series: map[string]models.PriceSeries{
		"AAA": wave("AAA", 300, 30, 0.08, 0.0005),
		"BBB": wave("BBB", 300, 22, 0.06, -0.0003),
		"CCC": wave("CCC", 300, 40, 0.10, 0),
	}}
	cfg := sentiment.DefaultConfig()
	cfg.Forest.Trees = 15
	clf := sentiment.NewClassifier(cfg, p, nil)
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	pub := &recordingPublisher{}
	m := &countingMetrics{}
	svc := NewSentimentService(SentimentConfig{}, clf, nil,
		WithSentimentCache(mem), WithSentimentEvents(pub), WithSentimentMetrics(m))
	return svc, p, mem, pub, m
}

func TestSentimentUntrainedIsNeutral(t *testing.T) {
	svc, _, _, _, _ := sentimentFixture(t)
	pred, err := svc.Predict(context.Background(), "aaa")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred.Symbol != "AAA" || pred.CombinedSentiment != models.SentimentNeutral || pred.Confidence != 0 {
		t.Fatalf("unexpected neutral prediction %+v", pred)
	}
	if pred.ModelVersion != "rf-tech-1" {
		t.Fatalf("unexpected model version %q", pred.ModelVersion)
	}
}

func TestSentimentTrainAndMemoize(t *testing.T) {
	svc, p, _, pub, m := sentimentFixture(t)
	ctx := context.Background()

	if _, err := svc.Train(ctx, []string{"AAA", "BBB"}); !errors.Is(err, models.ErrNotEnoughSymbols) {
		t.Fatalf("expected ErrNotEnoughSymbols, got %v", err)
	}
	metrics, err := svc.Train(ctx, []string{"aaa", "bbb", "ccc"})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if !svc.ModelTrained() || m.accuracy != metrics.Accuracy {
		t.Fatalf("model state or accuracy metric not updated")
	}

	before := p.calls.Load()
	first, err := svc.Predict(ctx, "AAA")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	second, err := svc.Predict(ctx, "aaa")
	if err != nil {
		t.Fatalf("predict cached: %v", err)
	}
	if p.calls.Load() != before+1 {
		t.Fatalf("expected one fetch for two predictions, got %d", p.calls.Load()-before)
	}
	if first.CombinedSentiment != second.CombinedSentiment || first.Confidence != second.Confidence {
		t.Fatalf("cached prediction differs")
	}

	types := pub.types()
	if len(types) != 1 || types[0] != models.EventSentimentTrained {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestSentimentTrainLocked(t *testing.T) {
	svc, _, mem, _, _ := sentimentFixture(t)
	_, ok, err := mem.TryLock(context.Background(), trainLockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("take lock: %v %v", ok, err)
	}
	if _, err := svc.Train(context.Background(), []string{"AAA", "BBB", "CCC"}); !errors.Is(err, models.ErrTrainingInProgress) {
		t.Fatalf("expected ErrTrainingInProgress, got %v", err)
	}
}

type fakeQueue struct {
	msgType string
	payload interface{}
}

func (q *fakeQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.msgType, q.payload = msgType, payload
	return "job-1", nil
}

func (q *fakeQueue) Status(_ context.Context, id string) (queue.JobStatus, error) {
	if id != "job-1" {
		return queue.JobStatus{}, queue.ErrJobNotFound
	}
	return queue.JobStatus{ID: id, State: queue.StateQueued}, nil
}

func TestEnqueueTraining(t *testing.T) {
	svc, _, _, _, _ := sentimentFixture(t)
	if _, err := svc.EnqueueTraining(context.Background(), []string{"A", "B", "C"}); !errors.Is(err, models.ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}

	q := &fakeQueue{}
	WithSentimentQueue(q)(svc)
	if _, err := svc.EnqueueTraining(context.Background(), []string{"a", "A"}); !errors.Is(err, models.ErrNotEnoughSymbols) {
		t.Fatalf("expected ErrNotEnoughSymbols, got %v", err)
	}
	id, err := svc.EnqueueTraining(context.Background(), []string{"a", "b", "c"})
	if err != nil || id != "job-1" {
		t.Fatalf("enqueue: %q %v", id, err)
	}
	p, ok := q.payload.(TrainPayload)
	if !ok || q.msgType != TrainJobType || len(p.Symbols) != 3 || p.Symbols[0] != "A" {
		t.Fatalf("unexpected queued message %q %+v", q.msgType, q.payload)
	}
	st, err := svc.JobStatus(context.Background(), "job-1")
	if err != nil || st.State != queue.StateQueued {
		t.Fatalf("status: %+v %v", st, err)
	}
}

func TestTrainJobRejectsBadPayload(t *testing.T) {
	svc, _, _, _, _ := sentimentFixture(t)
	job := NewTrainJob(svc)
	if err := job.Handle(context.Background(), "id", []byte(`{"symbols":`)); !queue.IsPermanent(err) {
		t.Fatalf("expected permanent payload error, got %v", err)
	}
	err := job.Handle(context.Background(), "id", []byte(`{"symbols":["AAA"]}`))
	if !errors.Is(err, models.ErrNotEnoughSymbols) || !queue.IsPermanent(err) {
		t.Fatalf("expected permanent ErrNotEnoughSymbols, got %v", err)
	}
}

func TestTrainJobRetriesOnlyTransientFailures(t *testing.T) {
	svc, _, mem, _, _ := sentimentFixture(t)
	job := NewTrainJob(svc)

	err := job.Handle(context.Background(), "id", []byte(`{"symbols":["XXX","YYY","ZZZ"]}`))
	if err == nil || !queue.IsPermanent(err) {
		t.Fatalf("symbols without history should fail permanently, got %v", err)
	}

	if _, ok, err := mem.TryLock(context.Background(), trainLockKey, time.Minute); err != nil || !ok {
		t.Fatalf("take lock: %v %v", ok, err)
	}
	err = job.Handle(context.Background(), "id", []byte(`{"symbols":["AAA","BBB","CCC"]}`))
	if !errors.Is(err, models.ErrTrainingInProgress) || queue.IsPermanent(err) {
		t.Fatalf("a held training lock should be retryable, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	svc := NewHistoryService(portfolioPrices())
	s, err := svc.History(context.Background(), " aaa ", 365)
	if err != nil || s.Len() != 253 {
		t.Fatalf("history: %d %v", s.Len(), err)
	}
	if _, err := svc.History(context.Background(), "NOPE", 365); !errors.Is(err, models.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

type fakeStore struct {
	bars []models.DailyBar
	err  error
}

func (s *fakeStore) Init(context.Context) error { return nil }
func (s *fakeStore) GetBars(context.Context, string, time.Time, time.Time) ([]models.DailyBar, error) {
	return s.bars, nil
}
func (s *fakeStore) SaveBars(_ context.Context, bars []models.DailyBar) error {
	s.bars = append(s.bars, bars...)
	return s.err
}
func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

func TestBarsIngestHandler(t *testing.T) {
	st := &fakeStore{}
	h := NewBarsIngestHandler("quant.daily_bars", st, nil)
	if h.Topic() != "quant.daily_bars" {
		t.Fatalf("unexpected topic %q", h.Topic())
	}

	if err := h.Handle(context.Background(), []byte(`{"symbol":"aapl","date":"2024-03-01","close":180.5,"volume":1000}`)); err != nil {
		t.Fatalf("single: %v", err)
	}
	msg := `[{"symbol":"msft","date":"2024-03-01T15:30:00Z","close":400},{"symbol":"bad","date":"nope","close":1},{"symbol":"neg","date":"2024-03-01","close":-1}]`
	if err := h.Handle(context.Background(), []byte(msg)); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(st.bars) != 2 {
		t.Fatalf("expected 2 stored bars, got %d", len(st.bars))
	}
	b := st.bars[1]
	if b.Symbol != "MSFT" || b.Source != "kafka" || !b.Date.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bar %+v", b)
	}
	if err := h.Handle(context.Background(), []byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}

	st.err = errors.New("down")
	if err := h.Handle(context.Background(), []byte(`{"symbol":"x","date":"2024-03-02","close":1}`)); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestSentimentTrainFailurePublishes(t *testing.T) {
	svc, _, _, pub, _ := sentimentFixture(t)
	_, err := svc.Train(context.Background(), []string{"X", "Y", "Z"})
	if !errors.Is(err, models.ErrInsufficientTrainingData) {
		t.Fatalf("expected ErrInsufficientTrainingData, got %v", err)
	}
	if got := pub.types(); len(got) != 1 || got[0] != models.EventSentimentTrainFailed {
		t.Fatalf("expected train_failed event, got %v", got)
	}
	// the lock is released after a failure
	if _, err := svc.Train(context.Background(), []string{"AAA", "BBB", "CCC"}); err != nil {
		t.Fatalf("train after failure: %v", err)
	}
}
