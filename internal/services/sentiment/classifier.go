package sentiment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/domain/repository"
	"QuantEngine/internal/services/features"
	applogger "QuantEngine/pkg/logger"

	"github.com/google/uuid"
)

const MinTrainingSymbols = 3

// Runner executes CPU-bound work, usually on a bounded pool.
type Runner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

type inlineRunner struct{}

func (inlineRunner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

type Config struct {
	Forest       ForestConfig
	TestFraction float64
	Horizon      int
	Threshold    float64
	MinRows      int
	TrainDays    int
	PredictDays  int
	ModelVersion string
	// FetchConcurrency bounds parallel price fetches during training.
	FetchConcurrency int
}

func DefaultConfig() Config {
	return Config{
		Forest:           ForestConfig{Trees: 150, MaxDepth: 10, MinLeaf: 2, Seed: 42},
		TestFraction:     0.2,
		Horizon:          5,
		Threshold:        0.02,
		MinRows:          30,
		TrainDays:        365,
		PredictDays:      240,
		ModelVersion:     "rf-tech-1",
		FetchConcurrency: 4,
	}
}

// Snapshot is an immutable trained model.
type Snapshot struct {
	Scaler  *Scaler
	Forest  *Forest
	Metrics models.TrainingMetrics
}

// Classifier predicts the technical sentiment of a symbol. Predictions read
// the current snapshot without locking; training builds a new snapshot and
// swaps it in.
type Classifier struct {
	cfg    Config
	prices repository.PriceProvider
	runner Runner
	log    *applogger.Logger
	now    func() time.Time

	model   atomic.Pointer[Snapshot]
	trainMu sync.Mutex
}

type Option func(*Classifier)

func WithRunner(r Runner) Option {
	return func(c *Classifier) {
		if r != nil {
			c.runner = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

func NewClassifier(cfg Config, prices repository.PriceProvider, l *applogger.Logger, opts ...Option) *Classifier {
	if l == nil {
		l = applogger.NewNop()
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	c := &Classifier{
		cfg:    cfg,
		prices: prices,
		runner: inlineRunner{},
		log:    l.Component("sentiment"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) ModelVersion() string { return c.cfg.ModelVersion }

func (c *Classifier) Trained() bool { return c.model.Load() != nil }

// Metrics returns the metrics of the current model.
func (c *Classifier) Metrics() (models.TrainingMetrics, bool) {
	s := c.model.Load()
	if s == nil {
		return models.TrainingMetrics{}, false
	}
	return s.Metrics, true
}

type symbolData struct {
	symbol string
	rows   []models.FeatureRow
	labels []models.SentimentLabel
}

// Train fits a new model on the given symbols and publishes it. Concurrent
// calls run one after another.
func (c *Classifier) Train(ctx context.Context, symbols []string) (models.TrainingMetrics, error) {
	if len(symbols) < MinTrainingSymbols {
		return models.TrainingMetrics{}, fmt.Errorf("%w: training needs at least %d symbols, got %d",
			models.ErrNotEnoughSymbols, MinTrainingSymbols, len(symbols))
	}

	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	start := time.Now()
	data := c.collect(ctx, symbols)
	if err := ctx.Err(); err != nil {
		return models.TrainingMetrics{}, err
	}

	var (
		x       [][]float64
		y       []int
		used    []string
		skipped []string
	)
	for _, d := range data {
		if len(d.rows) < c.cfg.MinRows {
			skipped = append(skipped, d.symbol)
			continue
		}
		used = append(used, d.symbol)
		for i, r := range d.rows {
			x = append(x, append([]float64(nil), r.Values[:]...))
			y = append(y, labelIndex(d.labels[i]))
		}
	}
	if len(used) == 0 {
		return models.TrainingMetrics{}, fmt.Errorf("%w: no symbol produced %d labeled rows",
			models.ErrInsufficientTrainingData, c.cfg.MinRows)
	}

	var snap *Snapshot
	err := c.runner.Run(ctx, func(ctx context.Context) error {
		var err error
		snap, err = c.fit(ctx, x, y)
		return err
	})
	if err != nil {
		return models.TrainingMetrics{}, err
	}

	snap.Metrics.SymbolsUsed = used
	snap.Metrics.SymbolsSkipped = skipped
	c.model.Store(snap)

	c.log.Info("sentiment model trained",
		applogger.String("training_id", snap.Metrics.TrainingID),
		applogger.Float64("accuracy", snap.Metrics.Accuracy),
		applogger.Int("train_samples", snap.Metrics.TrainingSamples),
		applogger.Int("test_samples", snap.Metrics.TestSamples),
		applogger.Strings("skipped", skipped),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return snap.Metrics, nil
}

// collect fetches history and builds labeled rows per symbol, keeping input order.
func (c *Classifier) collect(ctx context.Context, symbols []string) []symbolData {
	out := make([]symbolData, len(symbols))
	sem := make(chan struct{}, c.cfg.FetchConcurrency)
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[i] = symbolData{symbol: sym}
				return
			}
			series := c.prices.Fetch(ctx, sym, c.cfg.TrainDays)
			rows, labels := features.LabeledRows(series, c.cfg.Horizon, c.cfg.Threshold)
			out[i] = symbolData{symbol: sym, rows: rows, labels: labels}
			if series.Empty() {
				c.log.Warn("no training data", applogger.String("symbol", sym))
			}
		}(i, sym)
	}
	wg.Wait()
	return out
}

func (c *Classifier) fit(ctx context.Context, x [][]float64, y []int) (*Snapshot, error) {
	trainIdx, testIdx := StratifiedSplit(y, c.cfg.TestFraction, c.cfg.Forest.Seed)

	trainX, trainY := subset(x, y, trainIdx)
	testX, testY := subset(x, y, testIdx)

	scaler := FitScaler(trainX)
	forest, err := FitForest(ctx, scaler.TransformAll(trainX), trainY, len(models.Labels), c.cfg.Forest)
	if err != nil {
		return nil, err
	}

	var correct int
	for i, row := range testX {
		if pred, _ := forest.Predict(scaler.Transform(row)); pred == testY[i] {
			correct++
		}
	}
	var accuracy float64
	if len(testX) > 0 {
		accuracy = float64(correct) / float64(len(testX))
	}

	importance := make(map[string]float64, models.NumFeatures)
	for j, v := range forest.Importance() {
		importance[models.FeatureNames[j]] = v
	}
	counts := make(map[string]int, len(models.Labels))
	for _, l := range models.Labels {
		counts[string(l)] = 0
	}
	for _, k := range y {
		counts[string(models.Labels[k])]++
	}

	return &Snapshot{
		Scaler: scaler,
		Forest: forest,
		Metrics: models.TrainingMetrics{
			TrainingID:        uuid.NewString(),
			Accuracy:          accuracy,
			FeatureImportance: importance,
			TrainingSamples:   len(trainX),
			TestSamples:       len(testX),
			ClassCounts:       counts,
			ModelVersion:      c.cfg.ModelVersion,
			TrainedAt:         c.now(),
		},
	}, nil
}

// Predict classifies the latest feature row of symbol. Without a trained
// model it fails with ErrModelNotTrained; without a usable row it returns a
// neutral prediction with zero confidence.
func (c *Classifier) Predict(ctx context.Context, symbol string) (models.SentimentPrediction, error) {
	snap := c.model.Load()
	if snap == nil {
		return models.SentimentPrediction{}, models.ErrModelNotTrained
	}

	series := c.prices.Fetch(ctx, symbol, c.cfg.PredictDays)
	if err := ctx.Err(); err != nil {
		return models.SentimentPrediction{}, err
	}
	row, ok := features.Latest(series)
	if !ok {
		c.log.Debug("no usable feature row", applogger.String("symbol", symbol), applogger.Int("points", series.Len()))
		return models.NeutralPrediction(symbol, c.cfg.ModelVersion, c.now()), nil
	}

	var probs []float64
	err := c.runner.Run(ctx, func(context.Context) error {
		probs = snap.Forest.PredictProba(snap.Scaler.Transform(row.Values[:]))
		return nil
	})
	if err != nil {
		return models.SentimentPrediction{}, err
	}

	best := 0
	probMap := make(map[string]float64, len(probs))
	for k, p := range probs {
		probMap[string(models.Labels[k])] = p
		if p > probs[best] {
			best = k
		}
	}
	label := models.Labels[best]
	return models.SentimentPrediction{
		Symbol:                 symbol,
		TechnicalSentiment:     label,
		TechnicalProbabilities: probMap,
		NewsSentiment:          models.NewsSentiment{SentimentLabel: models.SentimentNeutral},
		CombinedSentiment:      label,
		Confidence:             probs[best],
		ModelVersion:           c.cfg.ModelVersion,
		Timestamp:              c.now(),
	}, nil
}

func labelIndex(l models.SentimentLabel) int {
	for i, v := range models.Labels {
		if v == l {
			return i
		}
	}
	return 1
}

func subset(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	sort.Ints(idx)
	ox := make([][]float64, len(idx))
	oy := make([]int, len(idx))
	for k, i := range idx {
		ox[k] = x[i]
		oy[k] = y[i]
	}
	return ox, oy
}
