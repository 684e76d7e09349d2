package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"QuantEngine/internal/domain/models"
	domrepo "QuantEngine/internal/domain/repository"
	"QuantEngine/internal/services/sentiment"
	"QuantEngine/pkg/cache"
	applogger "QuantEngine/pkg/logger"
	"QuantEngine/pkg/queue"
	"QuantEngine/pkg/util"
)

const (
	trainLockKey = "sentiment:train:lock"
	// TrainJobType routes queued training messages to TrainJob.
	TrainJobType = "sentiment.train"
)

// Enqueuer is the part of the job queue the sentiment service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
	Status(ctx context.Context, id string) (queue.JobStatus, error)
}

type SentimentConfig struct {
	CacheTTL time.Duration
	// LockTTL bounds how long a crashed replica can block training elsewhere.
	LockTTL time.Duration
}

// SentimentService adds memoization, a cross-replica training lock, events
// and async training on top of the classifier.
type SentimentService struct {
	cfg     SentimentConfig
	clf     *sentiment.Classifier
	cache   cache.Service
	jobs    Enqueuer
	metrics domrepo.Metrics
	events  domrepo.EventPublisher
	log     *applogger.Logger
}

type SentimentOption func(*SentimentService)

func WithSentimentCache(c cache.Service) SentimentOption {
	return func(s *SentimentService) { s.cache = c }
}

func WithSentimentQueue(q Enqueuer) SentimentOption {
	return func(s *SentimentService) { s.jobs = q }
}

func WithSentimentMetrics(m domrepo.Metrics) SentimentOption {
	return func(s *SentimentService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithSentimentEvents(p domrepo.EventPublisher) SentimentOption {
	return func(s *SentimentService) { s.events = p }
}

func NewSentimentService(cfg SentimentConfig, clf *sentiment.Classifier, l *applogger.Logger, opts ...SentimentOption) *SentimentService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if l == nil {
		l = applogger.NewNop()
	}
	s := &SentimentService{
		cfg:     cfg,
		clf:     clf,
		metrics: nopMetrics{},
		log:     l.Component("sentiment_service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SentimentService) ModelTrained() bool { return s.clf.Trained() }

func (s *SentimentService) Metrics() (models.TrainingMetrics, bool) { return s.clf.Metrics() }

// cachedPrediction ties a memoized prediction to the model that produced it,
// so retraining invalidates older entries.
type cachedPrediction struct {
	TrainingID string                     `json:"training_id"`
	Prediction models.SentimentPrediction `json:"prediction"`
}

func predictionKey(symbol string) string { return cache.Key("sentiment", symbol) }

// Predict classifies symbol. Without a trained model it returns the neutral
// zero-confidence prediction.
func (s *SentimentService) Predict(ctx context.Context, symbol string) (models.SentimentPrediction, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	current, trained := s.clf.Metrics()
	if !trained {
		return models.NeutralPrediction(symbol, s.clf.ModelVersion(), time.Now().UTC()), nil
	}

	key := predictionKey(symbol)
	if s.cache != nil {
		var hit cachedPrediction
		err := s.cache.Get(ctx, key, &hit)
		switch {
		case err == nil && hit.TrainingID == current.TrainingID:
			return hit.Prediction, nil
		case err != nil && !errors.Is(err, cache.ErrCacheMiss):
			s.log.Warn("sentiment cache get failed", applogger.String("key", key), applogger.Error(err))
		}
	}

	start := time.Now()
	pred, err := s.clf.Predict(ctx, symbol)
	if errors.Is(err, models.ErrModelNotTrained) {
		return models.NeutralPrediction(symbol, s.clf.ModelVersion(), time.Now().UTC()), nil
	}
	if err != nil {
		s.metrics.RecordError("sentiment_predict")
		return models.SentimentPrediction{}, err
	}
	s.metrics.RecordLatency("sentiment_predict", time.Since(start).Seconds())

	if s.cache != nil {
		entry := cachedPrediction{TrainingID: current.TrainingID, Prediction: pred}
		if err := s.cache.Set(ctx, key, entry, s.cfg.CacheTTL); err != nil {
			s.log.Warn("sentiment cache set failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return pred, nil
}

// Train fits a new model. While another replica trains it fails with
// ErrTrainingInProgress; a cache outage does not block training.
func (s *SentimentService) Train(ctx context.Context, raw []string) (models.TrainingMetrics, error) {
	symbols := util.NormalizeSymbols(raw)
	if len(symbols) < sentiment.MinTrainingSymbols {
		return models.TrainingMetrics{}, fmt.Errorf("%w: training needs at least %d symbols, got %d",
			models.ErrNotEnoughSymbols, sentiment.MinTrainingSymbols, len(symbols))
	}

	if s.cache != nil {
		token, ok, err := s.cache.TryLock(ctx, trainLockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.log.Warn("training lock unavailable, continuing", applogger.Error(err))
		case !ok:
			return models.TrainingMetrics{}, models.ErrTrainingInProgress
		default:
			defer func() {
				if err := s.cache.Unlock(context.WithoutCancel(ctx), trainLockKey, token); err != nil {
					s.log.Warn("training unlock failed", applogger.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	m, err := s.clf.Train(ctx, symbols)
	if err != nil {
		s.metrics.RecordError("sentiment_train")
		publish(ctx, s.events, s.log, models.EventSentimentTrainFailed, map[string]interface{}{
			"symbols": symbols,
			"error":   err.Error(),
		})
		return models.TrainingMetrics{}, err
	}
	s.metrics.RecordModelAccuracy(m.Accuracy)
	s.metrics.RecordLatency("sentiment_train", time.Since(start).Seconds())
	publish(ctx, s.events, s.log, models.EventSentimentTrained, m)
	return m, nil
}

type TrainPayload struct {
	Symbols []string `json:"symbols"`
}

// EnqueueTraining validates symbols and queues a training job.
func (s *SentimentService) EnqueueTraining(ctx context.Context, raw []string) (string, error) {
	if s.jobs == nil {
		return "", models.ErrQueueUnavailable
	}
	symbols := util.NormalizeSymbols(raw)
	if len(symbols) < sentiment.MinTrainingSymbols {
		return "", fmt.Errorf("%w: training needs at least %d symbols, got %d",
			models.ErrNotEnoughSymbols, sentiment.MinTrainingSymbols, len(symbols))
	}
	id, err := s.jobs.Enqueue(ctx, TrainJobType, TrainPayload{Symbols: symbols})
	if err != nil {
		return "", fmt.Errorf("enqueue training: %w", err)
	}
	s.log.Info("training job queued", applogger.String("job_id", id), applogger.Strings("symbols", symbols))
	return id, nil
}

func (s *SentimentService) JobStatus(ctx context.Context, id string) (queue.JobStatus, error) {
	if s.jobs == nil {
		return queue.JobStatus{}, models.ErrQueueUnavailable
	}
	return s.jobs.Status(ctx, id)
}
