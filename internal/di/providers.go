package di

import (
	"context"
	"fmt"
	"time"

	domrepo "QuantEngine/internal/domain/repository"
	"QuantEngine/internal/handler/api"
	mid "QuantEngine/internal/middleware"
	internalrepo "QuantEngine/internal/repository"
	"QuantEngine/internal/service/events"
	svcmetrics "QuantEngine/internal/service/metrics"
	"QuantEngine/internal/service/ratelimit"
	"QuantEngine/internal/services/optimizer"
	"QuantEngine/internal/services/pricing"
	"QuantEngine/internal/services/sentiment"
	"QuantEngine/internal/usecase"
	"QuantEngine/pkg/cache"
	pkgch "QuantEngine/pkg/clickhouse"
	"QuantEngine/pkg/config"
	xhttp "QuantEngine/pkg/http"
	pkgkafka "QuantEngine/pkg/kafka"
	applogger "QuantEngine/pkg/logger"
	"QuantEngine/pkg/metrics"
	"QuantEngine/pkg/queue"
	"QuantEngine/pkg/server"

	"github.com/redis/go-redis/v9"
)

// Version is reported by / and /health.
var Version = "dev"

// ProvideKafkaProducer creates a Kafka producer, or nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the root logger. With a producer, repeated error
// logs are aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if producer == nil {
		return l, func() {}, nil
	}
	l.AddCollector(&applogger.CollectionConfig{
		Service:        cfg.Service,
		TimeInterval:   cfg.Log.CollectInterval,
		CountThreshold: cfg.Log.CollectThreshold,
		Topic:          cfg.Kafka.Topics.Logs,
		Publisher:      producer,
	})
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	svcmetrics.Register()
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse, or returns nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvidePriceStore wraps ClickHouse as the bar store and optionally
// creates its schema.
func ProvidePriceStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (domrepo.PriceStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHPriceStore(ch, l)
	if cfg.ClickHouse.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return store, nil
}

// ProvideRedisClient connects to Redis, or returns nil when disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, err
	}
	client := rc.Client()
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache layers a small in-process cache over Redis, or uses the
// in-process cache alone when Redis is disabled.
func ProvideCache(cfg *config.Config, rc *redis.Client) (cache.Service, func()) {
	mem := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Redis.MemoryCapacity))
	if rc == nil {
		return mem, func() { _ = mem.Close() }
	}
	layered := cache.NewLayeredCache(cache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix), mem, time.Minute)
	// the redis client is closed by its own provider
	return layered, func() { _ = mem.Close() }
}

// ProvideQueue creates the training job queue, or nil without Redis.
func ProvideQueue(cfg *config.Config, rc *redis.Client, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue:"+cfg.Queue.Name))
}

func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvidePriceChain assembles the configured price sources in fallback order.
func ProvidePriceChain(cfg *config.Config, store domrepo.PriceStore, m domrepo.Metrics, rl *ratelimit.Limiter, l *applogger.Logger) (*pricing.Chain, error) {
	pc := cfg.Pricing
	yahoo, err := pricing.NewYahooSource(pc.YahooPeriods, nil)
	if err != nil {
		return nil, err
	}
	// nil entries are sources that are configured off
	factories := map[string]domrepo.PriceSource{
		pricing.SourceClickHouse:   nil,
		pricing.SourceBackend:      pricing.NewBackendSource(pc.BackendURL, pc.BackendToken, xhttp.NewClient(xhttp.WithTimeout(pc.Timeout))),
		pricing.SourceYahoo:        yahoo,
		pricing.SourceAlphaVantage: nil,
	}
	if store != nil {
		factories[pricing.SourceClickHouse] = pricing.NewStoreSource(store)
	}
	if pc.AlphaVantage.APIKey != "" {
		av := pricing.NewAlphaVantageSource(pc.AlphaVantage.BaseURL, pc.AlphaVantage.APIKey, pc.Timeout)
		factories[pricing.SourceAlphaVantage] = pricing.NewLimited(av, rl, pc.RateLimit.Capacity, pc.RateLimit.RefillPerSec)
	}

	sources, err := pricing.Build(pc.Sources, factories)
	if err != nil {
		return nil, err
	}
	opts := []pricing.ChainOption{pricing.WithTimeout(pc.Timeout), pricing.WithMetrics(m)}
	if pc.StoreFetched && store != nil {
		opts = append(opts, pricing.WithStoreBack(store))
	}
	chain := pricing.NewChain(l, sources, opts...)
	l.Info("price chain ready", applogger.Strings("sources", chain.Sources()))
	return chain, nil
}

func ProvideComputePool(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) *mid.ComputePool {
	return mid.NewComputePool(
		mid.WithWorkers(cfg.Engine.ComputeWorkers),
		mid.WithQueueSize(cfg.Engine.ComputeQueue),
		mid.WithPoolMetrics(m),
		mid.WithPoolLogger(l),
		mid.WithQueueGauge(func(n int) { svcmetrics.ComputeQueueDepth.Set(float64(n)) }),
	)
}

func ProvideEventsHub(l *applogger.Logger) *events.Hub {
	return events.NewHub(l)
}

// ProvideEventPublisher fans events out to websocket subscribers and, when
// enabled, to Kafka.
func ProvideEventPublisher(cfg *config.Config, hub *events.Hub, producer *pkgkafka.Producer) domrepo.EventPublisher {
	pubs := internalrepo.FanoutPublisher{hub}
	if producer != nil {
		pubs = append(pubs, internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events))
	}
	return pubs
}

func ProvideOptimizer(cfg *config.Config, l *applogger.Logger) *optimizer.Optimizer {
	return optimizer.New(l,
		optimizer.WithRiskFreeRate(cfg.Engine.RiskFreeRate),
		optimizer.WithTradingDays(cfg.Engine.TradingDays),
		optimizer.WithMaxIterations(cfg.Engine.MaxIterations),
		optimizer.WithFrontierSeed(cfg.Engine.FrontierSeed),
	)
}

func ProvideClassifier(cfg *config.Config, chain *pricing.Chain, pool *mid.ComputePool, l *applogger.Logger) *sentiment.Classifier {
	sc := cfg.Sentiment
	scfg := sentiment.DefaultConfig()
	scfg.Forest = sentiment.ForestConfig{Trees: sc.Trees, MaxDepth: sc.MaxDepth, MinLeaf: sc.MinLeaf, Seed: sc.Seed}
	scfg.TestFraction = sc.TestFraction
	scfg.Horizon = sc.Horizon
	scfg.Threshold = sc.Threshold
	scfg.MinRows = sc.MinRows
	scfg.TrainDays = sc.TrainDays
	scfg.PredictDays = sc.PredictDays
	scfg.ModelVersion = sc.ModelVersion
	return sentiment.NewClassifier(scfg, chain, l, sentiment.WithRunner(pool))
}

func ProvidePortfolioService(cfg *config.Config, chain *pricing.Chain, opt *optimizer.Optimizer, pool *mid.ComputePool, m domrepo.Metrics, pub domrepo.EventPublisher, l *applogger.Logger) *usecase.PortfolioService {
	return usecase.NewPortfolioService(usecase.PortfolioConfig{
		LookbackDays:    cfg.Engine.LookbackDays,
		MinObservations: cfg.Engine.MinObservations,
		ComputeTimeout:  cfg.Engine.ComputeTimeout,
	}, chain, opt, l,
		usecase.WithPortfolioRunner(pool),
		usecase.WithPortfolioMetrics(m),
		usecase.WithPortfolioEvents(pub),
	)
}

func ProvideSentimentService(cfg *config.Config, clf *sentiment.Classifier, c cache.Service, q *queue.RedisQueue, m domrepo.Metrics, pub domrepo.EventPublisher, l *applogger.Logger) *usecase.SentimentService {
	opts := []usecase.SentimentOption{
		usecase.WithSentimentCache(c),
		usecase.WithSentimentMetrics(m),
		usecase.WithSentimentEvents(pub),
	}
	if q != nil {
		opts = append(opts, usecase.WithSentimentQueue(q))
	}
	return usecase.NewSentimentService(usecase.SentimentConfig{CacheTTL: cfg.Sentiment.CacheTTL}, clf, l, opts...)
}

func ProvideHistoryService(chain *pricing.Chain) *usecase.HistoryService {
	return usecase.NewHistoryService(chain)
}

// ProvideKafkaConsumer creates the bar ingest consumer, or nil when it is
// disabled or there is no store to write to.
func ProvideKafkaConsumer(cfg *config.Config, store domrepo.PriceStore, m domrepo.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	kc := cfg.Kafka.Consumer
	if !cfg.Kafka.Enabled || !kc.Enabled || store == nil {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(kc.GroupID),
		pkgkafka.WithConsumerWorkers(kc.Workers),
		pkgkafka.WithConsumerBufferSize(kc.BufferSize),
		pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.DLQTopic),
		pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook)
	consumer.RegisterHandler(usecase.NewBarsIngestHandler(cfg.Kafka.Topics.Bars, store, m))
	return consumer, nil
}

// ProvideHandlers lists every HTTP handler registered on the server.
func ProvideHandlers(
	cfg *config.Config,
	portfolio *usecase.PortfolioService,
	sent *usecase.SentimentService,
	history *usecase.HistoryService,
	rl *ratelimit.Limiter,
	hub *events.Hub,
	c cache.Service,
	store domrepo.PriceStore,
	producer *pkgkafka.Producer,
	l *applogger.Logger,
) []xhttp.Handler {
	checks := map[string]api.Check{"redis": nil, "clickhouse": nil, "kafka": nil}
	if cfg.Redis.Enabled {
		checks["redis"] = c.Ping
	}
	if store != nil {
		checks["clickhouse"] = store.Health
	}
	if producer != nil {
		checks["kafka"] = producer.Ping
	}
	return []xhttp.Handler{
		api.NewHealthHandler(cfg.Service, Version, checks, sent.ModelTrained, hub),
		api.NewPortfolioEchoHandler(l, portfolio),
		api.NewSentimentEchoHandler(l, sent, rl),
		api.NewMarketEchoHandler(l, history),
	}
}

func ProvideHTTPServer(cfg *config.Config, handlers []xhttp.Handler, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer(handlers, opts...)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	pool *mid.ComputePool,
	q *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	hub *events.Hub,
	portfolio *usecase.PortfolioService,
	sent *usecase.SentimentService,
) *server.App {
	if q != nil {
		q.RegisterJob(usecase.NewTrainJob(sent))
	}
	return server.New(cfg, l, srv, pool, q, consumer, hub, portfolio, sent)
}
