package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	mid "QuantEngine/internal/middleware"
	"QuantEngine/internal/service/events"
	"QuantEngine/internal/usecase"
	"QuantEngine/pkg/config"
	xhttp "QuantEngine/pkg/http"
	pkgkafka "QuantEngine/pkg/kafka"
	applogger "QuantEngine/pkg/logger"
	"QuantEngine/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	pool       *mid.ComputePool
	queue      *queue.RedisQueue
	consumer   *pkgkafka.Consumer
	hub        *events.Hub

	Portfolio *usecase.PortfolioService
	Sentiment *usecase.SentimentService
}

// New creates a new App. queue and consumer may be nil when Redis or
// Kafka are disabled.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	pool *mid.ComputePool,
	q *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	hub *events.Hub,
	portfolio *usecase.PortfolioService,
	sentiment *usecase.SentimentService,
) *App {
	return &App{
		cfg:        cfg,
		log:        l.Component("app"),
		httpServer: srv,
		pool:       pool,
		queue:      q,
		consumer:   consumer,
		hub:        hub,
		Portfolio:  portfolio,
		Sentiment:  sentiment,
	}
}

// StartCompute starts only the compute pool, for one-shot commands.
func (a *App) StartCompute() { a.pool.Start() }

// StopCompute stops the compute pool.
func (a *App) StopCompute() { a.pool.Stop() }

// Run starts every component and blocks until ctx is done or an
// interrupt arrives, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.pool.Start()
	a.log.Info("compute pool started", applogger.Int("workers", a.pool.Workers()))

	if a.queue != nil {
		if err := a.queue.Start(ctx); err != nil {
			a.pool.Stop()
			return err
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Start(ctx); err != nil {
			a.log.Error("kafka consumer start failed", applogger.Error(err))
		}
	}

	if err := a.httpServer.Start(); err != nil {
		return errors.Join(err, a.shutdown(context.Background()))
	}
	a.log.Info("quant engine started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		a.log.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer stop()
	return a.shutdown(shutdownCtx)
}

// shutdown stops intake first, then background workers, then compute.
func (a *App) shutdown(ctx context.Context) error {
	var errs []error

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}
	if err := a.hub.Close(); err != nil {
		a.log.Warn("event hub close error", applogger.Error(err))
	}
	a.pool.Stop()

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
