package usecase

import (
	"context"
	"time"

	"QuantEngine/internal/domain/models"
	domrepo "QuantEngine/internal/domain/repository"
	applogger "QuantEngine/pkg/logger"

	"github.com/google/uuid"
)

// Runner executes CPU-bound work, usually on the shared compute pool.
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

type nopMetrics struct{}

func (nopMetrics) RecordError(string)                {}
func (nopMetrics) RecordLatency(string, float64)     {}
func (nopMetrics) RecordSourceResult(string, string) {}
func (nopMetrics) RecordFallback(string)             {}
func (nopMetrics) RecordModelAccuracy(float64)       {}

const publishTimeout = 5 * time.Second

// publish sends an engine event without tying it to the request lifetime.
// Failures are logged only.
func publish(ctx context.Context, pub domrepo.EventPublisher, l *applogger.Logger, typ string, payload interface{}) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	ev := models.EngineEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := pub.Publish(ctx, ev); err != nil {
		l.Warn("publish event failed", applogger.String("type", typ), applogger.Error(err))
	}
}
