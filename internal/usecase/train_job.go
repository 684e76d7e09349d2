package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"QuantEngine/internal/domain/models"
	"QuantEngine/pkg/queue"
)

// TrainJob runs queued sentiment training requests.
type TrainJob struct {
	svc *SentimentService
}

func NewTrainJob(svc *SentimentService) *TrainJob {
	return &TrainJob{svc: svc}
}

func (j *TrainJob) Name() string { return "sentiment-train" }

func (j *TrainJob) Type() string { return TrainJobType }

func (j *TrainJob) Handle(ctx context.Context, id string, payload json.RawMessage) error {
	p, err := queue.ParsePayload[TrainPayload](payload)
	if err != nil {
		return err
	}
	m, err := j.svc.Train(ctx, p.Symbols)
	if err != nil {
		if retryable(err) {
			return err
		}
		return queue.Permanent(err)
	}
	queue.SetResult(ctx, m)
	return nil
}

// retryable reports whether a training failure may pass on a later attempt.
// Bad input and too little history fail the same way every time.
func retryable(err error) bool {
	switch {
	case errors.Is(err, models.ErrNotEnoughSymbols),
		errors.Is(err, models.ErrInsufficientTrainingData),
		errors.Is(err, models.ErrInsufficientHistory):
		return false
	}
	return true
}

var _ queue.Job = (*TrainJob)(nil)
