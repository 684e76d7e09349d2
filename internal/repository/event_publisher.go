package repository

import (
	"context"

	"QuantEngine/internal/domain/models"
	domrepo "QuantEngine/internal/domain/repository"
	pkgkafka "QuantEngine/pkg/kafka"
)

// KafkaEventPublisher writes engine events keyed by event type.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) domrepo.EventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.EngineEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Type), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// FanoutPublisher delivers each event to every publisher and returns the
// first error.
type FanoutPublisher []domrepo.EventPublisher

func (f FanoutPublisher) Publish(ctx context.Context, ev models.EngineEvent) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f FanoutPublisher) Close() error {
	var first error
	for _, p := range f {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
