package models

import "time"

const (
	EventOptimizationCompleted = "optimization.completed"
	EventSentimentTrained      = "sentiment.trained"
	EventSentimentTrainFailed  = "sentiment.train_failed"
)

// EngineEvent is published to Kafka and broadcast to websocket subscribers.
type EngineEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}
