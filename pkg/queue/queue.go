package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

type QueueConfig struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
	// StatusTTL bounds how long job status records are kept.
	StatusTTL time.Duration
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateRetrying  JobState = "retrying"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// JobStatus is the last known state of an enqueued message.
type JobStatus struct {
	ID        string          `json:"job_id"`
	Type      string          `json:"type"`
	State     JobState        `json:"state"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var out T
	if len(payload) == 0 {
		return nil, Permanent(fmt.Errorf("empty payload"))
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, Permanent(fmt.Errorf("unmarshal payload: %w", err))
	}
	return &out, nil
}

// outcome decides what happens to msg after a failed attempt.
func outcome(msg Message, limit int, err error) JobState {
	if !IsPermanent(err) && msg.Attempts < limit {
		return StateRetrying
	}
	return StateFailed
}
