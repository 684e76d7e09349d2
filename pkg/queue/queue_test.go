package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

type trainPayload struct {
	Symbols []string `json:"symbols"`
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload[trainPayload](json.RawMessage(`{"symbols":["AAPL","MSFT","GOOG"]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Symbols) != 3 || p.Symbols[2] != "GOOG" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if _, err := ParsePayload[trainPayload](nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	if _, err := ParsePayload[trainPayload](json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("expected error for wrong shape")
	}
}

func TestOutcome(t *testing.T) {
	failed := errors.New("boom")
	if outcome(Message{Attempts: 0}, 2, failed) != StateRetrying {
		t.Fatalf("first failure should retry")
	}
	if outcome(Message{Attempts: 2}, 2, failed) != StateFailed {
		t.Fatalf("failure at the limit should be final")
	}
	if outcome(Message{}, 0, failed) != StateFailed {
		t.Fatalf("no retries configured should fail immediately")
	}
	if outcome(Message{Attempts: 0}, 3, Permanent(failed)) != StateFailed {
		t.Fatalf("permanent failure should not retry")
	}
	wrapped := fmt.Errorf("train: %w", Permanent(failed))
	if outcome(Message{Attempts: 0}, 3, wrapped) != StateFailed {
		t.Fatalf("wrapped permanent failure should not retry")
	}
}

func TestPermanentKeepsCause(t *testing.T) {
	cause := errors.New("bad input")
	err := Permanent(cause)
	if !errors.Is(err, cause) || err.Error() != "bad input" {
		t.Fatalf("permanent error lost its cause: %v", err)
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) should be nil")
	}
	if _, err := ParsePayload[trainPayload](json.RawMessage(`[1,2]`)); !IsPermanent(err) {
		t.Fatalf("payload errors should be permanent, got %v", err)
	}
}

func TestSetResult(t *testing.T) {
	slot := &resultSlot{}
	ctx := context.WithValue(context.Background(), resultKey{}, slot)
	SetResult(ctx, map[string]float64{"accuracy": 0.5})
	if string(slot.data) != `{"accuracy":0.5}` {
		t.Fatalf("unexpected result %s", slot.data)
	}
	SetResult(context.Background(), 1) // no slot, no panic
}

func TestKeys(t *testing.T) {
	q := NewRedisQueue(nil, QueueConfig{}, nil, WithKeyPrefix("p"))
	if q.queueKey() != "p:messages" || q.statusKey("x") != "p:status:x" {
		t.Fatalf("unexpected keys")
	}
	if q.config.Workers != 1 || q.config.StatusTTL == 0 {
		t.Fatalf("defaults not applied: %+v", q.config)
	}
}
