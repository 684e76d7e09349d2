package queue

import (
	"context"
	"encoding/json"
	"errors"
)

// Job handles messages of one type.
type Job interface {
	Name() string
	// Type is the message type routed to this job.
	Type() string
	Handle(ctx context.Context, id string, payload json.RawMessage) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to
// the dead-letter list.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
