package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Queue is the deferred task facility. Delivery is at-least-once.
type Queue interface {
	Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error
	Subscribe(topic string, handler Handler) error
}

// Handler processes one job. A non-nil error triggers a retry until the
// job's attempts are exhausted, unless the error is Permanent.
type Handler func(ctx context.Context, job Job) error

// Job wraps a message payload with retry info
type Job struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(err)
	}
	return nil
}

// DeadLetterFunc is invoked once a job will not be retried again.
type DeadLetterFunc func(ctx context.Context, job Job, err error)

type publishOptions struct {
	executeAt time.Time
}

type PublishOption func(*publishOptions)

// At defers execution until t. A zero or past t means now.
func At(t time.Time) PublishOption {
	return func(o *publishOptions) { o.executeAt = t }
}

func applyOptions(opts []PublishOption) publishOptions {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// retryDelay is the backoff before attempt+1.
func retryDelay(attempt int) time.Duration {
	return time.Duration(attempt*500) * time.Millisecond
}
