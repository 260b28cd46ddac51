package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InMemoryQueue runs every job on its own goroutine inside this process.
// Used for tests and single-process deployments.
type InMemoryQueue struct {
	mu          sync.Mutex
	handlers    map[string][]Handler
	maxAttempts int
	backoff     func(attempt int) time.Duration
	onDead      DeadLetterFunc
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type MemoryOption func(*InMemoryQueue)

func WithMaxAttempts(n int) MemoryOption {
	return func(q *InMemoryQueue) { q.maxAttempts = n }
}

// WithBackoff overrides the delay between attempts.
func WithBackoff(fn func(attempt int) time.Duration) MemoryOption {
	return func(q *InMemoryQueue) { q.backoff = fn }
}

func WithDeadLetter(fn DeadLetterFunc) MemoryOption {
	return func(q *InMemoryQueue) { q.onDead = fn }
}

func WithLogger(log zerolog.Logger) MemoryOption {
	return func(q *InMemoryQueue) { q.log = log }
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(opts ...MemoryOption) *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &InMemoryQueue{
		handlers:    make(map[string][]Handler),
		maxAttempts: 3,
		backoff:     retryDelay,
		log:         zerolog.Nop(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish hands the job to every subscriber of topic.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	if err := q.ctx.Err(); err != nil {
		return fmt.Errorf("queue closed: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	o := applyOptions(opts)

	for _, handler := range handlers {
		job := Job{
			ID:          uuid.NewString(),
			Topic:       topic,
			Payload:     body,
			Attempt:     1,
			MaxAttempts: q.maxAttempts,
		}
		q.wg.Add(1)
		go q.processJob(handler, job, time.Until(o.executeAt))
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler Handler, job Job, delay time.Duration) {
	defer q.wg.Done()

	if !q.sleep(delay) {
		return
	}
	for {
		err := handler(q.ctx, job)
		if err == nil {
			q.log.Debug().Str("topic", job.Topic).Str("job_id", job.ID).Int("attempt", job.Attempt).Msg("job processed")
			return // ACK
		}

		q.log.Warn().Err(err).Str("topic", job.Topic).Str("job_id", job.ID).
			Int("attempt", job.Attempt).Int("max_attempts", job.MaxAttempts).Msg("job failed")

		if IsPermanent(err) || job.Attempt >= job.MaxAttempts {
			if q.onDead != nil {
				q.onDead(q.ctx, job, err)
			}
			return // No requeue
		}

		if !q.sleep(q.backoff(job.Attempt)) {
			return
		}
		job.Attempt++
	}
}

func (q *InMemoryQueue) sleep(d time.Duration) bool {
	if d <= 0 {
		return q.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job, including jobs published by
// handlers while waiting, has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Close abandons pending jobs and waits for running handlers to return.
func (q *InMemoryQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
