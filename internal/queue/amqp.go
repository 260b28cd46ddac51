package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
)

const (
	TaskExchange  = "campaign.tasks"
	DelayExchange = "campaign.tasks.delay"
	DelayQueue    = "campaign.tasks.delay"

	headerAttempt = "x-attempt"
)

// AMQPQueue is the RabbitMQ-backed task facility. Every topic has its own
// durable queue bound to TaskExchange. Deferred jobs and retries wait in
// DelayQueue until their per-message TTL expires and are then dead-lettered
// into TaskExchange under their original routing key.
//
// RabbitMQ only expires messages at the head of a queue, so a long delay
// parked in front of a short one holds the short one back.
type AMQPQueue struct {
	conn *amqp.Connection

	pubMu sync.Mutex
	pub   *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
	handlers map[string]Handler

	maxAttempts int
	prefetch    int
	backoff     func(attempt int) time.Duration
	onDead      DeadLetterFunc
	log         zerolog.Logger
}

type AMQPOption func(*AMQPQueue)

func WithAMQPMaxAttempts(n int) AMQPOption {
	return func(q *AMQPQueue) { q.maxAttempts = n }
}

// WithPrefetch sets how many jobs per topic this process runs at once.
func WithPrefetch(n int) AMQPOption {
	return func(q *AMQPQueue) { q.prefetch = n }
}

func WithAMQPDeadLetter(fn DeadLetterFunc) AMQPOption {
	return func(q *AMQPQueue) { q.onDead = fn }
}

func WithAMQPLogger(log zerolog.Logger) AMQPOption {
	return func(q *AMQPQueue) { q.log = log }
}

// DialAMQP connects to the broker and declares the shared exchanges.
func DialAMQP(url string, opts ...AMQPOption) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	q := &AMQPQueue{
		conn:        conn,
		pub:         ch,
		declared:    make(map[string]bool),
		handlers:    make(map[string]Handler),
		maxAttempts: 3,
		prefetch:    4,
		backoff:     retryDelay,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.declareTopology(); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *AMQPQueue) declareTopology() error {
	for _, name := range []string{TaskExchange, DelayExchange} {
		if err := q.pub.ExchangeDeclare(
			name,     // name
			"direct", // kind
			true,     // durable
			false,    // delete when unused
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	_, err := q.pub.QueueDeclare(
		DelayQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-dead-letter-exchange": TaskExchange},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", DelayQueue, err)
	}
	return nil
}

// ensureTopic declares the topic queue and both bindings once per process.
func (q *AMQPQueue) ensureTopic(topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[topic] {
		return nil
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if _, err := q.pub.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	if err := q.pub.QueueBind(topic, topic, TaskExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", topic, err)
	}
	if err := q.pub.QueueBind(DelayQueue, topic, DelayExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind delay queue for %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.ensureTopic(topic); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	o := applyOptions(opts)
	return q.publish(topic, body, uuid.NewString(), 1, time.Until(o.executeAt))
}

func (q *AMQPQueue) publish(topic string, body []byte, id string, attempt int, delay time.Duration) error {
	msg := amqp.Publishing{
		Headers:      amqp.Table{headerAttempt: int32(attempt)},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Body:         body,
	}
	exchange := TaskExchange
	if delay > 0 {
		exchange = DelayExchange
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if err := q.pub.Publish(exchange, topic, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers the handler; consumption starts with Run.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	if err := q.ensureTopic(topic); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[topic]; ok {
		return fmt.Errorf("topic %s already has a subscriber", topic)
	}
	q.handlers[topic] = handler
	return nil
}

// Run consumes every subscribed topic until ctx is canceled or the broker
// connection drops.
func (q *AMQPQueue) Run(ctx context.Context) error {
	q.mu.Lock()
	handlers := make(map[string]Handler, len(q.handlers))
	for topic, h := range q.handlers {
		handlers[topic] = h
	}
	q.mu.Unlock()

	type consumer struct {
		topic   string
		handler Handler
		ch      *amqp.Channel
		msgs    <-chan amqp.Delivery
	}
	var consumers []consumer
	closeAll := func() {
		for _, c := range consumers {
			_ = c.ch.Close()
		}
	}
	for topic, h := range handlers {
		ch, err := q.conn.Channel()
		if err != nil {
			closeAll()
			return fmt.Errorf("failed to open a channel: %w", err)
		}
		if err := ch.Qos(q.prefetch, 0, false); err != nil {
			_ = ch.Close()
			closeAll()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
		msgs, err := ch.Consume(
			topic,
			"",
			false, // autoAck = false for reliability
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			_ = ch.Close()
			closeAll()
			return fmt.Errorf("failed to register consumer for %s: %w", topic, err)
		}
		consumers = append(consumers, consumer{topic: topic, handler: h, ch: ch, msgs: msgs})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		closeAll()
		return nil
	})
	for _, c := range consumers {
		for i := 0; i < q.prefetch; i++ {
			g.Go(func() error {
				for d := range c.msgs {
					q.handle(gctx, c.topic, c.handler, d)
				}
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel for %s closed", c.topic)
			})
		}
	}

	q.log.Info().Int("topics", len(handlers)).Int("prefetch", q.prefetch).Msg("worker running, waiting for jobs")
	return g.Wait()
}

func (q *AMQPQueue) handle(ctx context.Context, topic string, h Handler, d amqp.Delivery) {
	job := Job{
		ID:          d.MessageId,
		Topic:       topic,
		Payload:     json.RawMessage(d.Body),
		Attempt:     headerInt(d.Headers, headerAttempt, 1),
		MaxAttempts: q.maxAttempts,
	}
	log := q.log.With().Str("topic", topic).Str("job_id", job.ID).Int("attempt", job.Attempt).Logger()

	err := h(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if ctx.Err() != nil {
		// shutting down; hand the job back untouched
		_ = d.Nack(false, true)
		return
	}

	log.Warn().Err(err).Int("max_attempts", job.MaxAttempts).Msg("job failed")
	if IsPermanent(err) || job.Attempt >= job.MaxAttempts {
		if q.onDead != nil {
			q.onDead(ctx, job, err)
		}
		_ = d.Ack(false)
		return
	}

	if perr := q.publish(topic, d.Body, job.ID, job.Attempt+1, q.backoff(job.Attempt)); perr != nil {
		log.Error().Err(perr).Msg("failed to schedule retry, requeueing")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if q.pub != nil {
		_ = q.pub.Close()
	}
	return q.conn.Close()
}

func headerInt(h amqp.Table, key string, def int) int {
	switch v := h[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return def
	}
}

var _ Queue = (*AMQPQueue)(nil)
