package mailer

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
)

// MockTransport simulates sending, failing with the configured probability.
type MockTransport struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	failureRate float64
}

func NewMockTransport(failureRate float64, seed int64) *MockTransport {
	return &MockTransport{rnd: rand.New(rand.NewSource(seed)), failureRate: failureRate}
}

func (m *MockTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, a := range msg.Attachments {
		if _, err := io.Copy(io.Discard, a.Content); err != nil {
			return err
		}
	}
	m.mu.Lock()
	r := m.rnd.Float64()
	m.mu.Unlock()
	if r < m.failureRate {
		return fmt.Errorf("mock sending to %s failed", msg.To)
	}
	return nil
}

// SentMessage is a Message whose attachments have been read into memory.
type SentMessage struct {
	Message
	AttachmentData map[string][]byte
}

// Recorder keeps every message it is given. FailFor makes chosen
// addresses fail with a fixed error.
type Recorder struct {
	mu      sync.Mutex
	sent    []SentMessage
	FailFor map[string]error
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	if err, ok := r.FailFor[msg.To]; ok {
		return err
	}
	rec := SentMessage{Message: msg, AttachmentData: map[string][]byte{}}
	for _, a := range msg.Attachments {
		b, err := io.ReadAll(a.Content)
		if err != nil {
			return err
		}
		rec.AttachmentData[a.Filename] = b
	}
	rec.Attachments = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, rec)
	return nil
}

func (r *Recorder) Sent() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SentMessage, len(r.sent))
	copy(out, r.sent)
	return out
}
