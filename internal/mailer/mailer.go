// Package mailer is the outbound mail transport used by the dispatch pipeline.
package mailer

import (
	"context"
	"io"
)

// Transport delivers one message. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	To          string
	Subject     string
	Body        string
	HTML        bool
	Attachments []Attachment
}

// Attachment content is read once, while the message is being written.
type Attachment struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) error

func (f TransportFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
