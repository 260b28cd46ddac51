package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMessage_Plain(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, "noreply@example.com", Message{
		To:      "alice@example.com",
		Subject: "Spring sale",
		Body:    "<p>Hi</p>\nbye",
		HTML:    true,
	})
	require.NoError(t, err)

	m, err := mail.ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", m.Header.Get("To"))
	assert.Equal(t, "text/html; charset=UTF-8", m.Header.Get("Content-Type"))

	body, err := io.ReadAll(m.Body)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hi</p>\r\nbye", string(body))
}

func TestWriteMessage_Attachment(t *testing.T) {
	csv := strings.Repeat("someone@example.com,sent,,2026-01-01T00:00:00Z\n", 40)

	var buf bytes.Buffer
	err := WriteMessage(&buf, "noreply@example.com", Message{
		To:      "ops@example.com",
		Subject: "Campaign Report: Spring",
		Body:    "Attached campaign report.",
		Attachments: []Attachment{{
			Filename:    "Spring-report.csv",
			ContentType: "text/csv",
			Content:     strings.NewReader(csv),
		}},
	})
	require.NoError(t, err)

	m, err := mail.ReadMessage(&buf)
	require.NoError(t, err)
	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])

	text, err := mr.NextPart()
	require.NoError(t, err)
	b, _ := io.ReadAll(text)
	assert.Equal(t, "Attached campaign report.", string(b))

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "Spring-report.csv", att.FileName())

	raw, err := io.ReadAll(att)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\r\n") {
		assert.LessOrEqual(t, len(line), maxLineLength)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(raw), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, csv, string(decoded))

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMockTransport(t *testing.T) {
	ctx := context.Background()
	msg := Message{To: "a@example.com"}

	assert.NoError(t, NewMockTransport(0, 1).Send(ctx, msg))
	assert.Error(t, NewMockTransport(1, 1).Send(ctx, msg))
}

func TestRecorder(t *testing.T) {
	boom := errors.New("mailbox full")
	r := &Recorder{FailFor: map[string]error{"bad@example.com": boom}}
	ctx := context.Background()

	require.NoError(t, r.Send(ctx, Message{
		To:          "ok@example.com",
		Attachments: []Attachment{{Filename: "r.csv", Content: strings.NewReader("x")}},
	}))
	assert.ErrorIs(t, r.Send(ctx, Message{To: "bad@example.com"}), boom)

	sent := r.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ok@example.com", sent[0].To)
	assert.Equal(t, []byte("x"), sent[0].AttachmentData["r.csv"])
}

func TestRateLimited(t *testing.T) {
	rec := &Recorder{}
	assert.Same(t, Transport(rec), RateLimited(rec, 0))

	limited := RateLimited(rec, 20)
	start := time.Now()
	for i := 0; i < 25; i++ {
		require.NoError(t, limited.Send(context.Background(), Message{To: "x@example.com"}))
	}
	// 20 burst, the remaining 5 at 20/s
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Len(t, rec.Sent(), 25)
}

func TestRateLimited_ContextCanceled(t *testing.T) {
	limited := RateLimited(&Recorder{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, limited.Send(ctx, Message{}))
	cancel()
	assert.Error(t, limited.Send(ctx, Message{}))
}
