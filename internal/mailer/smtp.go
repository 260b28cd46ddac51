package mailer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPTransport opens one SMTP session per message. The session is
// upgraded with STARTTLS whenever the server offers it, verifying the
// certificate against cfg.Host.
type SMTPTransport struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, addr string) (net.Conn, error)
	// tlsConfig overrides the STARTTLS config; nil means clientTLSConfig.
	tlsConfig *tls.Config
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	d := &net.Dialer{Timeout: 30 * time.Second}
	return &SMTPTransport{cfg: cfg, dial: func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}}
}

func (t *SMTPTransport) clientTLSConfig() *tls.Config {
	if t.tlsConfig != nil {
		return t.tlsConfig
	}
	return &tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	conn, err := t.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(t.clientTLSConfig()); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if t.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(t.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", msg.To, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if err := WriteMessage(w, t.cfg.From, msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end DATA: %w", err)
	}
	return c.Quit()
}

// WriteMessage renders msg as RFC 5322 / MIME. Attachments are streamed
// base64 encoded, so their size is not bounded by memory.
func WriteMessage(w io.Writer, from string, msg Message) error {
	bw := bufio.NewWriter(w)
	contentType := "text/plain; charset=UTF-8"
	if msg.HTML {
		contentType = "text/html; charset=UTF-8"
	}

	fmt.Fprintf(bw, "From: %s\r\n", from)
	fmt.Fprintf(bw, "To: %s\r\n", msg.To)
	fmt.Fprintf(bw, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(bw, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(bw, "MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		fmt.Fprintf(bw, "Content-Type: %s\r\n", contentType)
		fmt.Fprintf(bw, "Content-Transfer-Encoding: 8bit\r\n\r\n")
		bw.WriteString(normalizeNewlines(msg.Body))
		return bw.Flush()
	}

	mw := multipart.NewWriter(bw)
	fmt.Fprintf(bw, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(part, normalizeNewlines(msg.Body)); err != nil {
		return err
	}

	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType(ct, map[string]string{"name": a.Filename})},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
		})
		if err != nil {
			return err
		}
		enc := base64.NewEncoder(base64.StdEncoding, &lineBreaker{w: part})
		if _, err := io.Copy(enc, a.Content); err != nil {
			return fmt.Errorf("write attachment %s: %w", a.Filename, err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

const maxLineLength = 76

// lineBreaker wraps base64 output at 76 columns.
type lineBreaker struct {
	w   io.Writer
	col int
}

func (l *lineBreaker) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		room := maxLineLength - l.col
		chunk := p
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		written, err := l.w.Write(chunk)
		n += written
		if err != nil {
			return n, err
		}
		l.col += written
		p = p[written:]
		if l.col == maxLineLength {
			if _, err := l.w.Write([]byte("\r\n")); err != nil {
				return n, err
			}
			l.col = 0
		}
	}
	return n, nil
}
