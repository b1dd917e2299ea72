package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	log "github.com/sirupsen/logrus"
)

// Message is one briefing email.
type Message struct {
	To       []string
	ReplyTo  string
	Subject  string
	Markdown string
	IsTest   bool
}

// Sender delivers briefing emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Transport moves an assembled MIME message to its recipients.
type Transport interface {
	Deliver(ctx context.Context, from string, to []string, raw []byte) error
}

// Mailer renders, assembles and hands messages to a Transport.
type Mailer struct {
	renderer  *Renderer
	transport Transport
	from      *mail.Address
	now       func() time.Time
}

// New creates a Mailer sending as from ("Name <addr>" or a bare address).
func New(renderer *Renderer, transport Transport, from string) (*Mailer, error) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	return &Mailer{renderer: renderer, transport: transport, from: addr, now: time.Now}, nil
}

// Send implements Sender.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("no recipients")
	}
	to := make([]*mail.Address, 0, len(msg.To))
	rcpt := make([]string, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid recipient %q: %w", raw, err)
		}
		to = append(to, addr)
		rcpt = append(rcpt, addr.Address)
	}

	rendered, err := m.renderer.Render(msg)
	if err != nil {
		return err
	}
	raw, err := BuildMIME(m.from, to, msg.ReplyTo, rendered, m.now())
	if err != nil {
		return err
	}
	if err := m.transport.Deliver(ctx, m.from.Address, rcpt, raw); err != nil {
		return err
	}
	log.Debugf("[Mailer] delivered %q to %d recipient(s)", rendered.Subject, len(rcpt))
	return nil
}

// BuildMIME assembles a multipart/alternative message with text and HTML parts.
func BuildMIME(from *mail.Address, to []*mail.Address, replyTo string, r *Rendered, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if replyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: replyTo}})
	}
	h.SetSubject(r.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	alt, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writePart(alt, "text/plain", r.Text); err != nil {
		return nil, err
	}
	if err := writePart(alt, "text/html", r.HTML); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(alt *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := alt.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	return w.Close()
}

// LogTransport logs deliveries instead of sending them.
type LogTransport struct{}

// Deliver implements Transport.
func (LogTransport) Deliver(_ context.Context, from string, to []string, raw []byte) error {
	log.Infof("[Mailer] dry-run: %s -> %s (%d bytes)", from, strings.Join(to, ", "), len(raw))
	return nil
}
