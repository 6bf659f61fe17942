// Package outbound sends replies from a booking inbox over SMTP.
package outbound

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/config"
	"github.io/infrasutra/gigdesk/internal/metrics"
)

// Sender is what the API needs to send a reply.
type Sender interface {
	Send(ctx context.Context, out Outgoing) (Sent, error)
}

type Outgoing struct {
	From       string
	To         []string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
}

// Sent is the message as it was submitted.
type Sent struct {
	MessageID string
	Raw       []byte
	Date      time.Time
}

type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is used when Outgoing.From is empty.
	From   string
	TLS    string
	Logger *slog.Logger
}

// OptionsFromConfig picks the outbound SMTP settings out of cfg.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		TLS:      cfg.SMTPTLS,
		Logger:   logger,
	}
}

type submitFunc func(addr string, auth sasl.Client, from string, to []string, r io.Reader) error

type Mailer struct {
	opts   Options
	logger *slog.Logger
	submit submitFunc
	now    func() time.Time
}

func NewMailer(opts Options) *Mailer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mailer{opts: opts, logger: logger, now: time.Now}
	switch opts.TLS {
	case config.TLSImplicit:
		m.submit = smtp.SendMailTLS
	case config.TLSNone:
		m.submit = sendPlain
	default:
		m.submit = smtp.SendMail
	}
	return m
}

// Configured reports whether an SMTP host has been set.
func (m *Mailer) Configured() bool {
	return m.opts.Host != ""
}

// Send builds the message and submits it. Failures to reach or talk to the
// server are Connection errors.
func (m *Mailer) Send(ctx context.Context, out Outgoing) (Sent, error) {
	const op = "outbound.Send"

	if !m.Configured() {
		return Sent{}, apperr.Validation(op, "outbound mail is not configured", nil)
	}
	from := strings.TrimSpace(out.From)
	if from == "" {
		from = m.opts.From
	}
	if from == "" || len(out.To) == 0 {
		return Sent{}, apperr.Validation(op, "sender and recipient are required", nil)
	}
	if err := ctx.Err(); err != nil {
		return Sent{}, apperr.Connection(op, err)
	}

	sent, err := m.build(from, out)
	if err != nil {
		return Sent{}, apperr.Internal(op, err)
	}

	addr := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
	var auth sasl.Client
	if m.opts.Username != "" {
		auth = sasl.NewPlainClient("", m.opts.Username, m.opts.Password)
	}
	if err := m.submit(addr, auth, from, out.To, bytes.NewReader(sent.Raw)); err != nil {
		metrics.OutboundMail.WithLabelValues("failed").Inc()
		m.logger.Error("outbound send failed", "addr", addr, "error", err)
		return Sent{}, apperr.Connection(op, fmt.Errorf("submit to %s: %w", addr, err))
	}
	metrics.OutboundMail.WithLabelValues("sent").Inc()
	m.logger.Info("outbound mail sent", "message_id", sent.MessageID, "to", strings.Join(out.To, ","))
	return sent, nil
}

func (m *Mailer) build(from string, out Outgoing) (Sent, error) {
	date := m.now().UTC().Truncate(time.Second)
	id := uuid.NewString() + "@" + domainOf(from)

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	to := make([]*mail.Address, 0, len(out.To))
	for _, addr := range out.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.SetSubject(out.Subject)
	h.SetMessageID(id)
	if out.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{out.InReplyTo})
	}
	if len(out.References) > 0 {
		h.SetMsgIDList("References", out.References)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return Sent{}, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, out.Body); err != nil {
		return Sent{}, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return Sent{}, fmt.Errorf("close message writer: %w", err)
	}
	return Sent{MessageID: id, Raw: buf.Bytes(), Date: date}, nil
}

// sendPlain submits without TLS, for local relays and tests.
func sendPlain(addr string, auth sasl.Client, from string, to []string, r io.Reader) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "gigdesk.local"
}

// ReplySubject prefixes subject with "Re: " unless it already has it.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}
