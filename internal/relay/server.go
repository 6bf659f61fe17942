// Package relay is an SMTP listener that accepts mail for relay inboxes and
// spools it until the next sync picks it up.
package relay

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/gigdesk/internal/metrics"
	"github.io/infrasutra/gigdesk/internal/sse"
	"github.io/infrasutra/gigdesk/internal/store"
)

const defaultDomain = "gigdesk"

type Spooler interface {
	InsertSpool(ctx context.Context, msg store.SpoolMessage) (store.SpoolMessage, error)
}

type Publisher interface {
	Publish(event sse.Event, topics ...string) error
}

type Options struct {
	Addr string
	// Addresses are the mailboxes this relay accepts mail for.
	Addresses    []string
	AuthEnabled  bool
	AuthUsername string
	AuthPassword string
}

var errNoMailbox = &smtp.SMTPError{
	Code:         550,
	EnhancedCode: smtp.EnhancedCode{5, 1, 1},
	Message:      "No such mailbox here",
}

var errMalformed = &smtp.SMTPError{
	Code:         554,
	EnhancedCode: smtp.EnhancedCode{5, 6, 0},
	Message:      "Message header could not be parsed",
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(spool Spooler, events Publisher, logger *slog.Logger, opts Options) *Server {
	addresses := make(map[string]struct{}, len(opts.Addresses))
	for _, addr := range opts.Addresses {
		if a := normalizeEmail(addr); a != "" {
			addresses[a] = struct{}{}
		}
	}
	backend := &backend{
		spool:        spool,
		events:       events,
		logger:       logger,
		addresses:    addresses,
		authEnabled:  opts.AuthEnabled,
		authUsername: opts.AuthUsername,
		authPassword: opts.AuthPassword,
	}
	server := smtp.NewServer(backend)
	server.Addr = opts.Addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp relay listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	spool        Spooler
	events       Publisher
	logger       *slog.Logger
	addresses    map[string]struct{}
	authEnabled  bool
	authUsername string
	authPassword string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

func (b *backend) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(b.authUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(b.authPassword)) == 1
	return userOK && passOK && b.authPassword != ""
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if s.backend.checkCredentials(username, password) {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	addr := normalizeEmail(to)
	if _, ok := s.backend.addresses[addr]; !ok {
		return errNoMailbox
	}
	for _, existing := range s.to {
		if existing == addr {
			return nil
		}
	}
	s.to = append(s.to, addr)
	return nil
}

// Data spools one copy of the message per accepted recipient.
func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if _, err := mail.CreateReader(bytes.NewReader(data)); err != nil && !message.IsUnknownCharset(err) {
		s.backend.logger.Warn("rejecting unparseable relay message", "from", s.from, "error", err)
		return errMalformed
	}

	ctx := context.Background()
	received := time.Now().UTC()
	for _, addr := range s.to {
		spooled, err := s.backend.spool.InsertSpool(ctx, store.SpoolMessage{
			InboxAddress: addr,
			EnvelopeFrom: s.from,
			Raw:          data,
			ReceivedAt:   received,
		})
		if err != nil {
			s.backend.logger.Error("spool relay message", "to", addr, "error", err)
			return err
		}
		metrics.RelayMessages.Inc()
		s.backend.logger.Debug("relay message spooled", "id", spooled.ID, "to", addr, "from", s.from)
	}

	if s.backend.events != nil {
		event := sse.Event{Name: "relay", Data: map[string]any{
			"from":       s.from,
			"to":         s.to,
			"receivedAt": received.Format(time.RFC3339),
		}}
		if err := s.backend.events.Publish(event, sse.TopicAdmins); err != nil {
			s.backend.logger.Warn("publish relay event", "error", err)
		}
	}
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
