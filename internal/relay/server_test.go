package relay

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/gigdesk/internal/sse"
	"github.io/infrasutra/gigdesk/internal/store"
	"github.io/infrasutra/gigdesk/internal/testutil"
)

const sample = "From: guest@example.com\r\n" +
	"To: bookings@gigdesk.example\r\n" +
	"Subject: Availability\r\n" +
	"Date: Fri, 01 May 2026 10:00:00 +0000\r\n" +
	"Message-Id: <relay-1@example.com>\r\n" +
	"\r\n" +
	"Are you free in July?\r\n"

func startRelay(t *testing.T, opts Options) (*store.Store, *sse.Hub, string) {
	t.Helper()
	s := testutil.NewTestStore(t)
	hub := sse.NewHub()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(s, hub, testutil.NewLogger(), opts)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return s, hub, ln.Addr().String()
}

func dial(t *testing.T, addr string) *smtp.Client {
	t.Helper()
	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(c *smtp.Client, from string, to ...string) error {
	if err := c.Mail(from, nil); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(sample)); err != nil {
		return err
	}
	return w.Close()
}

func TestRelaySpoolsPerRecipient(t *testing.T) {
	s, hub, addr := startRelay(t, Options{Addresses: []string{"Bookings@gigdesk.example", "press@gigdesk.example"}})
	events, stop := hub.Subscribe(sse.TopicAdmins)
	defer stop()

	c := dial(t, addr)
	if err := send(c, "guest@example.com", "bookings@gigdesk.example", "PRESS@gigdesk.example"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Quit(); err != nil {
		t.Fatalf("quit: %v", err)
	}

	for _, mailbox := range []string{"bookings@gigdesk.example", "press@gigdesk.example"} {
		spooled, err := s.ListSpoolAfter(context.Background(), mailbox, 0, "", 10)
		if err != nil {
			t.Fatalf("ListSpoolAfter: %v", err)
		}
		if len(spooled) != 1 || spooled[0].EnvelopeFrom != "guest@example.com" {
			t.Fatalf("%s spool = %+v", mailbox, spooled)
		}
		if !strings.Contains(string(spooled[0].Raw), "Are you free in July?") {
			t.Fatalf("raw = %q", spooled[0].Raw)
		}
	}

	select {
	case frame := <-events:
		if !strings.HasPrefix(string(frame), "event: relay\n") {
			t.Fatalf("frame = %q", frame)
		}
	default:
		t.Fatal("no relay event published")
	}
}

func TestRelayRejectsUnknownMailbox(t *testing.T) {
	s, _, addr := startRelay(t, Options{Addresses: []string{"bookings@gigdesk.example"}})

	c := dial(t, addr)
	err := send(c, "guest@example.com", "someone@elsewhere.example")
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 550 {
		t.Fatalf("send to unknown mailbox: %v", err)
	}

	spooled, _ := s.ListSpoolAfter(context.Background(), "someone@elsewhere.example", 0, "", 10)
	if len(spooled) != 0 {
		t.Fatalf("spooled %d messages for a foreign address", len(spooled))
	}
}

func TestRelayRequiresAuthWhenEnabled(t *testing.T) {
	opts := Options{
		Addresses:    []string{"bookings@gigdesk.example"},
		AuthEnabled:  true,
		AuthUsername: "gigdesk",
		AuthPassword: "s3cret",
	}
	s, _, addr := startRelay(t, opts)

	anon := dial(t, addr)
	var smtpErr *smtp.SMTPError
	if err := send(anon, "guest@example.com", "bookings@gigdesk.example"); !errors.As(err, &smtpErr) || smtpErr.Code < 500 {
		t.Fatalf("unauthenticated send: %v", err)
	}

	wrong := dial(t, addr)
	if err := wrong.Auth(sasl.NewPlainClient("", "gigdesk", "nope")); err == nil {
		t.Fatal("wrong password accepted")
	}

	c := dial(t, addr)
	if err := c.Auth(sasl.NewPlainClient("", "gigdesk", "s3cret")); err != nil {
		t.Fatalf("auth: %v", err)
	}
	if err := send(c, "guest@example.com", "bookings@gigdesk.example"); err != nil {
		t.Fatalf("authenticated send: %v", err)
	}
	spooled, _ := s.ListSpoolAfter(context.Background(), "bookings@gigdesk.example", 0, "", 10)
	if len(spooled) != 1 {
		t.Fatalf("spooled %d messages", len(spooled))
	}
}
