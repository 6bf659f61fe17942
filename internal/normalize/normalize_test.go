package normalize

import (
	"strings"
	"testing"
	"time"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/mailbox"
	"github.io/infrasutra/gigdesk/internal/store"
)

const inboxAddress = "bookings@gigdesk.example"

func raw(lines ...string) mailbox.RawMessage {
	return mailbox.RawMessage{
		UID:          "1",
		Raw:          []byte(strings.Join(lines, "\r\n")),
		InternalDate: time.Date(2026, 5, 1, 9, 30, 15, 500, time.UTC),
	}
}

func TestNormalizeInboundReply(t *testing.T) {
	rec, err := Normalize(raw(
		"From: Guest <Guest@Example.com>",
		"To: Bookings <bookings@gigdesk.example>",
		"Subject: Re: Wedding on the 12th",
		"Date: Fri, 01 May 2026 11:00:00 +0200",
		"Message-Id: <reply-2@example.com>",
		"In-Reply-To: <root-1@gigdesk.example>",
		"References: <root-1@gigdesk.example> <reply-1@example.com>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"  Sounds great, see you then.  ",
	), inboxAddress)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if rec.ExternalID != "reply-2@example.com" || rec.RFCMessageID != "reply-2@example.com" {
		t.Fatalf("ids = %q / %q", rec.ExternalID, rec.RFCMessageID)
	}
	if rec.InReplyTo != "root-1@gigdesk.example" {
		t.Fatalf("in-reply-to = %q", rec.InReplyTo)
	}
	if len(rec.References) != 2 || rec.References[1] != "reply-1@example.com" {
		t.Fatalf("references = %v", rec.References)
	}
	if rec.Direction != store.DirectionInbound || rec.Counterpart != "guest@example.com" {
		t.Fatalf("direction %s counterpart %q", rec.Direction, rec.Counterpart)
	}
	want := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if !rec.ReceivedAt.Equal(want) || rec.ReceivedAt.Location() != time.UTC {
		t.Fatalf("received = %v, want %v", rec.ReceivedAt, want)
	}
	if rec.Body != "Sounds great, see you then." {
		t.Fatalf("body = %q", rec.Body)
	}
}

func TestNormalizeOutboundCounterpartIsRecipient(t *testing.T) {
	rec, err := Normalize(raw(
		"From: bookings@gigdesk.example",
		"To: dj.client@example.com, other@example.com",
		"Subject: Your quote",
		"Message-Id: <quote-1@gigdesk.example>",
		"",
		"Quote attached.",
	), "Bookings@GigDesk.example")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.Direction != store.DirectionOutbound || rec.Counterpart != "dj.client@example.com" {
		t.Fatalf("direction %s counterpart %q", rec.Direction, rec.Counterpart)
	}
	// No Date header: the connector's internal date is used, truncated.
	if !rec.ReceivedAt.Equal(time.Date(2026, 5, 1, 9, 30, 15, 0, time.UTC)) {
		t.Fatalf("received = %v", rec.ReceivedAt)
	}
}

func TestNormalizeFallbackIDIsDeterministic(t *testing.T) {
	msg := raw(
		"From: Guest@Example.com",
		"Subject: Availability?",
		"Date: Fri, 01 May 2026 09:00:00 +0000",
		"",
		"Are you free?",
	)
	first, err := Normalize(msg, inboxAddress)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	second, err := Normalize(msg, inboxAddress)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !strings.HasPrefix(first.ExternalID, FallbackPrefix) || first.RFCMessageID != "" {
		t.Fatalf("expected fallback id, got %+v", first)
	}
	if first.ExternalID != second.ExternalID {
		t.Fatalf("fallback id not stable: %q vs %q", first.ExternalID, second.ExternalID)
	}

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if FallbackID("GUEST@example.com", "Availability?", at) != first.ExternalID {
		t.Fatal("fallback id should ignore sender case")
	}
	if FallbackID("guest@example.com", "Availability?", at.Add(time.Second)) == first.ExternalID {
		t.Fatal("different timestamps must give different ids")
	}
	// Same sender, subject and second: the known collision.
	if FallbackID("guest@example.com", "Availability?", at) != FallbackID("guest@example.com", "Availability?", at.In(time.FixedZone("x", 3600))) {
		t.Fatal("fallback id should be computed in UTC")
	}
}

func TestNormalizeHTMLOnlyBody(t *testing.T) {
	rec, err := Normalize(raw(
		"From: venue@example.com",
		"Subject: Floor plan",
		"Message-Id: <plan@example.com>",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Load-in is at <strong>4pm</strong>.</p>",
	), inboxAddress)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.Body != "Load-in is at **4pm**." {
		t.Fatalf("body = %q", rec.Body)
	}
}

func TestNormalizeMultipartPrefersPlainText(t *testing.T) {
	rec, err := Normalize(raw(
		"From: guest@example.com",
		"Subject: Both",
		"Message-Id: <both@example.com>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html version</p>",
		"--b1",
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=E9 at eight",
		"--b1--",
		"",
	), inboxAddress)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.Body != "café at eight" {
		t.Fatalf("body = %q", rec.Body)
	}
}

func TestNormalizeParseErrors(t *testing.T) {
	tests := map[string]mailbox.RawMessage{
		"malformed header": raw("this is not a header", "", "body"),
		"no from":          raw("Subject: hi", "Message-Id: <x@example.com>", "", "body"),
		"outbound without recipient": raw(
			"From: bookings@gigdesk.example",
			"Subject: draft",
			"",
			"body",
		),
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(msg, inboxAddress)
			if !apperr.IsKind(err, apperr.KindParse) {
				t.Fatalf("expected parse error, got %v", err)
			}
		})
	}
}

func TestRecordMessage(t *testing.T) {
	rec := Record{ExternalID: "x", To: []string{"a@example.com", "b@example.com"}, Direction: store.DirectionInbound}
	msg := rec.Message("bookings")
	if msg.InboxID != "bookings" || msg.To != "a@example.com, b@example.com" {
		t.Fatalf("message = %+v", msg)
	}
}
