// Package normalize turns raw RFC 5322 messages into the records the sync
// pipeline threads and stores.
package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/mailbox"
	"github.io/infrasutra/gigdesk/internal/store"
)

// FallbackPrefix marks external ids derived from message fields because the
// message carried no Message-Id.
const FallbackPrefix = "fallback:"

// Record is a message reduced to what threading and storage need. Addresses
// are lowercased and ids carry no angle brackets.
type Record struct {
	ExternalID   string
	RFCMessageID string
	InReplyTo    string
	// References as listed in the header, oldest first.
	References  []string
	Direction   store.Direction
	From        string
	To          []string
	Counterpart string
	Subject     string
	Body        string
	ReceivedAt  time.Time
}

// Message converts the record into a row for inboxID.
func (r Record) Message(inboxID string) store.Message {
	return store.Message{
		InboxID:      inboxID,
		ExternalID:   r.ExternalID,
		RFCMessageID: r.RFCMessageID,
		InReplyTo:    r.InReplyTo,
		References:   r.References,
		Direction:    r.Direction,
		From:         r.From,
		To:           strings.Join(r.To, ", "),
		Subject:      r.Subject,
		Body:         r.Body,
		ReceivedAt:   r.ReceivedAt,
	}
}

// Normalize parses raw. inboxAddress decides the direction: mail from the
// inbox's own address is outbound and its counterpart is the first
// recipient. It returns a Parse error when the header cannot be read or
// there is no usable sender or counterpart.
func Normalize(raw mailbox.RawMessage, inboxAddress string) (Record, error) {
	const op = "normalize.Normalize"

	mr, err := mail.CreateReader(bytes.NewReader(raw.Raw))
	if err != nil && (mr == nil || !message.IsUnknownCharset(err)) {
		return Record{}, apperr.Parse(op, fmt.Errorf("message %s: read header: %w", raw.UID, err))
	}
	defer mr.Close()

	var rec Record

	fromList, err := mr.Header.AddressList("From")
	if err != nil || len(fromList) == 0 || strings.TrimSpace(fromList[0].Address) == "" {
		return Record{}, apperr.Parse(op, fmt.Errorf("message %s: no usable From address", raw.UID))
	}
	rec.From = normalizeAddress(fromList[0].Address)

	if toList, err := mr.Header.AddressList("To"); err == nil {
		for _, addr := range toList {
			if a := normalizeAddress(addr.Address); a != "" {
				rec.To = append(rec.To, a)
			}
		}
	}

	if subject, err := mr.Header.Subject(); err == nil {
		rec.Subject = strings.TrimSpace(subject)
	} else {
		rec.Subject = strings.TrimSpace(mr.Header.Get("Subject"))
	}

	if id, err := mr.Header.MessageID(); err == nil {
		rec.RFCMessageID = strings.TrimSpace(id)
	}
	if ids, err := mr.Header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		rec.InReplyTo = ids[0]
	}
	if ids, err := mr.Header.MsgIDList("References"); err == nil {
		rec.References = ids
	}

	received, err := mr.Header.Date()
	if err != nil || received.IsZero() {
		received = raw.InternalDate
	}
	if received.IsZero() {
		return Record{}, apperr.Parse(op, fmt.Errorf("message %s: no Date header and no internal date", raw.UID))
	}
	rec.ReceivedAt = received.UTC().Truncate(time.Second)

	inbox := normalizeAddress(inboxAddress)
	if inbox != "" && rec.From == inbox {
		rec.Direction = store.DirectionOutbound
		if len(rec.To) == 0 {
			return Record{}, apperr.Parse(op, fmt.Errorf("message %s: outbound message has no recipient", raw.UID))
		}
		rec.Counterpart = rec.To[0]
	} else {
		rec.Direction = store.DirectionInbound
		rec.Counterpart = rec.From
	}

	if rec.RFCMessageID != "" {
		rec.ExternalID = rec.RFCMessageID
	} else {
		rec.ExternalID = FallbackID(rec.From, rec.Subject, rec.ReceivedAt)
	}

	rec.Body = readBody(mr)
	return rec, nil
}

// FallbackID derives an external id from sender, subject and time. Two
// distinct messages from one sender with the same subject within the same
// second collide and the later one is treated as a duplicate.
func FallbackID(from, subject string, receivedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(from))))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(receivedAt.UTC().Format(time.RFC3339Nano)))
	return FallbackPrefix + hex.EncodeToString(h.Sum(nil))
}

// readBody returns the first text/plain part, or the first text/html part
// converted to markdown. Undecodable parts are skipped.
func readBody(mr *mail.Reader) string {
	var plain, html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		// An unknown charset still yields a readable, undecoded part.
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case mediaType == "" || strings.HasPrefix(mediaType, "text/plain"):
			if plain == "" {
				plain = string(body)
			}
		case strings.HasPrefix(mediaType, "text/html"):
			if html == "" {
				html = string(body)
			}
		}
		if plain != "" {
			break
		}
	}

	if plain != "" {
		return strings.TrimSpace(plain)
	}
	if html == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(md)
}

func normalizeAddress(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
