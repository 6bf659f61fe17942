package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type spoolRow struct {
	ID           string `db:"id"`
	InboxAddress string `db:"inbox_address"`
	EnvelopeFrom string `db:"envelope_from"`
	Raw          string `db:"raw"`
	ReceivedAt   int64  `db:"received_at"`
}

func (s *Store) InsertSpool(ctx context.Context, msg SpoolMessage) (SpoolMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	msg.InboxAddress = strings.ToLower(strings.TrimSpace(msg.InboxAddress))
	_, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO spool (id, inbox_address, envelope_from, raw, received_at)
        VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.InboxAddress, msg.EnvelopeFrom, string(msg.Raw), msg.ReceivedAt.UnixNano())
	if err != nil {
		return SpoolMessage{}, fmt.Errorf("insert spool: %w", err)
	}
	return msg, nil
}

// ListSpoolAfter returns up to limit spooled messages for address that sort
// after the (afterNanos, afterID) position, oldest first. Messages received
// in the same nanosecond are ordered by id.
func (s *Store) ListSpoolAfter(ctx context.Context, address string, afterNanos int64, afterID string, limit int) ([]SpoolMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []spoolRow
	err := sqlx.SelectContext(ctx, s.db, &rows, s.rebind(`
        SELECT id, inbox_address, envelope_from, raw, received_at FROM spool
        WHERE inbox_address = ? AND (received_at > ? OR (received_at = ? AND id > ?))
        ORDER BY received_at ASC, id ASC
        LIMIT ?`), strings.ToLower(strings.TrimSpace(address)), afterNanos, afterNanos, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list spool: %w", err)
	}
	messages := make([]SpoolMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, SpoolMessage{
			ID:           row.ID,
			InboxAddress: row.InboxAddress,
			EnvelopeFrom: row.EnvelopeFrom,
			Raw:          []byte(row.Raw),
			ReceivedAt:   time.Unix(0, row.ReceivedAt).UTC(),
		})
	}
	return messages, nil
}
