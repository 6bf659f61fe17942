package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type messageRow struct {
	ID           string `db:"id"`
	InboxID      string `db:"inbox_id"`
	ThreadID     string `db:"thread_id"`
	ExternalID   string `db:"external_id"`
	RFCMessageID string `db:"rfc_message_id"`
	InReplyTo    string `db:"in_reply_to"`
	References   string `db:"reference_ids"`
	Direction    string `db:"direction"`
	From         string `db:"from_email"`
	To           string `db:"to_email"`
	Subject      string `db:"subject"`
	Body         string `db:"body"`
	ReceivedAt   int64  `db:"received_at"`
	CreatedAt    int64  `db:"created_at"`
}

func (r messageRow) message() Message {
	return Message{
		ID:           r.ID,
		InboxID:      r.InboxID,
		ThreadID:     r.ThreadID,
		ExternalID:   r.ExternalID,
		RFCMessageID: r.RFCMessageID,
		InReplyTo:    r.InReplyTo,
		References:   strings.Fields(r.References),
		Direction:    Direction(r.Direction),
		From:         r.From,
		To:           r.To,
		Subject:      r.Subject,
		Body:         r.Body,
		ReceivedAt:   time.Unix(r.ReceivedAt, 0).UTC(),
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
	}
}

const messageColumns = "id, inbox_id, thread_id, external_id, rfc_message_id, in_reply_to, reference_ids, direction, from_email, to_email, subject, body, received_at, created_at"

// Append is a single message write. NewThread, when set, is created in the
// same transaction and Message.ThreadID is taken from it. LinkBooking is
// applied to the thread only if it has no booking yet.
type Append struct {
	NewThread   *Thread
	LinkBooking string
	// AdoptUser claims an ownerless existing thread for this user.
	AdoptUser string
	Message   Message
}

// AppendResult reports what AppendMessage changed.
type AppendResult struct {
	Inserted bool
	ThreadID string
	Linked   bool
}

// AppendMessage inserts a message keyed by (inbox, external id) and advances
// its thread's last message time. A message that already exists leaves the
// database untouched, including any thread that would have been created for
// it.
func (s *Store) AppendMessage(ctx context.Context, a Append) (result AppendResult, err error) {
	msg := a.Message
	if msg.InboxID == "" || msg.ExternalID == "" {
		return AppendResult{}, fmt.Errorf("append message: inbox and external id are required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC().Unix()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return AppendResult{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil || !result.Inserted {
			_ = tx.Rollback()
		}
	}()

	if a.NewThread != nil {
		thread := *a.NewThread
		if thread.ID == "" {
			thread.ID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
            INSERT INTO threads (id, inbox_id, user_id, booking_id, subject, counterpart, last_message_at, created_at)
            VALUES (?, ?, ?, '', ?, ?, ?, ?)`),
			thread.ID, msg.InboxID, thread.UserID, thread.Subject, thread.Counterpart, msg.ReceivedAt.UTC().Unix(), now)
		if err != nil {
			return AppendResult{}, fmt.Errorf("insert thread: %w", err)
		}
		msg.ThreadID = thread.ID
	}
	if msg.ThreadID == "" {
		return AppendResult{}, fmt.Errorf("append message: thread is required")
	}
	result.ThreadID = msg.ThreadID

	res, err := tx.ExecContext(ctx, s.rebind(`
        INSERT INTO messages (`+messageColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(inbox_id, external_id) DO NOTHING`),
		msg.ID, msg.InboxID, msg.ThreadID, msg.ExternalID, msg.RFCMessageID, msg.InReplyTo,
		strings.Join(msg.References, " "), string(msg.Direction), msg.From, msg.To, msg.Subject,
		msg.Body, msg.ReceivedAt.UTC().Unix(), now)
	if err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}
	if inserted == 0 {
		return AppendResult{ThreadID: result.ThreadID}, nil
	}

	received := msg.ReceivedAt.UTC().Unix()
	_, err = tx.ExecContext(ctx, s.rebind(`
        UPDATE threads
        SET last_message_at = CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END
        WHERE id = ?`), received, received, msg.ThreadID)
	if err != nil {
		return AppendResult{}, fmt.Errorf("update thread activity: %w", err)
	}

	if a.AdoptUser != "" {
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE threads SET user_id = ? WHERE id = ? AND user_id = ''`), a.AdoptUser, msg.ThreadID)
		if err != nil {
			return AppendResult{}, fmt.Errorf("adopt thread: %w", err)
		}
	}

	if a.LinkBooking != "" {
		res, err = tx.ExecContext(ctx, s.rebind(`UPDATE threads SET booking_id = ? WHERE id = ? AND booking_id = ''`), a.LinkBooking, msg.ThreadID)
		if err != nil {
			return AppendResult{}, fmt.Errorf("link booking: %w", err)
		}
		if n, rerr := res.RowsAffected(); rerr == nil && n > 0 {
			result.Linked = true
		}
	}

	if err = tx.Commit(); err != nil {
		return AppendResult{}, fmt.Errorf("commit append: %w", err)
	}
	result.Inserted = true
	return result, nil
}

// ListThreadMessages returns a thread's messages oldest first.
func (s *Store) ListThreadMessages(ctx context.Context, threadID string) ([]Message, error) {
	var rows []messageRow
	err := sqlx.SelectContext(ctx, s.db, &rows, s.rebind(`
        SELECT `+messageColumns+` FROM messages
        WHERE thread_id = ?
        ORDER BY received_at ASC, created_at ASC, id ASC`), threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.message())
	}
	return messages, nil
}

func (s *Store) LatestThreadMessage(ctx context.Context, threadID string) (Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, s.db, &row, s.rebind(`
        SELECT `+messageColumns+` FROM messages
        WHERE thread_id = ?
        ORDER BY received_at DESC, created_at DESC, id DESC
        LIMIT 1`), threadID)
	if err != nil {
		if isNoRows(err) {
			return Message{}, notFound("store.LatestThreadMessage", "message")
		}
		return Message{}, fmt.Errorf("latest thread message: %w", err)
	}
	return row.message(), nil
}

// CountMessages counts stored messages, for one inbox or for all when inboxID
// is empty.
func (s *Store) CountMessages(ctx context.Context, inboxID string) (int, error) {
	var conds []condition
	if inboxID != "" {
		conds = append(conds, condition{columns: []string{"inbox_id"}, mode: MatchExact, value: inboxID})
	}
	where, args := whereClause(conds)
	var total int
	if err := sqlx.GetContext(ctx, s.db, &total, s.rebind(`SELECT COUNT(*) FROM messages`+where), args...); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return total, nil
}
