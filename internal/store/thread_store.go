package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type threadRow struct {
	ID            string `db:"id"`
	InboxID       string `db:"inbox_id"`
	UserID        string `db:"user_id"`
	BookingID     string `db:"booking_id"`
	Subject       string `db:"subject"`
	Counterpart   string `db:"counterpart"`
	LastMessageAt int64  `db:"last_message_at"`
	CreatedAt     int64  `db:"created_at"`
}

func (r threadRow) thread() Thread {
	return Thread{
		ID:            r.ID,
		InboxID:       r.InboxID,
		UserID:        r.UserID,
		BookingID:     r.BookingID,
		Subject:       r.Subject,
		Counterpart:   r.Counterpart,
		LastMessageAt: time.Unix(r.LastMessageAt, 0).UTC(),
		CreatedAt:     time.Unix(r.CreatedAt, 0).UTC(),
	}
}

func threadsFromRows(rows []threadRow) []Thread {
	threads := make([]Thread, 0, len(rows))
	for _, row := range rows {
		threads = append(threads, row.thread())
	}
	return threads
}

const threadColumns = "id, inbox_id, user_id, booking_id, subject, counterpart, last_message_at, created_at"

func (s *Store) GetThread(ctx context.Context, id string) (Thread, error) {
	var row threadRow
	err := sqlx.GetContext(ctx, s.db, &row, s.rebind(`SELECT `+threadColumns+` FROM threads WHERE id = ?`), id)
	if err != nil {
		if isNoRows(err) {
			return Thread{}, notFound("store.GetThread", "thread")
		}
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return row.thread(), nil
}

// FindThreadByRFCMessageID returns the thread holding the message with the
// given Message-Id in the inbox.
func (s *Store) FindThreadByRFCMessageID(ctx context.Context, inboxID, rfcMessageID string) (Thread, error) {
	var row threadRow
	err := sqlx.GetContext(ctx, s.db, &row, s.rebind(`
        SELECT t.id, t.inbox_id, t.user_id, t.booking_id, t.subject, t.counterpart, t.last_message_at, t.created_at
        FROM messages m
        JOIN threads t ON t.id = m.thread_id
        WHERE m.inbox_id = ? AND m.rfc_message_id = ?
        ORDER BY m.received_at ASC, m.id ASC
        LIMIT 1`), inboxID, rfcMessageID)
	if err != nil {
		if isNoRows(err) {
			return Thread{}, notFound("store.FindThreadByRFCMessageID", "thread")
		}
		return Thread{}, fmt.Errorf("find thread by message id: %w", err)
	}
	return row.thread(), nil
}

// FindThreadsByCounterpart lists the inbox's threads with counterpart that
// belong to userID ('' for threads without an owner), most recent first.
func (s *Store) FindThreadsByCounterpart(ctx context.Context, inboxID, counterpart, userID string) ([]Thread, error) {
	var rows []threadRow
	err := sqlx.SelectContext(ctx, s.db, &rows, s.rebind(`
        SELECT `+threadColumns+` FROM threads
        WHERE inbox_id = ? AND counterpart = ? AND user_id = ?
        ORDER BY last_message_at DESC, created_at DESC, id DESC`), inboxID, counterpart, userID)
	if err != nil {
		return nil, fmt.Errorf("find threads by counterpart: %w", err)
	}
	return threadsFromRows(rows), nil
}

// ListThreads returns a page of threads, most recently active first, and the
// total number matching the query.
func (s *Store) ListThreads(ctx context.Context, q ThreadQuery) ([]Thread, int, error) {
	where, args := whereClause(q.conditions())

	var total int
	if err := sqlx.GetContext(ctx, s.db, &total, s.rebind(`SELECT COUNT(*) FROM threads`+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count threads: %w", err)
	}

	limit, limitArgs := limitClause(q.Limit, q.Offset)
	var rows []threadRow
	query := `SELECT ` + threadColumns + ` FROM threads` + where + ` ORDER BY last_message_at DESC, id ASC` + limit
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.rebind(query), append(args, limitArgs...)...); err != nil {
		return nil, 0, fmt.Errorf("list threads: %w", err)
	}
	return threadsFromRows(rows), total, nil
}

// SetThreadBooking links a thread to a booking. An empty bookingID unlinks it.
func (s *Store) SetThreadBooking(ctx context.Context, threadID, bookingID string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`UPDATE threads SET booking_id = ? WHERE id = ?`), bookingID, threadID)
	if err != nil {
		return fmt.Errorf("set thread booking: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return notFound("store.SetThreadBooking", "thread")
	}
	return nil
}
