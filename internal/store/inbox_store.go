package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type inboxStateRow struct {
	InboxID      string `db:"inbox_id"`
	Cursor       string `db:"sync_cursor"`
	LastSyncedAt int64  `db:"last_synced_at"`
	LastStatus   string `db:"last_status"`
	LastError    string `db:"last_error"`
}

func (r inboxStateRow) state() InboxState {
	state := InboxState{
		InboxID:    r.InboxID,
		Cursor:     r.Cursor,
		LastStatus: r.LastStatus,
		LastError:  r.LastError,
	}
	if r.LastSyncedAt > 0 {
		state.LastSyncedAt = time.Unix(r.LastSyncedAt, 0).UTC()
	}
	return state
}

// GetInboxState returns the saved state, or an empty state for an inbox that
// has never been synced.
func (s *Store) GetInboxState(ctx context.Context, inboxID string) (InboxState, error) {
	var row inboxStateRow
	err := sqlx.GetContext(ctx, s.db, &row, s.rebind(`
        SELECT inbox_id, sync_cursor, last_synced_at, last_status, last_error
        FROM inbox_state WHERE inbox_id = ?`), inboxID)
	if err != nil {
		if isNoRows(err) {
			return InboxState{InboxID: inboxID}, nil
		}
		return InboxState{}, fmt.Errorf("get inbox state: %w", err)
	}
	return row.state(), nil
}

func (s *Store) ListInboxStates(ctx context.Context) (map[string]InboxState, error) {
	var rows []inboxStateRow
	err := sqlx.SelectContext(ctx, s.db, &rows, `
        SELECT inbox_id, sync_cursor, last_synced_at, last_status, last_error
        FROM inbox_state`)
	if err != nil {
		return nil, fmt.Errorf("list inbox states: %w", err)
	}
	states := make(map[string]InboxState, len(rows))
	for _, row := range rows {
		states[row.InboxID] = row.state()
	}
	return states, nil
}

// SaveInboxCursor records a successful pass. Call it only once the batch the
// cursor covers has been written.
func (s *Store) SaveInboxCursor(ctx context.Context, inboxID, cursor string, syncedAt time.Time) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO inbox_state (inbox_id, sync_cursor, last_synced_at, last_status, last_error, updated_at)
        VALUES (?, ?, ?, ?, '', ?)
        ON CONFLICT(inbox_id) DO UPDATE SET
            sync_cursor = excluded.sync_cursor,
            last_synced_at = excluded.last_synced_at,
            last_status = excluded.last_status,
            last_error = '',
            updated_at = excluded.updated_at`),
		inboxID, cursor, syncedAt.UTC().Unix(), InboxStatusOK, now)
	if err != nil {
		return fmt.Errorf("save inbox cursor: %w", err)
	}
	return nil
}

// RecordInboxFailure stores the error of a failed pass and leaves the cursor
// where it was.
func (s *Store) RecordInboxFailure(ctx context.Context, inboxID, message string) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO inbox_state (inbox_id, sync_cursor, last_synced_at, last_status, last_error, updated_at)
        VALUES (?, '', 0, ?, ?, ?)
        ON CONFLICT(inbox_id) DO UPDATE SET
            last_status = excluded.last_status,
            last_error = excluded.last_error,
            updated_at = excluded.updated_at`),
		inboxID, InboxStatusFailed, message, now)
	if err != nil {
		return fmt.Errorf("record inbox failure: %w", err)
	}
	return nil
}
