package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

type userRow struct {
	ID         string `db:"id"`
	Email      string `db:"email"`
	Name       string `db:"name"`
	Role       string `db:"role"`
	CreatedAt  int64  `db:"created_at"`
	LastSeenAt int64  `db:"last_seen_at"`
}

func (r userRow) user() User {
	return User{
		ID:         r.ID,
		Email:      r.Email,
		Name:       r.Name,
		Role:       Role(r.Role),
		CreatedAt:  time.Unix(r.CreatedAt, 0).UTC(),
		LastSeenAt: time.Unix(r.LastSeenAt, 0).UTC(),
	}
}

const userColumns = "id, email, name, role, created_at, last_seen_at"

// UpsertUser records a user seen through a verified token. The email is
// stored lowercased so counterpart lookups can compare directly.
func (s *Store) UpsertUser(ctx context.Context, user User) (User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return User{}, fmt.Errorf("upsert user: id is required")
	}
	now := time.Now().UTC().Unix()
	email := strings.ToLower(strings.TrimSpace(user.Email))
	_, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO users (id, email, name, role, created_at, last_seen_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            email = excluded.email,
            name = excluded.name,
            role = excluded.role,
            last_seen_at = excluded.last_seen_at`),
		user.ID, email, user.Name, string(user.Role), now, now)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUser(ctx, user.ID)
}

// TouchUser records a user seen through a verified token, keeping the stored
// name, and hands the user any ownerless threads whose counterpart is their
// email when they are the address's owner.
func (s *Store) TouchUser(ctx context.Context, id, email string, role Role) (User, error) {
	if strings.TrimSpace(id) == "" {
		return User{}, fmt.Errorf("touch user: id is required")
	}
	now := time.Now().UTC().Unix()
	email = strings.ToLower(strings.TrimSpace(email))
	_, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO users (id, email, name, role, created_at, last_seen_at)
        VALUES (?, ?, '', ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            email = excluded.email,
            role = excluded.role,
            last_seen_at = excluded.last_seen_at`),
		id, email, string(role), now, now)
	if err != nil {
		return User{}, fmt.Errorf("touch user: %w", err)
	}

	if email != "" {
		owner, err := s.FindUserByEmail(ctx, email)
		if err != nil {
			return User{}, err
		}
		if owner.ID == id {
			_, err = s.db.ExecContext(ctx, s.rebind(`UPDATE threads SET user_id = ? WHERE user_id = '' AND counterpart = ?`), id, email)
			if err != nil {
				return User{}, fmt.Errorf("adopt threads: %w", err)
			}
		}
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, s.db, &row, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		if isNoRows(err) {
			return User{}, notFound("store.GetUser", "user")
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return row.user(), nil
}

// FindUserByEmail returns the oldest user registered with email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, s.db, &row, s.rebind(`
        SELECT `+userColumns+` FROM users
        WHERE email = ?
        ORDER BY created_at ASC, id ASC
        LIMIT 1`), strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if isNoRows(err) {
			return User{}, notFound("store.FindUserByEmail", "user")
		}
		return User{}, fmt.Errorf("find user by email: %w", err)
	}
	return row.user(), nil
}
