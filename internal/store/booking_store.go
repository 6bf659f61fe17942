package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type bookingRow struct {
	ID              string `db:"id"`
	UserID          string `db:"user_id"`
	Name            string `db:"name"`
	Email           string `db:"email"`
	Phone           string `db:"phone"`
	Venue           string `db:"venue"`
	EventType       string `db:"event_type"`
	EventDate       string `db:"event_date"`
	StartTime       string `db:"start_time"`
	DurationMinutes int    `db:"duration_minutes"`
	Status          string `db:"status"`
	Notes           string `db:"notes"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r bookingRow) booking() Booking {
	return Booking{
		ID:              r.ID,
		UserID:          r.UserID,
		Name:            r.Name,
		Email:           r.Email,
		Phone:           r.Phone,
		Venue:           r.Venue,
		EventType:       r.EventType,
		EventDate:       r.EventDate,
		StartTime:       r.StartTime,
		DurationMinutes: r.DurationMinutes,
		Status:          BookingStatus(r.Status),
		Notes:           r.Notes,
		CreatedAt:       time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:       time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

func bookingsFromRows(rows []bookingRow) []Booking {
	bookings := make([]Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, row.booking())
	}
	return bookings
}

const bookingColumns = "id, user_id, name, email, phone, venue, event_type, event_date, start_time, duration_minutes, status, notes, created_at, updated_at"

// CreateBooking stores a new booking. ID, timestamps and a missing status
// are filled in.
func (s *Store) CreateBooking(ctx context.Context, b Booking) (Booking, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BookingPending
	}
	now := time.Now().UTC().Truncate(time.Second)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))

	_, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO bookings (`+bookingColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.UserID, b.Name, b.Email, b.Phone, b.Venue, b.EventType, b.EventDate,
		b.StartTime, b.DurationMinutes, string(b.Status), b.Notes, b.CreatedAt.Unix(), b.UpdatedAt.Unix())
	if err != nil {
		return Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return s.GetBooking(ctx, b.ID)
}

func (s *Store) GetBooking(ctx context.Context, id string) (Booking, error) {
	var row bookingRow
	err := sqlx.GetContext(ctx, s.db, &row, s.rebind(`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`), id)
	if err != nil {
		if isNoRows(err) {
			return Booking{}, notFound("store.GetBooking", "booking")
		}
		return Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return row.booking(), nil
}

// ListBookings returns a page of bookings by event date, and the total number
// matching the query.
func (s *Store) ListBookings(ctx context.Context, q BookingQuery) ([]Booking, int, error) {
	where, args := whereClause(q.conditions())

	var total int
	if err := sqlx.GetContext(ctx, s.db, &total, s.rebind(`SELECT COUNT(*) FROM bookings`+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	limit, limitArgs := limitClause(q.Limit, q.Offset)
	var rows []bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings` + where + ` ORDER BY event_date ASC, id ASC` + limit
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.rebind(query), append(args, limitArgs...)...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	return bookingsFromRows(rows), total, nil
}

// FindBookingsByEmail lists bookings whose email equals email, ignoring case,
// ordered by event date, then creation time, then id. A non-empty userID
// restricts the search to that user's bookings.
func (s *Store) FindBookingsByEmail(ctx context.Context, email, userID string) ([]Booking, error) {
	where, args := whereClause(BookingQuery{Email: email, UserID: userID}.conditions())
	var rows []bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings` + where + ` ORDER BY event_date ASC, created_at ASC, id ASC`
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find bookings by email: %w", err)
	}
	return bookingsFromRows(rows), nil
}

// BookingUpdate holds the fields an admin may change. Nil fields are kept.
type BookingUpdate struct {
	Status *BookingStatus
	UserID *string
	Notes  *string
}

func (s *Store) UpdateBooking(ctx context.Context, id string, update BookingUpdate) (Booking, error) {
	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if update.Status != nil {
		current.Status = *update.Status
	}
	if update.UserID != nil {
		current.UserID = strings.TrimSpace(*update.UserID)
	}
	if update.Notes != nil {
		current.Notes = *update.Notes
	}
	updatedAt := time.Now().UTC().Unix()
	if updatedAt <= current.UpdatedAt.Unix() {
		updatedAt = current.UpdatedAt.Unix() + 1
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
        UPDATE bookings SET status = ?, user_id = ?, notes = ?, updated_at = ?
        WHERE id = ?`),
		string(current.Status), current.UserID, current.Notes, updatedAt, id)
	if err != nil {
		return Booking{}, fmt.Errorf("update booking: %w", err)
	}
	return s.GetBooking(ctx, id)
}
