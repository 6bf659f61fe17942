package threading

import (
	"context"
	"fmt"

	"github.io/infrasutra/gigdesk/internal/store"
)

type BookingStore interface {
	FindBookingsByEmail(ctx context.Context, email, userID string) ([]store.Booking, error)
}

// Linker ties threads to the booking their counterpart made.
type Linker struct {
	bookings BookingStore
}

func NewLinker(bookings BookingStore) *Linker {
	return &Linker{bookings: bookings}
}

// Link returns the booking to attach to thread, or "" when the thread is
// already linked or nothing matches. Bookings are compared by email, and
// only the owner's bookings are considered when the thread has an owner.
// With several matches the earliest event wins.
func (l *Linker) Link(ctx context.Context, thread store.Thread) (string, error) {
	if thread.BookingID != "" || thread.Counterpart == "" {
		return "", nil
	}
	bookings, err := l.bookings.FindBookingsByEmail(ctx, thread.Counterpart, thread.UserID)
	if err != nil {
		return "", fmt.Errorf("link booking: %w", err)
	}
	if len(bookings) == 0 {
		return "", nil
	}
	return bookings[0].ID, nil
}
