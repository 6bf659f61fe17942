package store_test

import (
	"context"
	"testing"
	"time"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/store"
	"github.io/infrasutra/gigdesk/internal/testutil"
)

func newMessage(inboxID, externalID string, at time.Time) store.Message {
	return store.Message{
		InboxID:      inboxID,
		ExternalID:   externalID,
		RFCMessageID: externalID,
		Direction:    store.DirectionInbound,
		From:         "guest@example.com",
		Subject:      "Wedding enquiry",
		Body:         "hello",
		ReceivedAt:   at,
	}
}

func TestAppendMessageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	first, err := s.AppendMessage(ctx, store.Append{
		NewThread: &store.Thread{Counterpart: "guest@example.com", Subject: "Wedding enquiry"},
		Message:   newMessage("bookings", "a@example.com", at),
	})
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if !first.Inserted || first.ThreadID == "" {
		t.Fatalf("unexpected first result: %+v", first)
	}

	again, err := s.AppendMessage(ctx, store.Append{
		NewThread: &store.Thread{Counterpart: "guest@example.com"},
		Message:   newMessage("bookings", "a@example.com", at.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if again.Inserted {
		t.Fatal("duplicate external id was inserted")
	}

	threads, total, err := s.ListThreads(ctx, store.ThreadQuery{})
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if total != 1 || len(threads) != 1 {
		t.Fatalf("duplicate left an orphan thread: total=%d", total)
	}
	if !threads[0].LastMessageAt.Equal(at) {
		t.Fatalf("last_message_at = %v, want %v", threads[0].LastMessageAt, at)
	}
	if n, _ := s.CountMessages(ctx, ""); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}

func TestAppendMessageKeepsLatestActivity(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	late := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	res, err := s.AppendMessage(ctx, store.Append{
		NewThread: &store.Thread{Counterpart: "guest@example.com"},
		Message:   newMessage("bookings", "late", late),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	early := newMessage("bookings", "early", late.Add(-48*time.Hour))
	early.ThreadID = res.ThreadID
	if _, err := s.AppendMessage(ctx, store.Append{Message: early}); err != nil {
		t.Fatalf("append early: %v", err)
	}

	thread, err := s.GetThread(ctx, res.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if !thread.LastMessageAt.Equal(late) {
		t.Fatalf("last_message_at moved backwards: %v", thread.LastMessageAt)
	}

	messages, err := s.ListThreadMessages(ctx, res.ThreadID)
	if err != nil {
		t.Fatalf("ListThreadMessages: %v", err)
	}
	if len(messages) != 2 || messages[0].ExternalID != "early" {
		t.Fatalf("unexpected message order: %+v", messages)
	}
	latest, err := s.LatestThreadMessage(ctx, res.ThreadID)
	if err != nil || latest.ExternalID != "late" {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
}

func TestAppendMessageLinksBookingOnce(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	res, err := s.AppendMessage(ctx, store.Append{
		NewThread:   &store.Thread{Counterpart: "guest@example.com"},
		LinkBooking: "b1",
		Message:     newMessage("bookings", "m1", time.Now()),
	})
	if err != nil || !res.Linked {
		t.Fatalf("expected link, got %+v %v", res, err)
	}

	next := newMessage("bookings", "m2", time.Now())
	next.ThreadID = res.ThreadID
	res2, err := s.AppendMessage(ctx, store.Append{LinkBooking: "b2", Message: next})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if res2.Linked {
		t.Fatal("linked thread was relinked")
	}
	thread, _ := s.GetThread(ctx, res.ThreadID)
	if thread.BookingID != "b1" {
		t.Fatalf("booking = %q, want b1", thread.BookingID)
	}
}

func TestFindThreadByRFCMessageID(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	res, err := s.AppendMessage(ctx, store.Append{
		NewThread: &store.Thread{Counterpart: "guest@example.com"},
		Message:   newMessage("bookings", "root@example.com", time.Now()),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	thread, err := s.FindThreadByRFCMessageID(ctx, "bookings", "root@example.com")
	if err != nil || thread.ID != res.ThreadID {
		t.Fatalf("lookup = %+v, %v", thread, err)
	}
	_, err = s.FindThreadByRFCMessageID(ctx, "other-inbox", "root@example.com")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found across inboxes, got %v", err)
	}
}

func TestInboxStateCursorSurvivesFailure(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	state, err := s.GetInboxState(ctx, "bookings")
	if err != nil || state.Cursor != "" {
		t.Fatalf("fresh state = %+v, %v", state, err)
	}

	syncedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveInboxCursor(ctx, "bookings", "imap:7:42", syncedAt); err != nil {
		t.Fatalf("SaveInboxCursor: %v", err)
	}
	if err := s.RecordInboxFailure(ctx, "bookings", "dial tcp: refused"); err != nil {
		t.Fatalf("RecordInboxFailure: %v", err)
	}

	state, err = s.GetInboxState(ctx, "bookings")
	if err != nil {
		t.Fatalf("GetInboxState: %v", err)
	}
	if state.Cursor != "imap:7:42" || !state.LastSyncedAt.Equal(syncedAt) {
		t.Fatalf("failure clobbered cursor: %+v", state)
	}
	if state.LastStatus != store.InboxStatusFailed || state.LastError == "" {
		t.Fatalf("failure not recorded: %+v", state)
	}

	states, err := s.ListInboxStates(ctx)
	if err != nil || len(states) != 1 {
		t.Fatalf("ListInboxStates = %v, %v", states, err)
	}
}

func TestListBookingsFilters(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	for _, b := range []store.Booking{
		{Name: "Ana Lopez", Email: "ana@example.com", Venue: "Harbour Hall", EventDate: "2026-06-01", UserID: "u1"},
		{Name: "Ben Ode", Email: "ben@example.com", Venue: "Mill 100%", EventDate: "2026-05-01", Status: store.BookingConfirmed},
		{Name: "Cara Vance", Email: "cara@example.com", Venue: "Rooftop", EventDate: "2026-07-01"},
	} {
		if _, err := s.CreateBooking(ctx, b); err != nil {
			t.Fatalf("CreateBooking: %v", err)
		}
	}

	tests := []struct {
		name  string
		query store.BookingQuery
		want  []string
	}{
		{name: "all ordered by date", query: store.BookingQuery{}, want: []string{"Ben Ode", "Ana Lopez", "Cara Vance"}},
		{name: "status exact", query: store.BookingQuery{Status: store.BookingConfirmed}, want: []string{"Ben Ode"}},
		{name: "search is case-insensitive", query: store.BookingQuery{Search: "HARBOUR"}, want: []string{"Ana Lopez"}},
		{name: "search escapes wildcards", query: store.BookingQuery{Search: "100%"}, want: []string{"Ben Ode"}},
		{name: "user scoped", query: store.BookingQuery{UserID: "u1"}, want: []string{"Ana Lopez"}},
		{name: "paged", query: store.BookingQuery{Limit: 1, Offset: 1}, want: []string{"Ana Lopez"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := s.ListBookings(ctx, tt.query)
			if err != nil {
				t.Fatalf("ListBookings: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d bookings, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Name != tt.want[i] {
					t.Fatalf("booking %d = %q, want %q", i, got[i].Name, tt.want[i])
				}
			}
		})
	}
}

func TestUpdateBookingBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	b, err := s.CreateBooking(ctx, store.Booking{Name: "Ana", Email: "ANA@example.com", EventDate: "2026-06-01"})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if b.Email != "ana@example.com" || b.Status != store.BookingPending {
		t.Fatalf("unexpected defaults: %+v", b)
	}

	confirmed := store.BookingConfirmed
	updated, err := s.UpdateBooking(ctx, b.ID, store.BookingUpdate{Status: &confirmed})
	if err != nil {
		t.Fatalf("UpdateBooking: %v", err)
	}
	if updated.Status != store.BookingConfirmed || !updated.UpdatedAt.After(b.UpdatedAt) {
		t.Fatalf("update not applied: %+v", updated)
	}

	if _, err := s.UpdateBooking(ctx, "missing", store.BookingUpdate{}); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSpoolListsAfterCursor(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.InsertSpool(ctx, store.SpoolMessage{
			InboxAddress: "Hello@Example.com",
			EnvelopeFrom: "guest@example.com",
			Raw:          []byte("Subject: hi\r\n\r\nbody"),
			ReceivedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertSpool: %v", err)
		}
	}
	if _, err := s.InsertSpool(ctx, store.SpoolMessage{InboxAddress: "other@example.com", Raw: []byte("x"), ReceivedAt: base}); err != nil {
		t.Fatalf("InsertSpool: %v", err)
	}

	got, err := s.ListSpoolAfter(ctx, "hello@example.com", base.UnixNano(), "", 10)
	if err != nil {
		t.Fatalf("ListSpoolAfter: %v", err)
	}
	if len(got) != 2 || !got[0].ReceivedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected spool page: %+v", got)
	}
}

func TestFindUserByEmail(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	if _, err := s.UpsertUser(ctx, store.User{ID: "u1", Email: "Guest@Example.com", Role: store.RoleClient}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	user, err := s.FindUserByEmail(ctx, "guest@example.com")
	if err != nil || user.ID != "u1" {
		t.Fatalf("FindUserByEmail = %+v, %v", user, err)
	}
	if _, err := s.FindUserByEmail(ctx, "nobody@example.com"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTouchUserKeepsNameAndAdoptsThreads(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	_, err := s.AppendMessage(ctx, store.Append{
		NewThread: &store.Thread{ID: "t-early", Counterpart: "late@example.com", Subject: "Dates"},
		Message: store.Message{
			InboxID: "bookings", ExternalID: "early@example.com", Direction: store.DirectionInbound,
			From: "late@example.com", ReceivedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.UpsertUser(ctx, store.User{ID: "u-late", Email: "late@example.com", Name: "Late Guest", Role: store.RoleClient}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	user, err := s.TouchUser(ctx, "u-late", "Late@Example.com", store.RoleClient)
	if err != nil {
		t.Fatalf("TouchUser: %v", err)
	}
	if user.Name != "Late Guest" || user.Email != "late@example.com" {
		t.Fatalf("touched user = %+v", user)
	}
	thread, err := s.GetThread(ctx, "t-early")
	if err != nil || thread.UserID != "u-late" {
		t.Fatalf("thread = %+v, %v", thread, err)
	}

	// A second account on the same address is not the owner.
	if _, err := s.TouchUser(ctx, "u-dup", "late@example.com", store.RoleClient); err != nil {
		t.Fatalf("TouchUser: %v", err)
	}
	if thread, _ := s.GetThread(ctx, "t-early"); thread.UserID != "u-late" {
		t.Fatalf("thread owner changed to %q", thread.UserID)
	}
}
