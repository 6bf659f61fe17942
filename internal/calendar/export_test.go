package calendar

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/apognu/gocal"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/store"
	"github.io/infrasutra/gigdesk/internal/testutil"
)

func newExporter(t *testing.T, s *store.Store, tz string) *Exporter {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	e := NewExporter(s, Options{Domain: "gigdesk.example", Location: loc, Logger: testutil.NewLogger()})
	e.now = func() time.Time { return time.Date(2026, 5, 2, 23, 30, 0, 0, time.UTC) }
	return e
}

func parse(t *testing.T, body []byte) []gocal.Event {
	t.Helper()
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	c := gocal.NewParser(bytes.NewReader(body))
	c.Start, c.End = &start, &end
	if err := c.Parse(); err != nil {
		t.Fatalf("parse exported calendar: %v", err)
	}
	return c.Events
}

func seed(t *testing.T, s *store.Store) (store.Booking, store.Booking) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	timed, err := s.CreateBooking(ctx, store.Booking{
		ID: "b-timed", Name: "Ada Planner", Email: "ada@example.com", Phone: "+1 555 0100",
		Venue: "Blue Room", EventType: "Wedding", EventDate: "2026-07-04", StartTime: "19:30",
		DurationMinutes: 90, Status: store.BookingConfirmed, CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	allDay, err := s.CreateBooking(ctx, store.Booking{
		ID: "b-allday", Name: "Bo", Email: "bo@example.com", Venue: "Park",
		EventType: "Festival", EventDate: "2026-06-20", CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return timed, allDay
}

func TestExportAllBookings(t *testing.T) {
	s := testutil.NewTestStore(t)
	seed(t, s)
	e := newExporter(t, s, "Europe/Berlin")

	doc, err := e.Export(context.Background(), "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.Filename != "bookings-2026-05-02.ics" || doc.ContentType != "text/calendar; charset=utf-8" {
		t.Fatalf("document = %q, %q", doc.Filename, doc.ContentType)
	}
	body := string(doc.Body)
	for _, want := range []string{"VERSION:2.0", "PRODID:-//gigdesk//bookings//EN", "CALSCALE:GREGORIAN", "DTSTART;VALUE=DATE:20260620"} {
		if !strings.Contains(body, want) {
			t.Errorf("calendar is missing %q", want)
		}
	}

	events := parse(t, doc.Body)
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	// Ordered by event date.
	allDay, timed := events[0], events[1]
	if allDay.Uid != "booking-b-allday@gigdesk.example" || allDay.Status != "TENTATIVE" {
		t.Fatalf("all-day event = %+v", allDay)
	}

	if timed.Summary != "Wedding @ Blue Room" || timed.Location != "Blue Room" || timed.Status != "CONFIRMED" {
		t.Fatalf("timed event = %+v", timed)
	}
	// 19:30 in Berlin summer time is 17:30 UTC.
	wantStart := time.Date(2026, 7, 4, 17, 30, 0, 0, time.UTC)
	if timed.Start == nil || !timed.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", timed.Start, wantStart)
	}
	if timed.End == nil || !timed.End.Equal(wantStart.Add(90*time.Minute)) {
		t.Fatalf("end = %v", timed.End)
	}
	if !strings.Contains(timed.Description, "ada@example.com") {
		t.Fatalf("description = %q", timed.Description)
	}
}

func TestExportIsByteStable(t *testing.T) {
	s := testutil.NewTestStore(t)
	seed(t, s)
	e := newExporter(t, s, "UTC")

	first, err := e.Export(context.Background(), "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	second, err := e.Export(context.Background(), "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Equal(first.Body, second.Body) {
		t.Fatalf("exports differ:\n%s\n---\n%s", first.Body, second.Body)
	}
}

func TestExportSingleBooking(t *testing.T) {
	s := testutil.NewTestStore(t)
	timed, _ := seed(t, s)
	e := newExporter(t, s, "UTC")

	doc, err := e.Export(context.Background(), timed.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.Filename != "booking-b-timed-2026-05-02.ics" {
		t.Fatalf("filename = %q", doc.Filename)
	}
	if events := parse(t, doc.Body); len(events) != 1 || events[0].Uid != "booking-b-timed@gigdesk.example" {
		t.Fatalf("events = %+v", events)
	}
}

func TestExportReflectsStatusChange(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	_, allDay := seed(t, s)
	e := newExporter(t, s, "UTC")

	before, err := e.Export(ctx, allDay.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	cancelled := store.BookingCancelled
	if _, err := s.UpdateBooking(ctx, allDay.ID, store.BookingUpdate{Status: &cancelled}); err != nil {
		t.Fatalf("UpdateBooking: %v", err)
	}
	after, err := e.Export(ctx, allDay.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if bytes.Equal(before.Body, after.Body) {
		t.Fatal("export did not change after update")
	}
	if events := parse(t, after.Body); events[0].Status != "CANCELLED" {
		t.Fatalf("status = %q", events[0].Status)
	}
}

func TestExportNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)
	e := newExporter(t, s, "UTC")

	if _, err := e.Export(context.Background(), ""); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("empty export: %v", err)
	}
	if _, err := e.Export(context.Background(), "missing"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("unknown booking: %v", err)
	}
}
