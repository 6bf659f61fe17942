// Package calendar renders bookings as an iCalendar document.
package calendar

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/metrics"
	"github.io/infrasutra/gigdesk/internal/store"
)

const (
	ContentType = "text/calendar; charset=utf-8"
	productID   = "-//gigdesk//bookings//EN"
)

type BookingSource interface {
	GetBooking(ctx context.Context, id string) (store.Booking, error)
	ListBookings(ctx context.Context, q store.BookingQuery) ([]store.Booking, int, error)
}

type Options struct {
	// Domain is the right-hand side of every event UID.
	Domain string
	// Location is the zone booking start times are written in.
	Location        *time.Location
	DefaultDuration time.Duration
	Logger          *slog.Logger
}

type Exporter struct {
	bookings BookingSource
	domain   string
	location *time.Location
	duration time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewExporter(bookings BookingSource, opts Options) *Exporter {
	e := &Exporter{
		bookings: bookings,
		domain:   opts.Domain,
		location: opts.Location,
		duration: opts.DefaultDuration,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if e.domain == "" {
		e.domain = "gigdesk.local"
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.duration <= 0 {
		e.duration = 4 * time.Hour
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Document is a rendered calendar ready to be served as a download.
type Document struct {
	Body        []byte
	Filename    string
	ContentType string
}

// Export renders one booking, or every booking when bookingID is empty.
// The output depends only on the stored bookings, so exporting twice
// without changes gives the same bytes.
func (e *Exporter) Export(ctx context.Context, bookingID string) (Document, error) {
	const op = "calendar.Export"

	var bookings []store.Booking
	if bookingID != "" {
		b, err := e.bookings.GetBooking(ctx, bookingID)
		if err != nil {
			return Document{}, err
		}
		bookings = []store.Booking{b}
	} else {
		all, _, err := e.bookings.ListBookings(ctx, store.BookingQuery{})
		if err != nil {
			return Document{}, apperr.Internal(op, err)
		}
		if len(all) == 0 {
			return Document{}, apperr.NotFound(op, "no bookings to export")
		}
		bookings = all
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	for _, b := range bookings {
		event, err := e.event(b)
		if err != nil {
			e.logger.Warn("skipping booking with invalid date", "booking", b.ID, "error", err)
			continue
		}
		cal.Children = append(cal.Children, event.Component)
	}
	if len(cal.Children) == 0 {
		return Document{}, apperr.NotFound(op, "no exportable bookings")
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return Document{}, apperr.Internal(op, fmt.Errorf("encode calendar: %w", err))
	}

	day := e.now().UTC().Format("2006-01-02")
	filename, scope := "bookings-"+day+".ics", "all"
	if bookingID != "" {
		filename, scope = "booking-"+bookingID+"-"+day+".ics", "single"
	}
	metrics.CalendarExports.WithLabelValues(scope).Inc()
	return Document{Body: buf.Bytes(), Filename: filename, ContentType: ContentType}, nil
}

func (e *Exporter) event(b store.Booking) (*ical.Event, error) {
	date, err := time.ParseInLocation("2006-01-02", b.EventDate, e.location)
	if err != nil {
		return nil, fmt.Errorf("event date %q: %w", b.EventDate, err)
	}

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, fmt.Sprintf("booking-%s@%s", b.ID, e.domain))
	event.Props.SetDateTime(ical.PropDateTimeStamp, b.UpdatedAt.UTC())

	if b.StartTime != "" {
		clock, err := time.Parse("15:04", b.StartTime)
		if err != nil {
			return nil, fmt.Errorf("start time %q: %w", b.StartTime, err)
		}
		start := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, e.location)
		duration := e.duration
		if b.DurationMinutes > 0 {
			duration = time.Duration(b.DurationMinutes) * time.Minute
		}
		event.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(duration).UTC())
	} else {
		event.Props.SetDate(ical.PropDateTimeStart, date)
		event.Props.SetDate(ical.PropDateTimeEnd, date.AddDate(0, 0, 1))
	}

	event.Props.SetText(ical.PropSummary, summary(b))
	if b.Venue != "" {
		event.Props.SetText(ical.PropLocation, b.Venue)
	}
	event.Props.SetText(ical.PropDescription, description(b))
	event.Props.SetText(ical.PropStatus, eventStatus(b.Status))
	return event, nil
}

func summary(b store.Booking) string {
	kind := b.EventType
	if kind == "" {
		kind = "Booking"
	}
	if b.Venue == "" {
		return kind
	}
	return kind + " @ " + b.Venue
}

func description(b store.Booking) string {
	lines := []string{"Requested by " + b.Name}
	if b.Email != "" {
		lines = append(lines, "Email: "+b.Email)
	}
	if b.Phone != "" {
		lines = append(lines, "Phone: "+b.Phone)
	}
	return strings.Join(lines, "\n")
}

func eventStatus(status store.BookingStatus) string {
	switch status {
	case store.BookingConfirmed:
		return "CONFIRMED"
	case store.BookingCancelled:
		return "CANCELLED"
	default:
		return "TENTATIVE"
	}
}
