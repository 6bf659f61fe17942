package api

import (
	"net/http"
	"strings"
	"time"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/auth"
	"github.io/infrasutra/gigdesk/internal/pagination"
	"github.io/infrasutra/gigdesk/internal/sse"
	"github.io/infrasutra/gigdesk/internal/store"
)

type bookingView struct {
	ID              string `json:"id"`
	UserID          string `json:"userId,omitempty"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	Venue           string `json:"venue"`
	EventType       string `json:"eventType"`
	EventDate       string `json:"eventDate"`
	StartTime       string `json:"startTime,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

func toBookingView(b store.Booking) bookingView {
	return bookingView{
		ID:              b.ID,
		UserID:          b.UserID,
		Name:            b.Name,
		Email:           b.Email,
		Phone:           b.Phone,
		Venue:           b.Venue,
		EventType:       b.EventType,
		EventDate:       b.EventDate,
		StartTime:       b.StartTime,
		DurationMinutes: b.DurationMinutes,
		Status:          string(b.Status),
		Notes:           b.Notes,
		CreatedAt:       formatTime(b.CreatedAt),
		UpdatedAt:       formatTime(b.UpdatedAt),
	}
}

type bookingRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Venue           string `json:"venue"`
	EventType       string `json:"eventType"`
	EventDate       string `json:"eventDate"`
	StartTime       string `json:"startTime"`
	DurationMinutes int    `json:"durationMinutes"`
	Notes           string `json:"notes"`
}

func (req bookingRequest) validate() (store.Booking, error) {
	details := map[string]string{}
	b := store.Booking{
		Name:            strings.TrimSpace(req.Name),
		Phone:           strings.TrimSpace(req.Phone),
		Venue:           strings.TrimSpace(req.Venue),
		EventType:       strings.TrimSpace(req.EventType),
		EventDate:       strings.TrimSpace(req.EventDate),
		StartTime:       strings.TrimSpace(req.StartTime),
		DurationMinutes: req.DurationMinutes,
		Notes:           strings.TrimSpace(req.Notes),
	}
	if b.Name == "" {
		details["name"] = "required"
	}
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		details["email"] = err.Error()
	}
	b.Email = email
	if _, err := time.Parse("2006-01-02", b.EventDate); err != nil {
		details["eventDate"] = "must be YYYY-MM-DD"
	}
	if b.StartTime != "" {
		if _, err := time.Parse("15:04", b.StartTime); err != nil {
			details["startTime"] = "must be HH:MM"
		}
	}
	if b.DurationMinutes < 0 || b.DurationMinutes > 24*60 {
		details["durationMinutes"] = "must be between 0 and 1440"
	}
	if len(details) > 0 {
		return store.Booking{}, apperr.Validation("api.bookingRequest", "invalid booking", details)
	}
	return b, nil
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleBookingList(w, r)
	case http.MethodPost:
		s.handleBookingCreate(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookingList(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	page := pagination.FromQuery(q)
	query := store.BookingQuery{
		Search: strings.TrimSpace(q.Get("q")),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if status := strings.TrimSpace(q.Get("status")); status != "" {
		if !store.BookingStatus(status).Valid() {
			s.respondError(w, r, apperr.Validation("api.handleBookingList", "invalid status filter", map[string]string{"status": status}))
			return
		}
		query.Status = store.BookingStatus(status)
	}
	if !id.IsAdmin() {
		query.UserID = id.UserID
	}
	bookings, total, err := s.store.ListBookings(r.Context(), query)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	views := make([]bookingView, 0, len(bookings))
	for _, b := range bookings {
		views = append(views, toBookingView(b))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"bookings":   views,
		"pagination": page.Describe(total),
	})
}

// handleBookingCreate is the public booking form. A signed-in client's
// booking is attached to their account.
func (s *Server) handleBookingCreate(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondError(w, r, err)
		return
	}
	booking, err := req.validate()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if id, err := s.identity(r); err == nil && !id.IsAdmin() {
		booking.UserID = id.UserID
	}
	created, err := s.store.CreateBooking(r.Context(), booking)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("booking created", "booking", created.ID, "event_date", created.EventDate)
	s.publishBooking("booking.created", created)
	s.respondJSON(w, http.StatusCreated, toBookingView(created))
}

func (s *Server) handleBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, action, ok := splitID(r.URL.Path, "/api/bookings/")
	if !ok || action != "" {
		http.NotFound(w, r)
		return
	}
	id, err := s.identity(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		booking, err := s.store.GetBooking(r.Context(), bookingID)
		if err == nil && !id.IsAdmin() && booking.UserID != id.UserID {
			err = apperr.NotFound("api.handleBooking", "booking not found")
		}
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, toBookingView(booking))
	case http.MethodPatch:
		if !id.IsAdmin() {
			s.respondError(w, r, apperr.Forbidden("api.handleBooking", "admin access required"))
			return
		}
		s.handleBookingUpdate(w, r, bookingID)
	default:
		methodNotAllowed(w)
	}
}

type bookingPatch struct {
	Status *string `json:"status"`
	UserID *string `json:"userId"`
	Notes  *string `json:"notes"`
}

func (s *Server) handleBookingUpdate(w http.ResponseWriter, r *http.Request, bookingID string) {
	const op = "api.handleBookingUpdate"

	var patch bookingPatch
	if err := decodeJSON(r, &patch, false); err != nil {
		s.respondError(w, r, err)
		return
	}
	var update store.BookingUpdate
	if patch.Status != nil {
		status := store.BookingStatus(strings.TrimSpace(*patch.Status))
		if !status.Valid() {
			s.respondError(w, r, apperr.Validation(op, "invalid booking", map[string]string{"status": "must be pending, confirmed or cancelled"}))
			return
		}
		update.Status = &status
	}
	if patch.UserID != nil {
		if userID := strings.TrimSpace(*patch.UserID); userID != "" {
			if _, err := s.store.GetUser(r.Context(), userID); err != nil {
				if apperr.IsKind(err, apperr.KindNotFound) {
					err = apperr.Validation(op, "invalid booking", map[string]string{"userId": "unknown user"})
				}
				s.respondError(w, r, err)
				return
			}
		}
		update.UserID = patch.UserID
	}
	update.Notes = patch.Notes

	updated, err := s.store.UpdateBooking(r.Context(), bookingID, update)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.publishBooking("booking.updated", updated)
	s.respondJSON(w, http.StatusOK, toBookingView(updated))
}

func (s *Server) publishBooking(name string, b store.Booking) {
	if s.hub == nil {
		return
	}
	topics := []string{sse.TopicAdmins}
	if b.UserID != "" {
		topics = append(topics, sse.UserTopic(b.UserID))
	}
	event := sse.Event{Name: name, Data: toBookingView(b)}
	if err := s.hub.Publish(event, topics...); err != nil {
		s.logger.Warn("publish booking event", "error", err)
	}
}
