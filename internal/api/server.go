// Package api serves the booking portal's JSON API, the sync triggers and
// the operational endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/auth"
	"github.io/infrasutra/gigdesk/internal/calendar"
	"github.io/infrasutra/gigdesk/internal/config"
	"github.io/infrasutra/gigdesk/internal/metrics"
	"github.io/infrasutra/gigdesk/internal/outbound"
	"github.io/infrasutra/gigdesk/internal/sse"
	"github.io/infrasutra/gigdesk/internal/store"
	"github.io/infrasutra/gigdesk/internal/syncer"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Auth     *auth.Manager
	Sync     syncer.Runner
	Calendar *calendar.Exporter
	Mailer   outbound.Sender
	Writer   *syncer.Writer
	Hub      *sse.Hub
	Logger   *slog.Logger
}

type Server struct {
	cfg      *config.Config
	store    *store.Store
	auth     *auth.Manager
	sync     syncer.Runner
	calendar *calendar.Exporter
	mailer   outbound.Sender
	writer   *syncer.Writer
	hub      *sse.Hub
	logger   *slog.Logger
	mux      *http.ServeMux
	metrics  http.Handler
	now      func() time.Time
}

func NewServer(deps Deps) *Server {
	server := &Server{
		cfg:      deps.Config,
		store:    deps.Store,
		auth:     deps.Auth,
		sync:     deps.Sync,
		calendar: deps.Calendar,
		mailer:   deps.Mailer,
		writer:   deps.Writer,
		hub:      deps.Hub,
		logger:   deps.Logger,
		metrics:  promhttp.Handler(),
		now:      time.Now,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sync", server.instrument("sync", server.handleSync))
	mux.HandleFunc("/api/cron/sync", server.instrument("cron_sync", server.handleCronSync))
	mux.HandleFunc("/api/calendar.ics", server.instrument("calendar", server.handleCalendar))
	mux.HandleFunc("/api/me", server.instrument("me", server.handleMe))
	mux.HandleFunc("/api/logout", server.instrument("logout", server.handleLogout))
	mux.HandleFunc("/api/inboxes", server.instrument("inboxes", server.handleInboxes))
	mux.HandleFunc("/api/threads", server.instrument("threads", server.handleThreads))
	mux.HandleFunc("/api/threads/", server.instrument("thread", server.handleThread))
	mux.HandleFunc("/api/bookings", server.instrument("bookings", server.handleBookings))
	mux.HandleFunc("/api/bookings/", server.instrument("booking", server.handleBooking))
	mux.HandleFunc("/api/stream", server.handleStream)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") {
		s.mux.ServeHTTP(w, r)
		return
	}
	if path == "/health" {
		s.handleHealth(w, r)
		return
	}
	if path == "/ready" {
		s.handleReady(w, r)
		return
	}
	if path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(started))
	}
}

// identity resolves the caller from the bearer token or session cookie and
// records them, so mail from their address is threaded to their account.
func (s *Server) identity(r *http.Request) (auth.Identity, error) {
	id, err := s.auth.Parse(s.auth.TokenFromRequest(r), s.now())
	if err != nil {
		return auth.Identity{}, err
	}
	if _, err := s.store.TouchUser(r.Context(), id.UserID, id.Email, id.Role); err != nil {
		return auth.Identity{}, apperr.Internal("api.identity", err)
	}
	return id, nil
}

func (s *Server) requireAdmin(r *http.Request) (auth.Identity, error) {
	id, err := s.identity(r)
	if err != nil {
		return auth.Identity{}, err
	}
	if !id.IsAdmin() {
		return auth.Identity{}, apperr.Forbidden("api.requireAdmin", "admin access required")
	}
	return id, nil
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields. An empty
// body leaves dst untouched when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	const op = "api.decodeJSON"
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return apperr.Validation(op, "invalid JSON body", map[string]string{"body": err.Error()})
	}
	if dec.More() {
		return apperr.Validation(op, "invalid JSON body", map[string]string{"body": "unexpected data after object"})
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := s.identity(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, id)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

type inboxView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Protocol     string `json:"protocol"`
	Address      string `json:"address"`
	LastSyncedAt string `json:"lastSyncedAt,omitempty"`
	LastStatus   string `json:"lastStatus,omitempty"`
	LastError    string `json:"lastError,omitempty"`
}

func (s *Server) handleInboxes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, err := s.requireAdmin(r); err != nil {
		s.respondError(w, r, err)
		return
	}
	states, err := s.store.ListInboxStates(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	views := make([]inboxView, 0, len(s.cfg.Inboxes))
	for _, inbox := range s.cfg.Inboxes {
		view := inboxView{ID: inbox.ID, Name: inbox.Name, Protocol: inbox.Protocol, Address: inbox.Address}
		if state, ok := states[inbox.ID]; ok {
			view.LastStatus = state.LastStatus
			view.LastError = state.LastError
			view.LastSyncedAt = formatTime(state.LastSyncedAt)
		}
		views = append(views, view)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"inboxes": views})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// splitID returns the id and optional action after prefix, for paths of the
// form prefix/{id}[/action].
func splitID(path, prefix string) (id, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}
