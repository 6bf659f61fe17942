package api

import (
	"net/http"
	"strings"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/auth"
	"github.io/infrasutra/gigdesk/internal/syncer"
)

type syncRequest struct {
	InboxID string `json:"inboxId"`
}

// handleSync runs a sync on behalf of a signed-in admin.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if _, err := s.requireAdmin(r); err != nil {
		s.respondError(w, r, err)
		return
	}
	var req syncRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.runSync(w, r, syncer.Request{InboxID: strings.TrimSpace(req.InboxID), Trigger: syncer.TriggerManual})
}

// handleCronSync is the scheduler hook. The shared secret is checked before
// any inbox is touched.
func (s *Server) handleCronSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !auth.CronAuthorized(s.cfg.CronSecret, auth.BearerToken(r)) {
		s.respondError(w, r, apperr.Authentication("api.handleCronSync", "invalid cron secret"))
		return
	}
	inboxID := strings.TrimSpace(r.URL.Query().Get("inbox"))
	s.runSync(w, r, syncer.Request{InboxID: inboxID, Trigger: syncer.TriggerCron})
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request, req syncer.Request) {
	report, err := s.sync.Run(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}
