package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, err := s.requireAdmin(r); err != nil {
		s.respondError(w, r, err)
		return
	}
	doc, err := s.calendar.Export(r.Context(), strings.TrimSpace(r.URL.Query().Get("booking")))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}
