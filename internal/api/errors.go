package api

import (
	"context"
	"errors"
	"net/http"

	"github.io/infrasutra/gigdesk/internal/apperr"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind"`
	Details map[string]string `json:"details,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindConnection, apperr.KindProtocol:
		return http.StatusBadGateway
	case apperr.KindParse:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is what the client is told. Internal details stay in the log.
func publicMessage(kind apperr.Kind, err error) string {
	var appErr *apperr.Error
	if kind != apperr.KindInternal && errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	switch kind {
	case apperr.KindAuthentication:
		return "unauthorized"
	case apperr.KindForbidden:
		return "forbidden"
	case apperr.KindValidation:
		return "invalid request"
	case apperr.KindNotFound:
		return "not found"
	case apperr.KindConflict:
		return "conflict"
	case apperr.KindConnection:
		return "upstream mail server unavailable"
	case apperr.KindProtocol:
		return "upstream mail server error"
	case apperr.KindParse:
		return "message could not be parsed"
	default:
		return "internal error"
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	resp := errorResponse{Error: publicMessage(kind, err), Kind: kind.String()}
	if kind == apperr.KindValidation {
		resp.Details = apperr.DetailsOf(err)
	}
	s.respondJSON(w, status, resp)
}
