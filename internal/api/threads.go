package api

import (
	"net/http"
	"strings"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/auth"
	"github.io/infrasutra/gigdesk/internal/mailbox"
	"github.io/infrasutra/gigdesk/internal/normalize"
	"github.io/infrasutra/gigdesk/internal/outbound"
	"github.io/infrasutra/gigdesk/internal/pagination"
	"github.io/infrasutra/gigdesk/internal/sse"
	"github.io/infrasutra/gigdesk/internal/store"
	"github.io/infrasutra/gigdesk/internal/threading"
)

type threadView struct {
	ID            string `json:"id"`
	InboxID       string `json:"inboxId"`
	UserID        string `json:"userId,omitempty"`
	BookingID     string `json:"bookingId,omitempty"`
	Subject       string `json:"subject"`
	Counterpart   string `json:"counterpart"`
	LastMessageAt string `json:"lastMessageAt"`
	CreatedAt     string `json:"createdAt"`
}

type messageView struct {
	ID           string   `json:"id"`
	RFCMessageID string   `json:"messageId,omitempty"`
	InReplyTo    string   `json:"inReplyTo,omitempty"`
	References   []string `json:"references,omitempty"`
	Direction    string   `json:"direction"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	ReceivedAt   string   `json:"receivedAt"`
}

func toThreadView(t store.Thread) threadView {
	return threadView{
		ID:            t.ID,
		InboxID:       t.InboxID,
		UserID:        t.UserID,
		BookingID:     t.BookingID,
		Subject:       t.Subject,
		Counterpart:   t.Counterpart,
		LastMessageAt: formatTime(t.LastMessageAt),
		CreatedAt:     formatTime(t.CreatedAt),
	}
}

func toMessageView(m store.Message) messageView {
	return messageView{
		ID:           m.ID,
		RFCMessageID: m.RFCMessageID,
		InReplyTo:    m.InReplyTo,
		References:   m.References,
		Direction:    string(m.Direction),
		From:         m.From,
		To:           m.To,
		Subject:      m.Subject,
		Body:         m.Body,
		ReceivedAt:   formatTime(m.ReceivedAt),
	}
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := s.identity(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	page := pagination.FromQuery(q)
	query := store.ThreadQuery{
		InboxID:   strings.TrimSpace(q.Get("inbox")),
		BookingID: strings.TrimSpace(q.Get("booking")),
		Search:    strings.TrimSpace(q.Get("q")),
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	if !id.IsAdmin() {
		query.UserID = id.UserID
	}
	threads, total, err := s.store.ListThreads(r.Context(), query)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	views := make([]threadView, 0, len(threads))
	for _, t := range threads {
		views = append(views, toThreadView(t))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"threads":    views,
		"pagination": page.Describe(total),
	})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	threadID, action, ok := splitID(r.URL.Path, "/api/threads/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, err := s.identity(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleThreadDetail(w, r, id, threadID)
	case "reply":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !id.IsAdmin() {
			s.respondError(w, r, apperr.Forbidden("api.handleThread", "admin access required"))
			return
		}
		s.handleThreadReply(w, r, threadID)
	default:
		http.NotFound(w, r)
	}
}

// visibleThread loads a thread the caller may see. Other users' threads are
// reported as missing.
func (s *Server) visibleThread(r *http.Request, id auth.Identity, threadID string) (store.Thread, error) {
	thread, err := s.store.GetThread(r.Context(), threadID)
	if err != nil {
		return store.Thread{}, err
	}
	if !id.IsAdmin() && thread.UserID != id.UserID {
		return store.Thread{}, apperr.NotFound("api.visibleThread", "thread not found")
	}
	return thread, nil
}

func (s *Server) handleThreadDetail(w http.ResponseWriter, r *http.Request, id auth.Identity, threadID string) {
	thread, err := s.visibleThread(r, id, threadID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	messages, err := s.store.ListThreadMessages(r.Context(), thread.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, toMessageView(m))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"thread":   toThreadView(thread),
		"messages": views,
	})
}

type replyRequest struct {
	Body string `json:"body"`
}

// handleThreadReply sends a reply to the thread's counterpart from the
// thread's inbox and records it in the thread as an outbound message.
func (s *Server) handleThreadReply(w http.ResponseWriter, r *http.Request, threadID string) {
	const op = "api.handleThreadReply"

	var req replyRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		s.respondError(w, r, apperr.Validation(op, "reply body is required", map[string]string{"body": "required"}))
		return
	}

	ctx := r.Context()
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	inbox, ok := s.cfg.Inbox(thread.InboxID)
	if !ok || inbox.Address == "" {
		s.respondError(w, r, apperr.Validation(op, "thread inbox has no sending address", nil))
		return
	}

	out := outbound.Outgoing{
		From:    inbox.Address,
		To:      []string{thread.Counterpart},
		Subject: outbound.ReplySubject(thread.Subject),
		Body:    req.Body,
	}
	latest, err := s.store.LatestThreadMessage(ctx, thread.ID)
	switch {
	case err == nil:
		if latest.RFCMessageID != "" {
			out.InReplyTo = latest.RFCMessageID
			out.References = append(append([]string{}, latest.References...), latest.RFCMessageID)
		}
		if latest.Subject != "" {
			out.Subject = outbound.ReplySubject(latest.Subject)
		}
	case !apperr.IsKind(err, apperr.KindNotFound):
		s.respondError(w, r, err)
		return
	}

	sent, err := s.mailer.Send(ctx, out)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rec, err := normalize.Normalize(mailbox.RawMessage{UID: sent.MessageID, Raw: sent.Raw, InternalDate: sent.Date}, inbox.Address)
	if err != nil {
		s.respondError(w, r, apperr.Internal(op, err))
		return
	}
	outcome, writeErr := s.writer.Write(ctx, thread.InboxID, rec, threading.Resolution{Thread: thread, Reason: threading.MatchReplyChain}, "")
	if writeErr != nil {
		// The mail is out; a later sync of the sent folder records it.
		s.logger.Error("failed to record sent reply", "thread", thread.ID, "message_id", sent.MessageID, "error", writeErr)
	}

	if thread.UserID != "" && s.hub != nil {
		event := sse.Event{Name: "message", Data: map[string]string{
			"threadId":  thread.ID,
			"inboxId":   thread.InboxID,
			"subject":   rec.Subject,
			"direction": string(store.DirectionOutbound),
		}}
		if err := s.hub.Publish(event, sse.UserTopic(thread.UserID), sse.TopicAdmins); err != nil {
			s.logger.Warn("publish reply event", "error", err)
		}
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"threadId":  thread.ID,
		"messageId": sent.MessageID,
		"recorded":  writeErr == nil && outcome.Inserted,
	})
}
