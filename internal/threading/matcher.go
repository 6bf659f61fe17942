// Package threading decides which conversation a message belongs to and
// which booking a conversation is about.
package threading

import (
	"context"
	"fmt"
	"strings"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/normalize"
	"github.io/infrasutra/gigdesk/internal/store"
)

// TieBreak picks among several threads that match a message by counterpart.
type TieBreak string

const (
	// TieBreakMostRecent picks the thread with the latest message.
	TieBreakMostRecent TieBreak = "most_recent"
	// TieBreakOldest picks the thread that was created first.
	TieBreakOldest TieBreak = "oldest"
)

func ParseTieBreak(value string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(value))) {
	case "", TieBreakMostRecent:
		return TieBreakMostRecent, nil
	case TieBreakOldest:
		return TieBreakOldest, nil
	default:
		return "", fmt.Errorf("unknown thread tie-break %q", value)
	}
}

// MatchReason records which rule resolved a message.
type MatchReason string

const (
	MatchReplyChain  MatchReason = "reply_chain"
	MatchCounterpart MatchReason = "counterpart"
	MatchNew         MatchReason = "new"
)

// Resolution is the thread a message goes into. When Reason is MatchNew,
// Thread is not stored yet and has no ID.
type Resolution struct {
	Thread store.Thread
	Reason MatchReason
	// Adopted is set when an existing ownerless thread now belongs to
	// Thread.UserID; the writer stores the new owner with the message.
	Adopted bool
}

func (r Resolution) New() bool {
	return r.Reason == MatchNew
}

type ThreadStore interface {
	FindThreadByRFCMessageID(ctx context.Context, inboxID, rfcMessageID string) (store.Thread, error)
	FindThreadsByCounterpart(ctx context.Context, inboxID, counterpart, userID string) ([]store.Thread, error)
	FindUserByEmail(ctx context.Context, email string) (store.User, error)
}

type Matcher struct {
	threads  ThreadStore
	tieBreak TieBreak
}

func NewMatcher(threads ThreadStore, tieBreak TieBreak) *Matcher {
	if tieBreak == "" {
		tieBreak = TieBreakMostRecent
	}
	return &Matcher{threads: threads, tieBreak: tieBreak}
}

// Match resolves rec to a thread of inboxID. A reply-chain hit wins over
// everything else, whoever the sender is.
func (m *Matcher) Match(ctx context.Context, inboxID string, rec normalize.Record) (Resolution, error) {
	for _, id := range replyChain(rec) {
		thread, err := m.threads.FindThreadByRFCMessageID(ctx, inboxID, id)
		if err == nil {
			return m.adopt(ctx, Resolution{Thread: thread, Reason: MatchReplyChain})
		}
		if !apperr.IsKind(err, apperr.KindNotFound) {
			return Resolution{}, fmt.Errorf("match reply chain: %w", err)
		}
	}

	ownerID, err := m.ownerOf(ctx, rec.Counterpart)
	if err != nil {
		return Resolution{}, err
	}

	candidates, err := m.threads.FindThreadsByCounterpart(ctx, inboxID, rec.Counterpart, ownerID)
	if err != nil {
		return Resolution{}, fmt.Errorf("match counterpart: %w", err)
	}
	if len(candidates) > 0 {
		return Resolution{Thread: m.pick(candidates), Reason: MatchCounterpart}, nil
	}
	if ownerID != "" {
		// The conversation may have started before the account existed.
		ownerless, err := m.threads.FindThreadsByCounterpart(ctx, inboxID, rec.Counterpart, "")
		if err != nil {
			return Resolution{}, fmt.Errorf("match counterpart: %w", err)
		}
		if len(ownerless) > 0 {
			thread := m.pick(ownerless)
			thread.UserID = ownerID
			return Resolution{Thread: thread, Reason: MatchCounterpart, Adopted: true}, nil
		}
	}

	return Resolution{
		Thread: store.Thread{
			InboxID:     inboxID,
			UserID:      ownerID,
			Subject:     rec.Subject,
			Counterpart: rec.Counterpart,
		},
		Reason: MatchNew,
	}, nil
}

// adopt assigns an ownerless thread to the user owning its counterpart.
func (m *Matcher) adopt(ctx context.Context, res Resolution) (Resolution, error) {
	if res.Thread.UserID != "" || res.Thread.Counterpart == "" {
		return res, nil
	}
	ownerID, err := m.ownerOf(ctx, res.Thread.Counterpart)
	if err != nil || ownerID == "" {
		return res, err
	}
	res.Thread.UserID = ownerID
	res.Adopted = true
	return res, nil
}

// ownerOf returns the portal user whose account email is the counterpart,
// or "" when there is none.
func (m *Matcher) ownerOf(ctx context.Context, counterpart string) (string, error) {
	user, err := m.threads.FindUserByEmail(ctx, counterpart)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("find thread owner: %w", err)
	}
	return user.ID, nil
}

func (m *Matcher) pick(candidates []store.Thread) store.Thread {
	best := candidates[0]
	for _, t := range candidates[1:] {
		switch m.tieBreak {
		case TieBreakOldest:
			if t.CreatedAt.Before(best.CreatedAt) || (t.CreatedAt.Equal(best.CreatedAt) && t.ID < best.ID) {
				best = t
			}
		default:
			if t.LastMessageAt.After(best.LastMessageAt) || (t.LastMessageAt.Equal(best.LastMessageAt) && t.ID > best.ID) {
				best = t
			}
		}
	}
	return best
}

// replyChain lists the ids to try: In-Reply-To, then References from newest
// to oldest.
func replyChain(rec normalize.Record) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	add(rec.InReplyTo)
	for i := len(rec.References) - 1; i >= 0; i-- {
		add(rec.References[i])
	}
	return ids
}
