// Package mailbox fetches raw mail from the inboxes gigdesk watches.
//
// Every protocol sits behind Connector. A connector is handed the inbox
// configuration and the cursor saved after the previous pass, and returns the
// messages received since then, oldest first, with the cursor to save once
// they are stored. Connectors never persist anything themselves.
package mailbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/config"
)

// RawMessage is one undecoded RFC 5322 message.
type RawMessage struct {
	// UID identifies the message within its protocol (IMAP UID, Gmail id,
	// spool id). It is only used for logging.
	UID          string
	Raw          []byte
	InternalDate time.Time
}

type Batch struct {
	Messages []RawMessage
	// Cursor points at the last message in Messages, or is the input cursor
	// when nothing new was found.
	Cursor string
}

type Connector interface {
	Fetch(ctx context.Context, inbox config.Inbox, cursor string) (Batch, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, inbox config.Inbox, cursor string) (Batch, error)

func (f ConnectorFunc) Fetch(ctx context.Context, inbox config.Inbox, cursor string) (Batch, error) {
	return f(ctx, inbox, cursor)
}

// Registry resolves the connector for an inbox protocol.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

func (r *Registry) Register(protocol string, connector Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[protocol] = connector
}

func (r *Registry) Connector(protocol string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connector, ok := r.connectors[protocol]
	if !ok {
		return nil, apperr.Internal("mailbox.Registry", fmt.Errorf("no connector registered for protocol %q", protocol))
	}
	return connector, nil
}

func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	protocols := make([]string, 0, len(r.connectors))
	for protocol := range r.connectors {
		protocols = append(protocols, protocol)
	}
	sort.Strings(protocols)
	return protocols
}

func limitFor(inbox config.Inbox) int {
	if inbox.FetchLimit > 0 {
		return inbox.FetchLimit
	}
	return 200
}

func backfillSince(now time.Time, inbox config.Inbox) time.Time {
	days := inbox.BackfillDays
	if days <= 0 {
		days = 30
	}
	return now.AddDate(0, 0, -days)
}
