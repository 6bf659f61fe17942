package mailbox

import (
	"context"
	"fmt"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/config"
	"github.io/infrasutra/gigdesk/internal/store"
)

const relayCursorPrefix = "relay"

type SpoolReader interface {
	ListSpoolAfter(ctx context.Context, address string, afterNanos int64, afterID string, limit int) ([]store.SpoolMessage, error)
}

// RelayConnector reads mail that the embedded SMTP relay spooled for the
// inbox address.
type RelayConnector struct {
	spool SpoolReader
}

func NewRelayConnector(spool SpoolReader) *RelayConnector {
	return &RelayConnector{spool: spool}
}

func (c *RelayConnector) Fetch(ctx context.Context, inbox config.Inbox, cursor string) (Batch, error) {
	after, afterID, _ := parsePositionCursor(relayCursorPrefix, cursor)
	spooled, err := c.spool.ListSpoolAfter(ctx, inbox.Address, after, afterID, limitFor(inbox))
	if err != nil {
		if ctx.Err() != nil {
			return Batch{}, apperr.Connection("mailbox.Relay.Fetch", fmt.Errorf("%w: %w", ctx.Err(), err))
		}
		return Batch{}, apperr.Connection("mailbox.Relay.Fetch", err)
	}
	if len(spooled) == 0 {
		return Batch{Cursor: cursor}, nil
	}

	batch := Batch{Messages: make([]RawMessage, 0, len(spooled))}
	for _, msg := range spooled {
		batch.Messages = append(batch.Messages, RawMessage{
			UID:          msg.ID,
			Raw:          msg.Raw,
			InternalDate: msg.ReceivedAt,
		})
	}
	last := spooled[len(spooled)-1]
	batch.Cursor = formatPositionCursor(relayCursorPrefix, last.ReceivedAt.UnixNano(), last.ID)
	return batch, nil
}
