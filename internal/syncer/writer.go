package syncer

import (
	"context"
	"fmt"

	"github.io/infrasutra/gigdesk/internal/normalize"
	"github.io/infrasutra/gigdesk/internal/store"
	"github.io/infrasutra/gigdesk/internal/threading"
)

type MessageStore interface {
	AppendMessage(ctx context.Context, a store.Append) (store.AppendResult, error)
}

// Writer persists one normalized message into its resolved thread.
type Writer struct {
	messages MessageStore
}

func NewWriter(messages MessageStore) *Writer {
	return &Writer{messages: messages}
}

type WriteOutcome struct {
	ThreadID  string
	Inserted  bool
	Duplicate bool
	NewThread bool
	Linked    bool
}

// Write stores rec in the thread chosen by res, creating the thread first
// when res asks for a new one. bookingID, if set, links the thread when it
// has no booking yet. A message whose external id is already stored for the
// inbox changes nothing and is reported as a duplicate.
func (w *Writer) Write(ctx context.Context, inboxID string, rec normalize.Record, res threading.Resolution, bookingID string) (WriteOutcome, error) {
	a := store.Append{
		LinkBooking: bookingID,
		Message:     rec.Message(inboxID),
	}
	if res.New() {
		thread := res.Thread
		thread.InboxID = inboxID
		a.NewThread = &thread
	} else {
		a.Message.ThreadID = res.Thread.ID
		if res.Adopted {
			a.AdoptUser = res.Thread.UserID
		}
	}

	result, err := w.messages.AppendMessage(ctx, a)
	if err != nil {
		return WriteOutcome{}, fmt.Errorf("write message %s: %w", rec.ExternalID, err)
	}
	return WriteOutcome{
		ThreadID:  result.ThreadID,
		Inserted:  result.Inserted,
		Duplicate: !result.Inserted,
		NewThread: result.Inserted && res.New(),
		Linked:    result.Linked,
	}, nil
}
