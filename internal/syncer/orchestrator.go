// Package syncer runs the inbox sync pipeline: fetch, normalize, thread,
// link and store, one inbox at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/config"
	"github.io/infrasutra/gigdesk/internal/lock"
	"github.io/infrasutra/gigdesk/internal/mailbox"
	"github.io/infrasutra/gigdesk/internal/metrics"
	"github.io/infrasutra/gigdesk/internal/normalize"
	"github.io/infrasutra/gigdesk/internal/sse"
	"github.io/infrasutra/gigdesk/internal/store"
	"github.io/infrasutra/gigdesk/internal/threading"
)

type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerCron     Trigger = "cron"
	TriggerSchedule Trigger = "schedule"
	TriggerCLI      Trigger = "cli"
)

func (t Trigger) valid() bool {
	switch t {
	case TriggerManual, TriggerCron, TriggerSchedule, TriggerCLI:
		return true
	default:
		return false
	}
}

// State is where a pass over one inbox is, or where it stopped.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateFetching   State = "fetching"
	StateNormalize  State = "normalizing"
	StateMatching   State = "matching_linking"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Request selects the inboxes to sync. An empty InboxID means all of them.
type Request struct {
	InboxID string
	Trigger Trigger
}

type InboxReport struct {
	InboxID    string `json:"inboxId"`
	Name       string `json:"name"`
	State      State  `json:"state"`
	FailedAt   State  `json:"failedAt,omitempty"`
	Fetched    int    `json:"fetched"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	NewThreads int    `json:"newThreads"`
	Linked     int    `json:"linked"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

type Report struct {
	Trigger   Trigger       `json:"trigger"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Inboxes   []InboxReport `json:"inboxes"`
}

// Runner is what triggers need from the orchestrator.
type Runner interface {
	Run(ctx context.Context, req Request) (Report, error)
}

type StateStore interface {
	GetInboxState(ctx context.Context, inboxID string) (store.InboxState, error)
	SaveInboxCursor(ctx context.Context, inboxID, cursor string, syncedAt time.Time) error
	RecordInboxFailure(ctx context.Context, inboxID, message string) error
}

type ConnectorSource interface {
	Connector(protocol string) (mailbox.Connector, error)
}

type Publisher interface {
	Publish(event sse.Event, topics ...string) error
}

type Options struct {
	Inboxes    []config.Inbox
	Connectors ConnectorSource
	States     StateStore
	Matcher    *threading.Matcher
	Linker     *threading.Linker
	Writer     *Writer
	Locker     lock.Locker
	Events     Publisher
	// Timeout bounds one inbox pass, fetch and writes included.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Orchestrator struct {
	inboxes    []config.Inbox
	connectors ConnectorSource
	states     StateStore
	matcher    *threading.Matcher
	linker     *threading.Linker
	writer     *Writer
	locker     lock.Locker
	events     Publisher
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Orchestrator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		inboxes:    opts.Inboxes,
		connectors: opts.Connectors,
		states:     opts.States,
		matcher:    opts.Matcher,
		linker:     opts.Linker,
		writer:     opts.Writer,
		locker:     locker,
		events:     opts.Events,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Run syncs the requested inboxes one after another. A failing inbox is
// recorded in the report and does not stop the others; Run itself only
// fails for a bad request, before any inbox is contacted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Report, error) {
	const op = "syncer.Run"

	if !req.Trigger.valid() {
		return Report{}, apperr.Validation(op, "invalid sync trigger", map[string]string{"trigger": string(req.Trigger)})
	}

	targets := o.inboxes
	if req.InboxID != "" {
		inbox, ok := o.find(req.InboxID)
		if !ok {
			return Report{}, apperr.NotFound(op, fmt.Sprintf("inbox %q is not configured", req.InboxID))
		}
		targets = []config.Inbox{inbox}
	}

	metrics.SyncRuns.WithLabelValues(string(req.Trigger)).Inc()
	report := Report{Trigger: req.Trigger, Inboxes: make([]InboxReport, 0, len(targets))}
	for _, inbox := range targets {
		if ctx.Err() != nil {
			break
		}
		result := o.syncInbox(ctx, inbox)
		report.Attempted++
		if result.State == StateDone {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Inboxes = append(report.Inboxes, result)
	}

	o.logger.Info("sync finished",
		"trigger", req.Trigger,
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed)
	o.publish(sse.Event{Name: "sync", Data: report}, sse.TopicAdmins)
	return report, nil
}

// failureMessage is the error text reports and inbox state carry. Internal
// failures stay in the log only.
func failureMessage(kind apperr.Kind, err error) string {
	if kind == apperr.KindInternal {
		return "internal error"
	}
	return err.Error()
}

func (o *Orchestrator) find(id string) (config.Inbox, bool) {
	for _, inbox := range o.inboxes {
		if inbox.ID == id {
			return inbox, true
		}
	}
	return config.Inbox{}, false
}

func (o *Orchestrator) syncInbox(ctx context.Context, inbox config.Inbox) InboxReport {
	started := o.now()
	logger := o.logger.With("inbox", inbox.ID)
	report := InboxReport{InboxID: inbox.ID, Name: inbox.Name, State: StateIdle}

	err := o.runInbox(ctx, inbox, &report, logger)
	report.DurationMS = o.now().Sub(started).Milliseconds()

	if err != nil {
		kind := apperr.KindOf(err)
		report.FailedAt = report.State
		report.State = StateFailed
		report.Error = failureMessage(kind, err)
		report.ErrorKind = kind.String()
		logger.Error("inbox sync failed", "stage", report.FailedAt, "kind", kind, "error", err)
		// A conflicting pass owns the inbox state; leave it alone.
		if kind != apperr.KindConflict {
			if recErr := o.states.RecordInboxFailure(context.WithoutCancel(ctx), inbox.ID, report.Error); recErr != nil {
				logger.Error("failed to record inbox failure", "error", recErr)
			}
		}
	} else {
		report.State = StateDone
		logger.Info("inbox synced",
			"fetched", report.Fetched,
			"inserted", report.Inserted,
			"duplicates", report.Duplicates,
			"skipped", report.Skipped,
			"new_threads", report.NewThreads)
	}

	metrics.RecordInboxSync(inbox.ID, resultLabel(report.State), report.ErrorKind, time.Duration(report.DurationMS)*time.Millisecond)
	metrics.RecordSyncMessages(inbox.ID, report.Inserted, report.Duplicates, report.Skipped)
	return report
}

// runInbox is one locked, time-bounded pass. The cursor is saved only after
// every message of the batch has been written.
func (o *Orchestrator) runInbox(ctx context.Context, inbox config.Inbox, report *InboxReport, logger *slog.Logger) (err error) {
	const op = "syncer.runInbox"

	release, err := o.locker.Acquire(ctx, "inbox:"+inbox.ID, 2*o.timeout)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return apperr.Conflict(op, fmt.Sprintf("inbox %s is already being synced", inbox.ID))
		}
		return apperr.Internal(op, err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	defer func() {
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !apperr.IsKind(err, apperr.KindConflict) {
			err = apperr.Connection(op, fmt.Errorf("inbox sync timed out after %s: %w", o.timeout, err))
		}
	}()

	state, err := o.states.GetInboxState(ctx, inbox.ID)
	if err != nil {
		return err
	}

	report.State = StateConnecting
	connector, err := o.connectors.Connector(inbox.Protocol)
	if err != nil {
		return err
	}

	report.State = StateFetching
	batch, err := connector.Fetch(ctx, inbox, state.Cursor)
	if err != nil {
		return err
	}
	report.Fetched = len(batch.Messages)

	var events []sse.Event
	var owners []string
	for _, raw := range batch.Messages {
		report.State = StateNormalize
		rec, err := normalize.Normalize(raw, inbox.Address)
		if err != nil {
			if apperr.IsKind(err, apperr.KindParse) {
				report.Skipped++
				logger.Warn("skipping unparseable message", "uid", raw.UID, "error", err)
				continue
			}
			return err
		}

		report.State = StateMatching
		resolution, err := o.matcher.Match(ctx, inbox.ID, rec)
		if err != nil {
			return err
		}
		bookingID, err := o.linker.Link(ctx, resolution.Thread)
		if err != nil {
			return err
		}

		report.State = StatePersisting
		outcome, err := o.writer.Write(ctx, inbox.ID, rec, resolution, bookingID)
		if err != nil {
			return err
		}
		if outcome.Duplicate {
			report.Duplicates++
			continue
		}
		report.Inserted++
		if outcome.NewThread {
			report.NewThreads++
		}
		if outcome.Linked {
			report.Linked++
		}
		if owner := resolution.Thread.UserID; owner != "" {
			events = append(events, sse.Event{Name: "message", Data: map[string]string{
				"threadId":  outcome.ThreadID,
				"inboxId":   inbox.ID,
				"subject":   rec.Subject,
				"direction": string(rec.Direction),
			}})
			owners = append(owners, owner)
		}
	}

	if err := o.states.SaveInboxCursor(ctx, inbox.ID, batch.Cursor, o.now()); err != nil {
		return err
	}

	for i, event := range events {
		o.publish(event, sse.UserTopic(owners[i]))
	}
	return nil
}

func (o *Orchestrator) publish(event sse.Event, topics ...string) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(event, topics...); err != nil {
		o.logger.Warn("failed to publish event", "event", event.Name, "error", err)
	}
}

func resultLabel(state State) string {
	if state == StateDone {
		return "ok"
	}
	return "failed"
}
