package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigdesk_sync_runs_total",
			Help: "Sync invocations by trigger",
		},
		[]string{"trigger"},
	)

	// InboxSyncs counts per-inbox passes; result is ok or failed.
	InboxSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigdesk_inbox_syncs_total",
			Help: "Per-inbox sync passes by result",
		},
		[]string{"inbox", "result", "error_kind"},
	)

	InboxSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gigdesk_inbox_sync_duration_seconds",
			Help:    "Per-inbox sync pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"inbox"},
	)

	// SyncMessages counts messages by outcome: inserted, duplicate, skipped.
	SyncMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigdesk_sync_messages_total",
			Help: "Messages seen by sync, by outcome",
		},
		[]string{"inbox", "outcome"},
	)

	CalendarExports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigdesk_calendar_exports_total",
			Help: "Calendar exports by scope",
		},
		[]string{"scope"},
	)

	OutboundMail = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigdesk_outbound_mail_total",
			Help: "Replies submitted over SMTP, by status",
		},
		[]string{"status"},
	)

	RelayMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigdesk_relay_spooled_total",
			Help: "Messages spooled by the inbound relay, per recipient",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gigdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route", "status"},
	)
)

func RecordInboxSync(inbox, result, errorKind string, duration time.Duration) {
	InboxSyncs.WithLabelValues(inbox, result, errorKind).Inc()
	InboxSyncDuration.WithLabelValues(inbox).Observe(duration.Seconds())
}

func RecordSyncMessages(inbox string, inserted, duplicates, skipped int) {
	SyncMessages.WithLabelValues(inbox, "inserted").Add(float64(inserted))
	SyncMessages.WithLabelValues(inbox, "duplicate").Add(float64(duplicates))
	SyncMessages.WithLabelValues(inbox, "skipped").Add(float64(skipped))
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, statusClass(status)).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
