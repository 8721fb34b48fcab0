// Package metrics provides Prometheus instrumentation for the
// moderation pipeline. It exposes gauges for connection and queue
// sizes, and counters for reports, moderation actions, and classifier
// activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ReportsTotal counts completed reports by origin: "user" or "automated".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_reports_total",
		Help: "Total number of completed abuse reports",
	}, []string{"origin"}) // origin = "user", "automated"

	// ReportsCanceled counts reporting flows aborted by the reporter.
	ReportsCanceled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_reports_canceled_total",
		Help: "Total number of canceled reporting flows",
	})

	// QueueSize tracks the current number of reports awaiting moderation.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_moderation_queue_size",
		Help: "Current number of reports in the moderation queue",
	})

	// ActiveReportSessions tracks in-flight reporter conversations.
	ActiveReportSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_active_report_sessions",
		Help: "Current number of active reporter sessions",
	})

	// ActiveModerateSessions tracks in-flight moderator conversations.
	ActiveModerateSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_active_moderate_sessions",
		Help: "Current number of active moderator sessions",
	})

	// ModerationActions counts dispatched remedial actions by kind.
	ModerationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_moderation_actions_total",
		Help: "Total number of moderation actions dispatched",
	}, []string{"action"}) // action = "permanent_ban", "temporary_ban", "warn", "block"

	// ClassifierErrors counts failed automated-detection passes by kind.
	ClassifierErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_classifier_errors_total",
		Help: "Total number of failed classifier protocol runs",
	}, []string{"kind"}) // kind = "protocol", "transport"

	// ToxicityFlags counts messages removed by the toxicity sweep,
	// labeled by the triggering attribute.
	ToxicityFlags = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_toxicity_flags_total",
		Help: "Total number of messages flagged by toxicity scoring",
	}, []string{"attribute"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ReportsTotal,
		ReportsCanceled,
		QueueSize,
		ActiveReportSessions,
		ActiveModerateSessions,
		ModerationActions,
		ClassifierErrors,
		ToxicityFlags,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
