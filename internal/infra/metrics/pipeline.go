package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		chunkJobsProcessed,
		recipientsExpanded,
		messagesSent,
		messagesFailed,
		sendRetries,
		rateLimitDeferrals,
		statusUpdatesApplied,
		pipelineErrors,
	)
}

var (
	chunkJobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_chunk_jobs_processed_total",
			Help: "Chunk jobs consumed by outcome (ok/skipped/duplicate/malformed/error).",
		},
		[]string{"outcome"},
	)

	recipientsExpanded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_recipients_expanded_total",
			Help: "Recipients expanded into send jobs.",
		},
	)

	messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_messages_sent_total",
			Help: "Messages successfully handed to the outbound channel.",
		},
	)

	messagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_messages_failed_total",
			Help: "Send jobs abandoned as FAILED.",
		},
	)

	sendRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_send_retries_total",
			Help: "Send jobs requeued after a transient failure.",
		},
	)

	rateLimitDeferrals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_rate_limit_deferrals_total",
			Help: "Send jobs deferred because the per-minute rate limit was exhausted.",
		},
	)

	statusUpdatesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_status_updates_applied_total",
			Help: "Status updates written to the recipient log, by status.",
		},
		[]string{"status"},
	)

	pipelineErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_pipeline_errors_total",
			Help: "Unexpected errors per pipeline stage.",
		},
		[]string{"stage"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncChunkJob(outcome string)  { chunkJobsProcessed.WithLabelValues(norm(outcome)).Inc() }
func AddRecipientsExpanded(n int) { recipientsExpanded.Add(float64(n)) }
func IncMessageSent()             { messagesSent.Inc() }
func IncMessageFailed()           { messagesFailed.Inc() }
func IncSendRetry()               { sendRetries.Inc() }
func IncRateLimitDeferral()       { rateLimitDeferrals.Inc() }

func IncStatusApplied(status string) {
	statusUpdatesApplied.WithLabelValues(norm(status)).Inc()
}

func IncError(stage string) { pipelineErrors.WithLabelValues(norm(stage)).Inc() }
