// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Updates dispatched, by classified kind",
		},
		[]string{"kind"},
	)

	DispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_dispatch_failures_total",
			Help: "Updates whose handler returned an error or panicked, by kind",
		},
		[]string{"kind"},
	)

	TranscriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_transcriptions_total",
			Help: "Voice messages handled, by outcome",
		},
		[]string{"outcome"},
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_payments_total",
			Help: "Successful-payment confirmations, by ledger outcome",
		},
		[]string{"outcome"},
	)

	PreCheckoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_pre_checkout_total",
			Help: "Pre-checkout answers, by decision",
		},
		[]string{"decision"},
	)

	PollErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_poll_errors_total",
			Help: "Failed getUpdates calls",
		},
	)

	RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_remote_call_duration_seconds",
			Help:    "Duration of calls to the transcription and cleanup services",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)

// Outcome labels shared by the counters above.
const (
	OutcomeRecorded  = "recorded"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeSent      = "sent"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(UpdatesTotal)
	prometheus.MustRegister(DispatchFailuresTotal)
	prometheus.MustRegister(TranscriptionsTotal)
	prometheus.MustRegister(PaymentsTotal)
	prometheus.MustRegister(PreCheckoutTotal)
	prometheus.MustRegister(PollErrorsTotal)
	prometheus.MustRegister(RemoteCallDuration)
}
