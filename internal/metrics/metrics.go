package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts inbound payment webhooks by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelspace",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total payment webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reelspace",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// PaymentsRecorded counts payment inserts, split into new rows and redeliveries.
	PaymentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelspace",
		Subsystem: "ledger",
		Name:      "payments_total",
		Help:      "Payment events by ledger result (inserted/duplicate).",
	}, []string{"result"})

	// InviteOutcomes counts media server access-grant attempts by recorded status.
	InviteOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelspace",
		Subsystem: "access",
		Name:      "invites_total",
		Help:      "Access-grant attempts by outcome.",
	}, []string{"status"})

	// Revocations counts access revocations by result.
	Revocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelspace",
		Subsystem: "access",
		Name:      "revocations_total",
		Help:      "Access revocations by result (removed/absent/error).",
	}, []string{"result"})

	ReferralCredits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reelspace",
		Subsystem: "ledger",
		Name:      "referral_credits_total",
		Help:      "Referral credits applied.",
	})

	MirrorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelspace",
		Subsystem: "mirror",
		Name:      "failures_total",
		Help:      "Suppressed spreadsheet mirror failures by worksheet.",
	}, []string{"sheet"})
)
