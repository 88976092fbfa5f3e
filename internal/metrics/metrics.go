// Package metrics defines the prometheus collectors for admission, delivery and expiry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission outcomes.
const (
	AdmissionPublished = "published"
	AdmissionReplayed  = "replayed"
	AdmissionConflict  = "conflict"
	AdmissionInvalid   = "invalid"
	AdmissionError     = "error"
)

// Delivery outcomes.
const (
	DeliverySent             = "sent"
	DeliveryFailed           = "failed"
	DeliveryInvalidRecipient = "invalid_recipient"
)

// Worker poll results.
const (
	PollClaimed = "claimed"
	PollEmpty   = "empty"
	PollError   = "error"
)

var (
	// AdmissionsTotal counts publish requests by outcome.
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_admissions_total",
			Help: "Publish requests by outcome",
		},
		[]string{"outcome"},
	)

	// DeliveryTasksEnqueued counts delivery tasks created at admission.
	DeliveryTasksEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_tasks_enqueued_total",
			Help: "Delivery tasks written to the outbox",
		},
	)

	// DeliveriesTotal counts processed delivery tasks by outcome.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Processed delivery tasks by outcome",
		},
		[]string{"outcome"},
	)

	// SendDuration observes outbound email send latency.
	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_send_duration_seconds",
			Help:    "Outbound email send latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WorkerPollsTotal counts delivery worker polls by result.
	WorkerPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_worker_polls_total",
			Help: "Delivery worker polls by result",
		},
		[]string{"result"},
	)

	// IdempotencyRecordsExpired counts records removed by the reaper.
	IdempotencyRecordsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_idempotency_records_expired_total",
			Help: "Idempotency records deleted after their TTL",
		},
	)

	// ReaperErrorsTotal counts failed reaper passes.
	ReaperErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_reaper_errors_total",
			Help: "Failed idempotency expiry passes",
		},
	)
)
