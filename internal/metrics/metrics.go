// Package metrics registers the attendance pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansReceived counts device pushes by parse format ("body", "text", "query", "invalid").
	ScansReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "scans_received_total",
		Help:      "Device scan pushes received, by payload format.",
	}, []string{"format"})

	// ScansResolved counts resolver results ("student", "employee", "not_found", "ambiguous", "error").
	ScansResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "scans_resolved_total",
		Help:      "Scan subject resolution results.",
	}, []string{"result"})

	// Reconciled counts reconciler transitions by subject kind and outcome.
	Reconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "reconciled_total",
		Help:      "Attendance reconciler transitions.",
	}, []string{"kind", "outcome"})

	// NotificationFailures counts failed best-effort notifications.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "notification_failures_total",
		Help:      "Attendance notifications that failed to send.",
	})

	// AbsencesMarked counts rows inserted by the absence sweep.
	AbsencesMarked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "absences_marked_total",
		Help:      "Absent records inserted by the absence sweep.",
	})

	// SweepRuns counts sweep executions by result ("ok", "error").
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sweep_runs_total",
		Help:      "Absence sweep executions.",
	}, []string{"result"})

	// QueuePublishFailures counts scans that could not be enqueued.
	QueuePublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "queue_publish_failures_total",
		Help:      "Scan events that failed to enqueue.",
	})
)
