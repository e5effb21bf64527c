// Package metrics exposes booking-core counters on the default Prometheus
// registry; the router serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingsTotal counts booking attempts by outcome:
	// booked, slot_full, duplicate, busy, rejected, error.
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_attempts_total",
		Help: "Booking attempts by outcome.",
	}, []string{"outcome"})

	// MovesTotal counts admin slot transfers by outcome.
	MovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_moves_total",
		Help: "Appointment slot transfers by outcome.",
	}, []string{"outcome"})

	// LockContentionTotal counts lock acquisitions that failed fast because
	// another worker held the key.
	LockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_lock_contention_total",
		Help: "Slot lock acquisitions rejected due to contention.",
	})

	// ClassifierFailuresTotal counts risk classifier lookups that degraded to
	// the non-priority default.
	ClassifierFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_classifier_failures_total",
		Help: "Risk classifier lookups that failed and defaulted to non-priority.",
	})
)
