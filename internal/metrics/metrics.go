package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "appointment_transitions_total",
			Help:      "Count of committed appointment transitions by name.",
		},
		[]string{"transition"},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "booking_conflicts_total",
			Help:      "Count of writes rejected because the interval was already claimed.",
		},
		[]string{"operation"},
	)

	cancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "appointments_cancelled_total",
			Help:      "Count of appointments cancelled.",
		},
	)

	locksAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "locks_acquired_total",
			Help:      "Count of reservation locks acquired.",
		},
	)

	locksReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "locks_released_total",
			Help:      "Count of reservation locks released by their holder.",
		},
	)

	locksReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "locks_reclaimed_total",
			Help:      "Count of expired reservation locks reclaimed by the sweeper.",
		},
	)

	sweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "lock_sweeps_total",
			Help:      "Count of sweeper runs.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(transitions, conflicts, cancelled,
			locksAcquired, locksReleased, locksReclaimed, sweeps)
	})
}

func IncTransition(name string) { transitions.WithLabelValues(name).Inc() }
func IncConflict(op string)     { conflicts.WithLabelValues(op).Inc() }
func IncCancelled()             { cancelled.Inc() }
func IncLockAcquired()          { locksAcquired.Inc() }
func IncLockReleased()          { locksReleased.Inc() }
func IncLockReclaimed()         { locksReclaimed.Inc() }
func IncSweep()                 { sweeps.Inc() }
