package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Booking metrics
	BookingsCreated prometheus.Counter
	SlotConflicts   prometheus.Counter
	StatusChanges   *prometheus.CounterVec
	Reschedules     *prometheus.CounterVec

	// Consultation session metrics
	ActiveRooms     prometheus.Gauge
	RelayedMessages *prometheus.CounterVec
	SessionsReaped  prometheus.Counter

	// Sweeper metrics
	SweeperRuns        prometheus.Counter
	SweeperCorrections prometheus.Counter

	// Side-effect metrics
	NotificationsSkipped prometheus.Counter
}

// NewMetrics creates all application metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BookingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Total number of appointments created",
		}),
		SlotConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Total number of rejected bookings due to slot conflicts",
		}),
		StatusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Total number of appointment status transitions",
		}, []string{"to"}),
		Reschedules: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reschedules_total",
			Help:      "Total number of appointment reschedules",
		}, []string{"initiator"}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consultation_rooms_active",
			Help:      "Current number of live consultation rooms",
		}),
		RelayedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Total number of messages relayed through consultation rooms",
		}, []string{"event"}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Total number of idle consultation rooms closed by the reaper",
		}),
		SweeperRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_runs_total",
			Help:      "Total number of reconciliation sweeper passes",
		}),
		SweeperCorrections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_corrections_total",
			Help:      "Total number of overdue appointments corrected by the sweeper",
		}),
		NotificationsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_skipped_total",
			Help:      "Total number of notifications skipped by the circuit breaker",
		}),
	}
}
