package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		entryTransitionsTotal,
		entriesDue,
		overdueEntries,
		duplicateActiveUsers,
	)
}

var (
	entryTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_entry_transitions_total",
			Help: "Schedule entry state transitions.",
		},
		[]string{"to_state"},
	)

	entriesDue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "billing_entries_due",
			Help: "Entries picked up by the last poll cycle.",
		},
	)

	overdueEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "billing_entries_overdue",
			Help: "Unresolved entries whose due time passed the diagnostic cutoff.",
		},
	)

	duplicateActiveUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "billing_duplicate_active_users",
			Help: "Users holding more than one forward-scheduled entry.",
		},
	)
)

func IncEntryTransition(toState string) {
	entryTransitionsTotal.WithLabelValues(norm(toState)).Inc()
}

func SetEntriesDue(n int)           { entriesDue.Set(float64(n)) }
func SetOverdueEntries(n int)       { overdueEntries.Set(float64(n)) }
func SetDuplicateActiveUsers(n int) { duplicateActiveUsers.Set(float64(n)) }
