package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(pollCyclesTotal, pollSkipsTotal, pollDurationMs)
}

var (
	pollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_poll_cycles_total",
			Help: "Completed scheduling driver poll cycles.",
		},
	)

	pollSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_poll_skips_total",
			Help: "Entries skipped during a poll cycle by reason.",
		},
		[]string{"reason"}, // 'claimed', 'locked', 'fast_charge'
	)

	pollDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_poll_duration_ms",
			Help:    "Poll cycle wall time in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 5000, 15000, 60000},
		},
	)
)

func IncPollCycle()                { pollCyclesTotal.Inc() }
func IncPollSkip(reason string)    { pollSkipsTotal.WithLabelValues(norm(reason)).Inc() }
func ObservePollDuration(ms int64) { pollDurationMs.Observe(float64(ms)) }
