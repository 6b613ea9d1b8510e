package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		chargeAttemptsTotal,
		chargeAmountMinor,
		gatewayLatencyMs,
		settledAmountMinor,
	)
}

var (
	chargeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charge_attempts_total",
			Help: "Charge attempts per gateway and outcome.",
		},
		[]string{"gateway", "outcome"}, // outcome: 'paid', 'declined', 'transport_error'
	)

	chargeAmountMinor = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charged_amount_minor",
			Help: "Sum of successfully collected amounts in minor units per gateway.",
		},
		[]string{"gateway", "currency"},
	)

	gatewayLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_gateway_latency_ms",
			Help:    "Gateway charge call latency distribution in milliseconds.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"gateway", "success"},
	)

	settledAmountMinor = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billing_settled_amount_minor",
			Help: "Settled charge total in minor units since the start of the period.",
		},
		[]string{"period"}, // 'day', 'month'
	)
)

func IncChargeAttempt(gateway, outcome string) {
	chargeAttemptsTotal.WithLabelValues(norm(gateway), norm(outcome)).Inc()
}

func AddChargedAmount(gateway, currency string, amountMinor int64) {
	chargeAmountMinor.WithLabelValues(norm(gateway), norm(currency)).Add(float64(amountMinor))
}

func ObserveGatewayLatency(gateway string, latencyMs int64, success bool) {
	gatewayLatencyMs.WithLabelValues(norm(gateway), strconv.FormatBool(success)).Observe(float64(latencyMs))
}

func SetSettledAmount(period string, amountMinor int64) {
	settledAmountMinor.WithLabelValues(norm(period)).Set(float64(amountMinor))
}
