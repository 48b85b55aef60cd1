// Package metrics exposes the worker's Prometheus instrumentation. Collectors
// are registered on the default registry via promauto so any component can
// record without wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_alerts_processed_total",
		Help: "Alerts processed, partitioned by action and outcome.",
	}, []string{"action", "outcome"})

	alertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trade_alert_duration_seconds",
		Help:    "Wall time spent executing one alert.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"action"})

	transfersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_transfers_total",
		Help: "Fund transfers by terminal status.",
	}, []string{"status"})

	sweepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_wallet_sweeps_total",
		Help: "Wallet sweep attempts by outcome.",
	}, []string{"outcome"})

	streamConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trade_stream_connected",
		Help: "1 when the account's private stream is connected.",
	}, []string{"account"})

	tradeUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trade_upserts_total",
		Help: "Trade rows written from order stream events.",
	})

	taskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trade_task_retries_total",
		Help: "Alert task attempts beyond the first.",
	})
)

func AlertProcessed(action, outcome string) {
	alertsProcessed.WithLabelValues(action, outcome).Inc()
}

func ObserveAlertDuration(action string, seconds float64) {
	alertDuration.WithLabelValues(action).Observe(seconds)
}

func TransferCompleted(status string) {
	transfersCompleted.WithLabelValues(status).Inc()
}

func SweepExecuted(outcome string) {
	sweepsExecuted.WithLabelValues(outcome).Inc()
}

func StreamConnected(account string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	streamConnections.WithLabelValues(account).Set(v)
}

func TradeUpserted() { tradeUpserts.Inc() }

func TaskRetried() { taskRetries.Inc() }
