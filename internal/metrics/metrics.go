// Package metrics exposes the bridge's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	DepositsSeen       prometheus.Counter
	DepositsDuplicate  prometheus.Counter
	DepositsCredited   prometheus.Counter
	CreditFailures     *prometheus.CounterVec
	DeadLetters        prometheus.Counter
	LastProcessedBlock prometheus.Gauge
	CreditLatency      prometheus.Histogram

	MintsTotal   *prometheus.CounterVec
	SharesMinted *prometheus.CounterVec
	FillsSeen    prometheus.Counter

	VenueOrders  *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers every instrument on reg. When reg is
// also a Gatherer, Handler serves from it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DepositsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_deposits_seen_total",
			Help: "Transfer logs to the deposit address delivered to the watcher",
		}),
		DepositsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_deposits_duplicate_total",
			Help: "Transfer logs skipped because the tx hash was already credited",
		}),
		DepositsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_deposits_credited_total",
			Help: "Deposits credited on the ledger and confirmed",
		}),
		CreditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_credit_failures_total",
			Help: "Deposit credits that failed, by reason",
		}, []string{"reason"}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_dead_letters_total",
			Help: "Failed deposits routed to the dead-letter queue",
		}),
		LastProcessedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_last_processed_block",
			Help: "Highest block whose deposit logs have been handled",
		}),
		CreditLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_credit_latency_seconds",
			Help:    "Time from credit submission to confirmation",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),

		MintsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_mints_total",
			Help: "Share mints by side and outcome",
		}, []string{"side", "status"}),
		SharesMinted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_shares_minted_total",
			Help: "Contracts mirrored as share tokens, by side",
		}, []string{"side"}),
		FillsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_fills_seen_total",
			Help: "Fills received from the venue fill stream",
		}),

		VenueOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_venue_orders_total",
			Help: "Orders submitted to the venue, by type and outcome",
		}, []string{"type", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "API gateway requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_http_request_duration_seconds",
			Help:    "API gateway request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.DepositsSeen,
		m.DepositsDuplicate,
		m.DepositsCredited,
		m.CreditFailures,
		m.DeadLetters,
		m.LastProcessedBlock,
		m.CreditLatency,
		m.MintsTotal,
		m.SharesMinted,
		m.FillsSeen,
		m.VenueOrders,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registered metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
