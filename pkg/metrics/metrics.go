// Package metrics holds the Prometheus collectors of the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "oor"

var (
	// Registry is the registry served on /metrics
	Registry = prometheus.NewRegistry()

	// Events counts change events dispatched upstream, by kind
	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "netm",
		Name:      "events_total",
		Help:      "Change events dispatched to the control and data planes.",
	}, []string{"kind"})

	// QueryErrors counts failed OS queries, by operation
	QueryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "netm",
		Name:      "query_errors_total",
		Help:      "OS queries that failed and returned their empty value.",
	}, []string{"op"})

	// ParseErrors counts malformed routing message buffers and notifications
	ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "netm",
		Name:      "parse_errors_total",
		Help:      "Routing messages or notifications that could not be decoded.",
	})

	// Interfaces tracks the live interface set by status
	Interfaces = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "netm",
		Name:      "interfaces",
		Help:      "Interfaces currently tracked, by status.",
	}, []string{"status"})
)

func init() {
	Registry.MustRegister(
		Events,
		QueryErrors,
		ParseErrors,
		Interfaces,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
