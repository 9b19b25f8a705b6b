// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateway"

// Gateway holds the Prometheus collectors the forwarder reports into.
// All operations are safe for concurrent use.
type Gateway struct {
	// RequestsTotal counts forwarded requests by method and response status.
	RequestsTotal *prometheus.CounterVec

	// UpstreamErrorsTotal counts gateway-originated failures.
	// Labels: kind (timeout, unreachable)
	UpstreamErrorsTotal *prometheus.CounterVec

	// RequestDuration measures receipt-to-response wall clock per method.
	RequestDuration *prometheus.HistogramVec
}

// NewGateway registers the gateway collectors with reg. Pass nil to use the
// default registerer.
func NewGateway(reg prometheus.Registerer) *Gateway {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Gateway{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Forwarded requests by method and response status.",
		}, []string{"method", "status"}),
		UpstreamErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Gateway-originated failures by kind.",
		}, []string{"kind"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Receipt-to-response duration by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}
