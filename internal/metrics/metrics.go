// Package metrics holds the Prometheus collectors of the connection core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Close reasons recorded by ConnectionsClosed.
const (
	ReasonEOF       = "eof"
	ReasonTLS       = "tls"
	ReasonParse     = "parse"
	ReasonHangup    = "hangup"
	ReasonDone      = "done"
	ReasonTransport = "transport"
	ReasonShutdown  = "shutdown"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tlsedge_connections_active",
			Help: "Current number of open connections",
		},
	)

	ConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlsedge_connections_accepted_total",
			Help: "Total number of accepted connections",
		},
	)

	ConnectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlsedge_connections_rejected_total",
			Help: "Total number of connections refused at the connection limit",
		},
	)

	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlsedge_connections_closed_total",
			Help: "Total number of closed connections by reason",
		},
		[]string{"reason"},
	)

	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlsedge_parse_errors_total",
			Help: "Total number of malformed requests by error kind",
		},
		[]string{"kind"},
	)

	HandshakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlsedge_tls_handshake_failures_total",
			Help: "Total number of failed TLS handshakes",
		},
	)

	PollRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlsedge_poll_registrations_total",
			Help: "Total number of poller registration calls by operation",
		},
		[]string{"op"},
	)
)
