// Package telemetry exposes prometheus metrics for the presence layer.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hyperpresense",
			Name:      "messages_total",
			Help:      "Inbound presence messages handled, by message type.",
		},
		[]string{"type"},
	)

	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hyperpresense",
			Name:      "broadcasts_total",
			Help:      "Messages handed to the broadcast capability, by message type.",
		},
		[]string{"type"},
	)

	ProtocolErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hyperpresense",
			Name:      "protocol_errors_total",
			Help:      "Inbound messages rejected as malformed.",
		},
	)

	RecalculationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hyperpresense",
			Name:      "recalculations_total",
			Help:      "Reachability recalculations over the peer graph.",
		},
	)

	PrunedPeersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hyperpresense",
			Name:      "pruned_peers_total",
			Help:      "Peers removed from the graph as unreachable.",
		},
	)

	OnlinePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hyperpresense",
			Name:      "online_peers",
			Help:      "Peers currently reachable from the local node, self included.",
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "hyperpresense",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesTotal,
		BroadcastsTotal,
		ProtocolErrorsTotal,
		RecalculationsTotal,
		PrunedPeersTotal,
		OnlinePeers,
		uptime,
	)
}

// Handler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.Handler()).
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
