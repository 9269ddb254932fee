// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pongrelay"

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open websocket connections.",
	})

	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Inbound client messages by action.",
	}, []string{"action"})

	MalformedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_messages_total",
		Help:      "Inbound frames dropped because they were not valid JSON.",
	})

	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_created_total",
		Help:      "Sessions created by pairing two waiting clients.",
	})

	PlayersLeft = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "players_left_total",
		Help:      "Participants leaving a session, by resulting session status.",
	}, []string{"status"})

	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_dropped_total",
		Help:      "Events not delivered to a subscriber because it was closed or full.",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Failed session store or queue operations.",
	}, []string{"op"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
