// Package metrics holds the prometheus collectors shared by the session core
// and the broadcast relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatcore"

// Delivery outcomes recorded by the session deliverer.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeWrongRoom = "wrong_room"
	OutcomeBlocked   = "blocked"
	OutcomeInactive  = "inactive"
)

var (
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Message candidates considered by a session, by source and outcome.",
	}, []string{"source", "outcome"})

	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_failures_total",
		Help:      "Failed outbound transmissions, by path (broadcast or store).",
	}, []string{"path"})

	Polls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Durable store polls, by result (ok, error, stale).",
	}, []string{"result"})

	SystemEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "system_events_total",
		Help:      "Synthesized system events, by kind.",
	}, []string{"kind"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions currently running in this process.",
	})

	RelaySubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_subscribers",
		Help:      "Open broadcast subscriptions on the relay.",
	})

	RelayPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_published_total",
		Help:      "Payloads handled by the relay, by outcome (delivered, dropped, limited).",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		Deliveries,
		SendFailures,
		Polls,
		SystemEvents,
		ActiveSessions,
		RelaySubscribers,
		RelayPublished,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
