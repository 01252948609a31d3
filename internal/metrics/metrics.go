// Package metrics exposes the session layer's Prometheus collectors.
// They are registered on the default registry and served by the app's
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "party_sessions_created_total",
		Help: "Listening party sessions created.",
	})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "party_sessions_ended_total",
		Help: "Listening party sessions ended, by reason.",
	}, []string{"reason"})

	ActiveListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "party_active_listeners",
		Help: "Listeners currently joined to the active session.",
	})

	ListenersJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "party_listeners_joined_total",
		Help: "Listener joins accepted.",
	})

	BroadcastEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "party_broadcast_events_total",
		Help: "Events fanned out to session peers, by event type.",
	}, []string{"event"})

	SignalingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "party_signaling_errors_total",
		Help: "Signaling requests answered with an error, by kind.",
	}, []string{"kind"})

	TransportsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "party_transports_created_total",
		Help: "WebRTC transports created, by peer role.",
	}, []string{"role"})

	RelayPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "party_relay_packets_total",
		Help: "RTP packets read from the producer and fanned out.",
	})

	RelayFractionLost = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "party_relay_fraction_lost",
		Help: "Most recent listener-reported RTP loss fraction (0-1).",
	})
)
