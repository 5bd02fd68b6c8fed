// Package metrics defines the prometheus collectors shared by the
// daemons. Everything registers on the default registry; each daemon
// exposes it at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoomsOpen counts materialized rooms on this instance.
	RoomsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "searchbuddy",
		Subsystem: "instance",
		Name:      "rooms_open",
		Help:      "Number of rooms materialized on this instance.",
	})

	// ConnectedUsers counts live websocket members across all rooms.
	ConnectedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "searchbuddy",
		Subsystem: "instance",
		Name:      "connected_users",
		Help:      "Number of connected chat users across all rooms.",
	})

	// WSConnections counts accepted websocket upgrades.
	WSConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "instance",
		Name:      "ws_connections_total",
		Help:      "Total accepted websocket connections.",
	})

	// WSRejected counts upgrades refused before a room was joined,
	// labeled by reason (rate_limit, bad_join).
	WSRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "instance",
		Name:      "ws_rejected_total",
		Help:      "Websocket connections rejected before joining a room.",
	}, []string{"reason"})

	// MessagesBroadcast counts chat lines fanned out by room actors.
	MessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "room",
		Name:      "messages_total",
		Help:      "Total chat messages broadcast to rooms.",
	})

	// SendFailures counts failed socket writes during broadcast.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "room",
		Name:      "send_failures_total",
		Help:      "Total failed websocket sends during room broadcast.",
	})

	// EventsDropped counts events discarded after room teardown.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "room",
		Name:      "events_dropped_total",
		Help:      "Total room events dropped because the mailbox was closed.",
	})

	// Registrations counts instance lease registrations.
	Registrations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "discovery",
		Name:      "registrations_total",
		Help:      "Total instance registrations.",
	})

	// Pings counts lease renewals by result (ok, no_longer_active).
	Pings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "discovery",
		Name:      "pings_total",
		Help:      "Total lease pings by result.",
	}, []string{"result"})

	// Resolves counts term resolutions by outcome (sticky, rebound, none).
	Resolves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "discovery",
		Name:      "resolves_total",
		Help:      "Total term resolutions by outcome.",
	}, []string{"outcome"})

	// Searches counts gateway search requests.
	Searches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "gateway",
		Name:      "searches_total",
		Help:      "Total search requests served.",
	})

	// UnboundTerms counts searched terms with no active instance.
	UnboundTerms = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "gateway",
		Name:      "unbound_terms_total",
		Help:      "Total searched terms that resolved to no instance.",
	})

	// InstanceErrors counts failed gateway fan-out calls to instances.
	InstanceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchbuddy",
		Subsystem: "gateway",
		Name:      "instance_errors_total",
		Help:      "Total failed chatroom lookups against instances.",
	})
)
