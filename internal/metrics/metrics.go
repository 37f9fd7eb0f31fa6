// Package metrics holds the Prometheus collectors for the game server and
// the auth gateway. Each binary builds its own registry so endpoints only
// expose what the process actually tracks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GameRegistry wraps the collectors published by a game server instance.
type GameRegistry struct {
	reg *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	PlayersActive     prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	Disconnects       *prometheus.CounterVec

	InputsApplied  prometheus.Counter
	InputsRejected prometheus.Counter
	SnapshotsSent  prometheus.Counter
	TickDuration   prometheus.Histogram
}

// NewGameRegistry creates the game server collectors on a fresh registry.
func NewGameRegistry() *GameRegistry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &GameRegistry{
		reg: reg,
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "xl4net_game_connections_active",
			Help: "Number of established transport connections",
		}),
		PlayersActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "xl4net_game_players_active",
			Help: "Number of players currently in the simulation",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "xl4net_game_connections_total",
			Help: "Total connections accepted since start",
		}),
		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xl4net_game_disconnects_total",
			Help: "Total disconnections by reason",
		}, []string{"reason"}),
		InputsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "xl4net_game_inputs_applied_total",
			Help: "Total player inputs applied to the simulation",
		}),
		InputsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "xl4net_game_inputs_rejected_total",
			Help: "Total player inputs rejected as stale or malformed",
		}),
		SnapshotsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "xl4net_game_snapshots_sent_total",
			Help: "Total entity snapshots sent to clients",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "xl4net_game_tick_duration_seconds",
			Help:    "Time spent advancing one simulation tick",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
	}
}

// RegisterCounterFunc exposes an externally maintained monotone total,
// such as the transport's packet counters.
func (r *GameRegistry) RegisterCounterFunc(name, help string, fn func() float64) {
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, fn))
}

// RegisterGaugeFunc exposes an externally sampled value, such as pool
// availability.
func (r *GameRegistry) RegisterGaugeFunc(name, help string, fn func() float64) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn))
}

// Handler returns an HTTP handler exposing the registry.
func (r *GameRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// AuthRegistry wraps the collectors published by the auth gateway.
type AuthRegistry struct {
	reg *prometheus.Registry

	Registrations    *prometheus.CounterVec
	Logins           *prometheus.CounterVec
	TokenValidations *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	AttemptsPurged   prometheus.Counter
}

// Outcome label values shared by the gateway counters.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
	OutcomeValid       = "valid"
	OutcomeInvalid     = "invalid"
)

// NewAuthRegistry creates the gateway collectors on a fresh registry.
func NewAuthRegistry() *AuthRegistry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &AuthRegistry{
		reg: reg,
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xl4net_auth_registrations_total",
			Help: "Total registration requests by outcome",
		}, []string{"outcome"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xl4net_auth_logins_total",
			Help: "Total login requests by outcome",
		}, []string{"outcome"}),
		TokenValidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xl4net_auth_token_validations_total",
			Help: "Total token validation requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xl4net_auth_request_duration_seconds",
			Help:    "Gateway request handling time by operation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		AttemptsPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "xl4net_auth_attempts_purged_total",
			Help: "Total login attempt rows deleted by retention purges",
		}),
	}
}

// Handler returns an HTTP handler exposing the registry.
func (r *AuthRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
