// Package client assembles the transport connection and the prediction
// engine into the facade a game client drives. A Session predicts every
// local input the moment it happens, ships it to the server on the
// sequenced channel and reconciles whenever an authoritative snapshot
// disagrees.
//
// A Session is single-owner like the engine it wraps: one goroutine, the
// game loop, calls Connect, Tick, Poll and Close. Accessors backed by
// transport atomics (ConnectionID, ServerTick, RTT, TransportStats) are
// safe from anywhere.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/prediction"
	"github.com/XL4Y3R/XL4Net-sub000/internal/protocol"
	"github.com/XL4Y3R/XL4Net-sub000/internal/sim"
	"github.com/XL4Y3R/XL4Net-sub000/internal/transport"
)

// ErrSessionActive is returned by Connect while an earlier connection is
// still live.
var ErrSessionActive = errors.New("session already connected")

// SessionHandlers receives session lifecycle and simulation events. All
// callbacks run on the goroutine calling Tick or Poll, except OnConnected,
// which fires inside Connect. Nil entries are skipped.
type SessionHandlers struct {
	// OnConnected fires once the transport handshake completes. The player
	// is not in the world yet; wait for OnSpawn.
	OnConnected func()

	// OnSpawn fires when the authoritative spawn state arrives and
	// prediction starts.
	OnSpawn func(state sim.StateSnapshot)

	// OnDisconnected fires when the server kicks the session or heartbeats
	// lapse. The prediction state is discarded.
	OnDisconnected func(reason string)

	// OnMessage receives payloads that are not simulation messages. The
	// payload is pooled and only valid for the duration of the callback.
	OnMessage func(channel protocol.ChannelType, payload []byte)

	// OnMisprediction and OnReconciliationComplete are forwarded to the
	// prediction engine; see prediction.Callbacks.
	OnMisprediction          func(predicted, server sim.StateSnapshot, positionDelta float32)
	OnReconciliationComplete func(before, after sim.StateSnapshot, replayed int)

	// OnError receives transport-level failures. When nil they are logged
	// instead.
	OnError func(msg string)
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithTransportOptions forwards options to the underlying transport client.
// Tests use it to inject a pre-dialed or lossy socket.
func WithTransportOptions(opts ...transport.ClientOption) SessionOption {
	return func(s *Session) {
		s.transportOpts = append(s.transportOpts, opts...)
	}
}

// Session owns one connection to a game server and the prediction state
// layered on top of it.
type Session struct {
	cfg      config.Client
	handlers SessionHandlers

	engine *prediction.Engine
	conn   *transport.Client

	transportOpts []transport.ClientOption

	sendBuf [1 + sim.InputWireSize]byte
}

// NewSession creates a session from cfg. The tick rate and movement
// settings must match the server's or every snapshot reconciles as a
// misprediction.
func NewSession(cfg config.Client, handlers SessionHandlers, opts ...SessionOption) *Session {
	s := &Session{
		cfg:      cfg,
		handlers: handlers,
	}
	s.engine = prediction.New(predictionSettings(cfg), prediction.Callbacks{
		OnMisprediction:          handlers.OnMisprediction,
		OnReconciliationComplete: handlers.OnReconciliationComplete,
	})
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// predictionSettings maps the client config onto engine settings, falling
// back to the reference tuning for anything unset.
func predictionSettings(cfg config.Client) prediction.Settings {
	st := prediction.DefaultSettings()
	st.TickRate = cfg.TickRate
	st.Movement = cfg.Movement
	if cfg.Prediction.RingCapacity > 0 {
		st.InputBufferSize = cfg.Prediction.RingCapacity
		st.StateBufferSize = cfg.Prediction.RingCapacity
	}
	if cfg.Prediction.PositionTolerance > 0 {
		st.PositionTolerance = float32(cfg.Prediction.PositionTolerance)
	}
	if cfg.Prediction.VelocityTolerance > 0 {
		st.VelocityTolerance = float32(cfg.Prediction.VelocityTolerance)
	}
	if cfg.Prediction.MaxTickDrift > 0 {
		st.MaxTickDrift = uint32(cfg.Prediction.MaxTickDrift)
	}
	return st
}

// Connect dials the game server and performs the token handshake. A
// non-empty addr overrides the configured transport address. On success
// the session is connected but not yet spawned; the first authoritative
// snapshot seeds the prediction and fires OnSpawn.
func (s *Session) Connect(ctx context.Context, addr, token string) error {
	if s.conn != nil && s.conn.State() != transport.StateDisconnected {
		return ErrSessionActive
	}

	cfg := s.cfg.Transport
	if addr != "" {
		cfg.ServerAddr = addr
	}

	s.engine.Reset()
	s.conn = transport.NewClient(cfg, s.transportHandlers(), s.transportOpts...)
	if err := s.conn.Connect(ctx, token); err != nil {
		s.conn = nil
		return err
	}
	return nil
}

func (s *Session) transportHandlers() transport.ClientHandlers {
	return transport.ClientHandlers{
		OnConnected:    s.onConnected,
		OnDisconnected: s.onDisconnected,
		OnData:         s.onData,
		OnServerTick:   s.onServerTick,
		OnError:        s.onError,
	}
}

func (s *Session) onConnected() {
	if h := s.handlers.OnConnected; h != nil {
		h()
	}
}

func (s *Session) onDisconnected(reason string) {
	s.engine.Reset()
	if h := s.handlers.OnDisconnected; h != nil {
		h(reason)
	}
}

func (s *Session) onData(channel protocol.ChannelType, payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case sim.MsgSnapshot:
		var snap sim.StateSnapshot
		if err := snap.Decode(payload[1:]); err != nil {
			slog.Warn("dropping malformed snapshot", "error", err)
			return
		}
		if !s.engine.Initialized() {
			s.engine.Initialize(snap, s.conn.ServerTick())
			slog.Info("spawned", "tick", snap.Tick, "server_tick", s.conn.ServerTick())
			if h := s.handlers.OnSpawn; h != nil {
				h(snap)
			}
			return
		}
		s.engine.ApplySnapshot(snap)

	default:
		if h := s.handlers.OnMessage; h != nil {
			h(channel, payload)
		}
	}
}

func (s *Session) onServerTick(serverTick uint32, oneWay time.Duration) {
	s.engine.SyncTick(serverTick, oneWay)
}

func (s *Session) onError(msg string) {
	if h := s.handlers.OnError; h != nil {
		h(msg)
		return
	}
	slog.Warn("transport error", "msg", msg)
}

// Tick advances the session one frame: drains inbound transport events,
// predicts the local input and ships it on the sequenced channel. It
// returns the freshly predicted state. Before the spawn snapshot arrives
// Tick keeps draining but returns prediction.ErrNotInitialized.
//
// When only the send fails the input is still predicted locally; the
// state is returned alongside the error, and the server recovers the gap
// from later inputs.
func (s *Session) Tick(move sim.Vector2, look float32, actions sim.ActionFlags) (sim.StateSnapshot, error) {
	if s.conn == nil {
		return sim.StateSnapshot{}, transport.ErrNotConnected
	}
	s.conn.ProcessIncoming(0)

	cmd, err := s.engine.ProcessInput(move, look, actions)
	if err != nil {
		return sim.StateSnapshot{}, err
	}

	s.sendBuf[0] = sim.MsgInput
	n, err := cmd.Encode(s.sendBuf[1:])
	if err != nil {
		return sim.StateSnapshot{}, fmt.Errorf("encoding input: %w", err)
	}
	if err := s.conn.Send(protocol.ChannelSequenced, s.sendBuf[:1+n]); err != nil {
		return s.engine.CurrentState(), fmt.Errorf("sending input: %w", err)
	}
	return s.engine.CurrentState(), nil
}

// Poll drains up to max inbound transport events without advancing the
// prediction. max <= 0 uses the transport's configured batch. Useful
// while waiting for the spawn snapshot and for idle frames.
func (s *Session) Poll(max int) int {
	if s.conn == nil {
		return 0
	}
	return s.conn.ProcessIncoming(max)
}

// State returns the latest predicted player state.
func (s *Session) State() sim.StateSnapshot { return s.engine.CurrentState() }

// PredictedTick returns the prediction clock.
func (s *Session) PredictedTick() uint32 { return s.engine.CurrentTick() }

// Spawned reports whether the authoritative spawn state has arrived.
func (s *Session) Spawned() bool { return s.engine.Initialized() }

// Connected reports whether the transport handshake completed and the
// connection is live.
func (s *Session) Connected() bool {
	return s.conn != nil && s.conn.State() == transport.StateConnected
}

// ConnectionID returns the server-assigned connection id, zero before the
// handshake completes.
func (s *Session) ConnectionID() uint32 {
	if s.conn == nil {
		return 0
	}
	return s.conn.ConnectionID()
}

// ServerTick returns the most recent server tick carried by a handshake
// ack or pong.
func (s *Session) ServerTick() uint32 {
	if s.conn == nil {
		return 0
	}
	return s.conn.ServerTick()
}

// RTT returns the smoothed round-trip estimate, zero before the first pong.
func (s *Session) RTT() time.Duration {
	if s.conn == nil {
		return 0
	}
	return s.conn.RTT()
}

// PredictionMetrics returns the engine's reconciliation counters.
func (s *Session) PredictionMetrics() prediction.Metrics { return s.engine.Metrics() }

// TransportStats returns the transport counters.
func (s *Session) TransportStats() transport.Stats {
	if s.conn == nil {
		return transport.Stats{}
	}
	return s.conn.Stats()
}

// Close tears down the connection and discards the prediction state. The
// session can Connect again afterwards.
func (s *Session) Close() error {
	s.engine.Reset()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
