// Package gameserver runs the authoritative simulation loop on top of the
// datagram transport: it drains transport events once per tick, folds each
// player's received inputs through the simulation contract, and sends the
// resulting authoritative snapshots back.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/metrics"
	"github.com/XL4Y3R/XL4Net-sub000/internal/protocol"
	"github.com/XL4Y3R/XL4Net-sub000/internal/sim"
	"github.com/XL4Y3R/XL4Net-sub000/internal/transport"
)

// maxPendingInputs bounds the per-player input queue. Inputs arrive about
// once per tick; anything beyond this is a flood or a stalled loop.
const maxPendingInputs = 64

// Transport is the slice of the datagram server the world drives.
// *transport.Server satisfies it; tests substitute a recorder.
type Transport interface {
	ProcessIncoming(max int) int
	Send(connID uint32, channel protocol.ChannelType, payload []byte) error
	Disconnect(connID uint32, reason string) error
	User(connID uint32) (transport.TokenInfo, bool)
	SetTick(t uint32)
}

// playerState is the server-side view of one connected player. Only the
// world goroutine touches it: transport handlers run on the goroutine
// calling ProcessIncoming, which is the world loop itself.
type playerState struct {
	connID   uint32
	userID   string
	username string

	state   sim.StateSnapshot
	pending []sim.InputCommand // received inputs awaiting this tick's fold
	lastSeq uint32             // newest applied input sequence
}

// WorldOption is a functional option for World configuration.
type WorldOption func(*World)

// WithWorldMetrics attaches game server collectors.
func WithWorldMetrics(reg *metrics.GameRegistry) WorldOption {
	return func(w *World) {
		w.metrics = reg
	}
}

// World owns the authoritative player states and the fixed-rate loop.
type World struct {
	cfg      config.GameServer
	settings sim.MovementSettings
	dt       float32
	batch    int

	transport Transport
	players   map[uint32]*playerState
	tick      atomic.Uint32
	count     atomic.Int32

	metrics *metrics.GameRegistry
	sendBuf [1 + sim.SnapshotWireSize]byte
}

// NewWorld creates the world. Bind a transport before Run.
func NewWorld(cfg config.GameServer, opts ...WorldOption) *World {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 30
	}
	batch := cfg.Transport.ProcessBatch
	if batch <= 0 {
		batch = 100
	}
	w := &World{
		cfg:      cfg,
		settings: cfg.Movement,
		dt:       sim.TickDelta(cfg.TickRate),
		batch:    batch,
		players:  make(map[uint32]*playerState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Bind attaches the transport the world sends through. Must be called
// before Run; the transport must dispatch this world's Handlers.
func (w *World) Bind(t Transport) {
	w.transport = t
}

// Handlers returns the transport callbacks feeding this world. All of
// them run on the world goroutine via ProcessIncoming.
func (w *World) Handlers() transport.ServerHandlers {
	return transport.ServerHandlers{
		OnClientConnected:    w.onConnected,
		OnClientDisconnected: w.onDisconnected,
		OnData:               w.onData,
		OnError:              w.onError,
	}
}

// Tick returns the current server tick.
func (w *World) Tick() uint32 { return w.tick.Load() }

// PlayerCount returns the number of joined players.
func (w *World) PlayerCount() int { return int(w.count.Load()) }

// Run drives the loop at the configured tick rate until ctx is canceled.
func (w *World) Run(ctx context.Context) error {
	if w.transport == nil {
		return errors.New("world has no transport bound")
	}

	interval := time.Second / time.Duration(w.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("world started", "tick_rate", w.cfg.TickRate, "dt", w.dt)
	for {
		select {
		case <-ctx.Done():
			slog.Info("world stopped", "tick", w.tick.Load(), "players", w.count.Load())
			return nil
		case <-ticker.C:
			w.step()
		}
	}
}

// step advances one server tick: drain transport events, fold inputs,
// send authoritative snapshots.
func (w *World) step() {
	started := time.Now()

	w.transport.ProcessIncoming(w.batch)

	tick := w.tick.Add(1)
	w.transport.SetTick(tick)

	for _, p := range w.players {
		w.advance(p)
	}
	if tick%uint32(w.cfg.TickRate) == 0 {
		w.sweepGhosts()
	}

	if w.metrics != nil {
		w.metrics.TickDuration.Observe(time.Since(started).Seconds())
	}
}

// sweepGhosts removes players whose transport connection is gone. The
// disconnect event normally handles this; the sweep covers the case where
// the bounded event queue overflowed and dropped it.
func (w *World) sweepGhosts() {
	for id := range w.players {
		if _, ok := w.transport.User(id); !ok {
			slog.Warn("sweeping player with no connection", "conn_id", id)
			w.onDisconnected(id, "Connection lost")
		}
	}
}

// advance folds the player's queued inputs in sequence order and sends
// the resulting snapshot. State only moves when inputs arrived: the
// authoritative state is the fold of the applied inputs, which is what
// lets an undisturbed client converge exactly.
func (w *World) advance(p *playerState) {
	applied := 0
	for i := range p.pending {
		p.state = sim.Step(p.state, p.pending[i], w.settings, w.dt)
		p.lastSeq = p.pending[i].Sequence
		applied++
	}
	p.pending = p.pending[:0]

	if applied > 0 && w.metrics != nil {
		w.metrics.InputsApplied.Add(float64(applied))
	}
	w.sendSnapshot(p, protocol.ChannelSequenced)
}

func (w *World) onConnected(connID uint32) {
	info, _ := w.transport.User(connID)
	p := &playerState{
		connID:   connID,
		userID:   info.UserID,
		username: info.Username,
		state: sim.StateSnapshot{
			Position: sim.Vector3{X: 0, Y: w.settings.GroundLevel, Z: 0},
			Flags:    sim.StateGrounded,
		},
	}
	w.players[connID] = p
	w.count.Add(1)

	if w.metrics != nil {
		w.metrics.ConnectionsTotal.Inc()
		w.metrics.PlayersActive.Set(float64(len(w.players)))
		w.metrics.ConnectionsActive.Set(float64(len(w.players)))
	}
	slog.Info("player joined", "conn_id", connID, "username", p.username)

	// Seed the client with its authoritative spawn state.
	w.sendSnapshot(p, protocol.ChannelReliable)
}

func (w *World) onDisconnected(connID uint32, reason string) {
	p, ok := w.players[connID]
	if !ok {
		return
	}
	delete(w.players, connID)
	w.count.Add(-1)

	if w.metrics != nil {
		w.metrics.Disconnects.WithLabelValues(reason).Inc()
		w.metrics.PlayersActive.Set(float64(len(w.players)))
		w.metrics.ConnectionsActive.Set(float64(len(w.players)))
	}
	slog.Info("player left", "conn_id", connID, "username", p.username, "reason", reason)
}

func (w *World) onData(connID uint32, _ protocol.ChannelType, payload []byte) {
	p, ok := w.players[connID]
	if !ok {
		return
	}
	if len(payload) == 0 {
		w.rejectInput()
		return
	}

	switch payload[0] {
	case sim.MsgInput:
		var cmd sim.InputCommand
		if err := cmd.Decode(payload[1:]); err != nil {
			w.rejectInput()
			slog.Debug("dropping malformed input", "conn_id", connID, "error", err)
			return
		}
		w.queueInput(p, cmd)
	default:
		w.rejectInput()
		slog.Debug("dropping unknown message kind", "conn_id", connID, "kind", fmt.Sprintf("0x%02X", payload[0]))
	}
}

func (w *World) onError(msg string) {
	slog.Warn("transport error", "error", msg)
}

// queueInput stages one input for the next fold. Stale and duplicate
// sequences are dropped; movement vectors over unit length are clamped
// so a modified client cannot buy speed.
func (w *World) queueInput(p *playerState, cmd sim.InputCommand) {
	if cmd.Sequence <= p.lastSeq {
		w.rejectInput()
		return
	}
	for i := range p.pending {
		if p.pending[i].Sequence == cmd.Sequence {
			w.rejectInput()
			return
		}
	}
	if len(p.pending) >= maxPendingInputs {
		copy(p.pending, p.pending[1:])
		p.pending = p.pending[:len(p.pending)-1]
		w.rejectInput()
	}

	clampMove(&cmd)

	i := len(p.pending)
	for i > 0 && p.pending[i-1].Sequence > cmd.Sequence {
		i--
	}
	p.pending = append(p.pending, sim.InputCommand{})
	copy(p.pending[i+1:], p.pending[i:])
	p.pending[i] = cmd
}

func (w *World) rejectInput() {
	if w.metrics != nil {
		w.metrics.InputsRejected.Inc()
	}
}

func (w *World) sendSnapshot(p *playerState, channel protocol.ChannelType) {
	w.sendBuf[0] = sim.MsgSnapshot
	n, err := p.state.Encode(w.sendBuf[1:])
	if err != nil {
		slog.Error("encoding snapshot", "conn_id", p.connID, "error", err)
		return
	}
	if err := w.transport.Send(p.connID, channel, w.sendBuf[:1+n]); err != nil {
		if !errors.Is(err, transport.ErrConnectionNotFound) {
			slog.Warn("sending snapshot", "conn_id", p.connID, "error", err)
		}
		return
	}
	if w.metrics != nil {
		w.metrics.SnapshotsSent.Inc()
	}
}

// clampMove scales an over-unit movement vector back onto the unit disc.
func clampMove(cmd *sim.InputCommand) {
	magSq := cmd.Move.X*cmd.Move.X + cmd.Move.Y*cmd.Move.Y
	if magSq <= 1 {
		return
	}
	inv := 1 / float32(math.Sqrt(float64(magSq)))
	cmd.Move.X *= inv
	cmd.Move.Y *= inv
}
