// Package prediction implements client-side prediction with server
// reconciliation. Inputs are simulated locally the moment they happen;
// authoritative snapshots re-base the local state and replay every input the
// server has not folded in yet.
//
// The engine is single-owner: the client tick worker calls every method.
package prediction

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
	"github.com/XL4Y3R/XL4Net-sub000/internal/sim"
)

// ErrNotInitialized is returned by ProcessInput before Initialize has seeded
// the engine with a server state.
var ErrNotInitialized = errors.New("prediction engine not initialized")

// Settings holds the prediction tunables.
type Settings struct {
	TickRate          int
	InputBufferSize   int
	StateBufferSize   int
	PositionTolerance float32
	VelocityTolerance float32
	MaxTickDrift      uint32
	Movement          sim.MovementSettings
}

// DefaultSettings returns the reference tuning.
func DefaultSettings() Settings {
	return Settings{
		TickRate:          constants.DefaultTickRate,
		InputBufferSize:   constants.DefaultRingCapacity,
		StateBufferSize:   constants.DefaultRingCapacity,
		PositionTolerance: constants.DefaultPositionTolerance,
		VelocityTolerance: constants.DefaultVelocityTolerance,
		MaxTickDrift:      constants.DefaultMaxTickDrift,
		Movement:          sim.DefaultMovementSettings(),
	}
}

// Callbacks are optional hooks into reconciliation outcomes.
type Callbacks struct {
	// OnMisprediction fires when an authoritative snapshot disagrees with the
	// prediction beyond tolerance, before the replay runs.
	OnMisprediction func(predicted, server sim.StateSnapshot, positionDelta float32)

	// OnReconciliationComplete fires after the replay, with the state before
	// re-basing, the state after, and the number of inputs replayed.
	OnReconciliationComplete func(before, after sim.StateSnapshot, replayed int)
}

// Metrics is a snapshot of the engine's counters.
type Metrics struct {
	Mispredictions        uint64
	Reconciliations       uint64
	SnapshotsDiscarded    uint64
	SmoothedPositionError float32
	LastServerTick        uint32
	InputsBuffered        int
	StatesBuffered        int
}

// Engine predicts local player state and reconciles it against authoritative
// snapshots.
type Engine struct {
	settings Settings
	cb       Callbacks

	initialized bool
	state       sim.StateSnapshot
	currentTick uint32
	sequence    uint32

	inputs *InputBuffer
	states *StateBuffer

	mispredictions     uint64
	reconciliations    uint64
	snapshotsDiscarded uint64
	smoothedError      float32
	lastServerTick     uint32
}

// New creates an engine in the Uninitialized state.
func New(settings Settings, cb Callbacks) *Engine {
	if settings.TickRate <= 0 {
		settings.TickRate = constants.DefaultTickRate
	}
	if settings.InputBufferSize <= 0 {
		settings.InputBufferSize = constants.DefaultRingCapacity
	}
	if settings.StateBufferSize <= 0 {
		settings.StateBufferSize = constants.DefaultRingCapacity
	}
	return &Engine{
		settings: settings,
		cb:       cb,
		inputs:   NewInputBuffer(settings.InputBufferSize),
		states:   NewStateBuffer(settings.StateBufferSize),
	}
}

// Initialize seeds the engine with an authoritative state and the server's
// tick, clearing all history and metrics.
func (e *Engine) Initialize(initial sim.StateSnapshot, serverTick uint32) {
	e.state = initial
	e.currentTick = serverTick
	e.sequence = 0
	e.inputs.Clear()
	e.states.Clear()
	e.mispredictions = 0
	e.reconciliations = 0
	e.snapshotsDiscarded = 0
	e.smoothedError = 0
	e.lastServerTick = serverTick
	e.initialized = true
}

// Reset returns the engine to the Uninitialized state.
func (e *Engine) Reset() {
	e.initialized = false
	e.inputs.Clear()
	e.states.Clear()
}

// Initialized reports whether the engine has been seeded.
func (e *Engine) Initialized() bool { return e.initialized }

// CurrentState returns the latest predicted state.
func (e *Engine) CurrentState() sim.StateSnapshot { return e.state }

// CurrentTick returns the engine's prediction clock.
func (e *Engine) CurrentTick() uint32 { return e.currentTick }

// tickDelta is the canonical timestep shared with the server.
func (e *Engine) tickDelta() float32 {
	return sim.TickDelta(e.settings.TickRate)
}

// ProcessInput advances one tick: tags the raw input with the next tick and
// sequence, predicts the resulting state and records both in the history
// rings. The returned command is what goes on the wire.
func (e *Engine) ProcessInput(move sim.Vector2, look float32, actions sim.ActionFlags) (sim.InputCommand, error) {
	if !e.initialized {
		return sim.InputCommand{}, ErrNotInitialized
	}

	e.currentTick++
	e.sequence++
	cmd := sim.InputCommand{
		Tick:     e.currentTick,
		Sequence: e.sequence,
		Move:     move,
		Look:     look,
		Actions:  actions,
	}

	e.state = sim.Step(e.state, cmd, e.settings.Movement, e.tickDelta())
	e.inputs.Push(cmd)
	e.states.Push(e.state)
	return cmd, nil
}

// ApplySnapshot reconciles the prediction against an authoritative snapshot.
// Snapshots for ticks outside the state ring are silently discarded.
func (e *Engine) ApplySnapshot(server sim.StateSnapshot) {
	if !e.initialized {
		return
	}

	predicted, ok := e.states.AtTick(server.Tick)
	if !ok {
		e.snapshotsDiscarded++
		slog.Debug("snapshot outside state ring", "tick", server.Tick, "current_tick", e.currentTick)
		return
	}

	posDelta := distance(predicted.Position, server.Position)
	velDelta := distance(predicted.Velocity, server.Velocity)

	if posDelta <= e.settings.PositionTolerance &&
		velDelta <= e.settings.VelocityTolerance &&
		predicted.Flags == server.Flags {
		// Prediction holds; just retire the inputs the server has consumed.
		e.inputs.DropThroughSequence(server.LastInput)
		e.lastServerTick = server.Tick
		return
	}

	e.mispredictions++
	e.smoothedError += constants.PredictionErrorAlpha * (posDelta - e.smoothedError)
	if e.cb.OnMisprediction != nil {
		e.cb.OnMisprediction(predicted, server, posDelta)
	}

	// Re-base on the server state and replay everything it has not seen.
	before := e.state
	working := server
	replayed := 0
	dt := e.tickDelta()
	e.inputs.Range(func(cmd sim.InputCommand) bool {
		if cmd.Tick > server.Tick {
			working = sim.Step(working, cmd, e.settings.Movement, dt)
			e.states.Push(working)
			replayed++
		}
		return true
	})

	e.state = working
	e.inputs.DropThroughSequence(server.LastInput)
	e.lastServerTick = server.Tick
	e.reconciliations++

	if e.cb.OnReconciliationComplete != nil {
		e.cb.OnReconciliationComplete(before, e.state, replayed)
	}
}

// SyncTick nudges the prediction clock toward the server's. Small drift is
// absorbed a quarter at a time; drift beyond MaxTickDrift snaps outright.
func (e *Engine) SyncTick(serverTick uint32, oneWayLatency time.Duration) {
	if !e.initialized {
		return
	}

	tickInterval := time.Second / time.Duration(e.settings.TickRate)
	latencyTicks := uint32(oneWayLatency / tickInterval)
	estimated := serverTick + latencyTicks

	drift := int64(estimated) - int64(e.currentTick)
	maxDrift := int64(e.settings.MaxTickDrift)
	if drift > maxDrift || drift < -maxDrift {
		slog.Debug("tick drift beyond limit, snapping", "drift", drift, "estimated", estimated)
		e.currentTick = estimated
		return
	}
	e.currentTick = uint32(int64(e.currentTick) + drift/4)
}

// PendingInputs returns a copy of the inputs the server has not acknowledged,
// oldest first.
func (e *Engine) PendingInputs() []sim.InputCommand {
	out := make([]sim.InputCommand, 0, e.inputs.Len())
	e.inputs.Range(func(cmd sim.InputCommand) bool {
		out = append(out, cmd)
		return true
	})
	return out
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		Mispredictions:        e.mispredictions,
		Reconciliations:       e.reconciliations,
		SnapshotsDiscarded:    e.snapshotsDiscarded,
		SmoothedPositionError: e.smoothedError,
		LastServerTick:        e.lastServerTick,
		InputsBuffered:        e.inputs.Len(),
		StatesBuffered:        e.states.Len(),
	}
}

func distance(a, b sim.Vector3) float32 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
}
