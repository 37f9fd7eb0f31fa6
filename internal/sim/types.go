// Package sim is the simulation contract shared by server and client.
//
// Everything here is pure float32 math with a canonical evaluation order: the
// same inputs produce bit-identical outputs on both sides. Any divergence
// between peers shows up as permanent misprediction, so this package must not
// read clocks, random sources or platform-dependent state.
package sim

// Vector2 is a 2D vector (movement input on the XZ plane).
type Vector2 struct {
	X, Y float32
}

// Vector3 is a 3D vector. Y is up.
type Vector3 struct {
	X, Y, Z float32
}

// Add returns v + o component-wise.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Scale returns v * s component-wise.
func (v Vector3) Scale(s float32) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// ActionFlags is the button state packed into an input command.
type ActionFlags uint8

const (
	ActionJump ActionFlags = 1 << iota
	ActionSprint
	ActionCrouch
	ActionPrimary
	ActionSecondary
	ActionInteract
)

// Has reports whether all bits of f are set.
func (a ActionFlags) Has(f ActionFlags) bool { return a&f == f }

// StateFlags describes the derived movement state of a player.
type StateFlags uint8

const (
	StateGrounded StateFlags = 1 << iota
	StateSprinting
	StateCrouching
	StateJumping
	StateFalling
)

// Has reports whether all bits of f are set.
func (s StateFlags) Has(f StateFlags) bool { return s&f == f }

// InputCommand is one tick worth of player input, tagged with the client's
// tick and a monotonically increasing sequence number.
type InputCommand struct {
	Tick     uint32
	Sequence uint32
	Move     Vector2 // unit-length movement direction on the XZ plane
	Look     float32 // yaw in degrees
	Actions  ActionFlags
}

// StateSnapshot is the authoritative (or predicted) player state after a tick.
type StateSnapshot struct {
	Tick      uint32
	LastInput uint32 // sequence of the newest input folded into this state
	Position  Vector3
	Velocity  Vector3
	Rotation  float32 // yaw in degrees
	Flags     StateFlags
}

// MovementSettings are the tunables of the reference movement model.
// Plain fields, no behavior: both sides must run identical values.
type MovementSettings struct {
	WalkSpeed    float32 `yaml:"walk_speed"`
	SprintSpeed  float32 `yaml:"sprint_speed"`
	CrouchSpeed  float32 `yaml:"crouch_speed"`
	JumpImpulse  float32 `yaml:"jump_impulse"`
	Gravity      float32 `yaml:"gravity"`
	MaxFallSpeed float32 `yaml:"max_fall_speed"`
	GroundLevel  float32 `yaml:"ground_level"`
}

// DefaultMovementSettings returns the reference tuning.
func DefaultMovementSettings() MovementSettings {
	return MovementSettings{
		WalkSpeed:    5,
		SprintSpeed:  8,
		CrouchSpeed:  2.5,
		JumpImpulse:  8,
		Gravity:      -20,
		MaxFallSpeed: -50,
		GroundLevel:  0,
	}
}

// TickDelta returns the simulation timestep for a tick rate. Server and
// client must both use this so dt is bit-identical on either side.
func TickDelta(tickRate int) float32 {
	return 1 / float32(tickRate)
}
