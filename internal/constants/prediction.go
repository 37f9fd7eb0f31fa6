package constants

// Prediction Engine Constants

const (
	// DefaultRingCapacity is the capacity of the input and state history rings.
	DefaultRingCapacity = 64

	// DefaultPositionTolerance is the world-unit position error below which a
	// prediction is accepted without reconciliation.
	DefaultPositionTolerance = 0.01

	// DefaultVelocityTolerance is the velocity error below which a prediction
	// is accepted without reconciliation.
	DefaultVelocityTolerance = 0.1

	// DefaultMaxTickDrift is the largest client/server tick divergence that is
	// smoothed instead of snapped.
	DefaultMaxTickDrift = 10

	// PredictionErrorAlpha is the EWMA weight of a new sample in the smoothed
	// position-error metric.
	PredictionErrorAlpha = 0.1
)
