package sim

// Step advances state by one tick of dt seconds under input and returns the
// new state. Pure: no I/O, no clocks, float32 throughout, fixed evaluation
// order.
//
// Model: horizontal velocity is set directly from the movement input scaled
// by the speed the flags select (crouch beats sprint); vertical velocity gets
// a jump impulse when grounded, otherwise integrates gravity clamped at the
// terminal fall speed; position integrates velocity; dropping to or below
// ground level snaps the player onto the ground.
func Step(state StateSnapshot, input InputCommand, settings MovementSettings, dt float32) StateSnapshot {
	grounded := state.Flags.Has(StateGrounded)

	speed := settings.WalkSpeed
	if grounded && input.Actions.Has(ActionCrouch) {
		speed = settings.CrouchSpeed
	} else if grounded && input.Actions.Has(ActionSprint) {
		speed = settings.SprintSpeed
	}

	vel := Vector3{
		X: input.Move.X * speed,
		Y: state.Velocity.Y,
		Z: input.Move.Y * speed,
	}

	if grounded && input.Actions.Has(ActionJump) {
		vel.Y = settings.JumpImpulse
	} else {
		vel.Y += settings.Gravity * dt
		if vel.Y < settings.MaxFallSpeed {
			vel.Y = settings.MaxFallSpeed
		}
	}

	pos := state.Position.Add(vel.Scale(dt))

	groundedAfter := false
	if pos.Y <= settings.GroundLevel {
		pos.Y = settings.GroundLevel
		vel.Y = 0
		groundedAfter = true
	}

	var flags StateFlags
	if groundedAfter {
		flags |= StateGrounded
		if input.Actions.Has(ActionSprint) {
			flags |= StateSprinting
		}
		if input.Actions.Has(ActionCrouch) {
			flags |= StateCrouching
		}
	}
	if vel.Y > 0 {
		flags |= StateJumping
	}
	if vel.Y < 0 {
		flags |= StateFalling
	}

	return StateSnapshot{
		Tick:      input.Tick,
		LastInput: input.Sequence,
		Position:  pos,
		Velocity:  vel,
		Rotation:  input.Look,
		Flags:     flags,
	}
}
