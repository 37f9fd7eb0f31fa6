package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire encoding of the simulation messages carried inside Data packets.
// Fixed-size little-endian layouts; a one-byte kind prefix distinguishes the
// message families so the packet header stays application-agnostic.

// Message kinds (first payload byte of a Data packet).
const (
	MsgInput    byte = 0x01
	MsgSnapshot byte = 0x02
)

// Wire sizes excluding the kind byte.
const (
	// InputWireSize is tick(4) + sequence(4) + move(8) + look(4) + actions(1).
	InputWireSize = 21

	// SnapshotWireSize is tick(4) + lastInput(4) + position(12) + velocity(12) +
	// rotation(4) + flags(1).
	SnapshotWireSize = 37
)

// ErrShortMessage is returned when a buffer cannot hold the message.
var ErrShortMessage = errors.New("short sim message")

// Encode writes the command into buf and returns the bytes written.
func (c *InputCommand) Encode(buf []byte) (int, error) {
	if len(buf) < InputWireSize {
		return 0, fmt.Errorf("%w: input needs %d bytes, have %d", ErrShortMessage, InputWireSize, len(buf))
	}
	binary.LittleEndian.PutUint32(buf[0:], c.Tick)
	binary.LittleEndian.PutUint32(buf[4:], c.Sequence)
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(c.Move.X))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(c.Move.Y))
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(c.Look))
	buf[20] = byte(c.Actions)
	return InputWireSize, nil
}

// Decode parses a command from data.
func (c *InputCommand) Decode(data []byte) error {
	if len(data) < InputWireSize {
		return fmt.Errorf("%w: input needs %d bytes, have %d", ErrShortMessage, InputWireSize, len(data))
	}
	c.Tick = binary.LittleEndian.Uint32(data[0:])
	c.Sequence = binary.LittleEndian.Uint32(data[4:])
	c.Move.X = math.Float32frombits(binary.LittleEndian.Uint32(data[8:]))
	c.Move.Y = math.Float32frombits(binary.LittleEndian.Uint32(data[12:]))
	c.Look = math.Float32frombits(binary.LittleEndian.Uint32(data[16:]))
	c.Actions = ActionFlags(data[20])
	return nil
}

// Encode writes the snapshot into buf and returns the bytes written.
func (s *StateSnapshot) Encode(buf []byte) (int, error) {
	if len(buf) < SnapshotWireSize {
		return 0, fmt.Errorf("%w: snapshot needs %d bytes, have %d", ErrShortMessage, SnapshotWireSize, len(buf))
	}
	binary.LittleEndian.PutUint32(buf[0:], s.Tick)
	binary.LittleEndian.PutUint32(buf[4:], s.LastInput)
	putVector3(buf[8:], s.Position)
	putVector3(buf[20:], s.Velocity)
	binary.LittleEndian.PutUint32(buf[32:], math.Float32bits(s.Rotation))
	buf[36] = byte(s.Flags)
	return SnapshotWireSize, nil
}

// Decode parses a snapshot from data.
func (s *StateSnapshot) Decode(data []byte) error {
	if len(data) < SnapshotWireSize {
		return fmt.Errorf("%w: snapshot needs %d bytes, have %d", ErrShortMessage, SnapshotWireSize, len(data))
	}
	s.Tick = binary.LittleEndian.Uint32(data[0:])
	s.LastInput = binary.LittleEndian.Uint32(data[4:])
	s.Position = getVector3(data[8:])
	s.Velocity = getVector3(data[20:])
	s.Rotation = math.Float32frombits(binary.LittleEndian.Uint32(data[32:]))
	s.Flags = StateFlags(data[36])
	return nil
}

func putVector3(buf []byte, v Vector3) {
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v.Z))
}

func getVector3(data []byte) Vector3 {
	return Vector3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(data[0:])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(data[4:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(data[8:])),
	}
}
