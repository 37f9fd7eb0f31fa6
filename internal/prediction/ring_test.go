package prediction

import (
	"testing"

	"github.com/XL4Y3R/XL4Net-sub000/internal/sim"
)

func makeInput(seq uint32) sim.InputCommand {
	return sim.InputCommand{Tick: seq, Sequence: seq}
}

// TestInputBufferOrder verifies commands come back oldest to newest.
func TestInputBufferOrder(t *testing.T) {
	b := NewInputBuffer(8)
	for seq := uint32(1); seq <= 5; seq++ {
		b.Push(makeInput(seq))
	}

	var got []uint32
	b.Range(func(cmd sim.InputCommand) bool {
		got = append(got, cmd.Sequence)
		return true
	})

	want := []uint32{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("length: expected %d, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected seq %d, got %d", i, want[i], got[i])
		}
	}
}

// TestInputBufferOverwritesOldest verifies pushing past capacity drops the
// oldest entries.
func TestInputBufferOverwritesOldest(t *testing.T) {
	b := NewInputBuffer(4)
	for seq := uint32(1); seq <= 6; seq++ {
		b.Push(makeInput(seq))
	}

	if b.Len() != 4 {
		t.Fatalf("len: expected 4, got %d", b.Len())
	}

	first := uint32(0)
	b.Range(func(cmd sim.InputCommand) bool {
		first = cmd.Sequence
		return false
	})
	if first != 3 {
		t.Errorf("oldest surviving seq: expected 3, got %d", first)
	}
}

// TestInputBufferDropThroughSequence verifies acknowledged prefixes are removed.
func TestInputBufferDropThroughSequence(t *testing.T) {
	b := NewInputBuffer(8)
	for seq := uint32(1); seq <= 5; seq++ {
		b.Push(makeInput(seq))
	}

	if dropped := b.DropThroughSequence(3); dropped != 3 {
		t.Errorf("dropped: expected 3, got %d", dropped)
	}
	if b.Len() != 2 {
		t.Errorf("remaining: expected 2, got %d", b.Len())
	}

	first := uint32(0)
	b.Range(func(cmd sim.InputCommand) bool {
		first = cmd.Sequence
		return false
	})
	if first != 4 {
		t.Errorf("head after drop: expected 4, got %d", first)
	}

	// Dropping below the current head is a no-op.
	if dropped := b.DropThroughSequence(2); dropped != 0 {
		t.Errorf("re-drop: expected 0, got %d", dropped)
	}

	// Dropping past the end empties the ring.
	if dropped := b.DropThroughSequence(100); dropped != 2 {
		t.Errorf("drain: expected 2, got %d", dropped)
	}
	if b.Len() != 0 {
		t.Errorf("ring should be empty, len %d", b.Len())
	}
}

// TestStateBufferAtTick verifies tick lookup, including the newest-wins rule
// after replay pushes a second state for the same tick.
func TestStateBufferAtTick(t *testing.T) {
	b := NewStateBuffer(8)
	b.Push(sim.StateSnapshot{Tick: 1, Position: sim.Vector3{X: 1}})
	b.Push(sim.StateSnapshot{Tick: 2, Position: sim.Vector3{X: 2}})
	b.Push(sim.StateSnapshot{Tick: 3, Position: sim.Vector3{X: 3}})

	s, ok := b.AtTick(2)
	if !ok {
		t.Fatal("tick 2 not found")
	}
	if s.Position.X != 2 {
		t.Errorf("tick 2 position: expected 2, got %v", s.Position.X)
	}

	if _, ok := b.AtTick(99); ok {
		t.Error("tick 99 should not be found")
	}

	// A replayed state for tick 2 shadows the original.
	b.Push(sim.StateSnapshot{Tick: 2, Position: sim.Vector3{X: 22}})
	s, ok = b.AtTick(2)
	if !ok {
		t.Fatal("tick 2 lost after replay push")
	}
	if s.Position.X != 22 {
		t.Errorf("replayed state should win: expected 22, got %v", s.Position.X)
	}
}

// TestStateBufferWrap verifies old ticks fall out once the ring wraps.
func TestStateBufferWrap(t *testing.T) {
	b := NewStateBuffer(4)
	for tick := uint32(1); tick <= 10; tick++ {
		b.Push(sim.StateSnapshot{Tick: tick})
	}

	if _, ok := b.AtTick(6); ok {
		t.Error("tick 6 should have been overwritten")
	}
	for tick := uint32(7); tick <= 10; tick++ {
		if _, ok := b.AtTick(tick); !ok {
			t.Errorf("tick %d should survive", tick)
		}
	}
}
