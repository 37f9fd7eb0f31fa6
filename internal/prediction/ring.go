package prediction

import "github.com/XL4Y3R/XL4Net-sub000/internal/sim"

// Fixed-capacity rings over the input and state history. Entries arrive in
// ascending tick/sequence order; appending past capacity overwrites the
// oldest entry. Neither ring is safe for concurrent use: the engine and its
// rings are owned by the client tick worker.

// InputBuffer is a ring of input commands ordered oldest to newest.
type InputBuffer struct {
	buf   []sim.InputCommand
	head  int
	count int
}

// NewInputBuffer creates a ring holding up to capacity commands.
func NewInputBuffer(capacity int) *InputBuffer {
	return &InputBuffer{buf: make([]sim.InputCommand, capacity)}
}

// Push appends cmd, overwriting the oldest entry when full.
func (b *InputBuffer) Push(cmd sim.InputCommand) {
	if b.count < len(b.buf) {
		b.buf[(b.head+b.count)%len(b.buf)] = cmd
		b.count++
		return
	}
	b.buf[b.head] = cmd
	b.head = (b.head + 1) % len(b.buf)
}

// Len returns the number of buffered commands.
func (b *InputBuffer) Len() int { return b.count }

// Range calls fn for each command from oldest to newest until fn returns false.
func (b *InputBuffer) Range(fn func(cmd sim.InputCommand) bool) {
	for i := range b.count {
		if !fn(b.buf[(b.head+i)%len(b.buf)]) {
			return
		}
	}
}

// DropThroughSequence removes the prefix of commands whose sequence is <= seq
// and returns how many were dropped. Commands sit in ascending sequence
// order, so acknowledged inputs always form a prefix.
func (b *InputBuffer) DropThroughSequence(seq uint32) int {
	dropped := 0
	for b.count > 0 && b.buf[b.head].Sequence <= seq {
		b.head = (b.head + 1) % len(b.buf)
		b.count--
		dropped++
	}
	return dropped
}

// Clear empties the ring.
func (b *InputBuffer) Clear() {
	b.head = 0
	b.count = 0
}

// StateBuffer is a ring of predicted states ordered oldest to newest.
type StateBuffer struct {
	buf   []sim.StateSnapshot
	head  int
	count int
}

// NewStateBuffer creates a ring holding up to capacity snapshots.
func NewStateBuffer(capacity int) *StateBuffer {
	return &StateBuffer{buf: make([]sim.StateSnapshot, capacity)}
}

// Push appends s, overwriting the oldest entry when full.
func (b *StateBuffer) Push(s sim.StateSnapshot) {
	if b.count < len(b.buf) {
		b.buf[(b.head+b.count)%len(b.buf)] = s
		b.count++
		return
	}
	b.buf[b.head] = s
	b.head = (b.head + 1) % len(b.buf)
}

// Len returns the number of buffered snapshots.
func (b *StateBuffer) Len() int { return b.count }

// AtTick returns the newest buffered state for the given tick. Replayed
// states for a tick shadow the original prediction, so the scan runs newest
// to oldest.
func (b *StateBuffer) AtTick(tick uint32) (sim.StateSnapshot, bool) {
	for i := b.count - 1; i >= 0; i-- {
		s := b.buf[(b.head+i)%len(b.buf)]
		if s.Tick == tick {
			return s, true
		}
	}
	return sim.StateSnapshot{}, false
}

// Clear empties the ring.
func (b *StateBuffer) Clear() {
	b.head = 0
	b.count = 0
}
