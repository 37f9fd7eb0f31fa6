package protocol

import "github.com/XL4Y3R/XL4Net-sub000/internal/constants"

// AckWindow tracks the newest received sequence and a 32-bit history behind
// it. Ack holds the newest acknowledged sequence; bit i of Bits acknowledges
// sequence Ack-i-1. The window therefore covers Ack and the 32 sequences
// behind it.
type AckWindow struct {
	Ack  uint16
	Bits uint32
}

// IsAcked reports whether seq is acknowledged by the current window.
func (w *AckWindow) IsAcked(seq uint16) bool {
	if seq == w.Ack {
		return true
	}
	diff := w.Ack - seq // uint16 arithmetic handles wraparound
	if diff >= 1 && diff <= constants.AckWindowSize {
		return w.Bits&(1<<(diff-1)) != 0
	}
	return false
}

// MarkAcked records seq in the window. A newer seq advances Ack, shifting the
// bitfield and folding the previous Ack into it; an older seq inside the
// window sets its bit; anything further behind is out of the window and ignored.
func (w *AckWindow) MarkAcked(seq uint16) {
	if IsSequenceNewer(seq, w.Ack) {
		shift := seq - w.Ack
		// Shifts of 32+ zero out naturally: the whole previous window has
		// fallen more than 32 sequences behind.
		w.Bits = w.Bits<<shift | 1<<(shift-1)
		w.Ack = seq
		return
	}
	if seq == w.Ack {
		return
	}
	if diff := w.Ack - seq; diff <= constants.AckWindowSize {
		w.Bits |= 1 << (diff - 1)
	}
}

// IsAcked reports whether seq is acknowledged by the packet's ack fields.
func (p *Packet) IsAcked(seq uint16) bool {
	w := AckWindow{Ack: p.Ack, Bits: p.AckBits}
	return w.IsAcked(seq)
}

// MarkAcked records seq in the packet's ack fields.
func (p *Packet) MarkAcked(seq uint16) {
	w := AckWindow{Ack: p.Ack, Bits: p.AckBits}
	w.MarkAcked(seq)
	p.Ack, p.AckBits = w.Ack, w.Bits
}
