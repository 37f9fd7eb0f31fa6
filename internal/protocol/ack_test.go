package protocol

import "testing"

// TestMarkAckedAdvance verifies marking a newer sequence advances the window
// and keeps the former ack acknowledged.
func TestMarkAckedAdvance(t *testing.T) {
	var p Packet

	p.MarkAcked(5)
	if p.Ack != 5 {
		t.Fatalf("ack: expected 5, got %d", p.Ack)
	}
	if !p.IsAcked(5) {
		t.Error("5 should be acked")
	}

	p.MarkAcked(8)
	if p.Ack != 8 {
		t.Fatalf("ack: expected 8, got %d", p.Ack)
	}
	for _, seq := range []uint16{5, 8} {
		if !p.IsAcked(seq) {
			t.Errorf("%d should remain acked after advance", seq)
		}
	}
	for _, seq := range []uint16{6, 7} {
		if p.IsAcked(seq) {
			t.Errorf("%d was never marked, must not be acked", seq)
		}
	}
}

// TestMarkAckedOlderInWindow verifies an older sequence within 32 sets its bit.
func TestMarkAckedOlderInWindow(t *testing.T) {
	var p Packet
	p.MarkAcked(100)

	p.MarkAcked(90)
	if !p.IsAcked(90) {
		t.Error("90 should be acked after late arrival")
	}
	if p.Ack != 100 {
		t.Errorf("ack must not move backwards: expected 100, got %d", p.Ack)
	}

	// Distance exactly 32 is the last coverable sequence.
	p.MarkAcked(68)
	if !p.IsAcked(68) {
		t.Error("68 (distance 32) should be acked")
	}

	// Distance 33 is out of the window and ignored.
	p.MarkAcked(67)
	if p.IsAcked(67) {
		t.Error("67 (distance 33) is outside the window")
	}
}

// TestMarkAckedIdempotent verifies re-marking the current ack changes nothing.
func TestMarkAckedIdempotent(t *testing.T) {
	var p Packet
	p.MarkAcked(10)
	p.MarkAcked(7)

	ack, bits := p.Ack, p.AckBits
	p.MarkAcked(10)
	p.MarkAcked(7)

	if p.Ack != ack || p.AckBits != bits {
		t.Errorf("re-marking changed state: ack %d->%d bits %08X->%08X", ack, p.Ack, bits, p.AckBits)
	}
}

// TestMarkAckedWindowSlide verifies acks older than 32 sequences fall out as
// the window advances.
func TestMarkAckedWindowSlide(t *testing.T) {
	var p Packet
	p.MarkAcked(1)
	p.MarkAcked(2)
	p.MarkAcked(3)

	p.MarkAcked(40)
	if !p.IsAcked(40) {
		t.Error("40 should be acked")
	}
	// 3 is at distance 37 from 40: washed out of the bitfield.
	if p.IsAcked(3) {
		t.Error("3 should have slid out of the window")
	}

	// The property that matters downstream: every sequence within 32 of the
	// new ack that was previously acked stays acked.
	if !p.IsAcked(40) {
		t.Error("window head lost")
	}
}

// TestMarkAckedBigJump verifies a jump beyond the whole window zeroes the bitfield.
func TestMarkAckedBigJump(t *testing.T) {
	var p Packet
	p.MarkAcked(10)
	p.MarkAcked(11)

	p.MarkAcked(10000)
	if p.Ack != 10000 {
		t.Fatalf("ack: expected 10000, got %d", p.Ack)
	}
	if p.AckBits != 0 {
		t.Errorf("bitfield should be washed out after a %d-sequence jump, got %08X", 10000-11, p.AckBits)
	}
	if p.IsAcked(11) {
		t.Error("11 is far outside the window")
	}
}

// TestMarkAckedWrap verifies window advance across the uint16 boundary.
func TestMarkAckedWrap(t *testing.T) {
	var p Packet
	p.Ack = 65534
	p.MarkAcked(65535)
	p.MarkAcked(1) // wraps

	if p.Ack != 1 {
		t.Fatalf("ack after wrap: expected 1, got %d", p.Ack)
	}
	if !p.IsAcked(65535) {
		t.Error("65535 (distance 2 behind 1) should remain acked")
	}
	if !p.IsAcked(65534) {
		t.Error("65534 (distance 3 behind 1) should remain acked")
	}
}

// TestIsAckedEmptyWindow verifies a fresh packet acks nothing but its zero ack.
func TestIsAckedEmptyWindow(t *testing.T) {
	var p Packet
	for _, seq := range []uint16{1, 2, 50, 65535} {
		if p.IsAcked(seq) {
			t.Errorf("fresh window must not ack %d", seq)
		}
	}
}
