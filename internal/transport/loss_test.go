package transport

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/protocol"
)

// lossyConn drops the first transmission of every even-sequence reliable
// data frame and counts every write attempt, retransmissions included.
type lossyConn struct {
	ClientConn

	mu     sync.Mutex
	seen   map[uint16]bool
	writes int
}

func (l *lossyConn) Write(b []byte) (int, error) {
	l.mu.Lock()
	l.writes++
	drop := false
	var p protocol.Packet
	if p.Decode(b) == nil &&
		p.Type == protocol.TypeData &&
		p.Channel == protocol.ChannelReliable &&
		p.Sequence%2 == 0 && !l.seen[p.Sequence] {
		l.seen[p.Sequence] = true
		drop = true
	}
	l.mu.Unlock()

	if drop {
		return len(b), nil
	}
	return l.ClientConn.Write(b)
}

func (l *lossyConn) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// TestReliableDeliveryUnderLoss sends 100 reliable payloads through a socket
// that eats half the first transmissions. Every payload must still arrive
// exactly once, in order, within the retransmission budget.
func TestReliableDeliveryUnderLoss(t *testing.T) {
	var got []uint16
	handlers := ServerHandlers{
		OnData: func(_ uint32, ch protocol.ChannelType, payload []byte) {
			if ch == protocol.ChannelReliable && len(payload) >= 2 {
				got = append(got, binary.LittleEndian.Uint16(payload))
			}
		},
	}
	s, addr := startServer(t, config.DefaultTransport(), stubValidator{}, handlers)

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("resolving %s: %v", addr, err)
	}
	raw, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("dialing %s: %v", addr, err)
	}
	lossy := &lossyConn{ClientConn: raw, seen: make(map[uint16]bool)}

	cl := NewClient(config.ClientTransport{ServerAddr: addr}, ClientHandlers{}, WithClientConn(lossy))
	defer cl.Close()
	if err := cl.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	for i := 1; i <= 100; i++ {
		payload := []byte{byte(i), byte(i >> 8)}
		if err := cl.Send(protocol.ChannelReliable, payload); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}

	waitFor(t, 5*time.Second, func() bool {
		s.ProcessIncoming(0)
		cl.ProcessIncoming(0)
		return len(got) == 100
	})

	for i, idx := range got {
		if idx != uint16(i+1) {
			t.Fatalf("delivery %d = payload %d, want %d (exactly once, in order)", i, idx, i+1)
		}
	}

	if writes := lossy.writeCount(); writes < 150 || writes > 500 {
		t.Errorf("socket writes = %d, want within [150, 500]", writes)
	}
	if retr := cl.Stats().Retransmits; retr < 50 {
		t.Errorf("client retransmits = %d, want at least 50", retr)
	}
}
