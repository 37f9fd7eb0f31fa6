package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
	"github.com/XL4Y3R/XL4Net-sub000/internal/protocol"
)

type stubValidator struct {
	fail  bool
	delay time.Duration
}

func (v stubValidator) Validate(ctx context.Context, token string) (TokenInfo, error) {
	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			return TokenInfo{}, ctx.Err()
		}
	}
	if v.fail || token == "" {
		return TokenInfo{}, errors.New("invalid token")
	}
	return TokenInfo{UserID: "acc-1", Username: "tester"}, nil
}

type discEvent struct {
	id     uint32
	reason string
}

// serverRecorder captures server handler invocations. The disconnect path
// can fire from the serve goroutine during shutdown, hence the mutex.
type serverRecorder struct {
	mu           sync.Mutex
	connected    []uint32
	disconnected []discEvent
}

func (r *serverRecorder) handlers() ServerHandlers {
	return ServerHandlers{
		OnClientConnected: func(id uint32) {
			r.mu.Lock()
			r.connected = append(r.connected, id)
			r.mu.Unlock()
		},
		OnClientDisconnected: func(id uint32, reason string) {
			r.mu.Lock()
			r.disconnected = append(r.disconnected, discEvent{id: id, reason: reason})
			r.mu.Unlock()
		},
	}
}

func (r *serverRecorder) connectedIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.connected...)
}

func (r *serverRecorder) disconnects() []discEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]discEvent(nil), r.disconnected...)
}

// startServer runs a transport server on a loopback socket and returns it
// together with its dial address. Shutdown is wired into test cleanup.
func startServer(t *testing.T, cfg config.Transport, v TokenValidator, h ServerHandlers, opts ...ServerOption) (*Server, string) {
	t.Helper()

	sock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := sock.LocalAddr().String()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(addr, cfg, v, h, opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, sock)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, addr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func rawDial(t *testing.T, addr string) *net.UDPConn {
	t.Helper()
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("resolving %s: %v", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("dialing %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRaw(t *testing.T, conn *net.UDPConn, pkt *protocol.Packet) {
	t.Helper()
	buf := make([]byte, constants.MaxDatagramSize)
	n, err := pkt.Encode(buf)
	if err != nil {
		t.Fatalf("encoding raw packet: %v", err)
	}
	if _, err := conn.Write(buf[:n]); err != nil {
		t.Fatalf("writing raw packet: %v", err)
	}
}

// readRawType reads datagrams until one of the wanted type arrives.
func readRawType(t *testing.T, conn *net.UDPConn, want protocol.PacketType, timeout time.Duration) *protocol.Packet {
	t.Helper()
	deadline := time.Now().Add(timeout)
	buf := make([]byte, constants.MaxDatagramSize)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("reading raw packet: %v", err)
		}
		var p protocol.Packet
		if err := p.Decode(buf[:n]); err != nil {
			t.Fatalf("decoding raw packet: %v", err)
		}
		if p.Type == want {
			return &p
		}
	}
	t.Fatalf("no %v packet within %v", want, timeout)
	return nil
}

// TestHandshakeHappyPath covers the full accept flow: the client's
// OnConnected fires within 100ms and the server assigns an id from 1000 up.
func TestHandshakeHappyPath(t *testing.T) {
	rec := &serverRecorder{}
	s, addr := startServer(t, config.DefaultTransport(), stubValidator{}, rec.handlers())

	onConnected := 0
	cl := NewClient(config.ClientTransport{ServerAddr: addr}, ClientHandlers{
		OnConnected: func() { onConnected++ },
	})
	defer cl.Close()

	start := time.Now()
	if err := cl.Connect(context.Background(), "valid-token"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("handshake took %v, want under 100ms", elapsed)
	}
	if onConnected != 1 {
		t.Errorf("OnConnected fired %d times, want exactly once", onConnected)
	}
	if id := cl.ConnectionID(); id < constants.FirstConnectionID {
		t.Errorf("connection id = %d, want >= %d", id, constants.FirstConnectionID)
	}

	waitFor(t, time.Second, func() bool {
		s.ProcessIncoming(0)
		return len(rec.connectedIDs()) == 1
	})
	if ids := rec.connectedIDs(); ids[0] != cl.ConnectionID() {
		t.Errorf("server saw id %d, client saw %d", ids[0], cl.ConnectionID())
	}
	if n := s.ConnectionCount(); n != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", n)
	}
	if user, ok := s.User(cl.ConnectionID()); !ok || user.Username != "tester" {
		t.Errorf("User() = %+v/%v, want tester/true", user, ok)
	}
}

// TestHandshakeRejected_BadMagic gets no reply and leaves no server state.
func TestHandshakeRejected_BadMagic(t *testing.T) {
	rec := &serverRecorder{}
	s, addr := startServer(t, config.DefaultTransport(), stubValidator{}, rec.handlers())

	conn := rawDial(t, addr)
	sendRaw(t, conn, &protocol.Packet{
		Type:    protocol.TypeHandshake,
		Channel: protocol.ChannelUnreliable,
		Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, constants.MaxDatagramSize)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("server replied %d bytes to a bad-magic handshake", n)
	}

	s.ProcessIncoming(0)
	if n := s.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", n)
	}
	if ids := rec.connectedIDs(); len(ids) != 0 {
		t.Errorf("OnClientConnected fired for ids %v", ids)
	}
}

// TestHandshakeRejected_BadToken drops silently when validation fails.
func TestHandshakeRejected_BadToken(t *testing.T) {
	rec := &serverRecorder{}
	s, addr := startServer(t, config.DefaultTransport(), stubValidator{fail: true}, rec.handlers())

	conn := rawDial(t, addr)
	sendRaw(t, conn, &protocol.Packet{
		Type:    protocol.TypeHandshake,
		Channel: protocol.ChannelUnreliable,
		Payload: encodeHandshakePayload("whatever"),
	})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, constants.MaxDatagramSize)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("server replied %d bytes despite rejected token", n)
	}
	if n := s.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", n)
	}
}

// TestUnknownEndpoint_DataDropped ignores non-handshake traffic from
// endpoints without a connection.
func TestUnknownEndpoint_DataDropped(t *testing.T) {
	rec := &serverRecorder{}
	s, addr := startServer(t, config.DefaultTransport(), stubValidator{}, rec.handlers())

	conn := rawDial(t, addr)
	sendRaw(t, conn, &protocol.Packet{
		Type:     protocol.TypeData,
		Sequence: 1,
		Channel:  protocol.ChannelReliable,
		Payload:  []byte("stray"),
	})

	time.Sleep(150 * time.Millisecond)
	s.ProcessIncoming(0)
	if n := s.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", n)
	}
	if ids := rec.connectedIDs(); len(ids) != 0 {
		t.Errorf("OnClientConnected fired for ids %v", ids)
	}
}

// TestDuplicateHandshake_Reacked repeats the ack for a retransmitted
// handshake without opening a second connection.
func TestDuplicateHandshake_Reacked(t *testing.T) {
	rec := &serverRecorder{}
	s, addr := startServer(t, config.DefaultTransport(), stubValidator{}, rec.handlers())

	conn := rawDial(t, addr)
	hs := &protocol.Packet{
		Type:    protocol.TypeHandshake,
		Channel: protocol.ChannelUnreliable,
		Payload: encodeHandshakePayload("token"),
	}

	sendRaw(t, conn, hs)
	ack1 := readRawType(t, conn, protocol.TypeHandshakeAck, time.Second)
	id1, _, ok := parseHandshakeAck(ack1.Payload)
	if !ok {
		t.Fatal("first ack payload malformed")
	}

	sendRaw(t, conn, hs)
	ack2 := readRawType(t, conn, protocol.TypeHandshakeAck, time.Second)
	id2, _, ok := parseHandshakeAck(ack2.Payload)
	if !ok {
		t.Fatal("second ack payload malformed")
	}

	if id1 != id2 {
		t.Errorf("re-ack changed connection id: %d then %d", id1, id2)
	}
	waitFor(t, time.Second, func() bool {
		s.ProcessIncoming(0)
		return len(rec.connectedIDs()) >= 1
	})
	if ids := rec.connectedIDs(); len(ids) != 1 {
		t.Errorf("OnClientConnected fired %d times, want once", len(ids))
	}
	if n := s.ConnectionCount(); n != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", n)
	}
}

// TestServerFull silently drops handshakes beyond the concurrency cap.
func TestServerFull(t *testing.T) {
	cfg := config.DefaultTransport()
	cfg.MaxClients = 1
	rec := &serverRecorder{}
	s, addr := startServer(t, cfg, stubValidator{}, rec.handlers())

	cl1 := NewClient(config.ClientTransport{ServerAddr: addr}, ClientHandlers{})
	defer cl1.Close()
	if err := cl1.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}

	cl2 := NewClient(config.ClientTransport{
		ServerAddr:       addr,
		HandshakeTimeout: 700 * time.Millisecond,
	}, ClientHandlers{})
	defer cl2.Close()
	if err := cl2.Connect(context.Background(), "token"); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("second Connect() error = %v, want handshake timeout", err)
	}

	if n := s.ConnectionCount(); n != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", n)
	}
}

// TestHeartbeatTimeout_SilentPeer declares a silent peer dead shortly after
// the liveness window, exactly once, and restores all pooled packets.
func TestHeartbeatTimeout_SilentPeer(t *testing.T) {
	cfg := config.DefaultTransport()
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.HeartbeatTimeout = time.Second
	rec := &serverRecorder{}
	s, addr := startServer(t, cfg, stubValidator{}, rec.handlers())

	baseline := s.PacketPoolStats().Available

	conn := rawDial(t, addr)
	sendRaw(t, conn, &protocol.Packet{
		Type:    protocol.TypeHandshake,
		Channel: protocol.ChannelUnreliable,
		Payload: encodeHandshakePayload("token"),
	})
	readRawType(t, conn, protocol.TypeHandshakeAck, 2*time.Second)
	silentSince := time.Now()

	// The peer now ignores every ping.
	waitFor(t, cfg.HeartbeatTimeout+2*time.Second, func() bool {
		s.ProcessIncoming(0)
		return len(rec.disconnects()) > 0
	})
	elapsed := time.Since(silentSince)

	d := rec.disconnects()
	if len(d) != 1 {
		t.Fatalf("OnClientDisconnected fired %d times, want exactly once", len(d))
	}
	if d[0].reason != constants.ReasonHeartbeatTimeout {
		t.Errorf("reason = %q, want %q", d[0].reason, constants.ReasonHeartbeatTimeout)
	}
	if min, max := cfg.HeartbeatTimeout-50*time.Millisecond, cfg.HeartbeatTimeout+600*time.Millisecond; elapsed < min || elapsed > max {
		t.Errorf("disconnect after %v, want within [%v, %v]", elapsed, min, max)
	}
	if n := s.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount() = %d, want 0 after removal", n)
	}
	if got := s.PacketPoolStats().Available; got != baseline {
		t.Errorf("packet pool available = %d, want %d (everything returned)", got, baseline)
	}
}

// TestBroadcast delivers to every peer except the excluded one, encoding
// shared-channel frames once.
func TestBroadcast(t *testing.T) {
	rec := &serverRecorder{}
	s, addr := startServer(t, config.DefaultTransport(), stubValidator{}, rec.handlers())

	var got1, got2 [][]byte
	cl1 := NewClient(config.ClientTransport{ServerAddr: addr}, ClientHandlers{
		OnData: func(_ protocol.ChannelType, p []byte) { got1 = append(got1, append([]byte(nil), p...)) },
	})
	defer cl1.Close()
	cl2 := NewClient(config.ClientTransport{ServerAddr: addr}, ClientHandlers{
		OnData: func(_ protocol.ChannelType, p []byte) { got2 = append(got2, append([]byte(nil), p...)) },
	})
	defer cl2.Close()

	if err := cl1.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("client 1 Connect() error = %v", err)
	}
	if err := cl2.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("client 2 Connect() error = %v", err)
	}

	if err := s.BroadcastExcept(protocol.ChannelSequenced, []byte("snap"), cl1.ConnectionID()); err != nil {
		t.Fatalf("BroadcastExcept() error = %v", err)
	}
	waitFor(t, constants.TestDeliveryWait, func() bool {
		cl1.ProcessIncoming(0)
		cl2.ProcessIncoming(0)
		return len(got2) == 1
	})
	if len(got1) != 0 {
		t.Errorf("excluded client received %d payloads", len(got1))
	}
	if string(got2[0]) != "snap" {
		t.Errorf("payload = %q, want snap", got2[0])
	}

	if err := s.Broadcast(protocol.ChannelReliable, []byte("all")); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	waitFor(t, constants.TestDeliveryWait, func() bool {
		cl1.ProcessIncoming(0)
		cl2.ProcessIncoming(0)
		return len(got1) == 1 && len(got2) == 2
	})
	if string(got1[0]) != "all" || string(got2[1]) != "all" {
		t.Errorf("reliable broadcast payloads = %q, %q, want all/all", got1[0], got2[1])
	}
}

// TestConcurrentConnects admits a burst of parallel handshakes, each ending
// up with its own connection ID.
func TestConcurrentConnects(t *testing.T) {
	rec := &serverRecorder{}
	s, addr := startServer(t, config.DefaultTransport(), stubValidator{}, rec.handlers())

	clients := make([]*Client, constants.TestConcurrentClientsSmall)
	var g errgroup.Group
	for i := range clients {
		g.Go(func() error {
			cl := NewClient(config.ClientTransport{ServerAddr: addr}, ClientHandlers{})
			if err := cl.Connect(context.Background(), "token"); err != nil {
				cl.Close()
				return fmt.Errorf("client %d: %w", i, err)
			}
			clients[i] = cl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, cl := range clients {
			cl.Close()
		}
	}()

	if n := s.ConnectionCount(); n != len(clients) {
		t.Errorf("ConnectionCount() = %d, want %d", n, len(clients))
	}
	ids := make(map[uint32]bool, len(clients))
	for _, cl := range clients {
		ids[cl.ConnectionID()] = true
	}
	if len(ids) != len(clients) {
		t.Errorf("distinct connection IDs = %d, want %d", len(ids), len(clients))
	}
}

// TestServerShutdown notifies peers and emits the shutdown disconnect for
// every connection record.
func TestServerShutdown(t *testing.T) {
	sock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := sock.LocalAddr().String()

	rec := &serverRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(addr, config.DefaultTransport(), stubValidator{}, rec.handlers())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, sock)
	}()

	var clientReasons []string
	cl := NewClient(config.ClientTransport{ServerAddr: addr}, ClientHandlers{
		OnDisconnected: func(reason string) { clientReasons = append(clientReasons, reason) },
	})
	defer cl.Close()
	if err := cl.Connect(context.Background(), "token"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	id := cl.ConnectionID()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	d := rec.disconnects()
	if len(d) != 1 || d[0].id != id || d[0].reason != constants.ReasonServerShutdown {
		t.Errorf("server disconnects = %+v, want one %q for id %d", d, constants.ReasonServerShutdown, id)
	}
	if n := s.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", n)
	}

	waitFor(t, constants.TestDeliveryWait, func() bool {
		cl.ProcessIncoming(0)
		return len(clientReasons) == 1
	})
	if clientReasons[0] != constants.ReasonServerShutdown {
		t.Errorf("client reason = %q, want %q", clientReasons[0], constants.ReasonServerShutdown)
	}
}

// TestSendErrors covers the argument validation paths.
func TestSendErrors(t *testing.T) {
	s, _ := startServer(t, config.DefaultTransport(), stubValidator{}, ServerHandlers{})

	if err := s.Send(4242, protocol.ChannelReliable, []byte("x")); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Send to unknown conn: error = %v, want ErrConnectionNotFound", err)
	}

	big := make([]byte, constants.MaxPayloadSize+1)
	if err := s.Send(4242, protocol.ChannelReliable, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversize Send: error = %v, want ErrPayloadTooLarge", err)
	}
}
