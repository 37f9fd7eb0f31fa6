package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/metrics"
	"github.com/XL4Y3R/XL4Net-sub000/internal/pool"
)

// ServerOption is a functional option for Server configuration.
type ServerOption func(*Server)

// WithMetrics attaches gateway collectors.
func WithMetrics(reg *metrics.AuthRegistry) ServerOption {
	return func(s *Server) {
		s.metrics = reg
	}
}

// Server is the TCP gateway that accepts registration, login and token
// validation requests on port 2106.
type Server struct {
	cfg     config.AuthServer
	service *Service
	bufs    *pool.BufferPool
	metrics *metrics.AuthRegistry

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a gateway server over an already-wired Service.
func NewServer(cfg config.AuthServer, service *Service, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		bufs:    pool.NewBufferPool(16, 256),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Addr returns the listening address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run begins listening for gateway connections on the configured address.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop over a ready listener. Split from Run so
// tests can serve on an ephemeral port.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("auth gateway started", "address", ln.Addr())
		acceptLoop(ctx, &wg, s, ln)
	})

	wg.Wait()

	return nil
}

func acceptLoop(
	ctx context.Context,
	wg *sync.WaitGroup,
	srv *Server,
	ln net.Listener,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("Failed to accept gateway connection", "error", err)
				continue
			}
			wg.Go(func() {
				handleConnection(ctx, srv, conn)
			})
		}
	}
}

func handleConnection(ctx context.Context, srv *Server, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		slog.Error("Failed to split host port", "connection", conn.RemoteAddr(), "error", err)
		return
	}
	source, err := netip.ParseAddr(host)
	if err != nil {
		slog.Error("Failed to parse source address", "host", host, "error", err)
		return
	}
	source = source.Unmap()

	slog.Debug("new gateway connection", "remote", source)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if ok, err := handleFrame(ctx, srv, conn, source); !ok {
				return
			} else if err != nil {
				slog.Error("Failed to handle gateway frame", "remote", source, "error", err)
			}
		}
	}
}

// handleFrame reads one request frame, dispatches it, and writes the
// response. Returning ok=false closes the connection.
func handleFrame(ctx context.Context, srv *Server, conn net.Conn, source netip.Addr) (bool, error) {
	readBuf := srv.bufs.Rent(frameHeaderSize + maxFrameSize)
	defer srv.bufs.Return(readBuf)
	sendBuf := srv.bufs.Rent(frameHeaderSize + maxFrameSize)
	defer srv.bufs.Return(sendBuf)

	if srv.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(srv.cfg.ReadTimeout)); err != nil {
			return false, fmt.Errorf("setting read deadline: %w", err)
		}
	}
	opcode, body, err := readFrame(conn, readBuf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return false, nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			slog.Debug("gateway connection idle, closing", "remote", source)
			return false, nil
		}
		return false, fmt.Errorf("reading frame: %w", err)
	}

	start := time.Now()
	var response any
	switch opcode {
	case OpRegister:
		var req RegisterRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return false, fmt.Errorf("decoding register request: %w", err)
		}
		response = srv.service.Register(ctx, req.Username, req.Email, req.Password, req.Confirm)

	case OpLogin:
		var req LoginRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return false, fmt.Errorf("decoding login request: %w", err)
		}
		response = srv.service.Login(ctx, req.Identifier, req.Password, source)

	case OpValidate:
		var req ValidateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return false, fmt.Errorf("decoding validate request: %w", err)
		}
		response = srv.service.ValidateToken(req.Token)

	default:
		slog.Warn("unknown gateway opcode", "opcode", fmt.Sprintf("0x%02X", opcode), "remote", source)
		return true, nil
	}
	srv.observeRequest(opcode, response, time.Since(start))

	if srv.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(srv.cfg.WriteTimeout)); err != nil {
			return false, fmt.Errorf("setting write deadline: %w", err)
		}
	}
	if err := writeFrame(conn, sendBuf, opcode|responseFlag, response); err != nil {
		return false, fmt.Errorf("writing response: %w", err)
	}
	return true, nil
}

func (s *Server) observeRequest(opcode byte, response any, took time.Duration) {
	if s.metrics == nil {
		return
	}
	switch res := response.(type) {
	case RegisterResult:
		s.metrics.RequestDuration.WithLabelValues("register").Observe(took.Seconds())
		s.metrics.Registrations.WithLabelValues(registerOutcome(res)).Inc()
	case LoginResult:
		s.metrics.RequestDuration.WithLabelValues("login").Observe(took.Seconds())
		s.metrics.Logins.WithLabelValues(loginOutcome(res)).Inc()
	case ValidateResult:
		s.metrics.RequestDuration.WithLabelValues("validate").Observe(took.Seconds())
		outcome := metrics.OutcomeInvalid
		if res.Valid {
			outcome = metrics.OutcomeValid
		}
		s.metrics.TokenValidations.WithLabelValues(outcome).Inc()
	}
}

func registerOutcome(res RegisterResult) string {
	switch {
	case res.Success:
		return metrics.OutcomeSuccess
	case res.Reason == ReasonInternalError:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}

func loginOutcome(res LoginResult) string {
	switch {
	case res.Success:
		return metrics.OutcomeSuccess
	case res.RateLimited:
		return metrics.OutcomeRateLimited
	case res.Reason == ReasonInternalError:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeInvalid
	}
}
