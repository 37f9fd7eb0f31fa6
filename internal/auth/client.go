package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// Client is a blocking gateway client. One request is in flight at a
// time; concurrent calls serialize on an internal mutex.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	scratch []byte
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Dial connects to a gateway. The context bounds the dial only; requests
// use the client's request timeout.
func Dial(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing auth gateway %s: %w", addr, err)
	}
	c := &Client{
		conn:    conn,
		timeout: defaultRequestTimeout,
		scratch: make([]byte, frameHeaderSize+maxFrameSize),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Register submits a registration request.
func (c *Client) Register(req RegisterRequest) (RegisterResult, error) {
	var res RegisterResult
	if err := c.roundTrip(OpRegister, req, &res); err != nil {
		return RegisterResult{}, err
	}
	return res, nil
}

// Login submits a credential login request.
func (c *Client) Login(req LoginRequest) (LoginResult, error) {
	var res LoginResult
	if err := c.roundTrip(OpLogin, req, &res); err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

// ValidateToken asks the gateway to validate a token. Game servers
// validate locally through TokenManager instead; this call exists for
// other consumers of the gateway.
func (c *Client) ValidateToken(token string) (ValidateResult, error) {
	var res ValidateResult
	if err := c.roundTrip(OpValidate, ValidateRequest{Token: token}, &res); err != nil {
		return ValidateResult{}, err
	}
	return res, nil
}

func (c *Client) roundTrip(opcode byte, req, res any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("setting request deadline: %w", err)
	}
	if err := writeFrame(c.conn, c.scratch, opcode, req); err != nil {
		return err
	}
	got, body, err := readFrame(c.conn, c.scratch)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	want := opcode | responseFlag
	if got != want {
		return fmt.Errorf("unexpected response opcode 0x%02X, want 0x%02X", got, want)
	}
	if err := json.Unmarshal(body, res); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
