// simclient drives synthetic players against a running auth gateway and
// game server: it registers or logs in, connects a fleet of bots, wanders
// them around and reports prediction accuracy when it stops.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/auth"
	"github.com/XL4Y3R/XL4Net-sub000/internal/client"
	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/prediction"
	"github.com/XL4Y3R/XL4Net-sub000/internal/sim"
)

type options struct {
	authAddr string
	gameAddr string
	bots     int
	duration time.Duration
	username string
	password string
	token    string
	tickRate int
}

func main() {
	var o options
	flag.StringVar(&o.authAddr, "auth", "127.0.0.1:2106", "auth gateway address")
	flag.StringVar(&o.gameAddr, "server", "127.0.0.1:7777", "game server address")
	flag.IntVar(&o.bots, "bots", 1, "number of concurrent bots")
	flag.DurationVar(&o.duration, "duration", 30*time.Second, "how long to run")
	flag.StringVar(&o.username, "username", "", "existing account to log in with (default: register throwaway accounts)")
	flag.StringVar(&o.password, "password", "", "password for -username")
	flag.StringVar(&o.token, "token", "", "raw token; skips the gateway entirely")
	flag.IntVar(&o.tickRate, "tick-rate", 30, "client tick rate, must match the server")
	flag.Parse()

	if o.bots < 1 {
		o.bots = 1
	}
	if o.tickRate < 1 {
		o.tickRate = 30
	}

	// Keep the log stream out of the way of the summary table.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	tokens, err := obtainTokens(ctx, o)
	if err != nil {
		return err
	}

	fmt.Printf("driving %d bot(s) against %s for %v\n", o.bots, o.gameAddr, o.duration)

	results := make([]botResult, o.bots)
	var wg sync.WaitGroup
	for i := range o.bots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runBot(ctx, i, o, tokens[i])
		}()
	}
	wg.Wait()

	printSummary(results)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
		}
	}
	if failed == len(results) {
		return fmt.Errorf("all %d bots failed", failed)
	}
	return nil
}

// obtainTokens resolves one auth token per bot: a raw -token is shared, a
// -username logs in once, otherwise every bot registers a throwaway account.
func obtainTokens(ctx context.Context, o options) ([]string, error) {
	out := make([]string, o.bots)

	if o.token != "" {
		for i := range out {
			out[i] = o.token
		}
		return out, nil
	}

	gw, err := auth.Dial(ctx, o.authAddr)
	if err != nil {
		return nil, fmt.Errorf("dialing auth gateway: %w", err)
	}
	defer gw.Close()

	if o.username != "" {
		res, err := gw.Login(auth.LoginRequest{Identifier: o.username, Password: o.password})
		if err != nil {
			return nil, fmt.Errorf("logging in: %w", err)
		}
		if !res.Success {
			return nil, fmt.Errorf("login rejected: %s", loginFailure(res))
		}
		for i := range out {
			out[i] = res.Token
		}
		return out, nil
	}

	nonce := rand.Uint32()
	pass := fmt.Sprintf("botpass-%08x", nonce)
	for i := range out {
		name := fmt.Sprintf("bot_%08x_%d", nonce, i)
		reg, err := gw.Register(auth.RegisterRequest{
			Username: name,
			Email:    name + "@xl4net.test",
			Password: pass,
			Confirm:  pass,
		})
		if err != nil {
			return nil, fmt.Errorf("registering %s: %w", name, err)
		}
		if !reg.Success {
			return nil, fmt.Errorf("registering %s: %s", name, reg.Reason)
		}
		res, err := gw.Login(auth.LoginRequest{Identifier: name, Password: pass})
		if err != nil {
			return nil, fmt.Errorf("logging in %s: %w", name, err)
		}
		if !res.Success {
			return nil, fmt.Errorf("login %s rejected: %s", name, loginFailure(res))
		}
		out[i] = res.Token
	}
	return out, nil
}

func loginFailure(res auth.LoginResult) string {
	if res.RateLimited {
		return res.Message
	}
	return res.Reason
}

type botResult struct {
	id      int
	connID  uint32
	ticks   int
	err     error
	metrics prediction.Metrics
	rtt     time.Duration
	sent    uint64
	recv    uint64
}

// runBot wanders one player until ctx or the deadline stops it: hold a
// random heading for a second or two, occasionally jump.
func runBot(ctx context.Context, id int, o options, token string) botResult {
	res := botResult{id: id}

	cfg := config.DefaultClient()
	cfg.TickRate = o.tickRate

	sess := client.NewSession(cfg, client.SessionHandlers{})
	defer sess.Close()

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := sess.Connect(cctx, o.gameAddr, token)
	cancel()
	if err != nil {
		res.err = fmt.Errorf("connecting: %w", err)
		return res
	}
	res.connID = sess.ConnectionID()

	collect := func() {
		res.metrics = sess.PredictionMetrics()
		res.rtt = sess.RTT()
		st := sess.TransportStats()
		res.sent = st.PacketsSent
		res.recv = st.PacketsReceived
	}

	ticker := time.NewTicker(time.Second / time.Duration(o.tickRate))
	defer ticker.Stop()
	deadline := time.NewTimer(o.duration)
	defer deadline.Stop()

	var move sim.Vector2
	hold := 0

	for {
		select {
		case <-ctx.Done():
			collect()
			return res
		case <-deadline.C:
			collect()
			return res
		case <-ticker.C:
			if hold == 0 {
				angle := rand.Float64() * 2 * math.Pi
				move = sim.Vector2{X: float32(math.Cos(angle)), Y: float32(math.Sin(angle))}
				hold = o.tickRate + rand.IntN(o.tickRate)
			}
			hold--

			var actions sim.ActionFlags
			if rand.IntN(100) < 2 {
				actions |= sim.ActionJump
			}

			if _, err := sess.Tick(move, 0, actions); err != nil {
				if errors.Is(err, prediction.ErrNotInitialized) {
					continue // spawn snapshot not here yet
				}
				res.err = fmt.Errorf("tick: %w", err)
				collect()
				return res
			}
			res.ticks++
		}
	}
}

func printSummary(results []botResult) {
	fmt.Println()
	fmt.Printf("%-4s %-8s %7s %8s %10s %9s %9s %10s %8s %8s\n",
		"bot", "conn", "ticks", "mispred", "reconciled", "discarded", "err(m)", "rtt", "sent", "recv")
	for _, r := range results {
		if r.err != nil {
			fmt.Printf("%-4d failed: %v\n", r.id, r.err)
			continue
		}
		m := r.metrics
		fmt.Printf("%-4d %-8d %7d %8d %10d %9d %9.4f %10v %8d %8d\n",
			r.id, r.connID, r.ticks, m.Mispredictions, m.Reconciliations,
			m.SnapshotsDiscarded, m.SmoothedPositionError, r.rtt.Round(time.Millisecond), r.sent, r.recv)
	}
}
