package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/XL4Y3R/XL4Net-sub000/internal/auth"
	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/gameserver"
	"github.com/XL4Y3R/XL4Net-sub000/internal/metrics"
	"github.com/XL4Y3R/XL4Net-sub000/internal/transport"
)

const ConfigPath = "config/gameserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Configure slog
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	slog.Info("xl4net game server starting")

	// Load config
	cfgPath := ConfigPath
	if p := os.Getenv("XL4NET_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadGameServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded", "bind", cfg.ListenAddr(), "tick_rate", cfg.TickRate)

	// Tokens are verified locally against the secret shared with the auth
	// server; handshakes never block on the gateway.
	tokens, err := auth.NewTokenManager(cfg.TokenSecret, 0)
	if err != nil {
		return fmt.Errorf("creating token manager: %w", err)
	}

	reg := metrics.NewGameRegistry()
	world := gameserver.NewWorld(cfg, gameserver.WithWorldMetrics(reg))
	server := transport.NewServer(cfg.ListenAddr(), cfg.Transport, gameserver.NewTokenValidator(tokens), world.Handlers())
	world.Bind(server)
	registerTransportMetrics(reg, server)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("game transport: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting world loop")
		if err := world.Run(gctx); err != nil {
			return fmt.Errorf("world: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := metrics.Serve(gctx, cfg.MetricsAddr, reg.Handler()); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// registerTransportMetrics bridges the transport's atomic counters into the
// game registry.
func registerTransportMetrics(reg *metrics.GameRegistry, s *transport.Server) {
	reg.RegisterCounterFunc("xl4net_game_packets_sent_total", "Datagrams written to the socket.", func() float64 {
		return float64(s.Stats().PacketsSent)
	})
	reg.RegisterCounterFunc("xl4net_game_packets_received_total", "Datagrams read from the socket.", func() float64 {
		return float64(s.Stats().PacketsReceived)
	})
	reg.RegisterCounterFunc("xl4net_game_bytes_sent_total", "Bytes written to the socket.", func() float64 {
		return float64(s.Stats().BytesSent)
	})
	reg.RegisterCounterFunc("xl4net_game_bytes_received_total", "Bytes read from the socket.", func() float64 {
		return float64(s.Stats().BytesReceived)
	})
	reg.RegisterCounterFunc("xl4net_game_retransmits_total", "Reliable payload retransmissions.", func() float64 {
		return float64(s.Stats().Retransmits)
	})
	reg.RegisterCounterFunc("xl4net_game_events_dropped_total", "Inbound events dropped by the bounded queue.", func() float64 {
		return float64(s.Stats().EventsDropped)
	})
	reg.RegisterGaugeFunc("xl4net_game_transport_connections", "Live transport connections, including ones that have not joined the world yet.", func() float64 {
		return float64(s.ConnectionCount())
	})
	reg.RegisterGaugeFunc("xl4net_game_packet_pool_available", "Pooled packets ready to rent.", func() float64 {
		return float64(s.PacketPoolStats().Available)
	})
	reg.RegisterGaugeFunc("xl4net_game_packet_pool_leaks", "Packets rented and never returned.", func() float64 {
		return float64(s.PacketPoolStats().Leaks())
	})
	reg.RegisterGaugeFunc("xl4net_game_buffer_pool_leaks", "Buffers rented and never returned.", func() float64 {
		return float64(s.BufferPoolStats().Leaks())
	})
}
