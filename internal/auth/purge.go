package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
	"github.com/XL4Y3R/XL4Net-sub000/internal/metrics"
)

// PurgerOption is a functional option for Purger configuration.
type PurgerOption func(*Purger)

// WithPurgeMetrics attaches gateway collectors.
func WithPurgeMetrics(reg *metrics.AuthRegistry) PurgerOption {
	return func(p *Purger) {
		p.metrics = reg
	}
}

// Purger deletes login attempts past the retention window on a cron
// schedule. The attempt log is an audit trail, not history: only the
// rate-limit window needs recent rows.
type Purger struct {
	attempts  AttemptRepository
	retention time.Duration
	cron      *cron.Cron
	metrics   *metrics.AuthRegistry
}

// NewPurger schedules retention purges. An empty schedule means daily;
// non-positive retention falls back to the default.
func NewPurger(attempts AttemptRepository, schedule string, retention time.Duration, opts ...PurgerOption) (*Purger, error) {
	if schedule == "" {
		schedule = "@daily"
	}
	if retention <= 0 {
		retention = constants.AttemptRetention
	}

	p := &Purger{attempts: attempts, retention: retention}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("scheduling attempt purge %q: %w", schedule, err)
	}
	p.cron = c
	return p, nil
}

// Start begins running the schedule in its own goroutine.
func (p *Purger) Start() {
	p.cron.Start()
	slog.Info("attempt purge scheduled", "retention", p.retention)
}

// Stop halts the schedule and waits for a running purge to finish, up to
// the context deadline.
func (p *Purger) Stop(ctx context.Context) {
	stopped := p.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		slog.Warn("attempt purge stop timed out")
	}
}

func (p *Purger) run() {
	if err := p.PurgeOnce(context.Background()); err != nil {
		slog.Error("purging login attempts", "error", err)
	}
}

// PurgeOnce deletes attempts older than the retention cutoff.
func (p *Purger) PurgeOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-p.retention)
	purged, err := p.attempts.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging attempts before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if purged > 0 {
		if p.metrics != nil {
			p.metrics.AttemptsPurged.Add(float64(purged))
		}
		slog.Info("purged login attempts", "rows", purged, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
