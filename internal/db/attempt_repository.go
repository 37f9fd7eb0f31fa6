package db

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginAttempt is one row of the append-only login audit log. AccountID is
// nil when the attempted username did not resolve to an account.
type LoginAttempt struct {
	ID            uuid.UUID
	AccountID     *uuid.UUID
	SourceAddress netip.Addr
	Username      string
	Success       bool
	AttemptedAt   time.Time
}

// PostgresAttemptRepository implements the auth package's AttemptRepository
// against PostgreSQL. The rate limiter and the retention purge both read
// through it.
type PostgresAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAttemptRepository creates a repository on the given pool.
func NewPostgresAttemptRepository(pool *pgxpool.Pool) *PostgresAttemptRepository {
	return &PostgresAttemptRepository{pool: pool}
}

// Record appends one attempt.
func (r *PostgresAttemptRepository) Record(ctx context.Context, a *LoginAttempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO login_attempts (id, account_id, source_address, username, success, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.AccountID, a.SourceAddress, a.Username, a.Success, a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("recording login attempt from %s: %w", a.SourceAddress, err)
	}
	return nil
}

// CountFailuresSince returns the number of failed attempts from source at or
// after the given instant.
func (r *PostgresAttemptRepository) CountFailuresSince(ctx context.Context, source netip.Addr, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts
		 WHERE source_address = $1 AND success = false AND attempted_at >= $2`,
		source, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting failures for %s: %w", source, err)
	}
	return n, nil
}

// OldestFailureSince returns the timestamp of the oldest in-window failure
// from source. The zero time means no failure in the window.
func (r *PostgresAttemptRepository) OldestFailureSince(ctx context.Context, source netip.Addr, since time.Time) (time.Time, error) {
	var oldest *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MIN(attempted_at) FROM login_attempts
		 WHERE source_address = $1 AND success = false AND attempted_at >= $2`,
		source, since,
	).Scan(&oldest)
	if err != nil {
		return time.Time{}, fmt.Errorf("finding oldest failure for %s: %w", source, err)
	}
	if oldest == nil {
		return time.Time{}, nil
	}
	return *oldest, nil
}

// PurgeBefore deletes attempts older than cutoff and reports how many rows
// went away.
func (r *PostgresAttemptRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purging login attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
