package auth

import (
	"context"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/XL4Y3R/XL4Net-sub000/internal/db"
)

// AccountRepository is the account storage the gateway depends on.
// Lookups return (nil, nil) when no row matches.
type AccountRepository interface {
	GetByUsername(ctx context.Context, username string) (*db.Account, error)
	GetByEmail(ctx context.Context, email string) (*db.Account, error)
	Create(ctx context.Context, account *db.Account) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AttemptRepository is the login-attempt audit log the gateway records
// into and the rate limiter reads from.
type AttemptRepository interface {
	Record(ctx context.Context, attempt *db.LoginAttempt) error
	CountFailuresSince(ctx context.Context, source netip.Addr, since time.Time) (int, error)
	OldestFailureSince(ctx context.Context, source netip.Addr, since time.Time) (time.Time, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
