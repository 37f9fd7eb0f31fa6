package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Account is one row of the accounts table. Metadata carries the free-form
// JSON blob; LastLogin is nil until the first successful login.
type Account struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	Metadata     []byte
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// PostgresAccountRepository implements the auth package's AccountRepository
// against PostgreSQL.
type PostgresAccountRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAccountRepository creates a repository on the given pool.
func NewPostgresAccountRepository(pool *pgxpool.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

// GetByUsername returns the account with the given username.
// Returns nil, nil if no such account exists.
func (r *PostgresAccountRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return r.getBy(ctx, "username", username)
}

// GetByEmail returns the account with the given email.
// Returns nil, nil if no such account exists.
func (r *PostgresAccountRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.getBy(ctx, "email", email)
}

func (r *PostgresAccountRepository) getBy(ctx context.Context, column, value string) (*Account, error) {
	var acc Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, metadata, created_at, last_login
		 FROM accounts WHERE `+column+` = $1`, value,
	).Scan(&acc.ID, &acc.Username, &acc.Email, &acc.PasswordHash, &acc.Metadata, &acc.CreatedAt, &acc.LastLogin)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying account by %s: %w", column, err)
	}
	return &acc, nil
}

// Create inserts a new account. Uniqueness violations surface as errors; the
// caller decides how to phrase them.
func (r *PostgresAccountRepository) Create(ctx context.Context, acc *Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		acc.ID, acc.Username, acc.Email, acc.PasswordHash, acc.Metadata, acc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating account %q: %w", acc.Username, err)
	}
	return nil
}

// UpdateLastLogin stamps last_login on successful login.
func (r *PostgresAccountRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_login = $1 WHERE id = $2`, at, id,
	)
	if err != nil {
		return fmt.Errorf("updating last login for %s: %w", id, err)
	}
	return nil
}
