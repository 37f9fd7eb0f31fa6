package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testAccount(username, email string) *Account {
	return &Account{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$12$abcdefghijklmnopqrstuv",
		Metadata:     []byte(`{"beta":true}`),
		CreatedAt:    time.Now().UTC(),
	}
}

// TestAccountRepository_CreateAndGet checks the round trip through both
// lookup columns.
func TestAccountRepository_CreateAndGet(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostgresAccountRepository(pool)
	ctx := context.Background()

	acc := testAccount("Alice_01", "alice@example.com")
	if err := repo.Create(ctx, acc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	byName, err := repo.GetByUsername(ctx, "Alice_01")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if byName == nil {
		t.Fatal("GetByUsername() = nil, want account")
	}
	if byName.ID != acc.ID || byName.Email != acc.Email || byName.PasswordHash != acc.PasswordHash {
		t.Errorf("GetByUsername() = %+v, want fields of %+v", byName, acc)
	}
	if string(byName.Metadata) != `{"beta":true}` {
		t.Errorf("metadata = %s, want original blob", byName.Metadata)
	}
	if byName.LastLogin != nil {
		t.Errorf("LastLogin = %v on a fresh account, want nil", byName.LastLogin)
	}

	byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if byEmail == nil || byEmail.ID != acc.ID {
		t.Errorf("GetByEmail() = %+v, want id %s", byEmail, acc.ID)
	}
}

// TestAccountRepository_Missing returns nil, nil rather than an error.
func TestAccountRepository_Missing(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostgresAccountRepository(pool)
	ctx := context.Background()

	acc, err := repo.GetByUsername(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if acc != nil {
		t.Errorf("GetByUsername() = %+v, want nil for missing account", acc)
	}

	acc, err = repo.GetByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if acc != nil {
		t.Errorf("GetByEmail() = %+v, want nil for missing account", acc)
	}
}

// TestAccountRepository_UniqueViolations surfaces duplicate usernames and
// emails as errors.
func TestAccountRepository_UniqueViolations(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostgresAccountRepository(pool)
	ctx := context.Background()

	if err := repo.Create(ctx, testAccount("bob", "bob@example.com")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testAccount("bob", "other@example.com")); err == nil {
		t.Error("duplicate username: Create() = nil, want error")
	}
	if err := repo.Create(ctx, testAccount("bob2", "bob@example.com")); err == nil {
		t.Error("duplicate email: Create() = nil, want error")
	}
}

// TestAccountRepository_UpdateLastLogin stamps the login timestamp.
func TestAccountRepository_UpdateLastLogin(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostgresAccountRepository(pool)
	ctx := context.Background()

	acc := testAccount("carol", "carol@example.com")
	if err := repo.Create(ctx, acc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stamp := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.UpdateLastLogin(ctx, acc.ID, stamp); err != nil {
		t.Fatalf("UpdateLastLogin() error = %v", err)
	}

	got, err := repo.GetByUsername(ctx, "carol")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if got.LastLogin == nil {
		t.Fatal("LastLogin = nil after update")
	}
	if !got.LastLogin.Equal(stamp) {
		t.Errorf("LastLogin = %v, want %v", got.LastLogin, stamp)
	}
}
