package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
	"github.com/XL4Y3R/XL4Net-sub000/internal/db"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Service implements the gateway operations over the account and attempt
// stores. All methods return user-presentable results; storage failures
// are logged here and surfaced as a generic internal error.
type Service struct {
	accounts AccountRepository
	attempts AttemptRepository
	tokens   *TokenManager
	limiter  *RateLimiter
	cost     int
}

// NewService wires the gateway service. A non-positive bcrypt cost falls
// back to the default.
func NewService(accounts AccountRepository, attempts AttemptRepository, tokens *TokenManager, limiter *RateLimiter, bcryptCost int) *Service {
	if bcryptCost <= 0 {
		bcryptCost = constants.BcryptCost
	}
	return &Service{
		accounts: accounts,
		attempts: attempts,
		tokens:   tokens,
		limiter:  limiter,
		cost:     bcryptCost,
	}
}

// Register creates a new account after validating the submitted fields
// and checking username and email uniqueness.
func (s *Service) Register(ctx context.Context, username, email, password, confirm string) RegisterResult {
	if reason := validateRegistration(username, email, password, confirm); reason != "" {
		return RegisterResult{Reason: reason}
	}

	existing, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		slog.Error("looking up username during registration", "error", err)
		return RegisterResult{Reason: ReasonInternalError}
	}
	if existing != nil {
		return RegisterResult{Reason: ReasonUsernameTaken}
	}

	existing, err = s.accounts.GetByEmail(ctx, email)
	if err != nil {
		slog.Error("looking up email during registration", "error", err)
		return RegisterResult{Reason: ReasonInternalError}
	}
	if existing != nil {
		return RegisterResult{Reason: ReasonEmailRegistered}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		slog.Error("hashing password", "error", err)
		return RegisterResult{Reason: ReasonPasswordHash}
	}

	account := &db.Account{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		slog.Error("creating account", "username", username, "error", err)
		return RegisterResult{Reason: ReasonInternalError}
	}

	slog.Info("account registered", "username", username, "account_id", account.ID)
	return RegisterResult{Success: true, AccountID: account.ID.String(), Username: username}
}

func validateRegistration(username, email, password, confirm string) string {
	if len(username) < constants.UsernameMinLength || len(username) > constants.UsernameMaxLength {
		return fmt.Sprintf("Username must be between %d and %d characters",
			constants.UsernameMinLength, constants.UsernameMaxLength)
	}
	if !usernamePattern.MatchString(username) {
		return "Username may only contain letters, digits and underscores"
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "Invalid email address"
	}
	if len(password) < constants.PasswordMinLength {
		return fmt.Sprintf("Password must be at least %d characters", constants.PasswordMinLength)
	}
	if password != confirm {
		return "Passwords do not match"
	}
	return ""
}

// Login authenticates by username or email (identifiers containing "@"
// are treated as emails) and issues a session token. Unknown accounts and
// wrong passwords produce the same failure reason. Every attempt that
// reaches credential checking is recorded for the rate limiter.
func (s *Service) Login(ctx context.Context, identifier, password string, source netip.Addr) LoginResult {
	if identifier == "" || password == "" {
		return LoginResult{Reason: ReasonInvalidCredentials}
	}
	if !source.IsValid() {
		slog.Error("login request without source address", "identifier", identifier)
		return LoginResult{Reason: ReasonInternalError}
	}

	allowed, retryAfter := s.limiter.Allow(ctx, source)
	if !allowed {
		return LoginResult{
			RateLimited:       true,
			RetryAfterSeconds: ceilSeconds(retryAfter),
			Message:           RateLimitMessage,
		}
	}

	var (
		account *db.Account
		err     error
	)
	if strings.Contains(identifier, "@") {
		account, err = s.accounts.GetByEmail(ctx, identifier)
	} else {
		account, err = s.accounts.GetByUsername(ctx, identifier)
	}
	if err != nil {
		slog.Error("looking up account during login", "error", err)
		return LoginResult{Reason: ReasonInternalError}
	}
	if account == nil {
		s.recordAttempt(ctx, nil, identifier, source, false)
		return LoginResult{Reason: ReasonInvalidCredentials}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		s.recordAttempt(ctx, &account.ID, account.Username, source, false)
		return LoginResult{Reason: ReasonInvalidCredentials}
	}

	token, expires, err := s.tokens.Issue(account.ID.String(), account.Username)
	if err != nil {
		slog.Error("issuing token", "account_id", account.ID, "error", err)
		return LoginResult{Reason: ReasonInternalError}
	}

	if err := s.accounts.UpdateLastLogin(ctx, account.ID, time.Now().UTC()); err != nil {
		slog.Error("updating last login", "account_id", account.ID, "error", err)
	}
	s.recordAttempt(ctx, &account.ID, account.Username, source, true)

	slog.Info("login succeeded", "username", account.Username, "source", source)
	return LoginResult{
		Success:   true,
		Token:     token,
		ExpiresAt: expires,
		UserID:    account.ID.String(),
		Username:  account.Username,
	}
}

// ValidateToken checks a token against the shared secret. No storage is
// consulted.
func (s *Service) ValidateToken(token string) ValidateResult {
	return s.tokens.Validate(token)
}

// recordAttempt appends to the audit log. Failures are logged, not
// returned: losing one audit row must not fail the login itself.
func (s *Service) recordAttempt(ctx context.Context, accountID *uuid.UUID, username string, source netip.Addr, success bool) {
	if len(username) > constants.UsernameMaxLength {
		username = username[:constants.UsernameMaxLength]
	}
	attempt := &db.LoginAttempt{
		ID:            uuid.New(),
		AccountID:     accountID,
		SourceAddress: source,
		Username:      username,
		Success:       success,
		AttemptedAt:   time.Now().UTC(),
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		slog.Error("recording login attempt", "source", source, "error", err)
	}
}

func ceilSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
