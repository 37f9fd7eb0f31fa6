// Package auth implements the account gateway: registration, credential
// login, token issuance and validation, and the failed-attempt rate
// limiter. The game server never talks to this package over the network;
// it validates tokens locally through a shared TokenManager secret.
package auth

import "time"

// Failure reasons returned to clients. Login failures deliberately use a
// single string for both unknown accounts and wrong passwords so the
// response does not reveal which identifiers exist.
const (
	ReasonInvalidCredentials = "Invalid username or password"
	ReasonUsernameTaken      = "Username already taken"
	ReasonEmailRegistered    = "Email already registered"
	ReasonPasswordHash       = "Failed to process password"
	ReasonInternalError      = "Internal server error"

	ReasonTokenExpired       = "Token expired"
	ReasonTokenBadSignature  = "Invalid token signature"
	ReasonTokenBadFormat     = "Invalid token format"
	ReasonTokenMissingClaims = "Token missing required claims"
)

// RateLimitMessage is the user-visible text attached to throttled logins.
const RateLimitMessage = "Too many failed login attempts. Please try again later."

// RegisterResult is the outcome of an account registration. On failure
// Reason carries a user-presentable explanation.
type RegisterResult struct {
	Success   bool   `json:"success"`
	AccountID string `json:"account_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// LoginResult is the outcome of a credential login. Exactly one of
// Success, RateLimited or Reason describes what happened.
type LoginResult struct {
	Success           bool      `json:"success"`
	RateLimited       bool      `json:"rate_limited,omitempty"`
	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
	Message           string    `json:"message,omitempty"`
	Token             string    `json:"token,omitempty"`
	ExpiresAt         time.Time `json:"expires_at,omitzero"`
	UserID            string    `json:"user_id,omitempty"`
	Username          string    `json:"username,omitempty"`
	Reason            string    `json:"reason,omitempty"`
}

// ValidateResult is the outcome of a token validation.
type ValidateResult struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Reason    string    `json:"reason,omitempty"`
}
