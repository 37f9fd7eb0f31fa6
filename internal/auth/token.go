package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
)

// ErrSecretTooShort is returned when the signing secret does not meet the
// minimum length for HS256.
var ErrSecretTooShort = errors.New("token secret too short")

// TokenClaims is the claim set carried by issued tokens. Subject holds the
// account ID.
type TokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256-signed tokens. Validation is
// pure computation over the shared secret, so the game server embeds a
// TokenManager directly instead of calling the gateway.
type TokenManager struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenManager builds a manager from the shared signing secret. A
// non-positive lifetime falls back to the default token lifetime.
func NewTokenManager(secret string, lifetime time.Duration) (*TokenManager, error) {
	if len(secret) < constants.TokenSecretMinLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrSecretTooShort, constants.TokenSecretMinLength, len(secret))
	}
	if lifetime <= 0 {
		lifetime = constants.TokenLifetime
	}
	return &TokenManager{secret: []byte(secret), lifetime: lifetime}, nil
}

// Issue signs a token for the given account. The returned expiry is the
// exp claim embedded in the token.
func (m *TokenManager) Issue(accountID, username string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(m.lifetime)
	claims := &TokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.NewString(),
			Issuer:    constants.TokenIssuer,
			Audience:  jwt.ClaimStrings{constants.TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

// Validate checks signature, expiry (with clock-skew leeway), issuer and
// audience, and extracts the account identity. It never reports why a
// token failed beyond the user-presentable reason.
func (m *TokenManager) Validate(token string) ValidateResult {
	var claims TokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(constants.TokenClockSkew),
		jwt.WithIssuer(constants.TokenIssuer),
		jwt.WithAudience(constants.TokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return ValidateResult{Reason: tokenFailureReason(err)}
	}
	if claims.Subject == "" || claims.Username == "" {
		return ValidateResult{Reason: ReasonTokenMissingClaims}
	}
	return ValidateResult{
		Valid:     true,
		UserID:    claims.Subject,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonTokenBadFormat
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonTokenBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ReasonTokenMissingClaims
	default:
		return ReasonTokenBadFormat
	}
}
