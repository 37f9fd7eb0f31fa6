package gameserver

import (
	"context"
	"errors"

	"github.com/XL4Y3R/XL4Net-sub000/internal/auth"
	"github.com/XL4Y3R/XL4Net-sub000/internal/transport"
)

// TokenValidator adapts the shared-secret token manager to the
// transport's handshake hook. Checks are local HMAC verification; the
// handshake never waits on the gateway.
type TokenValidator struct {
	tokens *auth.TokenManager
}

// NewTokenValidator wraps a token manager built from the same secret the
// gateway signs with.
func NewTokenValidator(tokens *auth.TokenManager) *TokenValidator {
	return &TokenValidator{tokens: tokens}
}

// Validate implements transport.TokenValidator.
func (v *TokenValidator) Validate(_ context.Context, token string) (transport.TokenInfo, error) {
	res := v.tokens.Validate(token)
	if !res.Valid {
		return transport.TokenInfo{}, errors.New(res.Reason)
	}
	return transport.TokenInfo{UserID: res.UserID, Username: res.Username}, nil
}
