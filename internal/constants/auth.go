package constants

import "time"

// Auth Gateway Constants

// Credential Policy Constants
const (
	// BcryptCost is the bcrypt work factor for password hashing.
	BcryptCost = 12

	// UsernameMinLength is the minimum accepted username length.
	UsernameMinLength = 3

	// UsernameMaxLength is the maximum accepted username length.
	UsernameMaxLength = 50

	// PasswordMinLength is the minimum accepted password length.
	PasswordMinLength = 8

	// TokenSecretMinLength is the minimum accepted signing secret length in bytes.
	TokenSecretMinLength = 32
)

// Token Constants
const (
	// TokenLifetime is how long an issued token stays valid.
	TokenLifetime = 60 * time.Minute

	// TokenClockSkew is the accepted clock skew when validating exp/iat.
	TokenClockSkew = 5 * time.Minute

	// TokenIssuer is the iss claim on every issued token.
	TokenIssuer = "xl4net-auth"

	// TokenAudience is the aud claim on every issued token.
	TokenAudience = "xl4net-game"
)

// Rate Limit Constants
const (
	// RateLimitWindow is the sliding window over which login failures count.
	RateLimitWindow = 60 * time.Minute

	// RateLimitThreshold is the number of failures within RateLimitWindow that
	// locks further attempts from the source address.
	RateLimitThreshold = 5

	// AttemptRetention is how long login attempt rows are kept before the
	// purge job removes them.
	AttemptRetention = 7 * 24 * time.Hour
)
