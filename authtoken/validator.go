package authtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("signing secret is required")
)

// Claims represents the custom claims in the JWT token. The layout follows
// what Supabase-style auth services mint: registered claims plus email and
// role.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ParsedClaims represents parsed and validated claims
type ParsedClaims struct {
	Sub       string
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Config holds configuration for Validator
type Config struct {
	// Secret is the shared HMAC signing secret
	Secret string

	// Issuer, when set, must match the token's iss claim exactly
	Issuer string

	// Leeway tolerates small clock skew between the issuer and this
	// process when checking expiry
	Leeway time.Duration
}

// Validator validates HS256 JWT tokens signed with a shared secret
type Validator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewValidator creates a new shared-secret JWT validator
func NewValidator(config Config) (*Validator, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}

	return &Validator{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		leeway: config.Leeway,
	}, nil
}

// ValidateToken validates a JWT token and returns parsed claims. The
// context is accepted for interface symmetry; shared-secret validation
// does no I/O.
func (v *Validator) ValidateToken(_ context.Context, tokenString string) (*ParsedClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Verify issuer when one is configured
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}

	// The subject is the CRM user ID; a token without one is useless
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	// Tokens must expire; jwt only validates exp when present
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}

	parsed := &ParsedClaims{
		Sub:       claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}

	return parsed, nil
}
