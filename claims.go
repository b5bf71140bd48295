package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes access from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims is the signed token payload.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email          string    `json:"email"`
	OrganizationID string    `json:"org,omitempty"`
	Role           string    `json:"role"`
	Kind           TokenKind `json:"token_type"`
	// IssuedAtMicros is the sub-second issuance time used by per-subject revocation cut-offs.
	IssuedAtMicros int64 `json:"iat_us"`
	Extended       bool  `json:"ext,omitempty"`
	// Metadata is the only claim a ClaimsDecorator may set.
	Metadata map[string]any `json:"meta,omitempty"`
}

// TokenID returns the jti claim
func (c *TokenClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time with microsecond precision when available.
func (c *TokenClaims) IssuedAt() time.Time {
	if c.IssuedAtMicros > 0 {
		return time.UnixMicro(c.IssuedAtMicros)
	}
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// Principal is the normalized identity returned by a verified token.
type Principal struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Role           UserRole   `json:"role"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	EmailVerified  bool       `json:"email_verified"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	TokenID        string     `json:"-"`
	ExpiresAt      time.Time  `json:"-"`
}

// IsAtLeast reports whether the principal's role meets minRole.
func (p *Principal) IsAtLeast(minRole UserRole) bool {
	return p != nil && p.Role.IsAtLeast(minRole)
}

func principalFromAccount(account *Account) *Principal {
	return &Principal{
		ID:             account.ID,
		Email:          account.Email,
		OrganizationID: account.OrganizationIDString(),
		Role:           account.Role,
		FirstName:      account.FirstName,
		LastName:       account.LastName,
		EmailVerified:  account.EmailVerified,
		LastLoginAt:    account.LastLoginAt,
	}
}

// IssuedToken is a signed token and its identifying claims.
type IssuedToken struct {
	Token     string
	TokenID   string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is the access/refresh pair handed to clients.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	AccessTokenID    string    `json:"-"`
	RefreshTokenID   string    `json:"-"`
}
