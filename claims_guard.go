package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type protectedClaims struct {
	id             string
	subject        string
	issuer         string
	audience       []string
	issuedAt       time.Time
	notBefore      time.Time
	expiresAt      time.Time
	email          string
	organizationID string
	role           string
	kind           TokenKind
	issuedAtMicros int64
	extended       bool
}

func captureProtectedClaims(claims *TokenClaims) protectedClaims {
	return protectedClaims{
		id:             claims.ID,
		subject:        claims.Subject,
		issuer:         claims.Issuer,
		audience:       slices.Clone([]string(claims.Audience)),
		issuedAt:       numericTime(claims.RegisteredClaims.IssuedAt),
		notBefore:      numericTime(claims.NotBefore),
		expiresAt:      numericTime(claims.ExpiresAt),
		email:          claims.Email,
		organizationID: claims.OrganizationID,
		role:           claims.Role,
		kind:           claims.Kind,
		issuedAtMicros: claims.IssuedAtMicros,
		extended:       claims.Extended,
	}
}

func (p protectedClaims) validate(claims *TokenClaims) error {
	switch {
	case claims.ID != p.id:
		return protectedClaimViolation("jti")
	case claims.Subject != p.subject:
		return protectedClaimViolation("sub")
	case claims.Issuer != p.issuer:
		return protectedClaimViolation("iss")
	case !slices.Equal([]string(claims.Audience), p.audience):
		return protectedClaimViolation("aud")
	case !numericTime(claims.RegisteredClaims.IssuedAt).Equal(p.issuedAt):
		return protectedClaimViolation("iat")
	case !numericTime(claims.NotBefore).Equal(p.notBefore):
		return protectedClaimViolation("nbf")
	case !numericTime(claims.ExpiresAt).Equal(p.expiresAt):
		return protectedClaimViolation("exp")
	case claims.Email != p.email:
		return protectedClaimViolation("email")
	case claims.OrganizationID != p.organizationID:
		return protectedClaimViolation("org")
	case claims.Role != p.role:
		return protectedClaimViolation("role")
	case claims.Kind != p.kind:
		return protectedClaimViolation("token_type")
	case claims.IssuedAtMicros != p.issuedAtMicros:
		return protectedClaimViolation("iat_us")
	case claims.Extended != p.extended:
		return protectedClaimViolation("ext")
	}
	return nil
}

func numericTime(date *jwt.NumericDate) time.Time {
	if date == nil {
		return time.Time{}
	}
	return date.Time
}

func protectedClaimViolation(field string) error {
	clone := ErrProtectedClaimMutation.Clone()
	clone.Message = fmt.Sprintf("protected claim mutated: %s", field)
	return clone.WithMetadata(map[string]any{"claim": field})
}
