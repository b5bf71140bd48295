package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	DefaultAccessTokenTTL     = 15 * time.Minute
	DefaultRefreshTokenTTL    = 7 * 24 * time.Hour
	DefaultExtendedRefreshTTL = 30 * 24 * time.Hour
	// MinSigningKeyLength is the minimum HMAC key length in bytes.
	MinSigningKeyLength = 32
)

var allowedSigningMethods = map[string]*jwt.SigningMethodHMAC{
	jwt.SigningMethodHS256.Alg(): jwt.SigningMethodHS256,
	jwt.SigningMethodHS384.Alg(): jwt.SigningMethodHS384,
	jwt.SigningMethodHS512.Alg(): jwt.SigningMethodHS512,
}

// TokenConfig configures the TokenManager.
type TokenConfig struct {
	SigningKey         []byte
	SigningMethod      string
	Issuer             string
	Audience           []string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	ExtendedRefreshTTL time.Duration
	// RevokeOnRotate revokes the presented refresh token when Refresh issues a new pair.
	RevokeOnRotate bool
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTokenLockoutPolicy sets the policy used to reject tokens of locked accounts.
func WithTokenLockoutPolicy(policy LockoutPolicy) TokenOption {
	return func(m *TokenManager) {
		m.lockout = policy
	}
}

// TokenManager issues, verifies, rotates and revokes signed tokens.
type TokenManager struct {
	signingKey         []byte
	method             *jwt.SigningMethodHMAC
	issuer             string
	audience           jwt.ClaimStrings
	accessTTL          time.Duration
	refreshTTL         time.Duration
	extendedRefreshTTL time.Duration
	revokeOnRotate     bool
	accounts           AccountFinder
	revocations        RevocationStore
	lockout            LockoutPolicy
	decorator          ClaimsDecorator
	now                func() time.Time
	logger             Logger
}

// NewTokenManager validates cfg and returns a TokenManager.
func NewTokenManager(cfg TokenConfig, accounts AccountFinder, revocations RevocationStore, opts ...TokenOption) (*TokenManager, error) {
	if accounts == nil {
		return nil, goerrors.New("account finder is required", goerrors.CategoryBadInput)
	}
	if revocations == nil {
		return nil, goerrors.New("revocation store is required", goerrors.CategoryBadInput)
	}
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, goerrors.New(
			fmt.Sprintf("signing key must be at least %d bytes", MinSigningKeyLength),
			goerrors.CategoryBadInput,
		)
	}

	alg := cfg.SigningMethod
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := allowedSigningMethods[alg]
	if !ok {
		return nil, ErrUnsupportedSigningMethod.Clone().WithMetadata(map[string]any{"alg": alg})
	}

	m := &TokenManager{
		signingKey:         append([]byte(nil), cfg.SigningKey...),
		method:             method,
		issuer:             cfg.Issuer,
		audience:           append(jwt.ClaimStrings(nil), cfg.Audience...),
		accessTTL:          durationOr(cfg.AccessTTL, DefaultAccessTokenTTL),
		refreshTTL:         durationOr(cfg.RefreshTTL, DefaultRefreshTokenTTL),
		extendedRefreshTTL: durationOr(cfg.ExtendedRefreshTTL, DefaultExtendedRefreshTTL),
		revokeOnRotate:     cfg.RevokeOnRotate,
		accounts:           accounts,
		revocations:        revocations,
		lockout:            DefaultLockoutPolicy(),
		now:                time.Now,
		logger:             defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m, nil
}

// Issue signs a token of kind for account with a fresh token id.
func (m *TokenManager) Issue(account *Account, kind TokenKind, rememberMe bool) (*IssuedToken, error) {
	if account == nil {
		return nil, goerrors.New("account is required", goerrors.CategoryBadInput)
	}

	now := m.now()
	ttl := m.ttl(kind, rememberMe)
	if ttl <= 0 {
		return nil, goerrors.New("unknown token kind", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": kind})
	}
	expiresAt := now.Add(ttl)

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   account.ID.String(),
			Audience:  m.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:          account.Email,
		OrganizationID: account.OrganizationIDString(),
		Role:           string(account.Role),
		Kind:           kind,
		IssuedAtMicros: now.UnixMicro(),
		Extended:       kind == TokenKindRefresh && rememberMe,
	}

	if err := m.decorate(account, claims); err != nil {
		return nil, err
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signingKey)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return &IssuedToken{
		Token:     signed,
		TokenID:   claims.ID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: claims.Expires(),
	}, nil
}

// IssuePair issues an access and a refresh token for account.
func (m *TokenManager) IssuePair(account *Account, rememberMe bool) (*TokenPair, error) {
	access, err := m.Issue(account, TokenKindAccess, false)
	if err != nil {
		return nil, err
	}

	refresh, err := m.Issue(account, TokenKindRefresh, rememberMe)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "Bearer",
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		AccessTokenID:    access.TokenID,
		RefreshTokenID:   refresh.TokenID,
	}, nil
}

// Verify validates raw as a token of kind and returns the live principal.
// Every rejection is ErrTokenInvalid; store failures are returned wrapped.
func (m *TokenManager) Verify(ctx context.Context, raw string, kind TokenKind) (*Principal, error) {
	account, claims, err := m.verify(ctx, raw, kind)
	if err != nil {
		return nil, err
	}

	principal := principalFromAccount(account)
	principal.TokenID = claims.TokenID()
	principal.ExpiresAt = claims.Expires()
	return principal, nil
}

// Refresh verifies a refresh token and rotates it into a new pair.
func (m *TokenManager) Refresh(ctx context.Context, raw string) (*TokenPair, *Principal, error) {
	account, claims, err := m.verify(ctx, raw, TokenKindRefresh)
	if err != nil {
		return nil, nil, err
	}

	// only the caller that consumes the token id gets a new pair
	if m.revokeOnRotate {
		consumed, err := m.revocations.Consume(ctx, claims.TokenID(), m.remaining(claims))
		if err != nil {
			return nil, nil, internalError(err, "failed to revoke rotated refresh token")
		}
		if !consumed {
			return nil, nil, m.reject("refresh token already rotated", "jti", claims.TokenID())
		}
	}

	pair, err := m.IssuePair(account, claims.Extended)
	if err != nil {
		return nil, nil, err
	}

	principal := principalFromAccount(account)
	principal.TokenID = pair.AccessTokenID
	principal.ExpiresAt = pair.AccessExpiresAt

	return pair, principal, nil
}

// Revoke adds tokenID to the revocation store until ttl elapses.
func (m *TokenManager) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = m.extendedRefreshTTL
	}
	if err := m.revocations.Revoke(ctx, tokenID, ttl); err != nil {
		return internalError(err, "failed to revoke token")
	}
	return nil
}

// RevokeToken revokes a raw token. The token must still carry a valid
// signature; expired tokens are accepted since they can not be used anyway.
func (m *TokenManager) RevokeToken(ctx context.Context, raw string) (*TokenClaims, error) {
	claims, err := m.parse(raw, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.TokenID() == "" {
		return nil, ErrTokenInvalid
	}
	if err := m.Revoke(ctx, claims.TokenID(), m.remaining(claims)); err != nil {
		return nil, err
	}
	return claims, nil
}

// RevokeAll rejects every token issued to subject up to now.
func (m *TokenManager) RevokeAll(ctx context.Context, subject string) error {
	if err := m.revocations.RevokeAllForSubject(ctx, subject, m.now()); err != nil {
		return internalError(err, "failed to revoke subject tokens")
	}
	return nil
}

// verify runs every check on raw and returns the live account it was
// issued to.
func (m *TokenManager) verify(ctx context.Context, raw string, kind TokenKind) (*Account, *TokenClaims, error) {
	if raw == "" {
		return nil, nil, m.reject("empty token")
	}

	claims, err := m.parse(raw,
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, nil, m.reject("parse failed", "error", err)
	}

	if claims.Kind != kind {
		return nil, nil, m.reject("token kind mismatch", "expected", kind, "got", claims.Kind)
	}

	if claims.TokenID() == "" {
		return nil, nil, m.reject("missing token id")
	}

	revoked, err := m.revocations.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		return nil, nil, internalError(err, "failed to check token revocation")
	}
	if revoked {
		return nil, nil, m.reject("token revoked", "jti", claims.TokenID())
	}

	cutoff, ok, err := m.revocations.RevokedSince(ctx, claims.Subject)
	if err != nil {
		return nil, nil, internalError(err, "failed to check subject revocation")
	}
	if ok && !claims.IssuedAt().After(cutoff) {
		return nil, nil, m.reject("token issued before subject revocation", "sub", claims.Subject)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, nil, m.reject("malformed subject")
	}

	account, err := m.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, nil, internalError(err, "failed to load account for token verification")
	}

	switch {
	case account == nil:
		return nil, nil, m.reject("account not found", "sub", claims.Subject)
	case !account.Active:
		return nil, nil, m.reject("account inactive", "sub", claims.Subject)
	case m.lockout.IsLocked(account, m.now()):
		return nil, nil, m.reject("account locked", "sub", claims.Subject)
	case account.Email != claims.Email:
		return nil, nil, m.reject("email changed since issue", "sub", claims.Subject)
	case account.OrganizationIDString() != claims.OrganizationID:
		return nil, nil, m.reject("organization changed since issue", "sub", claims.Subject)
	}

	return account, claims, nil
}

func (m *TokenManager) parse(raw string, extra ...jwt.ParserOption) (*TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{m.method.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if len(m.audience) > 0 {
		opts = append(opts, jwt.WithAudience(m.audience[0]))
	}
	opts = append(opts, extra...)

	token, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method == nil || t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, errors.New("unable to decode token claims")
	}

	// WithAudience checks a single value
	for _, aud := range m.audience {
		if !slices.Contains(claims.Audience, aud) {
			return nil, fmt.Errorf("token audience is missing %q", aud)
		}
	}

	return claims, nil
}

func (m *TokenManager) reject(reason string, args ...any) error {
	m.logger.Debug("token rejected: "+reason, args...)
	return ErrTokenInvalid
}

func (m *TokenManager) ttl(kind TokenKind, rememberMe bool) time.Duration {
	switch kind {
	case TokenKindAccess:
		return m.accessTTL
	case TokenKindRefresh:
		if rememberMe {
			return m.extendedRefreshTTL
		}
		return m.refreshTTL
	default:
		return 0
	}
}

func (m *TokenManager) remaining(claims *TokenClaims) time.Duration {
	left := claims.Expires().Sub(m.now())
	if left <= 0 {
		return time.Minute
	}
	return left
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
