package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-guard"
	"github.com/goliatone/go-auth-guard/revocation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type tokenFixture struct {
	tokens      *auth.TokenManager
	accounts    *memAccounts
	revocations *revocation.Memory
	clock       *testClock
	account     *auth.Account
}

func newTokenFixture(t *testing.T, mutators ...func(*auth.TokenConfig)) *tokenFixture {
	t.Helper()

	clock := newTestClock(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	accounts := newMemAccounts()
	revocations := revocation.NewMemory().WithClock(clock.Now)

	cfg := testConfig().TokenConfig()
	for _, m := range mutators {
		m(&cfg)
	}

	tokens, err := auth.NewTokenManager(cfg, accounts, revocations, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)

	orgID := uuid.New()
	account := accounts.put(&auth.Account{
		ID:             uuid.New(),
		OrganizationID: &orgID,
		Email:          "jane@example.com",
		Role:           auth.RoleAdmin,
		FirstName:      "Jane",
		EmailVerified:  true,
		Active:         true,
	})

	return &tokenFixture{
		tokens:      tokens,
		accounts:    accounts,
		revocations: revocations,
		clock:       clock,
		account:     account,
	}
}

func (f *tokenFixture) update(fn func(*auth.Account)) {
	acc := f.accounts.get(f.account.ID)
	fn(acc)
	f.accounts.put(acc)
}

func TestTokenManagerIssueAndVerify(t *testing.T) {
	f := newTokenFixture(t)

	issued, err := f.tokens.Issue(f.account, auth.TokenKindAccess, false)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.TokenID)
	assert.Equal(t, f.clock.Now().Add(auth.DefaultAccessTokenTTL), issued.ExpiresAt)

	principal, err := f.tokens.Verify(context.Background(), issued.Token, auth.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, f.account.ID, principal.ID)
	assert.Equal(t, "jane@example.com", principal.Email)
	assert.Equal(t, f.account.OrganizationIDString(), principal.OrganizationID)
	assert.Equal(t, auth.RoleAdmin, principal.Role)
	assert.Equal(t, "Jane", principal.FirstName)
	assert.Equal(t, issued.TokenID, principal.TokenID)
}

func TestTokenManagerIssuePairTTLs(t *testing.T) {
	f := newTokenFixture(t)
	now := f.clock.Now()

	pair, err := f.tokens.IssuePair(f.account, false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, now.Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, now.Add(7*24*time.Hour), pair.RefreshExpiresAt)
	assert.NotEqual(t, pair.AccessTokenID, pair.RefreshTokenID)

	extended, err := f.tokens.IssuePair(f.account, true)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), extended.AccessExpiresAt)
	assert.Equal(t, now.Add(30*24*time.Hour), extended.RefreshExpiresAt)
}

func TestTokenManagerRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *tokenFixture) (string, auth.TokenKind)
	}{
		{
			name: "empty token",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				return "", auth.TokenKindAccess
			},
		},
		{
			name: "garbage",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				return "not.a.token", auth.TokenKindAccess
			},
		},
		{
			name: "tampered signature",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				issued := mustIssue(t, f, auth.TokenKindAccess)
				parts := strings.Split(issued.Token, ".")
				sig := []byte(parts[2])
				if sig[0] == 'A' {
					sig[0] = 'B'
				} else {
					sig[0] = 'A'
				}
				parts[2] = string(sig)
				return strings.Join(parts, "."), auth.TokenKindAccess
			},
		},
		{
			name: "alg none",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				claims := validClaims(f, auth.TokenKindAccess)
				raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return raw, auth.TokenKindAccess
			},
		},
		{
			name: "different allow-listed algorithm",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				claims := validClaims(f, auth.TokenKindAccess)
				raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSigningKey))
				require.NoError(t, err)
				return raw, auth.TokenKindAccess
			},
		},
		{
			name: "wrong key",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				claims := validClaims(f, auth.TokenKindAccess)
				raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("ffffffffffffffffffffffffffffffff"))
				require.NoError(t, err)
				return raw, auth.TokenKindAccess
			},
		},
		{
			name: "wrong issuer",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				claims := validClaims(f, auth.TokenKindAccess)
				claims.Issuer = "someone-else"
				raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
				require.NoError(t, err)
				return raw, auth.TokenKindAccess
			},
		},
		{
			name: "expired",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				issued := mustIssue(t, f, auth.TokenKindAccess)
				f.clock.Advance(16 * time.Minute)
				return issued.Token, auth.TokenKindAccess
			},
		},
		{
			name: "refresh token used as access token",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				return mustIssue(t, f, auth.TokenKindRefresh).Token, auth.TokenKindAccess
			},
		},
		{
			name: "revoked token id",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				issued := mustIssue(t, f, auth.TokenKindAccess)
				require.NoError(t, f.tokens.Revoke(context.Background(), issued.TokenID, time.Hour))
				return issued.Token, auth.TokenKindAccess
			},
		},
		{
			name: "account removed",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				issued := mustIssue(t, f, auth.TokenKindAccess)
				f.accounts.mu.Lock()
				delete(f.accounts.byID, f.account.ID)
				f.accounts.mu.Unlock()
				return issued.Token, auth.TokenKindAccess
			},
		},
		{
			name: "account inactive",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				issued := mustIssue(t, f, auth.TokenKindAccess)
				f.update(func(a *auth.Account) { a.Active = false })
				return issued.Token, auth.TokenKindAccess
			},
		},
		{
			name: "account locked",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				issued := mustIssue(t, f, auth.TokenKindAccess)
				until := f.clock.Now().Add(time.Hour)
				f.update(func(a *auth.Account) { a.LockedUntil = &until })
				return issued.Token, auth.TokenKindAccess
			},
		},
		{
			name: "email changed",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				issued := mustIssue(t, f, auth.TokenKindAccess)
				f.update(func(a *auth.Account) { a.Email = "jane.doe@example.com" })
				return issued.Token, auth.TokenKindAccess
			},
		},
		{
			name: "organization changed",
			setup: func(t *testing.T, f *tokenFixture) (string, auth.TokenKind) {
				issued := mustIssue(t, f, auth.TokenKindAccess)
				org := uuid.New()
				f.update(func(a *auth.Account) { a.OrganizationID = &org })
				return issued.Token, auth.TokenKindAccess
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTokenFixture(t)
			raw, kind := tt.setup(t, f)

			principal, err := f.tokens.Verify(ctx, raw, kind)
			require.Error(t, err)
			assert.Nil(t, principal)
			assert.True(t, auth.IsTokenInvalid(err), "expected generic token error, got %v", err)
			assert.Equal(t, auth.ErrTokenInvalid.Error(), err.Error())
		})
	}
}

func TestTokenManagerExpiredLockDoesNotRejectToken(t *testing.T) {
	f := newTokenFixture(t)
	issued := mustIssue(t, f, auth.TokenKindAccess)

	until := f.clock.Now().Add(time.Minute)
	f.update(func(a *auth.Account) { a.LockedUntil = &until })
	f.clock.Advance(2 * time.Minute)

	_, err := f.tokens.Verify(context.Background(), issued.Token, auth.TokenKindAccess)
	assert.NoError(t, err)
}

func TestTokenManagerRevokeAll(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	pair, err := f.tokens.IssuePair(f.account, false)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	require.NoError(t, f.tokens.RevokeAll(ctx, f.account.ID.String()))

	_, err = f.tokens.Verify(ctx, pair.AccessToken, auth.TokenKindAccess)
	assert.True(t, auth.IsTokenInvalid(err))
	_, err = f.tokens.Verify(ctx, pair.RefreshToken, auth.TokenKindRefresh)
	assert.True(t, auth.IsTokenInvalid(err))

	// issued in the same instant as the cut-off
	same := mustIssue(t, f, auth.TokenKindAccess)
	_, err = f.tokens.Verify(ctx, same.Token, auth.TokenKindAccess)
	assert.True(t, auth.IsTokenInvalid(err))

	f.clock.Advance(time.Millisecond)
	fresh := mustIssue(t, f, auth.TokenKindAccess)
	_, err = f.tokens.Verify(ctx, fresh.Token, auth.TokenKindAccess)
	assert.NoError(t, err)
}

func TestTokenManagerRefreshRotates(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	pair, err := f.tokens.IssuePair(f.account, true)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	next, principal, err := f.tokens.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, f.account.ID, principal.ID)
	assert.NotEqual(t, pair.RefreshTokenID, next.RefreshTokenID)
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), next.RefreshExpiresAt, "remember me carries over")

	_, _, err = f.tokens.Refresh(ctx, pair.RefreshToken)
	assert.True(t, auth.IsTokenInvalid(err), "rotated refresh token must be revoked")

	_, err = f.tokens.Verify(ctx, next.AccessToken, auth.TokenKindAccess)
	assert.NoError(t, err)
}

func TestTokenManagerConcurrentRefreshRotatesOnce(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	pair, err := f.tokens.IssuePair(f.account, false)
	require.NoError(t, err)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.tokens.Refresh(ctx, pair.RefreshToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, auth.IsTokenInvalid(err), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestTokenManagerRequiresEveryAudience(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, func(cfg *auth.TokenConfig) {
		cfg.Audience = []string{"authguard:api", "authguard:admin"}
	})

	issued := mustIssue(t, f, auth.TokenKindAccess)
	_, err := f.tokens.Verify(ctx, issued.Token, auth.TokenKindAccess)
	require.NoError(t, err)

	cfg := testConfig().TokenConfig()
	cfg.Audience = []string{"authguard:api", "authguard:billing"}
	other, err := auth.NewTokenManager(cfg, f.accounts, f.revocations, auth.WithTokenClock(f.clock.Now))
	require.NoError(t, err)

	_, err = other.Verify(ctx, issued.Token, auth.TokenKindAccess)
	assert.True(t, auth.IsTokenInvalid(err))
}

func TestTokenManagerRefreshWithoutRevokeOnRotate(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, func(cfg *auth.TokenConfig) { cfg.RevokeOnRotate = false })

	pair, err := f.tokens.IssuePair(f.account, false)
	require.NoError(t, err)

	_, _, err = f.tokens.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, _, err = f.tokens.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestTokenManagerRefreshRejectsAccessToken(t *testing.T) {
	f := newTokenFixture(t)
	access := mustIssue(t, f, auth.TokenKindAccess)

	_, _, err := f.tokens.Refresh(context.Background(), access.Token)
	assert.True(t, auth.IsTokenInvalid(err))
}

func TestTokenManagerRevokeTokenAcceptsExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	issued := mustIssue(t, f, auth.TokenKindAccess)

	f.clock.Advance(time.Hour)
	claims, err := f.tokens.RevokeToken(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.TokenID, claims.TokenID())

	revoked, err := f.revocations.IsRevoked(ctx, issued.TokenID)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = f.tokens.RevokeToken(ctx, "garbage")
	assert.True(t, auth.IsTokenInvalid(err))
}

func TestTokenManagerStoreErrorsAreNotTokenErrors(t *testing.T) {
	accounts := newMemAccounts()
	store := new(MockRevocationStore)
	store.On("IsRevoked", mock.Anything, mock.Anything).Return(false, errors.New("redis down"))

	tokens, err := auth.NewTokenManager(testConfig().TokenConfig(), accounts, store)
	require.NoError(t, err)

	account := accounts.put(&auth.Account{ID: uuid.New(), Email: "a@example.com", Role: auth.RoleMember, Active: true})
	issued, err := tokens.Issue(account, auth.TokenKindAccess, false)
	require.NoError(t, err)

	_, err = tokens.Verify(context.Background(), issued.Token, auth.TokenKindAccess)
	require.Error(t, err)
	assert.False(t, auth.IsTokenInvalid(err))
	assert.Contains(t, err.Error(), "revocation")
	store.AssertExpectations(t)
}

func TestNewTokenManagerValidation(t *testing.T) {
	accounts := newMemAccounts()
	store := revocation.NewMemory()

	tests := []struct {
		name   string
		mutate func(*auth.TokenConfig)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "short key",
			mutate: func(c *auth.TokenConfig) { c.SigningKey = []byte("too-short") },
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "at least 32 bytes")
			},
		},
		{
			name:   "asymmetric algorithm",
			mutate: func(c *auth.TokenConfig) { c.SigningMethod = "RS256" },
			check: func(t *testing.T, err error) {
				assert.Equal(t, auth.TextCodeUnsupportedSigning, auth.TextCode(err))
			},
		},
		{
			name:   "none algorithm",
			mutate: func(c *auth.TokenConfig) { c.SigningMethod = "none" },
			check: func(t *testing.T, err error) {
				assert.Equal(t, auth.TextCodeUnsupportedSigning, auth.TextCode(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig().TokenConfig()
			tt.mutate(&cfg)
			_, err := auth.NewTokenManager(cfg, accounts, store)
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	_, err := auth.NewTokenManager(testConfig().TokenConfig(), nil, store)
	assert.Error(t, err)
	_, err = auth.NewTokenManager(testConfig().TokenConfig(), accounts, nil)
	assert.Error(t, err)
}

func mustIssue(t *testing.T, f *tokenFixture, kind auth.TokenKind) *auth.IssuedToken {
	t.Helper()
	issued, err := f.tokens.Issue(f.account, kind, false)
	require.NoError(t, err)
	return issued
}

func validClaims(f *tokenFixture, kind auth.TokenKind) *auth.TokenClaims {
	now := f.clock.Now()
	return &auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    "authguard-test",
			Subject:   f.account.ID.String(),
			Audience:  jwt.ClaimStrings{"authguard:test"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:          f.account.Email,
		OrganizationID: f.account.OrganizationIDString(),
		Role:           string(f.account.Role),
		Kind:           kind,
		IssuedAtMicros: now.UnixMicro(),
	}
}
