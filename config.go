package auth

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	DefaultVerificationTokenTTL = 24 * time.Hour
	DefaultPasswordResetTTL     = time.Hour
	DefaultPasswordHistoryDepth = 5
)

// Config holds the tunables of the Authenticator and TokenManager.
type Config struct {
	SigningKey         string        `json:"-"`
	SigningMethod      string        `json:"signing_method"`
	Issuer             string        `json:"issuer"`
	Audience           []string      `json:"audience"`
	AccessTokenTTL     time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `json:"refresh_token_ttl"`
	ExtendedRefreshTTL time.Duration `json:"extended_refresh_ttl"`
	RevokeOnRotate     bool          `json:"revoke_on_rotate"`

	LockoutThreshold    int           `json:"lockout_threshold"`
	LockoutBaseDuration time.Duration `json:"lockout_base_duration"`
	LockoutMultiplier   int           `json:"lockout_multiplier"`
	LockoutMaxDuration  time.Duration `json:"lockout_max_duration"`

	VerificationTokenTTL time.Duration `json:"verification_token_ttl"`
	PasswordResetTTL     time.Duration `json:"password_reset_ttl"`
	PasswordHistoryDepth int           `json:"password_history_depth"`
	BcryptCost           int           `json:"bcrypt_cost"`
	SideEffectTimeout    time.Duration `json:"side_effect_timeout"`
}

// DefaultConfig returns a Config with every default applied. SigningKey is
// left empty and must be provided.
func DefaultConfig() Config {
	return Config{
		SigningMethod:        "HS256",
		AccessTokenTTL:       DefaultAccessTokenTTL,
		RefreshTokenTTL:      DefaultRefreshTokenTTL,
		ExtendedRefreshTTL:   DefaultExtendedRefreshTTL,
		RevokeOnRotate:       true,
		LockoutThreshold:     DefaultLockoutThreshold,
		LockoutBaseDuration:  DefaultLockoutBaseDuration,
		LockoutMultiplier:    DefaultLockoutMultiplier,
		LockoutMaxDuration:   DefaultLockoutMaxDuration,
		VerificationTokenTTL: DefaultVerificationTokenTTL,
		PasswordResetTTL:     DefaultPasswordResetTTL,
		PasswordHistoryDepth: DefaultPasswordHistoryDepth,
		SideEffectTimeout:    DefaultSideEffectTimeout,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(MinSigningKeyLength, 0)),
		validation.Field(&c.SigningMethod, validation.Required, validation.In("HS256", "HS384", "HS512")),
		validation.Field(&c.LockoutThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.LockoutMultiplier, validation.Required, validation.Min(2)),
		validation.Field(&c.PasswordHistoryDepth, validation.Min(0)),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

// LockoutPolicy returns the lockout policy described by c.
func (c Config) LockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold:    c.LockoutThreshold,
		BaseDuration: c.LockoutBaseDuration,
		Multiplier:   c.LockoutMultiplier,
		MaxDuration:  c.LockoutMaxDuration,
	}.normalized()
}

// TokenConfig returns the TokenManager config described by c.
func (c Config) TokenConfig() TokenConfig {
	return TokenConfig{
		SigningKey:         []byte(c.SigningKey),
		SigningMethod:      c.SigningMethod,
		Issuer:             c.Issuer,
		Audience:           c.Audience,
		AccessTTL:          c.AccessTokenTTL,
		RefreshTTL:         c.RefreshTokenTTL,
		ExtendedRefreshTTL: c.ExtendedRefreshTTL,
		RevokeOnRotate:     c.RevokeOnRotate,
	}
}

// RevocationHorizon is the longest lifetime of any token issued under c.
// Subject cut-offs must be kept at least this long.
func (c Config) RevocationHorizon() time.Duration {
	horizon := durationOr(c.AccessTokenTTL, DefaultAccessTokenTTL)
	for _, ttl := range []time.Duration{
		durationOr(c.RefreshTokenTTL, DefaultRefreshTokenTTL),
		durationOr(c.ExtendedRefreshTTL, DefaultExtendedRefreshTTL),
	} {
		if ttl > horizon {
			horizon = ttl
		}
	}
	return horizon
}

func (c Config) verificationTTL() time.Duration {
	return durationOr(c.VerificationTokenTTL, DefaultVerificationTokenTTL)
}

func (c Config) resetTTL() time.Duration {
	return durationOr(c.PasswordResetTTL, DefaultPasswordResetTTL)
}
