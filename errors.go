package auth

import (
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	TextCodeAccountLocked            = "ACCOUNT_LOCKED"
	TextCodeAccountInactive          = "ACCOUNT_INACTIVE"
	TextCodeAccountNotFound          = "ACCOUNT_NOT_FOUND"
	TextCodeTokenInvalid             = "TOKEN_INVALID"
	TextCodeDuplicateAccount         = "DUPLICATE_ACCOUNT"
	TextCodeValidationFailed         = "VALIDATION_FAILED"
	TextCodeVerificationTokenInvalid = "VERIFICATION_TOKEN_INVALID"
	TextCodeResetTokenInvalid        = "RESET_TOKEN_INVALID"
	TextCodePasswordReused           = "PASSWORD_REUSED"
	TextCodeEmptyPassword            = "EMPTY_PASSWORD"
	TextCodeConcurrentUpdate         = "CONCURRENT_UPDATE"
	TextCodeUnsupportedSigning       = "UNSUPPORTED_SIGNING_METHOD"
	TextCodeProtectedClaimMutation   = "PROTECTED_CLAIM_MUTATION"
)

// ErrInvalidCredentials covers unknown accounts and wrong passwords alike.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountLocked is the base error wrapped by AccountLockedError.
var ErrAccountLocked = goerrors.New("account is temporarily locked", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeAccountLocked).
	WithCode(goerrors.CodeForbidden)

// ErrAccountInactive is returned when a deactivated account authenticates.
var ErrAccountInactive = goerrors.New("account is inactive", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(goerrors.CodeForbidden)

// ErrAccountNotFound is only surfaced to privileged callers (unlock).
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTokenInvalid covers malformed, expired, revoked, mis-signed and stale tokens.
var ErrTokenInvalid = goerrors.New("invalid or expired credential", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrDuplicateAccount is returned when registering an email already in use.
var ErrDuplicateAccount = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateAccount).
	WithCode(goerrors.CodeConflict)

// ErrValidation is the base error for malformed input.
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrVerificationTokenInvalid is returned for unknown or expired email verification tokens.
var ErrVerificationTokenInvalid = goerrors.New("invalid or expired verification token", goerrors.CategoryValidation).
	WithTextCode(TextCodeVerificationTokenInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrResetTokenInvalid is returned for unknown or expired password reset tokens.
var ErrResetTokenInvalid = goerrors.New("invalid or expired password reset token", goerrors.CategoryValidation).
	WithTextCode(TextCodeResetTokenInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrPasswordReused is returned when a new password matches a recent one.
var ErrPasswordReused = goerrors.New("password was used recently", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordReused).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned by hashers when the password does not match.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrConcurrentUpdate is returned by stores when a save lost an optimistic lock race.
var ErrConcurrentUpdate = goerrors.New("account was modified concurrently", goerrors.CategoryConflict).
	WithTextCode(TextCodeConcurrentUpdate).
	WithCode(goerrors.CodeConflict)

// ErrUnsupportedSigningMethod is returned when the configured algorithm is not allow-listed.
var ErrUnsupportedSigningMethod = goerrors.New("unsupported token signing method", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnsupportedSigning).
	WithCode(goerrors.CodeInternal)

// ErrProtectedClaimMutation is returned when a ClaimsDecorator changes a protected claim.
var ErrProtectedClaimMutation = goerrors.New("protected claim mutated", goerrors.CategoryInternal).
	WithTextCode(TextCodeProtectedClaimMutation).
	WithCode(goerrors.CodeInternal)

// AccountLockedError carries the lock expiry for user messaging.
type AccountLockedError struct {
	LockedUntil  time.Time
	LockoutCount int
	err          *goerrors.Error
}

func newAccountLockedError(lockedUntil time.Time, lockoutCount int) *AccountLockedError {
	return &AccountLockedError{
		LockedUntil:  lockedUntil,
		LockoutCount: lockoutCount,
		err: ErrAccountLocked.Clone().WithMetadata(map[string]any{
			"locked_until":  lockedUntil,
			"lockout_count": lockoutCount,
		}),
	}
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("%s until %s", e.err.Error(), e.LockedUntil.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Unwrap() error {
	return e.err
}

// IsInvalidCredentials reports whether err is an invalid credentials error.
func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, TextCodeInvalidCredentials)
}

// IsAccountLocked reports whether err is an account locked error.
func IsAccountLocked(err error) bool {
	return hasTextCode(err, TextCodeAccountLocked)
}

// IsAccountInactive reports whether err is an account inactive error.
func IsAccountInactive(err error) bool {
	return hasTextCode(err, TextCodeAccountInactive)
}

// IsTokenInvalid reports whether err is a token rejection.
func IsTokenInvalid(err error) bool {
	return hasTextCode(err, TextCodeTokenInvalid)
}

// IsDuplicateAccount reports whether err is a registration conflict.
func IsDuplicateAccount(err error) bool {
	return hasTextCode(err, TextCodeDuplicateAccount)
}

// IsValidationError reports whether err is an input validation failure.
func IsValidationError(err error) bool {
	return hasTextCode(err, TextCodeValidationFailed)
}

// IsConcurrentUpdate reports whether err is an optimistic lock failure.
func IsConcurrentUpdate(err error) bool {
	return hasTextCode(err, TextCodeConcurrentUpdate)
}

// TextCode returns the text code of the first rich error in the chain.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return TextCode(err) == code
}

func validationError(err error) error {
	return goerrors.Wrap(err, ErrValidation.Category, ErrValidation.Message).
		WithTextCode(TextCodeValidationFailed).
		WithCode(goerrors.CodeBadRequest)
}

func internalError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsConcurrentUpdate(err) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
