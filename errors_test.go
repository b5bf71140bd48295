package auth_test

import (
	"errors"
	"fmt"
	"testing"

	auth "github.com/goliatone/go-auth-guard"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  string
	}{
		{"invalid credentials", auth.ErrInvalidCredentials, auth.IsInvalidCredentials, auth.TextCodeInvalidCredentials},
		{"hash mismatch reads as invalid credentials", auth.ErrMismatchedHashAndPassword, auth.IsInvalidCredentials, auth.TextCodeInvalidCredentials},
		{"locked", auth.ErrAccountLocked, auth.IsAccountLocked, auth.TextCodeAccountLocked},
		{"inactive", auth.ErrAccountInactive, auth.IsAccountInactive, auth.TextCodeAccountInactive},
		{"token", auth.ErrTokenInvalid, auth.IsTokenInvalid, auth.TextCodeTokenInvalid},
		{"duplicate", auth.ErrDuplicateAccount, auth.IsDuplicateAccount, auth.TextCodeDuplicateAccount},
		{"validation", auth.ErrValidation, auth.IsValidationError, auth.TextCodeValidationFailed},
		{"concurrent update", auth.ErrConcurrentUpdate, auth.IsConcurrentUpdate, auth.TextCodeConcurrentUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.Equal(t, tt.code, auth.TextCode(tt.err))
		})
	}
}

func TestErrorPredicatesRejectForeignErrors(t *testing.T) {
	plain := errors.New("the credentials provided are invalid")

	assert.False(t, auth.IsInvalidCredentials(plain))
	assert.False(t, auth.IsInvalidCredentials(nil))
	assert.False(t, auth.IsTokenInvalid(auth.ErrInvalidCredentials))
	assert.Empty(t, auth.TextCode(plain))
}

func TestErrorCategories(t *testing.T) {
	assert.Equal(t, goerrors.CategoryAuth, auth.ErrInvalidCredentials.Category)
	assert.Equal(t, goerrors.CategoryRateLimit, auth.ErrAccountLocked.Category)
	assert.Equal(t, goerrors.CategoryConflict, auth.ErrDuplicateAccount.Category)
	assert.Equal(t, goerrors.CategoryValidation, auth.ErrPasswordReused.Category)
	assert.Equal(t, goerrors.CategoryAuth, auth.ErrTokenInvalid.Category)
}
