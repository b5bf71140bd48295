package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherHashPassword(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.HashPassword(tt.password)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hash)

			cost, err := bcrypt.Cost([]byte(hash))
			require.NoError(t, err)
			assert.Equal(t, bcrypt.MinCost, cost)

			assert.NoError(t, hasher.ComparePasswordAndHash(tt.password, hash))
		})
	}
}

func TestBcryptHasherCompare(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.HashPassword("testPassword123!")
	require.NoError(t, err)

	err = hasher.ComparePasswordAndHash("wrongPassword", hash)
	require.Error(t, err)
	assert.True(t, auth.IsInvalidCredentials(err))

	err = hasher.ComparePasswordAndHash("testPassword123!", "not-a-bcrypt-hash")
	assert.Error(t, err)
	assert.False(t, auth.IsInvalidCredentials(err))
}

func TestNewBcryptHasherOutOfRangeCost(t *testing.T) {
	assert.NotEqual(t, 1, auth.NewBcryptHasher(1).Cost)
	assert.NotEqual(t, bcrypt.MaxCost+1, auth.NewBcryptHasher(bcrypt.MaxCost+1).Cost)
	assert.Equal(t, bcrypt.MinCost+1, auth.NewBcryptHasher(bcrypt.MinCost+1).Cost)
}

func TestCredentialVerifier(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.HashPassword("hunter2hunter2")
	require.NoError(t, err)

	verifier := auth.NewCredentialVerifier(hasher)
	assert.True(t, verifier.Verify("hunter2hunter2", hash))
	assert.False(t, verifier.Verify("hunter3hunter3", hash))
	assert.False(t, verifier.Verify("", hash))
	assert.False(t, verifier.Verify("hunter2hunter2", ""))
	assert.False(t, verifier.Verify("hunter2hunter2", "garbage"))
}
