package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher is the default PasswordHasher.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher using cost, or the package default
// when cost is outside bcrypt's accepted range.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = passwordHashCost()
	}
	return BcryptHasher{Cost: cost}
}

// HashPassword will generate a password hash
func (h BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	cost := h.Cost
	if cost == 0 {
		cost = passwordHashCost()
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(out), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func (h BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// HashPassword hashes with the default BcryptHasher.
func HashPassword(password string) (string, error) {
	return BcryptHasher{}.HashPassword(password)
}

// ComparePasswordAndHash compares with the default BcryptHasher.
func ComparePasswordAndHash(password, hash string) error {
	return BcryptHasher{}.ComparePasswordAndHash(password, hash)
}
