package auth

// CredentialVerifier checks a cleartext password against a stored hash.
type CredentialVerifier struct {
	hasher PasswordHasher
}

// NewCredentialVerifier wraps hasher. A nil hasher falls back to bcrypt.
func NewCredentialVerifier(hasher PasswordHasher) *CredentialVerifier {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &CredentialVerifier{hasher: hasher}
}

// Verify reports whether password matches storedHash. Mismatches and
// hasher failures both yield false.
func (v *CredentialVerifier) Verify(password, storedHash string) bool {
	if password == "" || storedHash == "" {
		return false
	}
	return v.hasher.ComparePasswordAndHash(password, storedHash) == nil
}
