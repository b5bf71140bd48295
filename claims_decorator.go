package auth

// ClaimsDecorator may add extension data to a token before it is signed.
// Only TokenClaims.Metadata may change; every identity and registered claim
// is checked after decoration and a mutation fails the issuance.
type ClaimsDecorator interface {
	Decorate(account *Account, claims *TokenClaims) error
}

// ClaimsDecoratorFunc adapts a function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(account *Account, claims *TokenClaims) error

// Decorate satisfies the ClaimsDecorator interface.
func (f ClaimsDecoratorFunc) Decorate(account *Account, claims *TokenClaims) error {
	if f == nil {
		return nil
	}
	return f(account, claims)
}

// WithClaimsDecorator sets the decorator run on every issued token.
func WithClaimsDecorator(decorator ClaimsDecorator) TokenOption {
	return func(m *TokenManager) {
		m.decorator = decorator
	}
}

func (m *TokenManager) decorate(account *Account, claims *TokenClaims) error {
	if m.decorator == nil {
		return nil
	}

	snap := captureProtectedClaims(claims)
	if err := m.decorator.Decorate(account, claims); err != nil {
		return internalError(err, "claims decorator failed")
	}
	return snap.validate(claims)
}
