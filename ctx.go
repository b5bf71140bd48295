package auth

import "context"

var principalCtxKey = &contextKey{"principal"}
var requestCtxKey = &contextKey{"request"}

type contextKey struct {
	name string
}

// WithPrincipal sets the authenticated Principal in the given context
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, principal)
}

// PrincipalFromContext finds the principal from the context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	raw, ok := ctx.Value(principalCtxKey).(*Principal)
	return raw, ok && raw != nil
}

// WithRequestContext stores rc in ctx so transport layers can hand it down
// to code that only receives a context.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey, rc)
}

// RequestContextFrom returns the RequestContext stored in ctx, if any.
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	raw, ok := ctx.Value(requestCtxKey).(RequestContext)
	return raw, ok
}
