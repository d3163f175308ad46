package session

import (
	"context"

	authdomain "authgate/internal/auth/domain"
)

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// WithPrincipal returns a context carrying the authenticated principal.
// Handlers and the rbac middleware read it via FromContext.
func WithPrincipal(ctx context.Context, p *authdomain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal from ctx and true if set; otherwise nil, false.
func FromContext(ctx context.Context) (*authdomain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*authdomain.Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}
