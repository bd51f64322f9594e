package billing

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the authenticated caller, established by the application's
// auth middleware before requests reach the billing handlers. The user ID is
// never accepted as client input.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

type identityCtxKey struct{}

// WithIdentity attaches the authenticated caller to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok && id.UserID != uuid.Nil
}
