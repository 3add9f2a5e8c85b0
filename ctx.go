package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

var identityCtxKey = &contextKey{"identity"}

type contextKey struct {
	name string
}

// DefaultContextKey is the fiber Locals key the gate stores identities under
const DefaultContextKey = "user"

// WithIdentity sets the resolved identity in the given context
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext finds the identity in the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(Identity)
	return raw, ok && raw != nil
}

// IdentityFromFiber finds the identity stored by the gate middleware
func IdentityFromFiber(c *fiber.Ctx, key ...string) (UserIdentity, bool) {
	k := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	raw := c.Locals(k)
	if raw == nil {
		return UserIdentity{}, false
	}
	identity, ok := raw.(UserIdentity)
	return identity, ok
}

// MustIdentity returns the identity or an Unauthenticated error
func MustIdentity(c *fiber.Ctx, key ...string) (UserIdentity, error) {
	identity, ok := IdentityFromFiber(c, key...)
	if !ok {
		return UserIdentity{}, ErrUnauthenticated
	}
	return identity, nil
}
