package maintenance

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
)

// DefaultMessage is shown when maintenance is enabled without a message
const DefaultMessage = "The store is undergoing maintenance. Please try again shortly."

// DefaultExemptPrefixes stay reachable during maintenance
var DefaultExemptPrefixes = []string{
	"/api/auth",
	"/api/admin",
	"/api/maintenance",
	"/healthz",
}

type MiddlewareConfig struct {
	Store          *Store
	ContextKey     string
	ExemptPrefixes []string
}

// New rejects requests with 503 while maintenance is enabled. Admin
// identities and exempt paths pass through. It must run after a
// middleware that resolves optional identities.
func New(cfg MiddlewareConfig) fiber.Handler {
	if cfg.Store == nil {
		panic("maintenance middleware: Store is required")
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = auth.DefaultContextKey
	}
	if cfg.ExemptPrefixes == nil {
		cfg.ExemptPrefixes = DefaultExemptPrefixes
	}

	return func(c *fiber.Ctx) error {
		if isExempt(c.Path(), cfg.ExemptPrefixes) {
			return c.Next()
		}

		state := cfg.Store.Get(c.UserContext())
		if !state.Enabled {
			return c.Next()
		}

		if identity, ok := auth.IdentityFromFiber(c, cfg.ContextKey); ok {
			if auth.UserRole(identity.Role()).IsAtLeast(auth.RoleAdmin) {
				return c.Next()
			}
		}

		message := state.Message
		if message == "" {
			message = DefaultMessage
		}

		return goerrors.New(message, auth.CategoryUnavailable).
			WithTextCode(auth.TextCodeMaintenanceMode)
	}
}

func isExempt(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, strings.TrimRight(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
