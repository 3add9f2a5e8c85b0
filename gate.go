package auth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-storefront-auth/middleware/jwtware"
)

// Decision is the outcome of a successful authorization check
type Decision struct {
	Identity UserIdentity
	Claims   AuthClaims
}

// Gate is the single place where bearer credentials become identities.
// Every protected route goes through it.
type Gate struct {
	validator TokenValidator
	resolver  *IdentityResolver
	logger    Logger
}

// NewGate creates a gate from a token validator and an identity resolver
func NewGate(validator TokenValidator, resolver *IdentityResolver) *Gate {
	return &Gate{
		validator: validator,
		resolver:  resolver,
		logger:    defLogger{},
	}
}

func (g *Gate) WithLogger(logger Logger) *Gate {
	g.logger = normalizeLogger(logger)
	return g
}

// Authenticate verifies raw and resolves its identity. Missing, invalid,
// revoked and orphaned tokens all fail as Unauthenticated; the original
// cause stays reachable through IsError.
func (g *Gate) Authenticate(ctx context.Context, raw string) (*Decision, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := g.validator.Validate(raw)
	if err != nil {
		return nil, DeriveFrom(ErrUnauthenticated, err, "invalid or expired token")
	}

	identity, err := g.resolver.Resolve(ctx, claims)
	if err != nil {
		if goerrors.IsCategory(err, goerrors.CategoryInternal) {
			g.logger.Error("identity resolution failed", "error", err)
			return nil, err
		}
		g.logger.Debug("identity rejected", "subject", claims.Subject(), "error", err)
		return nil, DeriveFrom(ErrUnauthenticated, err, "invalid or expired token")
	}

	return &Decision{Identity: identity, Claims: claims}, nil
}

// RequireRole authenticates raw and checks the resolved role against
// role. A valid identity lacking the role fails with Forbidden, never
// Unauthenticated.
func (g *Gate) RequireRole(ctx context.Context, raw string, role UserRole) (*Decision, error) {
	decision, err := g.Authenticate(ctx, raw)
	if err != nil {
		return nil, err
	}

	if err := Authorize(decision.Identity, role); err != nil {
		g.logger.Info("authorization denied",
			"subject", decision.Identity.ID(),
			"role", decision.Identity.Role(),
			"required", role,
		)
		return nil, err
	}

	return decision, nil
}

// Authorize adapts RequireRole to the jwtware middleware
func (g *Gate) Authorize(ctx context.Context, raw string, role string) (jwtware.Identity, error) {
	decision, err := g.RequireRole(ctx, raw, UserRole(role))
	if err != nil {
		return nil, err
	}
	return decision.Identity, nil
}

// Authorize checks an already resolved identity against a role requirement
func Authorize(identity Identity, role UserRole) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	if role == "" {
		return nil
	}
	if !UserRole(identity.Role()).IsAtLeast(role) {
		return ErrForbidden.Clone().WithMetadata(map[string]any{"required_role": string(role)})
	}
	return nil
}
