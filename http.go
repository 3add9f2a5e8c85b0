package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-storefront-auth/middleware/jwtware"
)

// ErrorBody is the JSON error envelope every endpoint returns
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// RouteAuthenticator builds the fiber middleware that puts routes
// behind the Gate, and manages the session cookie.
type RouteAuthenticator struct {
	gate   *Gate
	cfg    Config
	logger Logger
}

func NewRouteAuthenticator(gate *Gate, cfg Config) *RouteAuthenticator {
	return &RouteAuthenticator{
		gate:   gate,
		cfg:    cfg,
		logger: defLogger{},
	}
}

func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	a.logger = normalizeLogger(logger)
	return a
}

// ProtectedRoute requires a valid token and, when given, a minimum role.
func (a *RouteAuthenticator) ProtectedRoute(role ...UserRole) fiber.Handler {
	required := ""
	if len(role) > 0 {
		required = string(role[0])
	}
	return jwtware.New(a.middlewareConfig(required, false))
}

// OptionalRoute resolves a token when present and lets anonymous
// requests through.
func (a *RouteAuthenticator) OptionalRoute() fiber.Handler {
	return jwtware.New(a.middlewareConfig("", true))
}

func (a *RouteAuthenticator) middlewareConfig(role string, optional bool) jwtware.Config {
	return jwtware.Config{
		Authorizer:   a.gate,
		RequiredRole: role,
		Optional:     optional,
		ContextKey:   a.contextKey(),
		TokenLookup:  a.cfg.GetTokenLookup(),
		AuthScheme:   a.cfg.GetAuthScheme(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				return ErrUnauthenticated
			}
			return err
		},
		ContextEnricher: func(ctx context.Context, identity jwtware.Identity) context.Context {
			if ui, ok := identity.(UserIdentity); ok {
				return WithIdentity(ctx, ui)
			}
			return ctx
		},
	}
}

func (a *RouteAuthenticator) contextKey() string {
	if key := a.cfg.GetContextKey(); key != "" {
		return key
	}
	return DefaultContextKey
}

// Identity returns the identity the middleware stored on the request
func (a *RouteAuthenticator) Identity(c *fiber.Ctx) (UserIdentity, error) {
	return MustIdentity(c, a.contextKey())
}

func (a *RouteAuthenticator) setCookieToken(c *fiber.Ctx, val string) {
	if a.cfg.GetCookieName() == "" {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetCookieName(),
		Value:    val,
		Path:     "/",
		Expires:  time.Now().Add(TokenLifetime),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *RouteAuthenticator) cookieDel(c *fiber.Ctx) {
	if a.cfg.GetCookieName() == "" {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetCookieName(),
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ErrorHandler renders every error returned by a handler as an
// ErrorBody. Internal errors are logged and replaced by a generic message.
func ErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)
	return func(c *fiber.Ctx, err error) error {
		richErr := toRichError(err)
		status := HTTPStatus(richErr)

		if richErr.Category == goerrors.CategoryInternal {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"error", err,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
		} else {
			logger.Debug("request rejected",
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"error", richErr.Message,
			)
		}

		body := ErrorBody{Error: ErrorDetail{
			Code:    richErr.TextCode,
			Message: PublicMessage(richErr),
		}}
		if richErr.Category == goerrors.CategoryValidation {
			if fields := richErr.ValidationMap(); len(fields) > 0 {
				body.Error.Fields = fields
			}
		}
		if body.Error.Code == "" {
			body.Error.Code = textCodeForCategory(richErr.Category)
		}

		return c.Status(status).JSON(body)
	}
}

func toRichError(err error) *goerrors.Error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch {
		case fe.Code == fiber.StatusNotFound:
			return Derive(ErrNotFound, fe.Message)
		case fe.Code == fiber.StatusMethodNotAllowed:
			return Derive(ErrNotFound, fe.Message).WithCode(fe.Code)
		case fe.Code >= 400 && fe.Code < 500:
			return Derive(ErrValidation, fe.Message).WithCode(fe.Code)
		}
		return DeriveFrom(ErrInternal, err, "")
	}
	return AsError(err)
}

func textCodeForCategory(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryValidation:
		return TextCodeValidation
	case goerrors.CategoryAuth:
		return TextCodeUnauthenticated
	case goerrors.CategoryAuthz:
		return TextCodeForbidden
	case goerrors.CategoryNotFound:
		return TextCodeNotFound
	case goerrors.CategoryConflict:
		return TextCodeConflict
	case goerrors.CategoryRateLimit:
		return TextCodeTooManyAttempts
	case CategoryUnavailable:
		return TextCodeMaintenanceMode
	default:
		return TextCodeInternal
	}
}
