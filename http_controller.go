package auth

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
)

// RegisterAuthRoutes mounts the authentication surface on r, normally the
// /api/auth group.
func RegisterAuthRoutes(r fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	r.Post("/register", controller.Register).Name("auth.register")
	r.Post("/login", controller.Login).Name("auth.login")
	r.Get("/verify", controller.Middleware.ProtectedRoute(), controller.Verify).Name("auth.verify")
	r.Get("/verify-email", controller.VerifyEmail).Name("auth.verify-email")
	r.Post("/verify-email/resend", controller.Middleware.ProtectedRoute(), controller.ResendVerification).
		Name("auth.verify-email.resend")
	r.Get("/me", controller.Middleware.ProtectedRoute(), controller.Me).Name("auth.me")
	r.Post("/logout", controller.Middleware.ProtectedRoute(), controller.Logout).Name("auth.logout")

	r.Post("/password-reset", controller.PasswordResetPost).Name("pwd-reset.post")
	r.Get("/password-reset/:session", controller.PasswordResetGet).Name("pwd-reset-do.get")
	r.Post("/password-reset/:session", controller.PasswordResetExecute).Name("pwd-reset-do.post")

	return controller
}

type AuthController struct {
	Logger       Logger
	Repo         RepositoryManager
	Auther       *Auther
	Middleware   *RouteAuthenticator
	Mailer       Mailer
	Admin        *AdminAccount
	ActivitySink ActivitySink
	BaseURL      string

	resetInit     *InitializePasswordResetHandler
	resetFinalize *FinalizePasswordResetHandler
	resetLookup   *PasswordResetLookupHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

func WithRepositoryManager(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithAuther(auther *Auther) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithRouteAuthenticator(mw *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Middleware = mw
		return c
	}
}

func WithControllerMailer(mailer Mailer) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Mailer = mailer
		return c
	}
}

func WithControllerAdmin(admin *AdminAccount) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Admin = admin
		return c
	}
}

func WithControllerActivitySink(sink ActivitySink) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.ActivitySink = sink
		return c
	}
}

func WithControllerBaseURL(baseURL string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.BaseURL = baseURL
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing Auther in auth controller...")
	}

	if c.Middleware == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	c.resetInit = NewInitializePasswordResetHandler(c.Repo, c.Mailer).
		WithAdminAccount(c.Admin).
		WithActivitySink(c.ActivitySink).
		WithLogger(c.Logger).
		WithBaseURL(c.BaseURL)
	c.resetFinalize = NewFinalizePasswordResetHandler(c.Repo).
		WithActivitySink(c.ActivitySink).
		WithLogger(c.Logger)
	c.resetLookup = NewPasswordResetLookupHandler(c.Repo)

	return c
}

type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) Register(c *fiber.Ctx) error {
	payload := RegisterUserMessage{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	res, err := a.Auther.Register(c.UserContext(), payload)
	if err != nil {
		return err
	}

	a.Middleware.setCookieToken(c, res.Token)
	return c.JSON(res)
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := LoginRequest{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return NewValidationError(err)
	}

	res, err := a.Auther.Login(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	a.Middleware.setCookieToken(c, res.Token)
	return c.JSON(res)
}

// Verify reports the identity behind a bearer token.
func (a *AuthController) Verify(c *fiber.Ctx) error {
	identity, err := a.Middleware.Identity(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"valid": true,
		"user":  identity.User(),
	})
}

func (a *AuthController) Me(c *fiber.Ctx) error {
	identity, err := a.Middleware.Identity(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": identity.User()})
}

func (a *AuthController) VerifyEmail(c *fiber.Ctx) error {
	res, err := a.Auther.VerifyEmail(c.UserContext(), c.Query("token"))
	if err != nil {
		return err
	}

	a.Middleware.setCookieToken(c, res.Token)
	return c.JSON(res)
}

func (a *AuthController) ResendVerification(c *fiber.Ctx) error {
	identity, err := a.Middleware.Identity(c)
	if err != nil {
		return err
	}

	if err := a.Auther.ResendVerification(c.UserContext(), identity); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func (a *AuthController) Logout(c *fiber.Ctx) error {
	identity, err := a.Middleware.Identity(c)
	if err != nil {
		return err
	}

	if err := a.Auther.Logout(c.UserContext(), identity); err != nil {
		return err
	}

	a.Middleware.cookieDel(c)
	return c.JSON(fiber.Map{"success": true})
}

// PasswordResetPost always answers the same way so it cannot be used to
// discover registered emails.
func (a *AuthController) PasswordResetPost(c *fiber.Ctx) error {
	payload := InitializePasswordResetMessage{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := a.resetInit.Execute(c.UserContext(), payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "if the email is registered a reset link has been sent",
	})
}

func (a *AuthController) PasswordResetGet(c *fiber.Ctx) error {
	status, err := a.resetLookup.Execute(c.UserContext(), c.Params("session"))
	if err != nil {
		return err
	}
	return c.JSON(status)
}

func (a *AuthController) PasswordResetExecute(c *fiber.Ctx) error {
	payload := FinalizePasswordResetMesasge{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}
	payload.Session = c.Params("session")

	if err := a.resetFinalize.Execute(c.UserContext(), payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return DeriveFrom(ErrValidation, err, "invalid request body")
	}
	return nil
}
