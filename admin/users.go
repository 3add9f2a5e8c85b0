// Package admin exposes user management to administrators and mounts the
// admin endpoints of the other storefront packages.
package admin

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/google/uuid"
)

// UserService manages stored users on behalf of an administrator
type UserService struct {
	users        auth.CredentialStore
	admin        *auth.AdminAccount
	activitySink auth.ActivitySink
	logger       auth.Logger
}

func NewUserService(users auth.CredentialStore, admin *auth.AdminAccount) *UserService {
	return &UserService{
		users:  users,
		admin:  admin,
		logger: auth.NopLogger{},
	}
}

func (s *UserService) WithActivitySink(sink auth.ActivitySink) *UserService {
	s.activitySink = sink
	return s
}

func (s *UserService) WithLogger(logger auth.Logger) *UserService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *UserService) List(ctx context.Context, opts auth.ListOptions) ([]*auth.User, int, error) {
	return s.users.List(ctx, opts)
}

func (s *UserService) Get(ctx context.Context, id string) (*auth.User, error) {
	uid, err := s.parseID(id)
	if err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, uid)
}

// SetRole changes the role of a stored user. The configured administrator
// is not stored and cannot be changed.
func (s *UserService) SetRole(ctx context.Context, actor auth.Identity, id string, role auth.UserRole) (*auth.User, error) {
	uid, err := s.parseID(id)
	if err != nil {
		return nil, err
	}

	if !role.IsValid() {
		return nil, auth.NewFieldsError("invalid request: role", map[string]string{"role": "must be one of user, admin"})
	}

	before, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return nil, err
	}

	updated, err := s.users.UpdateRole(ctx, uid, role)
	if err != nil {
		return nil, err
	}

	auth.RecordActivity(ctx, s.activitySink, s.logger, auth.ActivityEvent{
		EventType:  auth.ActivityEventRoleChanged,
		Actor:      auth.ActorFromIdentity(actor),
		UserID:     uid.String(),
		FromStatus: string(before.GetRole()),
		ToStatus:   string(updated.GetRole()),
		OccurredAt: time.Now(),
	})

	return updated, nil
}

// Delete removes a stored user and the data it owns. Tokens already issued
// to it stop resolving.
func (s *UserService) Delete(ctx context.Context, actor auth.Identity, id string) error {
	uid, err := s.parseID(id)
	if err != nil {
		return err
	}

	if err := s.users.Delete(ctx, uid); err != nil {
		return err
	}

	auth.RecordActivity(ctx, s.activitySink, s.logger, auth.ActivityEvent{
		EventType:  auth.ActivityEventAccountDeleted,
		Actor:      auth.ActorFromIdentity(actor),
		UserID:     uid.String(),
		OccurredAt: time.Now(),
	})
	return nil
}

func (s *UserService) parseID(id string) (uuid.UUID, error) {
	if s.admin != nil && s.admin.MatchesSubject(id) {
		return uuid.Nil, auth.ErrAdminAccountImmutable
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, auth.ErrUserNotFound.Clone().WithMetadata(map[string]any{"id": id})
	}
	return uid, nil
}

type UsersController struct {
	service    *UserService
	contextKey string
}

func NewUsersController(service *UserService) *UsersController {
	return &UsersController{service: service, contextKey: auth.DefaultContextKey}
}

// WithContextKey sets the Locals key the gate stores identities under
func (c *UsersController) WithContextKey(key string) *UsersController {
	if key != "" {
		c.contextKey = key
	}
	return c
}

func RegisterUserRoutes(r fiber.Router, c *UsersController) {
	r.Get("/users", c.List).Name("admin.users.list")
	r.Get("/users/:id", c.Show).Name("admin.users.get")
	r.Put("/users/:id/role", c.UpdateRole).Name("admin.users.role")
	r.Delete("/users/:id", c.Delete).Name("admin.users.delete")
}

func (c *UsersController) List(ctx *fiber.Ctx) error {
	opts := auth.ListOptions{
		Limit:  ctx.QueryInt("limit"),
		Offset: ctx.QueryInt("offset"),
	}.Normalize()

	users, total, err := c.service.List(ctx.UserContext(), opts)
	if err != nil {
		return err
	}

	return ctx.JSON(fiber.Map{
		"users":  users,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func (c *UsersController) Show(ctx *fiber.Ctx) error {
	user, err := c.service.Get(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"user": user})
}

type RoleRequest struct {
	Role string `json:"role"`
}

// Validate will run validation rules
func (r RoleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role,
			validation.Required,
			validation.In(string(auth.RoleUser), string(auth.RoleAdmin)),
		),
	)
}

func (c *UsersController) UpdateRole(ctx *fiber.Ctx) error {
	actor, err := auth.MustIdentity(ctx, c.contextKey)
	if err != nil {
		return err
	}

	req := RoleRequest{}
	if err := ctx.BodyParser(&req); err != nil {
		return auth.DeriveFrom(auth.ErrValidation, err, "invalid request body")
	}

	if err := req.Validate(); err != nil {
		return auth.NewValidationError(err)
	}

	user, err := c.service.SetRole(ctx.UserContext(), actor, ctx.Params("id"), auth.UserRole(req.Role))
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"user": user})
}

func (c *UsersController) Delete(ctx *fiber.Ctx) error {
	actor, err := auth.MustIdentity(ctx, c.contextKey)
	if err != nil {
		return err
	}

	if err := c.service.Delete(ctx.UserContext(), actor, ctx.Params("id")); err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"success": true})
}
