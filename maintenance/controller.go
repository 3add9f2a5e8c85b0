package maintenance

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-storefront-auth"
)

type Controller struct {
	store      *Store
	contextKey string
}

func NewController(store *Store) *Controller {
	return &Controller{store: store, contextKey: auth.DefaultContextKey}
}

// WithContextKey sets the Locals key the gate stores identities under
func (c *Controller) WithContextKey(key string) *Controller {
	if key != "" {
		c.contextKey = key
	}
	return c
}

// RegisterRoutes mounts the public status endpoint
func RegisterRoutes(r fiber.Router, c *Controller) {
	r.Get("/maintenance", c.Status).Name("maintenance.get")
}

// RegisterAdminRoutes mounts the toggle. The caller guards r with the
// admin role.
func RegisterAdminRoutes(r fiber.Router, c *Controller) {
	r.Get("/maintenance", c.Show).Name("admin.maintenance.get")
	r.Put("/maintenance", c.Update).Name("admin.maintenance.put")
}

func (c *Controller) Status(ctx *fiber.Ctx) error {
	state := c.store.Get(ctx.UserContext())
	return ctx.JSON(fiber.Map{
		"enabled": state.Enabled,
		"message": state.Message,
	})
}

func (c *Controller) Show(ctx *fiber.Ctx) error {
	return ctx.JSON(c.store.Get(ctx.UserContext()))
}

type UpdateRequest struct {
	Enabled *bool  `json:"enabled"`
	Message string `json:"message"`
}

// Validate will run validation rules
func (r UpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Enabled, validation.NotNil),
		validation.Field(&r.Message, validation.Length(0, 500)),
	)
}

func (c *Controller) Update(ctx *fiber.Ctx) error {
	identity, err := auth.MustIdentity(ctx, c.contextKey)
	if err != nil {
		return err
	}

	req := UpdateRequest{}
	if err := ctx.BodyParser(&req); err != nil {
		return auth.DeriveFrom(auth.ErrValidation, err, "invalid request body")
	}

	if err := req.Validate(); err != nil {
		return auth.NewValidationError(err)
	}

	state, err := c.store.Set(ctx.UserContext(), *req.Enabled, req.Message, identity.Email())
	if err != nil {
		return err
	}
	return ctx.JSON(state)
}
