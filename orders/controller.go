package orders

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-storefront-auth"
)

type Controller struct {
	service    *Service
	contextKey string
}

func NewController(service *Service) *Controller {
	return &Controller{service: service, contextKey: auth.DefaultContextKey}
}

// WithContextKey sets the Locals key the gate stores identities under
func (c *Controller) WithContextKey(key string) *Controller {
	if key != "" {
		c.contextKey = key
	}
	return c
}

// RegisterRoutes mounts the customer order endpoints behind protected.
func RegisterRoutes(r fiber.Router, c *Controller, protected fiber.Handler) {
	r.Post("/orders", protected, c.Create).Name("orders.create")
	r.Get("/orders", protected, c.List).Name("orders.list")
	r.Get("/orders/:id", protected, c.Show).Name("orders.get")
}

// RegisterAdminRoutes mounts the order management endpoints. The caller
// guards r with the admin role.
func RegisterAdminRoutes(r fiber.Router, c *Controller) {
	r.Get("/orders", c.AdminList).Name("admin.orders.list")
	r.Put("/orders/:id/status", c.AdminUpdateStatus).Name("admin.orders.status")
}

func (c *Controller) Create(ctx *fiber.Ctx) error {
	identity, err := auth.MustIdentity(ctx, c.contextKey)
	if err != nil {
		return err
	}

	in := PlaceOrderInput{}
	if err := ctx.BodyParser(&in); err != nil {
		return auth.DeriveFrom(auth.ErrValidation, err, "invalid request body")
	}

	order, err := c.service.Place(ctx.UserContext(), identity, in)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"order": order})
}

func (c *Controller) List(ctx *fiber.Ctx) error {
	identity, err := auth.MustIdentity(ctx, c.contextKey)
	if err != nil {
		return err
	}

	opts := listOptions(ctx)
	records, total, err := c.service.ListForUser(ctx.UserContext(), identity, opts)
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"orders": records, "total": total, "limit": opts.Limit, "offset": opts.Offset})
}

func (c *Controller) Show(ctx *fiber.Ctx) error {
	identity, err := auth.MustIdentity(ctx, c.contextKey)
	if err != nil {
		return err
	}

	order, err := c.service.Get(ctx.UserContext(), identity, ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"order": order})
}

func (c *Controller) AdminList(ctx *fiber.Ctx) error {
	opts := listOptions(ctx)
	records, total, err := c.service.ListAll(ctx.UserContext(), opts, Status(ctx.Query("status")))
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"orders": records, "total": total, "limit": opts.Limit, "offset": opts.Offset})
}

type StatusRequest struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
}

// Validate will run validation rules
func (r StatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required),
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

func (c *Controller) AdminUpdateStatus(ctx *fiber.Ctx) error {
	identity, err := auth.MustIdentity(ctx, c.contextKey)
	if err != nil {
		return err
	}

	req := StatusRequest{}
	if err := ctx.BodyParser(&req); err != nil {
		return auth.DeriveFrom(auth.ErrValidation, err, "invalid request body")
	}

	if err := req.Validate(); err != nil {
		return auth.NewValidationError(err)
	}

	order, err := c.service.UpdateStatus(ctx.UserContext(), identity, ctx.Params("id"), req.Status, req.Reason)
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"order": order})
}

func listOptions(ctx *fiber.Ctx) auth.ListOptions {
	return auth.ListOptions{
		Limit:  ctx.QueryInt("limit"),
		Offset: ctx.QueryInt("offset"),
	}.Normalize()
}
