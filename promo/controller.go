package promo

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-storefront-auth"
)

// Controller exposes promo codes over HTTP
type Controller struct {
	service *Service
}

func NewController(service *Service) *Controller {
	return &Controller{service: service}
}

// RegisterAdminRoutes mounts CRUD on r. The caller guards r with the
// admin role.
func RegisterAdminRoutes(r fiber.Router, c *Controller) {
	r.Get("/promo-codes", c.List).Name("admin.promo-codes.list")
	r.Post("/promo-codes", c.Create).Name("admin.promo-codes.create")
	r.Get("/promo-codes/:code", c.Show).Name("admin.promo-codes.get")
	r.Put("/promo-codes/:code", c.Update).Name("admin.promo-codes.update")
	r.Delete("/promo-codes/:code", c.Delete).Name("admin.promo-codes.delete")
}

// RegisterRoutes mounts the customer facing apply endpoint behind protected.
func RegisterRoutes(r fiber.Router, c *Controller, protected fiber.Handler) {
	r.Post("/promo-codes/apply", protected, c.Apply).Name("promo-codes.apply")
}

func (c *Controller) List(ctx *fiber.Ctx) error {
	opts := auth.ListOptions{
		Limit:  ctx.QueryInt("limit"),
		Offset: ctx.QueryInt("offset"),
	}.Normalize()

	records, total, err := c.service.List(ctx.UserContext(), opts)
	if err != nil {
		return err
	}

	return ctx.JSON(fiber.Map{
		"promo_codes": records,
		"total":       total,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}

func (c *Controller) Show(ctx *fiber.Ctx) error {
	record, err := c.service.Get(ctx.UserContext(), ctx.Params("code"))
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"promo_code": record})
}

func (c *Controller) Create(ctx *fiber.Ctx) error {
	in := PromoCodeInput{}
	if err := ctx.BodyParser(&in); err != nil {
		return auth.DeriveFrom(auth.ErrValidation, err, "invalid request body")
	}

	record, err := c.service.Create(ctx.UserContext(), in)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"promo_code": record})
}

func (c *Controller) Update(ctx *fiber.Ctx) error {
	in := PromoCodeInput{}
	if err := ctx.BodyParser(&in); err != nil {
		return auth.DeriveFrom(auth.ErrValidation, err, "invalid request body")
	}

	record, err := c.service.Update(ctx.UserContext(), ctx.Params("code"), in)
	if err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"promo_code": record})
}

func (c *Controller) Delete(ctx *fiber.Ctx) error {
	if err := c.service.Delete(ctx.UserContext(), ctx.Params("code")); err != nil {
		return err
	}
	return ctx.JSON(fiber.Map{"success": true})
}

type ApplyRequest struct {
	Code          string `json:"code"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

// Validate will run validation rules
func (r ApplyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.SubtotalCents, validation.Min(int64(0))),
	)
}

func (c *Controller) Apply(ctx *fiber.Ctx) error {
	req := ApplyRequest{}
	if err := ctx.BodyParser(&req); err != nil {
		return auth.DeriveFrom(auth.ErrValidation, err, "invalid request body")
	}

	if err := req.Validate(); err != nil {
		return auth.NewValidationError(err)
	}

	quote, err := c.service.Apply(ctx.UserContext(), req.Code, req.SubtotalCents)
	if err != nil {
		return err
	}
	return ctx.JSON(quote)
}
