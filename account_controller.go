package auth

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// RegisterAccountRoutes mounts the self service account API on r, normally
// the /api/account group.
func RegisterAccountRoutes(r fiber.Router, controller *AccountController) {
	r.Use(controller.middleware.ProtectedRoute(RoleUser))

	r.Get("/", controller.Show).Name("account.get")
	r.Put("/shipping-address", controller.UpdateShippingAddress).Name("account.shipping-address.put")
	r.Put("/password", controller.ChangePassword).Name("account.password.put")
	r.Delete("/", controller.Delete).Name("account.delete")
}

type AccountController struct {
	users      CredentialStore
	auther     *Auther
	middleware *RouteAuthenticator
	logger     Logger
}

func NewAccountController(users CredentialStore, auther *Auther, middleware *RouteAuthenticator) *AccountController {
	return &AccountController{
		users:      users,
		auther:     auther,
		middleware: middleware,
		logger:     defLogger{},
	}
}

func (a *AccountController) WithLogger(logger Logger) *AccountController {
	a.logger = normalizeLogger(logger)
	return a
}

func (a *AccountController) Show(c *fiber.Ctx) error {
	identity, err := a.middleware.Identity(c)
	if err != nil {
		return err
	}

	if identity.Synthetic() {
		return c.JSON(fiber.Map{"user": identity.User()})
	}

	user, err := a.users.FindByID(c.UserContext(), identity.User().ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": user})
}

type ShippingAddressPayload struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// Normalize trims every field and upper cases the country code.
func (p ShippingAddressPayload) Normalize() ShippingAddressPayload {
	return ShippingAddressPayload{
		FullName:   strings.TrimSpace(p.FullName),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      strings.TrimSpace(p.Line2),
		City:       strings.TrimSpace(p.City),
		State:      strings.TrimSpace(p.State),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(p.Country)),
		Phone:      strings.TrimSpace(p.Phone),
	}
}

// Validate will run validation rules against the normalized payload
func (p ShippingAddressPayload) Validate() error {
	p = p.Normalize()
	return validation.ValidateStruct(&p,
		validation.Field(&p.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Line1, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Line2, validation.Length(0, 200)),
		validation.Field(&p.City, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.State, validation.Length(0, 100)),
		validation.Field(&p.PostalCode, validation.Required, validation.Length(1, 20)),
		validation.Field(&p.Country, validation.Required, is.CountryCode2),
		validation.Field(&p.Phone, validation.By(validatePhone(p.Country))),
	)
}

// Address returns the normalized address; the phone is stored in E.164.
func (p ShippingAddressPayload) Address() (*ShippingAddress, error) {
	p = p.Normalize()
	phone, err := NormalizePhone(p.Phone, p.Country)
	if err != nil {
		return nil, err
	}
	return &ShippingAddress{
		FullName:   p.FullName,
		Line1:      p.Line1,
		Line2:      p.Line2,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Country:    p.Country,
		Phone:      phone,
	}, nil
}

// ParseShippingAddress validates p and returns the address to store.
func ParseShippingAddress(p ShippingAddressPayload) (*ShippingAddress, error) {
	if err := p.Validate(); err != nil {
		return nil, NewValidationError(err)
	}
	address, err := p.Address()
	if err != nil {
		return nil, NewFieldsError("invalid request: phone", map[string]string{"phone": err.Error()})
	}
	return address, nil
}

// NormalizePhone parses phone using region as the default country and
// formats it as E.164. An empty phone stays empty.
func NormalizePhone(phone, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(phone, strings.ToUpper(region))
	if err != nil {
		return "", errors.New("must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("must be a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func validatePhone(region string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		_, err := NormalizePhone(s, region)
		return err
	}
}

func (a *AccountController) UpdateShippingAddress(c *fiber.Ctx) error {
	identity, err := a.middleware.Identity(c)
	if err != nil {
		return err
	}

	if identity.Synthetic() {
		return ErrAdminAccountImmutable
	}

	payload := ShippingAddressPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	address, err := ParseShippingAddress(payload)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(identity.ID())
	if err != nil {
		return ErrUserNotFound
	}

	user, err := a.users.UpdateShippingAddress(c.UserContext(), id, address)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"user": user})
}

type ChangePasswordPayload struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (p ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.CurrentPassword, validation.Required),
		validation.Field(&p.NewPassword, validation.Required, validation.Length(6, 72)),
		validation.Field(&p.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(p.NewPassword)),
		),
	)
}

func (a *AccountController) ChangePassword(c *fiber.Ctx) error {
	identity, err := a.middleware.Identity(c)
	if err != nil {
		return err
	}

	payload := ChangePasswordPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return NewValidationError(err)
	}

	res, err := a.auther.ChangePassword(c.UserContext(), identity, payload.CurrentPassword, payload.NewPassword)
	if err != nil {
		return err
	}

	a.middleware.setCookieToken(c, res.Token)
	return c.JSON(res)
}

func (a *AccountController) Delete(c *fiber.Ctx) error {
	identity, err := a.middleware.Identity(c)
	if err != nil {
		return err
	}

	if err := a.auther.DeleteAccount(c.UserContext(), identity); err != nil {
		return err
	}

	a.middleware.cookieDel(c)
	return c.JSON(fiber.Map{"success": true})
}
