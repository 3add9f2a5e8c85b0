package admin

import (
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/goliatone/go-storefront-auth/maintenance"
	"github.com/goliatone/go-storefront-auth/orders"
	"github.com/goliatone/go-storefront-auth/promo"
)

// Controllers groups every handler mounted under the admin prefix
type Controllers struct {
	Users       *UsersController
	PromoCodes  *promo.Controller
	Maintenance *maintenance.Controller
	Orders      *orders.Controller
}

// Mount guards r with the admin role and registers every admin endpoint
// on it. Nil controllers are skipped.
func Mount(r fiber.Router, gate *auth.RouteAuthenticator, c Controllers) {
	r.Use(gate.ProtectedRoute(auth.RoleAdmin))

	if c.Users != nil {
		RegisterUserRoutes(r, c.Users)
	}
	if c.PromoCodes != nil {
		promo.RegisterAdminRoutes(r, c.PromoCodes)
	}
	if c.Maintenance != nil {
		maintenance.RegisterAdminRoutes(r, c.Maintenance)
	}
	if c.Orders != nil {
		orders.RegisterAdminRoutes(r, c.Orders)
	}
}
