package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	applog "dukapos/internal/log"
)

// Register mounts the API. Everything except login, health and the gateway
// callback needs a signed-in cashier.
func Register(app *fiber.App, d *Deps) {
	if d.Metrics != nil {
		app.Use(Instrument(d.Metrics))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })

	app.Post("/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "RATE_LIMITED", "message": "Too many attempts. Please try again later."})
		},
	}), d.AuthHandler.Login)
	app.Post("/logout", d.AuthHandler.Logout)

	user := RequireUser(d.Auth)
	admin := RequireAdmin(d.Auth)

	api := app.Group("/api/v1")
	api.Post("/mpesa/callback", d.MpesaHandler.Callback)

	availLimiter := limiter.New(limiter.Config{
		Max:        15,
		Expiration: 30 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|avail"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.availability.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "RATE_LIMITED", "message": "rate limit exceeded, retry soon"})
		},
	})

	api.Get("/me", user, d.AuthHandler.Me)
	api.Get("/products/search", user, d.SearchHandler.Search)
	api.Get("/products/:id", user, d.ProductHandler.Detail)
	api.Get("/availability", user, availLimiter, d.InventoryHandler.Check)
	api.Post("/cart/quote", user, d.CartHandler.Quote)
	api.Post("/sales", user, d.SaleHandler.Submit)
	api.Get("/sales/:id", user, d.SaleHandler.Get)
	api.Get("/mpesa/status/:reference", user, d.MpesaHandler.Status)
	api.Get("/credits", user, d.CreditHandler.List)
	api.Get("/credits/:customer", user, d.CreditHandler.Account)

	api.Get("/admin/sales", admin, d.AdminHandler.ListSales)
	api.Get("/admin/mpesa/unreconciled", admin, d.AdminHandler.Unreconciled)
	api.Post("/admin/inventory", admin, d.AdminHandler.UpdateInventory)
}

// NotFound is the last handler in the stack.
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "NOT_FOUND", "message": "Page not found"})
}
