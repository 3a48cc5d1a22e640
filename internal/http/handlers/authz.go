package handlers

import (
	"github.com/gofiber/fiber/v2"

	"dukapos/internal/domain"
	applog "dukapos/internal/log"
	"dukapos/internal/services"
)

const (
	localUser     = "user"
	localUserID   = "user_id"
	localIdentity = "identity"
)

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "UNAUTHORIZED", "message": "Please sign in"})
}

func attach(c *fiber.Ctx, u *domain.User) {
	c.Locals(localUser, u)
	c.Locals(localUserID, u.ID)
	c.Locals(localIdentity, u.Identity())
}

// RequireUser enforces a signed-in cashier and exposes their identity to handlers.
func RequireUser(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies("sid")
		if sid == "" {
			return unauthorized(c)
		}
		u, err := auth.CurrentUser(c.UserContext(), sid)
		if err != nil || u == nil {
			applog.Security(c, "access.denied.session", nil)
			return unauthorized(c)
		}
		attach(c, u)
		return c.Next()
	}
}

func RequireAdmin(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies("sid")
		if sid == "" {
			return unauthorized(c)
		}
		u, err := auth.CurrentUser(c.UserContext(), sid)
		if err != nil || u == nil || u.Role != "ADMIN" {
			applog.Security(c, "access.denied.admin", map[string]any{"sid": sid})
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "FORBIDDEN", "message": "Access denied"})
		}
		attach(c, u)
		return c.Next()
	}
}

func identity(c *fiber.Ctx) domain.Identity {
	id, _ := c.Locals(localIdentity).(domain.Identity)
	return id
}
