package handlers

import (
	"github.com/gofiber/fiber/v2"

	"dukapos/internal/log"
	"dukapos/internal/services"
	"dukapos/internal/validate"
)

type ProductHandler struct {
	Catalog *services.CatalogService
}

// GET /api/v1/products/:id
func (h *ProductHandler) Detail(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "product"})
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "PRODUCT_NOT_FOUND", "message": "This item is no longer available"})
	}
	p, err := h.Catalog.Find(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}
