package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"dukapos/internal/domain"
	"dukapos/internal/log"
	"dukapos/internal/services"
	"dukapos/internal/validate"
)

type SearchHandler struct {
	Catalog *services.CatalogService
}

// GET /api/v1/products/search?q=&limit=
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	rawQ := c.Query("q")
	if strings.TrimSpace(rawQ) == "" {
		// the till sends an empty query while the cashier clears the box
		return c.JSON(fiber.Map{"q": "", "products": []domain.Product{}, "count": 0})
	}
	q, ok := validate.Q(rawQ)
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "q", "value": rawQ})
		return badRequest(c, "q", "Enter a valid keyword (letters/numbers only)")
	}
	limit := c.QueryInt("limit", 20)

	products, err := h.Catalog.Search(c.UserContext(), q, limit)
	if err != nil {
		log.Error(c, "search.error", err, nil)
		return fail(c, err)
	}
	if products == nil {
		products = []domain.Product{}
	}
	return c.JSON(fiber.Map{"q": strings.ToLower(q), "products": products, "count": len(products)})
}
