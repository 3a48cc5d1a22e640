package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
	"dukapos/internal/services"
	"dukapos/internal/validate"
)

type CartHandler struct {
	Cart *services.CartService
}

type lineBody struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

const maxLines = 100

// lineRequests reports the offending field when items cannot be accepted.
func lineRequests(items []lineBody) ([]services.LineRequest, string) {
	if len(items) > maxLines {
		return nil, "items"
	}
	reqs := make([]services.LineRequest, 0, len(items))
	for _, it := range items {
		id, ok := validate.ID(it.ProductID)
		if !ok {
			return nil, "product_id"
		}
		reqs = append(reqs, services.LineRequest{ProductID: id, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return reqs, ""
}

// POST /api/v1/cart/quote prices a cart against live stock without holding any.
func (h *CartHandler) Quote(c *fiber.Ctx) error {
	var body struct {
		Items []lineBody `json:"items"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "body", "malformed cart")
	}
	reqs, bad := lineRequests(body.Items)
	if bad != "" {
		return badRequest(c, bad, "invalid cart line")
	}
	if len(reqs) == 0 {
		return fail(c, domain.ErrEmptyCart)
	}
	crt, err := h.Cart.Build(c.UserContext(), reqs)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"lines": crt.Lines(), "total": crt.Total().StringFixed(2)})
}
