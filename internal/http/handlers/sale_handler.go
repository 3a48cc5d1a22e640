package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
	applog "dukapos/internal/log"
	"dukapos/internal/repos"
	"dukapos/internal/services"
	"dukapos/internal/validate"
)

type SaleHandler struct {
	Cart  *services.CartService
	Sales *services.SaleService
	Repo  *repos.SaleRepo
}

type saleBody struct {
	Items         []lineBody      `json:"items"`
	PaymentMethod string          `json:"payment_method"`
	Customer      domain.Customer `json:"customer"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
}

// POST /api/v1/sales
//
// The Idempotency-Key header identifies one checkout attempt; resubmitting it
// returns the first attempt's outcome instead of charging twice.
func (h *SaleHandler) Submit(c *fiber.Ctx) error {
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		applog.Security(c, "validation.fail", map[string]any{"field": "Idempotency-Key"})
		return fail(c, domain.ErrMissingIdempotency)
	}

	var body saleBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "body", "malformed sale request")
	}
	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(body.PaymentMethod)))
	if !method.Valid() {
		applog.Security(c, "validation.fail", map[string]any{"field": "payment_method"})
		return fail(c, domain.ErrUnknownPayment)
	}
	if body.Customer.Name != "" {
		name, ok := validate.Name(body.Customer.Name)
		if !ok {
			return badRequest(c, "customer.name", "customer name must be 1-60 characters")
		}
		body.Customer.Name = name
	}
	reqs, bad := lineRequests(body.Items)
	if bad != "" {
		return badRequest(c, bad, "invalid cart line")
	}
	if len(reqs) == 0 {
		return fail(c, domain.ErrEmptyCart)
	}

	crt, err := h.Cart.Assemble(c.UserContext(), reqs)
	if err != nil {
		return fail(c, err)
	}

	sale, err := h.Sales.Submit(c.UserContext(), services.SubmitRequest{
		Cart:           crt,
		Method:         method,
		Customer:       body.Customer,
		AmountPaid:     body.AmountPaid,
		IdempotencyKey: key,
		Identity:       identity(c),
	})
	if err != nil {
		ae := classify(err)
		if ae.status < fiber.StatusInternalServerError || ae.status == fiber.StatusBadGateway || ae.status == fiber.StatusGatewayTimeout {
			applog.Info(c, "sale.rejected", map[string]any{"key": key, "method": method, "code": ae.code, "reason": err.Error()})
		}
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sale)
}

// GET /api/v1/sales/:id
func (h *SaleHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id", "invalid sale id")
	}
	sale, err := h.Repo.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(sale)
}
