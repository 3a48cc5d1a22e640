package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"dukapos/internal/credit"
	"dukapos/internal/domain"
)

type CreditHandler struct {
	Credit *credit.Ledger
}

// GET /api/v1/credits
func (h *CreditHandler) List(c *fiber.Ctx) error {
	accts, err := h.Credit.Accounts(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	if accts == nil {
		accts = []domain.CreditAccount{}
	}
	return c.JSON(fiber.Map{"accounts": accts, "count": len(accts)})
}

// GET /api/v1/credits/:customer accepts the customer's phone in any accepted format.
func (h *CreditHandler) Account(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("customer"))
	if id == "" || len(id) > 20 {
		return badRequest(c, "customer", "invalid customer id")
	}
	acct, err := h.Credit.Account(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(acct)
}
