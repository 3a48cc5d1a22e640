package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "dukapos/internal/log"
	"dukapos/internal/repos"
	"dukapos/internal/stock"
	"dukapos/internal/validate"
)

type AdminHandler struct {
	Products *repos.ProductRepo
	Sales    *repos.SaleRepo
	Inv      *repos.InventoryRepo
	Mpesa    *repos.MpesaRepo
	Ledger   *stock.Ledger
}

// GET /api/v1/admin/sales
func (h *AdminHandler) ListSales(c *fiber.Ctx) error {
	rows, err := h.Sales.ListLatest(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		applog.Error(c, "admin.sales.list.fail", err, nil)
		return fail(c, err)
	}
	if rows == nil {
		rows = []repos.SaleSummary{}
	}
	return c.JSON(fiber.Map{"sales": rows, "count": len(rows)})
}

// GET /api/v1/admin/mpesa/unreconciled lists timed-out intents and late verdicts.
func (h *AdminHandler) Unreconciled(c *fiber.Ctx) error {
	rows, err := h.Mpesa.Unreconciled(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		applog.Error(c, "admin.mpesa.unreconciled.fail", err, nil)
		return fail(c, err)
	}
	if rows == nil {
		rows = []repos.TransactionRow{}
	}
	return c.JSON(fiber.Map{"transactions": rows, "count": len(rows)})
}

type stockBody struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// POST /api/v1/admin/inventory sets a product's on-hand count in storage and in
// the live ledger. Open reservations stay counted against the new total, so
// the total may not drop below them.
func (h *AdminHandler) UpdateInventory(c *fiber.Ctx) error {
	var body stockBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "body", "invalid input")
	}
	pid, ok := validate.ID(body.ProductID)
	if !ok || body.Qty < 0 {
		return badRequest(c, "product_id", "invalid input")
	}
	if _, err := h.Products.Find(c.UserContext(), pid); err != nil {
		return fail(c, err)
	}
	prev, known := h.Ledger.Snapshot(pid)
	if err := h.Ledger.SetStock(pid, body.Qty); err != nil {
		applog.Security(c, "admin.inventory.refused", map[string]any{"product": pid, "qty": body.Qty, "reserved": prev.Reserved})
		return fail(c, err)
	}
	if err := h.Inv.UpsertQty(c.UserContext(), pid, body.Qty); err != nil {
		if known {
			_ = h.Ledger.SetStock(pid, prev.Total)
		}
		applog.Error(c, "admin.inventory.save.fail", err, map[string]any{"product": pid, "qty": body.Qty})
		return fail(c, err)
	}
	applog.Audit(c, "admin.inventory.save", map[string]any{"product": pid, "qty": body.Qty})

	info, _ := h.Ledger.Snapshot(pid)
	return c.JSON(fiber.Map{"product_id": pid, "total": info.Total, "reserved": info.Reserved, "available": info.Available()})
}
