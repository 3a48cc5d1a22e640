package handlers

import (
	"bytes"
	"errors"

	"github.com/gofiber/fiber/v2"

	applog "dukapos/internal/log"
	"dukapos/internal/mpesa"
	"dukapos/internal/repos"
	"dukapos/internal/validate"
)

type MpesaHandler struct {
	Client *mpesa.Client
	Repo   *repos.MpesaRepo
}

// Daraja retries callbacks that are not acknowledged, so every parsed callback
// gets this body, matched or not.
var callbackAck = fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"}

// POST /api/v1/mpesa/callback
func (h *MpesaHandler) Callback(c *fiber.Ctx) error {
	up, err := mpesa.ParseCallback(bytes.NewReader(c.Body()))
	if err != nil {
		applog.Security(c, "mpesa.callback.malformed", map[string]any{"err": err.Error()})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ResultCode": 1, "ResultDesc": "Rejected"})
	}
	fields := map[string]any{
		"checkout_id": up.CheckoutID,
		"merchant_id": up.MerchantRequestID,
		"status":      string(up.Status),
		"result_code": up.ResultCode,
	}
	switch err := h.Client.Apply(up); {
	case errors.Is(err, mpesa.ErrUnmatched):
		// held by the client until the push response names this checkout
		applog.Audit(c, "mpesa.callback.unmatched", fields)
	case err != nil:
		applog.Error(c, "mpesa.callback.apply", err, fields)
	default:
		applog.Info(c, "mpesa.callback", fields)
	}
	return c.JSON(callbackAck)
}

type paymentStatus struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	CheckoutID  string `json:"checkout_id,omitempty"`
	Receipt     string `json:"receipt,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Description string `json:"description,omitempty"`
	Message     string `json:"message,omitempty"`
}

// GET /api/v1/mpesa/status/:reference
//
// The reference may be a request, checkout or merchant request id. Live
// intents answer first; after retention the stored transaction does.
func (h *MpesaHandler) Status(c *fiber.Ctx) error {
	ref, ok := validate.ID(c.Params("reference"))
	if !ok {
		return badRequest(c, "reference", "invalid payment reference")
	}
	if in, ok := h.Client.Lookup(ref); ok {
		return c.JSON(paymentStatus{
			Reference:   ref,
			Status:      string(in.Status),
			CheckoutID:  in.CheckoutID,
			Receipt:     in.ExternalReference,
			Amount:      in.Amount.StringFixed(2),
			Description: in.Description,
		})
	}
	if h.Repo != nil {
		row, err := h.Repo.ByReference(c.UserContext(), ref)
		switch {
		case err == nil:
			return c.JSON(paymentStatus{
				Reference:   ref,
				Status:      row.Status,
				CheckoutID:  row.CheckoutRequestID.String,
				Receipt:     row.ReceiptNumber.String,
				Amount:      repos.FormatCents(row.AmountCents),
				Description: row.Description.String,
			})
		case !errors.Is(err, repos.ErrTransactionNotFound):
			return fail(c, err)
		}
	}
	return c.JSON(paymentStatus{Reference: ref, Status: string(mpesa.StatusPending), Message: "Payment not yet received"})
}
