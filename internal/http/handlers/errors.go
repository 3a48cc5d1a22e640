package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"dukapos/internal/credit"
	"dukapos/internal/domain"
	applog "dukapos/internal/log"
	"dukapos/internal/mpesa"
	"dukapos/internal/repos"
	"dukapos/internal/services"
	"dukapos/internal/stock"
)

type apiError struct {
	status int
	code   string
}

// order matters: the first match wins, and typed errors unwrap to their sentinel
var errorTable = []struct {
	err error
	apiError
}{
	{domain.ErrMissingIdempotency, apiError{fiber.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY"}},
	{domain.ErrUnknownPayment, apiError{fiber.StatusBadRequest, "UNKNOWN_PAYMENT_METHOD"}},
	{domain.ErrEmptyCart, apiError{fiber.StatusBadRequest, "EMPTY_CART"}},
	{domain.ErrInvalidQuantity, apiError{fiber.StatusBadRequest, "INVALID_QUANTITY"}},
	{domain.ErrInvalidPrice, apiError{fiber.StatusBadRequest, "INVALID_PRICE"}},
	{domain.ErrInvalidPhoneNumber, apiError{fiber.StatusBadRequest, "INVALID_PHONE_NUMBER"}},
	{domain.ErrMissingCustomer, apiError{fiber.StatusBadRequest, "MISSING_CUSTOMER"}},
	{domain.ErrOverpaymentNotAllowed, apiError{fiber.StatusConflict, "OVERPAYMENT_NOT_ALLOWED"}},
	{domain.ErrInvalidPayment, apiError{fiber.StatusBadRequest, "INVALID_PAYMENT"}},
	{domain.ErrProductNotFound, apiError{fiber.StatusNotFound, "PRODUCT_NOT_FOUND"}},
	{domain.ErrStaleCartLine, apiError{fiber.StatusConflict, "STALE_CART_LINE"}},
	{domain.ErrOutOfStock, apiError{fiber.StatusConflict, "OUT_OF_STOCK"}},
	{domain.ErrGatewayRejected, apiError{fiber.StatusBadGateway, "GATEWAY_REJECTED"}},
	{domain.ErrGatewayUnavailable, apiError{fiber.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"}},
	{stock.ErrBelowReserved, apiError{fiber.StatusConflict, "STOCK_RESERVED"}},
	{stock.ErrNegativeStock, apiError{fiber.StatusBadRequest, "INVALID_QUANTITY"}},
	{credit.ErrAccountNotFound, apiError{fiber.StatusNotFound, "ACCOUNT_NOT_FOUND"}},
	{repos.ErrSaleNotFound, apiError{fiber.StatusNotFound, "SALE_NOT_FOUND"}},
	{mpesa.ErrIntentNotFound, apiError{fiber.StatusNotFound, "PAYMENT_NOT_FOUND"}},
	{services.ErrBadCreds, apiError{fiber.StatusUnauthorized, "INVALID_CREDENTIALS"}},
}

func classify(err error) apiError {
	if errors.Is(err, domain.ErrPaymentNotConfirmed) {
		if domain.TimedOut(err) {
			return apiError{fiber.StatusGatewayTimeout, "PAYMENT_TIMED_OUT"}
		}
		return apiError{fiber.StatusPaymentRequired, "PAYMENT_FAILED"}
	}
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.apiError
		}
	}
	return apiError{fiber.StatusInternalServerError, "INTERNAL"}
}

// fail writes err as {"error": code, "message": ...}. Anything outside the
// taxonomy is logged and answered with a generic message.
func fail(c *fiber.Ctx, err error) error {
	ae := classify(err)
	msg := err.Error()
	if ae.status == fiber.StatusInternalServerError {
		applog.Error(c, "request.fail", err, nil)
		msg = "Something went wrong. Please try again."
	}
	body := fiber.Map{"error": ae.code, "message": msg}
	var pe *domain.PaymentNotConfirmedError
	if errors.As(err, &pe) {
		// lets the till follow the payment through /mpesa/status
		body["request_id"] = pe.RequestID
		body["checkout_id"] = pe.CheckoutID
	}
	var se *domain.StaleCartLineError
	if errors.As(err, &se) {
		body["product_id"] = se.ProductID
	}
	return c.Status(ae.status).JSON(body)
}

func badRequest(c *fiber.Ctx, field, msg string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "BAD_REQUEST", "message": msg})
}

// ErrorHandler is the app-wide fallback: fiber errors keep their status,
// everything else becomes a friendly 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return c.Status(fe.Code).JSON(fiber.Map{"error": "REQUEST_ERROR", "message": fe.Message})
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "INTERNAL",
		"message": "Something went wrong. Please try again.",
	})
}
