package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInvalidQuantity       = errors.New("quantity must be at least 1")
	ErrStaleCartLine         = errors.New("cart line is stale")
	ErrOutOfStock            = errors.New("insufficient stock")
	ErrInvalidPhoneNumber    = errors.New("invalid phone number")
	ErrGatewayRejected       = errors.New("payment gateway rejected the request")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable, nothing was sent")
	ErrPaymentNotConfirmed   = errors.New("payment not confirmed")
	ErrOverpaymentNotAllowed = errors.New("amount paid exceeds sale total")
	ErrInvalidPayment        = errors.New("invalid payment amount")

	ErrProductNotFound    = errors.New("product not found")
	ErrInvalidPrice       = errors.New("unit price must not be negative")
	ErrUnknownPayment     = errors.New("unknown payment method")
	ErrMissingCustomer    = errors.New("customer details required")
	ErrMissingIdempotency = errors.New("idempotency key required")
)

// StaleCartLineError names the product whose line no longer matches the catalog.
type StaleCartLineError struct {
	ProductID string
	Reason    string
}

func (e *StaleCartLineError) Error() string {
	return fmt.Sprintf("cart line %s is stale: %s", e.ProductID, e.Reason)
}

func (e *StaleCartLineError) Unwrap() error { return ErrStaleCartLine }

type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (need %d, have %d)", e.ProductID, e.Requested, e.Available)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

type PaymentFailureReason string

const (
	PaymentFailed   PaymentFailureReason = "FAILED"
	PaymentTimedOut PaymentFailureReason = "TIMED_OUT"
)

// PaymentNotConfirmedError is returned when a mobile-money charge did not reach
// Confirmed. A TimedOut reason means the money movement outcome is unknown.
type PaymentNotConfirmedError struct {
	Reason      PaymentFailureReason
	RequestID   string
	CheckoutID  string
	Description string
}

func (e *PaymentNotConfirmedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("payment not confirmed (%s): %s", e.Reason, e.Description)
	}
	return fmt.Sprintf("payment not confirmed (%s)", e.Reason)
}

func (e *PaymentNotConfirmedError) Unwrap() error { return ErrPaymentNotConfirmed }

// TimedOut reports whether err is a payment confirmation that never arrived in time.
func TimedOut(err error) bool {
	var pe *PaymentNotConfirmedError
	return errors.As(err, &pe) && pe.Reason == PaymentTimedOut
}
