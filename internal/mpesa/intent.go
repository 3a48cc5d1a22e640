// Package mpesa drives Safaricom Daraja STK push payments: one PaymentIntent
// per sale attempt, settled by either the callback or a status poll.
package mpesa

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusTimedOut
}

// Intent is the local view of one STK push charge.
type Intent struct {
	RequestID         string          `json:"request_id"`
	MerchantRequestID string          `json:"merchant_request_id,omitempty"`
	CheckoutID        string          `json:"checkout_request_id,omitempty"`
	Phone             string          `json:"phone"`
	Amount            decimal.Decimal `json:"amount"`
	Status            Status          `json:"status"`
	ExternalReference string          `json:"receipt,omitempty"` // MpesaReceiptNumber
	ResultCode        int             `json:"result_code"`
	Description       string          `json:"description,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StatusUpdate is a gateway verdict about a checkout, whether it arrived by
// callback or by polling the query endpoint.
type StatusUpdate struct {
	MerchantRequestID string
	CheckoutID        string
	Status            Status // Pending, Confirmed or Failed
	ResultCode        int
	Description       string
	Amount            decimal.Decimal // zero when the source does not report it
	Receipt           string
	TransactionDate   string
	Phone             string
	Source            string // callback | poll
}

// Transition is handed to observers after an intent settles, and for updates
// that arrive after the local wait already gave up.
type Transition struct {
	Intent Intent
	Update StatusUpdate // zero for local timeouts
	Late   bool
}
