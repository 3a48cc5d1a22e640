package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Category          string          `json:"category,omitempty"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	AvailableQuantity int             `json:"available_quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
}

type Availability struct {
	Status string `json:"status"` // IN_STOCK | LOW_STOCK | OUT_OF_STOCK
	Qty    int    `json:"qty"`
}

// CartLine is one product inside a cart with the price observed when it was added.
type CartLine struct {
	ProductID         string          `json:"product_id"`
	Quantity          int             `json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unit_price"`
}

// Subtotal is quantity × unit price, rounded to minor units.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "CASH"
	PaymentMobileMoney PaymentMethod = "MPESA"
	PaymentCredit      PaymentMethod = "CREDIT"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentMobileMoney, PaymentCredit:
		return true
	}
	return false
}

type SaleStatus string

const (
	SaleCommitted SaleStatus = "COMMITTED"
	// SaleReversed is reserved for a reversal flow; nothing sets it yet.
	SaleReversed SaleStatus = "REVERSED"
)

// Sale is produced once, on successful settlement, and never mutated afterwards.
type Sale struct {
	ID                string          `json:"id"`
	ReceiptNumber     string          `json:"receipt_number"`
	Lines             []CartLine      `json:"lines"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	AmountCharged     decimal.Decimal `json:"amount_charged"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	BalanceDue        decimal.Decimal `json:"balance_due"`
	Status            SaleStatus      `json:"status"`
	ExternalReference string          `json:"external_reference,omitempty"`
	CustomerName      string          `json:"customer_name,omitempty"`
	CustomerPhone     string          `json:"customer_phone,omitempty"`
	CashierID         string          `json:"cashier_id,omitempty"`
	IdempotencyKey    string          `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Customer is the optional buyer info a cashier captures at checkout.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type CreditAccount struct {
	CustomerID             string          `json:"customer_id"` // normalized phone
	Name                   string          `json:"name"`
	TotalCreditOutstanding decimal.Decimal `json:"total_credit"`
	BalanceDue             decimal.Decimal `json:"balance_due"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Identity is the acting cashier and the business they sell for.
type Identity struct {
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	BusinessName string `json:"business_name"`
}
