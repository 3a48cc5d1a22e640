// Package credit tracks what credit customers owe. Balances grow through
// RecordCredit and only ReverseCredit takes an entry back out.
package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
	applog "dukapos/internal/log"
	"dukapos/internal/validate"
)

var ErrAccountNotFound = errors.New("credit account not found")

// Entry is one credit sale's contribution to a customer's account.
type Entry struct {
	CustomerID string // normalized phone
	Name       string
	SaleID     string
	Total      decimal.Decimal
	Paid       decimal.Decimal
	BalanceDue decimal.Decimal
	At         time.Time
}

// Store persists accounts. Apply must add the entry atomically.
type Store interface {
	Apply(ctx context.Context, e Entry) (domain.CreditAccount, error)
	Account(ctx context.Context, customerID string) (domain.CreditAccount, error)
	Accounts(ctx context.Context) ([]domain.CreditAccount, error)
}

type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// CheckPayment is the shared rule for a partial payment against a total.
func CheckPayment(total, paid decimal.Decimal) error {
	if paid.IsNegative() || total.IsNegative() {
		return domain.ErrInvalidPayment
	}
	if paid.GreaterThan(total) {
		return domain.ErrOverpaymentNotAllowed
	}
	return nil
}

// RecordCredit adds total minus paid to the customer's balance due.
func (l *Ledger) RecordCredit(ctx context.Context, customer domain.Customer, saleID string, total, paid decimal.Decimal) (domain.CreditAccount, error) {
	phone, ok := validate.Phone(customer.Phone)
	if !ok {
		return domain.CreditAccount{}, domain.ErrInvalidPhoneNumber
	}
	if err := CheckPayment(total, paid); err != nil {
		if errors.Is(err, domain.ErrOverpaymentNotAllowed) {
			// RecordCredit is a second line of defense, the engine checks first
			return domain.CreditAccount{}, fmt.Errorf("%w: %w", domain.ErrInvalidPayment, err)
		}
		return domain.CreditAccount{}, err
	}

	e := Entry{
		CustomerID: phone,
		Name:       customer.Name,
		SaleID:     saleID,
		Total:      total.Round(2),
		Paid:       paid.Round(2),
		BalanceDue: total.Sub(paid).Round(2),
		At:         l.now().UTC(),
	}
	acct, err := l.store.Apply(ctx, e)
	if err != nil {
		return domain.CreditAccount{}, fmt.Errorf("record credit: %w", err)
	}
	applog.AuditEvent("credit.recorded", map[string]any{
		"customer_id": phone, "sale_id": saleID, "delta": e.BalanceDue.StringFixed(2), "balance_due": acct.BalanceDue.StringFixed(2),
	})
	return acct, nil
}

// ReverseCredit takes back an entry made by RecordCredit for a sale that never
// committed.
func (l *Ledger) ReverseCredit(ctx context.Context, customer domain.Customer, saleID string, total, paid decimal.Decimal) error {
	phone, ok := validate.Phone(customer.Phone)
	if !ok {
		return domain.ErrInvalidPhoneNumber
	}
	e := Entry{
		CustomerID: phone,
		SaleID:     saleID,
		Total:      total.Round(2).Neg(),
		Paid:       paid.Round(2).Neg(),
		BalanceDue: total.Sub(paid).Round(2).Neg(),
		At:         l.now().UTC(),
	}
	acct, err := l.store.Apply(ctx, e)
	if err != nil {
		return fmt.Errorf("reverse credit: %w", err)
	}
	applog.AuditEvent("credit.reversed", map[string]any{
		"customer_id": phone, "sale_id": saleID, "delta": e.BalanceDue.StringFixed(2), "balance_due": acct.BalanceDue.StringFixed(2),
	})
	return nil
}

func (l *Ledger) Account(ctx context.Context, customerID string) (domain.CreditAccount, error) {
	if phone, ok := validate.Phone(customerID); ok {
		customerID = phone
	}
	return l.store.Account(ctx, customerID)
}

func (l *Ledger) Accounts(ctx context.Context) ([]domain.CreditAccount, error) {
	return l.store.Accounts(ctx)
}
