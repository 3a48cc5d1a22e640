package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dukapos/internal/credit"
	"dukapos/internal/domain"
)

// CreditRepo is the SQLite credit.Store.
type CreditRepo struct{ db *sqlx.DB }

func NewCreditRepo(db *sqlx.DB) *CreditRepo { return &CreditRepo{db: db} }

type creditRow struct {
	CustomerID  string         `db:"customer_id"`
	Name        string         `db:"name"`
	TotalCredit int64          `db:"total_credit_cents"`
	BalanceDue  int64          `db:"balance_due_cents"`
	UpdatedAt   sql.NullString `db:"updated_at"`
}

func (r creditRow) account() domain.CreditAccount {
	updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt.String)
	return domain.CreditAccount{
		CustomerID:             r.CustomerID,
		Name:                   r.Name,
		TotalCreditOutstanding: fromCents(r.TotalCredit),
		BalanceDue:             fromCents(r.BalanceDue),
		UpdatedAt:              updated,
	}
}

// Apply adds the entry to the account and keeps the transaction row.
func (r *CreditRepo) Apply(ctx context.Context, e credit.Entry) (domain.CreditAccount, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.CreditAccount{}, err
	}
	defer func() { _ = tx.Rollback() }()

	at := e.At.UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts(customer_id, name, total_credit_cents, balance_due_cents, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
		  name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE credit_accounts.name END,
		  total_credit_cents = credit_accounts.total_credit_cents + excluded.total_credit_cents,
		  balance_due_cents = credit_accounts.balance_due_cents + excluded.balance_due_cents,
		  updated_at = excluded.updated_at
	`, e.CustomerID, e.Name, toCents(e.Total), toCents(e.BalanceDue), at); err != nil {
		return domain.CreditAccount{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions(customer_id, sale_id, total_cents, paid_cents, balance_due_cents, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, e.CustomerID, nullable(e.SaleID), toCents(e.Total), toCents(e.Paid), toCents(e.BalanceDue), at); err != nil {
		return domain.CreditAccount{}, err
	}

	var row creditRow
	if err := tx.GetContext(ctx, &row, `
		SELECT customer_id, name, total_credit_cents, balance_due_cents, updated_at
		FROM credit_accounts WHERE customer_id = ?
	`, e.CustomerID); err != nil {
		return domain.CreditAccount{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CreditAccount{}, err
	}
	return row.account(), nil
}

func (r *CreditRepo) Account(ctx context.Context, customerID string) (domain.CreditAccount, error) {
	var row creditRow
	err := r.db.GetContext(ctx, &row, `
		SELECT customer_id, name, total_credit_cents, balance_due_cents, updated_at
		FROM credit_accounts WHERE customer_id = ?
	`, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CreditAccount{}, credit.ErrAccountNotFound
	}
	if err != nil {
		return domain.CreditAccount{}, err
	}
	return row.account(), nil
}

// Accounts lists accounts with the largest balance first.
func (r *CreditRepo) Accounts(ctx context.Context) ([]domain.CreditAccount, error) {
	var rows []creditRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT customer_id, name, total_credit_cents, balance_due_cents, updated_at
		FROM credit_accounts
		ORDER BY balance_due_cents DESC, customer_id
	`); err != nil {
		return nil, err
	}
	out := make([]domain.CreditAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.account())
	}
	return out, nil
}
