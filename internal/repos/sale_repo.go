package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dukapos/internal/domain"
)

var ErrSaleNotFound = errors.New("sale not found")

type SaleRepo struct{ db *sqlx.DB }

func NewSaleRepo(db *sqlx.DB) *SaleRepo { return &SaleRepo{db: db} }

type saleRow struct {
	ID                string         `db:"id"`
	ReceiptNumber     string         `db:"receipt_number"`
	PaymentMethod     string         `db:"payment_method"`
	AmountCharged     int64          `db:"amount_charged_cents"`
	AmountPaid        int64          `db:"amount_paid_cents"`
	BalanceDue        int64          `db:"balance_due_cents"`
	Status            string         `db:"status"`
	ExternalReference sql.NullString `db:"external_reference"`
	CustomerName      sql.NullString `db:"customer_name"`
	CustomerPhone     sql.NullString `db:"customer_phone"`
	CashierID         sql.NullString `db:"cashier_id"`
	IdempotencyKey    sql.NullString `db:"idempotency_key"`
	CreatedAt         string         `db:"created_at"`
}

type saleLineRow struct {
	ProductID string `db:"product_id"`
	Qty       int    `db:"qty"`
	UnitPrice int64  `db:"unit_price_cents"`
}

// SaleSummary backs the sales list.
type SaleSummary struct {
	ID            string `db:"id" json:"id"`
	ReceiptNumber string `db:"receipt_number" json:"receipt_number"`
	PaymentMethod string `db:"payment_method" json:"payment_method"`
	AmountCharged int64  `db:"amount_charged_cents" json:"amount_charged_cents"`
	BalanceDue    int64  `db:"balance_due_cents" json:"balance_due_cents"`
	CreatedAt     string `db:"created_at" json:"created_at"`
}

func nullable(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

// Record persists a committed sale: header, lines, one stock movement per line
// and the matching inventory decrement, all in one transaction.
func (r *SaleRepo) Record(ctx context.Context, s domain.Sale) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := s.CreatedAt.UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
	  INSERT INTO sales
	    (id, receipt_number, payment_method, amount_charged_cents, amount_paid_cents, balance_due_cents,
	     status, external_reference, customer_name, customer_phone, cashier_id, idempotency_key, created_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.ReceiptNumber, string(s.PaymentMethod), toCents(s.AmountCharged), toCents(s.AmountPaid),
		toCents(s.BalanceDue), string(s.Status), nullable(s.ExternalReference), nullable(s.CustomerName),
		nullable(s.CustomerPhone), nullable(s.CashierID), nullable(s.IdempotencyKey), createdAt); err != nil {
		return err
	}

	for _, l := range s.Lines {
		if _, err := tx.ExecContext(ctx, `
		  INSERT INTO sale_lines(sale_id, product_id, qty, unit_price_cents) VALUES(?, ?, ?, ?)
		`, s.ID, l.ProductID, l.Quantity, toCents(l.UnitPriceSnapshot)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
		  INSERT INTO stock_movements(product_id, sale_id, change_type, quantity_change, created_at)
		  VALUES(?, ?, ?, ?, ?)
		`, l.ProductID, s.ID, string(s.PaymentMethod), -l.Quantity, createdAt); err != nil {
			return err
		}
		if err := decrement(ctx, tx, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SaleRepo) Get(ctx context.Context, id string) (domain.Sale, error) {
	return r.getWhere(ctx, `id = ?`, id)
}

// ByIdempotencyKey finds a sale committed under key, surviving process restarts.
func (r *SaleRepo) ByIdempotencyKey(ctx context.Context, key string) (domain.Sale, error) {
	return r.getWhere(ctx, `idempotency_key = ?`, key)
}

func (r *SaleRepo) getWhere(ctx context.Context, where string, arg any) (domain.Sale, error) {
	var row saleRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, receipt_number, payment_method, amount_charged_cents, amount_paid_cents, balance_due_cents,
		       status, external_reference, customer_name, customer_phone, cashier_id, idempotency_key, created_at
		FROM sales WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return domain.Sale{}, err
	}

	var lines []saleLineRow
	if err := r.db.SelectContext(ctx, &lines, `
		SELECT product_id, qty, unit_price_cents FROM sale_lines WHERE sale_id = ? ORDER BY rowid
	`, row.ID); err != nil {
		return domain.Sale{}, err
	}

	created, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	s := domain.Sale{
		ID:                row.ID,
		ReceiptNumber:     row.ReceiptNumber,
		PaymentMethod:     domain.PaymentMethod(row.PaymentMethod),
		AmountCharged:     fromCents(row.AmountCharged),
		AmountPaid:        fromCents(row.AmountPaid),
		BalanceDue:        fromCents(row.BalanceDue),
		Status:            domain.SaleStatus(row.Status),
		ExternalReference: row.ExternalReference.String,
		CustomerName:      row.CustomerName.String,
		CustomerPhone:     row.CustomerPhone.String,
		CashierID:         row.CashierID.String,
		IdempotencyKey:    row.IdempotencyKey.String,
		CreatedAt:         created,
	}
	for _, l := range lines {
		s.Lines = append(s.Lines, domain.CartLine{ProductID: l.ProductID, Quantity: l.Qty, UnitPriceSnapshot: fromCents(l.UnitPrice)})
	}
	return s, nil
}

func (r *SaleRepo) ListLatest(ctx context.Context, limit int) ([]SaleSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []SaleSummary
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, receipt_number, payment_method, amount_charged_cents, balance_due_cents, created_at
		FROM sales
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	return out, err
}
