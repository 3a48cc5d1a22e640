package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dukapos/internal/mpesa"
)

var ErrTransactionNotFound = errors.New("mpesa transaction not found")

type MpesaRepo struct{ db *sqlx.DB }

func NewMpesaRepo(db *sqlx.DB) *MpesaRepo { return &MpesaRepo{db: db} }

// TransactionRow is one persisted gateway verdict.
type TransactionRow struct {
	RequestID         string         `db:"request_id" json:"request_id"`
	MerchantRequestID sql.NullString `db:"merchant_request_id" json:"-"`
	CheckoutRequestID sql.NullString `db:"checkout_request_id" json:"-"`
	ResultCode        int            `db:"result_code" json:"result_code"`
	Status            string         `db:"status" json:"status"`
	AmountCents       int64          `db:"amount_cents" json:"amount_cents"`
	PhoneNumber       sql.NullString `db:"phone_number" json:"-"`
	ReceiptNumber     sql.NullString `db:"receipt_number" json:"-"`
	TransactionDate   sql.NullString `db:"transaction_date" json:"-"`
	Description       sql.NullString `db:"description" json:"-"`
	Late              bool           `db:"late" json:"late"`
	CreatedAt         string         `db:"created_at" json:"created_at"`
}

// Record stores a settled, failed, timed-out or late transition.
func (r *MpesaRepo) Record(ctx context.Context, t mpesa.Transition) error {
	in, up := t.Intent, t.Update
	status := string(in.Status)
	receipt := in.ExternalReference
	if t.Late {
		status = string(up.Status)
		receipt = up.Receipt
	}
	resultCode := in.ResultCode
	if up.Status != "" {
		resultCode = up.ResultCode
	}
	desc := in.Description
	if up.Description != "" {
		desc = up.Description
	}
	phone := in.Phone
	if up.Phone != "" {
		phone = up.Phone
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mpesa_transactions
		  (request_id, merchant_request_id, checkout_request_id, result_code, status, amount_cents,
		   phone_number, receipt_number, transaction_date, description, late, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, in.RequestID, nullable(in.MerchantRequestID), nullable(in.CheckoutID), resultCode, status,
		toCents(in.Amount), nullable(phone), nullable(receipt), nullable(up.TransactionDate), nullable(desc),
		t.Late, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// ByReference returns the newest row for a request, checkout or merchant request id.
func (r *MpesaRepo) ByReference(ctx context.Context, ref string) (TransactionRow, error) {
	var row TransactionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT request_id, merchant_request_id, checkout_request_id, result_code, status, amount_cents,
		       phone_number, receipt_number, transaction_date, description, late, created_at
		FROM mpesa_transactions
		WHERE request_id = ? OR checkout_request_id = ? OR merchant_request_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, ref, ref, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return TransactionRow{}, ErrTransactionNotFound
	}
	return row, err
}

// Unreconciled lists late verdicts, newest first, for operators to settle by hand.
func (r *MpesaRepo) Unreconciled(ctx context.Context, limit int) ([]TransactionRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []TransactionRow
	err := r.db.SelectContext(ctx, &out, `
		SELECT request_id, merchant_request_id, checkout_request_id, result_code, status, amount_cents,
		       phone_number, receipt_number, transaction_date, description, late, created_at
		FROM mpesa_transactions
		WHERE late = 1 OR status = 'TIMED_OUT'
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	return out, err
}
