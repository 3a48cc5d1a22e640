package repos

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type InventoryRepo struct{ db *sqlx.DB }

func NewInventoryRepo(db *sqlx.DB) *InventoryRepo { return &InventoryRepo{db: db} }

// Qty returns persisted stock for a product.
// If no row exists, it returns sql.ErrNoRows from sqlx.Get.
func (r *InventoryRepo) Qty(ctx context.Context, productID string) (int, error) {
	var qty int
	err := r.db.GetContext(ctx, &qty, `SELECT qty FROM inventory WHERE product_id = ?`, productID)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// UpsertQty sets qty for productID creating the row if needed.
func (r *InventoryRepo) UpsertQty(ctx context.Context, productID string, qty int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory(product_id, qty, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(product_id) DO UPDATE SET qty = excluded.qty, updated_at = excluded.updated_at
	`, productID, qty)
	return err
}

// decrement subtracts "by" units inside tx if enough stock exists.
func decrement(ctx context.Context, tx *sqlx.Tx, productID string, by int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET qty = qty - ?, updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND qty >= ?
	`, by, productID, by)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("insufficient persisted stock for %s", productID)
	}
	return nil
}
