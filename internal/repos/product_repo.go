package repos

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"dukapos/internal/domain"
)

type ProductRepo struct{ db *sqlx.DB }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{db: db} }

type productRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Category   string `db:"category"`
	PriceCents int64  `db:"price_cents"`
	LowStock   int    `db:"low_stock_threshold"`
	Qty        int    `db:"qty"`
}

func (r productRow) product() domain.Product {
	return domain.Product{
		ID:                r.ID,
		Name:              r.Name,
		Category:          r.Category,
		UnitPrice:         fromCents(r.PriceCents),
		AvailableQuantity: r.Qty,
		LowStockThreshold: r.LowStock,
	}
}

const productSelect = `
  SELECT p.id, p.name, p.category, p.price_cents, p.low_stock_threshold, COALESCE(i.qty,0) AS qty
  FROM products p
  LEFT JOIN inventory i ON i.product_id = p.id
`

// Find returns the product with its on-hand quantity, or domain.ErrProductNotFound.
func (r *ProductRepo) Find(ctx context.Context, id string) (domain.Product, error) {
	var row productRow
	err := r.db.GetContext(ctx, &row, productSelect+`WHERE p.id = ? AND p.active = 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	return row.product(), nil
}

// Search matches name or category, case-insensitively.
func (r *ProductRepo) Search(ctx context.Context, q string, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + q + "%"
	var rows []productRow
	err := r.db.SelectContext(ctx, &rows, productSelect+`
  WHERE p.active = 1 AND (LOWER(p.name) LIKE LOWER(?) OR LOWER(p.category) LIKE LOWER(?))
  ORDER BY p.name
  LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.product())
	}
	return out, nil
}

// StockRow is the persisted on-hand quantity used to hydrate the stock ledger.
type StockRow struct {
	ProductID string `db:"product_id"`
	Qty       int    `db:"qty"`
}

func (r *ProductRepo) ListStock(ctx context.Context) ([]StockRow, error) {
	var rows []StockRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT p.id AS product_id, COALESCE(i.qty,0) AS qty
		FROM products p
		LEFT JOIN inventory i ON i.product_id = p.id
		WHERE p.active = 1
		ORDER BY p.id
	`)
	return rows, err
}
