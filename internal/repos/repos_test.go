package repos_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"dukapos/internal/credit"
	"dukapos/internal/domain"
	"dukapos/internal/mpesa"
	"dukapos/internal/repos"
)

func memdb(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPasswordsSeededAreHashed(t *testing.T) {
	db := memdb(t)
	var hashes []string
	require.NoError(t, db.Select(&hashes, `SELECT password_hash FROM users`))
	require.NotEmpty(t, hashes)
	for _, h := range hashes {
		assert.NotContains(t, h, "Passw0rd!")
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("Passw0rd!")))
	}
}

func TestProductRepo_FindAndSearch(t *testing.T) {
	db := memdb(t)
	r := repos.NewProductRepo(db)
	ctx := context.Background()

	p, err := r.Find(ctx, "sugar-1kg")
	require.NoError(t, err)
	assert.Equal(t, "Sugar 1kg", p.Name)
	assert.Equal(t, "165.00", p.UnitPrice.StringFixed(2))
	assert.Equal(t, 40, p.AvailableQuantity)
	assert.Equal(t, 10, p.LowStockThreshold)

	_, err = r.Find(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	list, err := r.Search(ctx, "MILK", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "milk-500", list[0].ID)

	stock, err := r.ListStock(ctx)
	require.NoError(t, err)
	assert.Len(t, stock, 6)
}

func TestSaleRepo_RecordDecrementsInventory(t *testing.T) {
	db := memdb(t)
	sales := repos.NewSaleRepo(db)
	inv := repos.NewInventoryRepo(db)
	ctx := context.Background()

	sale := domain.Sale{
		ID:            "sale-1",
		ReceiptNumber: "RCP-1700000000123",
		Lines: []domain.CartLine{
			{ProductID: "sugar-1kg", Quantity: 3, UnitPriceSnapshot: decimal.RequireFromString("165")},
			{ProductID: "milk-500", Quantity: 2, UnitPriceSnapshot: decimal.RequireFromString("60")},
		},
		PaymentMethod:  domain.PaymentCash,
		AmountCharged:  decimal.RequireFromString("615"),
		AmountPaid:     decimal.RequireFromString("615"),
		BalanceDue:     decimal.Zero,
		Status:         domain.SaleCommitted,
		CashierID:      "u-amina",
		IdempotencyKey: "key-00000001",
		CreatedAt:      time.Now(),
	}
	require.NoError(t, sales.Record(ctx, sale))

	qty, err := inv.Qty(ctx, "sugar-1kg")
	require.NoError(t, err)
	assert.Equal(t, 37, qty)

	var moves int
	require.NoError(t, db.Get(&moves, `SELECT COUNT(*) FROM stock_movements WHERE sale_id = ? AND change_type = 'CASH'`, "sale-1"))
	assert.Equal(t, 2, moves)

	got, err := sales.ByIdempotencyKey(ctx, "key-00000001")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", got.ID)
	assert.Len(t, got.Lines, 2)
	assert.True(t, got.AmountCharged.Equal(decimal.RequireFromString("615")))

	_, err = sales.Get(ctx, "missing")
	assert.ErrorIs(t, err, repos.ErrSaleNotFound)
}

func TestSaleRepo_RecordRollsBackOnShortStock(t *testing.T) {
	db := memdb(t)
	sales := repos.NewSaleRepo(db)
	ctx := context.Background()

	err := sales.Record(ctx, domain.Sale{
		ID:            "sale-2",
		ReceiptNumber: "RCP-2",
		Lines:         []domain.CartLine{{ProductID: "bread-400", Quantity: 7, UnitPriceSnapshot: decimal.RequireFromString("65")}},
		PaymentMethod: domain.PaymentCash,
		Status:        domain.SaleCommitted,
		CreatedAt:     time.Now(),
	})
	require.Error(t, err)

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM sales`))
	assert.Zero(t, n)
}

func TestCreditRepo_Additive(t *testing.T) {
	db := memdb(t)
	l := credit.NewLedger(repos.NewCreditRepo(db))
	ctx := context.Background()
	c := domain.Customer{Name: "Wanjiru", Phone: "0712345678"}

	_, err := l.RecordCredit(ctx, c, "s1", decimal.RequireFromString("1000"), decimal.RequireFromString("400"))
	require.NoError(t, err)
	acct, err := l.RecordCredit(ctx, c, "s2", decimal.RequireFromString("300"), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "900.00", acct.BalanceDue.StringFixed(2))
	assert.Equal(t, "1300.00", acct.TotalCreditOutstanding.StringFixed(2))

	list, err := l.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = repos.NewCreditRepo(db).Account(ctx, "254700000000")
	assert.ErrorIs(t, err, credit.ErrAccountNotFound)
}

func TestCreditRepo_Reverse(t *testing.T) {
	db := memdb(t)
	l := credit.NewLedger(repos.NewCreditRepo(db))
	ctx := context.Background()
	c := domain.Customer{Name: "Otieno", Phone: "0722000111"}

	_, err := l.RecordCredit(ctx, c, "s1", decimal.RequireFromString("500"), decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, l.ReverseCredit(ctx, c, "s1", decimal.RequireFromString("500"), decimal.Zero))

	acct, err := l.Account(ctx, "0722000111")
	require.NoError(t, err)
	assert.True(t, acct.BalanceDue.IsZero())
	assert.True(t, acct.TotalCreditOutstanding.IsZero())
	assert.Equal(t, "Otieno", acct.Name)

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM credit_transactions WHERE sale_id = 's1'`))
	assert.Equal(t, 2, n)
}

func TestMpesaRepo_RecordAndLookup(t *testing.T) {
	db := memdb(t)
	r := repos.NewMpesaRepo(db)
	ctx := context.Background()

	in := mpesa.Intent{
		RequestID: "att-1", CheckoutID: "ws_CO_1", MerchantRequestID: "mr-1",
		Phone: "254712345678", Amount: decimal.NewFromInt(1500), Status: mpesa.StatusTimedOut,
	}
	require.NoError(t, r.Record(ctx, mpesa.Transition{Intent: in}))
	require.NoError(t, r.Record(ctx, mpesa.Transition{
		Intent: in, Late: true,
		Update: mpesa.StatusUpdate{CheckoutID: "ws_CO_1", Status: mpesa.StatusConfirmed, Receipt: "NLJ7RT61SV"},
	}))

	row, err := r.ByReference(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", row.Status)
	assert.True(t, row.Late)
	assert.Equal(t, "NLJ7RT61SV", row.ReceiptNumber.String)
	assert.Equal(t, int64(150000), row.AmountCents)

	pending, err := r.Unreconciled(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = r.ByReference(ctx, "unknown")
	assert.ErrorIs(t, err, repos.ErrTransactionNotFound)
}

func TestUserRepo_Sessions(t *testing.T) {
	db := memdb(t)
	r := repos.NewUserRepo(db)
	ctx := context.Background()

	u, err := r.ByEmail(ctx, "AMINA@dukapos.test")
	require.NoError(t, err)
	assert.Equal(t, "Amina General Stores", u.BusinessName)

	require.NoError(t, r.BindSession(ctx, "sid-1", u.ID))
	got, err := r.SessionUser(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, r.UnbindSession(ctx, "sid-1"))
	_, err = r.SessionUser(ctx, "sid-1")
	assert.Error(t, err)
}
