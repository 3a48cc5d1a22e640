package repos

import (
	"log"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" a single shared database
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	// Seed the kiosk catalog if DB is empty
	if err := seedIfEmpty(db); err != nil {
		return nil, err
	}
	// Ensure cashiers exist (idempotent; safe to run every start)
	if err := seedUsers(db); err != nil {
		return nil, err
	}

	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

-- Products (prices in cents)
CREATE TABLE IF NOT EXISTS products(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
  low_stock_threshold INTEGER NOT NULL DEFAULT 5,
  active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_products_name     ON products(LOWER(name));
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);

-- Inventory (single store)
CREATE TABLE IF NOT EXISTS inventory(
  product_id TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
  qty INTEGER NOT NULL DEFAULT 0 CHECK (qty >= 0),
  updated_at TEXT
);

-- Sales
CREATE TABLE IF NOT EXISTS sales(
  id TEXT PRIMARY KEY,
  receipt_number TEXT NOT NULL UNIQUE,
  payment_method TEXT NOT NULL CHECK (payment_method IN ('CASH','MPESA','CREDIT')),
  amount_charged_cents INTEGER NOT NULL,
  amount_paid_cents INTEGER NOT NULL,
  balance_due_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'COMMITTED',
  external_reference TEXT,
  customer_name TEXT,
  customer_phone TEXT,
  cashier_id TEXT,
  idempotency_key TEXT UNIQUE,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at);

CREATE TABLE IF NOT EXISTS sale_lines(
  sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
  product_id TEXT NOT NULL REFERENCES products(id),
  qty INTEGER NOT NULL CHECK (qty >= 1),
  unit_price_cents INTEGER NOT NULL,
  PRIMARY KEY (sale_id, product_id)
);

CREATE TABLE IF NOT EXISTS stock_movements(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  product_id TEXT NOT NULL REFERENCES products(id),
  sale_id TEXT REFERENCES sales(id),
  change_type TEXT NOT NULL,
  quantity_change INTEGER NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_movements_product ON stock_movements(product_id);

-- Credit
CREATE TABLE IF NOT EXISTS credit_accounts(
  customer_id TEXT PRIMARY KEY,    -- normalized phone
  name TEXT NOT NULL DEFAULT '',
  total_credit_cents INTEGER NOT NULL DEFAULT 0,
  balance_due_cents INTEGER NOT NULL DEFAULT 0 CHECK (balance_due_cents >= 0),
  updated_at TEXT
);

CREATE TABLE IF NOT EXISTS credit_transactions(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  customer_id TEXT NOT NULL REFERENCES credit_accounts(customer_id),
  sale_id TEXT,
  total_cents INTEGER NOT NULL,
  paid_cents INTEGER NOT NULL,
  balance_due_cents INTEGER NOT NULL,
  created_at TEXT NOT NULL
);

-- M-Pesa audit trail, one row per settled or late verdict
CREATE TABLE IF NOT EXISTS mpesa_transactions(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  request_id TEXT NOT NULL,
  merchant_request_id TEXT,
  checkout_request_id TEXT,
  result_code INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  phone_number TEXT,
  receipt_number TEXT,
  transaction_date TEXT,
  description TEXT,
  late INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mpesa_checkout ON mpesa_transactions(checkout_request_id);
CREATE INDEX IF NOT EXISTS idx_mpesa_merchant ON mpesa_transactions(merchant_request_id);

-- Users & Sessions
CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  business_name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('CASHIER','ADMIN')),
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
`
	_, err := db.Exec(schema)
	return err
}

func seedIfEmpty(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM products`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting demo products/inventory")

	tx := db.MustBegin()
	tx.MustExec(`INSERT INTO products(id,name,category,price_cents,low_stock_threshold) VALUES
	  ('sugar-1kg','Sugar 1kg','Groceries',16500,10),
	  ('milk-500','Fresh Milk 500ml','Dairy',6000,12),
	  ('bread-400','White Bread 400g','Bakery',6500,8),
	  ('maize-2kg','Maize Flour 2kg','Groceries',18000,6),
	  ('soap-bar','Bar Soap 800g','Household',25000,4),
	  ('airtime-100','Airtime 100','Services',10000,0)`)

	tx.MustExec(`INSERT INTO inventory(product_id,qty) VALUES
	  ('sugar-1kg',40),
	  ('milk-500',24),
	  ('bread-400',6),
	  ('maize-2kg',15),
	  ('soap-bar',0),
	  ('airtime-100',500)`)

	return tx.Commit()
}

// seedUsers ensures one cashier and one admin exist (idempotent).
func seedUsers(db *sqlx.DB) error {
	type u struct {
		ID, Email, Name, Business, Role, Hash string
	}
	mk := func(id, email, name, business, role, raw string) u {
		h, _ := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		return u{ID: id, Email: email, Name: name, Business: business, Role: role, Hash: string(h)}
	}

	users := []u{
		mk("u-amina", "amina@dukapos.test", "Amina", "Amina General Stores", "CASHIER", "Passw0rd!"),
		mk("u-admin", "admin@dukapos.test", "Admin", "Amina General Stores", "ADMIN", "Passw0rd!"),
	}

	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	for _, x := range users {
		if _, err := tx.Exec(`
			INSERT INTO users(id,email,name,business_name,password_hash,role)
			VALUES(?,?,?,?,?,?)
			ON CONFLICT(email) DO NOTHING
		`, x.ID, x.Email, x.Name, x.Business, x.Hash, x.Role); err != nil {
			return err
		}
	}

	return tx.Commit()
}
