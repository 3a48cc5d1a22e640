package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/internal/cart"
	"dukapos/internal/credit"
	"dukapos/internal/domain"
	"dukapos/internal/metrics"
	"dukapos/internal/mpesa"
	"dukapos/internal/services"
	"dukapos/internal/stock"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeCatalog struct {
	mu    sync.Mutex
	prods map[string]domain.Product
	finds int32
	block chan struct{} // when set, Find waits on it
}

func newFakeCatalog(ps ...domain.Product) *fakeCatalog {
	c := &fakeCatalog{prods: make(map[string]domain.Product)}
	for _, p := range ps {
		c.prods[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) Find(_ context.Context, id string) (domain.Product, error) {
	atomic.AddInt32(&c.finds, 1)
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prods[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (c *fakeCatalog) Search(_ context.Context, q string, limit int) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Product
	for _, p := range c.prods {
		if strings.Contains(strings.ToLower(p.Name), q) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *fakeCatalog) setPrice(id string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.prods[id]
	p.UnitPrice = price
	c.prods[id] = p
}

func (c *fakeCatalog) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prods, id)
}

// stubGateway accepts every push. With confirm set it delivers a success
// callback shortly after, the way Daraja would.
// errs[i], when set, is returned by push i+1 instead of an acceptance.
type stubGateway struct {
	pushes  int32
	confirm bool
	fail    bool
	errs    []error
	client  *mpesa.Client
}

func (g *stubGateway) STKPush(_ context.Context, req mpesa.PushRequest) (mpesa.PushResponse, error) {
	n := atomic.AddInt32(&g.pushes, 1)
	if int(n) <= len(g.errs) && g.errs[n-1] != nil {
		return mpesa.PushResponse{}, g.errs[n-1]
	}
	checkout := fmt.Sprintf("ws_CO_%d", n)
	if g.confirm || g.fail {
		up := mpesa.StatusUpdate{CheckoutID: checkout, Status: mpesa.StatusConfirmed, Receipt: fmt.Sprintf("RCPT%d", n), Source: "callback"}
		if g.fail {
			up = mpesa.StatusUpdate{CheckoutID: checkout, Status: mpesa.StatusFailed, ResultCode: 1032, Description: "Request cancelled by user"}
		}
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = g.client.Apply(up)
		}()
	}
	return mpesa.PushResponse{CheckoutRequestID: checkout, MerchantRequestID: fmt.Sprintf("mr-%d", n), ResponseCode: "0"}, nil
}

func (g *stubGateway) Query(_ context.Context, checkoutID string) (mpesa.StatusUpdate, error) {
	return mpesa.StatusUpdate{CheckoutID: checkoutID, Status: mpesa.StatusPending}, nil
}

// hookStore runs before once, ahead of the next Apply.
type hookStore struct {
	*credit.MemoryStore
	mu     sync.Mutex
	before func()
}

func (h *hookStore) Apply(ctx context.Context, e credit.Entry) (domain.CreditAccount, error) {
	h.mu.Lock()
	f := h.before
	h.before = nil
	h.mu.Unlock()
	if f != nil {
		f()
	}
	return h.MemoryStore.Apply(ctx, e)
}

type memSales struct {
	mu    sync.Mutex
	sales []domain.Sale
	err   error
}

func (m *memSales) Record(_ context.Context, s domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sales = append(m.sales, s)
	return nil
}

func (m *memSales) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales)
}

type fixture struct {
	svc     *services.SaleService
	ledger  *stock.Ledger
	catalog *fakeCatalog
	gw      *stubGateway
	credits *credit.Ledger
	sales   *memSales
	metrics *metrics.Metrics
}

var errDisk = errors.New("disk full")

func newFixture(t *testing.T, confirmTimeout time.Duration) *fixture {
	t.Helper()
	catalog := newFakeCatalog(
		domain.Product{ID: "sugar-1kg", Name: "Sugar 1kg", UnitPrice: d("500"), LowStockThreshold: 5},
		domain.Product{ID: "milk-500", Name: "Fresh Milk 500ml", UnitPrice: d("250"), LowStockThreshold: 5},
		domain.Product{ID: "bread-400", Name: "White Bread 400g", UnitPrice: d("65.50"), LowStockThreshold: 2},
	)
	ledger := stock.NewLedger()
	t.Cleanup(func() { _ = ledger.Close() })
	ledger.SetStock("sugar-1kg", 10)
	ledger.SetStock("milk-500", 10)
	ledger.SetStock("bread-400", 3)

	gw := &stubGateway{}
	client := mpesa.NewClient(gw, mpesa.WithPollInterval(0))
	gw.client = client

	credits := credit.NewLedger(credit.NewMemoryStore())
	sales := &memSales{}
	m := metrics.New()
	svc := services.NewSaleService(services.NewCatalogService(catalog, ledger), ledger, client, credits, sales, m, confirmTimeout, time.Hour)

	return &fixture{svc: svc, ledger: ledger, catalog: catalog, gw: gw, credits: credits, sales: sales, metrics: m}
}

// cart1500 is 2 × sugar at 500 and 2 × milk at 250.
func cart1500(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	if err := c.AddLine("sugar-1kg", 2, d("500")); err != nil {
		t.Fatal(err)
	}
	if err := c.AddLine("milk-500", 2, d("250")); err != nil {
		t.Fatal(err)
	}
	return c
}

// cart1000 is 2 × sugar at 500.
func cart1000(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	if err := c.AddLine("sugar-1kg", 2, d("500")); err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) total(id string) int {
	s, _ := f.ledger.Snapshot(id)
	return s.Total
}

func (f *fixture) available(id string) int {
	n, _ := f.ledger.Available(id)
	return n
}
