package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"dukapos/internal/config"
	"dukapos/internal/http/handlers"
	"dukapos/internal/metrics"
	"dukapos/internal/mpesa"
	"dukapos/internal/repos"
	"dukapos/internal/stock"
)

const (
	cashierEmail = "amina@dukapos.test"
	adminEmail   = "admin@dukapos.test"
	seedPassword = "Passw0rd!"
)

// pushGateway accepts every STK push and leaves the verdict to the test,
// which delivers it through the callback endpoint like Daraja would.
type pushGateway struct {
	mu     sync.Mutex
	pushes []mpesa.PushRequest
	n      int32
}

func (g *pushGateway) STKPush(_ context.Context, req mpesa.PushRequest) (mpesa.PushResponse, error) {
	n := atomic.AddInt32(&g.n, 1)
	g.mu.Lock()
	g.pushes = append(g.pushes, req)
	g.mu.Unlock()
	return mpesa.PushResponse{
		MerchantRequestID: fmt.Sprintf("29115-%d", n),
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", n),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (g *pushGateway) Query(_ context.Context, checkoutID string) (mpesa.StatusUpdate, error) {
	return mpesa.StatusUpdate{CheckoutID: checkoutID, Status: mpesa.StatusPending}, nil
}

func (g *pushGateway) count() int {
	return int(atomic.LoadInt32(&g.n))
}

type testEnv struct {
	app     *fiber.App
	db      *sqlx.DB
	ledger  *stock.Ledger
	gw      *pushGateway
	metrics *metrics.Metrics
}

// newTestEnv builds the real route table over an in-memory database.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvTimeout(t, 3*time.Second)
}

func newTestEnvTimeout(t *testing.T, confirm time.Duration) *testEnv {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)

	ledger := stock.NewLedger()
	t.Cleanup(func() {
		_ = ledger.Close()
		_ = db.Close()
	})
	rows, err := repos.NewProductRepo(db).ListStock(context.Background())
	require.NoError(t, err)
	for _, r := range rows {
		ledger.SetStock(r.ProductID, r.Qty)
	}

	gw := &pushGateway{}
	txRepo := repos.NewMpesaRepo(db)
	client := mpesa.NewClient(gw,
		mpesa.WithPollInterval(0),
		mpesa.WithObserver(func(tr mpesa.Transition) {
			_ = txRepo.Record(context.Background(), tr)
		}),
	)

	cfg := config.Config{
		DBDSN:          ":memory:",
		IdempotencyTTL: time.Hour,
		Mpesa:          config.MpesaConfig{ConfirmTimeout: confirm},
	}
	m := metrics.New()

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB
	app.Use(requestid.New())
	handlers.Register(app, handlers.NewDeps(db, cfg, ledger, client, m))
	app.Use(handlers.NotFound)

	return &testEnv{app: app, db: db, ledger: ledger, gw: gw, metrics: m}
}

func cookieValue(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func jsonRequest(method, target string, body any) *http.Request {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// login signs in and returns the session id.
func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	resp, err := e.app.Test(jsonRequest("POST", "/login", map[string]string{"email": email, "password": seedPassword}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid := cookieValue(resp, "sid")
	require.NotEmpty(t, sid)
	return sid
}

// do sends req with the session cookie and decodes a JSON response into out.
func (e *testEnv) do(t *testing.T, sid string, req *http.Request, out any) *http.Response {
	t.Helper()
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	if out != nil {
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, out), "body: %s", string(b))
	}
	return resp
}

func saleRequest(key string, body map[string]any) *http.Request {
	req := jsonRequest("POST", "/api/v1/sales", body)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func items(pairs ...any) []map[string]any {
	var out []map[string]any
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, map[string]any{"product_id": pairs[i], "quantity": pairs[i+1]})
	}
	return out
}

// stkCallback is a Daraja callback body for checkout. A zero code confirms.
func stkCallback(checkout string, code int, amount int, receipt string) map[string]any {
	cb := map[string]any{
		"MerchantRequestID": "",
		"CheckoutRequestID": checkout,
		"ResultCode":        code,
		"ResultDesc":        "Request cancelled by user",
	}
	if code == 0 {
		cb["ResultDesc"] = "The service request is processed successfully."
		cb["CallbackMetadata"] = map[string]any{"Item": []map[string]any{
			{"Name": "Amount", "Value": amount},
			{"Name": "MpesaReceiptNumber", "Value": receipt},
			{"Name": "TransactionDate", "Value": 20261017101530},
			{"Name": "PhoneNumber", "Value": 254712345678},
		}}
	}
	return map[string]any{"Body": map[string]any{"stkCallback": cb}}
}

func (e *testEnv) persistedQty(t *testing.T, productID string) int {
	t.Helper()
	n, err := repos.NewInventoryRepo(e.db).Qty(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func (e *testEnv) available(t *testing.T, productID string) int {
	t.Helper()
	n, ok := e.ledger.Available(productID)
	require.True(t, ok)
	return n
}

type apiErr struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	ProductID string `json:"product_id"`
}

type logEntry struct {
	Level  string         `json:"level"`
	Action string         `json:"action"`
	Fields map[string]any `json:"fields"`
}

type lockedBuf struct {
	b  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedBuf{b: &buf, mu: &mu})
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	mu.Lock()
	raw := buf.String()
	mu.Unlock()
	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func findLog(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}
