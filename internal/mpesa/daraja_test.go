package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukapos/internal/config"
	"dukapos/internal/domain"
)

type fakeDaraja struct {
	tokens  int32
	pushes  int32
	queryFn func(w http.ResponseWriter, body queryBody)
	pushFn  func(w http.ResponseWriter, body pushBody)
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		atomic.AddInt32(&f.tokens, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
	})
	mux.HandleFunc(pushPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var body pushBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		atomic.AddInt32(&f.pushes, 1)
		w.Header().Set("Content-Type", "application/json")
		f.pushFn(w, body)
	})
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		var body queryBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		f.queryFn(w, body)
	})
	return mux
}

func newTestGateway(t *testing.T, f *fakeDaraja) *DarajaGateway {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	g := NewDarajaGateway(config.MpesaConfig{
		BaseURL:           srv.URL,
		ConsumerKey:       "key",
		ConsumerSecret:    "secret",
		PassKey:           "passkey",
		BusinessShortCode: "174379",
		CallbackURL:       "https://pos.example.com/api/v1/mpesa/callback",
		RequestTimeout:    2 * time.Second,
	})
	g.now = func() time.Time { return time.Date(2026, 5, 4, 7, 30, 15, 0, time.UTC) }
	return g
}

func TestDaraja_STKPush(t *testing.T) {
	f := &fakeDaraja{pushFn: func(w http.ResponseWriter, body pushBody) {
		assert.Equal(t, "20260504103015", body.Timestamp, "EAT is UTC+3")
		want := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + "20260504103015"))
		assert.Equal(t, want, body.Password)
		assert.Equal(t, "CustomerPayBillOnline", body.TransactionType)
		assert.Equal(t, int64(1500), body.Amount)
		assert.Equal(t, "254712345678", body.PartyA)
		assert.Equal(t, "174379", body.PartyB)
		_, _ = w.Write([]byte(`{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`))
	}}
	g := newTestGateway(t, f)
	ctx := context.Background()

	resp, err := g.STKPush(ctx, PushRequest{Phone: "254712345678", Amount: 1500, Reference: "RCP-1", Description: "Payment of goods"})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)

	_, err = g.STKPush(ctx, PushRequest{Phone: "254712345678", Amount: 10, Reference: "RCP-2"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.tokens), "token is cached")
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.pushes))
}

func TestDaraja_STKPushRejected(t *testing.T) {
	f := &fakeDaraja{pushFn: func(w http.ResponseWriter, _ pushBody) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"1-2","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
	}}
	g := newTestGateway(t, f)

	_, err := g.STKPush(context.Background(), PushRequest{Phone: "254712345678", Amount: 10, Reference: "x"})
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Contains(t, err.Error(), "Invalid PhoneNumber")
}

func TestDaraja_STKPushServerErrorIsNotARejection(t *testing.T) {
	f := &fakeDaraja{pushFn: func(w http.ResponseWriter, _ pushBody) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}}
	g := newTestGateway(t, f)

	_, err := g.STKPush(context.Background(), PushRequest{Phone: "254712345678", Amount: 10, Reference: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrGatewayRejected)
	assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestDaraja_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := &fakeDaraja{pushFn: func(w http.ResponseWriter, _ pushBody) {
		w.WriteHeader(http.StatusInternalServerError)
	}}
	g := newTestGateway(t, f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.STKPush(ctx, PushRequest{Phone: "254712345678", Amount: 10, Reference: "x"})
		require.Error(t, err)
	}
	_, err := g.STKPush(ctx, PushRequest{Phone: "254712345678", Amount: 10, Reference: "x"})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, int32(5), atomic.LoadInt32(&f.pushes), "open breaker short-circuits")
}

func TestDaraja_Query(t *testing.T) {
	var calls int32
	f := &fakeDaraja{queryFn: func(w http.ResponseWriter, body queryBody) {
		assert.Equal(t, "ws_CO_1", body.CheckoutRequestID)
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"requestId":"r","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`))
		case 2:
			_, _ = w.Write([]byte(`{"ResponseCode":"0","MerchantRequestID":"mr","CheckoutRequestID":"ws_CO_1","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`))
		default:
			_, _ = w.Write([]byte(`{"ResponseCode":"0","MerchantRequestID":"mr","CheckoutRequestID":"ws_CO_1","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`))
		}
	}}
	g := newTestGateway(t, f)
	ctx := context.Background()

	up, err := g.Query(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, up.Status)

	up, err = g.Query(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, up.Status)
	assert.Equal(t, 1032, up.ResultCode)

	up, err = g.Query(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, up.Status)
	assert.Equal(t, "poll", up.Source)
}
