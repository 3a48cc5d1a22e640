package mpesa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"

	"dukapos/internal/config"
	"dukapos/internal/domain"
	applog "dukapos/internal/log"
)

const (
	tokenPath = "/oauth/v1/generate"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	transactionType = "CustomerPayBillOnline"
	// Daraja answers a query for a checkout it is still processing with this code.
	stillProcessing = "500.001.1001"
)

// Daraja expects timestamps in East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type pushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type queryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// DarajaGateway talks to the Daraja REST API. Calls go through a circuit breaker
// so a degraded gateway fails fast instead of stalling every checkout.
type DarajaGateway struct {
	http *resty.Client
	cb   *gobreaker.CircuitBreaker[*resty.Response]
	cfg  config.MpesaConfig
	now  func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewDarajaGateway(cfg config.MpesaConfig) *DarajaGateway {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json")

	cb := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "daraja",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// a rejected request means the gateway is healthy
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrGatewayRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			applog.WarnEvent("mpesa.breaker.state", map[string]any{
				"name": name, "from": from.String(), "to": to.String(),
			})
		},
	})

	return &DarajaGateway{http: client, cb: cb, cfg: cfg, now: time.Now}
}

// password returns the STK password and the timestamp it was derived from.
func (g *DarajaGateway) password() (string, string) {
	ts := g.now().In(eat).Format("20060102150405")
	raw := g.cfg.BusinessShortCode + g.cfg.PassKey + ts
	return base64.StdEncoding.EncodeToString([]byte(raw)), ts
}

func (g *DarajaGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.tokenExp) {
		return g.token, nil
	}

	var out tokenResponse
	var derr darajaError
	resp, err := g.cb.Execute(func() (*resty.Response, error) {
		r, err := g.http.R().
			SetContext(ctx).
			SetBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret).
			SetQueryParam("grant_type", "client_credentials").
			SetResult(&out).
			SetError(&derr).
			Get(tokenPath)
		return r, classify(r, err, derr)
	})
	if err != nil {
		return "", fmt.Errorf("daraja token: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("daraja token: empty access token (status %d)", resp.StatusCode())
	}

	ttl, convErr := strconv.Atoi(out.ExpiresIn)
	if convErr != nil || ttl <= 0 {
		ttl = 3599
	}
	g.token = out.AccessToken
	// refresh a minute early so an in-flight call never carries a stale token
	g.tokenExp = g.now().Add(time.Duration(ttl)*time.Second - time.Minute)
	return g.token, nil
}

func (g *DarajaGateway) STKPush(ctx context.Context, req PushRequest) (PushResponse, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return PushResponse{}, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	pass, ts := g.password()
	body := pushBody{
		BusinessShortCode: g.cfg.BusinessShortCode,
		Password:          pass,
		Timestamp:         ts,
		TransactionType:   transactionType,
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            g.cfg.BusinessShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       g.cfg.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   req.Description,
	}

	var out PushResponse
	var derr darajaError
	_, err = g.cb.Execute(func() (*resty.Response, error) {
		r, err := g.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(body).
			SetResult(&out).
			SetError(&derr).
			Post(pushPath)
		return r, classify(r, err, derr)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return PushResponse{}, fmt.Errorf("%w: daraja stk push: %w", domain.ErrGatewayUnavailable, err)
	}
	if err != nil {
		return PushResponse{}, fmt.Errorf("daraja stk push: %w", err)
	}
	if out.ResponseCode != "0" {
		return out, fmt.Errorf("%w: %s (code %s)", domain.ErrGatewayRejected, out.ResponseDescription, out.ResponseCode)
	}
	return out, nil
}

func (g *DarajaGateway) Query(ctx context.Context, checkoutID string) (StatusUpdate, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return StatusUpdate{}, err
	}
	pass, ts := g.password()
	body := queryBody{
		BusinessShortCode: g.cfg.BusinessShortCode,
		Password:          pass,
		Timestamp:         ts,
		CheckoutRequestID: checkoutID,
	}

	var out queryResponse
	var derr darajaError
	_, err = g.cb.Execute(func() (*resty.Response, error) {
		r, err := g.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(body).
			SetResult(&out).
			SetError(&derr).
			Post(queryPath)
		if err == nil && r.IsError() && derr.ErrorCode == stillProcessing {
			return r, nil
		}
		return r, classify(r, err, derr)
	})
	if err != nil {
		return StatusUpdate{}, fmt.Errorf("daraja query: %w", err)
	}

	up := StatusUpdate{
		MerchantRequestID: out.MerchantRequestID,
		CheckoutID:        checkoutID,
		Status:            StatusPending,
		Description:       out.ResultDesc,
		Source:            "poll",
	}
	if derr.ErrorCode == stillProcessing || out.ResultCode == "" {
		up.Description = derr.ErrorMessage
		return up, nil
	}
	code, convErr := strconv.Atoi(out.ResultCode)
	if convErr != nil {
		return StatusUpdate{}, fmt.Errorf("daraja query: bad result code %q", out.ResultCode)
	}
	up.ResultCode = code
	up.Status = StatusFailed
	if code == 0 {
		up.Status = StatusConfirmed
	}
	return up, nil
}

// classify turns a resty outcome into an error the breaker can judge: 4xx is a
// rejection, 5xx and transport failures count against the gateway.
func classify(r *resty.Response, err error, derr darajaError) error {
	if err != nil {
		return err
	}
	if !r.IsError() {
		return nil
	}
	msg := derr.ErrorMessage
	if msg == "" {
		msg = http.StatusText(r.StatusCode())
	}
	if r.StatusCode() < http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", domain.ErrGatewayRejected, msg)
	}
	return fmt.Errorf("gateway status %d: %s", r.StatusCode(), msg)
}
