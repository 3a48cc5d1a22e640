package mpesa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
	applog "dukapos/internal/log"
	"dukapos/internal/validate"
)

var (
	ErrIntentNotFound = errors.New("payment intent not found")
	ErrUnmatched      = errors.New("update does not match a known checkout")
)

// orphanTTL bounds how long an update for an unknown checkout is held in case
// the STK push response that names it is still in flight.
const orphanTTL = 10 * time.Minute

type entry struct {
	intent Intent
	done   chan struct{} // closed once the intent is terminal
}

type orphan struct {
	update     StatusUpdate
	receivedAt time.Time
}

// Client owns PaymentIntents. Callback and poll results both go through Apply,
// so the two delivery paths share one transition function.
type Client struct {
	gw           Gateway
	pollInterval time.Duration
	retention    time.Duration
	description  string
	now          func() time.Time
	observers    []func(Transition)

	mu         sync.Mutex
	intents    map[string]*entry // by request id
	byCheckout map[string]string // checkout id -> request id
	byMerchant map[string]string
	orphans    map[string]orphan
}

type ClientOption func(*Client)

// WithPollInterval sets how often Await queries the gateway. Zero waits for
// callbacks only.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.pollInterval = d }
}

// WithRetention controls how long settled intents stay available to Lookup.
func WithRetention(d time.Duration) ClientOption {
	return func(c *Client) { c.retention = d }
}

func WithDescription(s string) ClientOption {
	return func(c *Client) { c.description = s }
}

// WithObserver registers fn for every settled or late transition. Observers run
// outside the client lock.
func WithObserver(fn func(Transition)) ClientOption {
	return func(c *Client) { c.observers = append(c.observers, fn) }
}

func withClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(gw Gateway, opts ...ClientOption) *Client {
	c := &Client{
		gw:           gw,
		pollInterval: 5 * time.Second,
		retention:    24 * time.Hour,
		description:  "Payment of goods",
		now:          time.Now,
		intents:      make(map[string]*entry),
		byCheckout:   make(map[string]string),
		byMerchant:   make(map[string]string),
		orphans:      make(map[string]orphan),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initiate sends one STK push for reference. A second call with the same
// reference returns the existing intent instead of charging again.
func (c *Client) Initiate(ctx context.Context, phone string, amount decimal.Decimal, reference string) (Intent, error) {
	msisdn, ok := validate.Phone(phone)
	if !ok {
		return Intent{}, domain.ErrInvalidPhoneNumber
	}
	if !amount.IsPositive() {
		return Intent{}, fmt.Errorf("%w: amount must be greater than 0", domain.ErrGatewayRejected)
	}
	if !amount.Equal(amount.Truncate(0)) {
		return Intent{}, fmt.Errorf("%w: amount %s has a fractional part", domain.ErrGatewayRejected, amount.StringFixed(2))
	}
	if reference == "" {
		return Intent{}, fmt.Errorf("%w: reference required", domain.ErrGatewayRejected)
	}

	c.mu.Lock()
	c.pruneLocked()
	if e, ok := c.intents[reference]; ok {
		in := e.intent
		c.mu.Unlock()
		return in, nil
	}
	now := c.now()
	e := &entry{
		intent: Intent{
			RequestID: reference,
			Phone:     msisdn,
			Amount:    amount,
			Status:    StatusCreated,
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}
	c.intents[reference] = e
	c.mu.Unlock()

	resp, err := c.gw.STKPush(ctx, PushRequest{
		Phone:       msisdn,
		Amount:      amount.IntPart(),
		Reference:   accountReference(reference),
		Description: c.description,
	})
	if err != nil {
		in := c.fail(reference, err.Error())
		if !errors.Is(err, domain.ErrGatewayRejected) && !errors.Is(err, domain.ErrGatewayUnavailable) {
			// the request may have reached the gateway before the transport failed
			applog.AuditEvent("mpesa.reconcile.required", reconcileFields(in, "push outcome unknown"))
		}
		return in, err
	}

	c.mu.Lock()
	e.intent.Status = StatusPending
	e.intent.CheckoutID = resp.CheckoutRequestID
	e.intent.MerchantRequestID = resp.MerchantRequestID
	e.intent.Description = resp.CustomerMessage
	e.intent.UpdatedAt = c.now()
	c.byCheckout[resp.CheckoutRequestID] = reference
	if resp.MerchantRequestID != "" {
		c.byMerchant[resp.MerchantRequestID] = reference
	}
	o, early := c.orphans[resp.CheckoutRequestID]
	delete(c.orphans, resp.CheckoutRequestID)
	in := e.intent
	c.mu.Unlock()

	applog.InfoEvent("mpesa.stk.pending", map[string]any{
		"request_id": reference, "checkout_id": in.CheckoutID, "amount": amount.String(),
	})
	if early {
		if err := c.Apply(o.update); err != nil {
			return in, err
		}
		in, _ = c.Lookup(reference)
	}
	return in, nil
}

// Await blocks until the intent is terminal or timeout elapses, in which case the
// intent becomes TimedOut. A timed-out charge is never retried: it is reported
// for reconciliation because it may still complete on the customer's handset.
func (c *Client) Await(ctx context.Context, requestID string, timeout time.Duration) (Intent, error) {
	c.mu.Lock()
	e, ok := c.intents[requestID]
	c.mu.Unlock()
	if !ok {
		return Intent{}, ErrIntentNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var tick <-chan time.Time
	if c.pollInterval > 0 {
		t := time.NewTicker(c.pollInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-e.done:
			return c.snapshot(e), nil
		case <-tick:
			c.poll(ctx, e)
		case <-timer.C:
			return c.timeout(e), nil
		case <-ctx.Done():
			return c.snapshot(e), ctx.Err()
		}
	}
}

func (c *Client) poll(ctx context.Context, e *entry) {
	in := c.snapshot(e)
	if in.CheckoutID == "" || in.Status.Terminal() {
		return
	}
	up, err := c.gw.Query(ctx, in.CheckoutID)
	if err != nil {
		applog.WarnEvent("mpesa.query.failed", map[string]any{
			"request_id": in.RequestID, "checkout_id": in.CheckoutID, "err": err.Error(),
		})
		return
	}
	if up.CheckoutID == "" {
		up.CheckoutID = in.CheckoutID
	}
	_ = c.Apply(up)
}

// Apply moves an intent forward from a gateway verdict. Pending verdicts and
// duplicates are ignored. A verdict for an intent that already timed out is
// reported as late and left for reconciliation.
func (c *Client) Apply(up StatusUpdate) error {
	if up.Status != StatusConfirmed && up.Status != StatusFailed {
		return nil
	}

	c.mu.Lock()
	id, ok := c.byCheckout[up.CheckoutID]
	if !ok && up.MerchantRequestID != "" {
		id, ok = c.byMerchant[up.MerchantRequestID]
	}
	if !ok {
		c.orphans[up.CheckoutID] = orphan{update: up, receivedAt: c.now()}
		c.mu.Unlock()
		return ErrUnmatched
	}
	e := c.intents[id]
	if e == nil {
		c.mu.Unlock()
		return ErrIntentNotFound
	}

	switch e.intent.Status {
	case StatusTimedOut:
		in := e.intent
		c.mu.Unlock()
		f := reconcileFields(in, "late "+string(up.Status))
		f["receipt"] = up.Receipt
		applog.AuditEvent("mpesa.reconcile.required", f)
		c.notify(Transition{Intent: in, Update: up, Late: true})
		return nil
	case StatusConfirmed, StatusFailed:
		c.mu.Unlock()
		return nil
	}

	e.intent.Status = up.Status
	e.intent.ResultCode = up.ResultCode
	e.intent.Description = up.Description
	if up.Receipt != "" {
		e.intent.ExternalReference = up.Receipt
	}
	e.intent.UpdatedAt = c.now()
	close(e.done)
	in := e.intent
	c.mu.Unlock()

	if up.Status == StatusConfirmed && !up.Amount.IsZero() && !up.Amount.Equal(in.Amount) {
		applog.WarnEvent("mpesa.amount.mismatch", map[string]any{
			"request_id": in.RequestID, "expected": in.Amount.String(), "confirmed": up.Amount.String(),
		})
	}
	applog.InfoEvent("mpesa.intent.settled", map[string]any{
		"request_id": in.RequestID, "checkout_id": in.CheckoutID, "status": string(in.Status), "source": up.Source,
	})
	c.notify(Transition{Intent: in, Update: up})
	return nil
}

// Lookup finds an intent by request id, checkout id or merchant request id.
func (c *Client) Lookup(id string) (Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.intents[id]; ok {
		return e.intent, true
	}
	if rid, ok := c.byCheckout[id]; ok {
		return c.intents[rid].intent, true
	}
	if rid, ok := c.byMerchant[id]; ok {
		return c.intents[rid].intent, true
	}
	return Intent{}, false
}

func (c *Client) snapshot(e *entry) Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.intent
}

func (c *Client) fail(requestID, desc string) Intent {
	c.mu.Lock()
	e := c.intents[requestID]
	if !e.intent.Status.Terminal() {
		e.intent.Status = StatusFailed
		e.intent.Description = desc
		e.intent.UpdatedAt = c.now()
		close(e.done)
	}
	in := e.intent
	c.mu.Unlock()
	c.notify(Transition{Intent: in})
	return in
}

func (c *Client) timeout(e *entry) Intent {
	c.mu.Lock()
	if e.intent.Status.Terminal() {
		in := e.intent
		c.mu.Unlock()
		return in
	}
	e.intent.Status = StatusTimedOut
	e.intent.Description = "no confirmation before timeout"
	e.intent.UpdatedAt = c.now()
	close(e.done)
	in := e.intent
	c.mu.Unlock()

	applog.AuditEvent("mpesa.reconcile.required", reconcileFields(in, "timed out"))
	c.notify(Transition{Intent: in})
	return in
}

func (c *Client) notify(t Transition) {
	for _, fn := range c.observers {
		fn(t)
	}
}

// pruneLocked drops settled intents past retention and stale orphans.
func (c *Client) pruneLocked() {
	now := c.now()
	for id, e := range c.intents {
		if e.intent.Status.Terminal() && now.Sub(e.intent.UpdatedAt) > c.retention {
			delete(c.byCheckout, e.intent.CheckoutID)
			delete(c.byMerchant, e.intent.MerchantRequestID)
			delete(c.intents, id)
		}
	}
	for id, o := range c.orphans {
		if now.Sub(o.receivedAt) > orphanTTL {
			delete(c.orphans, id)
		}
	}
}

func reconcileFields(in Intent, reason string) map[string]any {
	return map[string]any{
		"reason":      reason,
		"request_id":  in.RequestID,
		"checkout_id": in.CheckoutID,
		"amount":      in.Amount.String(),
		"phone":       in.Phone,
	}
}

// accountReference fits the Daraja AccountReference limit of 12 characters.
func accountReference(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
