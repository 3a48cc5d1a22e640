package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dukapos/internal/cart"
	"dukapos/internal/credit"
	"dukapos/internal/domain"
	applog "dukapos/internal/log"
	"dukapos/internal/metrics"
	"dukapos/internal/mpesa"
	"dukapos/internal/stock"
	"dukapos/internal/validate"
)

// ProductLookup is the catalog as the engine sees it.
type ProductLookup interface {
	Find(ctx context.Context, id string) (domain.Product, error)
	Search(ctx context.Context, q string, limit int) ([]domain.Product, error)
}

type StockLedger interface {
	Available(productID string) (int, bool)
	Reserve(productID string, qty int, holder string) (stock.Token, error)
	Release(t stock.Token) error
	CommitAll(tokens ...stock.Token) error
}

type PaymentClient interface {
	Initiate(ctx context.Context, phone string, amount decimal.Decimal, reference string) (mpesa.Intent, error)
	Await(ctx context.Context, requestID string, timeout time.Duration) (mpesa.Intent, error)
}

type CreditRecorder interface {
	RecordCredit(ctx context.Context, customer domain.Customer, saleID string, total, paid decimal.Decimal) (domain.CreditAccount, error)
	ReverseCredit(ctx context.Context, customer domain.Customer, saleID string, total, paid decimal.Decimal) error
}

// SaleRecorder receives every committed sale.
type SaleRecorder interface {
	Record(ctx context.Context, s domain.Sale) error
}

// SaleFinder lets a recorder answer for keys committed before a restart.
type SaleFinder interface {
	ByIdempotencyKey(ctx context.Context, key string) (domain.Sale, error)
}

type SubmitRequest struct {
	Cart           *cart.Cart
	Method         domain.PaymentMethod
	Customer       domain.Customer
	AmountPaid     decimal.Decimal // credit only
	IdempotencyKey string
	Identity       domain.Identity
}

// SaleService is the settlement engine: it validates a cart against live
// prices and stock, holds the stock, collects payment and commits.
type SaleService struct {
	Lookup   ProductLookup
	Stock    StockLedger
	Payments PaymentClient
	Credit   CreditRecorder
	Sales    SaleRecorder
	Metrics  *metrics.Metrics

	ConfirmTimeout time.Duration

	now      func() time.Time
	attempts *registry
}

func NewSaleService(lookup ProductLookup, ledger StockLedger, payments PaymentClient, credits CreditRecorder,
	sales SaleRecorder, m *metrics.Metrics, confirmTimeout, idempotencyTTL time.Duration) *SaleService {
	return &SaleService{
		Lookup:         lookup,
		Stock:          ledger,
		Payments:       payments,
		Credit:         credits,
		Sales:          sales,
		Metrics:        m,
		ConfirmTimeout: confirmTimeout,
		now:            time.Now,
		attempts:       newRegistry(idempotencyTTL, time.Now),
	}
}

// Submit settles req once per idempotency key. A repeated key gets the first
// attempt's result, waiting for it if it is still running. If ctx ends first the
// attempt keeps going in the background and still releases or commits its stock.
func (s *SaleService) Submit(ctx context.Context, req SubmitRequest) (domain.Sale, error) {
	if req.IdempotencyKey == "" {
		return domain.Sale{}, domain.ErrMissingIdempotency
	}
	if !req.Method.Valid() {
		return domain.Sale{}, domain.ErrUnknownPayment
	}
	if req.Cart == nil || req.Cart.Len() == 0 {
		return domain.Sale{}, domain.ErrEmptyCart
	}

	a, leader := s.attempts.begin(req.IdempotencyKey)
	if !leader {
		if s.Metrics != nil {
			s.Metrics.IdempotentHits.Inc()
		}
		applog.InfoEvent("sale.idempotent.replay", map[string]any{"key": req.IdempotencyKey, "attempt": a.id})
		return wait(ctx, a)
	}

	// the cart belongs to the caller, the attempt works on a copy
	lines := req.Cart.Lines()
	go s.run(context.WithoutCancel(ctx), a, req, lines)
	return wait(ctx, a)
}

// wait hands every caller its own copy of the lines so the cached sale stays intact.
func wait(ctx context.Context, a *attempt) (domain.Sale, error) {
	select {
	case <-a.done:
		sale := a.sale
		if sale.Lines != nil {
			sale.Lines = append([]domain.CartLine(nil), sale.Lines...)
		}
		return sale, a.err
	case <-ctx.Done():
		return domain.Sale{}, ctx.Err()
	}
}

func (s *SaleService) run(ctx context.Context, a *attempt, req SubmitRequest, lines []domain.CartLine) {
	start := s.now()
	var (
		sale domain.Sale
		err  error
	)
	if f, ok := s.Sales.(SaleFinder); ok {
		if prior, ferr := f.ByIdempotencyKey(ctx, req.IdempotencyKey); ferr == nil {
			s.attempts.finish(a, prior, nil)
			return
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("settlement panic: %v", r)
			applog.ErrorEvent("sale.panic", err, map[string]any{"attempt": a.id})
		}
		s.observe(req.Method, start, err)
		s.attempts.finish(a, sale, err)
	}()
	sale, err = s.settle(ctx, a.id, req, lines)
}

func (s *SaleService) observe(method domain.PaymentMethod, start time.Time, err error) {
	if s.Metrics == nil {
		return
	}
	outcome := "committed"
	switch {
	case domain.TimedOut(err):
		outcome = "timed_out"
	case err != nil:
		outcome = "failed"
	}
	s.Metrics.Sales.WithLabelValues(string(method), outcome).Inc()
	s.Metrics.SaleDuration.WithLabelValues(string(method)).Observe(s.now().Sub(start).Seconds())
}

// settle runs Validating, Reserved, Paying and Committed for one attempt.
// Every return before the commit releases what was reserved.
func (s *SaleService) settle(ctx context.Context, attemptID string, req SubmitRequest, lines []domain.CartLine) (domain.Sale, error) {
	fields := map[string]any{"attempt": attemptID, "method": string(req.Method), "cashier": req.Identity.UserID}

	if len(lines) == 0 {
		return domain.Sale{}, domain.ErrEmptyCart
	}
	if err := s.validate(ctx, lines); err != nil {
		applog.WarnEvent("sale.validate.failed", withErr(fields, err))
		return domain.Sale{}, err
	}

	tokens := make([]stock.Token, 0, len(lines))
	committed := false
	defer func() {
		if committed {
			return
		}
		for _, t := range tokens {
			_ = s.Stock.Release(t)
		}
		if len(tokens) > 0 {
			s.countReservations("released", len(tokens))
			applog.InfoEvent("sale.released", fields)
		}
	}()
	for _, l := range lines {
		t, err := s.Stock.Reserve(l.ProductID, l.Quantity, attemptID)
		if err != nil {
			s.countReservations("rejected", 1)
			return domain.Sale{}, err
		}
		tokens = append(tokens, t)
	}
	s.countReservations("reserved", len(tokens))

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	total = total.Round(2)

	sale := domain.Sale{
		ID:             uuid.NewString(),
		Lines:          lines,
		PaymentMethod:  req.Method,
		AmountCharged:  total,
		Status:         domain.SaleCommitted,
		CustomerName:   req.Customer.Name,
		CashierID:      req.Identity.UserID,
		IdempotencyKey: req.IdempotencyKey,
	}

	switch req.Method {
	case domain.PaymentCash:
		sale.AmountPaid = total
		sale.BalanceDue = decimal.Zero

	case domain.PaymentMobileMoney:
		if req.Customer.Phone == "" {
			return domain.Sale{}, domain.ErrMissingCustomer
		}
		in, err := s.pay(ctx, attemptID, req.Customer.Phone, total)
		if err != nil {
			return domain.Sale{}, err
		}
		sale.AmountPaid = total
		sale.BalanceDue = decimal.Zero
		sale.CustomerPhone = in.Phone
		sale.ExternalReference = in.ExternalReference
		if sale.ExternalReference == "" {
			sale.ExternalReference = in.CheckoutID
		}

	case domain.PaymentCredit:
		if req.Customer.Name == "" || req.Customer.Phone == "" {
			return domain.Sale{}, domain.ErrMissingCustomer
		}
		phone, ok := validate.Phone(req.Customer.Phone)
		if !ok {
			return domain.Sale{}, domain.ErrInvalidPhoneNumber
		}
		if err := credit.CheckPayment(total, req.AmountPaid); err != nil {
			return domain.Sale{}, err
		}
		sale.AmountPaid = req.AmountPaid.Round(2)
		sale.BalanceDue = total.Sub(sale.AmountPaid)
		sale.CustomerPhone = phone
		// credit goes first so a storage failure can still release the stock,
		// a failed commit below reverses it
		if _, err := s.Credit.RecordCredit(ctx, req.Customer, sale.ID, total, sale.AmountPaid); err != nil {
			return domain.Sale{}, err
		}
	}

	if err := s.Stock.CommitAll(tokens...); err != nil {
		switch req.Method {
		case domain.PaymentMobileMoney:
			applog.AuditEvent("sale.reconcile.required", withErr(fields, err))
		case domain.PaymentCredit:
			if rerr := s.Credit.ReverseCredit(ctx, req.Customer, sale.ID, total, sale.AmountPaid); rerr != nil {
				applog.AuditEvent("sale.reconcile.required", withErr(fields, errors.Join(err, rerr)))
			}
		}
		return domain.Sale{}, fmt.Errorf("commit stock: %w", err)
	}
	committed = true
	s.countReservations("committed", len(tokens))

	sale.CreatedAt = s.now().UTC()
	sale.ReceiptNumber = receiptNumber(sale.CreatedAt)

	if s.Sales != nil {
		if err := s.Sales.Record(ctx, sale); err != nil {
			if s.Metrics != nil {
				s.Metrics.RecordFailures.Inc()
			}
			applog.ErrorEvent("sale.record.failed", err, map[string]any{"sale_id": sale.ID, "receipt": sale.ReceiptNumber})
		}
	}
	applog.AuditEvent("sale.committed", map[string]any{
		"sale_id": sale.ID, "receipt": sale.ReceiptNumber, "method": string(sale.PaymentMethod),
		"total": total.StringFixed(2), "paid": sale.AmountPaid.StringFixed(2), "cashier": req.Identity.UserID,
	})
	return sale, nil
}

// validate re-reads every line: a vanished product, a changed price or missing
// stock makes the line stale so the caller refreshes instead of guessing.
func (s *SaleService) validate(ctx context.Context, lines []domain.CartLine) error {
	for _, l := range lines {
		if l.Quantity < 1 {
			return domain.ErrInvalidQuantity
		}
		p, err := s.Lookup.Find(ctx, l.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			return &domain.StaleCartLineError{ProductID: l.ProductID, Reason: "product no longer exists"}
		}
		if err != nil {
			return err
		}
		if !p.UnitPrice.Equal(l.UnitPriceSnapshot) {
			return &domain.StaleCartLineError{
				ProductID: l.ProductID,
				Reason:    fmt.Sprintf("price changed from %s to %s", l.UnitPriceSnapshot.StringFixed(2), p.UnitPrice.StringFixed(2)),
			}
		}
		avail, ok := s.Stock.Available(l.ProductID)
		if !ok {
			return &domain.StaleCartLineError{ProductID: l.ProductID, Reason: "product is not stocked"}
		}
		if avail < l.Quantity {
			return &domain.StaleCartLineError{ProductID: l.ProductID, Reason: fmt.Sprintf("only %d available", avail)}
		}
	}
	return nil
}

// pay runs one STK push for the attempt and waits for its verdict. A push that
// may have reached the gateway is reported as TimedOut so its key is never
// pushed again.
func (s *SaleService) pay(ctx context.Context, attemptID, phone string, total decimal.Decimal) (mpesa.Intent, error) {
	in, err := s.Payments.Initiate(ctx, phone, total, attemptID)
	if err != nil {
		if pushNotSent(err) {
			return in, err
		}
		return in, &domain.PaymentNotConfirmedError{
			Reason: domain.PaymentTimedOut, RequestID: attemptID, CheckoutID: in.CheckoutID,
			Description: "push outcome unknown (" + err.Error() + "), ask the customer to check their phone",
		}
	}
	in, err = s.Payments.Await(ctx, in.RequestID, s.ConfirmTimeout)
	if err != nil {
		return in, err
	}
	if s.Metrics != nil {
		s.Metrics.MpesaIntents.WithLabelValues(string(in.Status)).Inc()
	}
	switch in.Status {
	case mpesa.StatusConfirmed:
		return in, nil
	case mpesa.StatusTimedOut:
		return in, &domain.PaymentNotConfirmedError{
			Reason: domain.PaymentTimedOut, RequestID: in.RequestID, CheckoutID: in.CheckoutID,
			Description: "no confirmation received, ask the customer to check their phone",
		}
	default:
		return in, &domain.PaymentNotConfirmedError{
			Reason: domain.PaymentFailed, RequestID: in.RequestID, CheckoutID: in.CheckoutID, Description: in.Description,
		}
	}
}

func pushNotSent(err error) bool {
	return errors.Is(err, domain.ErrGatewayRejected) ||
		errors.Is(err, domain.ErrGatewayUnavailable) ||
		errors.Is(err, domain.ErrInvalidPhoneNumber)
}

func (s *SaleService) countReservations(outcome string, n int) {
	if s.Metrics != nil {
		s.Metrics.Reservations.WithLabelValues(outcome).Add(float64(n))
	}
}

func withErr(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["err"] = err.Error()
	return out
}
