package services

import (
	"context"

	"github.com/shopspring/decimal"

	"dukapos/internal/cart"
	"dukapos/internal/domain"
)

// LineRequest is one line as the till submits it. A nil UnitPrice means "the
// current price"; a set one is the price the cashier was shown.
type LineRequest struct {
	ProductID string
	Quantity  int
	UnitPrice *decimal.Decimal
}

// CartService builds carts against the catalog and live stock.
type CartService struct {
	Lookup ProductLookup
}

func NewCartService(lookup ProductLookup) *CartService {
	return &CartService{Lookup: lookup}
}

// Add merges qty of productID into c at the current price, refusing more than
// is available right now.
func (s *CartService) Add(ctx context.Context, c *cart.Cart, productID string, qty int) error {
	if qty < 1 {
		return domain.ErrInvalidQuantity
	}
	p, err := s.Lookup.Find(ctx, productID)
	if err != nil {
		return err
	}
	have := 0
	if l, ok := c.Line(productID); ok {
		have = l.Quantity
	}
	if have+qty > p.AvailableQuantity {
		return &domain.OutOfStockError{ProductID: productID, Requested: have + qty, Available: p.AvailableQuantity}
	}
	return c.AddLine(productID, qty, p.UnitPrice)
}

func (s *CartService) SetQuantity(ctx context.Context, c *cart.Cart, productID string, qty int) error {
	if qty < 1 {
		return domain.ErrInvalidQuantity
	}
	p, err := s.Lookup.Find(ctx, productID)
	if err != nil {
		return err
	}
	if qty > p.AvailableQuantity {
		return &domain.OutOfStockError{ProductID: productID, Requested: qty, Available: p.AvailableQuantity}
	}
	return c.SetQuantity(productID, qty)
}

// Build turns submitted lines into a cart. Quoted prices are kept as the
// snapshot so a price that moved since the till displayed it is caught at
// commit instead of being silently replaced.
func (s *CartService) Build(ctx context.Context, reqs []LineRequest) (*cart.Cart, error) {
	c := cart.New()
	for _, r := range reqs {
		if r.UnitPrice == nil {
			if err := s.Add(ctx, c, r.ProductID, r.Quantity); err != nil {
				return nil, err
			}
			continue
		}
		if r.Quantity < 1 {
			return nil, domain.ErrInvalidQuantity
		}
		p, err := s.Lookup.Find(ctx, r.ProductID)
		if err != nil {
			return nil, err
		}
		have := 0
		if l, ok := c.Line(r.ProductID); ok {
			have = l.Quantity
		}
		if have+r.Quantity > p.AvailableQuantity {
			return nil, &domain.OutOfStockError{ProductID: r.ProductID, Requested: have + r.Quantity, Available: p.AvailableQuantity}
		}
		if err := c.AddLine(r.ProductID, r.Quantity, *r.UnitPrice); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Assemble prices lines without checking stock. Sale submission uses it: the
// engine checks stock itself, and a replayed key must still reach the engine
// after its first attempt sold the last unit.
func (s *CartService) Assemble(ctx context.Context, reqs []LineRequest) (*cart.Cart, error) {
	c := cart.New()
	for _, r := range reqs {
		if r.Quantity < 1 {
			return nil, domain.ErrInvalidQuantity
		}
		price := decimal.Zero
		if r.UnitPrice != nil {
			price = *r.UnitPrice
		} else {
			p, err := s.Lookup.Find(ctx, r.ProductID)
			if err != nil {
				return nil, err
			}
			price = p.UnitPrice
		}
		if err := c.AddLine(r.ProductID, r.Quantity, price); err != nil {
			return nil, err
		}
	}
	return c, nil
}
