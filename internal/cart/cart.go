// Package cart holds the line items of one checkout attempt. A Cart is plain
// data owned by a single attempt; it is not safe for concurrent use.
package cart

import (
	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
)

type Cart struct {
	lines []domain.CartLine
	index map[string]int // productID -> position in lines
}

func New() *Cart {
	return &Cart{index: make(map[string]int)}
}

// AddLine merges qty into the existing line for productID or appends a new one.
// The unit price snapshot is refreshed to the latest observed price.
func (c *Cart) AddLine(productID string, qty int, unitPrice decimal.Decimal) error {
	if qty < 1 {
		return domain.ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return domain.ErrInvalidPrice
	}
	if i, ok := c.index[productID]; ok {
		c.lines[i].Quantity += qty
		c.lines[i].UnitPriceSnapshot = unitPrice
		return nil
	}
	c.index[productID] = len(c.lines)
	c.lines = append(c.lines, domain.CartLine{
		ProductID:         productID,
		Quantity:          qty,
		UnitPriceSnapshot: unitPrice,
	})
	return nil
}

// SetQuantity replaces the quantity of an existing line. Stock is not checked here.
func (c *Cart) SetQuantity(productID string, qty int) error {
	if qty < 1 {
		return domain.ErrInvalidQuantity
	}
	i, ok := c.index[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	c.lines[i].Quantity = qty
	return nil
}

// RemoveLine drops the line for productID; removing an absent product is a no-op.
func (c *Cart) RemoveLine(productID string) {
	i, ok := c.index[productID]
	if !ok {
		return
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	delete(c.index, productID)
	for j := i; j < len(c.lines); j++ {
		c.index[c.lines[j].ProductID] = j
	}
}

func (c *Cart) Line(productID string) (domain.CartLine, bool) {
	i, ok := c.index[productID]
	if !ok {
		return domain.CartLine{}, false
	}
	return c.lines[i], true
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int { return len(c.lines) }

// Total is Σ quantity × unit price at two decimal places.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total.Round(2)
}
