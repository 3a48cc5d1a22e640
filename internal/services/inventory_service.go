package services

import (
	"context"
	"errors"

	"dukapos/internal/domain"
)

type InventoryService struct {
	Lookup ProductLookup
}

func NewInventoryService(lookup ProductLookup) *InventoryService {
	return &InventoryService{Lookup: lookup}
}

// CheckAvailability converts qty to IN_STOCK / LOW_STOCK / OUT_OF_STOCK using the
// product's low-stock threshold.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID string) (domain.Availability, error) {
	p, err := s.Lookup.Find(ctx, productID)
	if err != nil {
		// Unknown products are simply not for sale.
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.Availability{Status: "OUT_OF_STOCK", Qty: 0}, nil
		}
		return domain.Availability{}, err
	}

	qty := p.AvailableQuantity
	status := "OUT_OF_STOCK"
	switch {
	case qty > p.LowStockThreshold:
		status = "IN_STOCK"
	case qty > 0:
		status = "LOW_STOCK"
	}
	return domain.Availability{Status: status, Qty: qty}, nil
}
