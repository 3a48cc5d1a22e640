package services

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"dukapos/internal/domain"
)

// StockView reports live available-for-sale counts.
type StockView interface {
	Available(productID string) (int, bool)
}

// CatalogService is the ProductLookup used by carts and the engine. Identical
// lookups in flight at the same time share one query, so a burst of
// autocomplete or validation calls does not fan out to the database.
type CatalogService struct {
	Prods ProductLookup
	Stock StockView // optional; overrides the persisted quantity when set

	group singleflight.Group
}

func NewCatalogService(prods ProductLookup, st StockView) *CatalogService {
	return &CatalogService{Prods: prods, Stock: st}
}

func (s *CatalogService) Find(ctx context.Context, id string) (domain.Product, error) {
	v, err, _ := s.group.Do("find:"+id, func() (any, error) {
		return s.Prods.Find(ctx, id)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return s.live(v.(domain.Product)), nil
}

func (s *CatalogService) Search(ctx context.Context, q string, limit int) ([]domain.Product, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	v, err, _ := s.group.Do("search:"+strconv.Itoa(limit)+":"+q, func() (any, error) {
		return s.Prods.Search(ctx, q, limit)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]domain.Product)
	out := make([]domain.Product, len(shared))
	for i, p := range shared {
		out[i] = s.live(p)
	}
	return out, nil
}

func (s *CatalogService) live(p domain.Product) domain.Product {
	if s.Stock == nil {
		return p
	}
	if n, ok := s.Stock.Available(p.ID); ok {
		p.AvailableQuantity = n
	}
	return p
}
