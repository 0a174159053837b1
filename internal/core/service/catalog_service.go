package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/port"
)

// CatalogReader gives read access to the current catalog snapshot.
type CatalogReader interface {
	Snapshot() domain.Catalog
}

// CatalogService is the register's catalog store. It holds the latest
// snapshot fetched from the remote API and patches it after writes.
type CatalogService struct {
	api    port.POSAPI
	logger *zap.Logger

	mu        sync.RWMutex
	catalog   domain.Catalog
	loaded    bool
	listeners []func(domain.Catalog)
}

func NewCatalogService(api port.POSAPI, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		api:    api,
		logger: logger.Named("catalog"),
	}
}

// OnChange registers fn to be called with every new snapshot.
func (s *CatalogService) OnChange(fn func(domain.Catalog)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *CatalogService) Snapshot() domain.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Loaded reports whether at least one fetch has succeeded.
func (s *CatalogService) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Refresh replaces the snapshot with the remote product list. On failure the
// previous snapshot stays in place and is returned alongside the error.
func (s *CatalogService) Refresh(ctx context.Context) (domain.Catalog, error) {
	products, err := s.api.ListProducts(ctx)
	if err != nil {
		snap := s.Snapshot()
		s.logger.Warn("catalog refresh failed, keeping current snapshot",
			zap.Uint64("version", snap.Version()), zap.Error(err))
		return snap, fmt.Errorf("list products: %w", err)
	}

	snap := s.update(func(c domain.Catalog) domain.Catalog {
		return c.Replace(products)
	}, true)
	s.logger.Info("catalog refreshed", zap.Int("products", snap.Len()), zap.Uint64("version", snap.Version()))
	return snap, nil
}

// ApplyStock patches stock levels reported by the server after a sale.
func (s *CatalogService) ApplyStock(stock map[int64]int) domain.Catalog {
	if len(stock) == 0 {
		return s.Snapshot()
	}
	return s.update(func(c domain.Catalog) domain.Catalog {
		return c.WithStock(stock)
	}, false)
}

func (s *CatalogService) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := validateProduct(p); err != nil {
		return domain.Product{}, err
	}

	created, err := s.api.CreateProduct(ctx, p)
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}

	s.update(func(c domain.Catalog) domain.Catalog {
		return c.WithProduct(created)
	}, false)
	s.logger.Info("product created", zap.Int64("product_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if _, ok := s.Snapshot().Find(p.ID); !ok {
		return domain.Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, p.ID)
	}
	if err := validateProduct(p); err != nil {
		return domain.Product{}, err
	}

	updated, err := s.api.UpdateProduct(ctx, p)
	if err != nil {
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}
	if updated.ID == 0 {
		updated.ID = p.ID
	}

	s.update(func(c domain.Catalog) domain.Catalog {
		return c.WithProduct(updated)
	}, false)
	s.logger.Info("product updated", zap.Int64("product_id", updated.ID))
	return updated, nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.api.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	s.update(func(c domain.Catalog) domain.Catalog {
		return c.WithoutProduct(id)
	}, false)
	s.logger.Info("product deleted", zap.Int64("product_id", id))
	return nil
}

// Inventory lists every product with its stock status.
func (s *CatalogService) Inventory() []domain.InventoryItem {
	products := s.Snapshot().Products()
	items := make([]domain.InventoryItem, 0, len(products))
	for _, p := range products {
		items = append(items, domain.InventoryItem{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Stock:     p.Stock,
			UnitPrice: p.UnitPrice,
			Status:    p.StockStatus(),
		})
	}
	return items
}

func (s *CatalogService) update(fn func(domain.Catalog) domain.Catalog, markLoaded bool) domain.Catalog {
	s.mu.Lock()
	s.catalog = fn(s.catalog)
	if markLoaded {
		s.loaded = true
	}
	snap := s.catalog
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, notify := range listeners {
		notify(snap)
	}
	return snap
}

func validateProduct(p domain.Product) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case p.UnitPrice.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	case p.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	case strings.TrimSpace(p.Category) == "":
		return fmt.Errorf("%w: category is required", ErrInvalidProduct)
	}
	return nil
}
