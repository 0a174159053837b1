package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/port"
)

// CartEntry is a cart line joined with its live catalog product.
type CartEntry struct {
	Line      domain.CartLine
	Product   domain.Product
	Known     bool
	LineTotal decimal.Decimal
}

type CartOption func(*CartService)

// WithCartStore persists the cart after every mutation so it survives restarts.
func WithCartStore(store port.CartStore, terminalID string) CartOption {
	return func(s *CartService) {
		s.store = store
		s.terminalID = terminalID
	}
}

// CartService is the register's cart engine. Every mutation is checked
// against the catalog snapshot current at the time of the call.
type CartService struct {
	catalog    CatalogReader
	presenter  port.Presenter
	store      port.CartStore
	terminalID string
	logger     *zap.Logger

	mu    sync.Mutex
	lines []domain.CartLine
}

func NewCartService(catalog CatalogReader, presenter port.Presenter, logger *zap.Logger, opts ...CartOption) *CartService {
	s := &CartService{
		catalog:   catalog,
		presenter: presenterOrNop(presenter),
		logger:    logger.Named("cart"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItem puts one unit of the product into the cart, merging with an
// existing line. Unknown products are ignored.
func (s *CartService) AddItem(ctx context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.catalog.Snapshot().Find(productID)
	if !ok {
		s.logger.Debug("add ignored, product not in catalog", zap.Int64("product_id", productID))
		return nil
	}
	if product.Stock <= 0 {
		s.presenter.ShowWarning(fmt.Sprintf("%s is out of stock", product.Name))
		return fmt.Errorf("%w: %s", ErrStockUnavailable, product.Name)
	}

	if i := s.indexOf(productID); i >= 0 {
		if s.lines[i].Quantity+1 > product.Stock {
			s.presenter.ShowWarning(fmt.Sprintf("not enough stock for %s (%d available)", product.Name, product.Stock))
			return fmt.Errorf("%w: %s", ErrStockInsufficient, product.Name)
		}
		s.lines[i].Quantity++
	} else {
		s.lines = append(s.lines, domain.CartLine{ProductID: productID, Quantity: 1})
	}

	s.persist(ctx)
	return nil
}

// UpdateQuantity shifts a line's quantity by delta. A result of zero or less
// removes the line; a result above stock is rejected.
func (s *CartService) UpdateQuantity(ctx context.Context, productID int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(productID)
	if i < 0 {
		return nil
	}

	newQuantity := s.lines[i].Quantity + delta
	if newQuantity <= 0 {
		s.removeAt(i)
		s.persist(ctx)
		return nil
	}
	// stepping down is always allowed, even past a stock level that fell
	// below the line or a product that left the catalog
	if delta <= 0 {
		s.lines[i].Quantity = newQuantity
		s.persist(ctx)
		return nil
	}

	// a product that left the catalog has nothing left to sell
	product, ok := s.catalog.Snapshot().Find(productID)
	stock := 0
	name := fmt.Sprintf("product %d", productID)
	if ok {
		stock = product.Stock
		name = product.Name
	}
	if newQuantity > stock {
		s.presenter.ShowWarning(fmt.Sprintf("not enough stock for %s (%d available)", name, stock))
		return fmt.Errorf("%w: %s", ErrStockInsufficient, name)
	}

	s.lines[i].Quantity = newQuantity
	s.persist(ctx)
	return nil
}

func (s *CartService) RemoveItem(ctx context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(productID); i >= 0 {
		s.removeAt(i)
		s.persist(ctx)
	}
	return nil
}

func (s *CartService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	if s.store != nil {
		if err := s.store.DeleteCart(ctx, s.terminalID); err != nil {
			s.logger.Warn("failed to delete stored cart", zap.Error(err))
		}
	}
	return nil
}

// Lines returns a copy of the cart in insertion order.
func (s *CartService) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *CartService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Total sums quantity x unit price using the catalog's current prices.
func (s *CartService) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.Entries() {
		total = total.Add(e.LineTotal)
	}
	return total
}

// Entries joins the cart lines with their current catalog products.
func (s *CartService) Entries() []CartEntry {
	lines := s.Lines()
	snap := s.catalog.Snapshot()

	entries := make([]CartEntry, 0, len(lines))
	for _, l := range lines {
		p, ok := snap.Find(l.ProductID)
		e := CartEntry{Line: l, Product: p, Known: ok, LineTotal: decimal.Zero}
		if ok {
			e.LineTotal = domain.LineTotal(p.UnitPrice, l.Quantity)
		}
		entries = append(entries, e)
	}
	return entries
}

// Restore loads a stored cart. Lines for products that are gone or out of
// stock are dropped and quantities are capped at current stock.
func (s *CartService) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	stored, err := s.store.LoadCart(ctx, s.terminalID)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.catalog.Snapshot()
	s.lines = nil
	for _, l := range stored {
		p, ok := snap.Find(l.ProductID)
		if !ok || p.Stock <= 0 || l.Quantity <= 0 {
			s.logger.Info("dropping stored cart line", zap.Int64("product_id", l.ProductID))
			continue
		}
		qty := min(l.Quantity, p.Stock)
		if i := s.indexOf(l.ProductID); i >= 0 {
			s.lines[i].Quantity = qty
			continue
		}
		s.lines = append(s.lines, domain.CartLine{ProductID: l.ProductID, Quantity: qty})
	}

	s.logger.Info("cart restored", zap.Int("lines", len(s.lines)))
	s.persist(ctx)
	return nil
}

func (s *CartService) indexOf(productID int64) int {
	for i, l := range s.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *CartService) removeAt(i int) {
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
}

// persist must be called with mu held.
func (s *CartService) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	lines := make([]domain.CartLine, len(s.lines))
	copy(lines, s.lines)
	if err := s.store.SaveCart(ctx, s.terminalID, lines); err != nil {
		s.logger.Warn("failed to persist cart", zap.Error(err))
	}
}
