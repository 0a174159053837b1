package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rl1809/pos-register/internal/core/domain"
)

// MemoryCartStore keeps carts for the lifetime of the process.
type MemoryCartStore struct {
	mu    sync.Mutex
	carts map[string][]domain.CartLine
}

func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{carts: make(map[string][]domain.CartLine)}
}

func (m *MemoryCartStore) SaveCart(ctx context.Context, terminalID string, lines []domain.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[terminalID] = slices.Clone(lines)
	return nil
}

func (m *MemoryCartStore) LoadCart(ctx context.Context, terminalID string) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.carts[terminalID]), nil
}

func (m *MemoryCartStore) DeleteCart(ctx context.Context, terminalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, terminalID)
	return nil
}

// MemorySalesRepository is the session sales list used when no database is
// configured.
type MemorySalesRepository struct {
	mu       sync.RWMutex
	invoices []domain.Invoice
	ids      map[string]bool
}

func NewMemorySalesRepository() *MemorySalesRepository {
	return &MemorySalesRepository{ids: make(map[string]bool)}
}

func (m *MemorySalesRepository) SaveInvoice(ctx context.Context, inv domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids[inv.ID] {
		return ErrDuplicateInvoice
	}
	m.ids[inv.ID] = true
	inv.Lines = slices.Clone(inv.Lines)
	m.invoices = append(m.invoices, inv)
	return nil
}

func (m *MemorySalesRepository) ListInvoices(ctx context.Context, since time.Time) ([]domain.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Invoice
	for _, inv := range m.invoices {
		if !inv.Timestamp.Before(since) {
			out = append(out, inv)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Invoice) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}
