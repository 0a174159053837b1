package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/core/domain"
)

// Mock POSAPI
type mockAPI struct {
	mu sync.Mutex

	products []domain.Product
	listErr  error

	submitFn    func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	submitCalls int
	requests    []domain.OrderRequest

	today    []domain.SaleRecord
	todayErr error

	token    string
	loginErr error

	nextID  int64
	deleted []int64
}

func (m *mockAPI) setProducts(products ...domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = products
}

func (m *mockAPI) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.Product, len(m.products))
	copy(out, m.products)
	return out, nil
}

func (m *mockAPI) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = 1000 + m.nextID
	return p, nil
}

func (m *mockAPI) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	return p, nil
}

func (m *mockAPI) DeleteProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockAPI) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	m.mu.Lock()
	m.submitCalls++
	m.requests = append(m.requests, req)
	fn := m.submitFn
	m.mu.Unlock()

	if fn == nil {
		return domain.OrderResult{}, nil
	}
	return fn(ctx, req)
}

func (m *mockAPI) TodayOrders(ctx context.Context) ([]domain.SaleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.today, m.todayErr
}

func (m *mockAPI) Login(ctx context.Context, email, password string) (string, error) {
	return m.token, m.loginErr
}

func (m *mockAPI) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

// Recording presenter
type recordingPresenter struct {
	mu       sync.Mutex
	invoices []domain.Invoice
	warnings []string
	errors   []string
}

func (p *recordingPresenter) ShowInvoice(inv domain.Invoice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoices = append(p.invoices, inv)
}

func (p *recordingPresenter) ShowWarning(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warnings = append(p.warnings, msg)
}

func (p *recordingPresenter) ShowError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, msg)
}

// In-memory cart store
type mockCartStore struct {
	mu    sync.Mutex
	carts map[string][]domain.CartLine
	saves int
}

func newMockCartStore() *mockCartStore {
	return &mockCartStore{carts: make(map[string][]domain.CartLine)}
}

func (m *mockCartStore) SaveCart(ctx context.Context, terminalID string, lines []domain.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.carts[terminalID] = lines
	return nil
}

func (m *mockCartStore) LoadCart(ctx context.Context, terminalID string) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[terminalID], nil
}

func (m *mockCartStore) DeleteCart(ctx context.Context, terminalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, terminalID)
	return nil
}

// In-memory sales history
type mockSalesRepo struct {
	mu       sync.Mutex
	invoices []domain.Invoice
	saveErr  error
	listErr  error
	// saveHook runs before the invoice is stored, outside the lock
	saveHook func()
}

func (m *mockSalesRepo) SaveInvoice(ctx context.Context, inv domain.Invoice) error {
	m.mu.Lock()
	hook := m.saveHook
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.invoices = append(m.invoices, inv)
	return nil
}

func (m *mockSalesRepo) ListInvoices(ctx context.Context, since time.Time) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if !inv.Timestamp.Before(since) {
			out = append(out, inv)
		}
	}
	return out, nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.Invoice
}

func (m *mockPublisher) PublishSaleCompleted(ctx context.Context, terminalID string, inv domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, inv)
	return nil
}

// cart with a fixed line list, used to feed the submitter duplicate lines
type fixedCart struct {
	mu      sync.Mutex
	lines   []domain.CartLine
	cleared bool
}

func (c *fixedCart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *fixedCart) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.cleared = true
	return nil
}

func product(id int64, price string, stock int) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      gofakeit.ProductName(),
		UnitPrice: decimal.RequireFromString(price),
		Stock:     stock,
		Category:  gofakeit.ProductCategory(),
	}
}

func randomProduct(id int64) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      gofakeit.ProductName(),
		UnitPrice: decimal.NewFromFloat(gofakeit.Price(0.5, 50)).Round(2),
		Stock:     gofakeit.IntRange(0, 6),
		Category:  gofakeit.ProductCategory(),
	}
}

func newLoadedCatalog(t *testing.T, api *mockAPI) *CatalogService {
	t.Helper()
	catalog := NewCatalogService(api, zap.NewNop())
	_, err := catalog.Refresh(t.Context())
	require.NoError(t, err)
	return catalog
}

type mockSubmitLock struct {
	mu       sync.Mutex
	held     bool
	err      error
	released []string
}

func (m *mockSubmitLock) AcquireSubmitLock(ctx context.Context, terminalID string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	if m.held {
		return "", false, nil
	}
	m.held = true
	return "tok-" + terminalID, true, nil
}

func (m *mockSubmitLock) ReleaseSubmitLock(ctx context.Context, terminalID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.released = append(m.released, token)
	return nil
}
