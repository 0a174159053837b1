package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/port"
)

type orderFixture struct {
	api       *mockAPI
	catalog   *CatalogService
	cart      *CartService
	presenter *recordingPresenter
	sales     *mockSalesRepo
	events    *mockPublisher
	svc       *OrderService
}

func newOrderFixture(t *testing.T, timeout time.Duration, products ...domain.Product) *orderFixture {
	t.Helper()
	f := &orderFixture{
		api:       &mockAPI{products: products},
		presenter: &recordingPresenter{},
		sales:     &mockSalesRepo{},
		events:    &mockPublisher{},
	}
	f.catalog = newLoadedCatalog(t, f.api)
	f.cart = NewCartService(f.catalog, f.presenter, zap.NewNop())
	f.svc = NewOrderService(f.api, f.cart, f.catalog, f.presenter,
		OrderConfig{TerminalID: "till-1", SubmitTimeout: timeout},
		zap.NewNop(),
		WithSalesRepository(f.sales),
		WithEventPublisher(f.events),
	)
	return f
}

func (f *orderFixture) add(t *testing.T, id int64, times int) {
	t.Helper()
	for range times {
		require.NoError(t, f.cart.AddItem(t.Context(), id))
	}
}

var invoiceLineCmp = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestSubmit_Success(t *testing.T) {
	f := newOrderFixture(t, time.Second, domain.Product{ID: 1, Name: "Cola", UnitPrice: decimal.RequireFromString("2.50"), Stock: 3, Category: "Drinks"})
	f.add(t, 1, 2)
	f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{
			OrderID: "42",
			Lines:   []domain.OrderResultLine{{ProductID: 1, Stock: 1, HasStock: true}},
		}, nil
	}

	invoice, err := f.svc.Submit(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []domain.OrderRequest{{Lines: []domain.OrderLine{{ProductID: 1, Quantity: 2}}}}, f.api.requests)

	p, ok := f.catalog.Snapshot().Find(1)
	require.True(t, ok)
	assert.Equal(t, 1, p.Stock)
	assert.Zero(t, f.cart.Len())
	assert.Equal(t, domain.SubmitStateIdle, f.svc.State())

	want := domain.Invoice{
		ID:      "42",
		OrderID: "42",
		Lines: []domain.InvoiceLine{{
			ProductID:   1,
			ProductName: "Cola",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("2.50"),
			LineTotal:   decimal.RequireFromString("5.00"),
		}},
		Total: decimal.RequireFromString("5"),
	}
	if diff := cmp.Diff(want, invoice, invoiceLineCmp, cmpopts.IgnoreFields(domain.Invoice{}, "Timestamp", "Currency")); diff != "" {
		t.Errorf("invoice mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "USD 5.00", invoice.TotalMoney().String())

	require.Len(t, f.presenter.invoices, 1)
	assert.Equal(t, "42", f.presenter.invoices[0].ID)
	assert.Len(t, f.sales.invoices, 1)
	assert.Len(t, f.events.published, 1)
}

func namedProduct(id int64, name, price string, stock int) domain.Product {
	p := product(id, price, stock)
	p.Name = name
	return p
}

func TestSubmit_ResponsePricesAreAuthoritative(t *testing.T) {
	f := newOrderFixture(t, time.Second, namedProduct(1, "Cola", "2.50", 5), namedProduct(2, "Chips", "1.00", 5))
	f.add(t, 1, 1)
	f.add(t, 2, 2)
	f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{Lines: []domain.OrderResultLine{
			{ProductName: "Cola", Quantity: 1, UnitPrice: decimal.RequireFromString("2.40"), HasQuantity: true, HasPrice: true},
			{ProductName: "Chips", Quantity: 2, UnitPrice: decimal.RequireFromString("0.95"), HasQuantity: true, HasPrice: true},
		}}, nil
	}

	invoice, err := f.svc.Submit(t.Context())
	require.NoError(t, err)

	assert.Equal(t, "4.30", domain.FormatAmount(invoice.Total))
	assert.Equal(t, 3, invoice.ItemCount())
	assert.Regexp(t, `^INV-`, invoice.ID)
	assert.Empty(t, invoice.OrderID)
}

func TestSubmit_InvoicePricing(t *testing.T) {
	cola := decimal.RequireFromString("2.50")
	tests := []struct {
		name      string
		lines     []domain.OrderResultLine
		wantTotal string
		wantLines int
	}{
		{
			name: "same sale reported by id and by name",
			lines: []domain.OrderResultLine{
				{ProductID: 1, Quantity: 2, UnitPrice: cola, Stock: 3, HasQuantity: true, HasPrice: true, HasStock: true},
				{ProductName: "Cola", Quantity: 2, UnitPrice: cola, HasQuantity: true, HasPrice: true},
			},
			wantTotal: "6.00",
			wantLines: 2,
		},
		{
			name: "only part of the order priced",
			lines: []domain.OrderResultLine{
				{ProductID: 1, Quantity: 2, UnitPrice: cola, HasQuantity: true, HasPrice: true},
			},
			wantTotal: "6.00",
			wantLines: 2,
		},
		{
			name: "priced line for a product not ordered",
			lines: []domain.OrderResultLine{
				{ProductID: 1, Quantity: 2, UnitPrice: cola, HasQuantity: true, HasPrice: true},
				{ProductID: 2, Quantity: 1, UnitPrice: decimal.NewFromInt(1), HasQuantity: true, HasPrice: true},
				{ProductID: 9, Quantity: 1, UnitPrice: decimal.NewFromInt(1), HasQuantity: true, HasPrice: true},
			},
			wantTotal: "6.00",
			wantLines: 2,
		},
		{
			name: "every line priced",
			lines: []domain.OrderResultLine{
				{ProductName: "Chips", Quantity: 1, UnitPrice: decimal.RequireFromString("0.90"), HasQuantity: true, HasPrice: true},
				{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("2.40"), HasQuantity: true, HasPrice: true},
			},
			wantTotal: "5.70",
			wantLines: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(t, time.Second, namedProduct(1, "Cola", "2.50", 5), namedProduct(2, "Chips", "1.00", 5))
			f.add(t, 1, 2)
			f.add(t, 2, 1)
			f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
				return domain.OrderResult{Lines: tt.lines}, nil
			}

			invoice, err := f.svc.Submit(t.Context())
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, domain.FormatAmount(invoice.Total))
			require.Len(t, invoice.Lines, tt.wantLines)
			// invoice follows the order's line order
			assert.Equal(t, int64(1), invoice.Lines[0].ProductID)
			assert.Equal(t, "Cola", invoice.Lines[0].ProductName)
		})
	}
}

func TestSubmit_MissingStockDecrementsLocally(t *testing.T) {
	f := newOrderFixture(t, time.Second, product(1, "1.00", 5), product(2, "1.00", 4))
	f.add(t, 1, 2)
	f.add(t, 2, 1)
	f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{Lines: []domain.OrderResultLine{{ProductID: 1, Stock: 0, HasStock: true}}}, nil
	}

	_, err := f.svc.Submit(t.Context())
	require.NoError(t, err)

	snap := f.catalog.Snapshot()
	p1, _ := snap.Find(1)
	p2, _ := snap.Find(2)
	assert.Equal(t, 0, p1.Stock)
	assert.Equal(t, 3, p2.Stock)
}

func TestSubmit_ServerErrorKeepsCart(t *testing.T) {
	f := newOrderFixture(t, time.Second, product(1, "2.50", 3))
	f.add(t, 1, 2)
	f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{}, &port.APIError{Kind: port.KindRejected, Op: "make order", Status: 500, Detail: "boom"}
	}

	_, err := f.svc.Submit(t.Context())
	require.Error(t, err)

	apiErr, ok := port.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 500, apiErr.Status)

	assert.Equal(t, []domain.CartLine{{ProductID: 1, Quantity: 2}}, f.cart.Lines())
	assert.Equal(t, []string{"boom"}, f.presenter.errors)
	assert.Empty(t, f.presenter.invoices)
	assert.Empty(t, f.sales.invoices)
	assert.Equal(t, domain.SubmitStateIdle, f.svc.State())

	p, _ := f.catalog.Snapshot().Find(1)
	assert.Equal(t, 3, p.Stock)

	// lock was released, so a retry reaches the API
	_, _ = f.svc.Submit(t.Context())
	assert.Equal(t, 2, f.api.calls())
}

func TestSubmit_FailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "transport", err: &port.APIError{Kind: port.KindTransport, Err: errors.New("connection refused")}, want: msgUnreachable},
		{name: "rejected without detail", err: &port.APIError{Kind: port.KindRejected, Status: 400}, want: msgRejected},
		{name: "malformed", err: &port.APIError{Kind: port.KindMalformed, Detail: "<html>"}, want: "the server returned an unreadable response: <html>"},
		{name: "timeout", err: &port.APIError{Kind: port.KindTimeout}, want: msgTimeout},
		{name: "plain error", err: errors.New("boom"), want: msgUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(t, time.Second, product(1, "1.00", 3))
			f.add(t, 1, 1)
			f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
				return domain.OrderResult{}, tt.err
			}

			_, err := f.svc.Submit(t.Context())
			require.Error(t, err)
			assert.Equal(t, []string{tt.want}, f.presenter.errors)
			assert.Equal(t, 1, f.cart.Len())
		})
	}
}

func TestSubmit_EmptyCart(t *testing.T) {
	f := newOrderFixture(t, time.Second, product(1, "1.00", 3))

	_, err := f.svc.Submit(t.Context())
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, f.api.calls())
	assert.Equal(t, []string{msgEmptyCart}, f.presenter.warnings)
	assert.Equal(t, domain.SubmitStateIdle, f.svc.State())
}

func TestSubmit_RejectsWhileInFlight(t *testing.T) {
	f := newOrderFixture(t, 5*time.Second, product(1, "1.00", 3))
	f.add(t, 1, 1)

	release := make(chan struct{})
	f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
		<-release
		return domain.OrderResult{OrderID: "7"}, nil
	}

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.svc.Submit(context.Background())
	}()

	require.Eventually(t, func() bool { return f.svc.State() == domain.SubmitStateSubmitting }, time.Second, time.Millisecond)

	for range 5 {
		_, err := f.svc.Submit(t.Context())
		require.ErrorIs(t, err, ErrSubmitInProgress)
	}

	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, 1, f.api.calls())
	assert.Len(t, f.presenter.invoices, 1)
}

func TestSubmit_StaysInFlightUntilBookkeepingDone(t *testing.T) {
	f := newOrderFixture(t, 5*time.Second, product(1, "1.00", 10))
	f.add(t, 1, 1)

	saving := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.sales.mu.Lock()
	f.sales.saveHook = func() {
		once.Do(func() {
			close(saving)
			<-release
		})
	}
	f.sales.mu.Unlock()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.svc.Submit(context.Background())
	}()

	<-saving
	assert.Equal(t, domain.SubmitStateSubmitting, f.svc.State())

	// the cart has something to send again, but the first submit still owns the slot
	f.add(t, 1, 1)
	_, err := f.svc.Submit(t.Context())
	require.ErrorIs(t, err, ErrSubmitInProgress)
	assert.Equal(t, 1, f.api.calls())

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, domain.SubmitStateIdle, f.svc.State())

	_, err = f.svc.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, f.api.calls())
}

func TestSubmit_ConcurrentCallsSendOnce(t *testing.T) {
	f := newOrderFixture(t, 5*time.Second, product(1, "1.00", 3))
	f.add(t, 1, 1)
	f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
		time.Sleep(50 * time.Millisecond)
		return domain.OrderResult{}, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Submit(context.Background()); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.api.calls())
	assert.Equal(t, 1, succeeded)
}

func TestSubmit_DeduplicatesLines(t *testing.T) {
	api := &mockAPI{products: []domain.Product{product(1, "1.00", 5), product(2, "1.00", 5)}}
	catalog := newLoadedCatalog(t, api)
	cart := &fixedCart{lines: []domain.CartLine{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 2},
	}}
	svc := NewOrderService(api, cart, catalog, nil, OrderConfig{}, zap.NewNop())

	_, err := svc.Submit(t.Context())
	require.NoError(t, err)

	require.Len(t, api.requests, 1)
	assert.Equal(t, []domain.OrderLine{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}, api.requests[0].Lines)
	assert.True(t, cart.cleared)
}

func TestSubmit_StaleQuantityRejectedWithAllViolations(t *testing.T) {
	api := &mockAPI{products: []domain.Product{product(1, "1.00", 5), product(2, "1.00", 5), product(3, "1.00", 5)}}
	catalog := newLoadedCatalog(t, api)
	presenter := &recordingPresenter{}
	cart := &fixedCart{lines: []domain.CartLine{
		{ProductID: 1, Quantity: 4},
		{ProductID: 2, Quantity: 1},
		{ProductID: 3, Quantity: 9},
	}}
	svc := NewOrderService(api, cart, catalog, presenter, OrderConfig{}, zap.NewNop())

	// stock changed under the cart
	catalog.ApplyStock(map[int64]int{1: 2})

	_, err := svc.Submit(t.Context())
	require.ErrorIs(t, err, ErrStockInsufficient)

	var violations *StockViolationError
	require.ErrorAs(t, err, &violations)
	got := make([]int64, 0, len(violations.Violations))
	for _, v := range violations.Violations {
		got = append(got, v.ProductID)
	}
	assert.Equal(t, []int64{1, 3}, got)

	assert.Zero(t, api.calls())
	assert.Len(t, presenter.warnings, 1)
	assert.False(t, cart.cleared)
	assert.Equal(t, domain.SubmitStateIdle, svc.State())
}

func TestSubmit_TimeoutReleasesLock(t *testing.T) {
	f := newOrderFixture(t, 30*time.Millisecond, product(1, "1.00", 3))
	f.add(t, 1, 1)

	// the API ignores cancellation; the submitter must not wait for it
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
		<-release
		return domain.OrderResult{}, nil
	}

	start := time.Now()
	_, err := f.svc.Submit(t.Context())
	require.ErrorIs(t, err, ErrSubmitTimeout)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, domain.SubmitStateIdle, f.svc.State())
	assert.Equal(t, 1, f.cart.Len())
	assert.Equal(t, []string{msgTimeout}, f.presenter.errors)
}

func TestSubmit_TimeoutWithContextAwareAPI(t *testing.T) {
	f := newOrderFixture(t, 30*time.Millisecond, product(1, "1.00", 3))
	f.add(t, 1, 1)
	f.api.submitFn = func(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
		<-ctx.Done()
		return domain.OrderResult{}, ctx.Err()
	}

	_, err := f.svc.Submit(t.Context())
	require.ErrorIs(t, err, ErrSubmitTimeout)
	assert.Equal(t, domain.SubmitStateIdle, f.svc.State())
}

func TestSubmit_HistoryFailureDoesNotFailOrder(t *testing.T) {
	f := newOrderFixture(t, time.Second, product(1, "1.00", 3))
	f.add(t, 1, 1)
	f.sales.saveErr = errors.New("disk full")

	_, err := f.svc.Submit(t.Context())
	require.NoError(t, err)
	assert.Zero(t, f.cart.Len())
	assert.Len(t, f.events.published, 1)
}

func TestDedupLines(t *testing.T) {
	got := DedupLines([]domain.CartLine{
		{ProductID: 3, Quantity: 1},
		{ProductID: 1, Quantity: 5},
		{ProductID: 3, Quantity: 2},
		{ProductID: 1, Quantity: 1},
	})
	assert.Equal(t, []domain.CartLine{{ProductID: 3, Quantity: 2}, {ProductID: 1, Quantity: 1}}, got)
	assert.Empty(t, DedupLines(nil))
}

func TestValidateStock_MissingProduct(t *testing.T) {
	snap := domain.NewCatalog(1, []domain.Product{product(1, "1.00", 1)})

	err := ValidateStock([]domain.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 9, Quantity: 1}}, snap)
	var violations *StockViolationError
	require.ErrorAs(t, err, &violations)
	require.Len(t, violations.Violations, 1)
	assert.True(t, violations.Violations[0].Missing)
	assert.Contains(t, err.Error(), "product 9 is not in the catalog")

	assert.NoError(t, ValidateStock([]domain.CartLine{{ProductID: 1, Quantity: 1}}, snap))
}

func TestSubmit_SharedLock(t *testing.T) {
	f := newOrderFixture(t, time.Second, product(1, "1.00", 3))
	lock := &mockSubmitLock{}
	WithSubmitLock(lock)(f.svc)
	f.add(t, 1, 1)

	lock.held = true
	_, err := f.svc.Submit(t.Context())
	require.ErrorIs(t, err, ErrSubmitInProgress)
	assert.Zero(t, f.api.calls())
	assert.Equal(t, domain.SubmitStateIdle, f.svc.State())

	lock.held = false
	_, err = f.svc.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-till-1"}, lock.released)
	assert.False(t, lock.held)
}

func TestSubmit_SharedLockUnreachable(t *testing.T) {
	f := newOrderFixture(t, time.Second, product(1, "1.00", 3))
	WithSubmitLock(&mockSubmitLock{err: errors.New("redis down")})(f.svc)
	f.add(t, 1, 1)

	_, err := f.svc.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.calls())
}
