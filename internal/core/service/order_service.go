package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/port"
)

const (
	DefaultSubmitTimeout = 15 * time.Second
	sharedLockSlack      = 5 * time.Second

	msgEmptyCart   = "the cart is empty, add items before checking out"
	msgUnreachable = "cannot connect to the server"
	msgTimeout     = "the order timed out; check today's sales before retrying"
	msgRejected    = "the server rejected the order, check the order data"
)

// CartSource is the cart as seen by the submitter.
type CartSource interface {
	Lines() []domain.CartLine
	Clear(ctx context.Context) error
}

// CatalogPatcher is the catalog as seen by the submitter.
type CatalogPatcher interface {
	CatalogReader
	ApplyStock(stock map[int64]int) domain.Catalog
}

type OrderConfig struct {
	TerminalID    string
	Currency      currency.Unit
	SubmitTimeout time.Duration
}

type OrderOption func(*OrderService)

func WithSalesRepository(repo port.SalesRepository) OrderOption {
	return func(s *OrderService) { s.sales = repo }
}

func WithEventPublisher(pub port.EventPublisher) OrderOption {
	return func(s *OrderService) { s.events = pub }
}

// WithSubmitLock adds a shared lock on top of the in-process guard.
func WithSubmitLock(lock port.SubmitLock) OrderOption {
	return func(s *OrderService) { s.lock = lock }
}

func WithClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

// OrderService submits the cart as an order. At most one submission runs at
// a time; a call made while another is in flight is rejected, not queued.
type OrderService struct {
	api       port.POSAPI
	cart      CartSource
	catalog   CatalogPatcher
	presenter port.Presenter
	sales     port.SalesRepository
	events    port.EventPublisher
	lock      port.SubmitLock
	cfg       OrderConfig
	now       func() time.Time
	logger    *zap.Logger

	state atomic.Int32
}

func NewOrderService(api port.POSAPI, cart CartSource, catalog CatalogPatcher, presenter port.Presenter, cfg OrderConfig, logger *zap.Logger, opts ...OrderOption) *OrderService {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.Currency == (currency.Unit{}) {
		cfg.Currency = currency.USD
	}

	s := &OrderService{
		api:       api,
		cart:      cart,
		catalog:   catalog,
		presenter: presenterOrNop(presenter),
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Named("order"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) State() domain.SubmitState {
	return domain.SubmitState(s.state.Load())
}

// Submit sends the current cart to the order API. On success the catalog is
// patched with the server's stock levels, the cart is cleared and the invoice
// is handed to the presenter. On failure the cart is left as it was.
func (s *OrderService) Submit(ctx context.Context) (domain.Invoice, error) {
	if !s.state.CompareAndSwap(int32(domain.SubmitStateIdle), int32(domain.SubmitStateSubmitting)) {
		s.logger.Info("submit rejected, another order is in flight")
		return domain.Invoice{}, ErrSubmitInProgress
	}
	defer s.state.Store(int32(domain.SubmitStateIdle))

	if s.lock != nil {
		release, ok := s.acquireShared(ctx)
		if !ok {
			return domain.Invoice{}, ErrSubmitInProgress
		}
		defer release()
	}

	lines := s.cart.Lines()
	if len(lines) == 0 {
		s.presenter.ShowWarning(msgEmptyCart)
		return domain.Invoice{}, ErrEmptyCart
	}

	unique := DedupLines(lines)
	snap := s.catalog.Snapshot()
	if err := ValidateStock(unique, snap); err != nil {
		s.presenter.ShowWarning(err.Error())
		return domain.Invoice{}, err
	}

	req := domain.OrderRequest{Lines: make([]domain.OrderLine, 0, len(unique))}
	for _, l := range unique {
		req.Lines = append(req.Lines, domain.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	result, err := s.send(ctx, req)
	if err != nil {
		s.presenter.ShowError(failureMessage(err))
		s.logger.Error("order submission failed", zap.Int("lines", len(req.Lines)), zap.Error(err))
		return domain.Invoice{}, err
	}

	s.reconcileStock(result, unique, snap)
	invoice := s.buildInvoice(result, unique, snap)

	if err := s.cart.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear cart after order", zap.Error(err))
	}

	s.logger.Info("order completed",
		zap.String("invoice_id", invoice.ID),
		zap.String("order_id", invoice.OrderID),
		zap.String("total", domain.FormatAmount(invoice.Total)))
	s.presenter.ShowInvoice(invoice)
	s.record(ctx, invoice)

	return invoice, nil
}

// acquireShared takes the shared lock. A lock backend that cannot be reached
// does not block checkout; the in-process guard still holds.
func (s *OrderService) acquireShared(ctx context.Context) (func(), bool) {
	ttl := s.cfg.SubmitTimeout + sharedLockSlack
	token, ok, err := s.lock.AcquireSubmitLock(ctx, s.cfg.TerminalID, ttl)
	if err != nil {
		s.logger.Warn("shared submit lock unavailable, continuing with local guard", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		s.logger.Info("submit rejected, terminal is submitting from another process", zap.String("terminal_id", s.cfg.TerminalID))
		return nil, false
	}
	return func() {
		if err := s.lock.ReleaseSubmitLock(context.WithoutCancel(ctx), s.cfg.TerminalID, token); err != nil {
			s.logger.Warn("failed to release shared submit lock", zap.Error(err))
		}
	}, true
}

type submitOutcome struct {
	result domain.OrderResult
	err    error
}

// send runs the API call under the submit timeout. The lock is released when
// the timeout fires even if the call itself never returns.
func (s *OrderService) send(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	done := make(chan submitOutcome, 1)
	go func() {
		result, err := s.api.SubmitOrder(callCtx, req)
		done <- submitOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return domain.OrderResult{}, fmt.Errorf("%w: %w", ErrSubmitTimeout, out.err)
			}
			return domain.OrderResult{}, fmt.Errorf("submit order: %w", out.err)
		}
		return out.result, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return domain.OrderResult{}, fmt.Errorf("submit order: %w", ctx.Err())
		}
		s.logger.Warn("order outcome unknown, submit timed out", zap.Duration("timeout", s.cfg.SubmitTimeout))
		return domain.OrderResult{}, ErrSubmitTimeout
	}
}

// reconcileStock applies the server's stock levels. Products the server did
// not report are decremented locally by the ordered quantity.
func (s *OrderService) reconcileStock(result domain.OrderResult, lines []domain.CartLine, snap domain.Catalog) {
	updates := result.StockUpdates()
	for _, l := range lines {
		if _, ok := updates[l.ProductID]; ok {
			continue
		}
		p, ok := snap.Find(l.ProductID)
		if !ok {
			continue
		}
		s.logger.Warn("order response missing stock, decrementing locally", zap.Int64("product_id", l.ProductID))
		updates[l.ProductID] = max(p.Stock-l.Quantity, 0)
	}
	s.catalog.ApplyStock(updates)
}

func (s *OrderService) buildInvoice(result domain.OrderResult, lines []domain.CartLine, snap domain.Catalog) domain.Invoice {
	invoiceLines, ok := linesFromResult(result, lines, snap)
	if !ok {
		s.logger.Debug("order response carries no complete pricing, using catalog prices for invoice")
		invoiceLines = linesFromCart(lines, snap)
	}

	id := result.OrderID
	if id == "" {
		id = "INV-" + uuid.NewString()
	}

	return domain.Invoice{
		ID:        id,
		OrderID:   result.OrderID,
		Timestamp: s.now(),
		Lines:     invoiceLines,
		Total:     domain.SumLines(invoiceLines),
		Currency:  s.cfg.Currency,
	}
}

// record stores and publishes the invoice. The sale already happened
// server-side, so failures here are only logged.
func (s *OrderService) record(ctx context.Context, invoice domain.Invoice) {
	if s.sales != nil {
		if err := s.sales.SaveInvoice(ctx, invoice); err != nil {
			s.logger.Error("failed to save invoice to sales history", zap.String("invoice_id", invoice.ID), zap.Error(err))
		}
	}
	if s.events != nil {
		if err := s.events.PublishSaleCompleted(ctx, s.cfg.TerminalID, invoice); err != nil {
			s.logger.Error("failed to publish sale event", zap.String("invoice_id", invoice.ID), zap.Error(err))
		}
	}
}

// DedupLines merges lines by product id. The last quantity seen wins and the
// first position is kept.
func DedupLines(lines []domain.CartLine) []domain.CartLine {
	index := make(map[int64]int, len(lines))
	out := make([]domain.CartLine, 0, len(lines))
	for _, l := range lines {
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity = l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

// ValidateStock checks every line against the snapshot and reports all
// violations at once.
func ValidateStock(lines []domain.CartLine, snap domain.Catalog) error {
	var violations []StockViolation
	for _, l := range lines {
		p, ok := snap.Find(l.ProductID)
		if !ok {
			violations = append(violations, StockViolation{ProductID: l.ProductID, Requested: l.Quantity, Missing: true})
			continue
		}
		if l.Quantity > p.Stock {
			violations = append(violations, StockViolation{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: l.Quantity,
				Available: p.Stock,
			})
		}
	}
	if len(violations) > 0 {
		return &StockViolationError{Violations: violations}
	}
	return nil
}

// linesFromResult prices the invoice from the server's answer, in order
// line order. Lines that only report stock are skipped. The answer is
// rejected unless every ordered product is priced exactly once by a complete
// line that matches an ordered product.
func linesFromResult(result domain.OrderResult, ordered []domain.CartLine, snap domain.Catalog) ([]domain.InvoiceLine, bool) {
	priced := make(map[int64]domain.InvoiceLine, len(ordered))
	for _, rl := range result.Lines {
		if !rl.HasPrice && !rl.HasQuantity {
			continue
		}
		if !rl.HasPrice || !rl.HasQuantity || rl.Quantity <= 0 {
			return nil, false
		}
		id, ok := matchOrdered(rl, ordered, snap)
		if !ok {
			return nil, false
		}
		if _, dup := priced[id]; dup {
			return nil, false
		}

		name := rl.ProductName
		if name == "" {
			p, _ := snap.Find(id)
			name = p.Name
		}
		priced[id] = domain.InvoiceLine{
			ProductID:   id,
			ProductName: name,
			Quantity:    rl.Quantity,
			UnitPrice:   rl.UnitPrice,
			LineTotal:   domain.LineTotal(rl.UnitPrice, rl.Quantity),
		}
	}
	if len(priced) == 0 || len(priced) != len(ordered) {
		return nil, false
	}

	out := make([]domain.InvoiceLine, 0, len(ordered))
	for _, l := range ordered {
		out = append(out, priced[l.ProductID])
	}
	return out, true
}

// matchOrdered resolves a response line to an ordered product, by id when the
// server sent one and by catalog name otherwise.
func matchOrdered(rl domain.OrderResultLine, ordered []domain.CartLine, snap domain.Catalog) (int64, bool) {
	for _, l := range ordered {
		if rl.ProductID != 0 {
			if l.ProductID == rl.ProductID {
				return l.ProductID, true
			}
			continue
		}
		if p, ok := snap.Find(l.ProductID); ok && p.Name == rl.ProductName {
			return l.ProductID, true
		}
	}
	return 0, false
}

func linesFromCart(lines []domain.CartLine, snap domain.Catalog) []domain.InvoiceLine {
	out := make([]domain.InvoiceLine, 0, len(lines))
	for _, l := range lines {
		p, _ := snap.Find(l.ProductID)
		out = append(out, domain.InvoiceLine{
			ProductID:   l.ProductID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   p.UnitPrice,
			LineTotal:   domain.LineTotal(p.UnitPrice, l.Quantity),
		})
	}
	return out
}

func failureMessage(err error) string {
	if errors.Is(err, ErrSubmitTimeout) {
		return msgTimeout
	}
	apiErr, ok := port.AsAPIError(err)
	if !ok {
		return msgUnreachable
	}
	switch apiErr.Kind {
	case port.KindRejected:
		if apiErr.Detail != "" {
			return apiErr.Detail
		}
		return msgRejected
	case port.KindMalformed:
		if apiErr.Detail != "" {
			return "the server returned an unreadable response: " + apiErr.Detail
		}
		return "the server returned an unreadable response"
	case port.KindTimeout:
		return msgTimeout
	default:
		return msgUnreachable
	}
}
