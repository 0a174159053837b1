package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/core/service"
	"github.com/rl1809/pos-register/internal/port"
)

const dateLayout = "2006-01-02"

// Services groups what the local API drives.
type Services struct {
	Catalog *service.CatalogService
	Cart    *service.CartService
	Orders  *service.OrderService
	Sales   *service.SalesService
	Session *service.SessionService
}

// HTTPHandler serves the register's local API to the section views.
type HTTPHandler struct {
	svc      Services
	currency currency.Unit
	location *time.Location
	logger   *zap.Logger
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ProductRequest struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Category string          `json:"category"`
	Image    string          `json:"image"`
}

type AddItemRequest struct {
	ProductID int64 `json:"product_id"`
}

type UpdateItemRequest struct {
	Delta int `json:"delta"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProductView struct {
	ID       int64              `json:"id"`
	Name     string             `json:"name"`
	Price    string             `json:"price"`
	Stock    int                `json:"stock"`
	Category string             `json:"category"`
	Image    string             `json:"image,omitempty"`
	Status   domain.StockStatus `json:"status"`
}

type CartLineView struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
	Available bool   `json:"available"`
}

type CartView struct {
	Lines    []CartLineView `json:"lines"`
	Total    string         `json:"total"`
	Currency string         `json:"currency"`
	State    string         `json:"state"`
}

type InvoiceLineView struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type InvoiceView struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Lines     []InvoiceLineView `json:"lines"`
	Total     string            `json:"total"`
	Currency  string            `json:"currency"`
}

type SaleView struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	UnitPrice   string    `json:"unit_price"`
	Total       string    `json:"total"`
}

type SalesView struct {
	Sales       []SaleView `json:"sales"`
	Count       int        `json:"count"`
	Revenue     string     `json:"revenue"`
	ItemsSold   int        `json:"items_sold"`
	FromHistory bool       `json:"from_history"`
}

type DashboardView struct {
	TodayRevenue string     `json:"today_revenue"`
	TodaySales   int        `json:"today_sales"`
	ItemsSold    int        `json:"items_sold"`
	ProductCount int        `json:"product_count"`
	LowStock     int        `json:"low_stock"`
	Recent       []SaleView `json:"recent"`
}

func NewHTTPHandler(svc Services, unit currency.Unit, loc *time.Location, logger *zap.Logger) *HTTPHandler {
	if loc == nil {
		loc = time.Local
	}
	return &HTTPHandler{
		svc:      svc,
		currency: unit,
		location: loc,
		logger:   logger.Named("http"),
	}
}

func (h *HTTPHandler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Post("/products/refresh", h.RefreshProducts)
		r.Post("/products", h.CreateProduct)
		r.Put("/products/{id}", h.UpdateProduct)
		r.Delete("/products/{id}", h.DeleteProduct)
		r.Get("/inventory", h.Inventory)

		r.Get("/cart", h.GetCart)
		r.Post("/cart/items", h.AddItem)
		r.Patch("/cart/items/{id}", h.UpdateItem)
		r.Delete("/cart/items/{id}", h.RemoveItem)
		r.Delete("/cart", h.ClearCart)
		r.Post("/checkout", h.Checkout)

		r.Get("/sales", h.Sales)
		r.Get("/dashboard", h.Dashboard)

		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: productViews(h.svc.Catalog.Snapshot().Products())})
}

// RefreshProducts refetches the catalog. On failure the current snapshot is
// still returned alongside the error.
func (h *HTTPHandler) RefreshProducts(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Catalog.Refresh(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), Response{Success: false, Message: err.Error(), Data: productViews(snap.Products())})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: productViews(snap.Products())})
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.svc.Catalog.CreateProduct(r.Context(), req.toDomain(0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "product created", Data: productView(created)})
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := h.svc.Catalog.UpdateProduct(r.Context(), req.toDomain(id))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "product updated", Data: productView(updated)})
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Catalog.DeleteProduct(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "product deleted"})
}

func (h *HTTPHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	items := h.svc.Catalog.Inventory()
	views := make([]ProductView, 0, len(items))
	for _, it := range items {
		views = append(views, ProductView{
			ID:       it.ProductID,
			Name:     it.Name,
			Price:    domain.FormatAmount(it.UnitPrice),
			Stock:    it.Stock,
			Category: it.Category,
			Status:   it.Status,
		})
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: views})
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.cartView()})
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID <= 0 {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "product_id is required"})
		return
	}
	h.cartResult(w, h.svc.Cart.AddItem(r.Context(), req.ProductID))
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req UpdateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.cartResult(w, h.svc.Cart.UpdateQuantity(r.Context(), id, req.Delta))
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	h.cartResult(w, h.svc.Cart.RemoveItem(r.Context(), id))
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.cartResult(w, h.svc.Cart.Clear(r.Context()))
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.svc.Orders.Submit(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "order placed successfully", Data: invoiceView(invoice)})
}

func (h *HTTPHandler) Sales(w http.ResponseWriter, r *http.Request) {
	var day *time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.ParseInLocation(dateLayout, v, h.location)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "date must be YYYY-MM-DD"})
			return
		}
		day = &parsed
	}

	report, err := h.svc.Sales.Report(r.Context(), day)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: SalesView{
		Sales:       saleViews(report.Records),
		Count:       report.Summary.Count,
		Revenue:     domain.FormatAmount(report.Summary.Revenue),
		ItemsSold:   report.Summary.ItemsSold,
		FromHistory: report.FromHistory,
	}})
}

// Dashboard answers with the catalog figures even when the sales feed fails.
func (h *HTTPHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Sales.Dashboard(r.Context())
	view := DashboardView{
		TodayRevenue: domain.FormatAmount(stats.TodayRevenue),
		TodaySales:   stats.TodaySales,
		ItemsSold:    stats.ItemsSold,
		ProductCount: stats.ProductCount,
		LowStock:     stats.LowStock,
		Recent:       saleViews(stats.Recent),
	}
	if err != nil {
		h.logger.Warn("dashboard sales unavailable", zap.Error(err))
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "sales unavailable: " + err.Error(), Data: view})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: view})
}

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.Session.Login(r.Context(), req.Email, req.Password); err != nil {
		if apiErr, ok := port.AsAPIError(err); ok && apiErr.Kind == port.KindRejected {
			writeJSON(w, http.StatusUnauthorized, Response{Success: false, Message: "login failed: " + apiErr.Detail})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "logged in"})
}

func (h *HTTPHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Session.Logout(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "logged out"})
}

func (h *HTTPHandler) cartResult(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), Response{Success: false, Message: err.Error(), Data: h.cartView()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.cartView()})
}

func (h *HTTPHandler) cartView() CartView {
	entries := h.svc.Cart.Entries()
	view := CartView{
		Lines:    make([]CartLineView, 0, len(entries)),
		Currency: h.currency.String(),
		State:    h.svc.Orders.State().String(),
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.LineTotal)
		view.Lines = append(view.Lines, CartLineView{
			ProductID: e.Line.ProductID,
			Name:      e.Product.Name,
			Quantity:  e.Line.Quantity,
			UnitPrice: domain.FormatAmount(e.Product.UnitPrice),
			LineTotal: domain.FormatAmount(e.LineTotal),
			Available: e.Known,
		})
	}
	view.Total = domain.FormatAmount(total)
	return view
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}

	resp := Response{Success: false, Message: err.Error()}
	var violations *service.StockViolationError
	if errors.As(err, &violations) {
		msgs := make([]string, 0, len(violations.Violations))
		for _, v := range violations.Violations {
			msgs = append(msgs, v.String())
		}
		resp.Data = msgs
	}
	writeJSON(w, status, resp)
}

// statusFor maps service and API errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSubmitInProgress),
		errors.Is(err, service.ErrStockInsufficient),
		errors.Is(err, service.ErrStockUnavailable):
		return http.StatusConflict
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInvalidProduct),
		errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSubmitTimeout):
		return http.StatusGatewayTimeout
	}

	if apiErr, ok := port.AsAPIError(err); ok {
		if apiErr.Kind == port.KindTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (req ProductRequest) toDomain(id int64) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      req.Name,
		UnitPrice: req.Price,
		Stock:     req.Stock,
		Category:  req.Category,
		ImageRef:  req.Image,
	}
}

func productView(p domain.Product) ProductView {
	return ProductView{
		ID:       p.ID,
		Name:     p.Name,
		Price:    domain.FormatAmount(p.UnitPrice),
		Stock:    p.Stock,
		Category: p.Category,
		Image:    p.ImageRef,
		Status:   p.StockStatus(),
	}
}

func productViews(products []domain.Product) []ProductView {
	out := make([]ProductView, 0, len(products))
	for _, p := range products {
		out = append(out, productView(p))
	}
	return out
}

func invoiceView(inv domain.Invoice) InvoiceView {
	view := InvoiceView{
		ID:        inv.ID,
		OrderID:   inv.OrderID,
		Timestamp: inv.Timestamp,
		Lines:     make([]InvoiceLineView, 0, len(inv.Lines)),
		Total:     domain.FormatAmount(inv.Total),
		Currency:  inv.Currency.String(),
	}
	for _, l := range inv.Lines {
		view.Lines = append(view.Lines, InvoiceLineView{
			ProductID: l.ProductID,
			Name:      l.ProductName,
			Quantity:  l.Quantity,
			UnitPrice: domain.FormatAmount(l.UnitPrice),
			LineTotal: domain.FormatAmount(l.LineTotal),
		})
	}
	return view
}

func saleViews(records []domain.SaleRecord) []SaleView {
	out := make([]SaleView, 0, len(records))
	for _, r := range records {
		out = append(out, SaleView{
			ID:          r.ID,
			At:          r.At,
			ProductName: r.ProductName,
			Quantity:    r.Quantity,
			UnitPrice:   domain.FormatAmount(r.UnitPrice),
			Total:       domain.FormatAmount(r.Total()),
		})
	}
	return out
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid id"})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
