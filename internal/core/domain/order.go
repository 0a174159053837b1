package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type SubmitState int32

const (
	SubmitStateIdle SubmitState = iota
	SubmitStateSubmitting
)

func (s SubmitState) String() string {
	switch s {
	case SubmitStateIdle:
		return "idle"
	case SubmitStateSubmitting:
		return "submitting"
	default:
		return "unknown"
	}
}

type OrderLine struct {
	ProductID int64
	Quantity  int
}

type OrderRequest struct {
	Lines []OrderLine
}

// OrderResultLine is one line of the server's answer. Every field besides
// ProductID or ProductName may be missing; the Has* flags say which were sent.
type OrderResultLine struct {
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Stock       int

	HasQuantity bool
	HasPrice    bool
	HasStock    bool
}

type OrderResult struct {
	OrderID string
	Message string
	Lines   []OrderResultLine
}

// StockUpdates returns the authoritative post-sale stock levels reported by the server.
func (r OrderResult) StockUpdates() map[int64]int {
	out := make(map[int64]int)
	for _, l := range r.Lines {
		if l.HasStock && l.ProductID != 0 {
			out[l.ProductID] = l.Stock
		}
	}
	return out
}

type InvoiceLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Invoice struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Timestamp time.Time       `json:"timestamp"`
	Lines     []InvoiceLine   `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	Currency  currency.Unit   `json:"-"`
}

func (inv Invoice) TotalMoney() Money {
	return Money{Amount: inv.Total, Currency: inv.Currency}
}

func (inv Invoice) ItemCount() int {
	n := 0
	for _, l := range inv.Lines {
		n += l.Quantity
	}
	return n
}

// SumLines totals the lines' LineTotal values exactly.
func SumLines(lines []InvoiceLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
	}
	return total
}
