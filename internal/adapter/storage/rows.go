package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/rl1809/pos-register/internal/core/domain"
)

var ErrDuplicateInvoice = errors.New("invoice already recorded")

// invoiceRow is one row of the invoices x invoice_lines join. Line columns are
// empty for an invoice without lines.
type invoiceRow struct {
	ID        string
	OrderID   string
	CreatedAt time.Time
	Total     decimal.Decimal
	Currency  string

	HasLine     bool
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// groupInvoiceRows folds joined rows, ordered by invoice, into invoices.
func groupInvoiceRows(rows []invoiceRow) ([]domain.Invoice, error) {
	var out []domain.Invoice
	for _, row := range rows {
		if len(out) == 0 || out[len(out)-1].ID != row.ID {
			unit, err := currency.ParseISO(row.Currency)
			if err != nil {
				return nil, fmt.Errorf("invoice %s currency[%s] is not valid: %w", row.ID, row.Currency, err)
			}
			out = append(out, domain.Invoice{
				ID:        row.ID,
				OrderID:   row.OrderID,
				Timestamp: row.CreatedAt,
				Total:     row.Total,
				Currency:  unit,
			})
		}
		if !row.HasLine {
			continue
		}
		inv := &out[len(out)-1]
		inv.Lines = append(inv.Lines, domain.InvoiceLine{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Quantity:    row.Quantity,
			UnitPrice:   row.UnitPrice,
			LineTotal:   row.LineTotal,
		})
	}
	return out, nil
}

func currencyCode(inv domain.Invoice) string {
	if inv.Currency == (currency.Unit{}) {
		return currency.USD.String()
	}
	return inv.Currency.String()
}
