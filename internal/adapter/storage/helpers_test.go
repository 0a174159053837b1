package storage

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/rl1809/pos-register/internal/core/domain"
)

func randomInvoice(at time.Time) domain.Invoice {
	n := gofakeit.IntRange(1, 4)
	lines := make([]domain.InvoiceLine, 0, n)
	for range n {
		price := decimal.NewFromFloat(gofakeit.Price(0.1, 99)).Round(2)
		qty := gofakeit.IntRange(1, 5)
		lines = append(lines, domain.InvoiceLine{
			ProductID:   gofakeit.Int64(),
			ProductName: gofakeit.ProductName(),
			Quantity:    qty,
			UnitPrice:   price,
			LineTotal:   domain.LineTotal(price, qty),
		})
	}
	return domain.Invoice{
		ID:        "INV-" + gofakeit.UUID(),
		OrderID:   gofakeit.Numerify("#####"),
		Timestamp: at.UTC().Truncate(time.Microsecond),
		Lines:     lines,
		Total:     domain.SumLines(lines),
		Currency:  currency.EUR,
	}
}

func assertInvoice(t *testing.T, want, got domain.Invoice) {
	t.Helper()

	opts := cmp.Options{
		cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
		cmp.Comparer(func(a, b currency.Unit) bool { return a == b }),
		cmpopts.EquateApproxTime(time.Millisecond),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("invoice mismatch (-want +got):\n%s", diff)
	}
}
