package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleRecord is one sold line as reported by the today-orders feed.
type SaleRecord struct {
	ID          string
	At          time.Time
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (r SaleRecord) Total() decimal.Decimal {
	return LineTotal(r.UnitPrice, r.Quantity)
}

type SalesSummary struct {
	Count     int
	Revenue   decimal.Decimal
	ItemsSold int
}

type DashboardStats struct {
	TodayRevenue decimal.Decimal
	TodaySales   int
	ItemsSold    int
	ProductCount int
	LowStock     int
	Recent       []SaleRecord
}

// RecordsFromInvoices flattens invoices into per-line sale records.
func RecordsFromInvoices(invoices []Invoice) []SaleRecord {
	var out []SaleRecord
	for _, inv := range invoices {
		for _, l := range inv.Lines {
			out = append(out, SaleRecord{
				ID:          inv.ID,
				At:          inv.Timestamp,
				ProductName: l.ProductName,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
			})
		}
	}
	return out
}
