package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/port"
)

const recentSalesLimit = 5

type SalesReport struct {
	Records []domain.SaleRecord
	Summary domain.SalesSummary
	// FromHistory is set when the remote feed failed and local history was used.
	FromHistory bool
}

type SalesService struct {
	api     port.POSAPI
	history port.SalesRepository
	catalog CatalogReader
	now     func() time.Time
	logger  *zap.Logger
}

func NewSalesService(api port.POSAPI, history port.SalesRepository, catalog CatalogReader, logger *zap.Logger) *SalesService {
	return &SalesService{
		api:     api,
		history: history,
		catalog: catalog,
		now:     time.Now,
		logger:  logger.Named("sales"),
	}
}

// Today returns today's sales from the remote feed, falling back to the
// local sales history when the feed is unavailable.
func (s *SalesService) Today(ctx context.Context) ([]domain.SaleRecord, bool, error) {
	records, err := s.api.TodayOrders(ctx)
	if err == nil {
		return records, false, nil
	}

	s.logger.Warn("today orders unavailable, using local sales history", zap.Error(err))
	if s.history == nil {
		return nil, false, fmt.Errorf("today orders: %w", err)
	}

	invoices, histErr := s.history.ListInvoices(ctx, startOfDay(s.now()))
	if histErr != nil {
		return nil, false, fmt.Errorf("today orders: %w (history: %v)", err, histErr)
	}
	return domain.RecordsFromInvoices(invoices), true, nil
}

// Report builds the sales report, optionally restricted to one calendar day.
func (s *SalesService) Report(ctx context.Context, day *time.Time) (SalesReport, error) {
	records, fromHistory, err := s.Today(ctx)
	if err != nil {
		return SalesReport{}, err
	}
	if day != nil {
		records = FilterByDate(records, *day)
	}
	return SalesReport{
		Records:     records,
		Summary:     Summarize(records),
		FromHistory: fromHistory,
	}, nil
}

func (s *SalesService) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	snap := s.catalog.Snapshot()
	stats := domain.DashboardStats{
		TodayRevenue: decimal.Zero,
		ProductCount: snap.Len(),
		LowStock:     snap.LowStockCount(),
	}

	records, _, err := s.Today(ctx)
	if err != nil {
		return stats, err
	}

	summary := Summarize(records)
	stats.TodayRevenue = summary.Revenue
	stats.TodaySales = summary.Count
	stats.ItemsSold = summary.ItemsSold
	stats.Recent = Recent(records, recentSalesLimit)
	return stats, nil
}

// FilterByDate keeps records on the same calendar day as day, in day's location.
func FilterByDate(records []domain.SaleRecord, day time.Time) []domain.SaleRecord {
	y, m, d := day.Date()
	var out []domain.SaleRecord
	for _, r := range records {
		ry, rm, rd := r.At.In(day.Location()).Date()
		if ry == y && rm == m && rd == d {
			out = append(out, r)
		}
	}
	return out
}

func Summarize(records []domain.SaleRecord) domain.SalesSummary {
	summary := domain.SalesSummary{Count: len(records), Revenue: decimal.Zero}
	for _, r := range records {
		summary.Revenue = summary.Revenue.Add(r.Total())
		summary.ItemsSold += r.Quantity
	}
	return summary
}

// Recent returns the last n records, newest first.
func Recent(records []domain.SaleRecord, n int) []domain.SaleRecord {
	start := max(len(records)-n, 0)
	out := slices.Clone(records[start:])
	slices.Reverse(out)
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
