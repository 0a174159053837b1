package port

import (
	"context"
	"time"

	"github.com/rl1809/pos-register/internal/core/domain"
)

type SalesRepository interface {
	// SaveInvoice appends a completed sale to the local history
	SaveInvoice(ctx context.Context, invoice domain.Invoice) error

	// ListInvoices returns invoices issued at or after since, oldest first
	ListInvoices(ctx context.Context, since time.Time) ([]domain.Invoice, error)
}
