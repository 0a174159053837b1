package messaging

import (
	"encoding/json"
	"time"

	"github.com/rl1809/pos-register/internal/core/domain"
)

const (
	TopicSaleCompleted = "pos.sale.completed"
	EventSaleCompleted = "SaleCompleted"

	saleCompletedVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type SaleItem struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// Amounts are exact decimal strings.
type SaleCompletedPayload struct {
	TerminalID string     `json:"terminal_id"`
	InvoiceID  string     `json:"invoice_id"`
	OrderID    string     `json:"order_id,omitempty"`
	Currency   string     `json:"currency"`
	Total      string     `json:"total"`
	Items      []SaleItem `json:"items"`
}

func saleCompletedPayload(terminalID string, inv domain.Invoice) SaleCompletedPayload {
	items := make([]SaleItem, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		items = append(items, SaleItem{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Qty:         l.Quantity,
			UnitPrice:   l.UnitPrice.String(),
			LineTotal:   l.LineTotal.String(),
		})
	}
	return SaleCompletedPayload{
		TerminalID: terminalID,
		InvoiceID:  inv.ID,
		OrderID:    inv.OrderID,
		Currency:   inv.Currency.String(),
		Total:      inv.Total.String(),
		Items:      items,
	}
}
