package presenter

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/port"
)

// LogPresenter reports checkout outcomes to the structured log.
type LogPresenter struct {
	logger *zap.Logger
}

func NewLogPresenter(logger *zap.Logger) *LogPresenter {
	return &LogPresenter{logger: logger.Named("presenter")}
}

func (p *LogPresenter) ShowInvoice(inv domain.Invoice) {
	p.logger.Info("invoice",
		zap.String("invoice_id", inv.ID),
		zap.String("order_id", inv.OrderID),
		zap.Int("items", inv.ItemCount()),
		zap.Stringer("total", inv.TotalMoney()))
}

func (p *LogPresenter) ShowWarning(msg string) {
	p.logger.Warn(msg)
}

func (p *LogPresenter) ShowError(msg string) {
	p.logger.Error(msg)
}

// ReceiptPresenter prints invoices as plain text receipts, e.g. to a
// receipt printer device or a spool file.
type ReceiptPresenter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewReceiptPresenter(out io.Writer) *ReceiptPresenter {
	return &ReceiptPresenter{out: out}
}

func (p *ReceiptPresenter) ShowInvoice(inv domain.Invoice) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = WriteReceipt(p.out, inv)
}

func (p *ReceiptPresenter) ShowWarning(string) {}
func (p *ReceiptPresenter) ShowError(string)   {}

// WriteReceipt renders inv with aligned columns.
func WriteReceipt(out io.Writer, inv domain.Invoice) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintf(tw, "Invoice %s\t\n", inv.ID)
	if inv.OrderID != "" && inv.OrderID != inv.ID {
		fmt.Fprintf(tw, "Order %s\t\n", inv.OrderID)
	}
	fmt.Fprintf(tw, "%s\t\n", inv.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(tw, "Item\tQty\tPrice\tTotal\t")
	for _, l := range inv.Lines {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n",
			l.ProductName, l.Quantity, domain.FormatAmount(l.UnitPrice), domain.FormatAmount(l.LineTotal))
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%s\t\n", inv.TotalMoney())

	return tw.Flush()
}

// Multi fans every call out to each presenter in order.
type Multi []port.Presenter

func (m Multi) ShowInvoice(inv domain.Invoice) {
	for _, p := range m {
		p.ShowInvoice(inv)
	}
}

func (m Multi) ShowWarning(msg string) {
	for _, p := range m {
		p.ShowWarning(msg)
	}
}

func (m Multi) ShowError(msg string) {
	for _, p := range m {
		p.ShowError(msg)
	}
}
