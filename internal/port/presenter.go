package port

import "github.com/rl1809/pos-register/internal/core/domain"

// Presenter is the display side of the register: receipts, warnings and
// errors raised by the cart and the submitter end up here.
type Presenter interface {
	ShowInvoice(invoice domain.Invoice)
	ShowWarning(message string)
	ShowError(message string)
}
