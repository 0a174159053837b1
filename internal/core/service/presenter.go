package service

import (
	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/port"
)

type nopPresenter struct{}

func (nopPresenter) ShowInvoice(domain.Invoice) {}
func (nopPresenter) ShowWarning(string)         {}
func (nopPresenter) ShowError(string)           {}

func presenterOrNop(p port.Presenter) port.Presenter {
	if p == nil {
		return nopPresenter{}
	}
	return p
}
