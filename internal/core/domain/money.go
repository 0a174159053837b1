package domain

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type Money struct {
	Amount   decimal.Decimal
	Currency currency.Unit
}

// String renders the amount rounded to cents, e.g. "USD 5.00".
func (m Money) String() string {
	return m.Currency.String() + " " + FormatAmount(m.Amount)
}

// FormatAmount rounds to two places. Sums are kept exact until this point.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// LineTotal is quantity x unit price without intermediate rounding.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
