package domain

import "github.com/shopspring/decimal"

// LowStockThreshold is the stock level under which a product is reported as low.
const LowStockThreshold = 10

type Product struct {
	ID        int64
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
	Category  string
	ImageRef  string
}
