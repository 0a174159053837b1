package domain

import "github.com/shopspring/decimal"

type StockStatus string

const (
	StockStatusOut     StockStatus = "out_of_stock"
	StockStatusLow     StockStatus = "low"
	StockStatusInStock StockStatus = "in_stock"
)

type InventoryItem struct {
	ProductID int64
	Name      string
	Category  string
	Stock     int
	UnitPrice decimal.Decimal
	Status    StockStatus
}

func StatusForStock(stock int) StockStatus {
	switch {
	case stock <= 0:
		return StockStatusOut
	case stock < LowStockThreshold:
		return StockStatusLow
	default:
		return StockStatusInStock
	}
}

func (p Product) StockStatus() StockStatus {
	return StatusForStock(p.Stock)
}
