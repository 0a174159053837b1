package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrStockUnavailable   = errors.New("stock unavailable")
	ErrStockInsufficient  = errors.New("insufficient stock")
	ErrEmptyCart          = errors.New("nothing to order")
	ErrSubmitInProgress   = errors.New("order submission already in progress")
	ErrSubmitTimeout      = errors.New("order submission timed out")
	ErrInvalidProduct     = errors.New("invalid product")
	ErrInvalidCredentials = errors.New("email and password are required")
)

// StockViolation describes one order line the catalog cannot cover.
type StockViolation struct {
	ProductID int64
	Name      string
	Requested int
	Available int
	Missing   bool
}

func (v StockViolation) String() string {
	if v.Missing {
		return fmt.Sprintf("product %d is not in the catalog", v.ProductID)
	}
	return fmt.Sprintf("%q has only %d in stock (requested %d)", v.Name, v.Available, v.Requested)
}

// StockViolationError carries every violating line, not just the first.
type StockViolationError struct {
	Violations []StockViolation
}

func (e *StockViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return ErrStockInsufficient.Error() + ": " + strings.Join(parts, "; ")
}

func (e *StockViolationError) Is(target error) bool {
	return target == ErrStockInsufficient
}
