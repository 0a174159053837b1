package port

import (
	"context"

	"github.com/rl1809/pos-register/internal/core/domain"
)

type CartStore interface {
	// SaveCart replaces the stored cart for the terminal
	SaveCart(ctx context.Context, terminalID string, lines []domain.CartLine) error

	// LoadCart returns the stored lines, or nil when nothing is stored
	LoadCart(ctx context.Context, terminalID string) ([]domain.CartLine, error)

	// DeleteCart drops the stored cart
	DeleteCart(ctx context.Context, terminalID string) error
}
