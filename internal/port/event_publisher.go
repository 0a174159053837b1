package port

import (
	"context"

	"github.com/rl1809/pos-register/internal/core/domain"
)

type EventPublisher interface {
	PublishSaleCompleted(ctx context.Context, terminalID string, invoice domain.Invoice) error
}
