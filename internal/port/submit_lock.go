package port

import (
	"context"
	"time"
)

// SubmitLock serializes order submission between processes that share a
// terminal id.
type SubmitLock interface {
	AcquireSubmitLock(ctx context.Context, terminalID string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseSubmitLock(ctx context.Context, terminalID, token string) error
}
