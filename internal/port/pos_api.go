package port

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/pos-register/internal/core/domain"
)

// POSAPI is the remote point-of-sale backend.
type POSAPI interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	TodayOrders(ctx context.Context) ([]domain.SaleRecord, error)

	Login(ctx context.Context, email, password string) (string, error)
}

type APIErrorKind string

const (
	// KindTransport: the server could not be reached
	KindTransport APIErrorKind = "transport"
	// KindTimeout: the call ran out of time
	KindTimeout APIErrorKind = "timeout"
	// KindRejected: non-2xx answer
	KindRejected APIErrorKind = "rejected"
	// KindMalformed: 2xx answer that could not be decoded, or a non-JSON body
	KindMalformed APIErrorKind = "malformed"
)

// APIError is the failure half of every POSAPI call.
type APIError struct {
	Kind   APIErrorKind
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout:
		return true
	case KindRejected:
		return e.Status >= 500
	default:
		return false
	}
}

// AsAPIError unwraps err into an *APIError if it carries one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
