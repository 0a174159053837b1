package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/core/domain"
	"github.com/rl1809/pos-register/internal/port"
)

const (
	maxBodyBytes = 4 << 20
	maxDetailLen = 200
	authScheme   = "Token "
	productsPath = "/api/product/"
	orderPath    = "/api/make-order/"
	todayPath    = "/api/today_orders/"
	loginPath    = "/api/Login/"
)

type Config struct {
	BaseURL string
	// Timeout bounds a single HTTP exchange. Order submission has its own,
	// usually longer, deadline on top.
	Timeout time.Duration

	RetryMaxTries        uint
	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration

	// Location for the backend's zone-less timestamps.
	Location *time.Location
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource sets where the auth token is read from on every request.
func WithTokenSource(token func() string) Option {
	return func(c *Client) { c.token = token }
}

// Client talks to the remote POS backend. It implements port.POSAPI.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	cfg     Config
	logger  *zap.Logger
}

var _ port.POSAPI = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMaxTries == 0 {
		cfg.RetryMaxTries = 3
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 200 * time.Millisecond
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		token:  func() string { return "" },
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	const op = "list products"

	var list productListDTO
	if err := c.getWithRetry(ctx, op, productsPath, &list); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(list))
	for _, dto := range list {
		p, err := dto.toDomain()
		if err != nil {
			c.logger.Warn("skipping malformed product", zap.Error(err))
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func (c *Client) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	const op = "create product"

	body, err := c.do(ctx, op, http.MethodPost, productsPath, productWriteFromDomain(p, newStockStatus))
	if err != nil {
		return domain.Product{}, err
	}

	var dto productDTO
	if err := decode(op, body, &dto); err != nil {
		return domain.Product{}, err
	}
	created, err := dto.toDomain()
	if err != nil {
		return domain.Product{}, &port.APIError{Kind: port.KindMalformed, Op: op, Detail: err.Error(), Err: err}
	}
	return created, nil
}

// UpdateProduct returns the server's copy when it sends one and p otherwise.
func (c *Client) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	const op = "update product"

	body, err := c.do(ctx, op, http.MethodPut, productPath(p.ID), productWriteFromDomain(p, ""))
	if err != nil {
		return domain.Product{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return p, nil
	}

	var dto productDTO
	if err := decode(op, body, &dto); err != nil {
		return domain.Product{}, err
	}
	updated, err := dto.toDomain()
	if err != nil {
		return p, nil
	}
	return updated, nil
}

func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	_, err := c.do(ctx, "delete product", http.MethodDelete, productPath(id), nil)
	return err
}

// SubmitOrder is never retried: a lost answer does not mean the order was
// not placed.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	const op = "make order"

	body, err := c.do(ctx, op, http.MethodPost, orderPath, orderRequestFromDomain(req))
	if err != nil {
		return domain.OrderResult{}, err
	}

	var dto orderResponseDTO
	if err := decode(op, body, &dto); err != nil {
		return domain.OrderResult{}, err
	}
	result, err := dto.toDomain()
	if err != nil {
		return domain.OrderResult{}, &port.APIError{Kind: port.KindMalformed, Op: op, Detail: err.Error(), Err: err}
	}

	c.logger.Debug("order accepted",
		zap.String("order_id", result.OrderID),
		zap.Int("response_lines", len(result.Lines)))
	return result, nil
}

func (c *Client) TodayOrders(ctx context.Context) ([]domain.SaleRecord, error) {
	const op = "today orders"

	var dto todayOrdersDTO
	if err := c.getWithRetry(ctx, op, todayPath, &dto); err != nil {
		return nil, err
	}

	records := make([]domain.SaleRecord, 0, len(dto.Orders))
	for _, o := range dto.Orders {
		r, err := o.toDomain(c.cfg.Location)
		if err != nil {
			c.logger.Warn("skipping malformed order record", zap.String("id", string(o.ID)), zap.Error(err))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	const op = "login"

	body, err := c.do(ctx, op, http.MethodPost, loginPath, loginRequestDTO{Email: email, Password: password})
	if err != nil {
		return "", err
	}

	var dto loginResponseDTO
	if err := decode(op, body, &dto); err != nil {
		return "", err
	}
	if dto.Error != "" {
		return "", &port.APIError{Kind: port.KindRejected, Op: op, Status: http.StatusOK, Detail: dto.Error}
	}
	if dto.Token == "" {
		return "", &port.APIError{Kind: port.KindMalformed, Op: op, Detail: "response carries no token"}
	}
	return dto.Token, nil
}

// getWithRetry retries idempotent reads on transport failures and 5xx answers.
func (c *Client) getWithRetry(ctx context.Context, op, path string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		body, err := c.do(ctx, op, http.MethodGet, path, nil)
		if err == nil {
			if err := decode(op, body, out); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, nil
		}
		if apiErr, ok := port.AsAPIError(err); ok && apiErr.Retryable() {
			c.logger.Debug("retrying request", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.RetryMaxTries),
		backoff.WithMaxElapsedTime(c.cfg.RetryMaxElapsed),
	)
	if err == nil {
		return nil
	}
	if _, ok := port.AsAPIError(err); ok {
		return err
	}
	return classifyTransport(op, err)
}

// do sends one request and returns the body of a 2xx answer. Every failure
// comes back as a *port.APIError.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", authScheme+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("op", op), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, classifyTransport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(op, err)
	}

	c.logger.Debug("request done",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &port.APIError{
			Kind:   port.KindRejected,
			Op:     op,
			Status: resp.StatusCode,
			Detail: errorDetail(resp.StatusCode, body),
		}
	}
	if len(bytes.TrimSpace(body)) > 0 && !isJSON(resp.Header.Get("Content-Type")) {
		return nil, &port.APIError{
			Kind:   port.KindMalformed,
			Op:     op,
			Status: resp.StatusCode,
			Detail: "non-JSON response: " + truncate(string(body)),
		}
	}
	return body, nil
}

func decode(op string, body []byte, out any) error {
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &port.APIError{Kind: port.KindMalformed, Op: op, Detail: "empty response body"}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &port.APIError{Kind: port.KindMalformed, Op: op, Detail: err.Error(), Err: err}
	}
	return nil
}

func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &port.APIError{Kind: port.KindTimeout, Op: op, Err: err}
	}
	return &port.APIError{Kind: port.KindTransport, Op: op, Err: err}
}

// errorDetail pulls a human readable message out of an error body.
func errorDetail(status int, body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			switch v := fields[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case nil:
			default:
				if raw, err := json.Marshal(v); err == nil {
					return string(raw)
				}
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return truncate(text)
	}
	return http.StatusText(status)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen] + "..."
}

func productPath(id int64) string {
	return productsPath + strconv.FormatInt(id, 10) + "/"
}
