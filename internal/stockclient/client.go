// Package stockclient queries the inventory service over HTTP on behalf of the
// order gateway. Every call is bounded by a timeout and honours cancellation.
package stockclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 3 * time.Second

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStockUnavailable  = errors.New("stock service unavailable")
)

// InsufficientStockError carries the figures reported by a failed availability check.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("product %d: requested %d, available %d: %s",
		e.ProductID, e.Requested, e.Available, ErrInsufficientStock)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type Availability struct {
	OK        bool `json:"ok"`
	Available int  `json:"available"`
}

type conflictBody struct {
	Message   string `json:"message"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

type authKey struct{}

// WithAuthorization attaches the caller's Authorization header value to ctx so
// it is forwarded on every inventory request made with ctx.
func WithAuthorization(ctx context.Context, header string) context.Context {
	if header == "" {
		return ctx
	}
	return context.WithValue(ctx, authKey{}, header)
}

func authorizationFrom(ctx context.Context) string {
	h, _ := ctx.Value(authKey{}).(string)
	return h
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	tracer     trace.Tracer
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		tracer:     otel.Tracer("github.com/example/ec-order-saga/internal/stockclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check asks whether quantity units of productID are currently available.
// The answer is advisory; the reservation worker makes the binding decision.
func (c *Client) Check(ctx context.Context, productID int64, quantity int) (Availability, error) {
	q := url.Values{"quantity": {strconv.Itoa(quantity)}}
	path := fmt.Sprintf("/api/products/%d/check?%s", productID, q.Encode())

	var a Availability
	err := c.get(ctx, "stock.check", path, productID, func(resp *http.Response) error {
		switch resp.StatusCode {
		case http.StatusOK:
			return decode(resp, &a)
		case http.StatusNotFound:
			return fmt.Errorf("product %d: %w", productID, ErrProductNotFound)
		case http.StatusConflict:
			var body conflictBody
			if err := decode(resp, &body); err != nil {
				return err
			}
			return &InsufficientStockError{ProductID: productID, Requested: quantity, Available: body.Available}
		default:
			return unexpectedStatus(resp)
		}
	})
	return a, err
}

func (c *Client) GetProduct(ctx context.Context, productID int64) (*Product, error) {
	var p Product
	err := c.get(ctx, "stock.get_product", fmt.Sprintf("/api/products/%d", productID), productID, func(resp *http.Response) error {
		switch resp.StatusCode {
		case http.StatusOK:
			return decode(resp, &p)
		case http.StatusNotFound:
			return fmt.Errorf("product %d: %w", productID, ErrProductNotFound)
		default:
			return unexpectedStatus(resp)
		}
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) get(ctx context.Context, spanName, path string, productID int64, handle func(*http.Response) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("product.id", productID)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStockUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if auth := authorizationFrom(ctx); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("%w: %v", ErrStockUnavailable, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	return handle(resp)
}

func decode(resp *http.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrStockUnavailable, err)
	}
	return nil
}

func unexpectedStatus(resp *http.Response) error {
	return fmt.Errorf("%w: unexpected status %d", ErrStockUnavailable, resp.StatusCode)
}
