// Package dispatch implements the remote dispatcher against the POS REST
// backend: one call per action type.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/huykn/pos-sync/types"
)

// ErrUnsupportedAction is returned for an action type with no route.
var ErrUnsupportedAction = errors.New("unsupported action type")

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = errors.New("invalid dispatcher configuration")

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote status %d", e.Code)
	}
	return fmt.Sprintf("remote status %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// Options configures an HTTPDispatcher.
type Options struct {
	// BaseURL is the backend root, e.g. "https://pos.example.com".
	BaseURL string

	// Client is the HTTP client. Defaults to a client with Timeout.
	Client *http.Client

	// Timeout bounds each request when Client is nil.
	Timeout time.Duration

	// TokenPath returns {"token": "..."}.
	TokenPath string

	// TokenHeader carries the anti-forgery token on writes.
	TokenHeader string

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger types.Logger
}

// DefaultOptions returns default dispatcher options.
func DefaultOptions() Options {
	return Options{
		Timeout:     15 * time.Second,
		TokenPath:   "/api/antiforgery/token",
		TokenHeader: "X-CSRF-Token",
	}
}

// HTTPDispatcher sends mutation actions to the backend over HTTP.
type HTTPDispatcher struct {
	base   *url.URL
	client *http.Client
	opts   Options
	routes map[types.ActionType]func(ctx context.Context, a types.MutationAction, token string) error
}

// New creates an HTTPDispatcher.
func New(opts Options) (*HTTPDispatcher, error) {
	if opts.BaseURL == "" {
		return nil, ErrInvalidConfig
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	def := DefaultOptions()
	if opts.TokenPath == "" {
		opts.TokenPath = def.TokenPath
	}
	if opts.TokenHeader == "" {
		opts.TokenHeader = def.TokenHeader
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = types.NewNoOpLogger()
	}

	d := &HTTPDispatcher{base: base, client: opts.Client, opts: opts}
	d.routes = map[types.ActionType]func(context.Context, types.MutationAction, string) error{
		types.CreateOrder:       decoded(d.CreateOrder),
		types.UpdateOrder:       decoded(d.UpdateOrder),
		types.CancelOrder:       decoded(d.CancelOrder),
		types.AddItem:           decoded(d.AddItem),
		types.UpdateItem:        decoded(d.UpdateItem),
		types.RemoveItem:        decoded(d.RemoveItem),
		types.CreatePayment:     decoded(d.CreatePayment),
		types.UpdateTableStatus: decoded(d.UpdateTableStatus),
		types.AdjustStock:       decoded(d.AdjustStock),
		types.UpdateQueueStatus: decoded(d.UpdateQueueStatus),
	}
	return d, nil
}

// decoded adapts a typed call to the generic action route.
func decoded[P any](call func(ctx context.Context, p P, key, token string) error) func(context.Context, types.MutationAction, string) error {
	return func(ctx context.Context, a types.MutationAction, token string) error {
		var p P
		if err := a.Decode(&p); err != nil {
			return fmt.Errorf("decode %s payload: %w", a.Type, err)
		}
		return call(ctx, p, a.ID, token)
	}
}

// Token fetches a fresh anti-forgery token.
func (d *HTTPDispatcher) Token(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := d.do(ctx, http.MethodGet, d.opts.TokenPath, nil, "", "", &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("empty anti-forgery token")
	}
	return out.Token, nil
}

// Dispatch routes a to the call for its type.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, a types.MutationAction, token string) error {
	route, ok := d.routes[a.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, a.Type)
	}
	d.opts.Logger.Debug("dispatch", "id", a.ID, "type", a.Type)
	return route(ctx, a, token)
}

// CreateOrder creates an order. The client-side order id is sent so items
// queued against it resolve to the same order.
func (d *HTTPDispatcher) CreateOrder(ctx context.Context, p types.CreateOrderPayload, key, token string) error {
	return d.do(ctx, http.MethodPost, "/api/orders", p, key, token, nil)
}

// UpdateOrder patches order fields.
func (d *HTTPDispatcher) UpdateOrder(ctx context.Context, p types.UpdateOrderPayload, key, token string) error {
	return d.do(ctx, http.MethodPatch, "/api/orders/"+url.PathEscape(p.OrderID), p.Fields, key, token, nil)
}

// CancelOrder cancels an order.
func (d *HTTPDispatcher) CancelOrder(ctx context.Context, p types.CancelOrderPayload, key, token string) error {
	return d.do(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(p.OrderID)+"/cancel", p, key, token, nil)
}

// AddItem adds a line item to an order.
func (d *HTTPDispatcher) AddItem(ctx context.Context, p types.ItemPayload, key, token string) error {
	return d.do(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(p.OrderID)+"/items", p, key, token, nil)
}

// UpdateItem updates a line item.
func (d *HTTPDispatcher) UpdateItem(ctx context.Context, p types.ItemPayload, key, token string) error {
	return d.do(ctx, http.MethodPut, itemPath(p), p, key, token, nil)
}

// RemoveItem deletes a line item.
func (d *HTTPDispatcher) RemoveItem(ctx context.Context, p types.ItemPayload, key, token string) error {
	return d.do(ctx, http.MethodDelete, itemPath(p), nil, key, token, nil)
}

// CreatePayment records a payment against an order.
func (d *HTTPDispatcher) CreatePayment(ctx context.Context, p types.PaymentPayload, key, token string) error {
	return d.do(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(p.OrderID)+"/payments", p, key, token, nil)
}

// UpdateTableStatus sets a table's status.
func (d *HTTPDispatcher) UpdateTableStatus(ctx context.Context, p types.TableStatusPayload, key, token string) error {
	return d.do(ctx, http.MethodPut, "/api/tables/"+url.PathEscape(p.TableID)+"/status", p, key, token, nil)
}

// AdjustStock applies a stock delta to a product.
func (d *HTTPDispatcher) AdjustStock(ctx context.Context, p types.StockPayload, key, token string) error {
	return d.do(ctx, http.MethodPost, "/api/products/"+url.PathEscape(p.ProductID)+"/stock", p, key, token, nil)
}

// UpdateQueueStatus moves a kitchen queue item to a new status.
func (d *HTTPDispatcher) UpdateQueueStatus(ctx context.Context, p types.QueueStatusPayload, key, token string) error {
	return d.do(ctx, http.MethodPut, "/api/order-queue/"+url.PathEscape(p.QueueID)+"/status", p, key, token, nil)
}

func itemPath(p types.ItemPayload) string {
	return "/api/orders/" + url.PathEscape(p.OrderID) + "/items/" + url.PathEscape(p.ItemID)
}

func (d *HTTPDispatcher) do(ctx context.Context, method, path string, body any, key, token string, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.base.String()+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(d.opts.TokenHeader, token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
