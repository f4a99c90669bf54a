package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huykn/pos-sync/offline"
	"github.com/huykn/pos-sync/types"
)

type seen struct {
	method string
	path   string
	token  string
	key    string
	body   map[string]any
}

type backend struct {
	mu     sync.Mutex
	seen   []seen
	status int
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	b := &backend{}
	r := chi.NewRouter()
	r.Get("/api/antiforgery/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "csrf-1"})
	})
	record := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.seen = append(b.seen, seen{
			method: r.Method,
			path:   r.URL.Path,
			token:  r.Header.Get("X-CSRF-Token"),
			key:    r.Header.Get("Idempotency-Key"),
			body:   body,
		})
		status := b.status
		b.mu.Unlock()
		if status != 0 {
			http.Error(w, "rejected", status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
	r.Post("/api/orders", record)
	r.Patch("/api/orders/{id}", record)
	r.Post("/api/orders/{id}/cancel", record)
	r.Post("/api/orders/{id}/items", record)
	r.Put("/api/orders/{id}/items/{item}", record)
	r.Delete("/api/orders/{id}/items/{item}", record)
	r.Post("/api/orders/{id}/payments", record)
	r.Put("/api/tables/{id}/status", record)
	r.Post("/api/products/{id}/stock", record)
	r.Put("/api/order-queue/{id}/status", record)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return b, srv
}

func newDispatcher(t *testing.T, srv *httptest.Server) *HTTPDispatcher {
	opts := DefaultOptions()
	opts.BaseURL = srv.URL
	d, err := New(opts)
	require.NoError(t, err)
	return d
}

func action(t *testing.T, id string, at types.ActionType, payload any) types.MutationAction {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return types.MutationAction{ID: id, Type: at, Payload: raw}
}

func TestToken(t *testing.T) {
	_, srv := newBackend(t)
	d := newDispatcher(t, srv)

	tok, err := d.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "csrf-1", tok)
}

func TestDispatchRoutesEveryActionType(t *testing.T) {
	b, srv := newBackend(t)
	d := newDispatcher(t, srv)

	cases := []struct {
		action types.MutationAction
		method string
		path   string
	}{
		{action(t, "1", types.CreateOrder, types.CreateOrderPayload{OrderID: "o1"}), http.MethodPost, "/api/orders"},
		{action(t, "2", types.UpdateOrder, types.UpdateOrderPayload{OrderID: "o1", Fields: map[string]any{"note": "x"}}), http.MethodPatch, "/api/orders/o1"},
		{action(t, "3", types.CancelOrder, types.CancelOrderPayload{OrderID: "o1"}), http.MethodPost, "/api/orders/o1/cancel"},
		{action(t, "4", types.AddItem, types.ItemPayload{OrderID: "o1", ProductID: "p1", Quantity: 2}), http.MethodPost, "/api/orders/o1/items"},
		{action(t, "5", types.UpdateItem, types.ItemPayload{OrderID: "o1", ItemID: "i1", Quantity: 3}), http.MethodPut, "/api/orders/o1/items/i1"},
		{action(t, "6", types.RemoveItem, types.ItemPayload{OrderID: "o1", ItemID: "i1"}), http.MethodDelete, "/api/orders/o1/items/i1"},
		{action(t, "7", types.CreatePayment, types.PaymentPayload{OrderID: "o1", Method: "card", Amount: 900}), http.MethodPost, "/api/orders/o1/payments"},
		{action(t, "8", types.UpdateTableStatus, types.TableStatusPayload{TableID: "t1", Status: "free"}), http.MethodPut, "/api/tables/t1/status"},
		{action(t, "9", types.AdjustStock, types.StockPayload{ProductID: "p1", Delta: -2}), http.MethodPost, "/api/products/p1/stock"},
		{action(t, "10", types.UpdateQueueStatus, types.QueueStatusPayload{QueueID: "q1", Status: types.StatusCompleted}), http.MethodPut, "/api/order-queue/q1/status"},
	}
	require.Len(t, cases, len(types.ActionTypes()))

	for _, c := range cases {
		require.NoError(t, d.Dispatch(context.Background(), c.action, "csrf-1"), c.action.Type)
	}

	require.Len(t, b.seen, len(cases))
	for i, c := range cases {
		assert.Equal(t, c.method, b.seen[i].method, c.action.Type)
		assert.Equal(t, c.path, b.seen[i].path, c.action.Type)
		assert.Equal(t, "csrf-1", b.seen[i].token)
		assert.Equal(t, c.action.ID, b.seen[i].key)
	}
	assert.Equal(t, "x", b.seen[1].body["note"])
	assert.Equal(t, float64(900), b.seen[6].body["amount"])
}

func TestDispatchStatusError(t *testing.T) {
	b, srv := newBackend(t)
	d := newDispatcher(t, srv)
	b.status = 419

	err := d.Dispatch(context.Background(), action(t, "1", types.CreateOrder, types.CreateOrderPayload{OrderID: "o1"}), "old")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 419, se.Code)
	assert.Equal(t, "rejected", se.Body)
	assert.True(t, offline.IsAuthRejection(err))

	b.status = 500
	err = d.Dispatch(context.Background(), action(t, "2", types.CreateOrder, types.CreateOrderPayload{OrderID: "o1"}), "tok")
	assert.False(t, offline.IsAuthRejection(err))
}

func TestDispatchUnsupported(t *testing.T) {
	_, srv := newBackend(t)
	d := newDispatcher(t, srv)

	err := d.Dispatch(context.Background(), types.MutationAction{ID: "1", Type: "NOPE"}, "")
	assert.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
