package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/auth"
	"github.com/example/ec-order-saga/internal/command"
	"github.com/example/ec-order-saga/internal/domain/inventory"
	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/infrastructure/store/mocks"
	"github.com/example/ec-order-saga/internal/query"
	"github.com/example/ec-order-saga/internal/stockclient"
)

// testEnv runs the stock API on a real listener and the sales API on top of it,
// so the gateway's pre-check goes over HTTP with the caller's token.
type testEnv struct {
	tokens    *auth.TokenService
	inventory *mocks.MockInventoryStore
	orders    *mocks.MockOrderStore
	stock     *httptest.Server
	sales     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	tokens := auth.NewTokenService("test-secret-key-for-testing-purposes", time.Hour)

	inv := mocks.NewMockInventoryStore()
	inv.SetProduct(inventory.Product{ID: 1, Name: "Keyboard", Price: decimal.RequireFromString("50"), Quantity: 5})
	inv.SetProduct(inventory.Product{ID: 2, Name: "Mouse", Price: decimal.RequireFromString("10"), Quantity: 0})

	stockHandlers := NewStockHandlers(query.NewProductHandler(inv), command.NewProductHandler(inv, logger), logger)
	stock := httptest.NewServer(NewStockRouter(stockHandlers, tokens, logger))
	t.Cleanup(stock.Close)

	orders := mocks.NewMockOrderStore()
	client := stockclient.New(stock.URL, stockclient.WithTimeout(2*time.Second))
	queries := query.NewHandler(orders, client, logger)
	gateway := command.NewHandler(client, orders, nil, queries, logger)
	sales := NewSalesRouter(NewSalesHandlers(gateway, queries, logger), tokens, logger)

	return &testEnv{tokens: tokens, inventory: inv, orders: orders, stock: stock, sales: sales}
}

func (e *testEnv) token(t *testing.T, customerID, role string) string {
	t.Helper()
	token, _, err := e.tokens.Issue(customerID, role)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) stockAPI(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, e.stock.Config.Handler, method, path, token, body)
}

func orderBody(items ...map[string]any) map[string]any {
	return map[string]any{"customerId": "customer-1", "items": items}
}

func item(productID int64, quantity int) map[string]any {
	return map[string]any{"productId": productID, "quantity": quantity}
}

// ============================================
// Sales API Tests
// ============================================

func TestSalesAPI_PlaceOrder_Created(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "customer-1", auth.RoleUser)

	rec := env.do(t, env.sales, http.MethodPost, "/api/orders", token, orderBody(item(1, 2)))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got query.OrderReadModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, "/api/orders/"+got.ID, rec.Header().Get("Location"))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Keyboard", got.Items[0].ProductName)
	assert.Equal(t, "100", got.Items[0].Total.String())
	assert.Len(t, env.orders.Outbox(), 1)
}

func TestSalesAPI_PlaceOrder_CustomerFromToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "customer-9", auth.RoleUser)

	rec := env.do(t, env.sales, http.MethodPost, "/api/orders", token, map[string]any{"items": []any{item(1, 1)}})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got query.OrderReadModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "customer-9", got.CustomerID)
}

func TestSalesAPI_PlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{"insufficient stock", orderBody(item(1, 999)), http.StatusConflict},
		{"out of stock", orderBody(item(2, 1)), http.StatusConflict},
		{"unknown product", orderBody(item(42, 1)), http.StatusNotFound},
		{"zero quantity", orderBody(item(1, 0)), http.StatusBadRequest},
		{"no items", orderBody(), http.StatusBadRequest},
		{"malformed body", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			token := env.token(t, "customer-1", auth.RoleUser)

			rec := env.do(t, env.sales, http.MethodPost, "/api/orders", token, tt.body)

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Empty(t, env.orders.CreateOrderCalls)
		})
	}
}

func TestSalesAPI_PlaceOrder_ConflictBody(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "customer-1", auth.RoleUser)

	rec := env.do(t, env.sales, http.MethodPost, "/api/orders", token, orderBody(item(1, 999)))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body conflictBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 5, body.Available)
	assert.Equal(t, 999, body.Requested)
}

func TestSalesAPI_PlaceOrder_StockServiceDown(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "customer-1", auth.RoleUser)
	env.stock.Close()

	rec := env.do(t, env.sales, http.MethodPost, "/api/orders", token, orderBody(item(1, 1)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, env.orders.CreateOrderCalls)
}

func TestSalesAPI_Authorization(t *testing.T) {
	env := newTestEnv(t)
	user := env.token(t, "customer-1", auth.RoleUser)
	admin := env.token(t, "admin-1", auth.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, env.sales, http.MethodPost, "/api/orders", "", orderBody(item(1, 1))).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, env.sales, http.MethodGet, "/api/orders", user, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, env.sales, http.MethodGet, "/api/orders", admin, nil).Code)
}

func TestSalesAPI_GetOrder(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "customer-1", auth.RoleUser)

	created := env.do(t, env.sales, http.MethodPost, "/api/orders", token, orderBody(item(1, 1)))
	require.Equal(t, http.StatusCreated, created.Code)
	var placed query.OrderReadModel
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &placed))

	rec := env.do(t, env.sales, http.MethodGet, "/api/orders/"+placed.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got query.OrderReadModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, placed.ID, got.ID)
	assert.Equal(t, "Keyboard", got.Items[0].ProductName)

	missing := env.do(t, env.sales, http.MethodGet, "/api/orders/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

// ============================================
// Stock API Tests
// ============================================

func TestStockAPI_Check(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "customer-1", auth.RoleUser)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"sufficient", "/api/products/1/check?quantity=5", http.StatusOK},
		{"insufficient", "/api/products/1/check?quantity=6", http.StatusConflict},
		{"zero quantity", "/api/products/1/check?quantity=0", http.StatusBadRequest},
		{"missing quantity", "/api/products/1/check", http.StatusBadRequest},
		{"unknown product", "/api/products/42/check?quantity=1", http.StatusNotFound},
		{"bad id", "/api/products/abc/check?quantity=1", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.stockAPI(t, http.MethodGet, tt.path, token, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStockAPI_CheckBody(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "customer-1", auth.RoleUser)

	rec := env.stockAPI(t, http.MethodGet, "/api/products/1/check?quantity=2", token, nil)
	var ok availabilityBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.Equal(t, availabilityBody{OK: true, Available: 5}, ok)
}

func TestStockAPI_ProductLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "admin-1", auth.RoleAdmin)

	rec := env.stockAPI(t, http.MethodPost, "/api/products", admin,
		map[string]any{"name": "Monitor", "price": "199.90", "quantity": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created inventory.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "199.9", created.Price.String())

	path := "/api/products/" + rec.Header().Get("Location")[len("/api/products/"):]
	rec = env.stockAPI(t, http.MethodPut, path, admin,
		map[string]any{"name": "Monitor", "price": "189.90", "quantity": 4})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.stockAPI(t, http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated inventory.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, 4, updated.Quantity)

	assert.Equal(t, http.StatusNoContent, env.stockAPI(t, http.MethodDelete, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.stockAPI(t, http.MethodGet, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.stockAPI(t, http.MethodDelete, path, admin, nil).Code)
}

func TestStockAPI_MutationsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := env.token(t, "customer-1", auth.RoleUser)

	assert.Equal(t, http.StatusForbidden, env.stockAPI(t, http.MethodPost, "/api/products", user,
		map[string]any{"name": "Monitor", "quantity": 1}).Code)
	assert.Equal(t, http.StatusForbidden, env.stockAPI(t, http.MethodDelete, "/api/products/1", user, nil).Code)
	assert.Equal(t, http.StatusOK, env.stockAPI(t, http.MethodGet, "/api/products", user, nil).Code)
}

func TestStockAPI_Validation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "admin-1", auth.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"negative stock", http.MethodPost, "/api/products", map[string]any{"name": "X", "quantity": -1}, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/products", map[string]any{"quantity": 1}, http.StatusBadRequest},
		{"id mismatch", http.MethodPut, "/api/products/1", map[string]any{"id": 2, "name": "X", "quantity": 1}, http.StatusBadRequest},
		{"update unknown", http.MethodPut, "/api/products/42", map[string]any{"name": "X", "quantity": 1}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.stockAPI(t, tt.method, tt.path, admin, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
