package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-order-saga/internal/auth"
	"github.com/example/ec-order-saga/internal/stockclient"
)

func newTestTokenService() *auth.TokenService {
	return auth.NewTokenService("test-secret-key-for-testing-purposes", 15*time.Minute)
}

func issue(t *testing.T, tokens *auth.TokenService, customerID, role string) string {
	t.Helper()
	token, _, err := tokens.Issue(customerID, role)
	require.NoError(t, err)
	return token
}

func capture(claims **auth.Claims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := GetUserFromContext(r.Context()); ok {
			*claims = c
		}
		w.WriteHeader(http.StatusOK)
	})
}

// ============================================
// Authenticate Middleware Tests
// ============================================

func TestAuthenticate_ValidToken_Header(t *testing.T) {
	tokens := newTestTokenService()
	token := issue(t, tokens, "customer-123", auth.RoleUser)

	var captured *auth.Claims
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	Authenticate(tokens)(capture(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "customer-123", captured.CustomerID())
	assert.Equal(t, auth.RoleUser, captured.Role)
}

func TestAuthenticate_ValidToken_Cookie(t *testing.T) {
	tokens := newTestTokenService()
	token := issue(t, tokens, "customer-456", auth.RoleAdmin)

	var captured *auth.Claims
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec := httptest.NewRecorder()

	Authenticate(tokens)(capture(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.True(t, captured.IsAdmin())
}

func TestAuthenticate_HeaderTakesPrecedence(t *testing.T) {
	tokens := newTestTokenService()

	var captured *auth.Claims
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: issue(t, tokens, "cookie-customer", auth.RoleUser)})
	req.Header.Set("Authorization", "Bearer "+issue(t, tokens, "header-customer", auth.RoleUser))
	rec := httptest.NewRecorder()

	Authenticate(tokens)(capture(&captured)).ServeHTTP(rec, req)

	require.NotNil(t, captured)
	assert.Equal(t, "header-customer", captured.CustomerID())
}

func TestAuthenticate_Rejected(t *testing.T) {
	tokens := newTestTokenService()
	other := auth.NewTokenService("another-secret-key-for-testing-purposes", 15*time.Minute)

	tests := []struct {
		name     string
		header   string
		wantBody string
	}{
		{"no token", "", "unauthorized"},
		{"not bearer", "Basic dXNlcjpwYXNz", "unauthorized"},
		{"invalid token", "Bearer invalid-token", "invalid token"},
		{"wrong signature", "Bearer " + issue(t, other, "customer-1", auth.RoleUser), "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			Authenticate(tokens)(next).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.False(t, called)
		})
	}
}

func TestAuthenticate_ForwardsTokenToStockClient(t *testing.T) {
	tokens := newTestTokenService()
	token := issue(t, tokens, "customer-1", auth.RoleUser)

	var forwarded string
	stock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"available":5}`))
	}))
	defer stock.Close()
	client := stockclient.New(stock.URL)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := client.Check(r.Context(), 1, 1)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec := httptest.NewRecorder()

	Authenticate(tokens)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer "+token, forwarded)
}

// ============================================
// Require Role Middleware Tests
// ============================================

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		claims *auth.Claims
		roles  []string
		want   int
	}{
		{"has role", &auth.Claims{Role: auth.RoleAdmin}, []string{auth.RoleAdmin}, http.StatusOK},
		{"has alternate role", &auth.Claims{Role: auth.RoleUser}, []string{auth.RoleUser, auth.RoleAdmin}, http.StatusOK},
		{"lacks role", &auth.Claims{Role: auth.RoleUser}, []string{auth.RoleAdmin}, http.StatusForbidden},
		{"no claims", nil, []string{auth.RoleAdmin}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			ctx := context.Background()
			if tt.claims != nil {
				ctx = context.WithValue(ctx, UserContextKey, tt.claims)
			}
			req := httptest.NewRequest(http.MethodGet, "/admin", nil).WithContext(ctx)
			rec := httptest.NewRecorder()

			RequireRole(tt.roles...)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// ============================================
// Helper Functions Tests
// ============================================

func TestGetCustomerID(t *testing.T) {
	claims := &auth.Claims{}
	claims.Subject = "customer-123"
	ctx := context.WithValue(context.Background(), UserContextKey, claims)

	assert.Equal(t, "customer-123", GetCustomerID(ctx))
	assert.Empty(t, GetCustomerID(context.Background()))
}
