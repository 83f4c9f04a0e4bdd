package stockclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithTimeout(200*time.Millisecond))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================
// Check Tests
// ============================================

func TestCheck_Sufficient(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/7/check", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("quantity"))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "available": 10})
	})

	a, err := c.Check(context.Background(), 7, 3)

	require.NoError(t, err)
	assert.True(t, a.OK)
	assert.Equal(t, 10, a.Available)
}

func TestCheck_NotFound(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "product 7 not found"})
	})

	_, err := c.Check(context.Background(), 7, 1)

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCheck_Insufficient(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"message": "insufficient stock", "available": 2, "requested": 5})
	})

	_, err := c.Check(context.Background(), 7, 5)

	require.ErrorIs(t, err, ErrInsufficientStock)
	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(7), insufficient.ProductID)
	assert.Equal(t, 5, insufficient.Requested)
	assert.Equal(t, 2, insufficient.Available)
}

func TestCheck_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{not json"))
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, tt.handler)
			_, err := c.Check(context.Background(), 1, 1)
			assert.ErrorIs(t, err, ErrStockUnavailable)
		})
	}
}

func TestCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(srv.URL).Check(context.Background(), 1, 1)

	assert.ErrorIs(t, err, ErrStockUnavailable)
}

func TestCheck_CallerCancellation(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Check(ctx, 1, 1)

	assert.ErrorIs(t, err, ErrStockUnavailable)
}

func TestCheck_ForwardsAuthorization(t *testing.T) {
	var got string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "available": 1})
	})

	ctx := WithAuthorization(context.Background(), "Bearer abc")
	_, err := c.Check(ctx, 1, 1)

	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got)
}

// ============================================
// GetProduct Tests
// ============================================

func TestGetProduct(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/3", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"id": 3, "name": "Mouse", "price": "12.50", "quantity": 4})
	})

	p, err := c.GetProduct(context.Background(), 3)

	require.NoError(t, err)
	assert.Equal(t, "Mouse", p.Name)
	assert.Equal(t, "12.5", p.Price.String())
}

func TestGetProduct_NotFound(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetProduct(context.Background(), 3)

	assert.ErrorIs(t, err, ErrProductNotFound)
}
