package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/api/middleware"
	"github.com/example/ec-order-saga/internal/auth"
)

// NewSalesRouter mounts the order API. Every route requires a valid token.
func NewSalesRouter(h *SalesHandlers, tokens middleware.TokenValidator, logger *zap.Logger) http.Handler {
	r := newRouter(logger)
	r.Get("/health", health)

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(middleware.Authenticate(tokens))
		r.With(middleware.RequireRole(auth.RoleUser, auth.RoleAdmin)).Post("/", h.PlaceOrder)
		r.With(middleware.RequireRole(auth.RoleAdmin)).Get("/", h.ListOrders)
		r.With(middleware.RequireRole(auth.RoleUser, auth.RoleAdmin)).Get("/{id}", h.GetOrder)
	})
	return r
}

// NewStockRouter mounts the inventory API. Reads are open to any role,
// mutations to admins.
func NewStockRouter(h *StockHandlers, tokens middleware.TokenValidator, logger *zap.Logger) http.Handler {
	r := newRouter(logger)
	r.Get("/health", health)

	r.Route("/api/products", func(r chi.Router) {
		r.Use(middleware.Authenticate(tokens))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleUser, auth.RoleAdmin))
			r.Get("/", h.ListProducts)
			r.Get("/{id}", h.GetProduct)
			r.Get("/{id}/check", h.CheckAvailability)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))
			r.Post("/", h.CreateProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
		})
	})
	return r
}

func newRouter(logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(withLogging(logger.Named("http")))
	r.Use(chimw.Timeout(30 * time.Second))
	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func withLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}
