package query

import (
	"context"

	"github.com/example/ec-order-saga/internal/domain/inventory"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*inventory.Product, error)
	ListProducts(ctx context.Context) ([]inventory.Product, error)
}

// ProductHandler serves the inventory service's read endpoints.
type ProductHandler struct {
	products ProductReader
}

func NewProductHandler(products ProductReader) *ProductHandler {
	return &ProductHandler{products: products}
}

func (h *ProductHandler) GetProduct(ctx context.Context, id int64) (*inventory.Product, error) {
	return h.products.GetProduct(ctx, id)
}

func (h *ProductHandler) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	return h.products.ListProducts(ctx)
}

// CheckAvailability answers the advisory stock query. It returns
// inventory.ErrProductNotFound, inventory.ErrInvalidQuantity or
// inventory.ErrInsufficientStock alongside the figures known at that point.
func (h *ProductHandler) CheckAvailability(ctx context.Context, id int64, quantity int) (inventory.Availability, error) {
	p, err := h.products.GetProduct(ctx, id)
	if err != nil {
		return inventory.Availability{}, err
	}
	return p.Check(quantity)
}
