package command

import (
	"github.com/shopspring/decimal"

	"github.com/example/ec-order-saga/internal/domain/order"
)

// Order Commands
type PlaceOrder struct {
	CustomerID string              `json:"customerId"`
	Items      []order.ItemRequest `json:"items"`
	// IdempotencyKey is taken from the request header, not the body.
	IdempotencyKey string `json:"-"`
}

// Product Commands
type CreateProduct struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type UpdateProduct struct {
	ProductID   int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type DeleteProduct struct {
	ProductID int64 `json:"id"`
}
