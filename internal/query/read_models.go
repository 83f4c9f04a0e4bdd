package query

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ec-order-saga/internal/domain/order"
)

// OrderItemReadModel is an order line enriched with the product's display data.
// ProductName is empty and Price zero when the product could not be resolved.
type OrderItemReadModel struct {
	ID          string          `json:"id"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
}

type OrderReadModel struct {
	ID         string               `json:"id"`
	CustomerID string               `json:"customerId"`
	Status     order.Status         `json:"status"`
	Items      []OrderItemReadModel `json:"items"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}
