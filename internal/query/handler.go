package query

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/stockclient"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListOrders(ctx context.Context) ([]*order.Order, error)
}

type ProductLookup interface {
	GetProduct(ctx context.Context, productID int64) (*stockclient.Product, error)
}

// Handler serves the order read side of the gateway.
type Handler struct {
	orders   OrderReader
	products ProductLookup
	logger   *zap.Logger
}

func NewHandler(orders OrderReader, products ProductLookup, logger *zap.Logger) *Handler {
	return &Handler{
		orders:   orders,
		products: products,
		logger:   logger.Named("query"),
	}
}

func (h *Handler) GetOrder(ctx context.Context, id string) (*OrderReadModel, error) {
	o, err := h.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return h.Enrich(ctx, o), nil
}

func (h *Handler) ListOrders(ctx context.Context) ([]*OrderReadModel, error) {
	orders, err := h.orders.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*OrderReadModel, 0, len(orders))
	for _, o := range orders {
		out = append(out, h.Enrich(ctx, o))
	}
	return out, nil
}

// Enrich attaches product names and prices to the order's items. Lookups that
// fail leave the fallback values in place; enrichment never fails the caller.
func (h *Handler) Enrich(ctx context.Context, o *order.Order) *OrderReadModel {
	rm := &OrderReadModel{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Items:      make([]OrderItemReadModel, 0, len(o.Items)),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}

	resolved := make(map[int64]*stockclient.Product)
	for _, item := range o.Items {
		p, seen := resolved[item.ProductID]
		if !seen {
			var err error
			p, err = h.products.GetProduct(ctx, item.ProductID)
			if err != nil {
				h.logger.Debug("product lookup failed, using fallback",
					zap.String("order_id", o.ID),
					zap.Int64("product_id", item.ProductID),
					zap.Error(err))
				p = nil
			}
			resolved[item.ProductID] = p
		}

		line := OrderItemReadModel{
			ID:        item.ID,
			ProductID: item.ProductID,
			Price:     decimal.Zero,
			Quantity:  item.Quantity,
		}
		if p != nil {
			line.ProductName = p.Name
			line.Price = p.Price
		}
		line.Total = line.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		rm.Items = append(rm.Items, line)
	}
	return rm
}
