package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/domain/inventory"
)

type ProductWriter interface {
	GetProduct(ctx context.Context, id int64) (*inventory.Product, error)
	CreateProduct(ctx context.Context, p *inventory.Product) error
	UpdateProduct(ctx context.Context, p *inventory.Product) error
	DeleteProduct(ctx context.Context, id int64) error
}

// ProductHandler applies admin changes to the product catalogue. These are the
// only stock mutations outside the reservation worker.
type ProductHandler struct {
	products ProductWriter
	logger   *zap.Logger
}

func NewProductHandler(products ProductWriter, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{products: products, logger: logger.Named("catalogue")}
}

func (h *ProductHandler) CreateProduct(ctx context.Context, cmd CreateProduct) (*inventory.Product, error) {
	p := &inventory.Product{
		Name:        cmd.Name,
		Description: cmd.Description,
		Price:       cmd.Price,
		Quantity:    cmd.Quantity,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := h.products.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	h.logger.Info("product created", zap.Int64("product_id", p.ID), zap.Int("quantity", p.Quantity))
	return p, nil
}

func (h *ProductHandler) UpdateProduct(ctx context.Context, cmd UpdateProduct) error {
	p := &inventory.Product{
		ID:          cmd.ProductID,
		Name:        cmd.Name,
		Description: cmd.Description,
		Price:       cmd.Price,
		Quantity:    cmd.Quantity,
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := h.products.UpdateProduct(ctx, p); err != nil {
		return err
	}
	h.logger.Info("product updated", zap.Int64("product_id", p.ID), zap.Int("quantity", p.Quantity))
	return nil
}

func (h *ProductHandler) DeleteProduct(ctx context.Context, cmd DeleteProduct) error {
	if err := h.products.DeleteProduct(ctx, cmd.ProductID); err != nil {
		return err
	}
	h.logger.Info("product deleted", zap.Int64("product_id", cmd.ProductID))
	return nil
}
