package inventory

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RejectionReason is the reason carried by every rejection fact.
const RejectionReason = "insufficient stock"

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrNegativeStock     = errors.New("stock quantity cannot be negative")
	ErrInvalidName       = errors.New("product name is required")
	ErrInvalidPrice      = errors.New("product price cannot be negative")
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Validate checks the invariants of an admin-supplied product record.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidName
	}
	if p.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if p.Quantity < 0 {
		return ErrNegativeStock
	}
	return nil
}

// Availability is the answer to an advisory stock query.
type Availability struct {
	ProductID int64 `json:"productId"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

func (a Availability) Sufficient() bool {
	return a.Available >= a.Requested
}

// Check answers an advisory availability query against p. It never mutates p.
func (p Product) Check(quantity int) (Availability, error) {
	if quantity <= 0 {
		return Availability{}, ErrInvalidQuantity
	}
	a := Availability{ProductID: p.ID, Requested: quantity, Available: p.Quantity}
	if !a.Sufficient() {
		return a, ErrInsufficientStock
	}
	return a, nil
}

// Line is one requested (product, quantity) pair of an order.
type Line struct {
	ProductID int64
	Quantity  int
}

type Reservation struct {
	ProductID int64
	Quantity  int
	NewStock  int
}

type Shortfall struct {
	ProductID int64
	Requested int
	Available int
}

// Decision is the all-or-nothing verdict for one order.
type Decision struct {
	Reservations []Reservation
	Shortfalls   []Shortfall
}

func (d Decision) Accepted() bool {
	return len(d.Shortfalls) == 0
}

// Evaluate decides whether every line of an order can be served from stock.
// Lines naming the same product draw from the same remaining quantity, in order.
// Unknown products count as having zero stock. When any line falls short the
// decision carries only shortfalls and no reservations.
func Evaluate(lines []Line, stock map[int64]Product) Decision {
	remaining := make(map[int64]int, len(stock))
	for id, p := range stock {
		remaining[id] = p.Quantity
	}

	var d Decision
	reservations := make([]Reservation, 0, len(lines))
	for _, line := range lines {
		available := remaining[line.ProductID]
		if available < line.Quantity {
			d.Shortfalls = append(d.Shortfalls, Shortfall{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			})
			continue
		}
		remaining[line.ProductID] = available - line.Quantity
		reservations = append(reservations, Reservation{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			NewStock:  available - line.Quantity,
		})
	}

	if d.Accepted() {
		d.Reservations = reservations
	}
	return d
}
