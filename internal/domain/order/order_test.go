package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// New Order Tests
// ============================================

func TestNew_Success(t *testing.T) {
	items := []ItemRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}

	o, err := New("customer-1", items)

	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "customer-1", o.CustomerID)
	assert.Equal(t, StatusPending, o.Status)
	require.Len(t, o.Items, 2)
	assert.Equal(t, int64(1), o.Items[0].ProductID)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.NotEmpty(t, o.Items[0].ID)
	assert.NotEqual(t, o.Items[0].ID, o.Items[1].ID)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name       string
		customerID string
		items      []ItemRequest
		wantErr    error
	}{
		{"missing customer", "", []ItemRequest{{ProductID: 1, Quantity: 1}}, ErrMissingCustomer},
		{"no items", "c", nil, ErrEmptyOrder},
		{"zero quantity", "c", []ItemRequest{{ProductID: 1, Quantity: 0}}, ErrInvalidQuantity},
		{"negative quantity", "c", []ItemRequest{{ProductID: 1, Quantity: -3}}, ErrInvalidQuantity},
		{"zero product", "c", []ItemRequest{{ProductID: 0, Quantity: 1}}, ErrInvalidProduct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := New(tt.customerID, tt.items)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, o)
		})
	}
}

// ============================================
// Transition Tests
// ============================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusPending, false},
		{StatusConfirmed, StatusRejected, false},
		{StatusConfirmed, StatusPending, false},
		{StatusConfirmed, StatusConfirmed, false},
		{StatusRejected, StatusConfirmed, false},
		{StatusRejected, StatusPending, false},
		{Status("Shipped"), StatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestOrder_Transition_OnlyOnce(t *testing.T) {
	o, err := New("c", []ItemRequest{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)

	require.NoError(t, o.Transition(StatusConfirmed))
	assert.Equal(t, StatusConfirmed, o.Status)

	err = o.Transition(StatusRejected)
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
	assert.Equal(t, StatusConfirmed, o.Status)

	err = o.Transition(StatusConfirmed)
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
}

func TestOrder_Transition_RejectedIsTerminal(t *testing.T) {
	o := &Order{Status: StatusRejected}

	err := o.Transition(StatusConfirmed)

	assert.ErrorIs(t, err, ErrAlreadyRejected)
	assert.Equal(t, StatusRejected, o.Status)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusConfirmed.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.False(t, Status("bogus").IsTerminal())
}
