package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPreparing, true},
		{StatusPreparing, StatusReady, true},
		{StatusReady, StatusServed, true},
		{StatusServed, StatusCompleted, true},
		{StatusPending, StatusReady, false},
		{StatusPending, StatusCancelled, true},
		{StatusServed, StatusRefunded, true},
		{StatusCompleted, StatusPreparing, false},
		{StatusCancelled, StatusCompleted, true}, // payment settlement correction
		{StatusRefunded, StatusCompleted, true},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusRefunded} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []Status{StatusPending, StatusPreparing, StatusReady, StatusServed} {
		assert.False(t, s.Terminal(), s.String())
	}
}

func TestStatus_ExplicitSerialization(t *testing.T) {
	b, err := json.Marshal(StatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, `"preparing"`, string(b))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"refunded"`), &s))
	assert.Equal(t, StatusRefunded, s)

	assert.Error(t, json.Unmarshal([]byte(`"cooking"`), &s))
}

func TestOrder_RecalculateDerivesTotals(t *testing.T) {
	o := Order{
		Items: []OrderItem{
			{Quantity: 2, UnitPrice: 5.0},
			{Quantity: 1, UnitPrice: 5.0},
		},
		Tax: 1.5, Tip: 2.0, Discount: 0.5,
	}
	o.Recalculate()
	assert.Equal(t, 15.0, o.Subtotal)
	assert.Equal(t, 10.0, o.Items[0].TotalPrice)
	assert.Equal(t, 18.0, o.TotalAmount)
}

func TestOrder_TouchIsMonotonic(t *testing.T) {
	o := Order{}
	o.CreatedAt = mustTime(t, "2025-08-28T12:00:00Z")
	o.UpdatedAt = o.CreatedAt

	o.Touch(mustTime(t, "2025-08-28T11:00:00Z")) // clock went backwards
	assert.False(t, o.UpdatedAt.Before(o.CreatedAt))

	later := mustTime(t, "2025-08-28T13:00:00Z")
	o.Touch(later)
	assert.Equal(t, later, o.UpdatedAt)
}

func mustTime(t *testing.T, s string) (tt time.Time) {
	t.Helper()
	tt, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tt
}
