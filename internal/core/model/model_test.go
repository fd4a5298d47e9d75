package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusNew, OrderStatusPending, true},
		{OrderStatusNew, OrderStatusFilled, true},
		{OrderStatusNew, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusSubmitted, true},
		{OrderStatusPending, OrderStatusPending, false},
		{OrderStatusSubmitted, OrderStatusPartiallyFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusPartiallyFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusRejected, false},
		{OrderStatusFilled, OrderStatusCancelled, false},
		{OrderStatusRejected, OrderStatusNew, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusExpired, OrderStatusFilled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired} {
		assert.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range []OrderStatus{OrderStatusNew, OrderStatusPending, OrderStatusSubmitted, OrderStatusPartiallyFilled} {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestOrderSideOpposite(t *testing.T) {
	assert.Equal(t, OrderSideSell, OrderSideBuy.Opposite())
	assert.Equal(t, OrderSideBuy, OrderSideSell.Opposite())
}

func TestApplyFillKeepsQuantityInvariant(t *testing.T) {
	o := &Order{
		Quantity:       decimal.NewFromInt(10),
		QuantityFilled: decimal.Zero,
		QuantityRemain: decimal.NewFromInt(10),
	}

	require.NoError(t, o.ApplyFill(decimal.NewFromInt(4), decimal.NewFromInt(100)))
	assert.True(t, o.QuantityFilled.Equal(decimal.NewFromInt(4)))
	assert.True(t, o.QuantityRemain.Equal(decimal.NewFromInt(6)))
	assert.True(t, o.AveragePrice.Equal(decimal.NewFromInt(100)))

	// Second fill at a different price re-averages: (4*100 + 6*110) / 10.
	require.NoError(t, o.ApplyFill(decimal.NewFromInt(6), decimal.NewFromInt(110)))
	assert.True(t, o.QuantityRemain.IsZero())
	assert.True(t, o.AveragePrice.Equal(decimal.NewFromInt(106)), "got %s", o.AveragePrice)
	assert.True(t, o.QuantityFilled.Add(o.QuantityRemain).Equal(o.Quantity))
}

func TestApplyFillRejectsInvalidQuantities(t *testing.T) {
	o := &Order{
		Quantity:       decimal.NewFromInt(1),
		QuantityRemain: decimal.NewFromInt(1),
	}
	assert.ErrorIs(t, o.ApplyFill(decimal.Zero, decimal.NewFromInt(100)), ErrValidation)
	assert.ErrorIs(t, o.ApplyFill(decimal.NewFromInt(2), decimal.NewFromInt(100)), ErrValidation)
}

func TestRiskLevelOrderingAndStrings(t *testing.T) {
	assert.True(t, RiskLevelCritical > RiskLevelHigh)
	assert.True(t, RiskLevelHigh > RiskLevelMedium)
	assert.True(t, RiskLevelMedium > RiskLevelLow)

	assert.Equal(t, "low", RiskLevelLow.String())
	assert.Equal(t, "critical", RiskLevelCritical.String())
	assert.Equal(t, "unknown", RiskLevel(42).String())
}

func TestPositionHelpers(t *testing.T) {
	long := &Position{Quantity: decimal.NewFromInt(2)}
	short := &Position{Quantity: decimal.NewFromInt(-2)}

	assert.True(t, long.IsLong())
	assert.False(t, short.IsLong())
	assert.True(t, short.Notional(decimal.NewFromInt(50)).Equal(decimal.NewFromInt(100)),
		"notional is unsigned")
}
