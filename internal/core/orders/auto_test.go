package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/tradecore/internal/core/emergency"
	"github.com/coinpilot/tradecore/internal/core/model"
)

func autoParams() CreateAutoOrderParams {
	return CreateAutoOrderParams{
		UserID:           "user-1",
		AccountID:        "acct-1",
		StrategyName:     "momentum",
		Symbol:           "BTCUSDT",
		Side:             model.OrderSideBuy,
		Quantity:         decimal.NewFromInt(1),
		EntryConditionID: "cond-breakout-1",
	}
}

func TestCreateAutoOrderValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := autoParams()
	p.EntryConditionID = ""
	_, err := h.manager.CreateAutoOrder(ctx, p)
	assert.ErrorIs(t, err, model.ErrValidation)

	p = autoParams()
	p.Quantity = decimal.Zero
	_, err = h.manager.CreateAutoOrder(ctx, p)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestTriggerAutoOrderExecutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	auto, err := h.manager.CreateAutoOrder(ctx, autoParams())
	require.NoError(t, err)
	require.True(t, auto.IsActive)

	executed, err := h.manager.TriggerAutoOrder(ctx, auto.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, executed)

	got, err := h.store.GetAutoOrder(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggerCount)
	assert.Equal(t, 1, got.ExecutionCount)
	assert.Equal(t, "success", got.LastExecutionResult)

	pos, err := h.store.GetPosition(ctx, "acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestTriggerAutoOrderPausedIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	auto, err := h.manager.CreateAutoOrder(ctx, autoParams())
	require.NoError(t, err)
	require.NoError(t, h.manager.PauseAutoOrder(ctx, auto.ID))

	executed, err := h.manager.TriggerAutoOrder(ctx, auto.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, executed)

	got, err := h.store.GetAutoOrder(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TriggerCount, "paused trigger leaves no trace")
	assert.Equal(t, 0, got.ExecutionCount)

	// Resume and trigger again.
	require.NoError(t, h.manager.ResumeAutoOrder(ctx, auto.ID))
	executed, err = h.manager.TriggerAutoOrder(ctx, auto.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, executed)
}

func TestTriggerAutoOrderExpiredDeactivates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := autoParams()
	past := time.Now().UTC().Add(-time.Minute)
	p.ExpiresAt = &past
	auto, err := h.manager.CreateAutoOrder(ctx, p)
	require.NoError(t, err)

	executed, err := h.manager.TriggerAutoOrder(ctx, auto.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, executed)

	got, err := h.store.GetAutoOrder(ctx, auto.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive, "expired auto order deactivates on trigger")
	assert.Equal(t, 0, got.TriggerCount)
}

func TestTriggerAutoOrderRiskRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.SaveRiskConfig(ctx, &model.RiskConfig{
		UserID:       "user-1",
		AccountID:    "acct-1",
		MaxOrderSize: decimal.NewFromInt(1),
	}))

	p := autoParams()
	p.Quantity = decimal.NewFromInt(5)
	auto, err := h.manager.CreateAutoOrder(ctx, p)
	require.NoError(t, err)

	executed, err := h.manager.TriggerAutoOrder(ctx, auto.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, executed)

	got, err := h.store.GetAutoOrder(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggerCount, "trigger counted even when risk rejects")
	assert.Equal(t, 0, got.ExecutionCount)
	assert.Equal(t, "rejected", got.LastExecutionResult)
}

func TestTriggerAutoOrderBlockedByEmergencyStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	auto, err := h.manager.CreateAutoOrder(ctx, autoParams())
	require.NoError(t, err)

	_, err = h.stops.ExecuteEmergencyStop(ctx, emergency.StopRequest{
		Level:    model.StopLevelStrategy,
		TargetID: "momentum",
		Reason:   "halt",
	}, "ops", "")
	require.NoError(t, err)

	_, err = h.manager.TriggerAutoOrder(ctx, auto.ID, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, model.ErrEmergencyStop)
}
