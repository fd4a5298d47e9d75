package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpilot/tradecore/internal/core/model"
)

func longPosition(avg float64) *model.Position {
	return &model.Position{
		Quantity:     dec(1),
		AveragePrice: dec(avg),
		EntryPrice:   dec(avg),
		IsActive:     true,
	}
}

func shortPosition(avg float64) *model.Position {
	p := longPosition(avg)
	p.Quantity = dec(-1)
	return p
}

func fp(v float64) *float64 { return &v }

func dp(v float64) *decimal.Decimal {
	d := dec(v)
	return &d
}

func TestFixedStopLossLong(t *testing.T) {
	pos := longPosition(50000)
	cfg := &StopConfig{StopLossPercent: fp(5)} // stop at 47500

	assert.Empty(t, CheckStopLossTriggers(pos, cfg, dec(48000)))

	rules := CheckStopLossTriggers(pos, cfg, dec(47000))
	require.Len(t, rules, 1)
	assert.Equal(t, RuleFixedStopLoss, rules[0].RuleType)
	assert.Equal(t, ActionClosePosition, rules[0].SuggestedAction)
	assert.True(t, rules[0].TriggerPrice.Equal(dec(47500)))

	// Exactly at the stop price counts as breached.
	assert.Len(t, CheckStopLossTriggers(pos, cfg, dec(47500)), 1)
}

func TestFixedStopLossShort(t *testing.T) {
	pos := shortPosition(50000)
	cfg := &StopConfig{StopLossPercent: fp(5)} // stop at 52500

	assert.Empty(t, CheckStopLossTriggers(pos, cfg, dec(52000)))
	rules := CheckStopLossTriggers(pos, cfg, dec(53000))
	require.Len(t, rules, 1)
	assert.True(t, rules[0].TriggerPrice.Equal(dec(52500)))
}

func TestTrailingStopFollowsPeak(t *testing.T) {
	pos := longPosition(100)
	cfg := &StopConfig{TrailingDistance: fp(10), PeakPrice: dp(150)} // stop at 135

	assert.Empty(t, CheckStopLossTriggers(pos, cfg, dec(140)))
	rules := CheckStopLossTriggers(pos, cfg, dec(134))
	require.Len(t, rules, 1)
	assert.Equal(t, RuleTrailingStop, rules[0].RuleType)
	assert.True(t, rules[0].TriggerPrice.Equal(dec(135)))
}

func TestMaxLossAmount(t *testing.T) {
	pos := longPosition(100)
	pos.Quantity = dec(10)
	cfg := &StopConfig{MaxLossAmount: dp(50)}

	// Down 4 per unit on 10 units: loss 40, under the cap.
	assert.Empty(t, CheckStopLossTriggers(pos, cfg, dec(96)))

	rules := CheckStopLossTriggers(pos, cfg, dec(94))
	require.Len(t, rules, 1)
	assert.Equal(t, RuleMaxLossAmount, rules[0].RuleType)
}

func TestFixedTakeProfitBothSides(t *testing.T) {
	long := longPosition(100)
	cfg := &StopConfig{TakeProfitPercent: fp(10)}

	assert.Empty(t, CheckTakeProfitTriggers(long, cfg, dec(109)))
	rules := CheckTakeProfitTriggers(long, cfg, dec(110))
	require.Len(t, rules, 1)
	assert.Equal(t, RuleFixedTakeProfit, rules[0].RuleType)
	assert.True(t, rules[0].TriggerPrice.Equal(dec(110)))

	short := shortPosition(100)
	assert.Empty(t, CheckTakeProfitTriggers(short, cfg, dec(91)))
	assert.Len(t, CheckTakeProfitTriggers(short, cfg, dec(90)), 1)
}

func TestLadderTakeProfit(t *testing.T) {
	pos := longPosition(100)
	cfg := &StopConfig{Ladder: []LadderLevel{
		{Percent: 5, ClosePortion: 0.25},
		{Percent: 10, ClosePortion: 0.50},
	}}

	// Only the first rung is reached at 106.
	rules := CheckTakeProfitTriggers(pos, cfg, dec(106))
	require.Len(t, rules, 1)
	assert.Equal(t, RuleLadderTakeProfit, rules[0].RuleType)
	assert.Equal(t, ActionPartialClose, rules[0].SuggestedAction)
	assert.Equal(t, 0.25, rules[0].ClosePortion)

	// Both rungs fire at 112.
	rules = CheckTakeProfitTriggers(pos, cfg, dec(112))
	assert.Len(t, rules, 2)
}

func TestTriggersIgnoreFlatAndUnconfigured(t *testing.T) {
	flat := &model.Position{Quantity: decimal.Zero, AveragePrice: dec(100)}
	cfg := &StopConfig{StopLossPercent: fp(5)}

	assert.Nil(t, CheckStopLossTriggers(flat, cfg, dec(1)))
	assert.Nil(t, CheckStopLossTriggers(longPosition(100), nil, dec(1)))
	assert.Nil(t, CheckTakeProfitTriggers(flat, cfg, dec(1000)))
	assert.Nil(t, CheckTakeProfitTriggers(longPosition(100), nil, dec(1000)))
}
