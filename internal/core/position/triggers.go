package position

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coinpilot/tradecore/internal/core/model"
)

// Trigger rule identifiers.
const (
	RuleFixedStopLoss    = "fixed_stop_loss"
	RuleTrailingStop     = "trailing_stop"
	RuleMaxLossAmount    = "max_loss_amount"
	RuleFixedTakeProfit  = "fixed_take_profit"
	RuleLadderTakeProfit = "ladder_take_profit"
)

// Suggested actions for triggered rules.
const (
	ActionClosePosition = "close_position"
	ActionPartialClose  = "partial_close"
)

// LadderLevel is one rung of a laddered take-profit: when price gains
// Percent from entry, close ClosePortion (0..1] of the position.
type LadderLevel struct {
	Percent      float64 `json:"percent"`
	ClosePortion float64 `json:"close_portion"`
}

// StopConfig holds the per-position stop rules. Nil fields disable the
// corresponding rule.
type StopConfig struct {
	StopLossPercent   *float64         `json:"stop_loss_percent,omitempty"`
	TrailingDistance  *float64         `json:"trailing_distance_percent,omitempty"`
	PeakPrice         *decimal.Decimal `json:"peak_price,omitempty"` // best price seen since entry
	MaxLossAmount     *decimal.Decimal `json:"max_loss_amount,omitempty"`
	TakeProfitPercent *float64         `json:"take_profit_percent,omitempty"`
	Ladder            []LadderLevel    `json:"ladder,omitempty"`
}

// TriggeredRule names one rule that fired and the suggested reaction.
type TriggeredRule struct {
	RuleType        string          `json:"rule_type"`
	SuggestedAction string          `json:"suggested_action"`
	TriggerPrice    decimal.Decimal `json:"trigger_price"`
	ClosePortion    float64         `json:"close_portion,omitempty"`
	Detail          string          `json:"detail,omitempty"`
}

func percentOf(base decimal.Decimal, pct float64) decimal.Decimal {
	return base.Mul(decimal.NewFromFloat(pct / 100))
}

// CheckStopLossTriggers evaluates the stop-loss rules side-aware: a long
// position triggers when price falls to or below the stop price, a short
// when price rises to or above it.
func CheckStopLossTriggers(pos *model.Position, cfg *StopConfig, currentPrice decimal.Decimal) []TriggeredRule {
	if cfg == nil || pos.Quantity.IsZero() {
		return nil
	}
	long := pos.IsLong()
	var triggered []TriggeredRule

	if cfg.StopLossPercent != nil {
		var stop decimal.Decimal
		if long {
			stop = pos.AveragePrice.Sub(percentOf(pos.AveragePrice, *cfg.StopLossPercent))
		} else {
			stop = pos.AveragePrice.Add(percentOf(pos.AveragePrice, *cfg.StopLossPercent))
		}
		if (long && currentPrice.LessThanOrEqual(stop)) || (!long && currentPrice.GreaterThanOrEqual(stop)) {
			triggered = append(triggered, TriggeredRule{
				RuleType:        RuleFixedStopLoss,
				SuggestedAction: ActionClosePosition,
				TriggerPrice:    stop,
				Detail:          fmt.Sprintf("price %s breached fixed stop %s", currentPrice, stop),
			})
		}
	}

	if cfg.TrailingDistance != nil && cfg.PeakPrice != nil {
		var stop decimal.Decimal
		if long {
			stop = cfg.PeakPrice.Sub(percentOf(*cfg.PeakPrice, *cfg.TrailingDistance))
		} else {
			stop = cfg.PeakPrice.Add(percentOf(*cfg.PeakPrice, *cfg.TrailingDistance))
		}
		if (long && currentPrice.LessThanOrEqual(stop)) || (!long && currentPrice.GreaterThanOrEqual(stop)) {
			triggered = append(triggered, TriggeredRule{
				RuleType:        RuleTrailingStop,
				SuggestedAction: ActionClosePosition,
				TriggerPrice:    stop,
				Detail:          fmt.Sprintf("price %s breached trailing stop %s from peak %s", currentPrice, stop, cfg.PeakPrice),
			})
		}
	}

	if cfg.MaxLossAmount != nil {
		loss := unrealizedPnL(pos, currentPrice).Neg()
		if loss.GreaterThanOrEqual(*cfg.MaxLossAmount) {
			triggered = append(triggered, TriggeredRule{
				RuleType:        RuleMaxLossAmount,
				SuggestedAction: ActionClosePosition,
				TriggerPrice:    currentPrice,
				Detail:          fmt.Sprintf("unrealized loss %s reached max %s", loss, cfg.MaxLossAmount),
			})
		}
	}
	return triggered
}

// CheckTakeProfitTriggers is the mirror of the stop-loss evaluation: a
// long position takes profit when price rises to or above the target, a
// short when price falls to or below it. Ladder levels each suggest a
// partial close.
func CheckTakeProfitTriggers(pos *model.Position, cfg *StopConfig, currentPrice decimal.Decimal) []TriggeredRule {
	if cfg == nil || pos.Quantity.IsZero() {
		return nil
	}
	long := pos.IsLong()
	var triggered []TriggeredRule

	target := func(pct float64) decimal.Decimal {
		if long {
			return pos.AveragePrice.Add(percentOf(pos.AveragePrice, pct))
		}
		return pos.AveragePrice.Sub(percentOf(pos.AveragePrice, pct))
	}
	hit := func(t decimal.Decimal) bool {
		if long {
			return currentPrice.GreaterThanOrEqual(t)
		}
		return currentPrice.LessThanOrEqual(t)
	}

	if cfg.TakeProfitPercent != nil {
		if t := target(*cfg.TakeProfitPercent); hit(t) {
			triggered = append(triggered, TriggeredRule{
				RuleType:        RuleFixedTakeProfit,
				SuggestedAction: ActionClosePosition,
				TriggerPrice:    t,
				Detail:          fmt.Sprintf("price %s reached take-profit %s", currentPrice, t),
			})
		}
	}

	for _, level := range cfg.Ladder {
		if t := target(level.Percent); hit(t) {
			triggered = append(triggered, TriggeredRule{
				RuleType:        RuleLadderTakeProfit,
				SuggestedAction: ActionPartialClose,
				TriggerPrice:    t,
				ClosePortion:    level.ClosePortion,
				Detail:          fmt.Sprintf("ladder level +%.2f%% reached at %s", level.Percent, t),
			})
		}
	}
	return triggered
}
