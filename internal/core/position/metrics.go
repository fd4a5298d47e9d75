// Package position tracks holdings, applies fills, and computes
// position and portfolio risk analytics. The numeric routines in this
// file are pure: they take already-fetched prices and never touch
// storage, so they are testable without I/O.
package position

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// tradingDaysPerYear annualizes daily return statistics.
const tradingDaysPerYear = 252

// DailyReturns converts a price series (oldest first) into simple daily
// returns. Zero prices are skipped to avoid division blowups.
func DailyReturns(prices []decimal.Decimal) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, _ := prices[i-1].Float64()
		cur, _ := prices[i].Float64()
		if prev == 0 {
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

// MaxDrawdown returns the largest peak-to-trough decline over the price
// series as a fraction of the peak, anchored at the entry price.
func MaxDrawdown(entry decimal.Decimal, prices []decimal.Decimal) float64 {
	peak, _ := entry.Float64()
	if peak <= 0 && len(prices) > 0 {
		peak, _ = prices[0].Float64()
	}
	maxDD := 0.0
	for _, p := range prices {
		f, _ := p.Float64()
		if f > peak {
			peak = f
		}
		if peak > 0 {
			dd := (peak - f) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// VaR95 estimates historical value at risk at 95% confidence: the 5th
// percentile of daily returns, reported as a positive loss fraction.
// Zero when the history is too short or shows no losses at that
// percentile.
func VaR95(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.05)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p := sorted[idx]
	if p >= 0 {
		return 0
	}
	return -p
}

// ExpectedShortfall is the mean loss over returns at or below the VaR-95
// threshold, as a positive fraction.
func ExpectedShortfall(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	threshold := -VaR95(returns)
	sum, n := 0.0, 0
	for _, r := range returns {
		if r <= threshold {
			sum += r
			n++
		}
	}
	if n == 0 || sum >= 0 {
		return 0
	}
	return -sum / float64(n)
}

// Sharpe annualizes mean daily return over its standard deviation by
// sqrt(252). Returns nil when fewer than 2 return points exist or the
// series has no variance.
func Sharpe(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return nil
	}
	s := mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
	return &s
}

// Concentration is this position's notional share of total portfolio
// notional, in [0, 1].
func Concentration(notional, totalNotional decimal.Decimal) float64 {
	if totalNotional.IsZero() {
		return 0
	}
	c, _ := notional.Div(totalNotional).Float64()
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// LiquidityScore grades recent traded volume against the position's
// notional: 1.0 when the market trades at least 10x the position per
// window, scaling down linearly to 0 for an untraded market.
func LiquidityScore(recentVolume, notional decimal.Decimal) float64 {
	if notional.IsZero() {
		return 1
	}
	ratio, _ := recentVolume.Div(notional.Mul(decimal.NewFromInt(10))).Float64()
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}

// riskScore maps |PnL%|, concentration and VaR onto the fixed grading
// scale: >=6 critical, >=4 high, >=2 medium, else low.
func riskScore(pnlPercent, concentration, valueAtRisk float64) int {
	score := 0
	switch abs := math.Abs(pnlPercent); {
	case abs >= 20:
		score += 3
	case abs >= 10:
		score += 2
	case abs >= 5:
		score++
	}
	switch {
	case concentration >= 0.5:
		score += 3
	case concentration >= 0.25:
		score += 2
	case concentration >= 0.1:
		score++
	}
	switch {
	case valueAtRisk >= 0.10:
		score += 3
	case valueAtRisk >= 0.05:
		score += 2
	case valueAtRisk >= 0.02:
		score++
	}
	return score
}
