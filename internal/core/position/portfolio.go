package position

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpilot/tradecore/internal/core/model"
)

// PortfolioRisk is the account-level aggregate view.
type PortfolioRisk struct {
	AccountID          string          `json:"account_id"`
	PositionCount      int             `json:"position_count"`
	TotalValue         decimal.Decimal `json:"total_value"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	RiskLevel          model.RiskLevel `json:"risk_level"`
	CorrelationRisk    float64         `json:"correlation_risk"`
	PortfolioVaR       float64         `json:"portfolio_var"`
	ConcentrationIndex float64         `json:"concentration_index"`
	ComputedAt         time.Time       `json:"computed_at"`
}

// CalculatePortfolioRisk aggregates all active positions for an account:
// summed value and PnL, a portfolio risk level from the distribution of
// per-position levels, market-type concentration as a correlation proxy,
// a quadrature sum of per-asset VaR contributions, and a
// Herfindahl-style concentration index.
func (m *Manager) CalculatePortfolioRisk(ctx context.Context, accountID string) (*PortfolioRisk, error) {
	positions, err := m.store.ListActivePositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	pr := &PortfolioRisk{
		AccountID:          accountID,
		PositionCount:      len(positions),
		TotalValue:         decimal.Zero,
		TotalUnrealizedPnL: decimal.Zero,
		RiskLevel:          model.RiskLevelLow,
		ComputedAt:         time.Now().UTC(),
	}
	if len(positions) == 0 {
		return pr, nil
	}

	type slice struct {
		notional float64
		var95    float64
		level    model.RiskLevel
		market   model.MarketType
	}
	slices := make([]slice, 0, len(positions))
	total := 0.0

	for _, pos := range positions {
		price, err := m.prices.GetCurrentPrice(ctx, pos.Symbol, pos.AccountID)
		if err != nil {
			price = pos.AveragePrice
		}
		history, err := m.prices.GetPriceHistory(ctx, pos.Symbol, historyDays)
		if err != nil {
			history = nil
		}
		volume, _ := m.prices.GetRecentVolume(ctx, pos.Symbol)

		notional := pos.Notional(price)
		pr.TotalValue = pr.TotalValue.Add(notional)
		pr.TotalUnrealizedPnL = pr.TotalUnrealizedPnL.Add(unrealizedPnL(pos, price))

		rm := computeRiskMetrics(pos, price, history, volume, decimal.Zero)
		n, _ := notional.Float64()
		total += n
		slices = append(slices, slice{notional: n, var95: rm.VaR95, level: rm.RiskLevel, market: pos.MarketType})
	}

	var critical, high, medium int
	varQuad := 0.0
	herfindahl := 0.0
	marketShare := map[model.MarketType]float64{}

	for _, s := range slices {
		weight := 0.0
		if total > 0 {
			weight = s.notional / total
		}
		herfindahl += weight * weight
		marketShare[s.market] += weight
		contribution := weight * s.var95
		varQuad += contribution * contribution

		switch s.level {
		case model.RiskLevelCritical:
			critical++
		case model.RiskLevelHigh:
			high++
		case model.RiskLevelMedium:
			medium++
		}
	}

	pr.PortfolioVaR = math.Sqrt(varQuad)
	pr.ConcentrationIndex = herfindahl
	for _, share := range marketShare {
		if share > pr.CorrelationRisk {
			pr.CorrelationRisk = share
		}
	}

	n := len(slices)
	switch {
	case critical > 0:
		pr.RiskLevel = model.RiskLevelCritical
	case high*3 >= n: // a third or more of positions graded high
		pr.RiskLevel = model.RiskLevelHigh
	case high+medium > 0:
		pr.RiskLevel = model.RiskLevelMedium
	default:
		pr.RiskLevel = model.RiskLevelLow
	}
	return pr, nil
}
