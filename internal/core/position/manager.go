package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/tradecore/internal/core/marketdata"
	"github.com/coinpilot/tradecore/internal/core/model"
	"github.com/coinpilot/tradecore/internal/core/storage"
)

// historyDays bounds the price history window for risk analytics.
const historyDays = 30

// maintenanceMarginRate is the flat maintenance requirement applied to
// futures notional.
var maintenanceMarginRate = decimal.NewFromFloat(0.005)

// Manager owns all position mutation and risk analytics. Callers must
// serialize UpdatePosition calls per (account, symbol) so fills apply in
// order.
type Manager struct {
	store  storage.Store
	prices marketdata.PriceSource
	logger *zap.Logger
}

// NewManager builds a position manager.
func NewManager(store storage.Store, prices marketdata.PriceSource, logger *zap.Logger) *Manager {
	return &Manager{store: store, prices: prices, logger: logger}
}

// UpdatePosition applies one fill. Same-side fills grow the position and
// recompute the weighted-average price; opposite-side fills reduce it,
// realizing PnL proportionally, and flip it when the fill overshoots.
// A position reaching zero quantity is deactivated.
func (m *Manager) UpdatePosition(ctx context.Context, accountID, symbol string, marketType model.MarketType, side model.OrderSide, executedQty, executionPrice decimal.Decimal) (*model.Position, error) {
	if executedQty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: executed quantity must be positive", model.ErrValidation)
	}
	if executionPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: execution price must be positive", model.ErrValidation)
	}

	now := time.Now().UTC()
	pos, err := m.store.GetPosition(ctx, accountID, symbol)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("load position: %w", err)
		}
		pos = &model.Position{
			ID:         uuid.New(),
			AccountID:  accountID,
			Symbol:     symbol,
			MarketType: marketType,
			CreatedAt:  now,
		}
	}

	delta := executedQty
	if side == model.OrderSideSell {
		delta = executedQty.Neg()
	}

	switch {
	case pos.Quantity.IsZero():
		pos.Quantity = delta
		pos.AveragePrice = executionPrice
		pos.EntryPrice = executionPrice

	case pos.Quantity.Sign() == delta.Sign():
		// Same side: grow and re-average.
		oldNotional := pos.AveragePrice.Mul(pos.Quantity.Abs())
		addNotional := executionPrice.Mul(delta.Abs())
		newQty := pos.Quantity.Add(delta)
		pos.AveragePrice = oldNotional.Add(addNotional).Div(newQty.Abs())
		pos.Quantity = newQty

	default:
		// Opposite side: realize PnL on the closed portion.
		closed := decimal.Min(executedQty, pos.Quantity.Abs())
		pnlPerUnit := executionPrice.Sub(pos.AveragePrice)
		if pos.Quantity.Sign() < 0 {
			pnlPerUnit = pos.AveragePrice.Sub(executionPrice)
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnlPerUnit.Mul(closed))

		remainder := executedQty.Sub(closed)
		if remainder.IsPositive() {
			// Fill overshot: position flips to the fill's side.
			pos.Quantity = remainder
			if side == model.OrderSideSell {
				pos.Quantity = remainder.Neg()
			}
			pos.AveragePrice = executionPrice
			pos.EntryPrice = executionPrice
		} else {
			pos.Quantity = pos.Quantity.Add(delta)
		}
	}

	pos.UnrealizedPnL = unrealizedPnL(pos, executionPrice)
	pos.QuantityAvail = pos.Quantity.Abs().Sub(pos.QuantityFrozen)
	pos.IsActive = !pos.Quantity.IsZero()
	pos.UpdatedAt = now

	if err := m.store.SavePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}
	m.logger.Debug("position updated",
		zap.String("account_id", accountID),
		zap.String("symbol", symbol),
		zap.String("quantity", pos.Quantity.String()),
		zap.String("avg_price", pos.AveragePrice.String()))
	return pos, nil
}

// unrealizedPnL is (price - averagePrice) * quantity, signed by side.
func unrealizedPnL(pos *model.Position, price decimal.Decimal) decimal.Decimal {
	if pos.Quantity.IsZero() {
		return decimal.Zero
	}
	return price.Sub(pos.AveragePrice).Mul(pos.Quantity)
}

// RiskMetrics is the derived risk view of one position. It is computed
// on demand and never cached.
type RiskMetrics struct {
	PositionID           uuid.UUID       `json:"position_id"`
	Symbol               string          `json:"symbol"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64         `json:"unrealized_pnl_percent"`
	RiskLevel            model.RiskLevel `json:"risk_level"`
	MaxDrawdown          float64         `json:"max_drawdown"`
	VaR95                float64         `json:"var_95"`
	ExpectedShortfall    float64         `json:"expected_shortfall"`
	SharpeRatio          *float64        `json:"sharpe_ratio,omitempty"`
	ConcentrationRisk    float64         `json:"concentration_risk"`
	LiquidityScore       float64         `json:"liquidity_score"`
	MarginUsed           *decimal.Decimal `json:"margin_used,omitempty"`
	MaintenanceMargin    *decimal.Decimal `json:"maintenance_margin,omitempty"`
	ComputedAt           time.Time       `json:"computed_at"`
}

// GetPositionRiskMetrics fetches current price and up to 30 days of
// history for the position's symbol, then derives the full risk view.
func (m *Manager) GetPositionRiskMetrics(ctx context.Context, positionID uuid.UUID) (*RiskMetrics, error) {
	pos, err := m.store.GetPositionByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	price, err := m.prices.GetCurrentPrice(ctx, pos.Symbol, pos.AccountID)
	if err != nil {
		return nil, fmt.Errorf("current price for %s: %w", pos.Symbol, err)
	}
	history, err := m.prices.GetPriceHistory(ctx, pos.Symbol, historyDays)
	if err != nil {
		return nil, fmt.Errorf("price history for %s: %w", pos.Symbol, err)
	}
	volume, err := m.prices.GetRecentVolume(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("recent volume for %s: %w", pos.Symbol, err)
	}

	totalNotional, err := m.portfolioNotional(ctx, pos.AccountID)
	if err != nil {
		return nil, err
	}

	return computeRiskMetrics(pos, price, history, volume, totalNotional), nil
}

// computeRiskMetrics is the pure half of GetPositionRiskMetrics.
func computeRiskMetrics(pos *model.Position, price decimal.Decimal, history []decimal.Decimal, volume, totalNotional decimal.Decimal) *RiskMetrics {
	returns := DailyReturns(history)
	notional := pos.Notional(price)
	pnl := unrealizedPnL(pos, price)

	pnlPercent := 0.0
	if entryNotional := pos.AveragePrice.Mul(pos.Quantity.Abs()); !entryNotional.IsZero() {
		pnlPercent, _ = pnl.Div(entryNotional).Mul(decimal.NewFromInt(100)).Float64()
	}

	rm := &RiskMetrics{
		PositionID:           pos.ID,
		Symbol:               pos.Symbol,
		CurrentPrice:         price,
		UnrealizedPnL:        pnl,
		UnrealizedPnLPercent: pnlPercent,
		MaxDrawdown:          MaxDrawdown(pos.EntryPrice, history),
		VaR95:                VaR95(returns),
		ExpectedShortfall:    ExpectedShortfall(returns),
		SharpeRatio:          Sharpe(returns),
		ConcentrationRisk:    Concentration(notional, totalNotional),
		LiquidityScore:       LiquidityScore(volume, notional),
		ComputedAt:           time.Now().UTC(),
	}

	if pos.MarketType == model.MarketFutures {
		leverage := 1
		if pos.Leverage != nil && *pos.Leverage > 0 {
			leverage = *pos.Leverage
		}
		used := notional.Div(decimal.NewFromInt(int64(leverage)))
		maintenance := notional.Mul(maintenanceMarginRate)
		rm.MarginUsed = &used
		rm.MaintenanceMargin = &maintenance
	}

	score := riskScore(rm.UnrealizedPnLPercent, rm.ConcentrationRisk, rm.VaR95)
	switch {
	case score >= 6:
		rm.RiskLevel = model.RiskLevelCritical
	case score >= 4:
		rm.RiskLevel = model.RiskLevelHigh
	case score >= 2:
		rm.RiskLevel = model.RiskLevelMedium
	default:
		rm.RiskLevel = model.RiskLevelLow
	}
	return rm
}

func (m *Manager) portfolioNotional(ctx context.Context, accountID string) (decimal.Decimal, error) {
	positions, err := m.store.ListActivePositions(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list positions: %w", err)
	}
	total := decimal.Zero
	for _, p := range positions {
		price, err := m.prices.GetCurrentPrice(ctx, p.Symbol, p.AccountID)
		if err != nil {
			// A symbol without a live price contributes its entry value.
			price = p.AveragePrice
		}
		total = total.Add(p.Notional(price))
	}
	return total, nil
}

// BenchmarkBetaAlpha reports the position's beta and alpha against a
// benchmark index. Real benchmark correlation is future work; until a
// benchmark return series is plumbed through, beta is 1 and alpha 0.
func (m *Manager) BenchmarkBetaAlpha(_ context.Context, _ uuid.UUID, _ string) (beta, alpha float64) {
	return 1.0, 0.0
}
