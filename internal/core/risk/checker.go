// Package risk performs pre-trade validation of orders against the
// configured limits for a (user, account) pair. Each call fans the four
// independent checks out concurrently and combines their results.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/tradecore/internal/core/model"
	"github.com/coinpilot/tradecore/internal/core/storage"
)

// Alert types attached to risk findings.
const (
	AlertOrderSizeLimit    = "order_size_limit"
	AlertPositionSizeLimit = "position_size_limit"
	AlertDailyTradeCount   = "daily_trade_count_limit"
	AlertDailyVolumeLimit  = "daily_volume_limit"
	AlertTradingHours      = "trading_hours"
	AlertEmergencyStop     = "emergency_stop"
)

// Checker validates orders against configured limits and live
// position/trade-history lookups. It holds no per-order state.
type Checker struct {
	store  storage.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewChecker builds a Checker.
func NewChecker(store storage.Store, logger *zap.Logger) *Checker {
	return &Checker{store: store, logger: logger, now: time.Now}
}

// CheckRequest carries the order parameters under evaluation.
type CheckRequest struct {
	UserID    string
	AccountID string
	Symbol    string
	Side      model.OrderSide
	Quantity  decimal.Decimal
	OrderType model.OrderType
	Price     *decimal.Decimal
}

// CheckOrderRisk runs all checks for one order. Any critical failure is
// returned alone; otherwise the most severe non-critical rejection wins;
// warnings ride along as approved results with an elevated level. A
// missing risk configuration approves the order.
func (c *Checker) CheckOrderRisk(ctx context.Context, req *CheckRequest) (*model.RiskCheckResult, error) {
	cfg, err := c.store.GetRiskConfig(ctx, req.UserID, req.AccountID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.logger.Info("no risk config, order approved by default",
				zap.String("user_id", req.UserID), zap.String("account_id", req.AccountID))
			return model.Approved("no risk configuration, approved by default"), nil
		}
		return nil, fmt.Errorf("load risk config: %w", err)
	}

	type outcome struct {
		res *model.RiskCheckResult
		err error
	}
	results := make(chan outcome, 4)
	checks := []func(context.Context, *CheckRequest, *model.RiskConfig) (*model.RiskCheckResult, error){
		c.checkOrderSize,
		c.checkPositionSize,
		c.checkDailyLimits,
		c.checkTradingHours,
	}
	for _, check := range checks {
		go func(fn func(context.Context, *CheckRequest, *model.RiskConfig) (*model.RiskCheckResult, error)) {
			res, err := fn(ctx, req, cfg)
			results <- outcome{res, err}
		}(check)
	}

	var rejection, warning *model.RiskCheckResult
	for i := 0; i < len(checks); i++ {
		out := <-results
		if out.err != nil {
			return nil, out.err
		}
		res := out.res
		switch {
		case res == nil:
		case !res.IsApproved && res.RiskLevel == model.RiskLevelCritical:
			return res, nil
		case !res.IsApproved:
			if rejection == nil || res.RiskLevel > rejection.RiskLevel {
				rejection = res
			}
		case res.RiskLevel > model.RiskLevelLow:
			if warning == nil || res.RiskLevel > warning.RiskLevel {
				warning = res
			}
		}
	}
	if rejection != nil {
		return rejection, nil
	}
	if warning != nil {
		return warning, nil
	}
	return model.Approved("all risk checks passed"), nil
}

func (c *Checker) checkOrderSize(_ context.Context, req *CheckRequest, cfg *model.RiskConfig) (*model.RiskCheckResult, error) {
	if cfg.MaxOrderSize.IsZero() {
		return nil, nil
	}
	if req.Quantity.GreaterThan(cfg.MaxOrderSize) {
		return &model.RiskCheckResult{
			IsApproved:   false,
			RiskLevel:    model.RiskLevelCritical,
			AlertType:    AlertOrderSizeLimit,
			Message:      fmt.Sprintf("order size %s exceeds max %s", req.Quantity, cfg.MaxOrderSize),
			CurrentValue: req.Quantity,
			LimitValue:   cfg.MaxOrderSize,
		}, nil
	}
	return nil, nil
}

func (c *Checker) checkPositionSize(ctx context.Context, req *CheckRequest, cfg *model.RiskConfig) (*model.RiskCheckResult, error) {
	if cfg.MaxPositionSize.IsZero() {
		return nil, nil
	}
	current := decimal.Zero
	pos, err := c.store.GetPosition(ctx, req.AccountID, req.Symbol)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if pos != nil {
		current = pos.Quantity
	}

	hypothetical := current.Add(req.Quantity)
	if req.Side == model.OrderSideSell {
		hypothetical = current.Sub(req.Quantity)
	}
	abs := hypothetical.Abs()
	if abs.LessThanOrEqual(cfg.MaxPositionSize) {
		return nil, nil
	}

	// Over by 50% or more is graded HIGH, otherwise MEDIUM.
	level := model.RiskLevelMedium
	if abs.GreaterThanOrEqual(cfg.MaxPositionSize.Mul(decimal.NewFromFloat(1.5))) {
		level = model.RiskLevelHigh
	}
	return &model.RiskCheckResult{
		IsApproved:   false,
		RiskLevel:    level,
		AlertType:    AlertPositionSizeLimit,
		Message:      fmt.Sprintf("post-trade position %s exceeds max %s", hypothetical, cfg.MaxPositionSize),
		CurrentValue: abs,
		LimitValue:   cfg.MaxPositionSize,
	}, nil
}

func (c *Checker) checkDailyLimits(ctx context.Context, req *CheckRequest, cfg *model.RiskConfig) (*model.RiskCheckResult, error) {
	if cfg.MaxDailyTrades <= 0 && cfg.MaxDailyVolume.IsZero() {
		return nil, nil
	}
	dayStart := c.now().UTC().Truncate(24 * time.Hour)

	if cfg.MaxDailyTrades > 0 {
		count, err := c.store.CountTradesSince(ctx, req.AccountID, dayStart)
		if err != nil {
			return nil, fmt.Errorf("count daily trades: %w", err)
		}
		if count >= cfg.MaxDailyTrades {
			return &model.RiskCheckResult{
				IsApproved:   false,
				RiskLevel:    model.RiskLevelCritical,
				AlertType:    AlertDailyTradeCount,
				Message:      fmt.Sprintf("daily trade count %d reached max %d", count, cfg.MaxDailyTrades),
				CurrentValue: decimal.NewFromInt(int64(count)),
				LimitValue:   decimal.NewFromInt(int64(cfg.MaxDailyTrades)),
			}, nil
		}
	}

	if !cfg.MaxDailyVolume.IsZero() {
		volume, err := c.store.SumTradedVolumeSince(ctx, req.AccountID, dayStart)
		if err != nil {
			return nil, fmt.Errorf("sum daily volume: %w", err)
		}
		if volume.GreaterThan(cfg.MaxDailyVolume) {
			return &model.RiskCheckResult{
				IsApproved:   true, // surfaced as a warning alongside approval
				RiskLevel:    model.RiskLevelMedium,
				AlertType:    AlertDailyVolumeLimit,
				Message:      fmt.Sprintf("daily volume %s exceeds configured max %s", volume, cfg.MaxDailyVolume),
				CurrentValue: volume,
				LimitValue:   cfg.MaxDailyVolume,
			}, nil
		}
	}
	return nil, nil
}

func (c *Checker) checkTradingHours(_ context.Context, _ *CheckRequest, cfg *model.RiskConfig) (*model.RiskCheckResult, error) {
	if cfg.TradingHoursStart == "" || cfg.TradingHoursEnd == "" {
		return nil, nil
	}
	start, err := parseClock(cfg.TradingHoursStart)
	if err != nil {
		return nil, fmt.Errorf("%w: trading_hours_start: %v", model.ErrValidation, err)
	}
	end, err := parseClock(cfg.TradingHoursEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: trading_hours_end: %v", model.ErrValidation, err)
	}

	now := c.now().UTC()
	minute := now.Hour()*60 + now.Minute()
	var open bool
	if start <= end {
		open = minute >= start && minute <= end
	} else {
		// Window crosses midnight, e.g. 22:00-06:00.
		open = minute >= start || minute <= end
	}
	if open {
		return nil, nil
	}
	return &model.RiskCheckResult{
		IsApproved: false,
		RiskLevel:  model.RiskLevelMedium,
		AlertType:  AlertTradingHours,
		Message: fmt.Sprintf("current time %02d:%02d outside trading window %s-%s",
			now.Hour(), now.Minute(), cfg.TradingHoursStart, cfg.TradingHoursEnd),
	}, nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}

// CreateRiskAlert persists an alert describing a rejection or warning.
func (c *Checker) CreateRiskAlert(ctx context.Context, userID, accountID, symbol string, res *model.RiskCheckResult) error {
	alert := &model.RiskAlert{
		ID:        uuid.New(),
		UserID:    userID,
		AccountID: accountID,
		Symbol:    symbol,
		AlertType: res.AlertType,
		RiskLevel: res.RiskLevel,
		Message:   res.Message,
		CreatedAt: c.now().UTC(),
	}
	if err := c.store.CreateRiskAlert(ctx, alert); err != nil {
		return fmt.Errorf("persist risk alert: %w", err)
	}
	c.logger.Warn("risk alert created",
		zap.String("account_id", accountID),
		zap.String("alert_type", res.AlertType),
		zap.String("risk_level", res.RiskLevel.String()),
		zap.String("message", res.Message))
	return nil
}
