package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/tradecore/internal/core/model"
)

// CreateAutoOrderParams carries a standing instruction bound to an
// external trigger condition.
type CreateAutoOrderParams struct {
	UserID           string
	AccountID        string
	StrategyName     string
	Symbol           string
	Side             model.OrderSide
	Quantity         decimal.Decimal
	EntryConditionID string
	StopLoss         *decimal.Decimal
	TakeProfit       *decimal.Decimal
	ExpiresAt        *time.Time
}

func (p *CreateAutoOrderParams) validate() error {
	if p.Symbol == "" || len(p.Symbol) > maxSymbolLength {
		return fmt.Errorf("%w: symbol must be non-empty and at most %d characters", model.ErrValidation, maxSymbolLength)
	}
	if p.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	switch p.Side {
	case model.OrderSideBuy, model.OrderSideSell:
	default:
		return fmt.Errorf("%w: invalid side %q", model.ErrValidation, p.Side)
	}
	if p.EntryConditionID == "" {
		return fmt.Errorf("%w: entry condition id required", model.ErrValidation)
	}
	return nil
}

// CreateAutoOrder persists a new active auto-order.
func (m *Manager) CreateAutoOrder(ctx context.Context, p CreateAutoOrderParams) (*model.AutoOrder, error) {
	if err := m.gate(p.UserID, p.AccountID, p.Symbol, p.StrategyName); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	auto := &model.AutoOrder{
		ID:               uuid.New(),
		UserID:           p.UserID,
		AccountID:        p.AccountID,
		StrategyName:     p.StrategyName,
		Symbol:           p.Symbol,
		Side:             p.Side,
		Quantity:         p.Quantity,
		EntryConditionID: p.EntryConditionID,
		StopLoss:         p.StopLoss,
		TakeProfit:       p.TakeProfit,
		IsActive:         true,
		ExpiresAt:        p.ExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateAutoOrder(ctx, auto); err != nil {
		return nil, fmt.Errorf("persist auto order: %w", err)
	}
	m.logger.Info("auto order created",
		zap.String("auto_order_id", auto.ID.String()),
		zap.String("strategy", auto.StrategyName),
		zap.String("symbol", auto.Symbol))
	return auto, nil
}

// TriggerAutoOrder materializes an auto-order into a concrete order and
// executes it. Returns false with no side effects when the auto-order is
// paused or inactive; an expired auto-order is deactivated and returns
// false.
func (m *Manager) TriggerAutoOrder(ctx context.Context, autoOrderID uuid.UUID, currentPrice decimal.Decimal) (bool, error) {
	auto, err := m.store.GetAutoOrder(ctx, autoOrderID)
	if err != nil {
		return false, fmt.Errorf("load auto order: %w", err)
	}
	if err := m.gate(auto.UserID, auto.AccountID, auto.Symbol, auto.StrategyName); err != nil {
		return false, err
	}
	if !auto.IsActive || auto.IsPaused {
		return false, nil
	}
	now := time.Now().UTC()
	if auto.Expired(now) {
		auto.IsActive = false
		auto.UpdatedAt = now
		if err := m.store.UpdateAutoOrder(ctx, auto); err != nil {
			return false, fmt.Errorf("expire auto order: %w", err)
		}
		m.logger.Info("auto order expired on trigger",
			zap.String("auto_order_id", autoOrderID.String()))
		return false, nil
	}

	auto.TriggerCount++
	auto.UpdatedAt = now
	if err := m.store.UpdateAutoOrder(ctx, auto); err != nil {
		return false, fmt.Errorf("record trigger: %w", err)
	}

	order, err := m.CreateOrder(ctx, CreateOrderParams{
		UserID:       auto.UserID,
		AccountID:    auto.AccountID,
		Symbol:       auto.Symbol,
		MarketType:   model.MarketSpot,
		Type:         model.OrderTypeMarket,
		Side:         auto.Side,
		Quantity:     auto.Quantity,
		StrategyName: auto.StrategyName,
		AutoOrderID:  &auto.ID,
		Metadata: map[string]string{
			"auto_order_id":      auto.ID.String(),
			"entry_condition_id": auto.EntryConditionID,
		},
	})
	if err != nil {
		auto.LastExecutionResult = fmt.Sprintf("create failed: %v", err)
		if uerr := m.store.UpdateAutoOrder(ctx, auto); uerr != nil {
			m.logger.Error("failed to record auto order outcome", zap.Error(uerr))
		}
		return false, err
	}

	executed, err := m.ExecuteOrder(ctx, order.ID, currentPrice)
	if executed {
		auto.ExecutionCount++
		auto.LastExecutionResult = "success"
	} else if err != nil {
		auto.LastExecutionResult = fmt.Sprintf("failed: %v", err)
	} else {
		auto.LastExecutionResult = "rejected"
	}
	auto.UpdatedAt = time.Now().UTC()
	if uerr := m.store.UpdateAutoOrder(ctx, auto); uerr != nil {
		m.logger.Error("failed to record auto order outcome", zap.Error(uerr))
	}
	return executed, err
}

// PauseAutoOrder toggles isPaused on without touching isActive.
func (m *Manager) PauseAutoOrder(ctx context.Context, autoOrderID uuid.UUID) error {
	return m.setAutoPaused(ctx, autoOrderID, true)
}

// ResumeAutoOrder clears isPaused.
func (m *Manager) ResumeAutoOrder(ctx context.Context, autoOrderID uuid.UUID) error {
	return m.setAutoPaused(ctx, autoOrderID, false)
}

func (m *Manager) setAutoPaused(ctx context.Context, autoOrderID uuid.UUID, paused bool) error {
	auto, err := m.store.GetAutoOrder(ctx, autoOrderID)
	if err != nil {
		return fmt.Errorf("load auto order: %w", err)
	}
	if err := m.gate(auto.UserID, auto.AccountID, auto.Symbol, auto.StrategyName); err != nil {
		return err
	}
	if auto.IsPaused == paused {
		return nil
	}
	auto.IsPaused = paused
	auto.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateAutoOrder(ctx, auto); err != nil {
		return fmt.Errorf("persist auto order: %w", err)
	}
	m.logger.Info("auto order pause state changed",
		zap.String("auto_order_id", autoOrderID.String()),
		zap.Bool("paused", paused))
	return nil
}
