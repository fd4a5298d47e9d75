// Package orders is the top-level orchestrator of the order lifecycle:
// it creates orders and auto-orders, gates every mutation on the
// emergency stop service, runs pre-trade risk checks, drives the
// execution engine and applies fills to positions.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/tradecore/internal/core/emergency"
	"github.com/coinpilot/tradecore/internal/core/execution"
	"github.com/coinpilot/tradecore/internal/core/model"
	"github.com/coinpilot/tradecore/internal/core/position"
	"github.com/coinpilot/tradecore/internal/core/risk"
	"github.com/coinpilot/tradecore/internal/core/storage"
)

const maxSymbolLength = 50

// ExecutionCallback observes the terminal result of one order execution.
type ExecutionCallback func(order *model.Order, result *model.ExecutionResult)

// Manager orchestrates the order lifecycle. Operations on a single
// order id are serialized: a second concurrent execution of the same id
// is rejected.
type Manager struct {
	store     storage.Store
	risk      *risk.Checker
	engine    *execution.Engine
	positions *position.Manager
	emergency *emergency.Service
	logger    *zap.Logger

	mu        sync.Mutex
	inflight  map[uuid.UUID]struct{}
	callbacks map[uuid.UUID][]ExecutionCallback
}

// NewManager wires the orchestrator with its collaborators.
func NewManager(
	store storage.Store,
	riskChecker *risk.Checker,
	engine *execution.Engine,
	positions *position.Manager,
	emergencyStop *emergency.Service,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		store:     store,
		risk:      riskChecker,
		engine:    engine,
		positions: positions,
		emergency: emergencyStop,
		logger:    logger,
		inflight:  make(map[uuid.UUID]struct{}),
		callbacks: make(map[uuid.UUID][]ExecutionCallback),
	}
}

// CreateOrderParams carries the client's order request.
type CreateOrderParams struct {
	UserID        string
	AccountID     string
	ClientOrderID string
	Symbol        string
	MarketType    model.MarketType
	Type          model.OrderType
	Side          model.OrderSide
	Price         *decimal.Decimal
	Quantity      decimal.Decimal
	Leverage      *int
	PositionSide  string
	StrategyName  string
	AutoOrderID   *uuid.UUID
	Metadata      map[string]string
}

func (p *CreateOrderParams) validate() error {
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
	switch p.Type {
	case model.OrderTypeMarket:
	case model.OrderTypeLimit, model.OrderTypeStop, model.OrderTypeStopLimit:
		if p.Price == nil || p.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: %s orders require a positive price", model.ErrValidation, p.Type)
		}
	default:
		return fmt.Errorf("%w: invalid order type %q", model.ErrValidation, p.Type)
	}
	return nil
}

func (m *Manager) gate(userID, accountID, symbol, strategy string) error {
	if m.emergency.IsTradingStopped(userID, accountID, symbol, strategy) {
		return fmt.Errorf("%w: user=%s account=%s symbol=%s", model.ErrEmergencyStop, userID, accountID, symbol)
	}
	return nil
}

// CreateOrder validates and persists a new order. It does not execute.
func (m *Manager) CreateOrder(ctx context.Context, p CreateOrderParams) (*model.Order, error) {
	if err := m.gate(p.UserID, p.AccountID, p.Symbol, p.StrategyName); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	order := &model.Order{
		ID:             uuid.New(),
		ClientOrderID:  p.ClientOrderID,
		UserID:         p.UserID,
		AccountID:      p.AccountID,
		Symbol:         p.Symbol,
		MarketType:     p.MarketType,
		Type:           p.Type,
		Side:           p.Side,
		Price:          p.Price,
		Quantity:       p.Quantity,
		QuantityFilled: decimal.Zero,
		QuantityRemain: p.Quantity,
		Status:         model.OrderStatusNew,
		Leverage:       p.Leverage,
		PositionSide:   p.PositionSide,
		StrategyName:   p.StrategyName,
		AutoOrderID:    p.AutoOrderID,
		Metadata:       p.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}
	m.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()))
	return order, nil
}

// RegisterCallback attaches a callback fired with the terminal result of
// the order's execution, regardless of outcome.
func (m *Manager) RegisterCallback(orderID uuid.UUID, cb ExecutionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[orderID] = append(m.callbacks[orderID], cb)
}

func (m *Manager) fireCallbacks(order *model.Order, result *model.ExecutionResult) {
	m.mu.Lock()
	cbs := m.callbacks[order.ID]
	delete(m.callbacks, order.ID)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(order, result)
	}
}

func (m *Manager) acquireOrder(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return fmt.Errorf("%w: %s", model.ErrConcurrentExecution, id)
	}
	m.inflight[id] = struct{}{}
	return nil
}

func (m *Manager) releaseOrder(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, id)
}

// transition moves the order through its state machine and persists it.
func (m *Manager) transition(ctx context.Context, order *model.Order, next model.OrderStatus) error {
	if !order.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: order %s cannot move %s -> %s", model.ErrValidation, order.ID, order.Status, next)
	}
	order.Status = next
	order.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("persist order status: %w", err)
	}
	return nil
}

// ExecuteOrder runs one order through risk check, execution and position
// update. Returns false without error when the order is not executable
// (wrong status) or was rejected by risk. Callbacks fire last, whatever
// the outcome.
func (m *Manager) ExecuteOrder(ctx context.Context, orderID uuid.UUID, currentPrice decimal.Decimal) (bool, error) {
	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("load order: %w", err)
	}
	if err := m.gate(order.UserID, order.AccountID, order.Symbol, order.StrategyName); err != nil {
		return false, err
	}
	if order.Status != model.OrderStatusNew && order.Status != model.OrderStatusPending {
		m.logger.Debug("order not executable",
			zap.String("order_id", orderID.String()),
			zap.String("status", string(order.Status)))
		return false, nil
	}
	if err := m.acquireOrder(orderID); err != nil {
		return false, err
	}
	defer m.releaseOrder(orderID)

	checkRes, err := m.risk.CheckOrderRisk(ctx, &risk.CheckRequest{
		UserID:    order.UserID,
		AccountID: order.AccountID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		OrderType: order.Type,
		Price:     order.Price,
	})
	if err != nil {
		return false, fmt.Errorf("risk check: %w", err)
	}
	if !checkRes.IsApproved {
		return m.rejectForRisk(ctx, order, checkRes)
	}
	if checkRes.RiskLevel > model.RiskLevelLow {
		m.logger.Warn("order approved with risk warning",
			zap.String("order_id", orderID.String()),
			zap.String("risk_level", checkRes.RiskLevel.String()),
			zap.String("message", checkRes.Message))
	}

	result := m.engine.Execute(ctx, m.executionRequest(order, currentPrice))
	if err := m.store.RecordExecution(ctx, result); err != nil {
		return false, fmt.Errorf("record execution: %w", err)
	}

	if !result.Success {
		if err := m.transition(ctx, order, model.OrderStatusRejected); err != nil {
			return false, err
		}
		m.logger.Warn("order execution failed",
			zap.String("order_id", orderID.String()),
			zap.String("error_code", result.ErrorCode),
			zap.String("error", result.ErrorMessage),
			zap.Strings("exchanges_attempted", result.ExchangesAttempted))
		m.fireCallbacks(order, result)
		return false, nil
	}

	if err := order.ApplyFill(result.FilledQuantity, result.AveragePrice); err != nil {
		return false, err
	}
	order.ExchangeOrderID = &result.ExchangeOrderID
	order.Commission = order.Commission.Add(result.Commission)
	next := model.OrderStatusFilled
	if order.QuantityRemain.IsPositive() {
		next = model.OrderStatusPartiallyFilled
	}
	if err := m.transition(ctx, order, next); err != nil {
		return false, err
	}

	if _, err := m.positions.UpdatePosition(ctx, order.AccountID, order.Symbol, order.MarketType,
		order.Side, result.FilledQuantity, result.AveragePrice); err != nil {
		return false, fmt.Errorf("update position: %w", err)
	}

	m.logger.Info("order executed",
		zap.String("order_id", orderID.String()),
		zap.String("exchange", result.ExchangeUsed),
		zap.String("filled", result.FilledQuantity.String()),
		zap.String("avg_price", result.AveragePrice.String()),
		zap.Int64("latency_ms", result.LatencyMs))
	m.fireCallbacks(order, result)
	return true, nil
}

// rejectForRisk records the alert, moves the order to rejected with a
// failed execution record, and fires callbacks. Never calls the engine.
func (m *Manager) rejectForRisk(ctx context.Context, order *model.Order, res *model.RiskCheckResult) (bool, error) {
	if err := m.risk.CreateRiskAlert(ctx, order.UserID, order.AccountID, order.Symbol, res); err != nil {
		m.logger.Error("failed to persist risk alert", zap.Error(err))
	}
	if err := m.transition(ctx, order, model.OrderStatusRejected); err != nil {
		return false, err
	}
	record := &model.ExecutionResult{
		ID:           uuid.New(),
		OrderID:      order.ID,
		AccountID:    order.AccountID,
		Symbol:       order.Symbol,
		Success:      false,
		ErrorCode:    "RISK_REJECTED",
		ErrorMessage: res.Message,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.RecordExecution(ctx, record); err != nil {
		return false, fmt.Errorf("record risk rejection: %w", err)
	}
	m.logger.Warn("order rejected by risk check",
		zap.String("order_id", order.ID.String()),
		zap.String("alert_type", res.AlertType),
		zap.String("message", res.Message))
	m.fireCallbacks(order, record)
	return false, nil
}

func (m *Manager) executionRequest(order *model.Order, currentPrice decimal.Decimal) *execution.Request {
	price := order.Price
	if price == nil && currentPrice.IsPositive() {
		price = &currentPrice
	}
	return &execution.Request{
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		AccountID:     order.AccountID,
		Symbol:        order.Symbol,
		MarketType:    order.MarketType,
		Side:          order.Side,
		Type:          order.Type,
		Price:         price,
		Quantity:      order.Quantity,
		Leverage:      order.Leverage,
	}
}

// CancelOrder cancels an order still in new/pending and records a
// non-execution record.
func (m *Manager) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if err := m.gate(order.UserID, order.AccountID, order.Symbol, order.StrategyName); err != nil {
		return err
	}
	if order.Status != model.OrderStatusNew && order.Status != model.OrderStatusPending {
		return fmt.Errorf("%w: order %s in status %s cannot be cancelled", model.ErrValidation, orderID, order.Status)
	}
	if err := m.transition(ctx, order, model.OrderStatusCancelled); err != nil {
		return err
	}
	record := &model.ExecutionResult{
		ID:           uuid.New(),
		OrderID:      order.ID,
		AccountID:    order.AccountID,
		Symbol:       order.Symbol,
		Success:      false,
		ErrorCode:    execution.ErrCodeCancelled,
		ErrorMessage: "cancelled by client",
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.RecordExecution(ctx, record); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}
	m.logger.Info("order cancelled", zap.String("order_id", orderID.String()))
	return nil
}
