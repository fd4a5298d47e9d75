// Package model defines the entities shared by the order control plane:
// orders, auto-orders, positions, execution results, risk results and
// emergency stop records.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Market types
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// Order types
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// Order sides
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Order statuses
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether the order state machine permits s -> next.
// Terminal statuses permit nothing; partially_filled may repeat itself.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case OrderStatusNew:
		switch next {
		case OrderStatusPending, OrderStatusSubmitted, OrderStatusPartiallyFilled,
			OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
			return true
		}
	case OrderStatusPending, OrderStatusSubmitted:
		switch next {
		case OrderStatusSubmitted, OrderStatusPartiallyFilled, OrderStatusFilled,
			OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
			return next != s
		}
	case OrderStatusPartiallyFilled:
		switch next {
		case OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
			return true
		}
	}
	return false
}

// RiskLevel grades the severity of a risk finding.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	case RiskLevelCritical:
		return "critical"
	}
	return "unknown"
}

// Emergency stop levels, from widest to narrowest scope.
type StopLevel string

const (
	StopLevelGlobal   StopLevel = "global"
	StopLevelUser     StopLevel = "user"
	StopLevelAccount  StopLevel = "account"
	StopLevelSymbol   StopLevel = "symbol"
	StopLevelStrategy StopLevel = "strategy"
)

// Emergency stop record statuses
type StopStatus string

const (
	StopStatusActive       StopStatus = "active"
	StopStatusCancelled    StopStatus = "cancelled"
	StopStatusExpired      StopStatus = "expired"
	StopStatusManualResume StopStatus = "manual_resume"
)

// Order is a single exchange instruction. It is owned by the order manager
// and mutated only through its status-update path.
type Order struct {
	ID              uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	ClientOrderID   string           `json:"client_order_id" gorm:"index"`
	ExchangeOrderID *string          `json:"exchange_order_id,omitempty"`
	UserID          string           `json:"user_id" gorm:"index"`
	AccountID       string           `json:"account_id" gorm:"index"`
	Symbol          string           `json:"symbol" gorm:"index"`
	MarketType      MarketType       `json:"market_type"`
	Type            OrderType        `json:"type"`
	Side            OrderSide        `json:"side"`
	Price           *decimal.Decimal `json:"price,omitempty" gorm:"type:decimal(32,12)"`
	Quantity        decimal.Decimal  `json:"quantity" gorm:"type:decimal(32,12)"`
	QuantityFilled  decimal.Decimal  `json:"quantity_filled" gorm:"type:decimal(32,12)"`
	QuantityRemain  decimal.Decimal  `json:"quantity_remaining" gorm:"type:decimal(32,12)"`
	Status          OrderStatus      `json:"status" gorm:"index"`
	AveragePrice    decimal.Decimal  `json:"average_price" gorm:"type:decimal(32,12)"`
	Commission      decimal.Decimal  `json:"commission" gorm:"type:decimal(32,12)"`
	Leverage        *int             `json:"leverage,omitempty"`
	PositionSide    string           `json:"position_side,omitempty"`
	StrategyName    string           `json:"strategy_name,omitempty" gorm:"index"`
	AutoOrderID     *uuid.UUID       `json:"auto_order_id,omitempty" gorm:"type:uuid;index"`
	Metadata        map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	SubmittedAt     *time.Time       `json:"submitted_at,omitempty"`
}

// ApplyFill records an execution against the order, keeping
// quantityFilled + quantityRemaining == quantity.
func (o *Order) ApplyFill(qty, price decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: fill quantity must be positive", ErrValidation)
	}
	if qty.GreaterThan(o.QuantityRemain) {
		return fmt.Errorf("%w: fill %s exceeds remaining %s", ErrValidation, qty, o.QuantityRemain)
	}
	prevNotional := o.AveragePrice.Mul(o.QuantityFilled)
	o.QuantityFilled = o.QuantityFilled.Add(qty)
	o.QuantityRemain = o.Quantity.Sub(o.QuantityFilled)
	o.AveragePrice = prevNotional.Add(price.Mul(qty)).Div(o.QuantityFilled)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// AutoOrder is a standing instruction materialized into a concrete Order
// when its external entry condition fires.
type AutoOrder struct {
	ID                  uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	UserID              string           `json:"user_id" gorm:"index"`
	AccountID           string           `json:"account_id" gorm:"index"`
	StrategyName        string           `json:"strategy_name" gorm:"index"`
	Symbol              string           `json:"symbol" gorm:"index"`
	Side                OrderSide        `json:"side"`
	Quantity            decimal.Decimal  `json:"quantity" gorm:"type:decimal(32,12)"`
	EntryConditionID    string           `json:"entry_condition_id"`
	StopLoss            *decimal.Decimal `json:"stop_loss,omitempty" gorm:"type:decimal(32,12)"`
	TakeProfit          *decimal.Decimal `json:"take_profit,omitempty" gorm:"type:decimal(32,12)"`
	IsActive            bool             `json:"is_active" gorm:"index"`
	IsPaused            bool             `json:"is_paused"`
	TriggerCount        int              `json:"trigger_count"`
	ExecutionCount      int              `json:"execution_count"`
	LastExecutionResult string           `json:"last_execution_result,omitempty"`
	ExpiresAt           *time.Time       `json:"expires_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Expired reports whether the auto-order's expiry has passed at now.
func (a *AutoOrder) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Position is the current holding for one (account, symbol) pair.
// Quantity is signed: positive long, negative short.
type Position struct {
	ID             uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID      string          `json:"account_id" gorm:"index:idx_account_symbol,unique"`
	Symbol         string          `json:"symbol" gorm:"index:idx_account_symbol,unique"`
	MarketType     MarketType      `json:"market_type"`
	Quantity       decimal.Decimal `json:"quantity" gorm:"type:decimal(32,12)"`
	QuantityAvail  decimal.Decimal `json:"quantity_available" gorm:"type:decimal(32,12)"`
	QuantityFrozen decimal.Decimal `json:"quantity_frozen" gorm:"type:decimal(32,12)"`
	AveragePrice   decimal.Decimal `json:"average_price" gorm:"type:decimal(32,12)"`
	EntryPrice     decimal.Decimal `json:"entry_price" gorm:"type:decimal(32,12)"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl" gorm:"type:decimal(32,12)"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl" gorm:"type:decimal(32,12)"`
	Leverage       *int            `json:"leverage,omitempty"`
	IsActive       bool            `json:"is_active" gorm:"index"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsLong reports whether the position is net long.
func (p *Position) IsLong() bool { return p.Quantity.GreaterThan(decimal.Zero) }

// Notional returns |quantity| * price.
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Abs().Mul(price)
}

// ExecutionResult is the immutable outcome of one execution engine run.
// An order may accumulate several across retries; only the final one
// determines order status.
type ExecutionResult struct {
	ID                 uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	OrderID            uuid.UUID       `json:"order_id" gorm:"type:uuid;index"`
	AccountID          string          `json:"account_id" gorm:"index"`
	Symbol             string          `json:"symbol,omitempty"`
	Success            bool            `json:"success"`
	ExchangeOrderID    string          `json:"exchange_order_id,omitempty"`
	FilledQuantity     decimal.Decimal `json:"filled_quantity" gorm:"type:decimal(32,12)"`
	AveragePrice       decimal.Decimal `json:"average_price" gorm:"type:decimal(32,12)"`
	Commission         decimal.Decimal `json:"commission" gorm:"type:decimal(32,12)"`
	LatencyMs          int64           `json:"latency_ms"`
	RetryCount         int             `json:"retry_count"`
	ExchangeUsed       string          `json:"exchange_used,omitempty"`
	ExchangesAttempted []string        `json:"exchanges_attempted,omitempty" gorm:"serializer:json"`
	ErrorCode          string          `json:"error_code,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// RiskCheckResult is the outcome of one risk rule evaluation.
type RiskCheckResult struct {
	IsApproved   bool              `json:"is_approved"`
	RiskLevel    RiskLevel         `json:"risk_level"`
	Message      string            `json:"message"`
	AlertType    string            `json:"alert_type,omitempty"`
	CurrentValue decimal.Decimal   `json:"current_value"`
	LimitValue   decimal.Decimal   `json:"limit_value"`
	Details      map[string]string `json:"details,omitempty"`
}

// Approved is the zero-risk pass result.
func Approved(message string) *RiskCheckResult {
	return &RiskCheckResult{IsApproved: true, RiskLevel: RiskLevelLow, Message: message}
}

// RiskAlert is a persisted record of a risk rejection or warning.
type RiskAlert struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string    `json:"user_id" gorm:"index"`
	AccountID string    `json:"account_id" gorm:"index"`
	Symbol    string    `json:"symbol,omitempty"`
	AlertType string    `json:"alert_type"`
	RiskLevel RiskLevel `json:"risk_level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// RiskConfig holds the configured trading limits for one (user, account)
// pair. A missing config means no limits are enforced.
type RiskConfig struct {
	ID                uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	UserID            string          `json:"user_id" gorm:"index:idx_user_account,unique"`
	AccountID         string          `json:"account_id" gorm:"index:idx_user_account,unique"`
	MaxOrderSize      decimal.Decimal `json:"max_order_size" gorm:"type:decimal(32,12)"`
	MaxPositionSize   decimal.Decimal `json:"max_position_size" gorm:"type:decimal(32,12)"`
	MaxDailyTrades    int             `json:"max_daily_trades"`
	MaxDailyVolume    decimal.Decimal `json:"max_daily_volume" gorm:"type:decimal(32,12)"`
	TradingHoursStart string          `json:"trading_hours_start,omitempty"` // "HH:MM", empty = always open
	TradingHoursEnd   string          `json:"trading_hours_end,omitempty"`
}

// StopRecord is one emergency-stop activation. At most one active record
// may exist per (level, target) pair.
type StopRecord struct {
	ID              uuid.UUID         `json:"stop_id" gorm:"type:uuid;primaryKey"`
	Level           StopLevel         `json:"stop_level" gorm:"index"`
	TargetID        string            `json:"target_id" gorm:"index"`
	Reason          string            `json:"reason"`
	Status          StopStatus        `json:"status" gorm:"index"`
	TriggeredAt     time.Time         `json:"triggered_at"`
	TriggeredBy     string            `json:"triggered_by"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	OrdersAffected  int               `json:"orders_affected"`
	AmountPreserved decimal.Decimal   `json:"total_amount_preserved" gorm:"type:decimal(32,12)"`
	Metadata        map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
