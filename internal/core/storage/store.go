// Package storage defines the persistence boundary of the control plane
// and ships two implementations: a GORM-backed store for sqlite/postgres
// and an in-memory store for tests and development.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/tradecore/internal/core/model"
)

// OrderFilter narrows open-order queries. Zero-valued fields match all.
type OrderFilter struct {
	UserID       string
	AccountID    string
	Symbol       string
	StrategyName string
}

// Store is the persistence interface the core depends on. The core never
// assumes a specific engine; a failed write means the operation did not
// happen.
type Store interface {
	// Orders
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	ListOpenOrders(ctx context.Context, f OrderFilter) ([]*model.Order, error)

	// Auto-orders
	CreateAutoOrder(ctx context.Context, a *model.AutoOrder) error
	GetAutoOrder(ctx context.Context, id uuid.UUID) (*model.AutoOrder, error)
	UpdateAutoOrder(ctx context.Context, a *model.AutoOrder) error
	ListActiveAutoOrders(ctx context.Context, f OrderFilter) ([]*model.AutoOrder, error)

	// Positions
	GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error)
	GetPositionByID(ctx context.Context, id uuid.UUID) (*model.Position, error)
	SavePosition(ctx context.Context, p *model.Position) error
	ListActivePositions(ctx context.Context, accountID string) ([]*model.Position, error)

	// Risk
	GetRiskConfig(ctx context.Context, userID, accountID string) (*model.RiskConfig, error)
	SaveRiskConfig(ctx context.Context, c *model.RiskConfig) error
	CreateRiskAlert(ctx context.Context, a *model.RiskAlert) error
	CountTradesSince(ctx context.Context, accountID string, since time.Time) (int, error)
	SumTradedVolumeSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error)

	// Execution records
	RecordExecution(ctx context.Context, r *model.ExecutionResult) error
	ListExecutions(ctx context.Context, orderID uuid.UUID) ([]*model.ExecutionResult, error)

	// Emergency stop records
	CreateStopRecord(ctx context.Context, s *model.StopRecord) error
	UpdateStopRecord(ctx context.Context, s *model.StopRecord) error
	ListActiveStopRecords(ctx context.Context) ([]*model.StopRecord, error)
	ListStopRecords(ctx context.Context, limit int) ([]*model.StopRecord, error)
}
