// Package emergency implements the hierarchical kill-switch. A stop can
// target the whole system, one user, one account, one symbol or one
// strategy; while active it blocks every mutating order operation. A
// background monitor expires stops whose configured duration has passed,
// so a stop can never silently outlive it.
package emergency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/tradecore/internal/core/model"
	"github.com/coinpilot/tradecore/internal/core/notify"
	"github.com/coinpilot/tradecore/internal/core/storage"
)

// DefaultMonitorInterval is the expiry scan cadence.
const DefaultMonitorInterval = 30 * time.Second

type stopKey struct {
	level  model.StopLevel
	target string
}

// StopRequest configures one emergency stop activation.
type StopRequest struct {
	Level               model.StopLevel
	TargetID            string // empty only for global stops
	Reason              string
	RequireConfirmation bool
	MaxStopDuration     time.Duration // 0 falls back to the service-wide maximum
	Metadata            map[string]string
}

// Service is the emergency stop control point. The active-record set is
// one critical section shared between trigger/cancel/resume and the
// expiry monitor.
type Service struct {
	store    storage.Store
	notifier notify.Notifier
	logger   *zap.Logger
	interval time.Duration
	maxStop  time.Duration
	now      func() time.Time

	mu     sync.Mutex
	active map[stopKey]*model.StopRecord

	cancelMonitor context.CancelFunc
	monitorDone   chan struct{}
}

// NewService builds the service. interval <= 0 uses the default 30s
// scan. maxStop bounds stops whose request carries no duration of its
// own; 0 leaves such stops unbounded.
func NewService(store storage.Store, notifier notify.Notifier, logger *zap.Logger, interval, maxStop time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		maxStop:  maxStop,
		now:      time.Now,
		active:   make(map[stopKey]*model.StopRecord),
	}
}

// Start loads persisted active stops and launches the expiry monitor.
func (s *Service) Start(ctx context.Context) error {
	records, err := s.store.ListActiveStopRecords(ctx)
	if err != nil {
		return fmt.Errorf("load active stops: %w", err)
	}
	s.mu.Lock()
	for _, r := range records {
		s.active[stopKey{r.Level, r.TargetID}] = r
	}
	s.mu.Unlock()

	monitorCtx, cancel := context.WithCancel(context.Background())
	s.cancelMonitor = cancel
	s.monitorDone = make(chan struct{})
	go s.runMonitor(monitorCtx)
	s.logger.Info("emergency stop service started",
		zap.Int("active_stops", len(records)),
		zap.Duration("monitor_interval", s.interval))
	return nil
}

// Stop terminates the expiry monitor and waits for it to exit.
func (s *Service) Stop() {
	if s.cancelMonitor != nil {
		s.cancelMonitor()
		<-s.monitorDone
	}
}

func (s *Service) runMonitor(ctx context.Context) {
	defer close(s.monitorDone)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireOverdue(ctx)
		}
	}
}

// expireOverdue transitions every active record past its expiry to
// expired and notifies. Exported to the package for tests via the
// monitor; runs under the shared critical section.
func (s *Service) expireOverdue(ctx context.Context) {
	now := s.now().UTC()
	s.mu.Lock()
	var overdue []*model.StopRecord
	for k, r := range s.active {
		if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
			r.Status = model.StopStatusExpired
			r.UpdatedAt = now
			delete(s.active, k)
			overdue = append(overdue, r)
		}
	}
	s.mu.Unlock()

	for _, r := range overdue {
		if err := s.store.UpdateStopRecord(ctx, r); err != nil {
			s.logger.Error("failed to persist stop expiry",
				zap.String("stop_id", r.ID.String()), zap.Error(err))
		}
		s.logger.Warn("emergency stop auto-expired",
			zap.String("stop_id", r.ID.String()),
			zap.String("level", string(r.Level)),
			zap.String("target", r.TargetID))
		s.notifier.Notify(ctx, notify.PriorityHigh, "Emergency stop expired",
			fmt.Sprintf("Stop %s (%s/%s) auto-expired, trading resumed", r.ID, r.Level, r.TargetID),
			map[string]string{"stop_id": r.ID.String()})
	}
}

// ExecuteEmergencyStop activates a stop. Triggering a (level, target)
// pair that already has an active stop is idempotent and returns the
// existing id.
func (s *Service) ExecuteEmergencyStop(ctx context.Context, req StopRequest, triggeredBy, confirmationToken string) (uuid.UUID, error) {
	if req.RequireConfirmation && confirmationToken == "" {
		return uuid.Nil, fmt.Errorf("%w: confirmation token required", model.ErrValidation)
	}
	switch req.Level {
	case model.StopLevelGlobal:
	case model.StopLevelUser, model.StopLevelAccount, model.StopLevelSymbol, model.StopLevelStrategy:
		if req.TargetID == "" {
			return uuid.Nil, fmt.Errorf("%w: %s stop requires a target id", model.ErrValidation, req.Level)
		}
	default:
		return uuid.Nil, fmt.Errorf("%w: unknown stop level %q", model.ErrValidation, req.Level)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := stopKey{req.Level, req.TargetID}
	if existing, ok := s.active[k]; ok {
		s.logger.Info("emergency stop already active, returning existing id",
			zap.String("stop_id", existing.ID.String()),
			zap.String("level", string(req.Level)),
			zap.String("target", req.TargetID))
		return existing.ID, nil
	}

	now := s.now().UTC()
	record := &model.StopRecord{
		ID:              uuid.New(),
		Level:           req.Level,
		TargetID:        req.TargetID,
		Reason:          req.Reason,
		Status:          model.StopStatusActive,
		TriggeredAt:     now,
		TriggeredBy:     triggeredBy,
		Metadata:        req.Metadata,
		AmountPreserved: decimal.Zero,
		UpdatedAt:       now,
	}
	duration := req.MaxStopDuration
	if duration <= 0 {
		duration = s.maxStop
	}
	if duration > 0 {
		expires := now.Add(duration)
		record.ExpiresAt = &expires
	}

	affected, preserved, err := s.haltScope(ctx, req, record.ID)
	if err != nil {
		return uuid.Nil, err
	}
	record.OrdersAffected = affected
	record.AmountPreserved = preserved

	if err := s.store.CreateStopRecord(ctx, record); err != nil {
		return uuid.Nil, fmt.Errorf("persist stop record: %w", err)
	}
	s.active[k] = record

	s.logger.Error("EMERGENCY STOP ACTIVATED",
		zap.String("stop_id", record.ID.String()),
		zap.String("level", string(req.Level)),
		zap.String("target", req.TargetID),
		zap.String("reason", req.Reason),
		zap.Int("orders_affected", affected))

	s.notifier.Notify(ctx, notify.PriorityCritical, "Emergency stop activated",
		fmt.Sprintf("Level %s target %q stopped by %s: %s (%d orders affected)",
			req.Level, req.TargetID, triggeredBy, req.Reason, affected),
		map[string]string{"stop_id": record.ID.String()})

	alert := &model.RiskAlert{
		ID:        uuid.New(),
		UserID:    triggeredBy,
		AccountID: req.TargetID,
		AlertType: "emergency_stop",
		RiskLevel: model.RiskLevelCritical,
		Message:   fmt.Sprintf("emergency stop %s at level %s: %s", record.ID, req.Level, req.Reason),
		CreatedAt: now,
	}
	if err := s.store.CreateRiskAlert(ctx, alert); err != nil {
		s.logger.Error("failed to persist emergency stop alert", zap.Error(err))
	}
	return record.ID, nil
}

// scopeFilter maps a stop level onto the order/auto-order query scope.
func scopeFilter(req StopRequest) storage.OrderFilter {
	switch req.Level {
	case model.StopLevelUser:
		return storage.OrderFilter{UserID: req.TargetID}
	case model.StopLevelAccount:
		return storage.OrderFilter{AccountID: req.TargetID}
	case model.StopLevelSymbol:
		return storage.OrderFilter{Symbol: req.TargetID}
	case model.StopLevelStrategy:
		return storage.OrderFilter{StrategyName: req.TargetID}
	default:
		return storage.OrderFilter{}
	}
}

// haltScope cancels every matching open order, marking each with an
// execution record carrying the stop reason, and pauses every matching
// auto-order. Returns orders affected and total preserved notional.
func (s *Service) haltScope(ctx context.Context, req StopRequest, stopID uuid.UUID) (int, decimal.Decimal, error) {
	filter := scopeFilter(req)
	preserved := decimal.Zero
	affected := 0

	orders, err := s.store.ListOpenOrders(ctx, filter)
	if err != nil {
		return 0, preserved, fmt.Errorf("list open orders: %w", err)
	}
	now := s.now().UTC()
	for _, o := range orders {
		if !o.Status.CanTransitionTo(model.OrderStatusCancelled) {
			continue
		}
		o.Status = model.OrderStatusCancelled
		o.UpdatedAt = now
		if err := s.store.UpdateOrder(ctx, o); err != nil {
			return affected, preserved, fmt.Errorf("cancel order %s: %w", o.ID, err)
		}
		rec := &model.ExecutionResult{
			ID:           uuid.New(),
			OrderID:      o.ID,
			AccountID:    o.AccountID,
			Symbol:       o.Symbol,
			Success:      false,
			ErrorCode:    "EMERGENCY_STOP",
			ErrorMessage: fmt.Sprintf("cancelled by emergency stop %s: %s", stopID, req.Reason),
			CreatedAt:    now,
		}
		if err := s.store.RecordExecution(ctx, rec); err != nil {
			s.logger.Error("failed to record stop cancellation",
				zap.String("order_id", o.ID.String()), zap.Error(err))
		}
		affected++
		if o.Price != nil {
			preserved = preserved.Add(o.QuantityRemain.Mul(*o.Price))
		}
	}

	autos, err := s.store.ListActiveAutoOrders(ctx, filter)
	if err != nil {
		return affected, preserved, fmt.Errorf("list auto orders: %w", err)
	}
	for _, a := range autos {
		if a.IsPaused {
			continue
		}
		a.IsPaused = true
		a.UpdatedAt = now
		if err := s.store.UpdateAutoOrder(ctx, a); err != nil {
			return affected, preserved, fmt.Errorf("pause auto order %s: %w", a.ID, err)
		}
		affected++
	}
	return affected, preserved, nil
}

// resolve transitions an active record to a terminal status, removes it
// from the active set and notifies.
func (s *Service) resolve(ctx context.Context, stopID uuid.UUID, status model.StopStatus, by string) error {
	s.mu.Lock()
	var record *model.StopRecord
	var k stopKey
	for key, r := range s.active {
		if r.ID == stopID {
			record, k = r, key
			break
		}
	}
	if record == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: active stop %s", model.ErrNotFound, stopID)
	}
	record.Status = status
	record.UpdatedAt = s.now().UTC()
	delete(s.active, k)
	s.mu.Unlock()

	if err := s.store.UpdateStopRecord(ctx, record); err != nil {
		return fmt.Errorf("persist stop transition: %w", err)
	}
	s.logger.Warn("emergency stop resolved",
		zap.String("stop_id", stopID.String()),
		zap.String("status", string(status)),
		zap.String("by", by))
	s.notifier.Notify(ctx, notify.PriorityHigh, "Emergency stop lifted",
		fmt.Sprintf("Stop %s (%s/%s) transitioned to %s by %s",
			stopID, record.Level, record.TargetID, status, by),
		map[string]string{"stop_id": stopID.String()})
	return nil
}

// CancelEmergencyStop transitions an active stop to cancelled.
func (s *Service) CancelEmergencyStop(ctx context.Context, stopID uuid.UUID, cancelledBy string) error {
	return s.resolve(ctx, stopID, model.StopStatusCancelled, cancelledBy)
}

// ResumeTrading transitions an active stop to manual_resume.
func (s *Service) ResumeTrading(ctx context.Context, stopID uuid.UUID, resumedBy string) error {
	return s.resolve(ctx, stopID, model.StopStatusManualResume, resumedBy)
}

// IsTradingStopped is the single gate consulted before any mutating
// order operation: true when a global stop is active or any active stop
// matches the supplied identifiers at its level. Empty identifiers never
// match.
func (s *Service) IsTradingStopped(userID, accountID, symbol, strategy string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.active {
		switch k.level {
		case model.StopLevelGlobal:
			return true
		case model.StopLevelUser:
			if userID != "" && k.target == userID {
				return true
			}
		case model.StopLevelAccount:
			if accountID != "" && k.target == accountID {
				return true
			}
		case model.StopLevelSymbol:
			if symbol != "" && k.target == symbol {
				return true
			}
		case model.StopLevelStrategy:
			if strategy != "" && k.target == strategy {
				return true
			}
		}
	}
	return false
}

// GetActiveStops snapshots the active records.
func (s *Service) GetActiveStops() []*model.StopRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.StopRecord, 0, len(s.active))
	for _, r := range s.active {
		c := *r
		out = append(out, &c)
	}
	return out
}

// GetStopHistory returns persisted stop records, newest first.
func (s *Service) GetStopHistory(ctx context.Context, limit int) ([]*model.StopRecord, error) {
	return s.store.ListStopRecords(ctx, limit)
}
