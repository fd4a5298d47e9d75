package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/tradecore/internal/core/model"
)

// MemoryStore is a mutex-guarded in-memory Store used by unit tests and
// local development. Values are copied on the way in and out so callers
// cannot alias internal state.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[uuid.UUID]*model.Order
	autoOrders  map[uuid.UUID]*model.AutoOrder
	positions   map[uuid.UUID]*model.Position
	riskConfigs map[string]*model.RiskConfig // userID|accountID
	riskAlerts  []*model.RiskAlert
	executions  []*model.ExecutionResult
	stops       map[uuid.UUID]*model.StopRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[uuid.UUID]*model.Order),
		autoOrders:  make(map[uuid.UUID]*model.AutoOrder),
		positions:   make(map[uuid.UUID]*model.Position),
		riskConfigs: make(map[string]*model.RiskConfig),
		stops:       make(map[uuid.UUID]*model.StopRecord),
	}
}

var _ Store = (*MemoryStore)(nil)

func riskConfigKey(userID, accountID string) string { return userID + "|" + accountID }

func copyOrder(o *model.Order) *model.Order {
	c := *o
	return &c
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = copyOrder(o)
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyOrder(o), nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return model.ErrNotFound
	}
	m.orders[o.ID] = copyOrder(o)
	return nil
}

func matchesOrder(o *model.Order, f OrderFilter) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.AccountID != "" && o.AccountID != f.AccountID {
		return false
	}
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.StrategyName != "" && o.StrategyName != f.StrategyName {
		return false
	}
	return true
}

func (m *MemoryStore) ListOpenOrders(_ context.Context, f OrderFilter) ([]*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Order
	for _, o := range m.orders {
		if !o.Status.IsTerminal() && matchesOrder(o, f) {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateAutoOrder(_ context.Context, a *model.AutoOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.autoOrders[a.ID] = &c
	return nil
}

func (m *MemoryStore) GetAutoOrder(_ context.Context, id uuid.UUID) (*model.AutoOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.autoOrders[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (m *MemoryStore) UpdateAutoOrder(_ context.Context, a *model.AutoOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.autoOrders[a.ID]; !ok {
		return model.ErrNotFound
	}
	c := *a
	m.autoOrders[a.ID] = &c
	return nil
}

func (m *MemoryStore) ListActiveAutoOrders(_ context.Context, f OrderFilter) ([]*model.AutoOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.AutoOrder
	for _, a := range m.autoOrders {
		if !a.IsActive {
			continue
		}
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.AccountID != "" && a.AccountID != f.AccountID {
			continue
		}
		if f.Symbol != "" && a.Symbol != f.Symbol {
			continue
		}
		if f.StrategyName != "" && a.StrategyName != f.StrategyName {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) GetPosition(_ context.Context, accountID, symbol string) (*model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.positions {
		if p.AccountID == accountID && p.Symbol == symbol {
			c := *p
			return &c, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *MemoryStore) GetPositionByID(_ context.Context, id uuid.UUID) (*model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *MemoryStore) SavePosition(_ context.Context, p *model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.positions[p.ID] = &c
	return nil
}

func (m *MemoryStore) ListActivePositions(_ context.Context, accountID string) ([]*model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Position
	for _, p := range m.positions {
		if p.IsActive && (accountID == "" || p.AccountID == accountID) {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetRiskConfig(_ context.Context, userID, accountID string) (*model.RiskConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.riskConfigs[riskConfigKey(userID, accountID)]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) SaveRiskConfig(_ context.Context, c *model.RiskConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.riskConfigs[riskConfigKey(c.UserID, c.AccountID)] = &cp
	return nil
}

func (m *MemoryStore) CreateRiskAlert(_ context.Context, a *model.RiskAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.riskAlerts = append(m.riskAlerts, &c)
	return nil
}

// RiskAlerts returns all recorded alerts, oldest first. Test helper.
func (m *MemoryStore) RiskAlerts() []*model.RiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.RiskAlert, len(m.riskAlerts))
	copy(out, m.riskAlerts)
	return out
}

func (m *MemoryStore) CountTradesSince(_ context.Context, accountID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.executions {
		if e.Success && e.AccountID == accountID && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SumTradedVolumeSince(_ context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, e := range m.executions {
		if e.Success && e.AccountID == accountID && !e.CreatedAt.Before(since) {
			sum = sum.Add(e.FilledQuantity.Mul(e.AveragePrice))
		}
	}
	return sum, nil
}

func (m *MemoryStore) RecordExecution(_ context.Context, r *model.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.executions = append(m.executions, &c)
	return nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, orderID uuid.UUID) ([]*model.ExecutionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ExecutionResult
	for _, e := range m.executions {
		if e.OrderID == orderID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateStopRecord(_ context.Context, s *model.StopRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.stops[s.ID] = &c
	return nil
}

func (m *MemoryStore) UpdateStopRecord(_ context.Context, s *model.StopRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stops[s.ID]; !ok {
		return model.ErrNotFound
	}
	c := *s
	m.stops[s.ID] = &c
	return nil
}

func (m *MemoryStore) ListActiveStopRecords(_ context.Context) ([]*model.StopRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.StopRecord
	for _, s := range m.stops {
		if s.Status == model.StopStatusActive {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListStopRecords(_ context.Context, limit int) ([]*model.StopRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.StopRecord, 0, len(m.stops))
	for _, s := range m.stops {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
