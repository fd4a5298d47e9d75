package orders

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coinpilot/tradecore/internal/core/emergency"
	"github.com/coinpilot/tradecore/internal/core/execution"
	"github.com/coinpilot/tradecore/internal/core/marketdata"
	"github.com/coinpilot/tradecore/internal/core/model"
	"github.com/coinpilot/tradecore/internal/core/notify"
	"github.com/coinpilot/tradecore/internal/core/position"
	"github.com/coinpilot/tradecore/internal/core/risk"
	"github.com/coinpilot/tradecore/internal/core/storage"
)

// stubExchange always fills at the requested (or a fixed) price.
type stubExchange struct {
	name string
	fail bool
}

func (s *stubExchange) Name() string                   { return s.name }
func (s *stubExchange) SupportsFutures() bool          { return true }
func (s *stubExchange) IsHealthy(context.Context) bool { return true }

func (s *stubExchange) PlaceOrder(_ context.Context, req *execution.PlaceOrderRequest) (*execution.PlaceOrderResponse, error) {
	if s.fail {
		return nil, assert.AnError
	}
	price := decimal.NewFromInt(100)
	if req.Price != nil {
		price = *req.Price
	}
	return &execution.PlaceOrderResponse{
		ExchangeOrderID: s.name + "-" + req.OrderID.String()[:8],
		FilledQuantity:  req.Quantity,
		AveragePrice:    price,
		Commission:      decimal.NewFromFloat(0.05),
	}, nil
}

// gatedExchange parks inside PlaceOrder until released, so a test can
// hold an execution in flight.
type gatedExchange struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedExchange) Name() string                   { return "slowex" }
func (g *gatedExchange) SupportsFutures() bool          { return true }
func (g *gatedExchange) IsHealthy(context.Context) bool { return true }

func (g *gatedExchange) PlaceOrder(_ context.Context, req *execution.PlaceOrderRequest) (*execution.PlaceOrderResponse, error) {
	close(g.entered)
	<-g.release
	return &execution.PlaceOrderResponse{
		ExchangeOrderID: "slowex-" + req.OrderID.String()[:8],
		FilledQuantity:  req.Quantity,
		AveragePrice:    decimal.NewFromInt(100),
	}, nil
}

type harness struct {
	manager *Manager
	store   *storage.MemoryStore
	stops   *emergency.Service
	venue   *stubExchange
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	feed := marketdata.NewStaticFeed()

	venue := &stubExchange{name: "testex"}
	engine := execution.NewEngine(execution.Config{
		MaxRetries: 2,
		Backoff:    execution.BackoffImmediate,
	}, log.Named("execution"), execution.NewMetrics(prometheus.NewRegistry()))
	engine.RegisterVenue(venue)

	stops := emergency.NewService(store, notify.NewLogNotifier(log), log.Named("emergency"), time.Hour, 0)
	manager := NewManager(
		store,
		risk.NewChecker(store, log.Named("risk")),
		engine,
		position.NewManager(store, feed, log.Named("position")),
		stops,
		log.Named("orders"),
	)
	return &harness{manager: manager, store: store, stops: stops, venue: venue}
}

func marketBuy(qty int64) CreateOrderParams {
	return CreateOrderParams{
		UserID:     "user-1",
		AccountID:  "acct-1",
		Symbol:     "BTCUSDT",
		MarketType: model.MarketSpot,
		Type:       model.OrderTypeMarket,
		Side:       model.OrderSideBuy,
		Quantity:   decimal.NewFromInt(qty),
	}
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := marketBuy(1)
	p.Symbol = ""
	_, err := h.manager.CreateOrder(ctx, p)
	assert.ErrorIs(t, err, model.ErrValidation)

	p = marketBuy(0)
	_, err = h.manager.CreateOrder(ctx, p)
	assert.ErrorIs(t, err, model.ErrValidation)

	p = marketBuy(1)
	p.Type = model.OrderTypeLimit
	_, err = h.manager.CreateOrder(ctx, p)
	assert.ErrorIs(t, err, model.ErrValidation, "limit order without price")

	p = marketBuy(1)
	p.Side = "sideways"
	_, err = h.manager.CreateOrder(ctx, p)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestExecuteOrderFillsAndUpdatesPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.manager.CreateOrder(ctx, marketBuy(2))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusNew, order.Status)

	var cbOrder *model.Order
	var cbResult *model.ExecutionResult
	h.manager.RegisterCallback(order.ID, func(o *model.Order, r *model.ExecutionResult) {
		cbOrder, cbResult = o, r
	})

	executed, err := h.manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, executed)

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, got.Status)
	assert.True(t, got.QuantityFilled.Equal(decimal.NewFromInt(2)))
	assert.True(t, got.QuantityRemain.IsZero())
	assert.True(t, got.QuantityFilled.Add(got.QuantityRemain).Equal(got.Quantity),
		"filled + remaining must equal original quantity")
	require.NotNil(t, got.ExchangeOrderID)

	pos, err := h.store.GetPosition(ctx, "acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, pos.AveragePrice.Equal(decimal.NewFromInt(100)))

	require.NotNil(t, cbOrder, "callback must fire on success")
	assert.True(t, cbResult.Success)
	assert.Equal(t, order.ID, cbOrder.ID)
}

func TestExecuteOrderDailyTradeLimitRejectsFourth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.SaveRiskConfig(ctx, &model.RiskConfig{
		UserID:         "user-1",
		AccountID:      "acct-1",
		MaxDailyTrades: 3,
	}))

	for i := 0; i < 3; i++ {
		order, err := h.manager.CreateOrder(ctx, marketBuy(1))
		require.NoError(t, err)
		executed, err := h.manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
		require.NoError(t, err)
		require.True(t, executed, "trade %d within the daily budget", i+1)
	}

	fourth, err := h.manager.CreateOrder(ctx, marketBuy(1))
	require.NoError(t, err)
	executed, err := h.manager.ExecuteOrder(ctx, fourth.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, executed)

	got, err := h.store.GetOrder(ctx, fourth.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRejected, got.Status)

	alerts := h.store.RiskAlerts()
	require.NotEmpty(t, alerts)
	assert.Equal(t, risk.AlertDailyTradeCount, alerts[len(alerts)-1].AlertType)
	assert.Equal(t, model.RiskLevelCritical, alerts[len(alerts)-1].RiskLevel)
}

func TestExecuteOrderRiskRejectionSkipsEngine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.SaveRiskConfig(ctx, &model.RiskConfig{
		UserID:       "user-1",
		AccountID:    "acct-1",
		MaxOrderSize: decimal.NewFromInt(5),
	}))

	order, err := h.manager.CreateOrder(ctx, marketBuy(10))
	require.NoError(t, err)

	var cbResult *model.ExecutionResult
	h.manager.RegisterCallback(order.ID, func(_ *model.Order, r *model.ExecutionResult) { cbResult = r })

	executed, err := h.manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, executed)

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRejected, got.Status)

	require.NotNil(t, cbResult, "callback fires on rejection too")
	assert.Equal(t, "RISK_REJECTED", cbResult.ErrorCode)

	_, err = h.store.GetPosition(ctx, "acct-1", "BTCUSDT")
	assert.ErrorIs(t, err, model.ErrNotFound, "no position without execution")
}

func TestExecuteOrderVenueFailureRejects(t *testing.T) {
	h := newHarness(t)
	h.venue.fail = true
	ctx := context.Background()

	order, err := h.manager.CreateOrder(ctx, marketBuy(1))
	require.NoError(t, err)

	executed, err := h.manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, executed)

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRejected, got.Status)
}

func TestExecuteOrderIgnoresNonExecutableStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.manager.CreateOrder(ctx, marketBuy(1))
	require.NoError(t, err)
	executed, err := h.manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, executed)

	// A filled order is terminal: re-execution is a no-op, not an error.
	executed, err = h.manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, executed)

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, got.Status)
	assert.True(t, got.QuantityFilled.Equal(decimal.NewFromInt(1)), "no double fill")
}

func TestEmergencyStopGatesEveryMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.manager.CreateOrder(ctx, marketBuy(1))
	require.NoError(t, err)

	_, err = h.stops.ExecuteEmergencyStop(ctx, emergency.StopRequest{
		Level:    model.StopLevelAccount,
		TargetID: "acct-1",
		Reason:   "halt",
	}, "ops", "")
	require.NoError(t, err)

	_, err = h.manager.CreateOrder(ctx, marketBuy(1))
	assert.ErrorIs(t, err, model.ErrEmergencyStop)

	_, err = h.manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, model.ErrEmergencyStop)

	err = h.manager.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, model.ErrEmergencyStop)

	// Another account is unaffected.
	p := marketBuy(1)
	p.AccountID = "acct-2"
	_, err = h.manager.CreateOrder(ctx, p)
	assert.NoError(t, err)
}

func TestExecuteOrderRejectsConcurrentExecution(t *testing.T) {
	log := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	venue := &gatedExchange{entered: make(chan struct{}), release: make(chan struct{})}
	engine := execution.NewEngine(execution.Config{
		Backoff: execution.BackoffImmediate,
	}, log.Named("execution"), execution.NewMetrics(prometheus.NewRegistry()))
	engine.RegisterVenue(venue)

	stops := emergency.NewService(store, notify.NewLogNotifier(log), log.Named("emergency"), time.Hour, 0)
	manager := NewManager(
		store,
		risk.NewChecker(store, log.Named("risk")),
		engine,
		position.NewManager(store, marketdata.NewStaticFeed(), log.Named("position")),
		stops,
		log.Named("orders"),
	)
	ctx := context.Background()

	order, err := manager.CreateOrder(ctx, marketBuy(1))
	require.NoError(t, err)

	done := make(chan error, 1)
	var executed bool
	go func() {
		var execErr error
		executed, execErr = manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
		done <- execErr
	}()

	// With the first execution parked at the venue, a second attempt on
	// the same order id must be refused outright.
	<-venue.entered
	_, err = manager.ExecuteOrder(ctx, order.ID, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, model.ErrConcurrentExecution)

	close(venue.release)
	require.NoError(t, <-done)
	assert.True(t, executed)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, got.Status)
	assert.True(t, got.QuantityFilled.Equal(decimal.NewFromInt(1)), "exactly one fill")
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.manager.CreateOrder(ctx, marketBuy(1))
	require.NoError(t, err)
	require.NoError(t, h.manager.CancelOrder(ctx, order.ID))

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)

	// Terminal orders cannot be cancelled again.
	assert.ErrorIs(t, h.manager.CancelOrder(ctx, order.ID), model.ErrValidation)
}
