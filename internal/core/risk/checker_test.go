package risk

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coinpilot/tradecore/internal/core/model"
	"github.com/coinpilot/tradecore/internal/core/storage"
)

func testChecker(t *testing.T) (*Checker, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewChecker(store, zaptest.NewLogger(t)), store
}

func baseConfig() *model.RiskConfig {
	return &model.RiskConfig{
		ID:              uuid.New(),
		UserID:          "user-1",
		AccountID:       "acct-1",
		MaxOrderSize:    decimal.NewFromInt(10),
		MaxPositionSize: decimal.NewFromInt(50),
		MaxDailyTrades:  3,
		MaxDailyVolume:  decimal.NewFromInt(1_000_000),
	}
}

func buyRequest(qty int64) *CheckRequest {
	return &CheckRequest{
		UserID:    "user-1",
		AccountID: "acct-1",
		Symbol:    "BTCUSDT",
		Side:      model.OrderSideBuy,
		Quantity:  decimal.NewFromInt(qty),
		OrderType: model.OrderTypeMarket,
	}
}

func TestMissingRiskConfigApprovesByDefault(t *testing.T) {
	c, _ := testChecker(t)
	res, err := c.CheckOrderRisk(context.Background(), buyRequest(1000))
	require.NoError(t, err)
	assert.True(t, res.IsApproved)
	assert.Equal(t, model.RiskLevelLow, res.RiskLevel)
}

func TestOrderSizeBoundary(t *testing.T) {
	c, store := testChecker(t)
	require.NoError(t, store.SaveRiskConfig(context.Background(), baseConfig()))

	// Exactly at the threshold is approved.
	res, err := c.CheckOrderRisk(context.Background(), buyRequest(10))
	require.NoError(t, err)
	assert.True(t, res.IsApproved)

	// One unit above is rejected critically.
	res, err = c.CheckOrderRisk(context.Background(), buyRequest(11))
	require.NoError(t, err)
	require.False(t, res.IsApproved)
	assert.Equal(t, model.RiskLevelCritical, res.RiskLevel)
	assert.Equal(t, AlertOrderSizeLimit, res.AlertType)
	assert.True(t, res.LimitValue.Equal(decimal.NewFromInt(10)))
}

func TestPositionSizeGrading(t *testing.T) {
	c, store := testChecker(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRiskConfig(ctx, baseConfig()))
	require.NoError(t, store.SavePosition(ctx, &model.Position{
		ID:        uuid.New(),
		AccountID: "acct-1",
		Symbol:    "BTCUSDT",
		Quantity:  decimal.NewFromInt(48),
		IsActive:  true,
	}))

	// 48 + 7 = 55 > 50, under 1.5x: medium rejection.
	res, err := c.CheckOrderRisk(ctx, buyRequest(7))
	require.NoError(t, err)
	require.False(t, res.IsApproved)
	assert.Equal(t, model.RiskLevelMedium, res.RiskLevel)
	assert.Equal(t, AlertPositionSizeLimit, res.AlertType)

	// 48 + 10 would also break the order-size cap, so use a wider config.
	cfg := baseConfig()
	cfg.MaxOrderSize = decimal.NewFromInt(100)
	require.NoError(t, store.SaveRiskConfig(ctx, cfg))

	// 48 + 30 = 78 >= 75 (1.5x of 50): high rejection.
	res, err = c.CheckOrderRisk(ctx, buyRequest(30))
	require.NoError(t, err)
	require.False(t, res.IsApproved)
	assert.Equal(t, model.RiskLevelHigh, res.RiskLevel)

	// Selling reduces the hypothetical position and passes.
	sell := buyRequest(7)
	sell.Side = model.OrderSideSell
	res, err = c.CheckOrderRisk(ctx, sell)
	require.NoError(t, err)
	assert.True(t, res.IsApproved)
}

func TestDailyTradeCountLimit(t *testing.T) {
	c, store := testChecker(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRiskConfig(ctx, baseConfig()))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordExecution(ctx, &model.ExecutionResult{
			ID:             uuid.New(),
			OrderID:        uuid.New(),
			AccountID:      "acct-1",
			Success:        true,
			FilledQuantity: decimal.NewFromInt(1),
			AveragePrice:   decimal.NewFromInt(100),
			CreatedAt:      time.Now().UTC(),
		}))
	}

	res, err := c.CheckOrderRisk(ctx, buyRequest(1))
	require.NoError(t, err)
	require.False(t, res.IsApproved)
	assert.Equal(t, model.RiskLevelCritical, res.RiskLevel)
	assert.Equal(t, AlertDailyTradeCount, res.AlertType)
}

func TestDailyVolumeSurfacesWarningWithApproval(t *testing.T) {
	c, store := testChecker(t)
	ctx := context.Background()
	cfg := baseConfig()
	cfg.MaxDailyTrades = 100
	cfg.MaxDailyVolume = decimal.NewFromInt(1000)
	require.NoError(t, store.SaveRiskConfig(ctx, cfg))

	require.NoError(t, store.RecordExecution(ctx, &model.ExecutionResult{
		ID:             uuid.New(),
		OrderID:        uuid.New(),
		AccountID:      "acct-1",
		Success:        true,
		FilledQuantity: decimal.NewFromInt(5),
		AveragePrice:   decimal.NewFromInt(300), // 1500 traded today
		CreatedAt:      time.Now().UTC(),
	}))

	res, err := c.CheckOrderRisk(ctx, buyRequest(1))
	require.NoError(t, err)
	assert.True(t, res.IsApproved, "volume breach warns, it does not block")
	assert.Equal(t, model.RiskLevelMedium, res.RiskLevel)
	assert.Equal(t, AlertDailyVolumeLimit, res.AlertType)
}

func TestTradingHoursWindow(t *testing.T) {
	c, store := testChecker(t)
	ctx := context.Background()
	cfg := baseConfig()
	cfg.TradingHoursStart = "09:00"
	cfg.TradingHoursEnd = "17:00"
	require.NoError(t, store.SaveRiskConfig(ctx, cfg))

	at := func(hour, minute int) func() time.Time {
		return func() time.Time {
			return time.Date(2025, 6, 2, hour, minute, 0, 0, time.UTC)
		}
	}

	c.now = at(12, 0)
	res, err := c.CheckOrderRisk(ctx, buyRequest(1))
	require.NoError(t, err)
	assert.True(t, res.IsApproved)

	c.now = at(20, 30)
	res, err = c.CheckOrderRisk(ctx, buyRequest(1))
	require.NoError(t, err)
	require.False(t, res.IsApproved)
	assert.Equal(t, AlertTradingHours, res.AlertType)
	assert.Equal(t, model.RiskLevelMedium, res.RiskLevel)
}

func TestTradingHoursCrossingMidnight(t *testing.T) {
	c, store := testChecker(t)
	ctx := context.Background()
	cfg := baseConfig()
	cfg.TradingHoursStart = "22:00"
	cfg.TradingHoursEnd = "06:00"
	require.NoError(t, store.SaveRiskConfig(ctx, cfg))

	cases := []struct {
		hour, minute int
		open         bool
	}{
		{23, 0, true},
		{2, 30, true},
		{6, 0, true},
		{12, 0, false},
		{21, 59, false},
	}
	for _, tc := range cases {
		c.now = func() time.Time {
			return time.Date(2025, 6, 2, tc.hour, tc.minute, 0, 0, time.UTC)
		}
		res, err := c.CheckOrderRisk(ctx, buyRequest(1))
		require.NoError(t, err)
		assert.Equal(t, tc.open, res.IsApproved, "at %02d:%02d", tc.hour, tc.minute)
	}
}

func TestCreateRiskAlertPersists(t *testing.T) {
	c, store := testChecker(t)
	res := &model.RiskCheckResult{
		IsApproved: false,
		RiskLevel:  model.RiskLevelCritical,
		AlertType:  AlertOrderSizeLimit,
		Message:    "order size 11 exceeds max 10",
	}
	require.NoError(t, c.CreateRiskAlert(context.Background(), "user-1", "acct-1", "BTCUSDT", res))

	alerts := store.RiskAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertOrderSizeLimit, alerts[0].AlertType)
	assert.Equal(t, model.RiskLevelCritical, alerts[0].RiskLevel)
	assert.Equal(t, "acct-1", alerts[0].AccountID)
}
