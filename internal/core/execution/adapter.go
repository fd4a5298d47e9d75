package execution

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/tradecore/internal/core/model"
)

// PlaceOrderRequest is the venue-neutral order instruction handed to an
// exchange client.
type PlaceOrderRequest struct {
	OrderID       uuid.UUID
	ClientOrderID string
	Symbol        string
	MarketType    model.MarketType
	Side          model.OrderSide
	Type          model.OrderType
	Price         *decimal.Decimal
	Quantity      decimal.Decimal
	Leverage      *int
}

// PlaceOrderResponse is a venue acknowledgement of a filled order.
type PlaceOrderResponse struct {
	ExchangeOrderID string
	FilledQuantity  decimal.Decimal
	AveragePrice    decimal.Decimal
	Commission      decimal.Decimal
	LatencyMs       int64
}

// ExchangeClient is implemented once per trading venue. The wire
// protocol behind PlaceOrder is out of scope here.
type ExchangeClient interface {
	Name() string
	PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error)
	IsHealthy(ctx context.Context) bool
	SupportsFutures() bool
}

// adapter pairs one exchange client with its circuit breaker.
type adapter struct {
	client  ExchangeClient
	breaker *CircuitBreaker
}
