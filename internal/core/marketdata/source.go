// Package marketdata defines the price lookup boundary consumed by the
// risk checker and position manager. The aggregation pipeline behind it
// is a separate system; the core only needs current price, recent
// history and traded volume.
package marketdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no price is known for a symbol.
var ErrPriceUnavailable = fmt.Errorf("price unavailable")

// PriceSource supplies current and historical prices for a symbol.
type PriceSource interface {
	// GetCurrentPrice returns the latest known price for symbol as seen
	// by accountID's venue routing.
	GetCurrentPrice(ctx context.Context, symbol, accountID string) (decimal.Decimal, error)
	// GetPriceHistory returns up to days daily closing prices, oldest
	// first. Fewer points than requested is not an error.
	GetPriceHistory(ctx context.Context, symbol string, days int) ([]decimal.Decimal, error)
	// GetRecentVolume returns the traded volume over the most recent
	// window, used for liquidity scoring.
	GetRecentVolume(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticFeed is an in-memory PriceSource for tests and development.
type StaticFeed struct {
	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	history map[string][]decimal.Decimal
	volumes map[string]decimal.Decimal
}

// NewStaticFeed returns an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{
		prices:  make(map[string]decimal.Decimal),
		history: make(map[string][]decimal.Decimal),
		volumes: make(map[string]decimal.Decimal),
	}
}

var _ PriceSource = (*StaticFeed)(nil)

// SetPrice sets the current price for symbol.
func (f *StaticFeed) SetPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

// SetHistory replaces the price history for symbol, oldest first.
func (f *StaticFeed) SetHistory(symbol string, prices []decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[symbol] = append([]decimal.Decimal(nil), prices...)
}

// SetVolume sets the recent traded volume for symbol.
func (f *StaticFeed) SetVolume(symbol string, v decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[symbol] = v
}

func (f *StaticFeed) GetCurrentPrice(_ context.Context, symbol, _ string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return p, nil
}

func (f *StaticFeed) GetPriceHistory(_ context.Context, symbol string, days int) ([]decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h := f.history[symbol]
	if days > 0 && len(h) > days {
		h = h[len(h)-days:]
	}
	return append([]decimal.Decimal(nil), h...), nil
}

func (f *StaticFeed) GetRecentVolume(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.volumes[symbol], nil
}
