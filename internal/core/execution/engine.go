// Package execution places orders against exchange venues with retry,
// backoff, circuit breaking and venue failover. One Engine instance
// serves the whole process; its semaphore bounds in-flight exchange
// calls globally.
package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/tradecore/internal/core/model"
)

// BackoffStrategy selects the wait computation between retry rounds.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffImmediate   BackoffStrategy = "immediate"
)

// Error codes carried on failed ExecutionResults.
const (
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeExchange        = "EXCHANGE_ERROR"
	ErrCodeNoVenue         = "NO_VENUE_AVAILABLE"
	ErrCodeAllBreakersOpen = "ALL_CIRCUITS_OPEN"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	MaxRetries       int             `mapstructure:"max_retries"`
	Backoff          BackoffStrategy `mapstructure:"backoff"`
	BackoffBase      time.Duration   `mapstructure:"backoff_base"`
	BackoffCap       time.Duration   `mapstructure:"backoff_cap"`
	AttemptTimeout   time.Duration   `mapstructure:"attempt_timeout"`
	ConcurrencyLimit int             `mapstructure:"concurrency_limit"`
	FailureThreshold int             `mapstructure:"failure_threshold"`
	RecoveryInterval time.Duration   `mapstructure:"recovery_interval"`
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff == "" {
		c.Backoff = BackoffExponential
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = 32
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 30 * time.Second
	}
	return c
}

// Request is one order to execute.
type Request struct {
	OrderID        uuid.UUID
	ClientOrderID  string
	AccountID      string
	Symbol         string
	MarketType     model.MarketType
	Side           model.OrderSide
	Type           model.OrderType
	Price          *decimal.Decimal
	Quantity       decimal.Decimal
	Leverage       *int
	Priority       int
	PreferredVenue string
}

// Engine executes orders against registered venues.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics

	mu        sync.RWMutex
	adapters  map[string]*adapter
	names     []string // registration order, used for deterministic selection
	cancelled map[uuid.UUID]struct{}

	sem chan struct{}
	rr  atomic.Uint64
}

// NewEngine builds an engine with no venues registered.
func NewEngine(cfg Config, logger *zap.Logger, metrics *Metrics) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		adapters:  make(map[string]*adapter),
		cancelled: make(map[uuid.UUID]struct{}),
		sem:       make(chan struct{}, cfg.ConcurrencyLimit),
	}
}

// RegisterVenue adds an exchange client behind a fresh circuit breaker.
// Registering the same name twice replaces the client but keeps breaker
// history.
func (e *Engine) RegisterVenue(client ExchangeClient) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := client.Name()
	if existing, ok := e.adapters[name]; ok {
		existing.client = client
		return
	}
	e.adapters[name] = &adapter{
		client:  client,
		breaker: NewCircuitBreaker(e.cfg.FailureThreshold, e.cfg.RecoveryInterval),
	}
	e.names = append(e.names, name)
}

// VenueBreaker exposes the breaker for a venue, mainly for health
// endpoints and tests.
func (e *Engine) VenueBreaker(name string) *CircuitBreaker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if a, ok := e.adapters[name]; ok {
		return a.breaker
	}
	return nil
}

// Cancel flags orderID for cancellation. The flag is observed
// cooperatively at retry-round boundaries and cleared when Execute
// returns: an execution in flight resolves to a terminal failed result
// with error code CANCELLED, and a cancel recorded before Execute
// begins makes the order's next Execute resolve the same way. The flag
// never outlives one Execute call.
func (e *Engine) Cancel(orderID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[orderID] = struct{}{}
}

func (e *Engine) isCancelled(orderID uuid.UUID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.cancelled[orderID]
	return ok
}

func (e *Engine) clearCancel(orderID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancelled, orderID)
}

// venuePlan returns the ordered venue list for a request: preferred
// venue first, then primary selection (deterministic for futures,
// round-robin for spot), with unhealthy venues sorted to the back.
func (e *Engine) venuePlan(ctx context.Context, req *Request) []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.names))
	for _, n := range e.names {
		if req.MarketType == model.MarketFutures && !e.adapters[n].client.SupportsFutures() {
			continue
		}
		names = append(names, n)
	}
	e.mu.RUnlock()
	if len(names) == 0 {
		return nil
	}

	if req.MarketType != model.MarketFutures {
		// Load-balance spot across venues.
		offset := int(e.rr.Add(1)-1) % len(names)
		rotated := make([]string, 0, len(names))
		rotated = append(rotated, names[offset:]...)
		rotated = append(rotated, names[:offset]...)
		names = rotated
	}

	// Unhealthy venues go last, preserving relative order. Health is
	// snapshotted once so the comparator stays consistent.
	e.mu.RLock()
	healthy := make(map[string]bool, len(names))
	for _, n := range names {
		healthy[n] = e.adapters[n].client.IsHealthy(ctx)
	}
	e.mu.RUnlock()
	sort.SliceStable(names, func(i, j int) bool {
		return healthy[names[i]] && !healthy[names[j]]
	})

	if req.PreferredVenue != "" {
		for i, n := range names {
			if n == req.PreferredVenue {
				names = append([]string{n}, append(append([]string{}, names[:i]...), names[i+1:]...)...)
				break
			}
		}
	}
	return names
}

func (e *Engine) backoffDelay(round int) time.Duration {
	var d time.Duration
	switch e.cfg.Backoff {
	case BackoffImmediate:
		return 0
	case BackoffFixed:
		d = e.cfg.BackoffBase
	case BackoffLinear:
		d = time.Duration(round) * e.cfg.BackoffBase
	default: // exponential: base * 2^(n-1)
		d = e.cfg.BackoffBase << (round - 1)
	}
	if d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	return d
}

func failedResult(req *Request, code, msg string, retries int, attempted []string, started time.Time) *model.ExecutionResult {
	return &model.ExecutionResult{
		ID:                 uuid.New(),
		OrderID:            req.OrderID,
		AccountID:          req.AccountID,
		Symbol:             req.Symbol,
		Success:            false,
		RetryCount:         retries,
		ExchangesAttempted: attempted,
		ErrorCode:          code,
		ErrorMessage:       msg,
		LatencyMs:          time.Since(started).Milliseconds(),
		CreatedAt:          time.Now().UTC(),
	}
}

// Execute runs one order through the retry/failover algorithm and always
// returns a terminal ExecutionResult. The global semaphore is held for
// the duration of the call.
func (e *Engine) Execute(ctx context.Context, req *Request) *model.ExecutionResult {
	started := time.Now()
	defer e.clearCancel(req.OrderID)

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		res := failedResult(req, ErrCodeCancelled, ctx.Err().Error(), 0, nil, started)
		e.metrics.ExecutionsTotal.WithLabelValues("cancelled").Inc()
		return res
	}

	venues := e.venuePlan(ctx, req)
	if len(venues) == 0 {
		e.metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
		return failedResult(req, ErrCodeNoVenue,
			fmt.Sprintf("no venue can serve %s %s order", req.MarketType, req.Symbol), 0, nil, started)
	}

	placeReq := &PlaceOrderRequest{
		OrderID:       req.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		MarketType:    req.MarketType,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Leverage:      req.Leverage,
	}

	var attempted []string
	var lastErr error
	anyAttempted := false

	for round := 1; round <= e.cfg.MaxRetries; round++ {
		if e.isCancelled(req.OrderID) || ctx.Err() != nil {
			e.metrics.ExecutionsTotal.WithLabelValues("cancelled").Inc()
			return failedResult(req, ErrCodeCancelled, "execution cancelled", round-1, attempted, started)
		}
		if round > 1 {
			e.metrics.RetriesTotal.Inc()
		}

		for _, name := range venues {
			e.mu.RLock()
			ad := e.adapters[name]
			e.mu.RUnlock()
			if !ad.breaker.AllowExecution() {
				e.metrics.VenueAttempts.WithLabelValues(name, "skipped").Inc()
				e.logger.Debug("venue skipped, circuit open",
					zap.String("venue", name), zap.String("order_id", req.OrderID.String()))
				continue
			}
			anyAttempted = true
			attempted = append(attempted, name)

			attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
			resp, err := ad.client.PlaceOrder(attemptCtx, placeReq)
			cancel()

			if err != nil {
				ad.breaker.RecordFailure()
				e.metrics.VenueAttempts.WithLabelValues(name, "failure").Inc()
				lastErr = fmt.Errorf("%w: %s: %v", model.ErrExchange, name, err)
				e.logger.Warn("venue placement failed",
					zap.String("venue", name),
					zap.String("order_id", req.OrderID.String()),
					zap.Int("round", round),
					zap.Error(err))
				continue
			}

			ad.breaker.RecordSuccess()
			e.metrics.VenueAttempts.WithLabelValues(name, "success").Inc()
			e.metrics.ExecutionsTotal.WithLabelValues("success").Inc()
			e.metrics.Latency.Observe(time.Since(started).Seconds())
			latency := resp.LatencyMs
			if latency == 0 {
				latency = time.Since(started).Milliseconds()
			}
			return &model.ExecutionResult{
				ID:                 uuid.New(),
				OrderID:            req.OrderID,
				AccountID:          req.AccountID,
				Symbol:             req.Symbol,
				Success:            true,
				ExchangeOrderID:    resp.ExchangeOrderID,
				FilledQuantity:     resp.FilledQuantity,
				AveragePrice:       resp.AveragePrice,
				Commission:         resp.Commission,
				LatencyMs:          latency,
				RetryCount:         round - 1,
				ExchangeUsed:       name,
				ExchangesAttempted: attempted,
				CreatedAt:          time.Now().UTC(),
			}
		}

		if round < e.cfg.MaxRetries {
			delay := e.backoffDelay(round)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
				}
			}
		}
	}

	e.metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
	e.metrics.Latency.Observe(time.Since(started).Seconds())

	if !anyAttempted {
		return failedResult(req, ErrCodeAllBreakersOpen,
			model.ErrCircuitOpen.Error(), e.cfg.MaxRetries, attempted, started)
	}
	msg := "all retries exhausted"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return failedResult(req, ErrCodeExchange, msg, e.cfg.MaxRetries, attempted, started)
}

// ExecuteBatch runs many requests under the engine's global concurrency
// bound, dispatching in descending priority order so high-priority
// orders acquire the semaphore first. Results align with the dispatch
// order.
func (e *Engine) ExecuteBatch(ctx context.Context, reqs []*Request) []*model.ExecutionResult {
	ordered := make([]*Request, len(reqs))
	copy(ordered, reqs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	results := make([]*model.ExecutionResult, len(ordered))
	var wg sync.WaitGroup
	for i, req := range ordered {
		wg.Add(1)
		go func(i int, req *Request) {
			defer wg.Done()
			results[i] = e.Execute(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}
