// Package reconcile implements the Reconciliation Engine (§4.10): keeping
// local state consistent with broker ground truth via incremental syncs
// (working-order-id snapshots) and full syncs (position/order rebuilds).
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/metrics"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

// Config controls reconciliation tolerances, kept as configuration per the
// explicit decision recorded for this spec's match-tolerance open question.
type Config struct {
	PriceTolerancePoints  float64
	TimeToleranceSeconds  int
	BracketTolerancePoints float64
	SyncTimeout           time.Duration
}

func (c Config) withDefaults() Config {
	if c.PriceTolerancePoints <= 0 {
		c.PriceTolerancePoints = 10
	}
	if c.TimeToleranceSeconds <= 0 {
		c.TimeToleranceSeconds = 300
	}
	if c.BracketTolerancePoints <= 0 {
		c.BracketTolerancePoints = 1
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 10 * time.Second
	}
	return c
}

// OrderDropper is the subset of the Order Lifecycle Manager the engine needs.
type OrderDropper interface {
	WorkingOrderIDs() map[string]struct{}
	DropOrder(orderID string)
}

// PositionChecker is the subset of the Position Aggregator the engine needs.
type PositionChecker interface {
	HasPositionForUnderlying(underlying string) bool
}

// StateTracker is the subset of the Strategy State Tracker the engine needs.
type StateTracker interface {
	DropStalePositions(hasPosition func(underlying string) bool) []string
	DropOrphanedPending(workingOrderIDs map[string]struct{}) []string
}

// StashedContext is a signal context pulled out of the active map while a
// full sync is in progress, waiting to be matched back to a rebuilt position.
type StashedContext struct {
	Context domain.SignalContext
}

// RebuiltPosition is one broker-reported ground-truth position or working
// order arriving during a full sync.
type RebuiltPosition struct {
	Symbol      string
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	TakeProfit  decimal.Decimal
	ObservedAt  time.Time
}

// Engine runs both reconciliation modes. It is the only component allowed
// to mutate the signal-context map during a full sync.
type Engine struct {
	mu sync.Mutex

	cfg Config

	orders     OrderDropper
	positions  PositionChecker
	tracker    StateTracker
	logger     *zap.Logger

	inFullSync bool
	stash      map[string]StashedContext // keyed by symbol
	active     map[string]domain.SignalContext

	lastCompletedAt time.Time
	degraded        bool
}

// New builds a Reconciliation Engine.
func New(logger *zap.Logger, cfg Config, orders OrderDropper, positions PositionChecker, tracker StateTracker) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		orders:    orders,
		positions: positions,
		tracker:   tracker,
		logger:    logger.Named("reconcile"),
		stash:     make(map[string]StashedContext),
		active:    make(map[string]domain.SignalContext),
	}
}

// SeedActive seeds the active signal-context map from persisted state on
// startup, before any full sync has run.
func (e *Engine) SeedActive(active map[string]domain.SignalContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if active == nil {
		active = make(map[string]domain.SignalContext)
	}
	e.active = active
}

// InFullSync reports whether a full sync is currently in progress, used by
// the orchestrator to decide whether an inbound POSITION_UPDATE is a
// rebuild candidate or an ordinary price/quantity snapshot.
func (e *Engine) InFullSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFullSync
}

// AddActive adds a single signal context to the active map, used when a
// new signal is accepted outside of a full sync.
func (e *Engine) AddActive(ctx domain.SignalContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[ctx.SignalID] = ctx
}

// ActiveContext looks up one active signal context by signal id.
func (e *Engine) ActiveContext(signalID string) (domain.SignalContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, ok := e.active[signalID]
	return ctx, ok
}

// LastCompletedAt reports when the last incremental or full sync finished,
// used by Admission's freshness check (§4.6).
func (e *Engine) LastCompletedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCompletedAt
}

// Degraded reports whether the last full sync timed out and proceeded on
// local state alone, surfaced on /health and via a metric.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// IncrementalSync reconciles against a broker-reported set of currently
// working order ids.
func (e *Engine) IncrementalSync(workingOrderIDs map[string]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id := range e.orders.WorkingOrderIDs() {
		if _, ok := workingOrderIDs[id]; !ok {
			e.logger.Info("incremental sync: dropping untracked working order (missed fill or cancel)",
				zap.String("orderId", id))
			e.orders.DropOrder(id)
		}
	}

	dropped := e.tracker.DropStalePositions(e.positions.HasPositionForUnderlying)
	for _, u := range dropped {
		e.logger.Info("incremental sync: dropped stale strategy-state entry", zap.String("underlying", u))
	}

	orphaned := e.tracker.DropOrphanedPending(workingOrderIDs)
	for _, oid := range orphaned {
		e.logger.Info("incremental sync: dropped orphaned pending order", zap.String("orderId", oid))
	}

	e.lastCompletedAt = time.Now()
}

// BeginFullSync stashes the current active signal contexts and clears them,
// per step 1 of §4.10's full-sync procedure. Active positions/working
// orders are expected to be cleared by the caller's own components.
func (e *Engine) BeginFullSync() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inFullSync = true
	e.stash = make(map[string]StashedContext, len(e.active))
	for _, ctx := range e.active {
		e.stash[ctx.Symbol] = StashedContext{Context: ctx}
	}
	e.active = make(map[string]domain.SignalContext)
}

// MatchRebuiltPosition attempts to match a broker-rebuilt position back to
// a stashed signal context by symbol+price proximity or symbol+time
// proximity, per step 3 of §4.10. On match it promotes the stash entry back
// to active and returns the matched context; strategy/breakeven defaults
// are the caller's responsibility to fill in when the context lacks them.
func (e *Engine) MatchRebuiltPosition(pos RebuiltPosition) (domain.SignalContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stashed, ok := e.stash[pos.Symbol]
	if !ok {
		return domain.SignalContext{}, false
	}

	ctx := stashed.Context
	priceMatch := decimalAbs(ctx.StopLoss.Sub(pos.StopPrice)).LessThanOrEqual(
		decimal.NewFromFloat(e.cfg.BracketTolerancePoints))
	takeProfitMatch := decimalAbs(ctx.TakeProfit.Sub(pos.TakeProfit)).LessThanOrEqual(
		decimal.NewFromFloat(e.cfg.BracketTolerancePoints))

	priceProximity := priceWithinTolerance(ctx, pos, e.cfg.PriceTolerancePoints)
	timeProximity := timeWithinTolerance(ctx, pos, e.cfg.TimeToleranceSeconds)

	if !priceProximity && !timeProximity {
		return domain.SignalContext{}, false
	}

	delete(e.stash, pos.Symbol)
	e.active[ctx.SignalID] = ctx

	if !priceMatch || !takeProfitMatch {
		e.logger.Info("full sync: matched position but bracket prices diverge from stashed context",
			zap.String("symbol", pos.Symbol))
	}

	return ctx, true
}

func priceWithinTolerance(ctx domain.SignalContext, pos RebuiltPosition, tolerance float64) bool {
	if ctx.Symbol != pos.Symbol {
		return false
	}
	return decimalAbs(ctx.StopLoss.Sub(pos.Price)).LessThanOrEqual(decimal.NewFromFloat(tolerance)) ||
		decimalAbs(ctx.TakeProfit.Sub(pos.Price)).LessThanOrEqual(decimal.NewFromFloat(tolerance))
}

func timeWithinTolerance(ctx domain.SignalContext, pos RebuiltPosition, toleranceSeconds int) bool {
	if ctx.Symbol != pos.Symbol {
		return false
	}
	delta := pos.ObservedAt.Sub(ctx.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= time.Duration(toleranceSeconds)*time.Second
}

func decimalAbs(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}

// CompleteFullSync discards remaining stash entries as orphaned (step 4)
// and exits full-sync mode.
func (e *Engine) CompleteFullSync() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for symbol := range e.stash {
		e.logger.Info("full sync: discarding orphaned stashed signal context", zap.String("symbol", symbol))
	}
	e.stash = make(map[string]StashedContext)
	e.inFullSync = false
	e.degraded = false
	metrics.ReconciliationDegraded.Set(0)
	e.lastCompletedAt = time.Now()
}

// WaitForFullSync blocks until ctx (bounded to cfg.SyncTimeout by the
// caller) is done or completion is signalled externally via
// CompleteFullSync; on timeout it marks the engine degraded and proceeds
// with local state (§5).
func (e *Engine) WaitForFullSync(ctx context.Context, completed <-chan struct{}) {
	select {
	case <-completed:
		return
	case <-ctx.Done():
		e.mu.Lock()
		e.degraded = true
		e.inFullSync = false
		e.mu.Unlock()
		metrics.ReconciliationDegraded.Set(1)
		e.logger.Warn("full sync timed out, proceeding with local state and marking degraded")
	}
}

// ActiveContexts returns a copy of the currently active signal-context map.
func (e *Engine) ActiveContexts() map[string]domain.SignalContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]domain.SignalContext, len(e.active))
	for k, v := range e.active {
		out[k] = v
	}
	return out
}
