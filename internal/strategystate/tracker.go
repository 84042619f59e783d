// Package strategystate implements the Strategy State Tracker and
// Cross-Strategy Filter (§4.5): per-underlying position/pending-order
// bookkeeping used for mutual-exclusion decisions across strategies.
package strategystate

import (
	"sync"

	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

// Tracker keeps positions: Map<underlying, StrategyStateEntry> and
// pendingOrders: Map<orderId, PendingOrderRef>.
type Tracker struct {
	mu            sync.RWMutex
	positions     map[string]domain.StrategyStateEntry
	pendingOrders map[string]domain.PendingOrderRef
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		positions:     make(map[string]domain.StrategyStateEntry),
		pendingOrders: make(map[string]domain.PendingOrderRef),
	}
}

// Restore seeds the tracker from persisted state (startup / reconciliation).
func (t *Tracker) Restore(positions map[string]domain.StrategyStateEntry, pending map[string]domain.PendingOrderRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if positions == nil {
		positions = make(map[string]domain.StrategyStateEntry)
	}
	if pending == nil {
		pending = make(map[string]domain.PendingOrderRef)
	}
	t.positions = positions
	t.pendingOrders = pending
}

// EntryOrderPlaced inserts a pending entry order ahead of fill.
func (t *Tracker) EntryOrderPlaced(ref domain.PendingOrderRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingOrders[ref.OrderID] = ref
}

// PendingEntryForUnderlying returns every pending entry order ref for the
// given underlying. Sibling cancellation on an entry fill is done by
// EntryFilled, not through this method.
func (t *Tracker) PendingEntryForUnderlying(underlying string) []domain.PendingOrderRef {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []domain.PendingOrderRef
	for _, ref := range t.pendingOrders {
		if underlyingOf(ref.Symbol) == underlying {
			out = append(out, ref)
		}
	}
	return out
}

// underlyingOf is a light local helper; the tracker only needs to compare
// underlyings it was already told about via PendingOrderRef.Symbol, so it
// does not depend on the contracts package to avoid a layering cycle. The
// orchestrator is responsible for populating PendingOrderRef with the
// logical underlying, not the concrete symbol, when precision matters.
func underlyingOf(symbol string) string {
	return symbol
}

// EntryFilled transitions a filled pending entry into an owned position
// state, removes the pending entry, and returns the sibling pending order
// refs (same underlying, other orders) that the caller must cancel.
func (t *Tracker) EntryFilled(orderID, underlying string, state domain.StrategyStateEntry) (siblings []domain.PendingOrderRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pendingOrders, orderID)
	t.positions[underlying] = state

	for oid, ref := range t.pendingOrders {
		if ref.Symbol == underlying || underlyingOf(ref.Symbol) == underlying {
			siblings = append(siblings, ref)
			delete(t.pendingOrders, oid)
		}
	}
	return siblings
}

// RemovePendingOrder removes a pending order ref without promoting it to a
// position (used on ORDER_REJECTED / ORDER_CANCELLED).
func (t *Tracker) RemovePendingOrder(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pendingOrders, orderID)
}

// PositionClosed removes the strategy-state entry and any residual pending
// orders for that underlying.
func (t *Tracker) PositionClosed(underlying string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, underlying)
	for oid, ref := range t.pendingOrders {
		if ref.Symbol == underlying {
			delete(t.pendingOrders, oid)
		}
	}
}

// SetPosition installs a strategy-state entry directly, used when full-sync
// reconciliation rebuilds a position with no corresponding local fill to
// drive it through EntryFilled.
func (t *Tracker) SetPosition(underlying string, entry domain.StrategyStateEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[underlying] = entry
}

// ClearPositions wipes every strategy-state position entry, used when a
// full broker sync begins and local ownership state must be rebuilt from
// ground truth rather than trusted.
func (t *Tracker) ClearPositions() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]domain.StrategyStateEntry)
}

// StateFor returns the current strategy-state entry for an underlying.
func (t *Tracker) StateFor(underlying string) (domain.StrategyStateEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.positions[underlying]
	return e, ok
}

// HasPendingEntry reports whether any pending entry order exists for underlying.
func (t *Tracker) HasPendingEntry(underlying string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ref := range t.pendingOrders {
		if ref.Symbol == underlying {
			return true
		}
	}
	return false
}

// Snapshot returns copies of both maps for persistence or HTTP exposure.
func (t *Tracker) Snapshot() (map[string]domain.StrategyStateEntry, map[string]domain.PendingOrderRef) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	positions := make(map[string]domain.StrategyStateEntry, len(t.positions))
	for k, v := range t.positions {
		positions[k] = v
	}
	pending := make(map[string]domain.PendingOrderRef, len(t.pendingOrders))
	for k, v := range t.pendingOrders {
		pending[k] = v
	}
	return positions, pending
}

// DropStalePositions removes any positions[underlying] entry that has no
// backing concrete Position, per the incremental-sync reconciliation rule
// in §4.10. hasPosition is supplied by the caller (the Position Aggregator
// is the source of truth for which underlyings have a live position).
func (t *Tracker) DropStalePositions(hasPosition func(underlying string) bool) (dropped []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for underlying := range t.positions {
		if !hasPosition(underlying) {
			delete(t.positions, underlying)
			dropped = append(dropped, underlying)
		}
	}
	return dropped
}

// DropOrphanedPending removes pending order refs not present in the
// broker's current working-order-id set (§4.10 incremental sync).
func (t *Tracker) DropOrphanedPending(workingOrderIDs map[string]struct{}) (dropped []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for oid := range t.pendingOrders {
		if _, ok := workingOrderIDs[oid]; !ok {
			delete(t.pendingOrders, oid)
			dropped = append(dropped, oid)
		}
	}
	return dropped
}
