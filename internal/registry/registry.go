// Package registry implements the Signal Registry (§4.4): the canonical
// in-memory index of signal<->order<->position relationships, plus an
// append-only lifecycle log per signal.
package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

// Registry is the Signal Registry. All mutation methods are safe for
// concurrent use; callers still compose multi-step transitions (e.g. link
// order then append lifecycle) under the orchestrator's own serializing
// lock so the whole transition is one logical step (§5).
type Registry struct {
	mu sync.RWMutex

	signalToOrders   map[string]map[string]struct{}
	orderToSignal    map[string]string
	signalToPosition map[string]string

	lifecycles map[string][]domain.SignalLifecycleEntry

	logger *zap.Logger
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		signalToOrders:   make(map[string]map[string]struct{}),
		orderToSignal:    make(map[string]string),
		signalToPosition: make(map[string]string),
		lifecycles:       make(map[string][]domain.SignalLifecycleEntry),
		logger:           logger.Named("registry"),
	}
}

// canonicalID coerces an id to its canonical string form so that equality
// holds across serialization boundaries (§4.4 invariant).
func canonicalID(id string) string {
	return id
}

// RegisterSignal records a new signal and appends a signal_received
// lifecycle entry.
func (r *Registry) RegisterSignal(signalID string) {
	id := canonicalID(signalID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.signalToOrders[id]; !exists {
		r.signalToOrders[id] = make(map[string]struct{})
	}
	r.appendLifecycleLocked(id, domain.LifecycleSignalReceived, nil)
}

// LinkOrderToSignal links orderID to signalID in both directions.
func (r *Registry) LinkOrderToSignal(orderID, signalID string) {
	oid, sid := canonicalID(orderID), canonicalID(signalID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.signalToOrders[sid]; !exists {
		r.signalToOrders[sid] = make(map[string]struct{})
	}
	r.signalToOrders[sid][oid] = struct{}{}
	r.orderToSignal[oid] = sid

	r.appendLifecycleLocked(sid, domain.LifecycleOrderLinked, map[string]any{"orderId": oid})
}

// LinkPositionToSignal links a position symbol to a signal and appends a
// position_created lifecycle entry.
func (r *Registry) LinkPositionToSignal(signalID, positionSymbol string) {
	sid := canonicalID(signalID)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.signalToPosition[sid] = positionSymbol
	r.appendLifecycleLocked(sid, domain.LifecyclePositionCreated, map[string]any{"symbol": positionSymbol})
}

// SignalForOrder returns the signal id attributed to orderID, if any.
func (r *Registry) SignalForOrder(orderID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.orderToSignal[canonicalID(orderID)]
	return sid, ok
}

// OrdersForSignal returns the set of order ids linked to signalID.
func (r *Registry) OrdersForSignal(signalID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.signalToOrders[canonicalID(signalID)]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// PositionForSignal returns the position symbol linked to signalID, if any.
func (r *Registry) PositionForSignal(signalID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sym, ok := r.signalToPosition[canonicalID(signalID)]
	return sym, ok
}

// AppendLifecycle appends an event to signalID's lifecycle log.
func (r *Registry) AppendLifecycle(signalID string, event domain.SignalLifecycleEvent, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLifecycleLocked(canonicalID(signalID), event, data)
}

func (r *Registry) appendLifecycleLocked(signalID string, event domain.SignalLifecycleEvent, data map[string]any) {
	r.lifecycles[signalID] = append(r.lifecycles[signalID], domain.SignalLifecycleEntry{
		Timestamp: time.Now(),
		Event:     event,
		Data:      data,
	})
}

// Lifecycle returns the lifecycle log for signalID.
func (r *Registry) Lifecycle(signalID string) []domain.SignalLifecycleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.lifecycles[canonicalID(signalID)]
	out := make([]domain.SignalLifecycleEntry, len(entries))
	copy(out, entries)
	return out
}

// CleanupSignal appends signal_completed and removes the signal's active
// mappings, but retains the lifecycle log (subject to its own TTL, applied
// when the log is persisted).
func (r *Registry) CleanupSignal(signalID string) {
	sid := canonicalID(signalID)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.appendLifecycleLocked(sid, domain.LifecycleSignalCompleted, nil)

	for orderID := range r.signalToOrders[sid] {
		delete(r.orderToSignal, orderID)
	}
	delete(r.signalToOrders, sid)
	delete(r.signalToPosition, sid)
}

// Snapshot is a serializable view used to persist and restore registry state.
type Snapshot struct {
	SignalToOrders   map[string][]string
	OrderToSignal    map[string]string
	SignalToPosition map[string]string
	Lifecycles       map[string][]domain.SignalLifecycleEntry
}

// ExportSnapshot returns the registry's full state for persistence.
func (r *Registry) ExportSnapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		SignalToOrders:   make(map[string][]string, len(r.signalToOrders)),
		OrderToSignal:    make(map[string]string, len(r.orderToSignal)),
		SignalToPosition: make(map[string]string, len(r.signalToPosition)),
		Lifecycles:       make(map[string][]domain.SignalLifecycleEntry, len(r.lifecycles)),
	}
	for sid, orders := range r.signalToOrders {
		list := make([]string, 0, len(orders))
		for oid := range orders {
			list = append(list, oid)
		}
		s.SignalToOrders[sid] = list
	}
	for oid, sid := range r.orderToSignal {
		s.OrderToSignal[oid] = sid
	}
	for sid, sym := range r.signalToPosition {
		s.SignalToPosition[sid] = sym
	}
	for sid, entries := range r.lifecycles {
		out := make([]domain.SignalLifecycleEntry, len(entries))
		copy(out, entries)
		s.Lifecycles[sid] = out
	}
	return s
}

// RestoreSnapshot replaces the registry's state with a previously exported
// snapshot, used on startup after loading from the Persistent State Store.
func (r *Registry) RestoreSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.signalToOrders = make(map[string]map[string]struct{}, len(s.SignalToOrders))
	for sid, orders := range s.SignalToOrders {
		set := make(map[string]struct{}, len(orders))
		for _, oid := range orders {
			set[oid] = struct{}{}
		}
		r.signalToOrders[sid] = set
	}

	r.orderToSignal = make(map[string]string, len(s.OrderToSignal))
	for oid, sid := range s.OrderToSignal {
		r.orderToSignal[oid] = sid
	}

	r.signalToPosition = make(map[string]string, len(s.SignalToPosition))
	for sid, sym := range s.SignalToPosition {
		r.signalToPosition[sid] = sym
	}

	r.lifecycles = make(map[string][]domain.SignalLifecycleEntry, len(s.Lifecycles))
	for sid, entries := range s.Lifecycles {
		out := make([]domain.SignalLifecycleEntry, len(entries))
		copy(out, entries)
		r.lifecycles[sid] = out
	}
}

// CheckInvariants verifies the signalToOrders/orderToSignal inverse
// bijection invariant (§8), returning a descriptive error on the first
// violation found. Called from the registry tests; /health does not run it.
func (r *Registry) CheckInvariants() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for oid, sid := range r.orderToSignal {
		orders, ok := r.signalToOrders[sid]
		if !ok {
			return fmt.Errorf("registry: orderToSignal[%s]=%s but signalToOrders[%s] missing", oid, sid, sid)
		}
		if _, ok := orders[oid]; !ok {
			return fmt.Errorf("registry: orderToSignal[%s]=%s but %s not in signalToOrders[%s]", oid, sid, oid, sid)
		}
	}
	return nil
}
