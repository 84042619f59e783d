// Package orders implements the Order Lifecycle Manager (§4.7): tracking
// working orders from placement through fill, rejection, or cancellation,
// and attributing each one back to the signal that caused it.
package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

// SignalAttributor resolves the signal id for a newly placed order when the
// placement message doesn't carry one directly, walking the fallback chain
// described in §4.7.
type SignalAttributor interface {
	// BySymbolAndTime matches among recently active signals by symbol + time
	// window + price tolerance (fallback 2).
	BySymbolAndTime(symbol string, placedAt time.Time, price decimal.Decimal) (string, bool)
	// ByStrategyGroup matches by walking up the parent strategy group
	// (fallback 3).
	ByStrategyGroup(strategyID string) (string, bool)
}

// Registry is the subset of the Signal Registry the manager needs.
type Registry interface {
	SignalForOrder(orderID string) (string, bool)
	LinkOrderToSignal(orderID, signalID string)
	AppendLifecycle(signalID string, event domain.SignalLifecycleEvent, data map[string]any)
}

// StrategyTracker is the subset of the Strategy State Tracker the manager needs.
type StrategyTracker interface {
	EntryOrderPlaced(ref domain.PendingOrderRef)
	RemovePendingOrder(orderID string)
}

// Manager tracks working orders and their role/signal attribution.
type Manager struct {
	working map[string]*domain.Order

	registry   Registry
	tracker    StrategyTracker
	attributor SignalAttributor
	table      *contracts.Table

	logger *zap.Logger
}

// New builds an Order Lifecycle Manager. table resolves a concrete order
// symbol to its logical underlying for the pending-entry ref the Strategy
// State Tracker keys on; it may be nil in tests that don't exercise that path.
func New(logger *zap.Logger, registry Registry, tracker StrategyTracker, attributor SignalAttributor, table *contracts.Table) *Manager {
	return &Manager{
		working:    make(map[string]*domain.Order),
		registry:   registry,
		tracker:    tracker,
		attributor: attributor,
		table:      table,
		logger:     logger.Named("order-manager"),
	}
}

// Placed handles ORDER_PLACED. signalIDHint is the signalId field on the
// message, if present; it takes priority over every fallback.
func (m *Manager) Placed(order domain.Order, signalIDHint string) string {
	m.working[order.OrderID] = &order

	signalID := signalIDHint
	if signalID == "" {
		if sid, ok := m.registry.SignalForOrder(order.OrderID); ok {
			signalID = sid
		}
	}
	if signalID == "" && m.attributor != nil {
		if sid, ok := m.attributor.BySymbolAndTime(order.Symbol, order.CreatedAt, order.Price); ok {
			signalID = sid
		}
	}
	if signalID == "" && m.attributor != nil {
		if sid, ok := m.attributor.ByStrategyGroup(order.StrategyID); ok {
			signalID = sid
		}
	}

	if signalID != "" {
		m.registry.LinkOrderToSignal(order.OrderID, signalID)
	} else {
		m.logger.Warn("order placed with no attributable signal",
			zap.String("orderId", order.OrderID), zap.String("symbol", order.Symbol))
	}

	if order.Role == domain.RoleEntry {
		underlying := order.Symbol
		if m.table != nil {
			if u, err := m.table.Underlying(order.Symbol); err == nil {
				underlying = u
			} else {
				m.logger.Warn("failed to derive underlying for pending entry, falling back to concrete symbol",
					zap.String("symbol", order.Symbol), zap.Error(err))
			}
		}
		m.tracker.EntryOrderPlaced(domain.PendingOrderRef{
			OrderID:   order.OrderID,
			Strategy:  order.StrategyID,
			Symbol:    underlying,
			Price:     order.Price,
			Quantity:  order.Quantity,
			CreatedAt: order.CreatedAt,
		})
	}

	return signalID
}

// FillOutcome is what the caller (the orchestrator) must do in response to
// a processed fill.
type FillOutcome struct {
	Order           domain.Order
	SignalID        string
	WasEntry        bool
	WasPendingEntry bool
}

// Filled handles ORDER_FILLED: removes the order from working set and
// reports what role it played so the caller can drive position update and
// sibling-cancel (§4.7, §4.6).
func (m *Manager) Filled(orderID string, fillAction any) (FillOutcome, error) {
	order, ok := m.working[orderID]
	if !ok {
		return FillOutcome{}, fmt.Errorf("orders: fill for unknown working order %s", orderID)
	}
	delete(m.working, orderID)

	order.Status = domain.OrderStatusFilled
	order.UpdatedAt = time.Now()

	signalID, _ := m.registry.SignalForOrder(orderID)

	wasPending := order.Role == domain.RoleEntry
	if wasPending {
		m.tracker.RemovePendingOrder(orderID)
	}

	if signalID != "" {
		m.registry.AppendLifecycle(signalID, domain.LifecyclePositionCreated, map[string]any{"orderId": orderID})
	}

	return FillOutcome{
		Order:           *order,
		SignalID:        signalID,
		WasEntry:        order.Role == domain.RoleEntry,
		WasPendingEntry: wasPending,
	}, nil
}

// RejectedOrCancelled handles ORDER_REJECTED / ORDER_CANCELLED: removes the
// working order and any pending-tracker entry, and appends an order_rejected
// lifecycle entry (cancelled=true for a cancellation) to the linked signal.
// The order's signal link in the registry is not removed.
func (m *Manager) RejectedOrCancelled(orderID string, rejected bool) {
	order, ok := m.working[orderID]
	if ok {
		delete(m.working, orderID)
		if rejected {
			order.Status = domain.OrderStatusRejected
		} else {
			order.Status = domain.OrderStatusCancelled
		}
	}
	m.tracker.RemovePendingOrder(orderID)

	if signalID, ok := m.registry.SignalForOrder(orderID); ok {
		event := domain.LifecycleOrderRejected
		m.registry.AppendLifecycle(signalID, event, map[string]any{"orderId": orderID, "cancelled": !rejected})
	}
}

// WorkingOrder returns the currently tracked working order, if any.
func (m *Manager) WorkingOrder(orderID string) (domain.Order, bool) {
	o, ok := m.working[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// WorkingOrderIDs returns every currently tracked working order id, used by
// the Reconciliation Engine's incremental sync (§4.10).
func (m *Manager) WorkingOrderIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(m.working))
	for id := range m.working {
		ids[id] = struct{}{}
	}
	return ids
}

// DropOrder removes a working order without touching the registry, used by
// the Reconciliation Engine when a broker-reported working-id set no
// longer includes a locally tracked order (fill or cancel was missed).
func (m *Manager) DropOrder(orderID string) {
	delete(m.working, orderID)
	m.tracker.RemovePendingOrder(orderID)
}

// AllWorking returns a copy of every tracked working order.
func (m *Manager) AllWorking() []domain.Order {
	out := make([]domain.Order, 0, len(m.working))
	for _, o := range m.working {
		out = append(out, *o)
	}
	return out
}

// ParseFillAction normalizes a duck-typed broker fill action into the
// canonical Action type: {Buy, B, 1} -> buy, {Sell, S, 2} -> sell. If the
// action is unrecognized it falls back to the signal's side; if that is
// also unavailable it defaults to buy and logs loudly (§4.7).
func ParseFillAction(raw any, signalSide domain.Side, logger *zap.Logger) domain.Action {
	switch v := raw.(type) {
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "BUY", "B":
			return domain.ActionBuy
		case "SELL", "S":
			return domain.ActionSell
		}
	case float64:
		if v == 1 {
			return domain.ActionBuy
		}
		if v == 2 {
			return domain.ActionSell
		}
	case int:
		if v == 1 {
			return domain.ActionBuy
		}
		if v == 2 {
			return domain.ActionSell
		}
	}

	if signalSide == domain.SideLong {
		return domain.ActionBuy
	}
	if signalSide == domain.SideShort {
		return domain.ActionSell
	}

	logger.Warn("fill action unrecognized and no signal side to fall back to, defaulting to buy",
		zap.Any("rawAction", raw))
	return domain.ActionBuy
}
