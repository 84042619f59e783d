// Package domain provides shared type definitions for the trade orchestrator.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the canonical long/short direction of a signal or strategy state entry.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Action is the canonical buy/sell direction of a broker order, collapsed from
// whatever duck-typed form (Buy, B, 1, buy...) the broker event carried.
type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
)

// SignalAction is the requested operation a signal carries.
type SignalAction string

const (
	SignalActionPlaceMarket  SignalAction = "place_market"
	SignalActionPlaceLimit   SignalAction = "place_limit"
	SignalActionUpdateLimit  SignalAction = "update_limit"
	SignalActionCancelLimit  SignalAction = "cancel_limit"
	SignalActionModifyStop   SignalAction = "modify_stop"
	SignalActionPositionClosed SignalAction = "position_closed"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket    OrderType = "Market"
	OrderTypeLimit     OrderType = "Limit"
	OrderTypeStop      OrderType = "Stop"
	OrderTypeStopLimit OrderType = "StopLimit"
)

// OrderRole identifies an order's place in a bracket.
type OrderRole string

const (
	RoleEntry      OrderRole = "entry"
	RoleStopLoss   OrderRole = "stop_loss"
	RoleTakeProfit OrderRole = "take_profit"
)

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusWorking   OrderStatus = "Working"
	OrderStatusFilled    OrderStatus = "Filled"
	OrderStatusCancelled OrderStatus = "Cancelled"
	OrderStatusRejected  OrderStatus = "Rejected"
)

// PositionSide is the externally observable side of a position, derived from NetPos.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = "flat"
)

// Signal is a request to enter, modify, or exit a trade.
type Signal struct {
	SignalID   string       `json:"signalId"`
	Strategy   string       `json:"strategy"`
	Underlying string       `json:"underlying"`
	Symbol     string       `json:"symbol"`
	Side       Side         `json:"side"`
	Action     SignalAction `json:"action"`

	Price     decimal.Decimal `json:"price,omitempty"`
	StopLoss  decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit decimal.Decimal `json:"takeProfit,omitempty"`
	Quantity  decimal.Decimal `json:"quantity,omitempty"`

	TrailingTrigger  decimal.Decimal `json:"trailingTrigger,omitempty"`
	TrailingOffset   decimal.Decimal `json:"trailingOffset,omitempty"`
	BreakevenTrigger decimal.Decimal `json:"breakevenTrigger,omitempty"`
	BreakevenOffset  decimal.Decimal `json:"breakevenOffset,omitempty"`

	AccountID string `json:"accountId,omitempty"`
	Reason    string `json:"reason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Order is a broker-visible instruction.
type Order struct {
	OrderID    string `json:"orderId"`
	StrategyID string `json:"strategyId,omitempty"`
	SignalID   string `json:"signalId,omitempty"`
	Symbol     string `json:"symbol"`

	Action    Action    `json:"action"`
	Quantity  decimal.Decimal `json:"quantity"`
	OrderType OrderType `json:"orderType"`
	Price     decimal.Decimal `json:"price,omitempty"`
	StopPrice decimal.Decimal `json:"stopPrice,omitempty"`

	Role   OrderRole   `json:"role"`
	Status OrderStatus `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BreakevenConfig tracks the breakeven-stop lifecycle for a position.
type BreakevenConfig struct {
	Trigger           decimal.Decimal `json:"trigger"`
	Offset            decimal.Decimal `json:"offset"`
	Triggered         bool            `json:"triggered"`
	OriginalStopPrice decimal.Decimal `json:"originalStopPrice,omitempty"`
}

// Position is one logical position per concrete contract symbol.
type Position struct {
	Symbol     string          `json:"symbol"`
	Underlying string          `json:"underlying"`
	NetPos     int64           `json:"netPos"`
	EntryPrice decimal.Decimal `json:"entryPrice"`

	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnL"`

	StopLossOrderRef   string `json:"stopLossOrderRef,omitempty"`
	TakeProfitOrderRef string `json:"takeProfitOrderRef,omitempty"`
	SignalContextRef   string `json:"signalContextRef,omitempty"`

	Breakeven *BreakevenConfig `json:"breakevenConfig,omitempty"`

	ExternallySourced bool      `json:"externallySourced,omitempty"`
	OpenedAt          time.Time `json:"openedAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// SideOf derives the externally observable position side from NetPos.
func (p *Position) SideOf() PositionSide {
	switch {
	case p.NetPos > 0:
		return PositionSideLong
	case p.NetPos < 0:
		return PositionSideShort
	default:
		return PositionSideFlat
	}
}

// StrategyStateEntry is the authoritative "who owns this underlying" record.
type StrategyStateEntry struct {
	State  Side   `json:"state"`
	Source string `json:"source"`
}

// PendingOrderRef tracks a pending entry order for cross-strategy mutual exclusion.
type PendingOrderRef struct {
	OrderID   string          `json:"orderId"`
	Strategy  string          `json:"strategy"`
	Direction Side            `json:"direction"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SignalLifecycleEvent is an append-only record of something that happened to a signal.
type SignalLifecycleEvent string

const (
	LifecycleSignalReceived  SignalLifecycleEvent = "signal_received"
	LifecycleOrderLinked     SignalLifecycleEvent = "order_linked"
	LifecyclePositionCreated SignalLifecycleEvent = "position_created"
	LifecycleOrderRejected   SignalLifecycleEvent = "order_rejected"
	LifecycleSignalCompleted SignalLifecycleEvent = "signal_completed"
)

// SignalLifecycleEntry is one entry in a signal's append-only lifecycle log.
type SignalLifecycleEntry struct {
	Timestamp time.Time             `json:"timestamp"`
	Event     SignalLifecycleEvent  `json:"event"`
	Data      map[string]any        `json:"data,omitempty"`
}

// SignalContext is the durable context persisted per signal, restored across
// restarts and across a full broker reconciliation.
type SignalContext struct {
	SignalID   string           `json:"signalId"`
	Strategy   string           `json:"strategy"`
	Symbol     string           `json:"symbol"`
	Underlying string           `json:"underlying"`
	Side       Side             `json:"side"`
	StopLoss   decimal.Decimal  `json:"stopLoss,omitempty"`
	TakeProfit decimal.Decimal  `json:"takeProfit,omitempty"`
	Breakeven  *BreakevenConfig `json:"breakevenConfig,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}
