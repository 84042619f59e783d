// Package orchestrator wires the Signal Registry, Strategy State Tracker,
// Order Lifecycle Manager, Position Aggregator, Breakeven/Exit Controller
// and Reconciliation Engine into the single serialized event loop described
// in §5: one goroutine per bus channel feeding a shared internal queue that
// the orchestrator drains one event at a time.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/admission"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/breakeven"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/bus"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/metrics"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/orders"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/positions"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/reconcile"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/registry"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/sizing"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/store"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/strategystate"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

// Channel names (§6).
const (
	ChanWebhookReceived    = "WEBHOOK_RECEIVED"
	ChanTradeSignal        = "TRADE_SIGNAL"
	ChanOrderPlaced        = "ORDER_PLACED"
	ChanOrderFilled        = "ORDER_FILLED"
	ChanOrderRejected      = "ORDER_REJECTED"
	ChanOrderCancelled     = "ORDER_CANCELLED"
	ChanPositionUpdate     = "POSITION_UPDATE"
	ChanPositionClosed     = "POSITION_CLOSED"
	ChanPriceUpdate        = "PRICE_UPDATE"
	ChanFullSyncStarted    = "TRADOVATE_FULL_SYNC_STARTED"
	ChanSyncCompleted      = "TRADOVATE_SYNC_COMPLETED"
	ChanTradeValidated     = "TRADE_VALIDATED"
	ChanTradeRejected      = "TRADE_REJECTED"
	ChanOrderRequest       = "ORDER_REQUEST"
	ChanOrderCancelRequest = "ORDER_CANCEL_REQUEST"
	ChanServiceStarted     = "SERVICE_STARTED"
	ChanServiceStopped     = "SERVICE_STOPPED"
)

// Config carries the runtime knobs the orchestrator itself needs; the rest
// live on the components it wires (admission rules, sizing, reconcile
// tolerances).
type Config struct {
	Namespace       string
	TradingEnabled  bool
	AdmissionRules  admission.Rules
	ReconcileConfig reconcile.Config
}

// Orchestrator is the central integration point (§5). All mutations to the
// registry, tracker, order manager, and position aggregator happen inside
// run(), which drains a single internal event queue — the "single logical
// orchestrator task" the concurrency model calls out as the simplest
// correct design.
type Orchestrator struct {
	logger *zap.Logger
	cfg    Config

	bus       bus.Bus
	store     *store.Store
	table     *contracts.Table
	resolver  *sizing.Resolver
	registry  *registry.Registry
	tracker   *strategystate.Tracker
	orderMgr  *orders.Manager
	posAgg    *positions.Aggregator
	beCtrl    *breakeven.Controller
	reconcile *reconcile.Engine
	validator *admission.Validator

	mu             sync.RWMutex
	tradingEnabled bool
	dailyPnL       decimal.Decimal

	events chan inboundEvent

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type inboundEvent struct {
	channel string
	payload []byte
}

// New builds an Orchestrator and wires every component's cross-dependency.
func New(logger *zap.Logger, cfg Config, b bus.Bus, st *store.Store, table *contracts.Table, resolver *sizing.Resolver) *Orchestrator {
	log := logger.Named("orchestrator")

	reg := registry.New(log)
	tracker := strategystate.New()
	posAgg := positions.New(log, table)

	om := orders.New(log, reg, tracker, nil, table)

	rc := reconcile.New(log, cfg.ReconcileConfig, om, posAgg, tracker)

	o := &Orchestrator{
		logger:         log,
		cfg:            cfg,
		bus:            b,
		store:          st,
		table:          table,
		resolver:       resolver,
		registry:       reg,
		tracker:        tracker,
		orderMgr:       om,
		posAgg:         posAgg,
		reconcile:      rc,
		tradingEnabled: cfg.TradingEnabled,
		events:         make(chan inboundEvent, 4096),
		stopCh:         make(chan struct{}),
	}

	o.beCtrl = breakeven.New(log, table, posAgg, o)
	o.validator = o.newValidator(cfg.TradingEnabled)

	return o
}

func (o *Orchestrator) newValidator(tradingEnabled bool) *admission.Validator {
	rules := o.cfg.AdmissionRules
	rules.TradingEnabled = tradingEnabled
	return admission.New(o.logger, admission.Dependencies{
		Rules:            rules,
		DailyRealizedPnL: o.DailyPnL,
		LastReconcileAt:  o.reconcile.LastCompletedAt,
		TriggerResync:    func() error { return nil },
		StrategyPositions: func() map[string]domain.StrategyStateEntry {
			positions, _ := o.tracker.Snapshot()
			return positions
		},
		HasPendingEntry: o.tracker.HasPendingEntry,
	})
}

// DailyPnL returns the realized P&L accumulated for the current trading day.
func (o *Orchestrator) DailyPnL() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dailyPnL
}

// TradingEnabled reports the current global trading flag.
func (o *Orchestrator) TradingEnabled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tradingEnabled
}

// SetTradingEnabled flips the global flag (§4.11 POST /trading/enable|disable).
func (o *Orchestrator) SetTradingEnabled(enabled bool) {
	o.mu.Lock()
	o.tradingEnabled = enabled
	o.mu.Unlock()
	o.validator = o.newValidator(enabled)
}

// Start subscribes to every inbound channel and begins draining the event
// queue serially. Each channel gets its own bus goroutine; they all funnel
// into the same o.events queue so every mutation below happens on a single
// goroutine (run()), satisfying §5's serialization requirement.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already running")
	}
	o.running = true
	o.mu.Unlock()

	o.restore(ctx)

	channels := []string{
		ChanWebhookReceived, ChanTradeSignal,
		ChanOrderPlaced, ChanOrderFilled, ChanOrderRejected, ChanOrderCancelled,
		ChanPositionUpdate, ChanPositionClosed, ChanPriceUpdate,
		ChanFullSyncStarted, ChanSyncCompleted,
	}
	for _, ch := range channels {
		channel := ch
		if err := o.bus.Subscribe(ctx, channel, func(ctx context.Context, payload []byte) error {
			select {
			case o.events <- inboundEvent{channel: channel, payload: payload}:
			default:
				o.logger.Warn("internal event queue full, dropping message", zap.String("channel", channel))
			}
			metrics.EventQueueDepth.Set(float64(len(o.events)))
			return nil
		}); err != nil {
			return fmt.Errorf("orchestrator: subscribe %s: %w", channel, err)
		}
	}

	o.wg.Add(1)
	go o.run(ctx)

	_ = o.bus.Publish(ctx, ChanServiceStarted, []byte(`{"event":"SERVICE_STARTED"}`))
	return nil
}

// Stop performs the graceful shutdown sequence from §5: flip trading off,
// flush persistent state, publish SERVICE_STOPPED, disconnect the bus.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.mu.Unlock()

	o.SetTradingEnabled(false)
	close(o.stopCh)
	o.wg.Wait()

	o.persist(ctx)
	_ = o.bus.Publish(ctx, ChanServiceStopped, []byte(`{"event":"SERVICE_STOPPED"}`))
	return o.bus.Close()
}

func (o *Orchestrator) restore(ctx context.Context) {
	positionsState, pending, err := o.store.LoadMultiStrategyState(ctx)
	if err != nil {
		o.logger.Warn("failed to load multi-strategy state", zap.Error(err))
	} else {
		o.tracker.Restore(positionsState, pending)
	}

	contexts, err := o.store.LoadSignalContexts(ctx)
	if err != nil {
		o.logger.Warn("failed to load signal contexts", zap.Error(err))
	} else {
		o.reconcile.SeedActive(contexts)
	}

	mappings, err := o.store.LoadSignalMappings(ctx)
	if err != nil {
		o.logger.Warn("failed to load signal mappings", zap.Error(err))
	} else {
		snap := registry.Snapshot{
			SignalToOrders:   mappings.SignalToOrders,
			OrderToSignal:    mappings.OrderToSignal,
			SignalToPosition: mappings.SignalToPosition,
		}
		lifecycles, err := o.store.LoadSignalLifecycles(ctx)
		if err == nil {
			snap.Lifecycles = lifecycles
		}
		o.registry.RestoreSnapshot(snap)
	}
}

func (o *Orchestrator) persist(ctx context.Context) {
	positionsState, pending := o.tracker.Snapshot()
	if err := o.store.SaveMultiStrategyState(ctx, positionsState, pending); err != nil {
		o.logger.Warn("failed to persist multi-strategy state", zap.Error(err))
	}

	snap := o.registry.ExportSnapshot()
	if err := o.store.SaveSignalMappings(ctx, store.SignalMappings{
		SignalToOrders:   snap.SignalToOrders,
		OrderToSignal:    snap.OrderToSignal,
		SignalToPosition: snap.SignalToPosition,
	}); err != nil {
		o.logger.Warn("failed to persist signal mappings", zap.Error(err))
	}
	if err := o.store.SaveSignalLifecycles(ctx, snap.Lifecycles); err != nil {
		o.logger.Warn("failed to persist signal lifecycles", zap.Error(err))
	}

	if err := o.store.SaveSignalContexts(ctx, o.reconcile.ActiveContexts()); err != nil {
		o.logger.Warn("failed to persist signal contexts", zap.Error(err))
	}
}

// run drains the internal event queue one event at a time: the single
// serialized critical section guarding the registry, tracker, order
// manager, and position aggregator (§5).
func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case evt := <-o.events:
			metrics.EventQueueDepth.Set(float64(len(o.events)))
			o.dispatch(ctx, evt)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, evt inboundEvent) {
	switch evt.channel {
	case ChanWebhookReceived, ChanTradeSignal:
		o.handleSignal(ctx, evt.payload)
	case ChanOrderPlaced:
		o.handleOrderPlaced(ctx, evt.payload)
	case ChanOrderFilled:
		o.handleOrderFilled(ctx, evt.payload)
	case ChanOrderRejected:
		o.handleOrderRejectedOrCancelled(ctx, evt.payload, true)
	case ChanOrderCancelled:
		o.handleOrderRejectedOrCancelled(ctx, evt.payload, false)
	case ChanPositionUpdate:
		o.handlePositionUpdate(ctx, evt.payload)
	case ChanPositionClosed:
		o.handlePositionClosed(ctx, evt.payload)
	case ChanPriceUpdate:
		o.handlePriceUpdate(ctx, evt.payload)
	case ChanFullSyncStarted:
		o.reconcile.BeginFullSync()
		o.posAgg.Restore(nil)
		o.tracker.ClearPositions()
		for _, ord := range o.orderMgr.AllWorking() {
			o.orderMgr.DropOrder(ord.OrderID)
		}
	case ChanSyncCompleted:
		o.reconcile.CompleteFullSync()
		o.persist(ctx)
	}
}

func (o *Orchestrator) handleSignal(ctx context.Context, payload []byte) {
	var sig domain.Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		o.logger.Warn("malformed signal payload", zap.Error(err))
		metrics.SignalsReceived.WithLabelValues("malformed").Inc()
		return
	}
	if sig.SignalID == "" {
		sig.SignalID = uuid.NewString()
	}

	var raw map[string]any
	_ = json.Unmarshal(payload, &raw)
	if action, ok := resolveSideAlias(raw); ok {
		sig.Side = sideFromAction(action)
	}

	if sig.Underlying == "" && sig.Symbol != "" {
		if underlying, err := o.table.Underlying(sig.Symbol); err == nil {
			sig.Underlying = underlying
		} else {
			o.logger.Warn("failed to derive underlying from signal symbol",
				zap.String("symbol", sig.Symbol), zap.Error(err))
		}
	}

	result := o.validator.Validate(sig)
	if !result.Allowed {
		metrics.SignalsReceived.WithLabelValues("rejected").Inc()
		o.publishRejection(ctx, sig, result.Reason)
		return
	}

	sizingResult, err := o.resolver.Resolve(ctx, sizing.Request{
		LogicalSymbol: sig.Symbol,
		Method:        sizing.MethodRiskBased,
		EntryPrice:    mustFloat(sig.Price),
		StopPrice:     mustFloat(sig.StopLoss),
	})
	if err != nil {
		metrics.SignalsReceived.WithLabelValues("sizing_failed").Inc()
		o.publishRejection(ctx, sig, "sizing resolution failed: "+err.Error())
		return
	}

	o.registry.RegisterSignal(sig.SignalID)
	metrics.SignalsReceived.WithLabelValues("accepted").Inc()

	sigCtx := domain.SignalContext{
		SignalID:   sig.SignalID,
		Strategy:   sig.Strategy,
		Symbol:     sizingResult.ConcreteSymbol,
		Underlying: sig.Underlying,
		Side:       sig.Side,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		CreatedAt:  sig.CreatedAt,
	}
	if !sig.BreakevenTrigger.IsZero() || !sig.BreakevenOffset.IsZero() {
		sigCtx.Breakeven = &domain.BreakevenConfig{Trigger: sig.BreakevenTrigger, Offset: sig.BreakevenOffset}
	}
	o.reconcile.AddActive(sigCtx)

	req := map[string]any{
		"accountId": sig.AccountID,
		"symbol":    sizingResult.ConcreteSymbol,
		"action":    actionFor(sig.Side),
		"quantity":  sizingResult.Quantity,
		"orderType": domain.OrderTypeMarket,
		"signalId":  sig.SignalID,
		"strategy":  sig.Strategy,
		"positionSizing": map[string]any{
			"originalSymbol":   sig.Symbol,
			"originalQuantity": sig.Quantity,
			"converted":        sizingResult.Converted,
			"reason":           sizingResult.Reason,
		},
	}
	o.publishJSON(ctx, ChanOrderRequest, req)
	o.persist(ctx)
}

// resolveSideAlias normalizes a webhook's buy/sell/long/short/B/S/1/2 side
// or action alias into a canonical Action, trying "side" before "action"
// since both keys show up across integrations feeding this signal.
func resolveSideAlias(raw map[string]any) (domain.Action, bool) {
	for _, key := range []string{"side", "action"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if action, err := admission.ParseAction(v); err == nil {
			return action, true
		}
	}
	return "", false
}

func actionFor(side domain.Side) domain.Action {
	if side == domain.SideShort {
		return domain.ActionSell
	}
	return domain.ActionBuy
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func (o *Orchestrator) publishRejection(ctx context.Context, sig domain.Signal, reason string) {
	o.publishJSON(ctx, ChanTradeRejected, map[string]any{
		"signalId": sig.SignalID,
		"reason":   reason,
	})
}

func (o *Orchestrator) publishJSON(ctx context.Context, channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("failed to marshal outbound event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := o.bus.Publish(ctx, channel, payload); err != nil {
		metrics.BusPublishFailures.WithLabelValues(channel).Inc()
		o.logger.Warn("publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

type orderPlacedMsg struct {
	domain.Order
	SignalID string `json:"signalId"`
}

func (o *Orchestrator) handleOrderPlaced(ctx context.Context, payload []byte) {
	var msg orderPlacedMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		o.logger.Warn("malformed ORDER_PLACED payload", zap.Error(err))
		return
	}
	metrics.OrdersPlaced.WithLabelValues(string(msg.Role)).Inc()
	o.orderMgr.Placed(msg.Order, msg.SignalID)

	switch msg.Role {
	case domain.RoleStopLoss:
		o.posAgg.SetOrderRefs(msg.Symbol, msg.OrderID, "")
	case domain.RoleTakeProfit:
		o.posAgg.SetOrderRefs(msg.Symbol, "", msg.OrderID)
	}

	o.persist(ctx)
}

func (o *Orchestrator) handleOrderFilled(ctx context.Context, payload []byte) {
	var msg struct {
		OrderID string          `json:"orderId"`
		Action  any             `json:"action"`
		Price   decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		o.logger.Warn("malformed ORDER_FILLED payload", zap.Error(err))
		return
	}

	outcome, err := o.orderMgr.Filled(msg.OrderID, msg.Action)
	if err != nil {
		o.logger.Warn("fill for unknown order", zap.String("orderId", msg.OrderID), zap.Error(err))
		return
	}
	metrics.OrderFills.WithLabelValues(string(outcome.Order.Role)).Inc()

	underlying, err := o.table.Underlying(outcome.Order.Symbol)
	if err != nil {
		o.logger.Warn("failed to derive underlying for fill, falling back to concrete symbol",
			zap.String("symbol", outcome.Order.Symbol), zap.Error(err))
		underlying = outcome.Order.Symbol
	}

	sigCtx, hasCtx := o.reconcile.ActiveContext(outcome.SignalID)
	action := orders.ParseFillAction(msg.Action, sigCtx.Side, o.logger)
	if hasCtx && sigCtx.Side != "" && sideFromAction(action) != sigCtx.Side {
		o.logger.Warn("fill action disagrees with signal side; fill drives position math, signal drives strategy state",
			zap.String("orderId", msg.OrderID), zap.String("fillAction", string(action)), zap.String("signalSide", string(sigCtx.Side)))
	}

	fill := positions.Fill{
		Symbol:     outcome.Order.Symbol,
		Underlying: underlying,
		Action:     action,
		Quantity:   outcome.Order.Quantity,
		Price:      msg.Price,
		SignalID:   outcome.SignalID,
	}
	pos, closed := o.posAgg.ApplyFill(fill)

	if outcome.SignalID != "" {
		o.registry.LinkPositionToSignal(outcome.SignalID, pos.Symbol)
	}

	switch {
	case outcome.WasPendingEntry:
		state := domain.StrategyStateEntry{State: sideFromAction(outcome.Order.Action), Source: outcome.Order.StrategyID}
		if hasCtx && sigCtx.Side != "" {
			state.State = sigCtx.Side
		}
		if hasCtx && sigCtx.Strategy != "" {
			state.Source = sigCtx.Strategy
		}
		siblings := o.tracker.EntryFilled(outcome.Order.OrderID, underlying, state)
		for _, sib := range siblings {
			o.publishJSON(ctx, ChanOrderCancelRequest, map[string]any{"orderId": sib.OrderID})
		}
		if outcome.SignalID != "" {
			if sigCtx, ok := o.reconcile.ActiveContext(outcome.SignalID); ok && sigCtx.Breakeven != nil {
				o.posAgg.AttachBreakeven(pos.Symbol, *sigCtx.Breakeven)
			}
		}
	case closed && (outcome.Order.Role == domain.RoleStopLoss || outcome.Order.Role == domain.RoleTakeProfit):
		survivingOrderID := pos.TakeProfitOrderRef
		if outcome.Order.Role == domain.RoleTakeProfit {
			survivingOrderID = pos.StopLossOrderRef
		}
		if survivingOrderID != "" {
			o.publishJSON(ctx, ChanOrderCancelRequest, map[string]any{"orderId": survivingOrderID})
		}
	}

	if closed {
		o.tracker.PositionClosed(underlying)
	}

	o.publishJSON(ctx, ChanPositionUpdate, map[string]any{
		"symbol": pos.Symbol,
		"side":   pos.SideOf(),
		"netPos": pos.NetPos,
	})
	o.persist(ctx)
}

func sideFromAction(a domain.Action) domain.Side {
	if a == domain.ActionSell {
		return domain.SideShort
	}
	return domain.SideLong
}

func (o *Orchestrator) handleOrderRejectedOrCancelled(ctx context.Context, payload []byte, rejected bool) {
	var msg struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		o.logger.Warn("malformed order terminal-state payload", zap.Error(err))
		return
	}
	o.orderMgr.RejectedOrCancelled(msg.OrderID, rejected)
	o.persist(ctx)
}

// handlePositionUpdate processes POSITION_UPDATE. Outside a full sync it is
// an authoritative broker snapshot of price/quantity; during a full sync it
// is a rebuild candidate matched back to a stashed signal context (§4.10).
func (o *Orchestrator) handlePositionUpdate(ctx context.Context, payload []byte) {
	var msg struct {
		Symbol       string          `json:"symbol"`
		NetPos       int64           `json:"netPos"`
		EntryPrice   decimal.Decimal `json:"entryPrice"`
		CurrentPrice decimal.Decimal `json:"currentPrice"`
		StopPrice    decimal.Decimal `json:"stopPrice"`
		TakeProfit   decimal.Decimal `json:"takeProfit"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		o.logger.Warn("malformed POSITION_UPDATE payload", zap.Error(err))
		return
	}

	if o.reconcile.InFullSync() {
		o.rebuildPosition(msg.Symbol, msg.NetPos, msg.EntryPrice, msg.StopPrice, msg.TakeProfit)
		return
	}

	if _, ok := o.posAgg.Get(msg.Symbol); ok {
		o.posAgg.Update(msg.Symbol, msg.CurrentPrice, decimal.Zero)
	}
}

// rebuildPosition installs a broker-rebuilt position during a full sync and
// matches it back to a stashed signal context where possible. A match
// restores the signal reference, breakeven config and owning strategy; the
// entry price and the stop-loss/take-profit order refs are not recovered
// from the context (the broker-reported entry price is used as-is).
func (o *Orchestrator) rebuildPosition(symbol string, netPos int64, entryPrice, stopPrice, takeProfit decimal.Decimal) {
	underlying, err := o.table.Underlying(symbol)
	if err != nil {
		o.logger.Warn("full sync: cannot derive underlying for rebuilt position",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}

	now := time.Now()
	pos := domain.Position{
		Symbol:            symbol,
		Underlying:        underlying,
		NetPos:            netPos,
		EntryPrice:        entryPrice,
		CurrentPrice:      entryPrice,
		ExternallySourced: true,
		OpenedAt:          now,
		UpdatedAt:         now,
	}

	matched, ok := o.reconcile.MatchRebuiltPosition(reconcile.RebuiltPosition{
		Symbol: symbol, Price: entryPrice, StopPrice: stopPrice, TakeProfit: takeProfit, ObservedAt: now,
	})
	if ok {
		pos.SignalContextRef = matched.SignalID
		pos.Breakeven = matched.Breakeven
		o.logger.Info("full sync: matched rebuilt position to stashed signal context",
			zap.String("symbol", symbol), zap.String("signalId", matched.SignalID))
	}

	o.posAgg.SetExternal(pos)

	state := domain.StrategyStateEntry{Source: "reconciliation"}
	if netPos < 0 {
		state.State = domain.SideShort
	} else {
		state.State = domain.SideLong
	}
	if matched.Strategy != "" {
		state.Source = matched.Strategy
	}
	o.tracker.SetPosition(underlying, state)
}

// handlePositionClosed processes a broker-reported POSITION_CLOSED: it
// removes the local position and cancels/drops every working order still
// targeting that symbol, then clears the underlying's strategy-state entry.
func (o *Orchestrator) handlePositionClosed(ctx context.Context, payload []byte) {
	var msg struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		o.logger.Warn("malformed POSITION_CLOSED payload", zap.Error(err))
		return
	}

	o.posAgg.Remove(msg.Symbol)

	for _, ord := range o.orderMgr.AllWorking() {
		if ord.Symbol != msg.Symbol {
			continue
		}
		o.orderMgr.DropOrder(ord.OrderID)
		o.publishJSON(ctx, ChanOrderCancelRequest, map[string]any{"orderId": ord.OrderID})
	}

	if underlying, err := o.table.Underlying(msg.Symbol); err == nil {
		o.tracker.PositionClosed(underlying)
	}

	o.persist(ctx)
}

func (o *Orchestrator) handlePriceUpdate(ctx context.Context, payload []byte) {
	var msg struct {
		Symbol     string          `json:"symbol"`
		BaseSymbol string          `json:"baseSymbol"`
		Close      decimal.Decimal `json:"close"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	o.beCtrl.HandlePriceUpdate(ctx, breakeven.PriceUpdate{
		Symbol:     msg.Symbol,
		BaseSymbol: msg.BaseSymbol,
		Close:      msg.Close,
	})
}

// PublishModifyStop satisfies breakeven.Publisher: it publishes a single
// ORDER_REQUEST of type modify_stop carrying the new stop price and the
// existing stop-loss order id; no ORDER_CANCEL_REQUEST is sent for the old
// stop. A failed publish is returned so the controller can retry.
func (o *Orchestrator) PublishModifyStop(ctx context.Context, position domain.Position, newStopPrice decimal.Decimal, stopOrderID, strategyGroupID string) error {
	metrics.BreakevenTriggers.Inc()
	payload, err := json.Marshal(map[string]any{
		"type":            "modify_stop",
		"symbol":          position.Symbol,
		"stopOrderId":     stopOrderID,
		"newStopPrice":    newStopPrice,
		"strategyGroupId": strategyGroupID,
	})
	if err != nil {
		return err
	}
	if err := o.bus.Publish(ctx, ChanOrderRequest, payload); err != nil {
		metrics.BusPublishFailures.WithLabelValues(ChanOrderRequest).Inc()
		return err
	}
	return nil
}

// IncrementalSync exposes the reconciliation engine's incremental mode for a
// broker-reported working-order-id snapshot. No bus handler in this package
// calls it.
func (o *Orchestrator) IncrementalSync(workingOrderIDs map[string]struct{}) {
	o.reconcile.IncrementalSync(workingOrderIDs)
}

// Health returns a snapshot of orchestrator-level health for /health (§4.11).
type Health struct {
	TradingEnabled         bool      `json:"tradingEnabled"`
	ReconciliationDegraded bool      `json:"reconciliationDegraded"`
	LastReconciledAt       time.Time `json:"lastReconciledAt"`
	OpenPositions          int       `json:"openPositions"`
	WorkingOrders          int       `json:"workingOrders"`
}

func (o *Orchestrator) Health() Health {
	return Health{
		TradingEnabled:         o.TradingEnabled(),
		ReconciliationDegraded: o.reconcile.Degraded(),
		LastReconciledAt:       o.reconcile.LastCompletedAt(),
		OpenPositions:          len(o.posAgg.All()),
		WorkingOrders:          len(o.orderMgr.AllWorking()),
	}
}

// Positions returns all live positions, for the HTTP query surface.
func (o *Orchestrator) Positions() []domain.Position { return o.posAgg.All() }

// WorkingOrders returns all working orders, for the HTTP query surface.
func (o *Orchestrator) WorkingOrders() []domain.Order { return o.orderMgr.AllWorking() }

// RegistryStats reports signal/order/position registry counts for
// /api/trading/registry-stats.
type RegistryStats struct {
	Signals        int `json:"signals"`
	OpenOrderLinks int `json:"openOrderLinks"`
	PositionLinks  int `json:"positionLinks"`
}

func (o *Orchestrator) RegistryStats() RegistryStats {
	snap := o.registry.ExportSnapshot()
	return RegistryStats{
		Signals:        len(snap.SignalToOrders),
		OpenOrderLinks: len(snap.OrderToSignal),
		PositionLinks:  len(snap.SignalToPosition),
	}
}
