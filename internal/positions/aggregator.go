// Package positions implements the Position Aggregator (§4.8): folding
// broker fills into weighted-average-entry position state.
package positions

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

// Fill is one broker fill event applied to a position.
type Fill struct {
	Symbol     string
	Underlying string
	Action     domain.Action
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	SignalID   string
}

// Aggregator owns the live position map.
type Aggregator struct {
	positions map[string]*domain.Position
	table     *contracts.Table
	logger    *zap.Logger
}

// New builds a Position Aggregator.
func New(logger *zap.Logger, table *contracts.Table) *Aggregator {
	return &Aggregator{
		positions: make(map[string]*domain.Position),
		table:     table,
		logger:    logger.Named("positions"),
	}
}

// Restore seeds the aggregator from persisted or reconciled state.
func (a *Aggregator) Restore(positions map[string]*domain.Position) {
	if positions == nil {
		positions = make(map[string]*domain.Position)
	}
	a.positions = positions
}

func signedQty(action domain.Action, qty decimal.Decimal) decimal.Decimal {
	if action == domain.ActionSell {
		return qty.Neg()
	}
	return qty
}

// ApplyFill folds a fill into the position for fill.Symbol and returns the
// resulting position plus whether it was closed by this fill.
func (a *Aggregator) ApplyFill(fill Fill) (domain.Position, bool) {
	now := time.Now()
	signed := signedQty(fill.Action, fill.Quantity)

	spec, specErr := a.table.Spec(fill.Symbol)
	tick := 0.0
	if specErr == nil {
		tick = spec.TickSize
	}

	existing, ok := a.positions[fill.Symbol]
	if !ok {
		netPos := signed.IntPart()
		pos := &domain.Position{
			Symbol:           fill.Symbol,
			Underlying:       fill.Underlying,
			NetPos:           netPos,
			EntryPrice:       fill.Price,
			CurrentPrice:     fill.Price,
			SignalContextRef: fill.SignalID,
			OpenedAt:         now,
			UpdatedAt:        now,
		}
		a.positions[fill.Symbol] = pos
		return *pos, false
	}

	oldQty := decimal.NewFromInt(existing.NetPos)
	newQtyDec := oldQty.Add(signed)
	newQty := newQtyDec.IntPart()

	if newQty == 0 {
		closed := *existing
		closed.NetPos = 0
		closed.UpdatedAt = now
		delete(a.positions, fill.Symbol)
		return closed, true
	}

	sameSign := (oldQty.Sign() == signed.Sign())

	switch {
	case sameSign:
		total := oldQty.Mul(existing.EntryPrice).Add(signed.Mul(fill.Price))
		newEntry := total.Div(newQtyDec).Abs()
		existing.EntryPrice = roundEntry(newEntry, tick, fill.Price, a.logger)
	case oldQty.Sign() != 0 && newQtyDec.Sign() != oldQty.Sign():
		// Sign flip: the fill both closed the old side and opened the new one.
		existing.EntryPrice = fill.Price
	default:
		// Reducing toward (but not through) zero: entry price unchanged.
	}

	existing.NetPos = newQty
	existing.CurrentPrice = fill.Price
	existing.UpdatedAt = now
	if fill.SignalID != "" {
		existing.SignalContextRef = fill.SignalID
	}

	return *existing, false
}

func roundEntry(candidate decimal.Decimal, tick float64, fillPrice decimal.Decimal, logger *zap.Logger) decimal.Decimal {
	f, _ := candidate.Float64()
	if f <= 0 || f > 1_000_000 {
		logger.Warn("computed entry price failed sanity check, substituting fill price",
			zap.Float64("computed", f))
		return fillPrice
	}
	if tick <= 0 {
		return candidate
	}
	return decimal.NewFromFloat(contracts.RoundToTick(f, tick))
}

// Get returns the position for a symbol, if any.
func (a *Aggregator) Get(symbol string) (domain.Position, bool) {
	p, ok := a.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// All returns a copy of every live position.
func (a *Aggregator) All() []domain.Position {
	out := make([]domain.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, *p)
	}
	return out
}

// HasPositionForUnderlying reports whether any live position belongs to
// the given underlying, used by the Strategy State Tracker's stale-entry
// cleanup during incremental sync (§4.10).
func (a *Aggregator) HasPositionForUnderlying(underlying string) bool {
	for _, p := range a.positions {
		if p.Underlying == underlying {
			return true
		}
	}
	return false
}

// AttachBreakeven installs a breakeven config on a position, used right
// after a new position is opened from an entry fill whose signal carried
// breakeven trigger/offset fields.
func (a *Aggregator) AttachBreakeven(symbol string, cfg domain.BreakevenConfig) {
	if p, ok := a.positions[symbol]; ok {
		p.Breakeven = &cfg
	}
}

// SetOrderRefs records the stop-loss/take-profit order ids belonging to a
// position, used once the bracket siblings are placed.
func (a *Aggregator) SetOrderRefs(symbol, stopLossOrderID, takeProfitOrderID string) {
	p, ok := a.positions[symbol]
	if !ok {
		return
	}
	if stopLossOrderID != "" {
		p.StopLossOrderRef = stopLossOrderID
	}
	if takeProfitOrderID != "" {
		p.TakeProfitOrderRef = takeProfitOrderID
	}
}

// SetExternal installs or replaces a position sourced from broker
// reconciliation rather than a local fill, used by full-sync rebuild.
func (a *Aggregator) SetExternal(pos domain.Position) {
	a.positions[pos.Symbol] = &pos
}

// Remove deletes a position outright (broker-reported POSITION_CLOSED).
func (a *Aggregator) Remove(symbol string) {
	delete(a.positions, symbol)
}

// Update applies a price tick's derived current price and unrealized P&L to
// a position, used by the Breakeven/Exit Controller.
func (a *Aggregator) Update(symbol string, currentPrice, unrealizedPnL decimal.Decimal) {
	if p, ok := a.positions[symbol]; ok {
		p.CurrentPrice = currentPrice
		p.UnrealizedPnL = unrealizedPnL
		p.UpdatedAt = time.Now()
	}
}

// MarkBreakevenTriggered flips a position's breakeven-triggered flag,
// including resetting it back to false on a failed publish so the
// controller retries on the next qualifying tick.
func (a *Aggregator) MarkBreakevenTriggered(symbol string, triggered bool) {
	if p, ok := a.positions[symbol]; ok && p.Breakeven != nil {
		p.Breakeven.Triggered = triggered
	}
}
