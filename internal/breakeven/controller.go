// Package breakeven implements the Breakeven/Exit Controller (§4.9):
// reacting to price ticks to compute unrealized P&L and fire a one-shot
// stop-to-breakeven move once a position has moved far enough in its favor.
package breakeven

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

// PriceUpdate is the inbound tick envelope (§6): {symbol, baseSymbol, close}.
type PriceUpdate struct {
	Symbol     string
	BaseSymbol string
	Close      decimal.Decimal
}

// Publisher is the narrow bus-publish capability the controller needs. The
// controller calls it synchronously for each triggered position and treats
// a returned error as a failed publish.
type Publisher interface {
	PublishModifyStop(ctx context.Context, position domain.Position, newStopPrice decimal.Decimal, stopOrderID, strategyGroupID string) error
}

// PositionStore is the subset of the Position Aggregator the controller needs.
type PositionStore interface {
	All() []domain.Position
	Update(symbol string, currentPrice, unrealizedPnL decimal.Decimal)
	MarkBreakevenTriggered(symbol string, triggered bool)
}

// Controller runs the breakeven/exit logic.
type Controller struct {
	table  *contracts.Table
	store  PositionStore
	pub    Publisher
	logger *zap.Logger
}

// New builds a Breakeven/Exit Controller.
func New(logger *zap.Logger, table *contracts.Table, store PositionStore, pub Publisher) *Controller {
	return &Controller{table: table, store: store, pub: pub, logger: logger.Named("breakeven")}
}

// HandlePriceUpdate processes one PRICE_UPDATE tick against every position
// whose underlying matches, after micro<->standard normalization.
func (c *Controller) HandlePriceUpdate(ctx context.Context, tick PriceUpdate) {
	for _, pos := range c.store.All() {
		if !c.table.SameUnderlying(pos.Symbol, tick.BaseSymbol) && !c.table.SameUnderlying(pos.Symbol, tick.Symbol) {
			continue
		}

		spec, err := c.table.Spec(pos.Symbol)
		if err != nil {
			c.logger.Warn("price update for position with unknown contract spec",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}

		pnl := unrealizedPnL(pos, tick.Close, spec.PointValue)
		c.store.Update(pos.Symbol, tick.Close, pnl)

		if pos.Breakeven == nil || pos.Breakeven.Triggered {
			continue
		}

		profitPts := profitPoints(pos, tick.Close)
		if profitPts.LessThan(pos.Breakeven.Trigger) {
			continue
		}

		newStop := breakevenStopPrice(pos, pos.Breakeven.Offset)

		c.store.MarkBreakevenTriggered(pos.Symbol, true)
		if err := c.pub.PublishModifyStop(ctx, pos, newStop, pos.StopLossOrderRef, pos.SignalContextRef); err != nil {
			c.logger.Warn("breakeven modify_stop publish failed, resetting trigger for retry",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			c.store.MarkBreakevenTriggered(pos.Symbol, false)
		}
	}
}

func unrealizedPnL(pos domain.Position, currentPrice decimal.Decimal, pointValue float64) decimal.Decimal {
	diff := currentPrice.Sub(pos.EntryPrice)
	if pos.NetPos < 0 {
		diff = diff.Neg()
	}
	qty := decimal.NewFromInt(abs64(pos.NetPos))
	return diff.Mul(decimal.NewFromFloat(pointValue)).Mul(qty)
}

func profitPoints(pos domain.Position, currentPrice decimal.Decimal) decimal.Decimal {
	diff := currentPrice.Sub(pos.EntryPrice)
	if pos.NetPos < 0 {
		diff = diff.Neg()
	}
	return diff
}

func breakevenStopPrice(pos domain.Position, offset decimal.Decimal) decimal.Decimal {
	if pos.NetPos < 0 {
		return pos.EntryPrice.Sub(offset)
	}
	return pos.EntryPrice.Add(offset)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
