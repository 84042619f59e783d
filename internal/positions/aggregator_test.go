// Package positions_test provides tests for the position aggregator.
package positions_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/positions"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

func TestApplyFillOpensNewPosition(t *testing.T) {
	agg := positions.New(zap.NewNop(), contracts.NewTable())

	pos, closed := agg.ApplyFill(positions.Fill{
		Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionBuy,
		Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(18000), SignalID: "sig-1",
	})

	if closed {
		t.Fatal("expected opening fill to not close a position")
	}
	if pos.NetPos != 2 {
		t.Fatalf("expected netPos 2, got %d", pos.NetPos)
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(18000)) {
		t.Fatalf("expected entry price 18000, got %s", pos.EntryPrice)
	}
}

func TestApplyFillAddingRecomputesWeightedAverage(t *testing.T) {
	agg := positions.New(zap.NewNop(), contracts.NewTable())
	agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(18000)})

	pos, closed := agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(18100)})

	if closed {
		t.Fatal("expected adding fill to not close the position")
	}
	if pos.NetPos != 2 {
		t.Fatalf("expected netPos 2 after adding, got %d", pos.NetPos)
	}
	want := decimal.NewFromInt(18050)
	if !pos.EntryPrice.Equal(want) {
		t.Fatalf("expected weighted average entry 18050, got %s", pos.EntryPrice)
	}
}

func TestApplyFillReducingPreservesEntryPrice(t *testing.T) {
	agg := positions.New(zap.NewNop(), contracts.NewTable())
	agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionBuy, Quantity: decimal.NewFromInt(3), Price: decimal.NewFromInt(18000)})

	pos, closed := agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionSell, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(18500)})

	if closed {
		t.Fatal("expected partial reduce to not close the position")
	}
	if pos.NetPos != 2 {
		t.Fatalf("expected netPos 2 after reducing, got %d", pos.NetPos)
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(18000)) {
		t.Fatalf("expected entry price to be preserved at 18000 on a reducing fill, got %s", pos.EntryPrice)
	}
}

func TestApplyFillClosingRemovesPosition(t *testing.T) {
	agg := positions.New(zap.NewNop(), contracts.NewTable())
	agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionBuy, Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(18000)})

	pos, closed := agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionSell, Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(18200)})

	if !closed {
		t.Fatal("expected a fill that brings netPos to zero to close the position")
	}
	if pos.NetPos != 0 {
		t.Fatalf("expected netPos 0 on closed position, got %d", pos.NetPos)
	}
	if _, ok := agg.Get("NQH6"); ok {
		t.Fatal("expected closed position to be removed from the live map")
	}
}

func TestApplyFillSignFlipResetsEntryPrice(t *testing.T) {
	agg := positions.New(zap.NewNop(), contracts.NewTable())
	agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(18000)})

	pos, closed := agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionSell, Quantity: decimal.NewFromInt(3), Price: decimal.NewFromInt(18300)})

	if closed {
		t.Fatal("expected sign-flip fill to not be treated as closing")
	}
	if pos.NetPos != -2 {
		t.Fatalf("expected netPos -2 after flip, got %d", pos.NetPos)
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(18300)) {
		t.Fatalf("expected entry price reset to the flipping fill's price 18300, got %s", pos.EntryPrice)
	}
}

func TestAttachBreakevenAndMarkTriggered(t *testing.T) {
	agg := positions.New(zap.NewNop(), contracts.NewTable())
	agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(18000)})

	agg.AttachBreakeven("NQH6", domain.BreakevenConfig{Trigger: decimal.NewFromInt(20), Offset: decimal.NewFromInt(2)})
	agg.MarkBreakevenTriggered("NQH6", true)

	pos, _ := agg.Get("NQH6")
	if pos.Breakeven == nil || !pos.Breakeven.Triggered {
		t.Fatal("expected breakeven config to be attached and marked triggered")
	}

	agg.MarkBreakevenTriggered("NQH6", false)
	pos, _ = agg.Get("NQH6")
	if pos.Breakeven.Triggered {
		t.Fatal("expected breakeven trigger flag to reset to false on publish failure")
	}
}

func TestHasPositionForUnderlying(t *testing.T) {
	agg := positions.New(zap.NewNop(), contracts.NewTable())
	if agg.HasPositionForUnderlying("NQ") {
		t.Fatal("expected no position for NQ before any fill")
	}
	agg.ApplyFill(positions.Fill{Symbol: "NQH6", Underlying: "NQ", Action: domain.ActionBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(18000)})
	if !agg.HasPositionForUnderlying("NQ") {
		t.Fatal("expected a position for NQ after an opening fill")
	}
}
