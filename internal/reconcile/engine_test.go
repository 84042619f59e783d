// Package reconcile_test provides tests for the reconciliation engine.
package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/reconcile"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

type fakeOrders struct {
	working map[string]struct{}
	dropped []string
}

func (f *fakeOrders) WorkingOrderIDs() map[string]struct{} { return f.working }
func (f *fakeOrders) DropOrder(orderID string)              { f.dropped = append(f.dropped, orderID) }

type fakePositions struct {
	backed map[string]bool
}

func (f *fakePositions) HasPositionForUnderlying(underlying string) bool { return f.backed[underlying] }

type fakeTracker struct {
	staleDropped    []string
	orphanedDropped []string
}

func (f *fakeTracker) DropStalePositions(hasPosition func(string) bool) []string {
	return f.staleDropped
}

func (f *fakeTracker) DropOrphanedPending(workingOrderIDs map[string]struct{}) []string {
	return f.orphanedDropped
}

func newEngine() (*reconcile.Engine, *fakeOrders, *fakePositions, *fakeTracker) {
	orders := &fakeOrders{working: map[string]struct{}{"a": {}, "b": {}}}
	positions := &fakePositions{backed: map[string]bool{}}
	tracker := &fakeTracker{}
	e := reconcile.New(zap.NewNop(), reconcile.Config{}, orders, positions, tracker)
	return e, orders, positions, tracker
}

func TestIncrementalSyncDropsUntrackedWorkingOrders(t *testing.T) {
	e, orders, _, _ := newEngine()

	e.IncrementalSync(map[string]struct{}{"a": {}})

	if len(orders.dropped) != 1 || orders.dropped[0] != "b" {
		t.Fatalf("expected order b to be dropped as untracked, got %v", orders.dropped)
	}
	if e.LastCompletedAt().IsZero() {
		t.Fatal("expected LastCompletedAt to be set after an incremental sync")
	}
}

func TestIncrementalSyncLeavesMatchingOrdersAlone(t *testing.T) {
	e, orders, _, _ := newEngine()

	e.IncrementalSync(map[string]struct{}{"a": {}, "b": {}})

	if len(orders.dropped) != 0 {
		t.Fatalf("expected no orders dropped when broker set matches local set, got %v", orders.dropped)
	}
}

func TestFullSyncStashesAndMatchesBySymbolPriceProximity(t *testing.T) {
	e, _, _, _ := newEngine()

	ctx := domain.SignalContext{
		SignalID: "sig-1", Symbol: "NQH6", Underlying: "NQ",
		StopLoss: decimal.NewFromInt(17900), TakeProfit: decimal.NewFromInt(18200),
		CreatedAt: time.Now(),
	}
	e.SeedActive(map[string]domain.SignalContext{"sig-1": ctx})

	e.BeginFullSync()

	matched, ok := e.MatchRebuiltPosition(reconcile.RebuiltPosition{
		Symbol: "NQH6", Price: decimal.NewFromInt(17905),
		StopPrice: decimal.NewFromInt(17900), TakeProfit: decimal.NewFromInt(18200),
		ObservedAt: time.Now(),
	})

	if !ok {
		t.Fatal("expected rebuilt position within price tolerance of stop loss to match")
	}
	if matched.SignalID != "sig-1" {
		t.Fatalf("expected matched context sig-1, got %q", matched.SignalID)
	}

	active := e.ActiveContexts()
	if _, ok := active["sig-1"]; !ok {
		t.Fatal("expected matched context to be promoted back to active")
	}
}

func TestFullSyncUnmatchedPositionReturnsFalse(t *testing.T) {
	e, _, _, _ := newEngine()
	e.BeginFullSync()

	_, ok := e.MatchRebuiltPosition(reconcile.RebuiltPosition{
		Symbol: "ESH6", Price: decimal.NewFromInt(5000), ObservedAt: time.Now(),
	})
	if ok {
		t.Fatal("expected a rebuilt position with no stashed context to not match")
	}
}

func TestCompleteFullSyncDiscardsRemainingStash(t *testing.T) {
	e, _, _, _ := newEngine()

	ctx := domain.SignalContext{SignalID: "sig-1", Symbol: "NQH6", CreatedAt: time.Now()}
	e.SeedActive(map[string]domain.SignalContext{"sig-1": ctx})
	e.BeginFullSync()

	e.CompleteFullSync()

	if e.Degraded() {
		t.Fatal("expected a completed full sync to not be degraded")
	}
	if e.LastCompletedAt().IsZero() {
		t.Fatal("expected LastCompletedAt to be set after completing a full sync")
	}
	active := e.ActiveContexts()
	if len(active) != 0 {
		t.Fatalf("expected orphaned stash entries to not reappear in active, got %v", active)
	}
}

func TestWaitForFullSyncMarksDegradedOnTimeout(t *testing.T) {
	e, _, _, _ := newEngine()
	e.BeginFullSync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	completed := make(chan struct{})
	e.WaitForFullSync(ctx, completed)

	if !e.Degraded() {
		t.Fatal("expected full sync to be marked degraded after a context timeout")
	}
}

func TestWaitForFullSyncCompletesCleanlyOnSignal(t *testing.T) {
	e, _, _, _ := newEngine()
	e.BeginFullSync()

	completed := make(chan struct{})
	close(completed)

	e.WaitForFullSync(context.Background(), completed)

	if e.Degraded() {
		t.Fatal("expected explicit completion signal to not mark the engine degraded")
	}
}
