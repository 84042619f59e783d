// Package breakeven_test provides tests for the breakeven/exit controller.
package breakeven_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/breakeven"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

type fakeStore struct {
	positions  []domain.Position
	updated    map[string]decimal.Decimal
	triggered  map[string]bool
}

func newFakeStore(positions ...domain.Position) *fakeStore {
	return &fakeStore{positions: positions, updated: map[string]decimal.Decimal{}, triggered: map[string]bool{}}
}

func (f *fakeStore) All() []domain.Position { return f.positions }

func (f *fakeStore) Update(symbol string, currentPrice, unrealizedPnL decimal.Decimal) {
	f.updated[symbol] = unrealizedPnL
}

func (f *fakeStore) MarkBreakevenTriggered(symbol string, triggered bool) {
	f.triggered[symbol] = triggered
}

type fakePublisher struct {
	calls   int
	failNext bool
	lastStop decimal.Decimal
}

func (f *fakePublisher) PublishModifyStop(ctx context.Context, position domain.Position, newStopPrice decimal.Decimal, stopOrderID, strategyGroupID string) error {
	f.calls++
	f.lastStop = newStopPrice
	if f.failNext {
		return context.DeadlineExceeded
	}
	return nil
}

func longPosition() domain.Position {
	return domain.Position{
		Symbol:     "NQH6",
		Underlying: "NQ",
		NetPos:     1,
		EntryPrice: decimal.NewFromInt(18000),
		Breakeven: &domain.BreakevenConfig{
			Trigger: decimal.NewFromInt(20),
			Offset:  decimal.NewFromInt(2),
		},
	}
}

func TestHandlePriceUpdateTriggersBreakevenOnceThresholdCrossed(t *testing.T) {
	pos := longPosition()
	store := newFakeStore(pos)
	pub := &fakePublisher{}
	c := breakeven.New(zap.NewNop(), contracts.NewTable(), store, pub)

	c.HandlePriceUpdate(context.Background(), breakeven.PriceUpdate{Symbol: "NQH6", BaseSymbol: "NQ", Close: decimal.NewFromInt(18030)})

	if pub.calls != 1 {
		t.Fatalf("expected breakeven publish to fire once, got %d calls", pub.calls)
	}
	want := decimal.NewFromInt(18002)
	if !pub.lastStop.Equal(want) {
		t.Fatalf("expected new stop 18002, got %s", pub.lastStop)
	}
	if !store.triggered["NQH6"] {
		t.Fatal("expected position to be marked breakeven-triggered")
	}
}

func TestHandlePriceUpdateDoesNotTriggerBelowThreshold(t *testing.T) {
	pos := longPosition()
	store := newFakeStore(pos)
	pub := &fakePublisher{}
	c := breakeven.New(zap.NewNop(), contracts.NewTable(), store, pub)

	c.HandlePriceUpdate(context.Background(), breakeven.PriceUpdate{Symbol: "NQH6", BaseSymbol: "NQ", Close: decimal.NewFromInt(18010)})

	if pub.calls != 0 {
		t.Fatalf("expected no breakeven publish below trigger threshold, got %d calls", pub.calls)
	}
}

func TestHandlePriceUpdateResetsTriggerOnPublishFailure(t *testing.T) {
	pos := longPosition()
	store := newFakeStore(pos)
	pub := &fakePublisher{failNext: true}
	c := breakeven.New(zap.NewNop(), contracts.NewTable(), store, pub)

	c.HandlePriceUpdate(context.Background(), breakeven.PriceUpdate{Symbol: "NQH6", BaseSymbol: "NQ", Close: decimal.NewFromInt(18030)})

	if pub.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", pub.calls)
	}
	if store.triggered["NQH6"] {
		t.Fatal("expected triggered flag to reset to false after a failed publish, so the next tick retries")
	}
}

func TestHandlePriceUpdateSkipsAlreadyTriggeredPosition(t *testing.T) {
	pos := longPosition()
	pos.Breakeven.Triggered = true
	store := newFakeStore(pos)
	pub := &fakePublisher{}
	c := breakeven.New(zap.NewNop(), contracts.NewTable(), store, pub)

	c.HandlePriceUpdate(context.Background(), breakeven.PriceUpdate{Symbol: "NQH6", BaseSymbol: "NQ", Close: decimal.NewFromInt(18030)})

	if pub.calls != 0 {
		t.Fatalf("expected no re-trigger for an already-triggered position, got %d calls", pub.calls)
	}
}

func TestHandlePriceUpdateIgnoresUnrelatedUnderlying(t *testing.T) {
	pos := longPosition()
	store := newFakeStore(pos)
	pub := &fakePublisher{}
	c := breakeven.New(zap.NewNop(), contracts.NewTable(), store, pub)

	c.HandlePriceUpdate(context.Background(), breakeven.PriceUpdate{Symbol: "ESH6", BaseSymbol: "ES", Close: decimal.NewFromInt(5000)})

	if len(store.updated) != 0 {
		t.Fatalf("expected tick for an unrelated underlying to not update any position, got %v", store.updated)
	}
}
