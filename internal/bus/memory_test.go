// Package bus_test provides tests for the in-memory bus.
package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/bus"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := bus.NewMemoryBus(zap.NewNop(), bus.DefaultMemoryConfig())
	defer b.Close()

	var mu sync.Mutex
	var received []byte
	done := make(chan struct{})

	err := b.Subscribe(context.Background(), "signals", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		received = payload
		mu.Unlock()
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	if err := b.Publish(context.Background(), "signals", []byte("hello")); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", received)
	}
}

func TestSubscribeIsPerChannel(t *testing.T) {
	b := bus.NewMemoryBus(zap.NewNop(), bus.DefaultMemoryConfig())
	defer b.Close()

	var calls int
	var mu sync.Mutex
	b.Subscribe(context.Background(), "orders", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), "fills", []byte("x"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected a publish on an unrelated channel to not invoke the orders handler, got %d calls", calls)
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	b := bus.NewMemoryBus(zap.NewNop(), bus.DefaultMemoryConfig())
	defer b.Close()

	if err := b.Set(context.Background(), "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	val, ok, err := b.Get(context.Background(), "k1")
	if err != nil || !ok {
		t.Fatalf("expected k1 to be present, got ok=%v err=%v", ok, err)
	}
	if string(val) != "v1" {
		t.Fatalf("expected v1, got %q", val)
	}
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	b := bus.NewMemoryBus(zap.NewNop(), bus.DefaultMemoryConfig())
	defer b.Close()

	_, ok, err := b.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected missing key to report not found")
	}
}

func TestSetWithTTLExpires(t *testing.T) {
	b := bus.NewMemoryBus(zap.NewNop(), bus.DefaultMemoryConfig())
	defer b.Close()

	if err := b.Set(context.Background(), "short-lived", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	_, ok, err := b.Get(context.Background(), "short-lived")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected expired key to be gone")
	}
}
