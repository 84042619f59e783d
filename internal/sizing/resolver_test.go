// Package sizing_test provides tests for the symbol & sizing resolver.
package sizing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/sizing"
)

func TestResolveFixedPassesThroughWithNoSymbolService(t *testing.T) {
	r := sizing.NewResolver(zap.NewNop(), contracts.NewTable(), sizing.Config{})

	result, err := r.Resolve(context.Background(), sizing.Request{
		LogicalSymbol: "NQ1!", Method: sizing.MethodFixed, RequestedQty: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ConcreteSymbol != "NQ" {
		t.Fatalf("expected pass-through underlying NQ with no symbol service configured, got %q", result.ConcreteSymbol)
	}
	if result.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", result.Quantity)
	}
}

func TestResolveFixedDefaultsToOneContractWhenUnspecified(t *testing.T) {
	r := sizing.NewResolver(zap.NewNop(), contracts.NewTable(), sizing.Config{})

	result, err := r.Resolve(context.Background(), sizing.Request{LogicalSymbol: "ES1!", Method: sizing.MethodFixed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Quantity != 1 {
		t.Fatalf("expected default quantity 1, got %d", result.Quantity)
	}
}

func TestResolveFixedDownconvertsToMicro(t *testing.T) {
	r := sizing.NewResolver(zap.NewNop(), contracts.NewTable(), sizing.Config{})

	result, err := r.Resolve(context.Background(), sizing.Request{
		LogicalSymbol: "NQ1!", Method: sizing.MethodFixed, Family: sizing.FamilyMicro, RequestedQty: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Converted {
		t.Fatal("expected a family-micro request on a full symbol to report a conversion")
	}
	if result.ConcreteSymbol != "MNQ" {
		t.Fatalf("expected downconverted symbol MNQ, got %q", result.ConcreteSymbol)
	}
}

func TestResolveUnknownLogicalSymbolReturnsError(t *testing.T) {
	r := sizing.NewResolver(zap.NewNop(), contracts.NewTable(), sizing.Config{})

	_, err := r.Resolve(context.Background(), sizing.Request{LogicalSymbol: "ZZZ1!", Method: sizing.MethodFixed})
	if err == nil {
		t.Fatal("expected unrecognized logical symbol to return an error, not a silent default")
	}
}

func TestResolveRiskBasedRequiresEntryAndStopPrices(t *testing.T) {
	balanceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"balance": 50000})
	}))
	defer balanceSrv.Close()

	r := sizing.NewResolver(zap.NewNop(), contracts.NewTable(), sizing.Config{AccountBalanceURL: balanceSrv.URL})

	_, err := r.Resolve(context.Background(), sizing.Request{LogicalSymbol: "NQ1!", Method: sizing.MethodRiskBased})
	if err == nil {
		t.Fatal("expected risk-based sizing without entry/stop prices to return ErrInsufficientInputs")
	}
}

func TestResolveRiskBasedUsesFullContractWhenAffordable(t *testing.T) {
	balanceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"balance": 100000})
	}))
	defer balanceSrv.Close()

	r := sizing.NewResolver(zap.NewNop(), contracts.NewTable(), sizing.Config{
		AccountBalanceURL: balanceSrv.URL, DefaultRiskPct: 0.01,
	})

	result, err := r.Resolve(context.Background(), sizing.Request{
		LogicalSymbol: "NQ1!", Method: sizing.MethodRiskBased,
		EntryPrice: 18000, StopPrice: 17990,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Converted {
		t.Fatal("expected an affordable full-contract risk budget to not downconvert")
	}
	if result.Quantity < 1 {
		t.Fatalf("expected at least 1 contract, got %d", result.Quantity)
	}
}

func TestResolveRiskBasedDownconvertsWhenFullContractTooExpensive(t *testing.T) {
	balanceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"balance": 1000})
	}))
	defer balanceSrv.Close()

	r := sizing.NewResolver(zap.NewNop(), contracts.NewTable(), sizing.Config{
		AccountBalanceURL: balanceSrv.URL, DefaultRiskPct: 0.01,
	})

	result, err := r.Resolve(context.Background(), sizing.Request{
		LogicalSymbol: "NQ1!", Method: sizing.MethodRiskBased,
		EntryPrice: 18000, StopPrice: 17900,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Converted {
		t.Fatal("expected a too-expensive full contract to downconvert to micro")
	}
	if result.ConcreteSymbol != "MNQ" {
		t.Fatalf("expected downconverted symbol MNQ, got %q", result.ConcreteSymbol)
	}
}

func TestResolveFrontMonthFallsBackToCacheOnServiceFailure(t *testing.T) {
	table := contracts.NewTable()
	table.SetFrontMonth("NQ", "NQH6")

	failingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failingSrv.Close()

	r := sizing.NewResolver(zap.NewNop(), table, sizing.Config{FrontMonthURL: failingSrv.URL})

	result, err := r.Resolve(context.Background(), sizing.Request{LogicalSymbol: "NQ1!", Method: sizing.MethodFixed, RequestedQty: 1})
	if err != nil {
		t.Fatalf("expected fallback to cached front month, got error: %v", err)
	}
	if result.ConcreteSymbol != "NQH6" {
		t.Fatalf("expected cached front month NQH6, got %q", result.ConcreteSymbol)
	}
}
