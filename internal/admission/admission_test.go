// Package admission_test provides tests for validation and admission.
package admission_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/admission"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

func baseDeps() admission.Dependencies {
	return admission.Dependencies{
		Rules: admission.Rules{
			TradingEnabled:  true,
			MaxPositionSize: decimal.NewFromInt(5),
			DailyLossLimit:  decimal.NewFromInt(1000),
			AllowReversal:   false,
		},
		DailyRealizedPnL:  func() decimal.Decimal { return decimal.Zero },
		LastReconcileAt:   func() time.Time { return time.Now() },
		TriggerResync:     func() error { return nil },
		StrategyPositions: func() map[string]domain.StrategyStateEntry { return map[string]domain.StrategyStateEntry{} },
		HasPendingEntry:   func(string) bool { return false },
	}
}

func TestValidateRejectsWhenTradingDisabled(t *testing.T) {
	deps := baseDeps()
	deps.Rules.TradingEnabled = false
	v := admission.New(zap.NewNop(), deps)

	result := v.Validate(domain.Signal{Underlying: "NQ", Symbol: "NQ1!", Side: domain.SideLong, Strategy: "momentum"})
	if result.Allowed {
		t.Fatal("expected signal to be rejected while trading disabled")
	}
}

func TestValidateRejectsMalformedSignal(t *testing.T) {
	v := admission.New(zap.NewNop(), baseDeps())
	result := v.Validate(domain.Signal{Side: domain.SideLong, Strategy: "momentum"})
	if result.Allowed {
		t.Fatal("expected signal missing symbol/underlying to be rejected")
	}
}

func TestValidateRejectsOverMaxPositionSize(t *testing.T) {
	v := admission.New(zap.NewNop(), baseDeps())
	sig := domain.Signal{Underlying: "NQ", Symbol: "NQ1!", Side: domain.SideLong, Strategy: "momentum", Quantity: decimal.NewFromInt(10)}
	result := v.Validate(sig)
	if result.Allowed {
		t.Fatal("expected quantity over max position size to be rejected")
	}
}

func TestValidateRejectsAtDailyLossLimit(t *testing.T) {
	deps := baseDeps()
	deps.DailyRealizedPnL = func() decimal.Decimal { return decimal.NewFromInt(-1500) }
	v := admission.New(zap.NewNop(), deps)

	sig := domain.Signal{Underlying: "NQ", Symbol: "NQ1!", Side: domain.SideLong, Strategy: "momentum", Quantity: decimal.NewFromInt(1)}
	result := v.Validate(sig)
	if result.Allowed {
		t.Fatal("expected signal to be rejected once daily loss limit is breached")
	}
}

func TestValidateRejectsReversalWhenDisallowed(t *testing.T) {
	deps := baseDeps()
	deps.StrategyPositions = func() map[string]domain.StrategyStateEntry {
		return map[string]domain.StrategyStateEntry{"NQ": {State: domain.SideLong, Source: "momentum"}}
	}
	v := admission.New(zap.NewNop(), deps)

	sig := domain.Signal{Underlying: "NQ", Symbol: "NQ1!", Side: domain.SideShort, Strategy: "momentum", Quantity: decimal.NewFromInt(1)}
	result := v.Validate(sig)
	if result.Allowed {
		t.Fatal("expected reversal signal to be rejected when AllowReversal is false")
	}
}

func TestValidateRejectsWhenPositionAlreadyOpen(t *testing.T) {
	deps := baseDeps()
	deps.StrategyPositions = func() map[string]domain.StrategyStateEntry {
		return map[string]domain.StrategyStateEntry{"NQ": {State: domain.SideLong, Source: "momentum"}}
	}
	v := admission.New(zap.NewNop(), deps)

	sig := domain.Signal{Underlying: "NQ", Symbol: "NQ1!", Side: domain.SideLong, Strategy: "momentum", Quantity: decimal.NewFromInt(1)}
	result := v.Validate(sig)
	if result.Allowed {
		t.Fatal("expected signal for an underlying with a position already open to be rejected")
	}
}

func TestValidateRejectsWhenPendingEntryOpen(t *testing.T) {
	deps := baseDeps()
	deps.HasPendingEntry = func(underlying string) bool { return underlying == "NQ" }
	v := admission.New(zap.NewNop(), deps)

	sig := domain.Signal{Underlying: "NQ", Symbol: "NQ1!", Side: domain.SideLong, Strategy: "momentum", Quantity: decimal.NewFromInt(1)}
	result := v.Validate(sig)
	if result.Allowed {
		t.Fatal("expected signal to be rejected while a pending entry is already open")
	}
}

func TestValidateAcceptsCleanSignal(t *testing.T) {
	v := admission.New(zap.NewNop(), baseDeps())
	sig := domain.Signal{Underlying: "NQ", Symbol: "NQ1!", Side: domain.SideLong, Strategy: "momentum", Quantity: decimal.NewFromInt(1)}
	result := v.Validate(sig)
	if !result.Allowed {
		t.Fatalf("expected clean signal to be accepted, got reason %q", result.Reason)
	}
}

func TestParseActionHandlesDuckTypedVariants(t *testing.T) {
	cases := []struct {
		raw  any
		want domain.Action
	}{
		{"Buy", domain.ActionBuy},
		{"B", domain.ActionBuy},
		{"long", domain.ActionBuy},
		{"Sell", domain.ActionSell},
		{"S", domain.ActionSell},
		{"short", domain.ActionSell},
		{float64(1), domain.ActionBuy},
		{float64(2), domain.ActionSell},
	}
	for _, tc := range cases {
		got, err := admission.ParseAction(tc.raw)
		if err != nil {
			t.Errorf("ParseAction(%v) returned error: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAction(%v) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseActionRejectsUnrecognizedValue(t *testing.T) {
	if _, err := admission.ParseAction("sideways"); err == nil {
		t.Fatal("expected unrecognized action value to return an error, not a silent default")
	}
}
