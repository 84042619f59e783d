// Package admission implements Validation & Admission (§4.6): the gate a
// canonical signal must pass before it becomes an ORDER_REQUEST.
package admission

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/strategystate"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

// Rules are the business rules evaluated during admission, grounded in the
// risk manager's position/loss limits, generalized to per-underlying terms.
type Rules struct {
	TradingEnabled  bool
	MaxPositionSize decimal.Decimal
	DailyLossLimit  decimal.Decimal
	AllowReversal   bool

	ReconcileFreshness time.Duration // default 30s
}

// Dependencies the Validator needs to do its job, all satisfied by
// already-built components so the Validator itself stays pure logic plus
// light coordination.
type Dependencies struct {
	Rules Rules

	DailyRealizedPnL func() decimal.Decimal
	LastReconcileAt  func() time.Time
	TriggerResync    func() error

	StrategyPositions func() map[string]domain.StrategyStateEntry
	HasPendingEntry   func(underlying string) bool
}

// Result is the outcome of admitting a signal.
type Result struct {
	Allowed bool
	Reason  string
}

// Validator runs the admission pipeline.
type Validator struct {
	deps   Dependencies
	logger *zap.Logger
}

// New builds a Validator.
func New(logger *zap.Logger, deps Dependencies) *Validator {
	return &Validator{deps: deps, logger: logger.Named("admission")}
}

// ParseAction normalizes a duck-typed action payload ({"Buy","B",1, ...})
// into the canonical Action type. Unlike ParseFillAction (§4.7) this is
// admission-time parsing: a signal whose action cannot be resolved is a
// rejected signal, never a silent default.
func ParseAction(raw any) (domain.Action, error) {
	switch v := raw.(type) {
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "BUY", "B", "LONG", "ENTER_LONG":
			return domain.ActionBuy, nil
		case "SELL", "S", "SHORT", "ENTER_SHORT":
			return domain.ActionSell, nil
		}
	case float64:
		if v == 1 {
			return domain.ActionBuy, nil
		}
		if v == 2 {
			return domain.ActionSell, nil
		}
	case int:
		if v == 1 {
			return domain.ActionBuy, nil
		}
		if v == 2 {
			return domain.ActionSell, nil
		}
	}
	return "", fmt.Errorf("admission: unrecognized action value %v", raw)
}

// Validate runs steps 1-6 of §4.6 against a parsed, canonical signal. The
// caller is expected to have already done JSON parsing; Validate assumes
// sig.Side and sig.Action are already canonical.
func (v *Validator) Validate(sig domain.Signal) Result {
	if !v.deps.Rules.TradingEnabled {
		return Result{Allowed: false, Reason: "trading disabled"}
	}

	if sig.Underlying == "" || sig.Symbol == "" {
		return Result{Allowed: false, Reason: "malformed signal: missing symbol/underlying"}
	}

	if r := v.checkBusinessRules(sig); !r.Allowed {
		return r
	}

	positions := v.deps.StrategyPositions()
	decision := strategystate.Evaluate(sig.Underlying, sig.Side, positions, sig.Strategy)
	if !decision.Allowed {
		return Result{Allowed: false, Reason: decision.Reason}
	}

	if v.needsResync(sig) {
		if err := v.deps.TriggerResync(); err != nil {
			v.logger.Warn("synchronous reconciliation before admission failed", zap.Error(err))
		}
	}

	if _, hasPosition := positions[sig.Underlying]; hasPosition {
		return Result{Allowed: false, Reason: "position already open on underlying"}
	}
	if v.deps.HasPendingEntry(sig.Underlying) {
		return Result{Allowed: false, Reason: "pending entry already open on underlying"}
	}

	return Result{Allowed: true, Reason: "accepted"}
}

func (v *Validator) checkBusinessRules(sig domain.Signal) Result {
	rules := v.deps.Rules

	if !rules.MaxPositionSize.IsZero() && sig.Quantity.GreaterThan(rules.MaxPositionSize) {
		return Result{Allowed: false, Reason: "signal quantity exceeds max position size"}
	}

	if !rules.DailyLossLimit.IsZero() && v.deps.DailyRealizedPnL != nil {
		if v.deps.DailyRealizedPnL().LessThan(rules.DailyLossLimit.Neg()) {
			return Result{Allowed: false, Reason: "daily loss limit reached"}
		}
	}

	if !rules.AllowReversal && v.deps.StrategyPositions != nil {
		positions := v.deps.StrategyPositions()
		if entry, ok := positions[sig.Underlying]; ok && entry.State == sig.Side.Opposite() {
			return Result{Allowed: false, Reason: "reversal not allowed"}
		}
	}

	return Result{Allowed: true}
}

// needsResync reports whether the last reconciliation is stale enough that
// admission must trigger a synchronous one before opening a new position.
func (v *Validator) needsResync(sig domain.Signal) bool {
	if v.deps.LastReconcileAt == nil || v.deps.TriggerResync == nil {
		return false
	}
	freshness := v.deps.Rules.ReconcileFreshness
	if freshness <= 0 {
		freshness = 30 * time.Second
	}
	return time.Since(v.deps.LastReconcileAt()) > freshness
}
