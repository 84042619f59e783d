package strategystate

import "github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"

// Decision is the outcome of the Cross-Strategy Filter.
type Decision struct {
	Allowed     bool
	Reason      string
	Adjustments map[string]any
}

// Evaluate is the pure Cross-Strategy Filter function described in §4.5:
// (signal, underlying, direction, positions) -> {allowed, reason, adjustments?}.
// It never mutates the tracker; callers apply the decision and record the
// resulting state transition separately under the orchestrator's lock.
func Evaluate(underlying string, side domain.Side, current map[string]domain.StrategyStateEntry, strategy string) Decision {
	entry, exists := current[underlying]
	if !exists {
		return Decision{Allowed: true, Reason: "no existing position for underlying"}
	}

	if entry.State == side {
		return Decision{
			Allowed: false,
			Reason:  "another strategy already holds the same side on this underlying",
		}
	}

	// Opposite side already held by a different strategy: reject rather than
	// flip, since flipping belongs to the broker-fill-driven Position
	// Aggregator, not to admission-time filtering.
	if entry.Source != strategy {
		return Decision{
			Allowed: false,
			Reason:  "opposing strategy already holds a position on this underlying",
			Adjustments: map[string]any{
				"heldBy": entry.Source,
				"heldSide": entry.State,
			},
		}
	}

	return Decision{Allowed: true, Reason: "same strategy re-entering opposite side"}
}
