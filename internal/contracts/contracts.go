// Package contracts resolves logical futures symbols (e.g. NQ1!) to their
// underlying product family and current front-month concrete contract, and
// holds the point-value/tick-size table used throughout the orchestrator.
package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Family is a recognized futures product family.
type Family string

const (
	FamilyNQ  Family = "NQ"
	FamilyMNQ Family = "MNQ"
	FamilyES  Family = "ES"
	FamilyMES Family = "MES"
	FamilyRTY Family = "RTY"
	FamilyM2K Family = "M2K"
)

// ErrUnknownSymbol is returned when a logical symbol doesn't match any
// recognized family. Per §7, defaults are never silently substituted here.
type ErrUnknownSymbol struct {
	Symbol string
}

func (e *ErrUnknownSymbol) Error() string {
	return fmt.Sprintf("contracts: unknown symbol %q", e.Symbol)
}

var knownFamilies = map[Family]bool{
	FamilyNQ: true, FamilyMNQ: true,
	FamilyES: true, FamilyMES: true,
	FamilyRTY: true, FamilyM2K: true,
}

// Spec describes one product family's contract economics.
type Spec struct {
	Underlying string // NQ, ES, RTY -- the family sans micro/full distinction
	Family     Family
	PointValue float64
	TickSize   float64
	IsMicro    bool
}

// Table holds the known contract specs and current front-month mapping.
// Front-month resolution is a stub by design: the broker/symbol service is
// an external collaborator (§1); this table is seeded with defaults and can
// be refreshed from the Symbol & Sizing Resolver's HTTP calls or from a
// persisted contracts:mappings blob (§4.2).
type Table struct {
	specs      map[Family]Spec
	frontMonth map[string]string // underlying -> concrete symbol, e.g. "NQ" -> "NQH6"
}

// NewTable builds the default futures contract table (§6).
func NewTable() *Table {
	return &Table{
		specs: map[Family]Spec{
			FamilyNQ:  {Underlying: "NQ", Family: FamilyNQ, PointValue: 20, TickSize: 0.25},
			FamilyMNQ: {Underlying: "NQ", Family: FamilyMNQ, PointValue: 2, TickSize: 0.25, IsMicro: true},
			FamilyES:  {Underlying: "ES", Family: FamilyES, PointValue: 50, TickSize: 0.25},
			FamilyMES: {Underlying: "ES", Family: FamilyMES, PointValue: 5, TickSize: 0.25, IsMicro: true},
			FamilyRTY: {Underlying: "RTY", Family: FamilyRTY, PointValue: 50, TickSize: 0.1},
			FamilyM2K: {Underlying: "RTY", Family: FamilyM2K, PointValue: 5, TickSize: 0.1, IsMicro: true},
		},
		frontMonth: make(map[string]string),
	}
}

// SetFrontMonth records the current front-month concrete contract for an
// underlying, e.g. SetFrontMonth("NQ", "NQH6").
func (t *Table) SetFrontMonth(underlying, concreteSymbol string) {
	t.frontMonth[underlying] = concreteSymbol
}

// FrontMonth returns the current concrete contract for an underlying, or
// ("", false) if none has been resolved yet.
func (t *Table) FrontMonth(underlying string) (string, bool) {
	s, ok := t.frontMonth[underlying]
	return s, ok
}

// ParseLogicalSymbol strips a TradingView-style continuation suffix (the
// trailing "1!", "2!", ...) and validates the remaining family token
// against the recognized set. Returns UnknownSymbol for anything else.
func ParseLogicalSymbol(logical string) (Family, error) {
	base := strings.ToUpper(strings.TrimSpace(logical))
	base = strings.TrimRight(base, "0123456789!")
	fam := Family(base)
	if !knownFamilies[fam] {
		return "", &ErrUnknownSymbol{Symbol: logical}
	}
	return fam, nil
}

// Underlying returns the product family (NQ, ES, RTY) for a recognized
// logical or concrete symbol, independent of month or micro/full variant.
func (t *Table) Underlying(symbol string) (string, error) {
	fam, err := familyOf(symbol)
	if err != nil {
		return "", err
	}
	spec, ok := t.specs[fam]
	if !ok {
		return "", &ErrUnknownSymbol{Symbol: symbol}
	}
	return spec.Underlying, nil
}

// familyOf extracts the family token from either a logical (NQ1!) or
// concrete (NQH6) symbol by stripping trailing month/continuation markers.
func familyOf(symbol string) (Family, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "!") {
		// Continuation symbol (NQ1!): drop the "1!" suffix only, so the
		// trailing digit is never read as a month-code year (Q1 in NQ1).
		s = strings.TrimRight(s, "0123456789!")
	} else if len(s) >= 2 {
		// Strip a trailing month-code + 1-digit year (e.g. H6) if present.
		last := s[len(s)-2:]
		if isMonthCode(last[0]) && last[1] >= '0' && last[1] <= '9' {
			s = s[:len(s)-2]
		}
	}
	s = strings.TrimRight(s, "0123456789")
	fam := Family(s)
	if !knownFamilies[fam] {
		return "", &ErrUnknownSymbol{Symbol: symbol}
	}
	return fam, nil
}

func isMonthCode(b byte) bool {
	switch b {
	case 'F', 'G', 'H', 'J', 'K', 'M', 'N', 'Q', 'U', 'V', 'X', 'Z':
		return true
	default:
		return false
	}
}

// Spec returns the contract spec for a logical or concrete symbol.
func (t *Table) Spec(symbol string) (Spec, error) {
	fam, err := familyOf(symbol)
	if err != nil {
		return Spec{}, err
	}
	spec, ok := t.specs[fam]
	if !ok {
		return Spec{}, &ErrUnknownSymbol{Symbol: symbol}
	}
	return spec, nil
}

// SpecForFamily returns the contract spec for a known family directly.
func (t *Table) SpecForFamily(fam Family) (Spec, bool) {
	spec, ok := t.specs[fam]
	return spec, ok
}

// MicroOf and FullOf map between the micro and full contract of the same
// underlying (MNQ<->NQ, MES<->ES), used by the Symbol & Sizing Resolver for
// full->micro downconversion. The Breakeven/Exit Controller matches price
// symbols through SameUnderlying instead.
func (t *Table) MicroOf(fullFamily Family) (Family, bool) {
	switch fullFamily {
	case FamilyNQ:
		return FamilyMNQ, true
	case FamilyES:
		return FamilyMES, true
	case FamilyRTY:
		return FamilyM2K, true
	default:
		return "", false
	}
}

func (t *Table) FullOf(microFamily Family) (Family, bool) {
	switch microFamily {
	case FamilyMNQ:
		return FamilyNQ, true
	case FamilyMES:
		return FamilyES, true
	case FamilyM2K:
		return FamilyRTY, true
	default:
		return "", false
	}
}

// SameUnderlying reports whether two symbols (logical, concrete, micro, or
// full) belong to the same product family, used to normalize an incoming
// PRICE_UPDATE's baseSymbol against a position's symbol.
func (t *Table) SameUnderlying(a, b string) bool {
	ua, errA := t.Underlying(a)
	ub, errB := t.Underlying(b)
	return errA == nil && errB == nil && ua == ub
}

// RoundToTick rounds a price to the instrument's tick size.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return roundToMultiple(price, tick)
}

func roundToMultiple(v, step float64) float64 {
	q := v / step
	r := q - float64(int64(q))
	if r >= 0.5 {
		q = float64(int64(q)) + 1
	} else if r <= -0.5 {
		q = float64(int64(q)) - 1
	} else {
		q = float64(int64(q))
	}
	return q * step
}

// Now exists purely so callers don't reach for time.Now() scattered across
// the package; contracts has no time-dependent logic of its own today, but
// front-month rollover will.
var Now = time.Now
