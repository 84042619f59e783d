// Package contracts_test provides tests for futures symbol/contract resolution.
package contracts_test

import (
	"testing"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
)

func TestParseLogicalSymbolStripsContinuationSuffix(t *testing.T) {
	fam, err := contracts.ParseLogicalSymbol("NQ1!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fam != contracts.FamilyNQ {
		t.Fatalf("expected FamilyNQ, got %v", fam)
	}
}

func TestParseLogicalSymbolRejectsUnknownFamily(t *testing.T) {
	if _, err := contracts.ParseLogicalSymbol("ZZZ1!"); err == nil {
		t.Fatal("expected unknown family to return an error rather than a silent default")
	}
}

func TestSpecResolvesConcreteSymbolWithMonthCode(t *testing.T) {
	table := contracts.NewTable()
	spec, err := table.Spec("NQH6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Underlying != "NQ" || spec.PointValue != 20 {
		t.Fatalf("expected NQ full contract spec, got %+v", spec)
	}
}

func TestSpecResolvesMicroConcreteSymbol(t *testing.T) {
	table := contracts.NewTable()
	spec, err := table.Spec("MESZ5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !spec.IsMicro || spec.Underlying != "ES" {
		t.Fatalf("expected ES micro contract spec, got %+v", spec)
	}
}

func TestSameUnderlyingMatchesMicroAndFull(t *testing.T) {
	table := contracts.NewTable()
	if !table.SameUnderlying("MNQZ5", "NQ1!") {
		t.Fatal("expected MNQZ5 and NQ1! to share the same underlying")
	}
	if table.SameUnderlying("NQZ5", "ESZ5") {
		t.Fatal("expected NQ and ES to not share the same underlying")
	}
}

func TestMicroOfAndFullOfRoundTrip(t *testing.T) {
	table := contracts.NewTable()
	micro, ok := table.MicroOf(contracts.FamilyNQ)
	if !ok || micro != contracts.FamilyMNQ {
		t.Fatalf("expected MicroOf(NQ) = MNQ, got %v, %v", micro, ok)
	}
	full, ok := table.FullOf(micro)
	if !ok || full != contracts.FamilyNQ {
		t.Fatalf("expected FullOf(MNQ) = NQ, got %v, %v", full, ok)
	}
}

func TestFrontMonthSetAndGet(t *testing.T) {
	table := contracts.NewTable()
	if _, ok := table.FrontMonth("NQ"); ok {
		t.Fatal("expected no front month before SetFrontMonth is called")
	}
	table.SetFrontMonth("NQ", "NQH6")
	got, ok := table.FrontMonth("NQ")
	if !ok || got != "NQH6" {
		t.Fatalf("expected front month NQH6, got %q, %v", got, ok)
	}
}

func TestRoundToTickRoundsToNearestIncrement(t *testing.T) {
	got := contracts.RoundToTick(18000.13, 0.25)
	want := 18000.25
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
