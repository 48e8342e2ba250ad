package journal

import (
	"errors"
	"testing"
)

type world struct {
	Tick  uint64             `json:"tick"`
	Fleet map[string]float64 `json:"fleet"`
}

func TestLedgerChains(t *testing.T) {
	l := NewLedger(0)
	if l.Head() != Genesis {
		t.Fatalf("new ledger should start at genesis")
	}
	for i := uint64(1); i <= 3; i++ {
		if _, err := l.Append(i, float64(i), world{Tick: i, Fleet: map[string]float64{"a": 1}}, 2); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	entries := l.Entries()
	if entries[0].PrevHash != Genesis || entries[2].FinalHash != l.Head() {
		t.Errorf("chain endpoints wrong: %+v", entries)
	}
	if err := Verify(entries); err != nil {
		t.Errorf("Verify: %v", err)
	}

	entries[1].StateHash = "tampered"
	if err := Verify(entries); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("tampered entry should break the chain, got %v", err)
	}
}

func TestLedgerDeterministic(t *testing.T) {
	a, b := NewLedger(0), NewLedger(0)
	for i := uint64(1); i <= 5; i++ {
		s := world{Tick: i, Fleet: map[string]float64{"x": float64(i), "y": 0.5}}
		a.Append(i, float64(i)*0.5, s, 0)
		b.Append(i, float64(i)*0.5, s, 0)
	}
	if a.Head() != b.Head() {
		t.Errorf("identical inputs diverged: %s vs %s", a.Head(), b.Head())
	}
}

func TestLedgerLimit(t *testing.T) {
	l := NewLedger(2)
	for i := uint64(1); i <= 5; i++ {
		l.Append(i, 0, world{Tick: i}, 0)
	}
	entries := l.Entries()
	if len(entries) != 2 || entries[0].Tick != 4 {
		t.Fatalf("want ticks 4 and 5, got %+v", entries)
	}
	if err := Verify(entries); err != nil {
		t.Errorf("trimmed window should still verify: %v", err)
	}
	if last, ok := l.Last(); !ok || last.Tick != 5 || last.FinalHash != l.Head() {
		t.Errorf("Last = %+v, %v", last, ok)
	}

	l.Resume("")
	if l.Head() != Genesis || len(l.Entries()) != 0 {
		t.Errorf("Resume with no head should restart at genesis")
	}
	if _, ok := l.Last(); ok {
		t.Errorf("Last after Resume should be empty")
	}
}
