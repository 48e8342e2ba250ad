package store

import (
	"testing"

	"fleetcommand/pkg/journal"
	"fleetcommand/pkg/travel"
	"fleetcommand/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRebind(t *testing.T) {
	cases := []struct{ in, want string }{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{"INSERT INTO t VALUES (?, 'it''s', ?)", "INSERT INTO t VALUES ($1, 'it''s', $2)"},
	}
	for _, c := range cases {
		if got := Rebind(c.in); got != c.want {
			t.Errorf("Rebind(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestQPassesThroughForSQLite(t *testing.T) {
	s := openTestStore(t)
	if got := s.Q("a = ?"); got != "a = ?" {
		t.Errorf("Q = %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestEventsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	evs := []types.Event{
		{Seq: 1, Tick: 1, Time: 1, Kind: types.KindOrder, Type: types.EventOrderSubmitted, FleetID: "f1",
			Payload: types.OrderSubmittedEvent{OrderID: "o1", OrderType: types.OrderMoveTo, Priority: types.PriorityNormal}},
		{Seq: 2, Tick: 1, Time: 1, Kind: types.KindOrder, Type: types.EventOrderActivated, FleetID: "f2",
			Payload: types.OrderActivatedEvent{OrderID: "o2", OrderType: types.OrderAttack}},
		{Seq: 3, Tick: 2, Time: 2, Kind: types.KindFormation, Type: types.EventFormationChanged, FleetID: "f1",
			Payload: types.FormationChangedEvent{TemplateID: "wedge"}},
	}
	for _, ev := range evs {
		s.Emit(ev)
	}

	all, err := s.ListEvents(0, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[2].Type != types.EventFormationChanged || all[2].Kind != types.KindFormation {
		t.Errorf("third event = %+v", all[2])
	}
	if string(all[2].Payload) != `{"template_id":"wedge"}` {
		t.Errorf("payload = %s", all[2].Payload)
	}

	f1, err := s.ListEvents(1, "f1", 10)
	if err != nil {
		t.Fatalf("list f1: %v", err)
	}
	if len(f1) != 1 || f1[0].Seq != 3 {
		t.Errorf("f1 after 1 = %+v", f1)
	}
}

func TestLedgerEntries(t *testing.T) {
	s := openTestStore(t)
	if _, ok, err := s.LatestLedgerEntry(); err != nil || ok {
		t.Fatalf("empty ledger: ok=%v err=%v", ok, err)
	}

	l := journal.NewLedger(0)
	for i := uint64(1); i <= 3; i++ {
		e, err := l.Append(i, float64(i)*10, map[string]uint64{"tick": i}, int(i))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := s.SaveLedgerEntry(e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	// Upsert on the same tick replaces the row.
	if err := s.SaveLedgerEntry(l.Entries()[2]); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := s.LedgerEntries(0, 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	if err := journal.Verify(got); err != nil {
		t.Errorf("stored chain does not verify: %v", err)
	}
	last, ok, err := s.LatestLedgerEntry()
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if last.FinalHash != l.Head() {
		t.Errorf("latest hash %s, head %s", last.FinalHash, l.Head())
	}
}

type snapState struct {
	Tick   uint64             `json:"tick"`
	Fleets map[string]float64 `json:"fleets"`
}

func TestSnapshots(t *testing.T) {
	s := openTestStore(t)
	var empty snapState
	if _, ok, err := s.LoadLatestSnapshot(&empty); err != nil || ok {
		t.Fatalf("empty: ok=%v err=%v", ok, err)
	}

	h1, err := s.SaveSnapshot(10, snapState{Tick: 10, Fleets: map[string]float64{"a": 1}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	h2, err := s.SaveSnapshot(20, snapState{Tick: 20, Fleets: map[string]float64{"a": 0.5, "b": 2}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if h1 == h2 || h1 == "" {
		t.Errorf("hashes %q %q", h1, h2)
	}

	var got snapState
	tick, ok, err := s.LoadLatestSnapshot(&got)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if tick != 20 || got.Fleets["b"] != 2 {
		t.Errorf("loaded tick %d state %+v", tick, got)
	}

	n, err := s.PruneSnapshots(1)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}

func TestSystems(t *testing.T) {
	s := openTestStore(t)
	for _, sys := range []travel.System{
		{ID: "sol", Name: "Sol", Cluster: "core"},
		{ID: "alpha-cen", Name: "Alpha Centauri", X: 3, Y: 4, Cluster: "core", Lane: true},
	} {
		if err := s.UpsertSystem(sys); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.UpsertSystem(travel.System{ID: "sol", Name: "Sol Prime", Cluster: "core"}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := s.Systems()
	if err != nil {
		t.Fatalf("systems: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d systems", len(got))
	}
	if got[0].ID != "alpha-cen" || !got[0].Lane || got[0].X != 3 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Name != "Sol Prime" {
		t.Errorf("sol not updated: %+v", got[1])
	}
}
