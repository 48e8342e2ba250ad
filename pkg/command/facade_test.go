package command

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"fleetcommand/pkg/formation"
	"fleetcommand/pkg/journal"
	"fleetcommand/pkg/types"
)

func newFacade(t *testing.T) *Facade {
	t.Helper()
	f, err := New(DefaultConfig(), Options{LogFunc: t.Logf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func ships(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a'+i)) + "-ship"
	}
	return ids
}

func addFleet(t *testing.T, f *Facade, id types.FleetID, n int, pos types.Vector3) *types.FleetCommandState {
	t.Helper()
	fs, err := f.InitializeFleetCommand(types.FleetSnapshot{
		FleetID: id, ShipIDs: ships(n), Position: pos, SystemID: "sol",
	}, types.EmpireContext{EmpireID: "terra", CommanderID: "cmd-" + string(id)})
	if err != nil {
		t.Fatalf("InitializeFleetCommand(%s): %v", id, err)
	}
	return fs
}

func TestInitializeFleetCommandDefaults(t *testing.T) {
	f := newFacade(t)
	fs := addFleet(t, f, "alpha", 6, types.Vector3{})

	if fs.Capability.ShipCount != 6 || fs.Capability.Firepower != 60 || fs.Capability.Mass != 6000 {
		t.Errorf("capability from loadout: %+v", fs.Capability)
	}
	if fs.FlagshipID != "a-ship" || fs.CommanderID != "cmd-alpha" || fs.CommanderSkill != 1 {
		t.Errorf("command identity: flagship %q commander %q skill %v", fs.FlagshipID, fs.CommanderID, fs.CommanderSkill)
	}
	if fs.Logistics.FuelStatus != 1 || len(fs.Logistics.SupplyStatus) != 3 || fs.Combat.Morale != 75 {
		t.Errorf("initial logistics/morale: %+v %+v", fs.Logistics, fs.Combat)
	}
	if fs.Combat.CombatRating <= 0 {
		t.Errorf("rating should be computed, got %v", fs.Combat.CombatRating)
	}

	fs.Logistics.FuelStatus = 0
	if held, _ := f.Fleet("alpha"); held.Logistics.FuelStatus != 1 {
		t.Errorf("returned state must be a copy")
	}

	if _, err := f.InitializeFleetCommand(types.FleetSnapshot{FleetID: "alpha"}, types.EmpireContext{}); !errors.Is(err, ErrFleetExists) {
		t.Errorf("duplicate: got %v", err)
	}
	if _, err := f.InitializeFleetCommand(types.FleetSnapshot{}, types.EmpireContext{}); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("empty id: got %v", err)
	}
}

func TestSetFormationShipMinimum(t *testing.T) {
	f := newFacade(t)
	addFleet(t, f, "six", 6, types.Vector3{})
	addFleet(t, f, "two", 2, types.Vector3{})

	if err := f.SetFormation("six", "line_ahead"); err != nil {
		t.Errorf("6 ships in line_ahead: %v", err)
	}
	if err := f.SetFormation("two", "line_ahead"); !errors.Is(err, formation.ErrInsufficientShips) {
		t.Errorf("2 ships in line_ahead: got %v", err)
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	f := newFacade(t)
	addFleet(t, f, "alpha", 8, types.Vector3{})
	f.SetFormation("alpha", "battle_line")
	if _, err := f.IssueOrder("alpha", types.OrderMoveTo, types.OrderParameters{},
		types.OrderTarget{Position: &types.Vector3{X: 50000}}, types.PriorityNormal); err != nil {
		t.Fatalf("IssueOrder: %v", err)
	}
	f.Tick(1, nil)

	first, err := f.GetFleetTacticalStatus("alpha")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	second, _ := f.GetFleetTacticalStatus("alpha")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("status changed without a tick:\n%+v\n%+v", first, second)
	}
	if first.ActiveOrder == nil || first.ActiveOrder.Type != types.OrderMoveTo {
		t.Errorf("active order missing from status")
	}
	if first.Formation.Name != "Battle Line" || first.Formation.TemplateID != "battle_line" {
		t.Errorf("formation status: %+v", first.Formation)
	}

	if _, err := f.GetFleetTacticalStatus("ghost"); !errors.Is(err, ErrUnknownFleet) {
		t.Errorf("unknown fleet: got %v", err)
	}
}

func TestTickDeliversEvents(t *testing.T) {
	f := newFacade(t)
	addFleet(t, f, "alpha", 4, types.Vector3{})
	f.IssueOrder("alpha", types.OrderMoveTo, types.OrderParameters{},
		types.OrderTarget{Position: &types.Vector3{X: 500}}, types.PriorityNormal)

	var seen []types.Event
	events, err := f.Tick(1, types.SinkFunc(func(ev types.Event) { seen = append(seen, ev) }))
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !reflect.DeepEqual(events, seen) {
		t.Errorf("sink and return value disagree")
	}
	var kinds []types.EventType
	for i, ev := range events {
		if i > 0 && ev.Seq <= events[i-1].Seq {
			t.Errorf("event sequence not increasing at %d", i)
		}
		if ev.Type.Kind() == types.KindOrder {
			kinds = append(kinds, ev.Type)
		}
	}
	want := []types.EventType{types.EventOrderSubmitted, types.EventOrderActivated, types.EventOrderCompleted}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("order events: want %v, got %v", want, kinds)
	}

	if more, _ := f.Tick(1, nil); len(more) != 0 {
		t.Errorf("idle tick should raise nothing, got %v", more)
	}
	if _, err := f.Tick(0, nil); !errors.Is(err, ErrInvalidDelta) {
		t.Errorf("zero delta: got %v", err)
	}
}

func battle(t *testing.T, f *Facade) {
	t.Helper()
	addFleet(t, f, "red", 12, types.Vector3{})
	addFleet(t, f, "blue", 8, types.Vector3{X: 30000})
	f.SetFormation("red", "line_ahead")
	if _, err := f.IssueOrder("red", types.OrderAttack, types.OrderParameters{},
		types.OrderTarget{FleetID: "blue"}, types.PriorityHigh); err != nil {
		t.Fatalf("attack: %v", err)
	}
	if _, err := f.IssueOrder("blue", types.OrderDefend, types.OrderParameters{Duration: 600},
		types.OrderTarget{}, types.PriorityNormal); err != nil {
		t.Fatalf("defend: %v", err)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	a, b := newFacade(t), newFacade(t)
	battle(t, a)
	battle(t, b)
	for i := 0; i < 600 && len(a.Summaries()) == 0; i++ {
		a.Tick(1, nil)
		b.Tick(1, nil)
	}
	if a.Ledger().Head() != b.Ledger().Head() {
		t.Fatalf("identical runs diverged")
	}
	if err := journal.Verify(a.Ledger().Entries()); err != nil {
		t.Errorf("ledger: %v", err)
	}
	if len(a.Summaries()) == 0 {
		t.Errorf("the battle should have been fought")
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	a := newFacade(t)
	battle(t, a)
	for i := 0; i < 20; i++ {
		a.Tick(1, nil)
	}

	raw, err := json.Marshal(a.Export())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b := newFacade(t)
	if err := b.Restore(s); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !reflect.DeepEqual(a.Export(), b.Export()) {
		t.Fatalf("restore is lossy")
	}
	for i := 0; i < 40; i++ {
		a.Tick(1, nil)
		b.Tick(1, nil)
	}
	if a.Ledger().Head() != b.Ledger().Head() {
		t.Errorf("restored facade diverged from the original")
	}
}

func TestEndCombatEngagementSettlesOrders(t *testing.T) {
	f := newFacade(t)
	addFleet(t, f, "red", 10, types.Vector3{})
	addFleet(t, f, "blue", 10, types.Vector3{X: 100})
	id, _ := f.IssueOrder("red", types.OrderAttack, types.OrderParameters{},
		types.OrderTarget{FleetID: "blue"}, types.PriorityNormal)
	f.Tick(1, nil)

	red, _ := f.Fleet("red")
	if !red.Combat.InCombat {
		t.Fatalf("red should be engaged")
	}
	sum, err := f.EndCombatEngagement(red.Combat.EngagementID)
	if err != nil {
		t.Fatalf("EndCombatEngagement: %v", err)
	}
	if sum.Rounds != 1 {
		t.Errorf("one exchange expected, got %d", sum.Rounds)
	}
	red, _ = f.Fleet("red")
	if red.Combat.InCombat || red.ActiveOrder != nil {
		t.Fatalf("red should be released with its attack settled")
	}
	if len(red.History) != 1 || red.History[0].ID != id || !red.History[0].Status.Terminal() {
		t.Errorf("attack not in history: %+v", red.History)
	}
	if _, ok := f.Summary(sum.EngagementID); !ok {
		t.Errorf("summary should outlive the engagement")
	}
}

func TestRemoveFleetLosesEscort(t *testing.T) {
	f := newFacade(t)
	addFleet(t, f, "convoy", 4, types.Vector3{})
	addFleet(t, f, "guard", 6, types.Vector3{X: 2000})
	id, err := f.IssueOrder("guard", types.OrderEscort, types.OrderParameters{},
		types.OrderTarget{FleetID: "convoy"}, types.PriorityNormal)
	if err != nil {
		t.Fatalf("escort: %v", err)
	}
	f.Tick(1, nil)
	if err := f.RemoveFleet("convoy"); err != nil {
		t.Fatalf("RemoveFleet: %v", err)
	}
	f.Tick(1, nil)
	guard, _ := f.Fleet("guard")
	if len(guard.History) != 1 || guard.History[0].ID != id || guard.History[0].FailureReason != types.ReasonTargetLost {
		t.Errorf("escort should fail TargetLost: %+v", guard.History)
	}
	if err := f.RemoveFleet("convoy"); !errors.Is(err, ErrUnknownFleet) {
		t.Errorf("second remove: got %v", err)
	}
}
