package combat

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"fleetcommand/pkg/types"
)

type recorder struct {
	started   int
	exchanges []types.CombatExchangeEvent
	retreats  []types.FleetID
	destroyed []types.FleetID
	ended     []types.EngagementSummary
}

func (r *recorder) EmitEngagementStarted(id types.EngagementID, system types.SystemID, attackers, defenders []types.FleetID) {
	r.started++
}
func (r *recorder) EmitCombatExchange(ev types.CombatExchangeEvent, participants []types.FleetID) {
	r.exchanges = append(r.exchanges, ev)
}
func (r *recorder) EmitForcedRetreat(fleetID types.FleetID, id types.EngagementID, morale float64) {
	r.retreats = append(r.retreats, fleetID)
}
func (r *recorder) EmitFleetDestroyed(fleetID types.FleetID, id types.EngagementID) {
	r.destroyed = append(r.destroyed, fleetID)
}
func (r *recorder) EmitEngagementEnded(summary types.EngagementSummary) {
	r.ended = append(r.ended, summary)
}

func fleet(id types.FleetID, ships int, firepower, morale float64) *types.FleetCommandState {
	return &types.FleetCommandState{
		FleetID:        id,
		SystemID:       "sol",
		CommanderSkill: 1,
		Capability:     types.Capability{ShipCount: ships, Firepower: firepower, Mass: float64(ships) * 1000},
		Combat:         types.CombatStatus{Morale: morale},
	}
}

func setup(t *testing.T, cfg Config, fleets ...*types.FleetCommandState) (*Resolver, types.Fleets, *recorder) {
	t.Helper()
	roster := types.Fleets{}
	for _, f := range fleets {
		roster[f.FleetID] = f
	}
	rec := &recorder{}
	return NewResolver(cfg, roster, nil, rec, nil), roster, rec
}

func TestMoraleFactorBands(t *testing.T) {
	cases := []struct {
		morale, want float64
	}{
		{0, 0.5}, {19.9, 0.5}, {20, 0.9}, {50, 0.95}, {80, 1.0}, {90, 1.1}, {100, 1.2}, {150, 1.2}, {-5, 0.5},
	}
	for _, tc := range cases {
		if got := MoraleFactor(tc.morale); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("MoraleFactor(%v) = %v, want %v", tc.morale, got, tc.want)
		}
	}
}

func TestRatingIsAProduct(t *testing.T) {
	r, _, _ := setup(t, DefaultConfig())
	f := fleet("a", 10, 100, 80)
	if got := r.Rating(f); math.Abs(got-100) > 1e-9 {
		t.Errorf("baseline rating: want 100, got %v", got)
	}
	f.Capability.Defense = 100
	f.Combat.Experience = 10
	if got := r.Rating(f); math.Abs(got-100*1.5*2) > 1e-9 {
		t.Errorf("defense and experience: want 300, got %v", got)
	}
	f.Capability.Firepower = 0
	if got := r.Rating(f); got != 0 {
		t.Errorf("zero firepower must zero the rating, got %v", got)
	}
	g := fleet("b", 10, 100, 80)
	g.CommanderSkill = 0
	if r.Rating(g) != 0 {
		t.Error("zero commander skill must zero the rating")
	}
}

func TestStrongerSideWinsMorale(t *testing.T) {
	a := fleet("a", 10, 100, 80)
	b := fleet("b", 10, 50, 80)
	r, _, rec := setup(t, DefaultConfig(), a, b)
	if r.Rating(a) != 100 || r.Rating(b) != 50 {
		t.Fatalf("unexpected starting ratings %v vs %v", r.Rating(a), r.Rating(b))
	}
	id, err := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
	if err != nil {
		t.Fatal(err)
	}
	for tick := 0; tick < 5; tick++ {
		prevA, prevB := a.Combat.Morale, b.Combat.Morale
		res, err := r.ResolveTick(id, 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Winner != types.SideAttackers {
			t.Fatalf("tick %d: stronger side should win, got %s", tick, res.Winner)
		}
		if res.DefenderLosses > 0 && b.Combat.Morale >= prevB {
			t.Errorf("tick %d: loser morale did not drop (%v -> %v)", tick, prevB, b.Combat.Morale)
		}
		if a.Combat.Morale < prevA || a.Combat.Morale > 100 {
			t.Errorf("tick %d: winner morale %v -> %v", tick, prevA, a.Combat.Morale)
		}
	}
	if a.Combat.Morale != 100 {
		t.Errorf("winner should reach the morale cap, got %v", a.Combat.Morale)
	}
	if len(rec.exchanges) != 5 {
		t.Errorf("expected 5 exchange events, got %d", len(rec.exchanges))
	}
}

// Losses follow the rating ratio, so a smaller fleet with half the rating
// loses every exchange however the jitter falls.
func TestStrongerSideWinsWhenOutnumbering(t *testing.T) {
	for seed := 0; seed < 20; seed++ {
		cfg := DefaultConfig()
		cfg.Seed = "seed-" + strconv.Itoa(seed)
		a := fleet("a", 10, 100, 80)
		b := fleet("b", 5, 50, 80)
		r, _, _ := setup(t, cfg, a, b)
		id, err := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
		if err != nil {
			t.Fatal(err)
		}
		for tick := 0; tick < 5; tick++ {
			prevA, prevB := a.Combat.Morale, b.Combat.Morale
			res, err := r.ResolveTick(id, 1)
			if err != nil {
				t.Fatal(err)
			}
			if res.Winner != types.SideAttackers {
				t.Fatalf("seed %d tick %d: rating %v beat %v", seed, tick, res.DefenderRating, res.AttackerRating)
			}
			if res.AttackerDamage <= res.DefenderDamage {
				t.Errorf("seed %d tick %d: damage dealt %v vs %v", seed, tick, res.AttackerDamage, res.DefenderDamage)
			}
			if b.Combat.Morale >= prevB {
				t.Errorf("seed %d tick %d: loser morale %v -> %v", seed, tick, prevB, b.Combat.Morale)
			}
			if a.Combat.Morale < prevA {
				t.Errorf("seed %d tick %d: winner morale %v -> %v", seed, tick, prevA, a.Combat.Morale)
			}
		}
		sum, err := r.EndEngagement(id)
		if err != nil {
			t.Fatal(err)
		}
		if sum.Winner != types.SideAttackers {
			t.Errorf("seed %d: summary winner %s", seed, sum.Winner)
		}
	}
}

func TestDestroyedFleetGainsNoExperience(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LossRate = 50
	a := fleet("a", 100, 10000, 50)
	b := fleet("b", 10, 10, 50)
	r, _, _ := setup(t, cfg, a, b)
	id, _ := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
	if _, err := r.ResolveTick(id, 10); err != nil {
		t.Fatal(err)
	}
	if !b.Combat.Destroyed {
		t.Fatalf("defender should be wiped out: %+v", b.Capability)
	}
	if b.Combat.Experience != 0 {
		t.Errorf("destroyed fleet gained experience %v", b.Combat.Experience)
	}
	if a.Combat.Experience != cfg.ExperiencePerTick {
		t.Errorf("survivor experience %v, want %v", a.Combat.Experience, cfg.ExperiencePerTick)
	}
}

func TestExperienceAndMoraleStayBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LossRate = 0.2
	a := fleet("a", 40, 400, 100)
	b := fleet("b", 40, 390, 100)
	r, _, _ := setup(t, cfg, a, b)
	id, _ := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
	prevExp := 0.0
	for i := 0; i < 60; i++ {
		res, err := r.ResolveTick(id, 2)
		if err != nil {
			break
		}
		for _, f := range []*types.FleetCommandState{a, b} {
			if f.Combat.Experience < 0 || f.Combat.Experience > 10 {
				t.Fatalf("experience out of range: %v", f.Combat.Experience)
			}
			if f.Combat.Morale < 0 || f.Combat.Morale > 100 {
				t.Fatalf("morale out of range: %v", f.Combat.Morale)
			}
		}
		if a.Combat.Experience < prevExp {
			t.Fatalf("experience decreased %v -> %v", prevExp, a.Combat.Experience)
		}
		prevExp = a.Combat.Experience
		if res.Ended {
			break
		}
	}
}

func TestMassiveLossesFloorMorale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LossRate = 50
	a := fleet("a", 100, 10000, 50)
	b := fleet("b", 100, 10, 50)
	r, _, rec := setup(t, cfg, a, b)
	id, _ := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
	res, err := r.ResolveTick(id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if b.Combat.Morale != 0 && !b.Combat.Destroyed {
		t.Errorf("expected morale floored at 0, got %v", b.Combat.Morale)
	}
	if !res.Ended {
		t.Error("engagement should end once the defender is gone")
	}
	if len(rec.destroyed)+len(rec.retreats) == 0 {
		t.Error("defender should be destroyed or retreat")
	}
}

func TestForcedRetreatEndsParticipation(t *testing.T) {
	a := fleet("a", 10, 100, 80)
	b := fleet("b", 10, 50, 20.5)
	r, _, rec := setup(t, DefaultConfig(), a, b)
	id, _ := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
	res, err := r.ResolveTick(id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Retreated) != 1 || res.Retreated[0] != "b" {
		t.Fatalf("expected b to retreat, got %v", res.Retreated)
	}
	if b.Combat.InCombat {
		t.Error("retreated fleet is still in combat")
	}
	if !res.Ended || res.Summary == nil {
		t.Fatal("engagement should end with no defenders left")
	}
	if res.Summary.Winner != types.SideAttackers {
		t.Errorf("expected attackers to win, got %s", res.Summary.Winner)
	}
	if len(rec.retreats) != 1 || len(rec.ended) != 1 {
		t.Errorf("expected retreat and end events, got %v / %d", rec.retreats, len(rec.ended))
	}
	if _, ok := r.Engagement(id); ok {
		t.Error("ended engagement still registered")
	}
	if _, ok := r.Summary(id); !ok {
		t.Error("summary not retained")
	}
}

func TestStartEngagementErrors(t *testing.T) {
	a := fleet("a", 10, 100, 80)
	b := fleet("b", 10, 50, 80)
	c := fleet("c", 10, 50, 80)
	c.SystemID = "vega"
	r, _, _ := setup(t, DefaultConfig(), a, b, c)

	if _, err := r.StartEngagement(nil, []types.FleetID{"b"}, "sol"); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("empty attackers: got %v", err)
	}
	if _, err := r.StartEngagement([]types.FleetID{"ghost"}, []types.FleetID{"b"}, "sol"); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("unknown attacker: got %v", err)
	}
	if _, err := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"c"}, "sol"); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("defender in another system: got %v", err)
	}
	if _, err := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"a"}, "sol"); !errors.Is(err, ErrAlreadyEngaged) {
		t.Errorf("same fleet on both sides: got %v", err)
	}
	if _, err := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartEngagement([]types.FleetID{"b"}, []types.FleetID{"a"}, "sol"); !errors.Is(err, ErrAlreadyEngaged) {
		t.Errorf("already engaged: got %v", err)
	}
}

func TestRatingsUseTickStartState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LossRate = 0.5
	a1 := fleet("a1", 10, 100, 60)
	a2 := fleet("a2", 5, 80, 60)
	d := fleet("d", 12, 150, 60)
	r, _, _ := setup(t, cfg, a1, a2, d)
	id, _ := r.StartEngagement([]types.FleetID{"a2", "a1"}, []types.FleetID{"d"}, "sol")
	wantA := r.Rating(a1) + r.Rating(a2)
	wantD := r.Rating(d)
	res, err := r.ResolveTick(id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.AttackerRating-wantA) > 1e-9 || math.Abs(res.DefenderRating-wantD) > 1e-9 {
		t.Errorf("ratings %v/%v, want %v/%v", res.AttackerRating, res.DefenderRating, wantA, wantD)
	}
	// Losses split by ship count, not by processing order.
	la, lb := r.engagements[id].Losses["a1"].Attrition, r.engagements[id].Losses["a2"].Attrition
	if math.Abs(la-2*lb) > 1e-9 {
		t.Errorf("a1 has twice a2's ships and should take twice the losses: %v vs %v", la, lb)
	}
}

func TestResolutionIsDeterministic(t *testing.T) {
	run := func() []types.CombatExchangeEvent {
		cfg := DefaultConfig()
		cfg.LossRate = 0.1
		r, _, rec := setup(t, cfg, fleet("a", 20, 200, 70), fleet("b", 20, 180, 70))
		id, _ := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
		for i := 0; i < 10; i++ {
			if res, _ := r.ResolveTick(id, 1); res.Ended {
				break
			}
		}
		return rec.exchanges
	}
	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("different exchange counts %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("exchange %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestLossesReduceCapability(t *testing.T) {
	cfg := DefaultConfig()
	r, _, _ := setup(t, cfg)
	f := fleet("a", 10, 100, 80)
	destroyed, damaged := r.applyLosses(f, 2.5)
	if destroyed+damaged != 2 {
		t.Fatalf("expected 2 whole ships lost, got %d destroyed %d damaged", destroyed, damaged)
	}
	if f.Capability.ShipCount != 10-destroyed || f.Capability.DamagedShips != damaged {
		t.Errorf("capability not updated: %+v", f.Capability)
	}
	if math.Abs(f.Combat.Attrition-0.5) > 1e-9 {
		t.Errorf("fractional loss should carry over, got %v", f.Combat.Attrition)
	}
	if want := 100 * float64(f.Capability.ShipCount) / 10; math.Abs(f.Capability.Firepower-want) > 1e-9 {
		t.Errorf("firepower %v, want %v", f.Capability.Firepower, want)
	}
	r.applyLosses(f, 50)
	if f.Capability.ShipCount != 0 || f.Capability.Firepower != 0 {
		t.Errorf("overkill should wipe the fleet: %+v", f.Capability)
	}
}

func TestWithdrawAndRest(t *testing.T) {
	a := fleet("a", 10, 100, 80)
	b := fleet("b", 10, 50, 40)
	r, _, _ := setup(t, DefaultConfig(), a, b)
	id, _ := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
	r.Rest("b", 100)
	if b.Combat.Morale != 40 {
		t.Error("morale must not recover in combat")
	}
	if err := r.Withdraw("a"); err != nil {
		t.Fatal(err)
	}
	res, _ := r.ResolveTick(id, 1)
	if !res.Ended {
		t.Error("engagement should end when the only attacker withdraws")
	}
	r.Rest("b", 100)
	if b.Combat.Morale != 41 {
		t.Errorf("expected morale 41 after rest, got %v", b.Combat.Morale)
	}
}

func TestExportRestore(t *testing.T) {
	a := fleet("a", 10, 100, 80)
	b := fleet("b", 10, 50, 80)
	r, roster, _ := setup(t, DefaultConfig(), a, b)
	id, _ := r.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol")
	r.ResolveTick(id, 1)
	st := r.Export()

	r2 := NewResolver(DefaultConfig(), roster, nil, &recorder{}, nil)
	r2.Restore(st)
	eng, ok := r2.Engagement(id)
	if !ok || eng.Rounds != 1 {
		t.Fatalf("restored engagement missing or wrong: %+v", eng)
	}
	if _, err := r2.StartEngagement([]types.FleetID{"a"}, []types.FleetID{"b"}, "sol"); !errors.Is(err, ErrAlreadyEngaged) {
		t.Errorf("restored resolver lost combat binding: %v", err)
	}
}
