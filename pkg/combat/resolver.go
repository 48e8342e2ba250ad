package combat

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"fleetcommand/pkg/core"
	"fleetcommand/pkg/types"
)

var (
	ErrNoParticipants    = errors.New("no combat-capable participants")
	ErrAlreadyEngaged    = errors.New("fleet already engaged")
	ErrUnknownEngagement = errors.New("unknown engagement")
	ErrUnknownFleet      = errors.New("unknown fleet")
)

type Config struct {
	LossRate          float64 `yaml:"loss_rate"`       // damage per second per ship on the field, split by rating share
	DamageFraction    float64 `yaml:"damage_fraction"` // share of losses that are damaged rather than destroyed
	DefenseScale      float64 `yaml:"defense_scale"`
	ExperiencePerTick float64 `yaml:"experience_per_tick"`
	MaxExperience     float64 `yaml:"max_experience"`
	WinnerMoraleGain  float64 `yaml:"winner_morale_gain"`
	MoraleLossScale   float64 `yaml:"morale_loss_scale"` // morale lost per whole fleet lost
	MinMoraleLoss     float64 `yaml:"min_morale_loss"`
	RetreatMorale     float64 `yaml:"retreat_morale"`
	RestMoraleRate    float64 `yaml:"rest_morale_rate"` // morale regained per second out of combat
	SummaryLimit      int     `yaml:"summary_limit"`
	Seed              string  `yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		LossRate:          0.01,
		DamageFraction:    0.5,
		DefenseScale:      100,
		ExperiencePerTick: 0.5,
		MaxExperience:     10,
		WinnerMoraleGain:  10,
		MoraleLossScale:   100,
		MinMoraleLoss:     1,
		RetreatMorale:     20,
		RestMoraleRate:    0.01,
		SummaryLimit:      64,
		Seed:              "fleetcommand",
	}
}

// Emitter is the interface adapters must satisfy to bridge combat events out of the resolver.
type Emitter interface {
	EmitEngagementStarted(id types.EngagementID, system types.SystemID, attackers, defenders []types.FleetID)
	EmitCombatExchange(ev types.CombatExchangeEvent, participants []types.FleetID)
	EmitForcedRetreat(fleetID types.FleetID, id types.EngagementID, morale float64)
	EmitFleetDestroyed(fleetID types.FleetID, id types.EngagementID)
	EmitEngagementEnded(summary types.EngagementSummary)
}

// FormationBonus supplies the formation combat multiplier for a fleet.
type FormationBonus interface {
	CombatModifier(fleetID types.FleetID) float64
}

// Engagement holds fleet ids only; fleet state stays with its owner.
type Engagement struct {
	ID             types.EngagementID                  `json:"id"`
	SystemID       types.SystemID                      `json:"system_id"`
	Attackers      []types.FleetID                     `json:"attackers"`
	Defenders      []types.FleetID                     `json:"defenders"`
	Withdrawn      []types.FleetID                     `json:"withdrawn,omitempty"`
	Retreated      []types.FleetID                     `json:"retreated,omitempty"`
	Destroyed      []types.FleetID                     `json:"destroyed,omitempty"`
	Losses         map[types.FleetID]types.FleetLosses `json:"losses"`
	StartedAt      float64                             `json:"started_at"`
	Elapsed        float64                             `json:"elapsed"`
	Rounds         int                                 `json:"rounds"`
	AttackerDamage float64                             `json:"attacker_damage"`
	DefenderDamage float64                             `json:"defender_damage"`
}

func (e *Engagement) clone() Engagement {
	c := *e
	c.Attackers = append([]types.FleetID(nil), e.Attackers...)
	c.Defenders = append([]types.FleetID(nil), e.Defenders...)
	c.Withdrawn = append([]types.FleetID(nil), e.Withdrawn...)
	c.Retreated = append([]types.FleetID(nil), e.Retreated...)
	c.Destroyed = append([]types.FleetID(nil), e.Destroyed...)
	c.Losses = make(map[types.FleetID]types.FleetLosses, len(e.Losses))
	for k, v := range e.Losses {
		c.Losses[k] = v
	}
	return c
}

// SideOf reports which side the fleet was placed on.
func (e *Engagement) SideOf(id types.FleetID) types.Side {
	if contains(e.Attackers, id) {
		return types.SideAttackers
	}
	if contains(e.Defenders, id) {
		return types.SideDefenders
	}
	return types.SideNone
}

func (e *Engagement) out(id types.FleetID) bool {
	return contains(e.Withdrawn, id) || contains(e.Retreated, id) || contains(e.Destroyed, id)
}

// CombatResult describes one resolved exchange.
type CombatResult struct {
	EngagementID   types.EngagementID       `json:"engagement_id"`
	Round          int                      `json:"round"`
	AttackerRating float64                  `json:"attacker_rating"`
	DefenderRating float64                  `json:"defender_rating"`
	AttackerDamage float64                  `json:"attacker_damage"` // dealt by the attackers
	DefenderDamage float64                  `json:"defender_damage"`
	AttackerLosses float64                  `json:"attacker_losses"`
	DefenderLosses float64                  `json:"defender_losses"`
	Winner         types.Side               `json:"winner"`
	Retreated      []types.FleetID          `json:"retreated,omitempty"`
	Destroyed      []types.FleetID          `json:"destroyed,omitempty"`
	Ended          bool                     `json:"ended"`
	Summary        *types.EngagementSummary `json:"summary,omitempty"`
}

// State is the resolver's exportable state.
type State struct {
	Seq         uint64                    `json:"seq"`
	Engagements []Engagement              `json:"engagements"`
	Summaries   []types.EngagementSummary `json:"summaries"`
}

type Resolver struct {
	cfg         Config
	fleets      types.Roster
	bonus       FormationBonus
	emit        Emitter
	now         func() float64
	engagements map[types.EngagementID]*Engagement
	summaries   []types.EngagementSummary
	seq         uint64
	logFn       func(format string, args ...any)
}

func NewResolver(cfg Config, fleets types.Roster, bonus FormationBonus, emit Emitter, now func() float64) *Resolver {
	if now == nil {
		now = func() float64 { return 0 }
	}
	return &Resolver{
		cfg:         cfg,
		fleets:      fleets,
		bonus:       bonus,
		emit:        emit,
		now:         now,
		engagements: make(map[types.EngagementID]*Engagement),
		logFn:       log.Printf,
	}
}

func (r *Resolver) SetLogFunc(fn func(format string, args ...any)) {
	if fn != nil {
		r.logFn = fn
	}
}

func contains(ids []types.FleetID, id types.FleetID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func dedupe(ids []types.FleetID) []types.FleetID {
	out := make([]types.FleetID, 0, len(ids))
	for _, id := range ids {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return types.SortFleetIDs(out)
}

// StartEngagement binds attackers and defenders in a system. Fleets that are
// unknown, destroyed, outside the system or unable to fight are left out; a
// side left empty is an error.
func (r *Resolver) StartEngagement(attackers, defenders []types.FleetID, system types.SystemID) (types.EngagementID, error) {
	attackers, defenders = dedupe(attackers), dedupe(defenders)
	for _, id := range attackers {
		if contains(defenders, id) {
			return "", fmt.Errorf("%w: %s listed on both sides", ErrAlreadyEngaged, id)
		}
	}
	var err error
	if attackers, err = r.eligible(attackers, system); err != nil {
		return "", err
	}
	if defenders, err = r.eligible(defenders, system); err != nil {
		return "", err
	}
	if len(attackers) == 0 || len(defenders) == 0 {
		return "", fmt.Errorf("%w: %d attackers, %d defenders in %s", ErrNoParticipants, len(attackers), len(defenders), system)
	}

	r.seq++
	id := types.EngagementID(core.DeterministicID("engagement", string(system), r.seq))
	eng := &Engagement{
		ID:        id,
		SystemID:  system,
		Attackers: attackers,
		Defenders: defenders,
		Losses:    make(map[types.FleetID]types.FleetLosses),
		StartedAt: r.now(),
	}
	r.engagements[id] = eng
	for _, fid := range append(append([]types.FleetID(nil), attackers...), defenders...) {
		fs, _ := r.fleets.Fleet(fid)
		fs.Combat.InCombat = true
		fs.Combat.EngagementID = id
		fs.Combat.CombatRating = r.Rating(fs)
	}
	r.logFn("combat: engagement %s started in %s (%v vs %v)", id, system, attackers, defenders)
	r.emit.EmitEngagementStarted(id, system, attackers, defenders)
	return id, nil
}

func (r *Resolver) eligible(ids []types.FleetID, system types.SystemID) ([]types.FleetID, error) {
	out := ids[:0]
	for _, id := range ids {
		fs, ok := r.fleets.Fleet(id)
		if !ok || !fs.Capable() || fs.SystemID != system {
			continue
		}
		if fs.Combat.InCombat {
			return nil, fmt.Errorf("%w: %s in %s", ErrAlreadyEngaged, id, fs.Combat.EngagementID)
		}
		out = append(out, id)
	}
	return out, nil
}

// Join adds a fleet to a running engagement on the given side.
func (r *Resolver) Join(id types.EngagementID, fleetID types.FleetID, side types.Side) error {
	eng, ok := r.engagements[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEngagement, id)
	}
	fs, ok := r.fleets.Fleet(fleetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	if fs.Combat.InCombat {
		return fmt.Errorf("%w: %s in %s", ErrAlreadyEngaged, fleetID, fs.Combat.EngagementID)
	}
	if !fs.Capable() || fs.SystemID != eng.SystemID {
		return fmt.Errorf("%w: %s cannot join %s", ErrNoParticipants, fleetID, id)
	}
	if contains(eng.Retreated, fleetID) || contains(eng.Destroyed, fleetID) {
		return fmt.Errorf("%w: %s already left %s", ErrNoParticipants, fleetID, id)
	}
	if eng.SideOf(fleetID) != types.SideNone && eng.SideOf(fleetID) != side {
		return fmt.Errorf("%w: %s already fought for the %s", ErrAlreadyEngaged, fleetID, eng.SideOf(fleetID))
	}
	switch side {
	case types.SideAttackers:
		if !contains(eng.Attackers, fleetID) {
			eng.Attackers = append(eng.Attackers, fleetID)
		}
	case types.SideDefenders:
		if !contains(eng.Defenders, fleetID) {
			eng.Defenders = append(eng.Defenders, fleetID)
		}
	default:
		return fmt.Errorf("%w: invalid side %q", ErrNoParticipants, side)
	}
	eng.Withdrawn = remove(eng.Withdrawn, fleetID)
	fs.Combat.InCombat = true
	fs.Combat.EngagementID = id
	return nil
}

func remove(ids []types.FleetID, id types.FleetID) []types.FleetID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// Withdraw takes a fleet out of its engagement without a morale check.
func (r *Resolver) Withdraw(fleetID types.FleetID) error {
	fs, ok := r.fleets.Fleet(fleetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	if !fs.Combat.InCombat {
		return nil
	}
	if eng, ok := r.engagements[fs.Combat.EngagementID]; ok && !eng.out(fleetID) {
		eng.Withdrawn = append(eng.Withdrawn, fleetID)
	}
	fs.Combat.InCombat = false
	fs.Combat.EngagementID = ""
	return nil
}

func (r *Resolver) active(eng *Engagement, ids []types.FleetID) []*types.FleetCommandState {
	var out []*types.FleetCommandState
	for _, id := range ids {
		if eng.out(id) {
			continue
		}
		fs, ok := r.fleets.Fleet(id)
		if !ok || !fs.Capable() || fs.SystemID != eng.SystemID || fs.Combat.EngagementID != eng.ID {
			continue
		}
		out = append(out, fs)
	}
	return out
}

// ResolveAll resolves every engagement once, in ascending id order.
func (r *Resolver) ResolveAll(dt float64) []CombatResult {
	ids := make([]types.EngagementID, 0, len(r.engagements))
	for id := range r.engagements {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	results := make([]CombatResult, 0, len(ids))
	for _, id := range ids {
		res, err := r.ResolveTick(id, dt)
		if err != nil {
			r.logFn("combat: resolve %s: %v", id, err)
			continue
		}
		results = append(results, res)
	}
	return results
}

type casualty struct {
	fs        *types.FleetCommandState
	side      types.Side
	rating    float64
	loss      float64
	shipsPrev int
}

// ResolveTick runs one exchange. Ratings for every participant are taken from
// tick-start state before any loss, morale or experience is applied.
func (r *Resolver) ResolveTick(id types.EngagementID, dt float64) (CombatResult, error) {
	eng, ok := r.engagements[id]
	if !ok {
		return CombatResult{}, fmt.Errorf("%w: %s", ErrUnknownEngagement, id)
	}
	res := CombatResult{EngagementID: id, Round: eng.Rounds}
	att, def := r.active(eng, eng.Attackers), r.active(eng, eng.Defenders)
	if len(att) == 0 || len(def) == 0 || dt <= 0 {
		if len(att) == 0 || len(def) == 0 {
			sum, _ := r.EndEngagement(id)
			res.Ended, res.Summary = true, &sum
		}
		return res, nil
	}

	// Phase 1: read.
	var parts []*casualty
	shipsA, shipsD := 0, 0
	for _, fs := range att {
		c := &casualty{fs: fs, side: types.SideAttackers, rating: r.Rating(fs), shipsPrev: fs.Capability.ShipCount}
		res.AttackerRating += c.rating
		shipsA += c.shipsPrev
		parts = append(parts, c)
	}
	for _, fs := range def {
		c := &casualty{fs: fs, side: types.SideDefenders, rating: r.Rating(fs), shipsPrev: fs.Capability.ShipCount}
		res.DefenderRating += c.rating
		shipsD += c.shipsPrev
		parts = append(parts, c)
	}

	s1, s2 := core.SeedPair(r.cfg.Seed, string(id), strconv.Itoa(eng.Rounds))
	rng := rand.New(rand.NewPCG(s1, s2))
	// Damage dealt follows the dealer's share of the combined rating. The
	// victim's ship count only caps what it can lose.
	total := res.AttackerRating + res.DefenderRating
	if total > 0 {
		scale := r.cfg.LossRate * dt * float64(shipsA+shipsD) / 2
		res.AttackerDamage = scale * res.AttackerRating / total * (0.75 + 0.5*rng.Float64())
		res.DefenderDamage = scale * res.DefenderRating / total * (0.75 + 0.5*rng.Float64())
		res.DefenderLosses = math.Min(float64(shipsD), res.AttackerDamage)
		res.AttackerLosses = math.Min(float64(shipsA), res.DefenderDamage)
	}
	res.Winner = damageWinner(res.AttackerDamage, res.DefenderDamage)
	for _, c := range parts {
		if c.side == types.SideAttackers {
			c.loss = res.AttackerLosses * float64(c.shipsPrev) / float64(shipsA)
		} else {
			c.loss = res.DefenderLosses * float64(c.shipsPrev) / float64(shipsD)
		}
	}

	// Phase 2: write.
	for _, c := range parts {
		fs := c.fs
		fs.Combat.CombatRating = c.rating
		destroyed, damaged := r.applyLosses(fs, c.loss)
		l := eng.Losses[fs.FleetID]
		l.Destroyed += destroyed
		l.Damaged += damaged
		l.Attrition += c.loss
		eng.Losses[fs.FleetID] = l

		if fs.Capability.ShipCount > 0 {
			fs.Combat.Experience = math.Min(r.cfg.MaxExperience, fs.Combat.Experience+r.cfg.ExperiencePerTick)
		}
		if c.side == res.Winner {
			fs.Combat.Morale += r.cfg.WinnerMoraleGain
		} else if c.loss > 0 {
			drop := r.cfg.MoraleLossScale * c.loss / float64(c.shipsPrev)
			fs.Combat.Morale -= math.Max(drop, r.cfg.MinMoraleLoss)
		}
		fs.Combat.Morale = core.Clamp(fs.Combat.Morale, 0, 100)
	}
	eng.Rounds++
	eng.Elapsed += dt
	eng.AttackerDamage += res.AttackerDamage
	eng.DefenderDamage += res.DefenderDamage

	for _, c := range parts {
		fs := c.fs
		switch {
		case fs.Capability.ShipCount == 0:
			fs.Combat.Destroyed = true
			fs.Combat.InCombat = false
			fs.Combat.EngagementID = ""
			eng.Destroyed = append(eng.Destroyed, fs.FleetID)
			res.Destroyed = append(res.Destroyed, fs.FleetID)
			r.logFn("combat: fleet %s destroyed in %s", fs.FleetID, id)
			r.emit.EmitFleetDestroyed(fs.FleetID, id)
		case fs.Combat.Morale < r.cfg.RetreatMorale-core.Epsilon:
			fs.Combat.InCombat = false
			fs.Combat.EngagementID = ""
			eng.Retreated = append(eng.Retreated, fs.FleetID)
			res.Retreated = append(res.Retreated, fs.FleetID)
			r.emit.EmitForcedRetreat(fs.FleetID, id, fs.Combat.Morale)
		}
	}

	r.emit.EmitCombatExchange(types.CombatExchangeEvent{
		EngagementID:   id,
		Round:          res.Round,
		AttackerRating: res.AttackerRating,
		DefenderRating: res.DefenderRating,
		AttackerLosses: res.AttackerLosses,
		DefenderLosses: res.DefenderLosses,
		Winner:         res.Winner,
	}, append(append([]types.FleetID(nil), eng.Attackers...), eng.Defenders...))

	if len(r.active(eng, eng.Attackers)) == 0 || len(r.active(eng, eng.Defenders)) == 0 {
		sum, _ := r.EndEngagement(id)
		res.Ended, res.Summary = true, &sum
	}
	return res, nil
}

func damageWinner(attackers, defenders float64) types.Side {
	switch {
	case core.Exceeds(attackers, defenders):
		return types.SideAttackers
	case core.Exceeds(defenders, attackers):
		return types.SideDefenders
	}
	return types.SideDraw
}

// applyLosses converts fractional losses into whole destroyed and damaged
// ships, carrying the remainder. Losing every ship destroys the fleet outright.
// Otherwise destroyed ships are taken from the damaged ones first, and damage
// landing on an already damaged ship destroys it.
func (r *Resolver) applyLosses(fs *types.FleetCommandState, loss float64) (destroyed, damaged int) {
	c := &fs.Capability
	before := c.ShipCount
	fs.Combat.Attrition += loss
	n := int(math.Floor(fs.Combat.Attrition + core.Epsilon))
	if n > c.ShipCount {
		n = c.ShipCount
	}
	if n <= 0 {
		return 0, 0
	}
	fs.Combat.Attrition = math.Max(0, fs.Combat.Attrition-float64(n))
	if n == c.ShipCount {
		destroyed = c.ShipCount
		c.ShipCount, c.DamagedShips = 0, 0
		c.Firepower, c.Defense, c.Mass, c.Crew = 0, 0, 0, 0
		fs.Combat.Attrition = 0
		return destroyed, 0
	}

	damaged = int(math.Round(float64(n) * r.cfg.DamageFraction))
	destroyed = n - damaged
	fromDamaged := destroyed
	if fromDamaged > c.DamagedShips {
		fromDamaged = c.DamagedShips
	}
	c.DamagedShips -= fromDamaged
	c.ShipCount -= destroyed

	healthy := c.ShipCount - c.DamagedShips
	if damaged > healthy {
		overflow := damaged - healthy
		damaged = healthy
		c.DamagedShips -= overflow
		c.ShipCount -= overflow
		destroyed += overflow
	}
	c.DamagedShips += damaged

	k := float64(c.ShipCount) / float64(before)
	c.Firepower *= k
	c.Defense *= k
	c.Mass *= k
	c.Crew *= k
	return destroyed, damaged
}

// EndEngagement tears the engagement down and returns its summary. Fleet state
// is never freed here; participants are only released from combat.
func (r *Resolver) EndEngagement(id types.EngagementID) (types.EngagementSummary, error) {
	eng, ok := r.engagements[id]
	if !ok {
		return types.EngagementSummary{}, fmt.Errorf("%w: %s", ErrUnknownEngagement, id)
	}
	for _, fid := range append(append([]types.FleetID(nil), eng.Attackers...), eng.Defenders...) {
		if fs, ok := r.fleets.Fleet(fid); ok && fs.Combat.EngagementID == id {
			fs.Combat.InCombat = false
			fs.Combat.EngagementID = ""
		}
	}
	delete(r.engagements, id)

	c := eng.clone()
	now := r.now()
	sum := types.EngagementSummary{
		EngagementID:   id,
		SystemID:       c.SystemID,
		Attackers:      c.Attackers,
		Defenders:      c.Defenders,
		Losses:         c.Losses,
		Retreated:      c.Retreated,
		Destroyed:      c.Destroyed,
		StartedAt:      c.StartedAt,
		EndedAt:        now,
		Duration:       c.Elapsed,
		Rounds:         c.Rounds,
		AttackerDamage: c.AttackerDamage,
		DefenderDamage: c.DefenderDamage,
		Winner:         damageWinner(c.AttackerDamage, c.DefenderDamage),
	}
	r.summaries = append(r.summaries, sum)
	if r.cfg.SummaryLimit > 0 && len(r.summaries) > r.cfg.SummaryLimit {
		r.summaries = r.summaries[len(r.summaries)-r.cfg.SummaryLimit:]
	}
	r.logFn("combat: engagement %s ended after %d rounds, winner %s", id, c.Rounds, sum.Winner)
	r.emit.EmitEngagementEnded(sum)
	return sum, nil
}

// Rest recovers morale for a fleet that is out of combat.
func (r *Resolver) Rest(fleetID types.FleetID, dt float64) {
	fs, ok := r.fleets.Fleet(fleetID)
	if !ok || fs.Combat.InCombat || fs.Combat.Destroyed || dt <= 0 {
		return
	}
	fs.Combat.Morale = core.Clamp(fs.Combat.Morale+r.cfg.RestMoraleRate*dt, 0, 100)
}

func (r *Resolver) Engagement(id types.EngagementID) (Engagement, bool) {
	eng, ok := r.engagements[id]
	if !ok {
		return Engagement{}, false
	}
	return eng.clone(), true
}

// Engagements lists running engagements in id order.
func (r *Resolver) Engagements() []Engagement {
	out := make([]Engagement, 0, len(r.engagements))
	for _, eng := range r.engagements {
		out = append(out, eng.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Summary finds a retained summary of a finished engagement.
func (r *Resolver) Summary(id types.EngagementID) (types.EngagementSummary, bool) {
	for i := len(r.summaries) - 1; i >= 0; i-- {
		if r.summaries[i].EngagementID == id {
			return r.summaries[i], true
		}
	}
	return types.EngagementSummary{}, false
}

func (r *Resolver) Summaries() []types.EngagementSummary {
	return append([]types.EngagementSummary(nil), r.summaries...)
}

func (r *Resolver) Export() State {
	return State{Seq: r.seq, Engagements: r.Engagements(), Summaries: r.Summaries()}
}

func (r *Resolver) Restore(s State) {
	r.seq = s.Seq
	r.engagements = make(map[types.EngagementID]*Engagement, len(s.Engagements))
	for i := range s.Engagements {
		eng := s.Engagements[i].clone()
		r.engagements[eng.ID] = &eng
	}
	r.summaries = append([]types.EngagementSummary(nil), s.Summaries...)
}
