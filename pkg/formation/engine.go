package formation

import (
	"errors"
	"fmt"
	"log"

	"fleetcommand/pkg/core"
	"fleetcommand/pkg/types"
)

var (
	ErrUnknownFleet      = errors.New("unknown fleet")
	ErrUnknownTemplate   = errors.New("unknown formation template")
	ErrInsufficientShips = errors.New("insufficient ships for formation")
)

type Config struct {
	ConvergenceRate          float64 `yaml:"convergence_rate"`
	CohesionRecoveryRate     float64 `yaml:"cohesion_recovery_rate"`
	CohesionDecayRate        float64 `yaml:"cohesion_decay_rate"`
	UnderFireDecayMultiplier float64 `yaml:"under_fire_decay_multiplier"`
	BonusThreshold           float64 `yaml:"bonus_threshold"`
	ReformIntegrity          float64 `yaml:"reform_integrity"`
	CatalogPath              string  `yaml:"catalog_path"`
}

func DefaultConfig() Config {
	return Config{
		ConvergenceRate:          0.1,
		CohesionRecoveryRate:     0.05,
		CohesionDecayRate:        0.1,
		UnderFireDecayMultiplier: 2.0,
		BonusThreshold:           0.7,
		ReformIntegrity:          0.4,
	}
}

// Emitter is the interface adapters must satisfy to bridge formation events out of the engine.
type Emitter interface {
	EmitFormationChanged(fleetID types.FleetID, previous, current, reason string)
	EmitFormationBonus(fleetID types.FleetID, templateID string, active bool, integrity float64)
}

// Modifiers are the multipliers a formation currently confers. All are 1 when
// bonuses are inactive.
type Modifiers struct {
	Speed     float64 `json:"speed"`
	Combat    float64 `json:"combat"`
	Detection float64 `json:"detection"`
}

var neutral = Modifiers{Speed: 1, Combat: 1, Detection: 1}

type Engine struct {
	cfg     Config
	catalog *Catalog
	fleets  types.Roster
	emit    Emitter
	logFn   func(format string, args ...any)
}

func NewEngine(cfg Config, catalog *Catalog, fleets types.Roster, emit Emitter) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{cfg: cfg, catalog: catalog, fleets: fleets, emit: emit, logFn: log.Printf}
}

func (e *Engine) SetLogFunc(fn func(format string, args ...any)) {
	if fn != nil {
		e.logFn = fn
	}
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

// CanForm checks a template against a ship count without touching any state.
func (e *Engine) CanForm(ships int, templateID string) error {
	t, ok := e.catalog.Lookup(templateID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	if ships < t.MinShips {
		return fmt.Errorf("%w: %s needs %d, fleet has %d", ErrInsufficientShips, templateID, t.MinShips, ships)
	}
	return nil
}

// SetFormation assigns a template. An empty id dissolves the current formation.
// Switching templates drops integrity and cohesion to the reform level, so the
// new shape must be built up through Update.
func (e *Engine) SetFormation(fleetID types.FleetID, templateID string) error {
	fs, ok := e.fleets.Fleet(fleetID)
	if !ok || fs.Combat.Destroyed {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	prev := fs.Formation.TemplateID
	if templateID == "" {
		fs.Formation.ReformTemplateID = ""
		if prev == "" {
			return nil
		}
		fs.Formation.TemplateID = ""
		e.setBonuses(fs, false)
		e.emit.EmitFormationChanged(fleetID, prev, "", "dissolved")
		return nil
	}
	if err := e.CanForm(fs.Capability.ShipCount, templateID); err != nil {
		return err
	}
	fs.Formation.ReformTemplateID = ""
	if prev == templateID {
		return nil
	}
	e.adopt(fs, templateID)
	e.emit.EmitFormationChanged(fleetID, prev, templateID, "ordered")
	e.setBonuses(fs, e.bonusesEarned(fs.Formation))
	return nil
}

// adopt switches to a template at no more than the reform level.
func (e *Engine) adopt(fs *types.FleetCommandState, templateID string) {
	fs.Formation.TemplateID = templateID
	if fs.Formation.Integrity > e.cfg.ReformIntegrity {
		fs.Formation.Integrity = e.cfg.ReformIntegrity
	}
	if fs.Formation.Cohesion > e.cfg.ReformIntegrity {
		fs.Formation.Cohesion = e.cfg.ReformIntegrity
	}
}

// TargetIntegrity is the level integrity converges to for the given motion.
func TargetIntegrity(speedFraction float64, underFire bool) float64 {
	target := 1.0 - 0.5*core.Clamp01(speedFraction)
	if underFire {
		target -= 0.3
	}
	return core.Clamp01(target)
}

// Update advances integrity and cohesion by dt seconds. Fleets without a
// formation are left untouched, except that a formation broken by combat is
// re-adopted once the fleet is no longer under fire.
func (e *Engine) Update(fleetID types.FleetID, dt, speedFraction float64, underFire bool) (types.FormationState, error) {
	fs, ok := e.fleets.Fleet(fleetID)
	if !ok {
		return types.FormationState{}, fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	f := &fs.Formation
	if f.TemplateID == "" {
		if f.ReformTemplateID == "" || underFire {
			return *f, nil
		}
		id := f.ReformTemplateID
		f.ReformTemplateID = ""
		if e.CanForm(fs.Capability.ShipCount, id) != nil {
			return *f, nil
		}
		e.adopt(fs, id)
		e.emit.EmitFormationChanged(fleetID, "", id, "reformed")
	}
	t, ok := e.catalog.Lookup(f.TemplateID)
	if !ok || fs.Capability.ShipCount < t.MinShips {
		prev := f.TemplateID
		f.TemplateID = ""
		e.setBonuses(fs, false)
		e.emit.EmitFormationChanged(fleetID, prev, "", "insufficient_ships")
		return *f, nil
	}
	if underFire && t.BreakOnCombat {
		prev := f.TemplateID
		f.TemplateID = ""
		if t.ReformAfterCombat {
			f.ReformTemplateID = prev
		}
		e.setBonuses(fs, false)
		e.emit.EmitFormationChanged(fleetID, prev, "", "broken_by_combat")
		return *f, nil
	}
	if dt <= 0 {
		return *f, nil
	}

	target := TargetIntegrity(speedFraction, underFire)
	f.Integrity = core.Clamp01(core.Lag(f.Integrity, target, e.cfg.ConvergenceRate, dt))

	var k float64
	if f.Cohesion > target {
		k = e.cfg.CohesionDecayRate
		if underFire {
			k *= e.cfg.UnderFireDecayMultiplier
		}
	} else {
		k = e.cfg.CohesionRecoveryRate * (1 + t.Coordination)
	}
	f.Cohesion = core.Clamp01(core.Lag(f.Cohesion, target, k, dt))

	e.setBonuses(fs, e.bonusesEarned(*f))
	return *f, nil
}

func (e *Engine) bonusesEarned(f types.FormationState) bool {
	return f.TemplateID != "" && core.AtLeast(f.Integrity, e.cfg.BonusThreshold)
}

func (e *Engine) setBonuses(fs *types.FleetCommandState, active bool) {
	if fs.Formation.BonusesActive == active {
		return
	}
	fs.Formation.BonusesActive = active
	e.emit.EmitFormationBonus(fs.FleetID, fs.Formation.TemplateID, active, fs.Formation.Integrity)
}

// Modifiers returns the fleet's active formation multipliers.
func (e *Engine) Modifiers(fleetID types.FleetID) Modifiers {
	fs, ok := e.fleets.Fleet(fleetID)
	if !ok {
		return neutral
	}
	return e.ModifiersFor(fs.Formation)
}

func (e *Engine) ModifiersFor(f types.FormationState) Modifiers {
	if !f.BonusesActive || f.TemplateID == "" {
		return neutral
	}
	t, ok := e.catalog.Lookup(f.TemplateID)
	if !ok {
		return neutral
	}
	return Modifiers{Speed: t.SpeedModifier, Combat: t.CombatModifier, Detection: t.DetectionMod}
}

// CombatModifier is the formation bonus used in combat ratings.
func (e *Engine) CombatModifier(fleetID types.FleetID) float64 {
	return e.Modifiers(fleetID).Combat
}

// MinShips is the smallest fleet any catalog template accepts.
func (e *Engine) MinShips() int { return e.catalog.MinShips() }
