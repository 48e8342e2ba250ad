package command

import (
	"errors"
	"fmt"
	"log"
	"math"

	"fleetcommand/pkg/combat"
	"fleetcommand/pkg/core"
	"fleetcommand/pkg/formation"
	"fleetcommand/pkg/journal"
	"fleetcommand/pkg/logistics"
	"fleetcommand/pkg/orders"
	"fleetcommand/pkg/types"
)

var (
	ErrUnknownFleet    = orders.ErrUnknownFleet
	ErrFleetExists     = errors.New("fleet already under tactical command")
	ErrInvalidSnapshot = errors.New("invalid fleet snapshot")
	ErrInvalidDelta    = errors.New("tick delta must be positive and finite")
)

const (
	defaultMorale = 75.0
	firepowerPer  = 10.0
	defensePer    = 8.0
	massPer       = 1000.0
	crewPer       = 100.0
)

type Config struct {
	Formation  formation.Config `yaml:"formation"`
	Logistics  logistics.Config `yaml:"logistics"`
	Combat     combat.Config    `yaml:"combat"`
	Orders     orders.Config    `yaml:"orders"`
	LedgerSize int              `yaml:"ledger_size"` // entries kept in memory; 0 keeps all
	NoLedger   bool             `yaml:"no_ledger"`
}

func DefaultConfig() Config {
	return Config{
		Formation:  formation.DefaultConfig(),
		Logistics:  logistics.DefaultConfig(),
		Combat:     combat.DefaultConfig(),
		Orders:     orders.DefaultConfig(),
		LedgerSize: 1024,
	}
}

// Options carries the optional collaborators of a Facade.
type Options struct {
	Catalog *formation.Catalog
	Travel  orders.TravelService
	LogFunc func(format string, args ...any)
}

// Facade is the fleet command layer. It owns every FleetCommandState and is
// not safe for concurrent use; callers serialize access.
type Facade struct {
	cfg       Config
	fleets    types.Fleets
	formation *formation.Engine
	logistics *logistics.Tracker
	combat    *combat.Resolver
	orders    *orders.Executor
	ledger    *journal.Ledger

	clock    float64
	tick     uint64
	eventSeq uint64
	pending  []types.Event
	logFn    func(format string, args ...any)
}

func New(cfg Config, opts Options) (*Facade, error) {
	f := &Facade{cfg: cfg, fleets: types.Fleets{}, logFn: opts.LogFunc}
	if f.logFn == nil {
		f.logFn = log.Printf
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = formation.DefaultCatalog()
		if cfg.Formation.CatalogPath != "" {
			c, err := formation.LoadCatalog(cfg.Formation.CatalogPath)
			if err != nil {
				return nil, fmt.Errorf("formation catalog: %w", err)
			}
			catalog = c
		}
	}
	clock := func() float64 { return f.clock }

	f.formation = formation.NewEngine(cfg.Formation, catalog, f.fleets, formationEvents{f})
	f.formation.SetLogFunc(f.logFn)
	f.logistics = logistics.NewTracker(cfg.Logistics, f.fleets, logisticsEvents{f})
	f.combat = combat.NewResolver(cfg.Combat, f.fleets, f.formation, combatEvents{f}, clock)
	f.combat.SetLogFunc(f.logFn)

	ex, err := orders.NewExecutor(cfg.Orders, orders.Deps{
		Fleets:    f.fleets,
		Formation: f.formation,
		Logistics: f.logistics,
		Combat:    f.combat,
		Travel:    opts.Travel,
		Emitter:   orderEvents{f},
		Now:       clock,
		LogFunc:   f.logFn,
	})
	if err != nil {
		return nil, err
	}
	f.orders = ex
	if !cfg.NoLedger {
		f.ledger = journal.NewLedger(cfg.LedgerSize)
	}
	return f, nil
}

func (f *Facade) Clock() float64 { return f.clock }

func (f *Facade) Ticks() uint64 { return f.tick }

func (f *Facade) Catalog() *formation.Catalog { return f.formation.Catalog() }

// Ledger is nil when the tick ledger is disabled.
func (f *Facade) Ledger() *journal.Ledger { return f.ledger }

// InitializeFleetCommand brings a fleet under tactical command and returns a
// copy of its initial state.
func (f *Facade) InitializeFleetCommand(snap types.FleetSnapshot, emp types.EmpireContext) (*types.FleetCommandState, error) {
	if snap.FleetID == "" {
		return nil, fmt.Errorf("%w: missing fleet id", ErrInvalidSnapshot)
	}
	if _, ok := f.fleets[snap.FleetID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrFleetExists, snap.FleetID)
	}

	capability := snap.Capability
	if capability.ShipCount == 0 {
		capability.ShipCount = len(snap.ShipIDs)
	}
	if capability.ShipCount < 0 || capability.DamagedShips < 0 || capability.DamagedShips > capability.ShipCount {
		return nil, fmt.Errorf("%w: ship counts %d/%d", ErrInvalidSnapshot, capability.ShipCount, capability.DamagedShips)
	}
	if capability.Firepower == 0 && capability.Defense == 0 && capability.Mass == 0 {
		n := float64(capability.ShipCount)
		capability.Firepower = n * firepowerPer
		capability.Defense = n * defensePer
		capability.Mass = n * massPer
		if capability.Crew == 0 {
			capability.Crew = n * crewPer
		}
	}

	fuel := 1.0
	if snap.Fuel != nil {
		fuel = core.Clamp01(*snap.Fuel)
	}
	supplies := make(map[string]float64)
	for _, k := range logistics.DefaultSupplyTypes {
		supplies[k] = 1
	}
	for k, v := range snap.Supplies {
		supplies[k] = core.Clamp01(v)
	}
	morale := defaultMorale
	if snap.Morale != nil {
		morale = core.Clamp(*snap.Morale, 0, 100)
	}
	skill := emp.CommanderSkill
	if skill <= 0 {
		skill = 1
	}

	fs := &types.FleetCommandState{
		FleetID:        snap.FleetID,
		Name:           snap.Name,
		EmpireID:       emp.EmpireID,
		CommanderID:    emp.CommanderID,
		CommanderSkill: skill,
		OrderQueue:     []*types.FleetOrder{},
		History:        []*types.FleetOrder{},
		Formation:      types.FormationState{Integrity: 1, Cohesion: 1},
		Combat: types.CombatStatus{
			Experience: core.Clamp(snap.Experience, 0, f.cfg.Combat.MaxExperience),
			Morale:     morale,
		},
		Logistics:  types.LogisticsState{FuelStatus: fuel, SupplyStatus: supplies},
		Capability: capability,
		Position:   snap.Position,
		SystemID:   snap.SystemID,
	}
	if len(snap.ShipIDs) > 0 {
		fs.FlagshipID = snap.ShipIDs[0]
	}
	f.fleets[fs.FleetID] = fs
	f.refresh(fs)
	return fs.Clone(), nil
}

// OrderOption adjusts an order before it is submitted.
type OrderOption func(o *types.FleetOrder)

func WithPreconditions(names ...string) OrderOption {
	return func(o *types.FleetOrder) { o.Preconditions = append(o.Preconditions, names...) }
}

// Repeating marks a PATROL as repeating. max 0 repeats until cancelled.
func Repeating(max int) OrderOption {
	return func(o *types.FleetOrder) {
		o.IsRepeating = true
		o.MaxRepeats = max
	}
}

func (f *Facade) IssueOrder(fleetID types.FleetID, orderType types.OrderType, params types.OrderParameters,
	target types.OrderTarget, priority types.Priority, opts ...OrderOption) (types.OrderID, error) {
	o := &types.FleetOrder{
		Type:           orderType,
		Priority:       priority,
		Parameters:     params,
		TargetPosition: target.Position,
		TargetFleetID:  target.FleetID,
		TargetPlanetID: target.PlanetID,
	}
	for _, opt := range opts {
		opt(o)
	}
	o = o.Clone()
	return f.orders.Submit(fleetID, o)
}

func (f *Facade) CancelOrder(fleetID types.FleetID, orderID types.OrderID) error {
	return f.orders.Cancel(fleetID, orderID)
}

func (f *Facade) SetFormation(fleetID types.FleetID, templateID string) error {
	if err := f.formation.SetFormation(fleetID, templateID); err != nil {
		return err
	}
	if fs, ok := f.fleets[fleetID]; ok {
		f.refresh(fs)
	}
	return nil
}

func (f *Facade) StartCombatEngagement(attackers, defenders []types.FleetID, system types.SystemID) (types.EngagementID, error) {
	return f.combat.StartEngagement(attackers, defenders, system)
}

// EndCombatEngagement tears an engagement down outside the tick and settles
// the orders that were fighting in it.
func (f *Facade) EndCombatEngagement(id types.EngagementID) (types.EngagementSummary, error) {
	sum, err := f.combat.EndEngagement(id)
	if err != nil {
		return types.EngagementSummary{}, err
	}
	f.orders.ApplyCombatOutcome(combat.CombatResult{EngagementID: id, Ended: true, Winner: sum.Winner, Summary: &sum})
	return sum, nil
}

// RemoveFleet drops a fleet's command state, for fleets disbanded or
// destroyed outside tactical play.
func (f *Facade) RemoveFleet(fleetID types.FleetID) error {
	if _, ok := f.fleets[fleetID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	if err := f.combat.Withdraw(fleetID); err != nil {
		return err
	}
	delete(f.fleets, fleetID)
	return nil
}

func (f *Facade) CleanupHistory(fleetID types.FleetID, before float64) (int, error) {
	return f.orders.CleanupHistory(fleetID, before)
}

// Fleet returns a copy of a fleet's command state.
func (f *Facade) Fleet(fleetID types.FleetID) (*types.FleetCommandState, bool) {
	fs, ok := f.fleets[fleetID]
	if !ok {
		return nil, false
	}
	return fs.Clone(), true
}

func (f *Facade) FleetIDs() []types.FleetID { return f.fleets.FleetIDs() }

func (f *Facade) Engagements() []combat.Engagement { return f.combat.Engagements() }

func (f *Facade) Engagement(id types.EngagementID) (combat.Engagement, bool) {
	return f.combat.Engagement(id)
}

func (f *Facade) Summary(id types.EngagementID) (types.EngagementSummary, bool) {
	return f.combat.Summary(id)
}

func (f *Facade) Summaries() []types.EngagementSummary { return f.combat.Summaries() }

// refresh recomputes the derived fields of fs.
func (f *Facade) refresh(fs *types.FleetCommandState) {
	fs.Combat.CombatRating = f.combat.Rating(fs)
	fs.CommandEffectiveness = f.effectiveness(fs)
}

// effectiveness scales commander skill by morale and outstanding maintenance.
func (f *Facade) effectiveness(fs *types.FleetCommandState) float64 {
	if fs.Combat.Destroyed {
		return 0
	}
	return fs.CommanderSkill * combat.MoraleFactor(fs.Combat.Morale) * (1 - 0.5*core.Clamp01(fs.Logistics.MaintenanceDue))
}

// Tick advances the simulation by dt seconds. Events raised since the last
// tick, including those from synchronous calls, are delivered to sink in
// order and returned.
func (f *Facade) Tick(dt float64, sink types.EventSink) ([]types.Event, error) {
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelta, dt)
	}
	f.tick++
	f.clock += dt

	for _, id := range f.fleets.FleetIDs() {
		if err := f.orders.Tick(id, dt); err != nil {
			f.logFn("command: tick %s: %v", id, err)
		}
	}
	for _, res := range f.combat.ResolveAll(dt) {
		f.orders.ApplyCombatOutcome(res)
	}
	for _, id := range f.fleets.FleetIDs() {
		f.refresh(f.fleets[id])
	}

	events := f.pending
	f.pending = nil
	if f.ledger != nil {
		if _, err := f.ledger.Append(f.tick, f.clock, f.Export(), len(events)); err != nil {
			f.logFn("command: ledger: %v", err)
		}
	}
	if sink != nil {
		for _, ev := range events {
			sink.Emit(ev)
		}
	}
	return events, nil
}
