package orders

import (
	"errors"
	"fmt"
	"log"

	"fleetcommand/pkg/combat"
	"fleetcommand/pkg/core"
	"fleetcommand/pkg/formation"
	"fleetcommand/pkg/types"
)

var (
	ErrUnknownFleet                 = errors.New("unknown fleet")
	ErrInvalidParameters            = errors.New("invalid order parameters")
	ErrPreconditionNeverSatisfiable = errors.New("precondition can never be satisfied")
	ErrUnknownOrder                 = fmt.Errorf("%w: unknown or finished order", ErrInvalidParameters)
)

type Config struct {
	PreconditionTimeout   float64 `yaml:"precondition_timeout"` // sim seconds; 0 disables
	ArrivalTolerance      float64 `yaml:"arrival_tolerance"`
	EscortStationDistance float64 `yaml:"escort_station_distance"`
	EngagementRange       float64 `yaml:"engagement_range"`
	DefaultSpeed          float64 `yaml:"default_speed"` // units per second at speed fraction 1
	FuelPerMassDistance   float64 `yaml:"fuel_per_mass_distance"`
	FuelPerShipDistance   float64 `yaml:"fuel_per_ship_distance"`
	FuelReserve           float64 `yaml:"fuel_reserve"`
	SupplyReserve         float64 `yaml:"supply_reserve"`
	RefuelRate            float64 `yaml:"refuel_rate"`   // fraction of capacity per second
	ResupplyRate          float64 `yaml:"resupply_rate"` // fraction per second, every supply type
	AmmunitionPerSecond   float64 `yaml:"ammunition_per_second"`
	SurveyDuration        float64 `yaml:"survey_duration"`
	RepairDuration        float64 `yaml:"repair_duration"`
	FormUpThreshold       float64 `yaml:"form_up_threshold"`
	RetreatMorale         float64 `yaml:"retreat_morale"`
	Strict                bool    `yaml:"strict"`
}

func DefaultConfig() Config {
	return Config{
		PreconditionTimeout:   3600,
		ArrivalTolerance:      100,
		EscortStationDistance: 500,
		EngagementRange:       15000,
		DefaultSpeed:          1000,
		FuelPerMassDistance:   1e-10,
		FuelPerShipDistance:   2e-7,
		RefuelRate:            0.1,
		ResupplyRate:          1.0 / 180,
		AmmunitionPerSecond:   0.001,
		SurveyDuration:        300,
		RepairDuration:        600,
		FormUpThreshold:       0.95,
		RetreatMorale:         20,
	}
}

// Emitter is the interface adapters must satisfy to bridge order events out of the executor.
type Emitter interface {
	EmitOrderSubmitted(o *types.FleetOrder)
	EmitOrderActivated(o *types.FleetOrder)
	EmitOrderCompleted(o *types.FleetOrder)
	EmitOrderFailed(o *types.FleetOrder)
	EmitOrderCancelled(o *types.FleetOrder, requeuedAs types.OrderID)
}

type FormationControl interface {
	SetFormation(fleetID types.FleetID, templateID string) error
	Update(fleetID types.FleetID, dt, speedFraction float64, underFire bool) (types.FormationState, error)
	Modifiers(fleetID types.FleetID) formation.Modifiers
	CanForm(ships int, templateID string) error
	MinShips() int
}

type LogisticsControl interface {
	Consume(fleetID types.FleetID, fuel float64, supplies map[string]float64) error
	Replenish(fleetID types.FleetID, kind string, amount float64) (float64, error)
	AccrueMaintenance(fleetID types.FleetID, dt float64) error
	ResetMaintenance(fleetID types.FleetID) error
}

type CombatControl interface {
	StartEngagement(attackers, defenders []types.FleetID, system types.SystemID) (types.EngagementID, error)
	Join(id types.EngagementID, fleetID types.FleetID, side types.Side) error
	Withdraw(fleetID types.FleetID) error
	Engagement(id types.EngagementID) (combat.Engagement, bool)
	Summary(id types.EngagementID) (types.EngagementSummary, bool)
	Rest(fleetID types.FleetID, dt float64)
}

// Deps wires the executor to the rest of the command core.
type Deps struct {
	Fleets    types.Roster
	Formation FormationControl
	Logistics LogisticsControl
	Combat    CombatControl
	Travel    TravelService
	Emitter   Emitter
	Now       func() float64
	LogFunc   func(format string, args ...any)
}

type Executor struct {
	cfg       Config
	fleets    types.Roster
	formation FormationControl
	logistics LogisticsControl
	combat    CombatControl
	travel    TravelService
	emit      Emitter
	now       func() float64
	preconds  *Preconditions
	seq       uint64
	logFn     func(format string, args ...any)
}

func NewExecutor(cfg Config, d Deps) (*Executor, error) {
	p, err := NewPreconditions()
	if err != nil {
		return nil, err
	}
	e := &Executor{
		cfg:       cfg,
		fleets:    d.Fleets,
		formation: d.Formation,
		logistics: d.Logistics,
		combat:    d.Combat,
		travel:    d.Travel,
		emit:      d.Emitter,
		now:       d.Now,
		preconds:  p,
		logFn:     d.LogFunc,
	}
	if e.now == nil {
		e.now = func() float64 { return 0 }
	}
	if e.logFn == nil {
		e.logFn = log.Printf
	}
	return e, nil
}

// Seq is the last order sequence number handed out.
func (e *Executor) Seq() uint64 { return e.seq }

func (e *Executor) SetSeq(seq uint64) { e.seq = seq }

func (e *Executor) fleet(id types.FleetID) (*types.FleetCommandState, error) {
	fs, ok := e.fleets.Fleet(id)
	if !ok || fs.Combat.Destroyed {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFleet, id)
	}
	return fs, nil
}

func (e *Executor) invariant(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if e.cfg.Strict {
		panic("orders: invariant violated: " + msg)
	}
	e.logFn("orders: invariant violated: %s", msg)
}

// Submit queues an order for a fleet. An EMERGENCY order that is ready
// preempts the active order immediately, unless that order is itself
// EMERGENCY or is tied up in combat.
func (e *Executor) Submit(fleetID types.FleetID, o *types.FleetOrder) (types.OrderID, error) {
	fs, err := e.fleet(fleetID)
	if err != nil {
		return "", err
	}
	if err := e.validate(fs, o); err != nil {
		return "", err
	}
	for _, name := range o.Preconditions {
		if err := e.preconds.Check(name, fs, o, e.formation.MinShips()); err != nil {
			return "", err
		}
	}

	e.seq++
	o.Seq = e.seq
	o.ID = types.OrderID(core.DeterministicID("order", string(fleetID), e.seq))
	o.FleetID = fleetID
	o.Status = types.StatusPending
	o.Progress = 0
	o.CreatedAt = e.now()
	o.QueuedAt = o.CreatedAt
	o.Exec = types.ExecutionState{}
	fs.OrderQueue = append(fs.OrderQueue, o)
	e.emit.EmitOrderSubmitted(o)

	if o.Priority == types.PriorityEmergency {
		e.preempt(fs, o)
	}
	return o.ID, nil
}

func (e *Executor) validate(fs *types.FleetCommandState, o *types.FleetOrder) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
	}
	if !o.Type.Valid() {
		return bad("unknown order type %q", o.Type)
	}
	if !o.Priority.Valid() {
		return bad("unknown priority %d", int(o.Priority))
	}
	targets := 0
	if o.TargetPosition != nil {
		targets++
	}
	if o.TargetFleetID != "" {
		targets++
	}
	if o.TargetPlanetID != "" {
		targets++
	}
	if targets > 1 {
		return bad("%s takes at most one target", o.Type)
	}
	p := o.Parameters
	if p.SpeedFraction < 0 || p.SpeedFraction > 1 {
		return bad("speed fraction %v outside [0,1]", p.SpeedFraction)
	}
	if p.Duration < 0 {
		return bad("negative duration %v", p.Duration)
	}
	if o.IsRepeating && o.Type != types.OrderPatrol {
		return bad("%s cannot repeat", o.Type)
	}
	if o.MaxRepeats < 0 {
		return bad("negative max_repeats")
	}

	switch o.Type {
	case types.OrderMoveTo:
		if o.TargetFleetID != "" || o.TargetPlanetID != "" {
			return bad("MOVE_TO takes a position target")
		}
		if (p.SystemID == "" || p.SystemID == fs.SystemID) && o.TargetPosition == nil {
			return bad("MOVE_TO needs a target position or another system")
		}
	case types.OrderAttack, types.OrderEscort:
		if o.TargetFleetID == "" {
			return bad("%s needs a target fleet", o.Type)
		}
		if o.TargetFleetID == fs.FleetID {
			return bad("%s cannot target its own fleet", o.Type)
		}
	case types.OrderPatrol:
		if len(p.Waypoints) == 0 {
			return bad("PATROL needs at least one waypoint")
		}
		if o.TargetFleetID != "" {
			return bad("PATROL cannot target a fleet")
		}
	case types.OrderFormUp, types.OrderChangeFormation:
		id := p.FormationID
		if id == "" && o.Type == types.OrderFormUp {
			id = fs.Formation.TemplateID
		}
		if id == "" {
			return bad("%s needs a formation id", o.Type)
		}
		if err := e.formation.CanForm(fs.Capability.ShipCount, id); err != nil {
			if errors.Is(err, formation.ErrInsufficientShips) {
				return fmt.Errorf("%w: %v", ErrPreconditionNeverSatisfiable, err)
			}
			return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
	}
	return nil
}

// entangled orders are tied to combat and are neither preempted nor resumed.
func (e *Executor) entangled(fs *types.FleetCommandState, o *types.FleetOrder) bool {
	if o.Type == types.OrderAttack || fs.Combat.InCombat {
		return true
	}
	return o.Type == types.OrderMoveTo && o.Exec.TravelTime > 0
}

func (e *Executor) preempt(fs *types.FleetCommandState, incoming *types.FleetOrder) {
	act := fs.ActiveOrder
	if act == nil || act.Priority == types.PriorityEmergency || e.entangled(fs, act) {
		return
	}
	if ok, _ := e.ready(fs, incoming); !ok {
		return
	}
	var requeued types.OrderID
	if act.Type.Resumable() {
		c := act.Clone()
		e.seq++
		c.Seq = e.seq
		c.ID = types.OrderID(core.DeterministicID("order", string(fs.FleetID), e.seq))
		c.Status = types.StatusPending
		c.ActivatedAt = 0
		c.QueuedAt = e.now()
		c.ResumedFrom = act.ID
		fs.OrderQueue = append(fs.OrderQueue, c)
		requeued = c.ID
	}
	e.finish(fs, act, types.StatusCancelled, types.ReasonPreempted, "preempted by "+string(incoming.ID), requeued)
}

// Cancel ends an order at once. Cancelling an active ESCORT discharges the
// escort duty and completes it; every other order ends CANCELLED.
func (e *Executor) Cancel(fleetID types.FleetID, orderID types.OrderID) error {
	fs, ok := e.fleets.Fleet(fleetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	if act := fs.ActiveOrder; act != nil && act.ID == orderID {
		if fs.Combat.InCombat && (act.Type == types.OrderAttack || act.Type == types.OrderDefend) {
			if err := e.combat.Withdraw(fleetID); err != nil {
				e.logFn("orders: withdraw %s: %v", fleetID, err)
			}
		}
		if act.Type == types.OrderEscort {
			e.finish(fs, act, types.StatusCompleted, types.ReasonNone, "escort released", "")
			return nil
		}
		e.finish(fs, act, types.StatusCancelled, types.ReasonCancelled, "", "")
		return nil
	}
	for _, o := range fs.OrderQueue {
		if o.ID == orderID {
			e.finish(fs, o, types.StatusCancelled, types.ReasonCancelled, "", "")
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
}

func (e *Executor) removeQueued(fs *types.FleetCommandState, o *types.FleetOrder) bool {
	for i, q := range fs.OrderQueue {
		if q == o {
			fs.OrderQueue = append(fs.OrderQueue[:i:i], fs.OrderQueue[i+1:]...)
			return true
		}
	}
	return false
}

// finish moves an order into a terminal status and into history.
func (e *Executor) finish(fs *types.FleetCommandState, o *types.FleetOrder, status types.OrderStatus,
	reason types.FailureReason, detail string, requeuedAs types.OrderID) {
	if o.Status.Terminal() {
		e.invariant("order %s already %s, refusing %s", o.ID, o.Status, status)
		return
	}
	if !status.Terminal() {
		e.invariant("finish called with non-terminal status %s", status)
		return
	}
	if fs.ActiveOrder == o {
		fs.ActiveOrder = nil
	} else if !e.removeQueued(fs, o) {
		e.invariant("order %s not owned by fleet %s", o.ID, fs.FleetID)
	}
	o.Status = status
	o.FinishedAt = e.now()
	o.FailureReason = reason
	o.Detail = detail
	if status == types.StatusCompleted {
		o.Progress = 1
	}
	fs.History = append(fs.History, o)

	fs.Stats.TotalMissions++
	switch status {
	case types.StatusCompleted:
		fs.Stats.CompletedMissions++
		e.emit.EmitOrderCompleted(o)
	case types.StatusFailed:
		fs.Stats.FailedMissions++
		e.logFn("orders: %s %s on %s failed: %s %s", o.Type, o.ID, fs.FleetID, reason, detail)
		e.emit.EmitOrderFailed(o)
	case types.StatusCancelled:
		fs.Stats.CancelledMissions++
		e.emit.EmitOrderCancelled(o, requeuedAs)
	}
}

func (e *Executor) fail(fs *types.FleetCommandState, o *types.FleetOrder, reason types.FailureReason, format string, args ...any) {
	e.finish(fs, o, types.StatusFailed, reason, fmt.Sprintf(format, args...), "")
}

func (e *Executor) complete(fs *types.FleetCommandState, o *types.FleetOrder) {
	e.finish(fs, o, types.StatusCompleted, types.ReasonNone, "", "")
}

func setProgress(o *types.FleetOrder, p float64) {
	p = core.Clamp01(p)
	if p > o.Progress {
		o.Progress = p
	}
}

// Tick advances one fleet by dt seconds.
func (e *Executor) Tick(fleetID types.FleetID, dt float64) error {
	fs, ok := e.fleets.Fleet(fleetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	if fs.Combat.Destroyed {
		e.FleetDestroyed(fleetID)
		return nil
	}
	if err := e.logistics.AccrueMaintenance(fleetID, dt); err != nil {
		return err
	}
	e.expirePending(fs)

	motion := 0.0
	if act := fs.ActiveOrder; act != nil {
		if ok, broken := e.ready(fs, act); !ok {
			e.fail(fs, act, reasonFor(broken), "precondition %s no longer holds", broken)
		} else {
			motion = e.advance(fs, act, dt)
		}
	} else if next := e.selectNext(fs); next != nil {
		if e.activate(fs, next) {
			motion = e.advance(fs, next, dt)
		}
	}

	if _, err := e.formation.Update(fleetID, dt, motion, fs.Combat.InCombat); err != nil {
		return err
	}
	e.combat.Rest(fleetID, dt)
	e.checkInvariants(fs)
	return nil
}

// expirePending fails queued orders whose preconditions have not held within
// the timeout since they were queued.
func (e *Executor) expirePending(fs *types.FleetCommandState) {
	if e.cfg.PreconditionTimeout <= 0 {
		return
	}
	now := e.now()
	for _, o := range append([]*types.FleetOrder(nil), fs.OrderQueue...) {
		if len(o.Preconditions) == 0 {
			continue
		}
		if ok, name := e.ready(fs, o); !ok && core.AtLeast(now-o.QueuedAt, e.cfg.PreconditionTimeout) {
			e.fail(fs, o, types.ReasonPreconditionTimeout, "%s not satisfied within %.0fs", name, e.cfg.PreconditionTimeout)
		}
	}
}

// selectNext picks the highest priority ready order, oldest first within a
// priority.
func (e *Executor) selectNext(fs *types.FleetCommandState) *types.FleetOrder {
	var best *types.FleetOrder
	for _, o := range fs.OrderQueue {
		if best != nil && !outranks(o, best) {
			continue
		}
		if ok, _ := e.ready(fs, o); ok {
			best = o
		}
	}
	return best
}

func outranks(a, b *types.FleetOrder) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.Seq < b.Seq
}

func (e *Executor) activate(fs *types.FleetCommandState, o *types.FleetOrder) bool {
	if o.Status != types.StatusPending {
		e.invariant("activating %s order %s", o.Status, o.ID)
		return false
	}
	e.removeQueued(fs, o)
	o.Status = types.StatusActive
	o.ActivatedAt = e.now()
	fs.ActiveOrder = o
	e.emit.EmitOrderActivated(o)
	e.start(fs, o)
	return fs.ActiveOrder == o
}

func (e *Executor) checkInvariants(fs *types.FleetCommandState) {
	for _, o := range fs.OrderQueue {
		if o == fs.ActiveOrder || (fs.ActiveOrder != nil && o.ID == fs.ActiveOrder.ID) {
			e.invariant("active order %s also queued on %s", o.ID, fs.FleetID)
		}
		if o.Status != types.StatusPending {
			e.invariant("queued order %s has status %s", o.ID, o.Status)
		}
	}
	if fs.ActiveOrder != nil && fs.ActiveOrder.Status != types.StatusActive {
		e.invariant("active order %s has status %s", fs.ActiveOrder.ID, fs.ActiveOrder.Status)
	}
}

// FleetDestroyed fails the active order and cancels everything queued.
func (e *Executor) FleetDestroyed(fleetID types.FleetID) {
	fs, ok := e.fleets.Fleet(fleetID)
	if !ok {
		return
	}
	if act := fs.ActiveOrder; act != nil {
		e.fail(fs, act, types.ReasonDefeated, "fleet destroyed")
	}
	for _, o := range append([]*types.FleetOrder(nil), fs.OrderQueue...) {
		e.finish(fs, o, types.StatusCancelled, types.ReasonDefeated, "fleet destroyed", "")
	}
}

// ApplyCombatOutcome settles orders affected by one resolved exchange.
func (e *Executor) ApplyCombatOutcome(res combat.CombatResult) {
	for _, id := range res.Destroyed {
		e.FleetDestroyed(id)
	}
	for _, id := range res.Retreated {
		fs, ok := e.fleets.Fleet(id)
		if !ok || fs.ActiveOrder == nil {
			continue
		}
		if act := fs.ActiveOrder; act.Exec.EngagementID == res.EngagementID {
			e.fail(fs, act, types.ReasonForcedRetreat, "morale %.1f", fs.Combat.Morale)
		}
	}
	if !res.Ended || res.Summary == nil {
		return
	}
	for _, id := range append(append([]types.FleetID(nil), res.Summary.Attackers...), res.Summary.Defenders...) {
		fs, ok := e.fleets.Fleet(id)
		if !ok || fs.ActiveOrder == nil || fs.ActiveOrder.Exec.EngagementID != res.EngagementID {
			continue
		}
		e.settleEngagement(fs, fs.ActiveOrder, *res.Summary)
	}
}

// CleanupHistory evicts terminal orders that finished before the given time.
func (e *Executor) CleanupHistory(fleetID types.FleetID, before float64) (int, error) {
	fs, ok := e.fleets.Fleet(fleetID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	kept := fs.History[:0]
	removed := 0
	for _, o := range fs.History {
		if o.FinishedAt < before {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	fs.History = kept
	return removed, nil
}
