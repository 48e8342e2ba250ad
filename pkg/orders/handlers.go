package orders

import (
	"errors"
	"math"
	"sort"

	"fleetcommand/pkg/core"
	"fleetcommand/pkg/formation"
	"fleetcommand/pkg/logistics"
	"fleetcommand/pkg/types"
)

// fuelRate is the fuel fraction burned per unit of distance.
func (e *Executor) fuelRate(fs *types.FleetCommandState) float64 {
	return fs.Capability.Mass*e.cfg.FuelPerMassDistance + float64(fs.Capability.ShipCount)*e.cfg.FuelPerShipDistance
}

func speedFraction(o *types.FleetOrder) float64 {
	if o.Parameters.SpeedFraction <= 0 {
		return 1
	}
	return o.Parameters.SpeedFraction
}

func (e *Executor) speed(fs *types.FleetCommandState, o *types.FleetOrder) float64 {
	return e.cfg.DefaultSpeed * speedFraction(o) * e.formation.Modifiers(fs.FleetID).Speed
}

// step moves fs toward target, stopping short by standoff, and charges fuel
// for the distance covered. It returns the distance moved.
func (e *Executor) step(fs *types.FleetCommandState, o *types.FleetOrder, target types.Vector3, standoff, dt float64) (float64, error) {
	remaining := fs.Position.Distance(target) - standoff
	if remaining <= 0 {
		return 0, nil
	}
	d := math.Min(e.speed(fs, o)*dt, remaining)
	if err := e.logistics.Consume(fs.FleetID, d*e.fuelRate(fs), nil); err != nil {
		return 0, err
	}
	fs.Position = fs.Position.MoveToward(target, d)
	return d, nil
}

// moveFailed fails o for a movement error and reports whether it did.
func (e *Executor) moveFailed(fs *types.FleetCommandState, o *types.FleetOrder, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, logistics.ErrInsufficientFuel) {
		e.fail(fs, o, types.ReasonInsufficientFuel, "%v", err)
	} else {
		e.fail(fs, o, types.ReasonPreconditionViolated, "%v", err)
	}
	return true
}

func (e *Executor) interstellar(fs *types.FleetCommandState, o *types.FleetOrder) bool {
	dest := o.Parameters.SystemID
	return o.Exec.TravelTime > 0 || (dest != "" && dest != fs.SystemID)
}

// start runs once when an order becomes ACTIVE. It may finish the order.
func (e *Executor) start(fs *types.FleetCommandState, o *types.FleetOrder) {
	resumed := o.Exec.Started
	if !resumed {
		o.Exec.Started = true
		o.Exec.StartPosition = fs.Position
	}

	switch o.Type {
	case types.OrderMoveTo:
		if e.interstellar(fs, o) {
			e.startRelocation(fs, o)
			return
		}
		if o.TargetPosition == nil {
			e.complete(fs, o)
			return
		}
		remaining := fs.Position.Distance(*o.TargetPosition)
		o.Exec.TotalDistance = o.Exec.Covered + remaining
		need := remaining * e.fuelRate(fs)
		if !core.AtLeast(fs.Logistics.FuelStatus-e.cfg.FuelReserve, need) {
			e.fail(fs, o, types.ReasonInsufficientFuel, "trip needs %.4f fuel, have %.4f", need, fs.Logistics.FuelStatus)
			return
		}
		if v := e.speed(fs, o); v > 0 {
			o.EstimatedCompletion = e.now() + remaining/v
		}

	case types.OrderAttack:
		t, ok := e.fleets.Fleet(o.TargetFleetID)
		if !ok || t.Combat.Destroyed || t.SystemID != fs.SystemID {
			e.fail(fs, o, types.ReasonTargetLost, "target %s not present", o.TargetFleetID)
			return
		}
		if !resumed {
			o.Exec.TargetShipsStart = t.Capability.ShipCount
		}

	case types.OrderFormUp, types.OrderChangeFormation:
		id := o.Parameters.FormationID
		if id == "" {
			id = fs.Formation.TemplateID
		}
		if err := e.formation.SetFormation(fs.FleetID, id); err != nil {
			switch {
			case errors.Is(err, formation.ErrInsufficientShips):
				e.fail(fs, o, types.ReasonInsufficientShips, "%v", err)
			default:
				e.fail(fs, o, types.ReasonUnknownTemplate, "%v", err)
			}
			return
		}
		o.Exec.FormationApplied = true

	case types.OrderSurvey, types.OrderRepair, types.OrderDefend:
		if d := e.duration(o); d > 0 {
			o.EstimatedCompletion = e.now() + d - o.Exec.Elapsed
		}
	}
}

func (e *Executor) duration(o *types.FleetOrder) float64 {
	if o.Parameters.Duration > 0 {
		return o.Parameters.Duration
	}
	switch o.Type {
	case types.OrderSurvey:
		return e.cfg.SurveyDuration
	case types.OrderRepair:
		return e.cfg.RepairDuration
	}
	return 0
}

func (e *Executor) startRelocation(fs *types.FleetCommandState, o *types.FleetOrder) {
	if o.Exec.TravelTime > 0 {
		return
	}
	if e.travel == nil {
		e.fail(fs, o, types.ReasonTravelFailed, "no travel service for %s", o.Parameters.SystemID)
		return
	}
	res, err := e.travel.Relocate(RelocationRequest{
		FleetID:     fs.FleetID,
		From:        fs.SystemID,
		To:          o.Parameters.SystemID,
		Origin:      fs.Position,
		Destination: o.TargetPosition,
		Mass:        fs.Capability.Mass,
		ShipCount:   fs.Capability.ShipCount,
	})
	if err != nil {
		e.fail(fs, o, types.ReasonTravelFailed, "%v", err)
		return
	}
	if !res.OK {
		e.fail(fs, o, types.ReasonTravelFailed, "%s", res.Reason)
		return
	}
	if err := e.logistics.Consume(fs.FleetID, res.FuelCost, nil); err != nil {
		e.moveFailed(fs, o, err)
		return
	}
	arrival := res.Arrival
	o.Exec.Arrival = &arrival
	o.Exec.TravelOrigin = fs.SystemID
	o.Exec.TravelTime = math.Max(res.ElapsedTime, core.Epsilon)
	o.Exec.Elapsed = 0
	o.EstimatedCompletion = e.now() + o.Exec.TravelTime
}

// advance executes one tick of the active order and returns the speed
// fraction the fleet moved at, for formation convergence.
func (e *Executor) advance(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) float64 {
	switch o.Type {
	case types.OrderMoveTo:
		return e.advanceMove(fs, o, dt)
	case types.OrderAttack:
		return e.advanceAttack(fs, o, dt)
	case types.OrderDefend:
		return e.advanceDefend(fs, o, dt)
	case types.OrderPatrol:
		return e.advancePatrol(fs, o, dt)
	case types.OrderEscort:
		return e.advanceEscort(fs, o, dt)
	case types.OrderFormUp, types.OrderChangeFormation:
		e.advanceFormUp(fs, o)
	case types.OrderSurvey, types.OrderRepair:
		e.advanceTimed(fs, o, dt)
	case types.OrderRefuel:
		e.advanceRefuel(fs, o, dt)
	case types.OrderResupply:
		e.advanceResupply(fs, o, dt)
	}
	return 0
}

func (e *Executor) advanceMove(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) float64 {
	if o.Exec.TravelTime > 0 {
		o.Exec.Elapsed += dt
		setProgress(o, o.Exec.Elapsed/o.Exec.TravelTime)
		if core.AtLeast(o.Exec.Elapsed, o.Exec.TravelTime) {
			fs.SystemID = o.Parameters.SystemID
			if o.Exec.Arrival != nil {
				fs.Position = *o.Exec.Arrival
			}
			e.complete(fs, o)
		}
		return speedFraction(o)
	}
	if fs.Combat.InCombat {
		return 0
	}
	target := *o.TargetPosition
	d, err := e.step(fs, o, target, 0, dt)
	if e.moveFailed(fs, o, err) {
		return 0
	}
	o.Exec.Covered += d
	if o.Exec.TotalDistance > 0 {
		setProgress(o, o.Exec.Covered/o.Exec.TotalDistance)
	}
	if fs.Position.Distance(target) <= e.cfg.ArrivalTolerance {
		e.complete(fs, o)
	}
	if d == 0 {
		return 0
	}
	return speedFraction(o)
}

func (e *Executor) advanceAttack(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) float64 {
	if id := o.Exec.EngagementID; id != "" {
		eng, ok := e.combat.Engagement(id)
		if !ok {
			if sum, found := e.combat.Summary(id); found {
				e.settleEngagement(fs, o, sum)
			} else {
				e.fail(fs, o, types.ReasonTargetLost, "engagement %s gone", id)
			}
			return 0
		}
		if _, tracked := fs.Logistics.SupplyStatus["ammunition"]; tracked && e.cfg.AmmunitionPerSecond > 0 {
			err := e.logistics.Consume(fs.FleetID, 0, map[string]float64{"ammunition": e.cfg.AmmunitionPerSecond * dt})
			if err != nil {
				if werr := e.combat.Withdraw(fs.FleetID); werr != nil {
					e.logFn("orders: withdraw %s: %v", fs.FleetID, werr)
				}
				e.fail(fs, o, types.ReasonInsufficientSupply, "%v", err)
				return 0
			}
		}
		if t, ok := e.fleets.Fleet(o.TargetFleetID); ok && o.Exec.TargetShipsStart > 0 && eng.SideOf(t.FleetID) != types.SideNone {
			setProgress(o, math.Min(0.99, 1-float64(t.Capability.ShipCount)/float64(o.Exec.TargetShipsStart)))
		}
		return 0
	}

	t, ok := e.fleets.Fleet(o.TargetFleetID)
	if !ok || t.Combat.Destroyed || t.SystemID != fs.SystemID {
		e.fail(fs, o, types.ReasonTargetLost, "target %s not present", o.TargetFleetID)
		return 0
	}
	if fs.Combat.InCombat {
		// Already fighting; adopt the engagement if the target is on the other side.
		if eng, ok := e.combat.Engagement(fs.Combat.EngagementID); ok {
			mine, theirs := eng.SideOf(fs.FleetID), eng.SideOf(t.FleetID)
			if theirs != types.SideNone && theirs == mine.Opposite() {
				o.Exec.EngagementID = eng.ID
			}
		}
		return 0
	}
	if fs.Position.Distance(t.Position) > e.cfg.EngagementRange {
		d, err := e.step(fs, o, t.Position, e.cfg.EngagementRange, dt)
		if e.moveFailed(fs, o, err) || d == 0 {
			return 0
		}
		return speedFraction(o)
	}

	var id types.EngagementID
	var err error
	if t.Combat.InCombat {
		id = t.Combat.EngagementID
		eng, found := e.combat.Engagement(id)
		if !found {
			e.fail(fs, o, types.ReasonTargetLost, "target engagement %s gone", id)
			return 0
		}
		err = e.combat.Join(id, fs.FleetID, eng.SideOf(t.FleetID).Opposite())
	} else {
		id, err = e.combat.StartEngagement([]types.FleetID{fs.FleetID}, []types.FleetID{t.FleetID}, fs.SystemID)
	}
	if err != nil {
		e.fail(fs, o, types.ReasonTargetLost, "cannot engage %s: %v", t.FleetID, err)
		return 0
	}
	o.Exec.EngagementID = id
	return 0
}

// settleEngagement finishes an ATTACK or DEFEND order once its engagement is over.
func (e *Executor) settleEngagement(fs *types.FleetCommandState, o *types.FleetOrder, sum types.EngagementSummary) {
	if contains(sum.Destroyed, fs.FleetID) {
		e.fail(fs, o, types.ReasonDefeated, "destroyed in %s", sum.EngagementID)
		return
	}
	if contains(sum.Retreated, fs.FleetID) {
		e.fail(fs, o, types.ReasonForcedRetreat, "retreated from %s", sum.EngagementID)
		return
	}
	side := types.SideDefenders
	if contains(sum.Attackers, fs.FleetID) {
		side = types.SideAttackers
	}
	if o.Type == types.OrderDefend {
		if sum.Winner == side.Opposite() {
			e.fail(fs, o, types.ReasonDefeated, "lost %s", sum.EngagementID)
			return
		}
		o.Exec.EngagementID = ""
		return
	}
	target := o.TargetFleetID
	if contains(sum.Destroyed, target) || contains(sum.Retreated, target) || sum.Winner == side {
		e.complete(fs, o)
		return
	}
	e.fail(fs, o, types.ReasonDefeated, "%s won %s", sum.Winner, sum.EngagementID)
}

func contains(ids []types.FleetID, id types.FleetID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (e *Executor) advanceDefend(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) float64 {
	if fs.Combat.InCombat {
		o.Exec.EngagementID = fs.Combat.EngagementID
		return 0
	}
	if o.Exec.EngagementID != "" {
		// The engagement ended between ticks without a settled outcome.
		if sum, ok := e.combat.Summary(o.Exec.EngagementID); ok {
			e.settleEngagement(fs, o, sum)
			if fs.ActiveOrder != o {
				return 0
			}
		}
		o.Exec.EngagementID = ""
	}
	if o.TargetPosition != nil && fs.Position.Distance(*o.TargetPosition) > e.cfg.ArrivalTolerance {
		d, err := e.step(fs, o, *o.TargetPosition, 0, dt)
		if e.moveFailed(fs, o, err) || d == 0 {
			return 0
		}
		return speedFraction(o)
	}
	o.Exec.Elapsed += dt
	if d := e.duration(o); d > 0 {
		setProgress(o, o.Exec.Elapsed/d)
		if core.AtLeast(o.Exec.Elapsed, d) {
			e.complete(fs, o)
		}
	}
	return 0
}

func (e *Executor) advancePatrol(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) float64 {
	if fs.Combat.InCombat {
		return 0
	}
	wps := o.Parameters.Waypoints
	if o.Exec.WaypointIndex >= len(wps) {
		o.Exec.WaypointIndex = 0
	}
	target := wps[o.Exec.WaypointIndex]
	d, err := e.step(fs, o, target, 0, dt)
	if e.moveFailed(fs, o, err) {
		return 0
	}
	o.Exec.Covered += d
	if fs.Position.Distance(target) <= e.cfg.ArrivalTolerance {
		o.Exec.WaypointIndex++
		if o.Exec.WaypointIndex == len(wps) {
			o.Exec.WaypointIndex = 0
			o.RepeatCount++
			if !o.IsRepeating || (o.MaxRepeats > 0 && o.RepeatCount >= o.MaxRepeats) {
				e.complete(fs, o)
				return speedFraction(o)
			}
		}
	}

	n := float64(len(wps))
	done := float64(o.RepeatCount)*n + float64(o.Exec.WaypointIndex)
	switch {
	case !o.IsRepeating:
		setProgress(o, done/n)
	case o.MaxRepeats > 0:
		setProgress(o, done/(float64(o.MaxRepeats)*n))
	default:
		cycles := done / n
		setProgress(o, cycles/(cycles+1))
	}
	if d == 0 {
		return 0
	}
	return speedFraction(o)
}

func (e *Executor) advanceEscort(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) float64 {
	t, ok := e.fleets.Fleet(o.TargetFleetID)
	if !ok || t.Combat.Destroyed {
		e.fail(fs, o, types.ReasonTargetLost, "escorted fleet %s lost", o.TargetFleetID)
		return 0
	}
	if t.SystemID != fs.SystemID || fs.Combat.InCombat {
		return 0
	}
	if t.Combat.InCombat && fs.Position.Distance(t.Position) <= e.cfg.EngagementRange {
		if eng, found := e.combat.Engagement(t.Combat.EngagementID); found {
			if err := e.combat.Join(eng.ID, fs.FleetID, eng.SideOf(t.FleetID)); err != nil {
				e.logFn("orders: escort %s join %s: %v", fs.FleetID, eng.ID, err)
			}
		}
		return 0
	}
	d, err := e.step(fs, o, t.Position, e.cfg.EscortStationDistance, dt)
	if e.moveFailed(fs, o, err) || d == 0 {
		return 0
	}
	return speedFraction(o)
}

func (e *Executor) advanceFormUp(fs *types.FleetCommandState, o *types.FleetOrder) {
	if fs.Formation.TemplateID == "" {
		e.fail(fs, o, types.ReasonInsufficientShips, "formation dissolved")
		return
	}
	setProgress(o, fs.Formation.Integrity/e.cfg.FormUpThreshold)
	if core.AtLeast(fs.Formation.Integrity, e.cfg.FormUpThreshold) {
		e.complete(fs, o)
	}
}

// advanceTimed runs SURVEY and REPAIR, both paused while under fire.
func (e *Executor) advanceTimed(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) {
	if fs.Combat.InCombat {
		return
	}
	d := e.duration(o)
	o.Exec.Elapsed += dt
	if d > 0 {
		setProgress(o, o.Exec.Elapsed/d)
	}
	if !core.AtLeast(o.Exec.Elapsed, d) {
		return
	}
	if o.Type == types.OrderRepair {
		if err := e.logistics.ResetMaintenance(fs.FleetID); err != nil {
			e.logFn("orders: repair %s: %v", fs.FleetID, err)
		}
		fs.Capability.DamagedShips = 0
	}
	e.complete(fs, o)
}

func (e *Executor) advanceRefuel(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) {
	level, err := e.logistics.Replenish(fs.FleetID, logistics.KindFuel, e.cfg.RefuelRate*dt)
	if err != nil {
		e.fail(fs, o, types.ReasonPreconditionViolated, "%v", err)
		return
	}
	setProgress(o, level)
	if core.AtLeast(level, 1) {
		e.complete(fs, o)
	}
}

func (e *Executor) supplyKinds(fs *types.FleetCommandState, o *types.FleetOrder) []string {
	if len(o.Parameters.SupplyTypes) > 0 {
		return o.Parameters.SupplyTypes
	}
	if len(fs.Logistics.SupplyStatus) == 0 {
		return logistics.DefaultSupplyTypes
	}
	kinds := make([]string, 0, len(fs.Logistics.SupplyStatus))
	for k := range fs.Logistics.SupplyStatus {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (e *Executor) advanceResupply(fs *types.FleetCommandState, o *types.FleetOrder, dt float64) {
	lowest := 1.0
	for _, k := range e.supplyKinds(fs, o) {
		level, err := e.logistics.Replenish(fs.FleetID, k, e.cfg.ResupplyRate*dt)
		if err != nil {
			e.fail(fs, o, types.ReasonPreconditionViolated, "%v", err)
			return
		}
		lowest = math.Min(lowest, level)
	}
	setProgress(o, lowest)
	if core.AtLeast(lowest, 1) {
		e.complete(fs, o)
	}
}
