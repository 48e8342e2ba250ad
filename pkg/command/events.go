package command

import "fleetcommand/pkg/types"

// emit buffers an event. Buffered events are handed to the sink by Tick, in
// the order they were raised.
func (f *Facade) emit(t types.EventType, fleetID types.FleetID, payload any) {
	f.eventSeq++
	f.pending = append(f.pending, types.Event{
		Seq:     f.eventSeq,
		Tick:    f.tick,
		Time:    f.clock,
		Kind:    t.Kind(),
		Type:    t,
		FleetID: fleetID,
		Payload: payload,
	})
}

// Each component reports through its own Emitter interface; these adapters
// turn those calls into typed events.

type formationEvents struct{ f *Facade }

func (a formationEvents) EmitFormationChanged(fleetID types.FleetID, previous, current, reason string) {
	a.f.emit(types.EventFormationChanged, fleetID, types.FormationChangedEvent{
		Previous: previous, TemplateID: current, Reason: reason,
	})
}

func (a formationEvents) EmitFormationBonus(fleetID types.FleetID, templateID string, active bool, integrity float64) {
	a.f.emit(types.EventFormationBonus, fleetID, types.FormationBonusEvent{
		TemplateID: templateID, Active: active, Integrity: integrity,
	})
}

type logisticsEvents struct{ f *Facade }

func (a logisticsEvents) EmitLogisticsLow(fleetID types.FleetID, resource string, level, threshold float64) {
	a.f.emit(types.EventLogisticsLow, fleetID, types.LogisticsLowEvent{
		Resource: resource, Level: level, Threshold: threshold,
	})
}

func (a logisticsEvents) EmitReplenished(fleetID types.FleetID, resource string, amount, level float64) {
	a.f.emit(types.EventLogisticsRefilled, fleetID, types.LogisticsRefilledEvent{
		Resource: resource, Amount: amount, Level: level,
	})
}

func (a logisticsEvents) EmitMaintenanceDue(fleetID types.FleetID, level float64) {
	a.f.emit(types.EventMaintenanceDue, fleetID, types.MaintenanceDueEvent{Level: level})
}

type combatEvents struct{ f *Facade }

func (a combatEvents) EmitEngagementStarted(id types.EngagementID, system types.SystemID, attackers, defenders []types.FleetID) {
	a.f.emit(types.EventEngagementStarted, "", types.EngagementStartedEvent{
		EngagementID: id, SystemID: system, Attackers: attackers, Defenders: defenders,
	})
}

func (a combatEvents) EmitCombatExchange(ev types.CombatExchangeEvent, participants []types.FleetID) {
	a.f.emit(types.EventCombatExchange, "", ev)
}

func (a combatEvents) EmitForcedRetreat(fleetID types.FleetID, id types.EngagementID, morale float64) {
	a.f.emit(types.EventForcedRetreat, fleetID, types.ForcedRetreatEvent{EngagementID: id, Morale: morale})
}

func (a combatEvents) EmitFleetDestroyed(fleetID types.FleetID, id types.EngagementID) {
	a.f.emit(types.EventFleetDestroyed, fleetID, types.FleetDestroyedEvent{EngagementID: id})
}

func (a combatEvents) EmitEngagementEnded(summary types.EngagementSummary) {
	a.f.emit(types.EventEngagementEnded, "", types.EngagementEndedEvent{Summary: summary})
}

type orderEvents struct{ f *Facade }

func (a orderEvents) EmitOrderSubmitted(o *types.FleetOrder) {
	a.f.emit(types.EventOrderSubmitted, o.FleetID, types.OrderSubmittedEvent{
		OrderID: o.ID, OrderType: o.Type, Priority: o.Priority,
	})
}

func (a orderEvents) EmitOrderActivated(o *types.FleetOrder) {
	a.f.emit(types.EventOrderActivated, o.FleetID, types.OrderActivatedEvent{
		OrderID: o.ID, OrderType: o.Type, Priority: o.Priority,
	})
}

func (a orderEvents) EmitOrderCompleted(o *types.FleetOrder) {
	a.f.emit(types.EventOrderCompleted, o.FleetID, types.OrderCompletedEvent{
		OrderID: o.ID, OrderType: o.Type, Duration: o.FinishedAt - o.ActivatedAt,
	})
}

func (a orderEvents) EmitOrderFailed(o *types.FleetOrder) {
	a.f.emit(types.EventOrderFailed, o.FleetID, types.OrderFailedEvent{
		OrderID: o.ID, OrderType: o.Type, Reason: o.FailureReason, Detail: o.Detail,
	})
}

func (a orderEvents) EmitOrderCancelled(o *types.FleetOrder, requeuedAs types.OrderID) {
	a.f.emit(types.EventOrderCancelled, o.FleetID, types.OrderCancelledEvent{
		OrderID: o.ID, OrderType: o.Type, Reason: o.FailureReason, RequeuedAs: requeuedAs,
	})
}
