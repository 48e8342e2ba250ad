package command

import (
	"fmt"

	"fleetcommand/pkg/formation"
	"fleetcommand/pkg/types"
)

type OrderSummary struct {
	ID                  types.OrderID     `json:"id"`
	Type                types.OrderType   `json:"order_type"`
	Priority            types.Priority    `json:"priority"`
	Status              types.OrderStatus `json:"status"`
	Progress            float64           `json:"progress"`
	EstimatedCompletion float64           `json:"estimated_completion,omitempty"`
	Target              types.OrderTarget `json:"target"`
}

type FormationStatus struct {
	TemplateID    string              `json:"template_id,omitempty"`
	Name          string              `json:"name,omitempty"`
	Integrity     float64             `json:"integrity"`
	Cohesion      float64             `json:"cohesion"`
	BonusesActive bool                `json:"bonuses_active"`
	Modifiers     formation.Modifiers `json:"modifiers"`
}

type CombatSummary struct {
	InCombat     bool               `json:"in_combat"`
	EngagementID types.EngagementID `json:"engagement_id,omitempty"`
	CombatRating float64            `json:"combat_rating"`
	Experience   float64            `json:"experience"`
	Morale       float64            `json:"morale"`
	Ships        int                `json:"ships"`
	DamagedShips int                `json:"damaged_ships"`
	Destroyed    bool               `json:"destroyed,omitempty"`
}

type LogisticsSummary struct {
	Fuel           float64            `json:"fuel"`
	Supplies       map[string]float64 `json:"supplies"`
	LowestSupply   float64            `json:"lowest_supply"`
	MaintenanceDue float64            `json:"maintenance_due"`
}

type Performance struct {
	types.MissionStats
	SuccessRate float64 `json:"mission_success_rate"`
}

// StatusSnapshot is the read-only tactical picture of one fleet.
type StatusSnapshot struct {
	FleetID              types.FleetID    `json:"fleet_id"`
	Name                 string           `json:"name,omitempty"`
	EmpireID             string           `json:"empire_id,omitempty"`
	FlagshipID           string           `json:"flagship_id,omitempty"`
	CommanderID          string           `json:"commander_id,omitempty"`
	SystemID             types.SystemID   `json:"system_id"`
	Position             types.Vector3    `json:"position"`
	Time                 float64          `json:"time"`
	CommandEffectiveness float64          `json:"command_effectiveness"`
	ActiveOrder          *OrderSummary    `json:"active_order,omitempty"`
	PendingOrders        int              `json:"pending_orders"`
	Formation            FormationStatus  `json:"formation"`
	Combat               CombatSummary    `json:"combat"`
	Logistics            LogisticsSummary `json:"logistics"`
	Performance          Performance      `json:"performance"`
}

// GetFleetTacticalStatus builds a snapshot without touching any state, so
// repeated calls between ticks return equal values.
func (f *Facade) GetFleetTacticalStatus(fleetID types.FleetID) (StatusSnapshot, error) {
	fs, ok := f.fleets[fleetID]
	if !ok {
		return StatusSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	supplies := make(map[string]float64, len(fs.Logistics.SupplyStatus))
	for k, v := range fs.Logistics.SupplyStatus {
		supplies[k] = v
	}
	st := StatusSnapshot{
		FleetID:              fs.FleetID,
		Name:                 fs.Name,
		EmpireID:             fs.EmpireID,
		FlagshipID:           fs.FlagshipID,
		CommanderID:          fs.CommanderID,
		SystemID:             fs.SystemID,
		Position:             fs.Position,
		Time:                 f.clock,
		CommandEffectiveness: f.effectiveness(fs),
		PendingOrders:        len(fs.OrderQueue),
		Formation: FormationStatus{
			TemplateID:    fs.Formation.TemplateID,
			Integrity:     fs.Formation.Integrity,
			Cohesion:      fs.Formation.Cohesion,
			BonusesActive: fs.Formation.BonusesActive,
			Modifiers:     f.formation.ModifiersFor(fs.Formation),
		},
		Combat: CombatSummary{
			InCombat:     fs.Combat.InCombat,
			EngagementID: fs.Combat.EngagementID,
			CombatRating: f.combat.Rating(fs),
			Experience:   fs.Combat.Experience,
			Morale:       fs.Combat.Morale,
			Ships:        fs.Capability.ShipCount,
			DamagedShips: fs.Capability.DamagedShips,
			Destroyed:    fs.Combat.Destroyed,
		},
		Logistics: LogisticsSummary{
			Fuel:           fs.Logistics.FuelStatus,
			Supplies:       supplies,
			LowestSupply:   fs.Logistics.MinSupply(),
			MaintenanceDue: fs.Logistics.MaintenanceDue,
		},
		Performance: Performance{MissionStats: fs.Stats, SuccessRate: fs.Stats.SuccessRate()},
	}
	if t, ok := f.formation.Catalog().Lookup(fs.Formation.TemplateID); ok {
		st.Formation.Name = t.Name
	}
	if o := fs.ActiveOrder; o != nil {
		target := o.Target()
		if target.Position != nil {
			p := *target.Position
			target.Position = &p
		}
		st.ActiveOrder = &OrderSummary{
			ID:                  o.ID,
			Type:                o.Type,
			Priority:            o.Priority,
			Status:              o.Status,
			Progress:            o.Progress,
			EstimatedCompletion: o.EstimatedCompletion,
			Target:              target,
		}
	}
	return st, nil
}
