package types

type EventKind string

const (
	KindOrder     EventKind = "order"
	KindCombat    EventKind = "combat"
	KindLogistics EventKind = "logistics"
	KindFormation EventKind = "formation"
)

type EventType string

const (
	EventOrderSubmitted EventType = "order.submitted"
	EventOrderActivated EventType = "order.activated"
	EventOrderCompleted EventType = "order.completed"
	EventOrderFailed    EventType = "order.failed"
	EventOrderCancelled EventType = "order.cancelled"

	EventEngagementStarted EventType = "combat.engagement_started"
	EventCombatExchange    EventType = "combat.exchange"
	EventForcedRetreat     EventType = "combat.forced_retreat"
	EventFleetDestroyed    EventType = "combat.fleet_destroyed"
	EventEngagementEnded   EventType = "combat.engagement_ended"

	EventLogisticsLow      EventType = "logistics.low"
	EventLogisticsRefilled EventType = "logistics.replenished"
	EventMaintenanceDue    EventType = "logistics.maintenance_due"

	EventFormationChanged EventType = "formation.changed"
	EventFormationBonus   EventType = "formation.bonus"
)

func (t EventType) Kind() EventKind {
	for i := 0; i < len(t); i++ {
		if t[i] == '.' {
			return EventKind(t[:i])
		}
	}
	return EventKind(t)
}

// Event is a single typed notification produced by the command core.
type Event struct {
	Seq     uint64    `json:"seq"`
	Tick    uint64    `json:"tick"`
	Time    float64   `json:"time"`
	Kind    EventKind `json:"kind"`
	Type    EventType `json:"type"`
	FleetID FleetID   `json:"fleet_id,omitempty"`
	Payload any       `json:"payload"`
}

// EventSink receives events; the surrounding application owns it.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// --- Event payloads ---

type OrderSubmittedEvent struct {
	OrderID   OrderID   `json:"order_id"`
	OrderType OrderType `json:"order_type"`
	Priority  Priority  `json:"priority"`
}

type OrderActivatedEvent struct {
	OrderID   OrderID   `json:"order_id"`
	OrderType OrderType `json:"order_type"`
	Priority  Priority  `json:"priority"`
}

type OrderCompletedEvent struct {
	OrderID   OrderID   `json:"order_id"`
	OrderType OrderType `json:"order_type"`
	Duration  float64   `json:"duration"`
}

type OrderFailedEvent struct {
	OrderID   OrderID       `json:"order_id"`
	OrderType OrderType     `json:"order_type"`
	Reason    FailureReason `json:"reason"`
	Detail    string        `json:"detail,omitempty"`
}

type OrderCancelledEvent struct {
	OrderID    OrderID       `json:"order_id"`
	OrderType  OrderType     `json:"order_type"`
	Reason     FailureReason `json:"reason"`
	RequeuedAs OrderID       `json:"requeued_as,omitempty"`
}

type EngagementStartedEvent struct {
	EngagementID EngagementID `json:"engagement_id"`
	SystemID     SystemID     `json:"system_id"`
	Attackers    []FleetID    `json:"attackers"`
	Defenders    []FleetID    `json:"defenders"`
}

type CombatExchangeEvent struct {
	EngagementID   EngagementID `json:"engagement_id"`
	Round          int          `json:"round"`
	AttackerRating float64      `json:"attacker_rating"`
	DefenderRating float64      `json:"defender_rating"`
	AttackerLosses float64      `json:"attacker_losses"`
	DefenderLosses float64      `json:"defender_losses"`
	Winner         Side         `json:"winner"`
}

type ForcedRetreatEvent struct {
	EngagementID EngagementID `json:"engagement_id"`
	Morale       float64      `json:"morale"`
}

type FleetDestroyedEvent struct {
	EngagementID EngagementID `json:"engagement_id"`
}

type EngagementEndedEvent struct {
	Summary EngagementSummary `json:"summary"`
}

type LogisticsLowEvent struct {
	Resource  string  `json:"resource"`
	Level     float64 `json:"level"`
	Threshold float64 `json:"threshold"`
}

type LogisticsRefilledEvent struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
	Level    float64 `json:"level"`
}

type MaintenanceDueEvent struct {
	Level float64 `json:"level"`
}

type FormationChangedEvent struct {
	Previous   string `json:"previous,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type FormationBonusEvent struct {
	TemplateID string  `json:"template_id"`
	Active     bool    `json:"active"`
	Integrity  float64 `json:"integrity"`
}

// --- Combat summaries ---

type Side string

const (
	SideNone      Side = ""
	SideAttackers Side = "attackers"
	SideDefenders Side = "defenders"
	SideDraw      Side = "draw"
)

func (s Side) Opposite() Side {
	switch s {
	case SideAttackers:
		return SideDefenders
	case SideDefenders:
		return SideAttackers
	}
	return SideNone
}

type FleetLosses struct {
	Destroyed int     `json:"destroyed"`
	Damaged   int     `json:"damaged"`
	Attrition float64 `json:"attrition"`
}

// EngagementSummary is immutable once produced.
type EngagementSummary struct {
	EngagementID   EngagementID            `json:"engagement_id"`
	SystemID       SystemID                `json:"system_id"`
	Attackers      []FleetID               `json:"attackers"`
	Defenders      []FleetID               `json:"defenders"`
	Losses         map[FleetID]FleetLosses `json:"losses"`
	Retreated      []FleetID               `json:"retreated,omitempty"`
	Destroyed      []FleetID               `json:"destroyed,omitempty"`
	StartedAt      float64                 `json:"started_at"`
	EndedAt        float64                 `json:"ended_at"`
	Duration       float64                 `json:"duration"`
	Rounds         int                     `json:"rounds"`
	AttackerDamage float64                 `json:"attacker_damage"`
	DefenderDamage float64                 `json:"defender_damage"`
	Winner         Side                    `json:"winner"`
}
