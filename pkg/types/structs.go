package types

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// --- Identifiers ---

type FleetID string
type OrderID string
type EngagementID string
type SystemID string
type PlanetID string

// SortFleetIDs orders ids ascending, the iteration order of every tick.
func SortFleetIDs(ids []FleetID) []FleetID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- Geometry ---

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) Add(o Vector3) Vector3      { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3      { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(k float64) Vector3    { return Vector3{v.X * k, v.Y * k, v.Z * k} }
func (v Vector3) Length() float64            { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vector3) Distance(o Vector3) float64 { return v.Sub(o).Length() }

// MoveToward steps at most step units from v toward target.
func (v Vector3) MoveToward(target Vector3, step float64) Vector3 {
	d := v.Distance(target)
	if d <= step || d == 0 {
		return target
	}
	return v.Add(target.Sub(v).Scale(step / d))
}

// --- Orders ---

type OrderType string

const (
	OrderMoveTo          OrderType = "MOVE_TO"
	OrderAttack          OrderType = "ATTACK"
	OrderDefend          OrderType = "DEFEND"
	OrderPatrol          OrderType = "PATROL"
	OrderEscort          OrderType = "ESCORT"
	OrderFormUp          OrderType = "FORM_UP"
	OrderChangeFormation OrderType = "CHANGE_FORMATION"
	OrderSurvey          OrderType = "SURVEY"
	OrderRefuel          OrderType = "REFUEL"
	OrderRepair          OrderType = "REPAIR"
	OrderResupply        OrderType = "RESUPPLY"
)

var AllOrderTypes = []OrderType{
	OrderMoveTo, OrderAttack, OrderDefend, OrderPatrol, OrderEscort, OrderFormUp,
	OrderChangeFormation, OrderSurvey, OrderRefuel, OrderRepair, OrderResupply,
}

func (t OrderType) Valid() bool {
	for _, k := range AllOrderTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Resumable reports whether a preempted order of this type goes back in the queue.
func (t OrderType) Resumable() bool {
	return t == OrderMoveTo || t == OrderPatrol
}

// Priority is totally ordered, EMERGENCY highest.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityEmergency
)

var priorityNames = map[Priority]string{
	PriorityLow:       "LOW",
	PriorityNormal:    "NORMAL",
	PriorityHigh:      "HIGH",
	PriorityEmergency: "EMERGENCY",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusActive    OrderStatus = "ACTIVE"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusFailed    OrderStatus = "FAILED"
	StatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonInsufficientFuel     FailureReason = "InsufficientFuel"
	ReasonInsufficientSupply   FailureReason = "InsufficientSupply"
	ReasonTargetLost           FailureReason = "TargetLost"
	ReasonPreconditionTimeout  FailureReason = "PreconditionTimeout"
	ReasonPreconditionViolated FailureReason = "PreconditionViolated"
	ReasonInsufficientShips    FailureReason = "InsufficientShips"
	ReasonUnknownTemplate      FailureReason = "UnknownTemplate"
	ReasonTravelFailed         FailureReason = "TravelFailed"
	ReasonForcedRetreat        FailureReason = "ForcedRetreat"
	ReasonDefeated             FailureReason = "Defeated"
	ReasonPreempted            FailureReason = "Preempted"
	ReasonCancelled            FailureReason = "Cancelled"
)

// OrderParameters is the per-type payload. Only the fields meaningful to the
// order's type are read by the executor.
type OrderParameters struct {
	SpeedFraction float64   `json:"speed_fraction,omitempty"` // MOVE_TO, PATROL, ESCORT, ATTACK approach
	Waypoints     []Vector3 `json:"waypoints,omitempty"`      // PATROL
	FormationID   string    `json:"formation_id,omitempty"`   // FORM_UP, CHANGE_FORMATION
	SystemID      SystemID  `json:"system_id,omitempty"`      // MOVE_TO beyond the current system
	Duration      float64   `json:"duration,omitempty"`       // DEFEND, SURVEY, REPAIR
	SupplyTypes   []string  `json:"supply_types,omitempty"`   // RESUPPLY
}

// OrderTarget carries at most one of its fields.
type OrderTarget struct {
	Position *Vector3 `json:"position,omitempty"`
	FleetID  FleetID  `json:"fleet_id,omitempty"`
	PlanetID PlanetID `json:"planet_id,omitempty"`
}

// ExecutionState is the executor's private cursor for an order.
type ExecutionState struct {
	Started          bool         `json:"started"`
	StartPosition    Vector3      `json:"start_position"`
	TotalDistance    float64      `json:"total_distance"`
	Covered          float64      `json:"covered"`
	WaypointIndex    int          `json:"waypoint_index"`
	Elapsed          float64      `json:"elapsed"`
	TravelTime       float64      `json:"travel_time,omitempty"`
	TravelOrigin     SystemID     `json:"travel_origin,omitempty"`
	Arrival          *Vector3     `json:"arrival,omitempty"`
	EngagementID     EngagementID `json:"engagement_id,omitempty"`
	TargetShipsStart int          `json:"target_ships_start,omitempty"`
	FormationApplied bool         `json:"formation_applied,omitempty"`
}

type FleetOrder struct {
	ID                  OrderID         `json:"id"`
	Seq                 uint64          `json:"seq"`
	FleetID             FleetID         `json:"fleet_id"`
	Type                OrderType       `json:"order_type"`
	Priority            Priority        `json:"priority"`
	Parameters          OrderParameters `json:"parameters"`
	TargetPosition      *Vector3        `json:"target_position,omitempty"`
	TargetFleetID       FleetID         `json:"target_fleet_id,omitempty"`
	TargetPlanetID      PlanetID        `json:"target_planet_id,omitempty"`
	Preconditions       []string        `json:"preconditions,omitempty"`
	Status              OrderStatus     `json:"status"`
	Progress            float64         `json:"progress"`
	CreatedAt           float64         `json:"created_at"`
	QueuedAt            float64         `json:"queued_at,omitempty"` // precondition timeout counts from here
	ActivatedAt         float64         `json:"activated_at,omitempty"`
	FinishedAt          float64         `json:"finished_at,omitempty"`
	EstimatedCompletion float64         `json:"estimated_completion,omitempty"`
	FailureReason       FailureReason   `json:"failure_reason,omitempty"`
	Detail              string          `json:"detail,omitempty"`
	IsRepeating         bool            `json:"is_repeating,omitempty"`
	RepeatCount         int             `json:"repeat_count,omitempty"`
	MaxRepeats          int             `json:"max_repeats,omitempty"`
	ResumedFrom         OrderID         `json:"resumed_from,omitempty"`
	Exec                ExecutionState  `json:"execution"`
}

func (o *FleetOrder) Target() OrderTarget {
	return OrderTarget{Position: o.TargetPosition, FleetID: o.TargetFleetID, PlanetID: o.TargetPlanetID}
}

func (o *FleetOrder) Clone() *FleetOrder {
	if o == nil {
		return nil
	}
	c := *o
	if o.TargetPosition != nil {
		p := *o.TargetPosition
		c.TargetPosition = &p
	}
	if o.Exec.Arrival != nil {
		a := *o.Exec.Arrival
		c.Exec.Arrival = &a
	}
	c.Parameters.Waypoints = append([]Vector3(nil), o.Parameters.Waypoints...)
	c.Parameters.SupplyTypes = append([]string(nil), o.Parameters.SupplyTypes...)
	c.Preconditions = append([]string(nil), o.Preconditions...)
	return &c
}

// --- Fleet State ---

type FormationState struct {
	TemplateID       string  `json:"template_id,omitempty"`
	Integrity        float64 `json:"integrity"`
	Cohesion         float64 `json:"cohesion"`
	BonusesActive    bool    `json:"bonuses_active"`
	ReformTemplateID string  `json:"reform_template_id,omitempty"` // broken by combat, re-adopted once clear
}

type CombatStatus struct {
	InCombat     bool         `json:"in_combat"`
	EngagementID EngagementID `json:"engagement_id,omitempty"`
	CombatRating float64      `json:"combat_rating"`
	Experience   float64      `json:"experience"`
	Morale       float64      `json:"morale"`
	Attrition    float64      `json:"attrition"` // fractional ship losses not yet applied
	Destroyed    bool         `json:"destroyed,omitempty"`
}

type LogisticsState struct {
	FuelStatus     float64            `json:"fuel_status"`
	SupplyStatus   map[string]float64 `json:"supply_status"`
	MaintenanceDue float64            `json:"maintenance_due"`
}

func (l LogisticsState) Clone() LogisticsState {
	c := l
	c.SupplyStatus = make(map[string]float64, len(l.SupplyStatus))
	for k, v := range l.SupplyStatus {
		c.SupplyStatus[k] = v
	}
	return c
}

// MinSupply is the lowest supply fraction across all tracked kinds, 1 if none.
func (l LogisticsState) MinSupply() float64 {
	lowest := 1.0
	for _, v := range l.SupplyStatus {
		if v < lowest {
			lowest = v
		}
	}
	return lowest
}

// Capability is the fleet's read-only loadout vector, scaled down by losses.
type Capability struct {
	Firepower    float64 `json:"firepower"`
	Defense      float64 `json:"defense"`
	Mass         float64 `json:"mass"`
	Crew         float64 `json:"crew"`
	ShipCount    int     `json:"ship_count"`
	DamagedShips int     `json:"damaged_ships"`
}

// Effective returns firepower and defense with damaged ships at half strength.
func (c Capability) Effective() (firepower, defense float64) {
	if c.ShipCount <= 0 {
		return 0, 0
	}
	k := 1 - 0.5*float64(c.DamagedShips)/float64(c.ShipCount)
	return c.Firepower * k, c.Defense * k
}

type MissionStats struct {
	TotalMissions     int `json:"total_missions"`
	CompletedMissions int `json:"completed_missions"`
	FailedMissions    int `json:"failed_missions"`
	CancelledMissions int `json:"cancelled_missions"`
}

func (m MissionStats) SuccessRate() float64 {
	n := m.CompletedMissions + m.FailedMissions
	if n == 0 {
		return 0
	}
	return float64(m.CompletedMissions) / float64(n)
}

// FleetCommandState is owned by the command facade; nothing else mutates it.
type FleetCommandState struct {
	FleetID              FleetID        `json:"fleet_id"`
	Name                 string         `json:"name,omitempty"`
	EmpireID             string         `json:"empire_id,omitempty"`
	FlagshipID           string         `json:"flagship_id,omitempty"`
	CommanderID          string         `json:"commander_id,omitempty"`
	CommanderSkill       float64        `json:"commander_skill"`
	OrderQueue           []*FleetOrder  `json:"order_queue"`
	ActiveOrder          *FleetOrder    `json:"active_order,omitempty"`
	History              []*FleetOrder  `json:"history"`
	Formation            FormationState `json:"formation"`
	Combat               CombatStatus   `json:"combat"`
	Logistics            LogisticsState `json:"logistics"`
	Capability           Capability     `json:"capability"`
	Position             Vector3        `json:"position"`
	SystemID             SystemID       `json:"system_id"`
	Stats                MissionStats   `json:"stats"`
	CommandEffectiveness float64        `json:"command_effectiveness"`
}

func (s *FleetCommandState) Clone() *FleetCommandState {
	c := *s
	c.OrderQueue = cloneOrders(s.OrderQueue)
	c.History = cloneOrders(s.History)
	c.ActiveOrder = s.ActiveOrder.Clone()
	c.Logistics = s.Logistics.Clone()
	return &c
}

func cloneOrders(in []*FleetOrder) []*FleetOrder {
	out := make([]*FleetOrder, 0, len(in))
	for _, o := range in {
		out = append(out, o.Clone())
	}
	return out
}

// Capable reports whether the fleet can still fight.
func (s *FleetCommandState) Capable() bool {
	fp, _ := s.Capability.Effective()
	return !s.Combat.Destroyed && s.Capability.ShipCount > 0 && fp > 0
}

// Roster resolves fleet ids to their command state. Implemented by the facade.
type Roster interface {
	Fleet(id FleetID) (*FleetCommandState, bool)
	FleetIDs() []FleetID
}

// --- Boundary Inputs ---

// FleetSnapshot is the surrounding world's view of a fleet entering tactical play.
type FleetSnapshot struct {
	FleetID    FleetID            `json:"fleet_id"`
	Name       string             `json:"name,omitempty"`
	ShipIDs    []string           `json:"ship_ids,omitempty"`
	Capability Capability         `json:"capability"`
	Position   Vector3            `json:"position"`
	SystemID   SystemID           `json:"system_id"`
	Fuel       *float64           `json:"fuel,omitempty"`
	Supplies   map[string]float64 `json:"supplies,omitempty"`
	Morale     *float64           `json:"morale,omitempty"`
	Experience float64            `json:"experience,omitempty"`
}

type EmpireContext struct {
	EmpireID       string  `json:"empire_id"`
	CommanderID    string  `json:"commander_id,omitempty"`
	CommanderSkill float64 `json:"commander_skill,omitempty"`
}

// Fleets is a map-backed Roster.
type Fleets map[FleetID]*FleetCommandState

func (f Fleets) Fleet(id FleetID) (*FleetCommandState, bool) {
	s, ok := f[id]
	return s, ok
}

func (f Fleets) FleetIDs() []FleetID {
	ids := make([]FleetID, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	return SortFleetIDs(ids)
}
