package main

import "fleetcommand/pkg/types"

// --- API Models ---

type InitFleetRequest struct {
	Fleet  types.FleetSnapshot `json:"fleet"`
	Empire types.EmpireContext `json:"empire"`
}

type IssueOrderRequest struct {
	Type          types.OrderType       `json:"order_type"`
	Priority      *types.Priority       `json:"priority,omitempty"` // NORMAL when omitted
	Parameters    types.OrderParameters `json:"parameters"`
	Target        types.OrderTarget     `json:"target"`
	Preconditions []string              `json:"preconditions,omitempty"`
	Repeating     bool                  `json:"repeating,omitempty"`
	MaxRepeats    int                   `json:"max_repeats,omitempty"`
}

type IssueOrderResponse struct {
	OrderID types.OrderID `json:"order_id"`
}

type FormationRequest struct {
	TemplateID string `json:"template_id"`
}

type EngagementRequest struct {
	Attackers []types.FleetID `json:"attackers"`
	Defenders []types.FleetID `json:"defenders"`
	SystemID  types.SystemID  `json:"system_id"`
}

type EngagementResponse struct {
	EngagementID types.EngagementID `json:"engagement_id"`
}

type CleanupResponse struct {
	Removed int `json:"removed"`
}

type ServerStatus struct {
	Tick       uint64  `json:"tick"`
	Clock      float64 `json:"clock"`
	Fleets     int     `json:"fleets"`
	Engaged    int     `json:"engagements"`
	LedgerHead string  `json:"ledger_head,omitempty"`
	Driver     string  `json:"driver"`
}
