package command

import (
	"fmt"

	"fleetcommand/pkg/combat"
	"fleetcommand/pkg/types"
)

// State is a complete, lossless export of the command layer.
type State struct {
	Tick       uint64                     `json:"tick"`
	Clock      float64                    `json:"clock"`
	EventSeq   uint64                     `json:"event_seq"`
	OrderSeq   uint64                     `json:"order_seq"`
	Fleets     []*types.FleetCommandState `json:"fleets"`
	Combat     combat.State               `json:"combat"`
	LedgerHead string                     `json:"ledger_head,omitempty"`
}

// Export copies the whole command state, fleets in ascending id order.
func (f *Facade) Export() State {
	s := State{
		Tick:     f.tick,
		Clock:    f.clock,
		EventSeq: f.eventSeq,
		OrderSeq: f.orders.Seq(),
		Combat:   f.combat.Export(),
	}
	for _, id := range f.fleets.FleetIDs() {
		s.Fleets = append(s.Fleets, f.fleets[id].Clone())
	}
	if f.ledger != nil {
		s.LedgerHead = f.ledger.Head()
	}
	return s
}

// Restore replaces the command state with s. Pending events are dropped.
func (f *Facade) Restore(s State) error {
	seen := make(map[types.FleetID]bool, len(s.Fleets))
	for _, fs := range s.Fleets {
		if fs == nil || fs.FleetID == "" || seen[fs.FleetID] {
			return fmt.Errorf("%w: bad fleet in export", ErrInvalidSnapshot)
		}
		seen[fs.FleetID] = true
	}
	// Components hold the registry map, so it is refilled in place.
	for id := range f.fleets {
		delete(f.fleets, id)
	}
	for _, fs := range s.Fleets {
		c := fs.Clone()
		if c.Logistics.SupplyStatus == nil {
			c.Logistics.SupplyStatus = map[string]float64{}
		}
		f.fleets[c.FleetID] = c
	}
	f.tick = s.Tick
	f.clock = s.Clock
	f.eventSeq = s.EventSeq
	f.orders.SetSeq(s.OrderSeq)
	f.combat.Restore(s.Combat)
	f.pending = nil
	if f.ledger != nil {
		f.ledger.Resume(s.LedgerHead)
	}
	return nil
}
