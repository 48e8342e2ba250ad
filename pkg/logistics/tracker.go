package logistics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"fleetcommand/pkg/core"
	"fleetcommand/pkg/types"
)

var (
	ErrUnknownFleet       = errors.New("unknown fleet")
	ErrInsufficientFuel   = errors.New("insufficient fuel")
	ErrInsufficientSupply = errors.New("insufficient supply")
	ErrInvalidAmount      = errors.New("invalid logistics amount")
)

// KindFuel selects the fuel tank in Replenish; any other kind is a supply type.
const KindFuel = "fuel"

// Supply types every fleet starts with.
var DefaultSupplyTypes = []string{"ammunition", "provisions", "spares"}

type Config struct {
	MaintenanceInterval float64 `yaml:"maintenance_interval"` // sim seconds from 0 to fully due
	FuelLow             float64 `yaml:"fuel_low"`
	SupplyLow           float64 `yaml:"supply_low"`
}

func DefaultConfig() Config {
	return Config{
		MaintenanceInterval: 720 * 3600,
		FuelLow:             0.2,
		SupplyLow:           0.2,
	}
}

// Emitter is the interface adapters must satisfy to bridge logistics events out of the tracker.
type Emitter interface {
	EmitLogisticsLow(fleetID types.FleetID, resource string, level, threshold float64)
	EmitReplenished(fleetID types.FleetID, resource string, amount, level float64)
	EmitMaintenanceDue(fleetID types.FleetID, level float64)
}

type Tracker struct {
	cfg    Config
	fleets types.Roster
	emit   Emitter
}

func NewTracker(cfg Config, fleets types.Roster, emit Emitter) *Tracker {
	return &Tracker{cfg: cfg, fleets: fleets, emit: emit}
}

func (t *Tracker) Config() Config { return t.cfg }

func (t *Tracker) state(fleetID types.FleetID) (*types.LogisticsState, error) {
	fs, ok := t.fleets.Fleet(fleetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFleet, fleetID)
	}
	if fs.Logistics.SupplyStatus == nil {
		fs.Logistics.SupplyStatus = make(map[string]float64)
	}
	return &fs.Logistics, nil
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Consume deducts fuel and supplies as one unit. If any amount exceeds what the
// fleet holds, nothing is deducted.
func (t *Tracker) Consume(fleetID types.FleetID, fuel float64, supplies map[string]float64) error {
	ls, err := t.state(fleetID)
	if err != nil {
		return err
	}
	if !validAmount(fuel) {
		return fmt.Errorf("%w: fuel %v", ErrInvalidAmount, fuel)
	}
	if core.Exceeds(fuel, ls.FuelStatus) {
		return fmt.Errorf("%w: need %.4f, have %.4f", ErrInsufficientFuel, fuel, ls.FuelStatus)
	}
	kinds := make([]string, 0, len(supplies))
	for k := range supplies {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		need := supplies[k]
		if !validAmount(need) {
			return fmt.Errorf("%w: %s %v", ErrInvalidAmount, k, need)
		}
		if core.Exceeds(need, ls.SupplyStatus[k]) {
			return fmt.Errorf("%w: %s need %.4f, have %.4f", ErrInsufficientSupply, k, need, ls.SupplyStatus[k])
		}
	}

	before := ls.FuelStatus
	ls.FuelStatus = core.Clamp01(ls.FuelStatus - fuel)
	t.checkLow(fleetID, KindFuel, before, ls.FuelStatus, t.cfg.FuelLow)
	for _, k := range kinds {
		if supplies[k] == 0 {
			continue
		}
		prev := ls.SupplyStatus[k]
		ls.SupplyStatus[k] = core.Clamp01(prev - supplies[k])
		t.checkLow(fleetID, k, prev, ls.SupplyStatus[k], t.cfg.SupplyLow)
	}
	return nil
}

func (t *Tracker) checkLow(fleetID types.FleetID, kind string, before, after, threshold float64) {
	if before >= threshold && after < threshold {
		t.emit.EmitLogisticsLow(fleetID, kind, after, threshold)
	}
}

// Replenish adds amount to the named resource, capped at full, and returns the
// new level.
func (t *Tracker) Replenish(fleetID types.FleetID, kind string, amount float64) (float64, error) {
	ls, err := t.state(fleetID)
	if err != nil {
		return 0, err
	}
	if !validAmount(amount) {
		return 0, fmt.Errorf("%w: %s %v", ErrInvalidAmount, kind, amount)
	}
	var prev float64
	if kind == KindFuel {
		prev = ls.FuelStatus
	} else {
		prev = ls.SupplyStatus[kind]
	}
	level := core.Clamp01(prev + amount)
	if kind == KindFuel {
		ls.FuelStatus = level
	} else {
		ls.SupplyStatus[kind] = level
	}
	if added := level - prev; added > 0 {
		t.emit.EmitReplenished(fleetID, kind, added, level)
	}
	return level, nil
}

// AccrueMaintenance adds elapsed operational time to maintenance_due.
func (t *Tracker) AccrueMaintenance(fleetID types.FleetID, dt float64) error {
	ls, err := t.state(fleetID)
	if err != nil {
		return err
	}
	if dt <= 0 || t.cfg.MaintenanceInterval <= 0 {
		return nil
	}
	prev := ls.MaintenanceDue
	ls.MaintenanceDue = core.Clamp01(prev + dt/t.cfg.MaintenanceInterval)
	if prev < 1 && core.AtLeast(ls.MaintenanceDue, 1) {
		t.emit.EmitMaintenanceDue(fleetID, ls.MaintenanceDue)
	}
	return nil
}

func (t *Tracker) ResetMaintenance(fleetID types.FleetID) error {
	ls, err := t.state(fleetID)
	if err != nil {
		return err
	}
	ls.MaintenanceDue = 0
	return nil
}

// Snapshot returns a copy of the fleet's logistics state.
func (t *Tracker) Snapshot(fleetID types.FleetID) (types.LogisticsState, error) {
	ls, err := t.state(fleetID)
	if err != nil {
		return types.LogisticsState{}, err
	}
	return ls.Clone(), nil
}

// Full reports whether fuel, or every listed supply type, is topped up.
func Full(ls types.LogisticsState, kinds []string) bool {
	for _, k := range kinds {
		var v float64
		if k == KindFuel {
			v = ls.FuelStatus
		} else {
			v = ls.SupplyStatus[k]
		}
		if !core.AtLeast(v, 1) {
			return false
		}
	}
	return true
}
