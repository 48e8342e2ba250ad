package travel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"fleetcommand/pkg/orders"
	"fleetcommand/pkg/types"
)

var ErrUnknownSystem = errors.New("unknown star system")

// System is a charted star system. Coordinates are in galactic grid units.
type System struct {
	ID      types.SystemID `json:"id" yaml:"id"`
	Name    string         `json:"name,omitempty" yaml:"name"`
	X       int            `json:"x" yaml:"x"`
	Y       int            `json:"y" yaml:"y"`
	Z       int            `json:"z" yaml:"z"`
	Cluster string         `json:"cluster,omitempty" yaml:"cluster"`
	Lane    bool           `json:"lane,omitempty" yaml:"lane"` // reachable by hyperlane
}

type Config struct {
	Speed               float64 `yaml:"speed"`                  // grid units per second
	FuelPerMassDistance float64 `yaml:"fuel_per_mass_distance"` // fuel fraction per mass unit per grid unit
	LocalMultiplier     float64 `yaml:"local_multiplier"`
	LaneMultiplier      float64 `yaml:"lane_multiplier"`
	DeepSpaceMultiplier float64 `yaml:"deep_space_multiplier"`
	AllowUncharted      bool    `yaml:"allow_uncharted"`
}

func DefaultConfig() Config {
	return Config{
		Speed:               0.1,
		FuelPerMassDistance: 1e-6,
		LocalMultiplier:     1.0,
		LaneMultiplier:      2.5,
		DeepSpaceMultiplier: 10.0,
		AllowUncharted:      true,
	}
}

// Service is the default relocation collaborator: straight-line jumps over a
// static chart, priced by route class.
type Service struct {
	cfg     Config
	mu      sync.RWMutex
	systems map[types.SystemID]System
}

func NewService(cfg Config, systems ...System) *Service {
	s := &Service{cfg: cfg, systems: make(map[types.SystemID]System)}
	for _, sys := range systems {
		s.systems[sys.ID] = sys
	}
	return s
}

// Chart adds or replaces a system.
func (s *Service) Chart(sys System) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems[sys.ID] = sys
}

// Systems lists the charted systems by id.
func (s *Service) Systems() []System {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]System, 0, len(s.systems))
	for _, sys := range s.systems {
		out = append(out, sys)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup resolves a system id. Uncharted ids of the form sys-X-Y-Z resolve
// to deep space at those coordinates.
func (s *Service) Lookup(id types.SystemID) (System, bool) {
	s.mu.RLock()
	sys, ok := s.systems[id]
	s.mu.RUnlock()
	if ok {
		return sys, true
	}
	var x, y, z int
	if n, _ := fmt.Sscanf(string(id), "sys-%d-%d-%d", &x, &y, &z); n == 3 && s.cfg.AllowUncharted {
		return System{ID: id, X: x, Y: y, Z: z}, true
	}
	return System{}, false
}

func distance(a, b System) float64 {
	dist := 0.0
	for _, d := range [3]int{a.X - b.X, a.Y - b.Y, a.Z - b.Z} {
		dist += math.Pow(float64(d), 2)
	}
	return math.Sqrt(dist)
}

// multiplier prices the route: within a cluster, along a hyperlane, or
// through uncharted deep space.
func (s *Service) multiplier(from, to System) float64 {
	switch {
	case from.Cluster != "" && from.Cluster == to.Cluster:
		return s.cfg.LocalMultiplier
	case to.Lane:
		return s.cfg.LaneMultiplier
	}
	return s.cfg.DeepSpaceMultiplier
}

// FuelCost is the fuel fraction a jump of the given mass costs.
func (s *Service) FuelCost(from, to System, mass float64) float64 {
	return distance(from, to) * mass * s.cfg.FuelPerMassDistance * s.multiplier(from, to)
}

func (s *Service) Relocate(req orders.RelocationRequest) (orders.RelocationResult, error) {
	from, ok := s.Lookup(req.From)
	if !ok {
		return orders.RelocationResult{}, fmt.Errorf("%w: %s", ErrUnknownSystem, req.From)
	}
	to, ok := s.Lookup(req.To)
	if !ok {
		return orders.RelocationResult{Reason: "no chart for " + string(req.To)}, nil
	}
	if req.ShipCount <= 0 {
		return orders.RelocationResult{Reason: "no ships to move"}, nil
	}
	if s.cfg.Speed <= 0 {
		return orders.RelocationResult{}, errors.New("travel speed must be positive")
	}

	res := orders.RelocationResult{
		OK:          true,
		ElapsedTime: distance(from, to) / s.cfg.Speed,
		FuelCost:    s.FuelCost(from, to, req.Mass),
	}
	if req.Destination != nil {
		res.Arrival = *req.Destination
	}
	if res.FuelCost > 1 {
		return orders.RelocationResult{Reason: fmt.Sprintf("jump needs %.2f fuel capacities", res.FuelCost)}, nil
	}
	return res, nil
}
