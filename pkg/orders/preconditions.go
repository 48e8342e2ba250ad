package orders

import (
	"fmt"
	"math"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"fleetcommand/pkg/core"
	"fleetcommand/pkg/types"
)

// Env is the world view a precondition expression is evaluated against.
type Env struct {
	Fuel             float64
	Supplies         map[string]float64
	MinSupply        float64
	Maintenance      float64
	FormationSet     bool
	Integrity        float64
	Cohesion         float64
	BonusesActive    bool
	InCombat         bool
	Morale           float64
	Experience       float64
	Ships            int
	DamagedShips     int
	HasTarget        bool
	DistanceToTarget float64
	TargetPresent    bool
	Now              float64
	Waited           float64

	FuelReserve      float64
	SupplyReserve    float64
	FormedThreshold  float64
	ArrivalTolerance float64
	RetreatMorale    float64
	Epsilon          float64
}

// Named predicates. Anything else is compiled as a boolean expression over Env.
var namedPredicates = map[string]string{
	"formation_ready":  "FormationSet && BonusesActive",
	"formation_formed": "FormationSet && Integrity >= FormedThreshold - Epsilon",
	"position_reached": "HasTarget && DistanceToTarget <= ArrivalTolerance",
	"fuel_ok":          "Fuel > FuelReserve + Epsilon",
	"supplies_ok":      "MinSupply > SupplyReserve + Epsilon",
	"not_in_combat":    "!InCombat",
	"in_combat":        "InCombat",
	"target_present":   "TargetPresent",
	"maintenance_ok":   "Maintenance < 1 - Epsilon",
	"morale_ok":        "Morale >= RetreatMorale - Epsilon",
}

// NamedPredicates lists the built-in predicate names.
func NamedPredicates() []string {
	names := make([]string, 0, len(namedPredicates))
	for n := range namedPredicates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// failureReasons maps a violated predicate to the reason an active order fails with.
var failureReasons = map[string]types.FailureReason{
	"fuel_ok":        types.ReasonInsufficientFuel,
	"supplies_ok":    types.ReasonInsufficientSupply,
	"target_present": types.ReasonTargetLost,
}

func reasonFor(predicate string) types.FailureReason {
	if r, ok := failureReasons[predicate]; ok {
		return r
	}
	return types.ReasonPreconditionViolated
}

// Preconditions compiles predicates once and caches the programs.
type Preconditions struct {
	programs map[string]*vm.Program
}

func NewPreconditions() (*Preconditions, error) {
	p := &Preconditions{programs: make(map[string]*vm.Program)}
	for name := range namedPredicates {
		if _, err := p.program(name); err != nil {
			return nil, fmt.Errorf("compile predicate %s: %w", name, err)
		}
	}
	return p, nil
}

func source(name string) string {
	if src, ok := namedPredicates[name]; ok {
		return src
	}
	return name
}

func (p *Preconditions) program(name string) (*vm.Program, error) {
	if prog, ok := p.programs[name]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(source(name), expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	p.programs[name] = prog
	return prog, nil
}

type identFinder struct{ found bool }

func (f *identFinder) Visit(node *ast.Node) {
	if _, ok := (*node).(*ast.IdentifierNode); ok {
		f.found = true
	}
}

// constant reports whether the expression reads nothing from Env.
func constant(src string) (bool, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return false, err
	}
	f := &identFinder{}
	ast.Walk(&tree.Node, f)
	return !f.found, nil
}

// Check validates a predicate for an order about to be queued on fs.
func (p *Preconditions) Check(name string, fs *types.FleetCommandState, o *types.FleetOrder, minShips int) error {
	prog, err := p.program(name)
	if err != nil {
		return fmt.Errorf("%w: precondition %q: %v", ErrInvalidParameters, name, err)
	}
	switch name {
	case "formation_ready", "formation_formed":
		if fs.Formation.TemplateID == "" && fs.Capability.ShipCount < minShips {
			return fmt.Errorf("%w: %s with %d ships, smallest formation needs %d",
				ErrPreconditionNeverSatisfiable, name, fs.Capability.ShipCount, minShips)
		}
	case "position_reached":
		if o.TargetPosition == nil && o.TargetFleetID == "" {
			return fmt.Errorf("%w: %s on an order without a target", ErrPreconditionNeverSatisfiable, name)
		}
	case "target_present":
		if o.TargetFleetID == "" {
			return fmt.Errorf("%w: %s on an order without a target fleet", ErrPreconditionNeverSatisfiable, name)
		}
	}
	if _, named := namedPredicates[name]; named {
		return nil
	}
	isConst, err := constant(name)
	if err != nil {
		return fmt.Errorf("%w: precondition %q: %v", ErrInvalidParameters, name, err)
	}
	if isConst {
		out, err := vm.Run(prog, Env{})
		if err != nil {
			return fmt.Errorf("%w: precondition %q: %v", ErrInvalidParameters, name, err)
		}
		if ok, _ := out.(bool); !ok {
			return fmt.Errorf("%w: %q is always false", ErrPreconditionNeverSatisfiable, name)
		}
	}
	return nil
}

// Eval runs one predicate.
func (p *Preconditions) Eval(name string, env Env) (bool, error) {
	prog, err := p.program(name)
	if err != nil {
		return false, err
	}
	out, err := vm.Run(prog, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

// envFor builds the evaluation environment for an order on fs.
func (e *Executor) envFor(fs *types.FleetCommandState, o *types.FleetOrder) Env {
	env := Env{
		Fuel:             fs.Logistics.FuelStatus,
		Supplies:         fs.Logistics.SupplyStatus,
		MinSupply:        fs.Logistics.MinSupply(),
		Maintenance:      fs.Logistics.MaintenanceDue,
		FormationSet:     fs.Formation.TemplateID != "",
		Integrity:        fs.Formation.Integrity,
		Cohesion:         fs.Formation.Cohesion,
		BonusesActive:    fs.Formation.BonusesActive,
		InCombat:         fs.Combat.InCombat,
		Morale:           fs.Combat.Morale,
		Experience:       fs.Combat.Experience,
		Ships:            fs.Capability.ShipCount,
		DamagedShips:     fs.Capability.DamagedShips,
		DistanceToTarget: math.Inf(1),
		Now:              e.now(),
		Waited:           e.now() - o.QueuedAt,

		FuelReserve:      e.cfg.FuelReserve,
		SupplyReserve:    e.cfg.SupplyReserve,
		FormedThreshold:  e.cfg.FormUpThreshold,
		ArrivalTolerance: e.cfg.ArrivalTolerance,
		RetreatMorale:    e.cfg.RetreatMorale,
		Epsilon:          core.Epsilon,
	}
	if env.Supplies == nil {
		env.Supplies = map[string]float64{}
	}
	switch {
	case o.TargetPosition != nil:
		env.HasTarget = true
		env.DistanceToTarget = fs.Position.Distance(*o.TargetPosition)
	case o.TargetFleetID != "":
		env.HasTarget = true
		if t, ok := e.fleets.Fleet(o.TargetFleetID); ok && !t.Combat.Destroyed && t.SystemID == fs.SystemID {
			env.TargetPresent = true
			env.DistanceToTarget = fs.Position.Distance(t.Position)
		}
	}
	return env
}

// ready evaluates every precondition of o. It returns the first one that does
// not hold.
func (e *Executor) ready(fs *types.FleetCommandState, o *types.FleetOrder) (bool, string) {
	if len(o.Preconditions) == 0 {
		return true, ""
	}
	env := e.envFor(fs, o)
	for _, name := range o.Preconditions {
		ok, err := e.preconds.Eval(name, env)
		if err != nil {
			e.logFn("orders: precondition %q on %s: %v", name, o.ID, err)
			return false, name
		}
		if !ok {
			return false, name
		}
	}
	return true, ""
}
