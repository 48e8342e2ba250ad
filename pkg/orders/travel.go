package orders

import "fleetcommand/pkg/types"

// RelocationRequest asks the travel service to move a fleet to another star system.
type RelocationRequest struct {
	FleetID     types.FleetID
	From        types.SystemID
	To          types.SystemID
	Origin      types.Vector3
	Destination *types.Vector3
	Mass        float64
	ShipCount   int
}

// RelocationResult reports the outcome of a relocation. FuelCost is a
// fraction of the fleet's fuel capacity and is charged by the executor.
type RelocationResult struct {
	OK          bool
	ElapsedTime float64
	FuelCost    float64
	Arrival     types.Vector3
	Reason      string
}

// TravelService is the interstellar travel collaborator. The executor never
// paths between systems itself.
type TravelService interface {
	Relocate(req RelocationRequest) (RelocationResult, error)
}

// TravelFunc adapts a function to TravelService.
type TravelFunc func(req RelocationRequest) (RelocationResult, error)

func (f TravelFunc) Relocate(req RelocationRequest) (RelocationResult, error) { return f(req) }
