package combat

import (
	"fleetcommand/pkg/core"
	"fleetcommand/pkg/types"
)

// MoraleFactor maps morale onto an effectiveness multiplier in three bands:
// below 20 a flat 0.5, 20..80 rising from 0.9 to 1.0, 80..100 rising to 1.2.
func MoraleFactor(morale float64) float64 {
	m := core.Clamp(morale, 0, 100)
	switch {
	case m < 20:
		return 0.5
	case m < 80:
		return 0.9 + 0.1*(m-20)/60
	default:
		return 1.0 + 0.2*(m-80)/20
	}
}

// DefenseFactor grows from 1 toward 2 as defense increases.
func DefenseFactor(defense, scale float64) float64 {
	if defense <= 0 || scale <= 0 {
		return 1
	}
	return 1 + defense/(defense+scale)
}

// Rating is the product of the fleet's combat factors. Any zero factor zeroes it.
func (r *Resolver) Rating(fs *types.FleetCommandState) float64 {
	if fs.Combat.Destroyed || fs.Capability.ShipCount <= 0 {
		return 0
	}
	firepower, defense := fs.Capability.Effective()
	bonus := 1.0
	if r.bonus != nil {
		bonus = r.bonus.CombatModifier(fs.FleetID)
	}
	return firepower *
		DefenseFactor(defense, r.cfg.DefenseScale) *
		(1 + 0.1*core.Clamp(fs.Combat.Experience, 0, r.cfg.MaxExperience)) *
		MoraleFactor(fs.Combat.Morale) *
		bonus *
		fs.CommanderSkill
}
