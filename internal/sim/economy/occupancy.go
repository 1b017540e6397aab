package economy

import "outpost.ai/internal/protocol"

// AddOccupant assigns one colonist to the building, paying the occupant cost
// from the social currency pool.
func AddOccupant(s State, id string, rules Rules) (State, Result) {
	b, res, ok := lookup(s, id)
	if !ok {
		return s, res
	}
	if b.Locked {
		return s, fail(protocol.ErrLocked, "%s is locked", id)
	}
	if b.Occupancy >= b.MaxOccupancy {
		return s, fail(protocol.ErrCapacity, "%s is full (%d/%d)", id, b.Occupancy, b.MaxOccupancy)
	}
	cost := rules.OccupantCost
	if cost < 0 {
		cost = 0
	}
	if s.Currencies[Social] < cost {
		return s, fail(protocol.ErrNoResource, "need %d social, have %d", cost, s.Currencies[Social])
	}

	next := s.next()
	next.credit(Social, -cost)
	b = b.Clone()
	b.Occupancy++
	next.Buildings[id] = b
	res = succeed()
	res.Amounts = map[ResourceKey]int{Social: -cost}
	return next, res
}

// lookup resolves id for a command, failing once the session has collapsed.
func lookup(s State, id string) (Building, Result, bool) {
	if s.Collapsed {
		return Building{}, fail(protocol.ErrCollapsed, "colony has collapsed"), false
	}
	b, ok := s.Buildings[id]
	if !ok {
		return Building{}, fail(protocol.ErrUnknownBuilding, "unknown building %q", id), false
	}
	return b, Result{}, true
}
