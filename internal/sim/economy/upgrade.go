package economy

import "outpost.ai/internal/protocol"

// Contribute moves up to amount units of key from its pool into the
// building's upgrade requirement. The transfer is capped by the remaining need
// and by the pool balance.
func Contribute(s State, id string, key ResourceKey, amount int) (State, Result) {
	b, res, ok := lookup(s, id)
	if !ok {
		return s, res
	}
	if !key.Valid() {
		return s, fail(protocol.ErrUnknownResource, "unknown resource %q", key)
	}
	if amount <= 0 {
		amount = 1
	}
	if b.Locked {
		return s, fail(protocol.ErrLocked, "%s is locked", id)
	}
	if b.Occupancy == 0 {
		return s, fail(protocol.ErrNoOccupants, "%s has no occupants", id)
	}
	req, ok := b.Requirements[key]
	if !ok {
		return s, fail(protocol.ErrInvalidTarget, "%s does not require %s", id, key)
	}
	if req.Met() {
		return s, fail(protocol.ErrRequirementMet, "%s requirement for %s already met", id, key)
	}
	balance := s.Balance(key)
	if balance < 1 {
		return s, fail(protocol.ErrNoResource, "no %s available", key)
	}

	n := min(amount, req.Needed-req.Current, balance)
	next := s.next()
	next.credit(key, -n)
	b = b.Clone()
	req.Current += n
	b.Requirements[key] = req
	b.recomputeProgress()
	next.Buildings[id] = b

	res = succeed()
	res.Amounts = map[ResourceKey]int{key: n}
	return next, res
}

// LevelUp advances the building one level once every requirement is met. All
// needed amounts double and contributions restart from zero. No reward is
// granted; rewards come from unlocking.
func LevelUp(s State, id string) (State, Result) {
	b, res, ok := lookup(s, id)
	if !ok {
		return s, res
	}
	if b.Locked {
		return s, fail(protocol.ErrLocked, "%s is locked", id)
	}
	if !b.requirementsMet() {
		return s, fail(protocol.ErrRequirementsUnmet, "%s upgrade requirements not met", id)
	}

	next := s.next()
	b = b.Clone()
	b.Level++
	for k, r := range b.Requirements {
		b.Requirements[k] = Requirement{Current: 0, Needed: r.Needed * 2}
	}
	b.UpgradeProgressPct = 0
	next.Buildings[id] = b
	return next, succeed(Event{Kind: EventLevelUp, BuildingID: id, Level: b.Level, Stability: next.Stability})
}
