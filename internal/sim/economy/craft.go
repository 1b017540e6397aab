package economy

import "outpost.ai/internal/protocol"

// CraftItem fills an empty item slot, paying the building's item requirements
// from the material pool.
func CraftItem(s State, id string, slot int) (State, Result) {
	b, res, ok := lookup(s, id)
	if !ok {
		return s, res
	}
	if b.Locked {
		return s, fail(protocol.ErrLocked, "%s is locked", id)
	}
	if slot < 0 || slot >= len(b.Items) {
		return s, fail(protocol.ErrInvalidTarget, "%s has no slot %d", id, slot)
	}
	if b.Items[slot].Filled {
		return s, fail(protocol.ErrConflict, "%s slot %d is already filled", id, slot)
	}
	for _, k := range SortedKeys(b.ItemRequirements) {
		if need := b.ItemRequirements[k]; s.Materials[k] < need {
			return s, fail(protocol.ErrNoResource, "need %d %s, have %d", need, k, s.Materials[k])
		}
	}

	next := s.next()
	spent := map[ResourceKey]int{}
	for k, need := range b.ItemRequirements {
		next.credit(k, -need)
		spent[k] = -need
	}
	b = b.Clone()
	b.Items[slot] = Slot{Filled: true}
	next.Buildings[id] = b

	res = succeed()
	if len(spent) > 0 {
		res.Amounts = spent
	}
	return next, res
}
