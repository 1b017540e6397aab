package economy

import "outpost.ai/internal/protocol"

// CanUnlock reports whether the building is locked and its unlock condition
// is satisfied. A missing or empty condition is never satisfiable.
func CanUnlock(s State, id string) bool {
	b, ok := s.Buildings[id]
	if !ok || !b.Locked {
		return false
	}
	return conditionMet(s, b.UnlockCondition)
}

func conditionMet(s State, c *UnlockCondition) bool {
	if c.Size() == 0 {
		return false
	}
	for other, want := range c.Buildings {
		ob, ok := s.Buildings[other]
		if !ok || ob.Level < want.Level {
			return false
		}
	}
	for k, want := range c.Currencies {
		if k.Pool() != PoolCurrency || s.Currencies[k] < want.Amount {
			return false
		}
	}
	return true
}

// Unlock opens a locked building whose condition holds and credits the
// one-time unlock reward. Currency thresholds are checked, not deducted.
func Unlock(s State, id string, rules Rules) (State, Result) {
	b, res, ok := lookup(s, id)
	if !ok {
		return s, res
	}
	if !b.Locked {
		return s, fail(protocol.ErrAlreadyUnlocked, "%s is already unlocked", id)
	}
	if !conditionMet(s, b.UnlockCondition) {
		return s, fail(protocol.ErrUnlockUnmet, "%s unlock condition not met", id)
	}

	next := s.next()
	b = b.Clone()
	b.Locked = false
	next.Buildings[id] = b
	next.credit(Social, rules.UnlockRewardSocial)
	next.credit(Money, rules.UnlockRewardMoney)

	res = succeed(Event{Kind: EventUnlock, BuildingID: id, Level: b.Level, Stability: next.Stability})
	res.Amounts = map[ResourceKey]int{Social: rules.UnlockRewardSocial, Money: rules.UnlockRewardMoney}
	return next, res
}
