package economy

import "outpost.ai/internal/protocol"

// DecayStability lowers stability by one, floored at zero. collapsed is true
// only on the transition that reaches zero.
func DecayStability(s State) (next State, collapsed bool) {
	if s.Collapsed {
		return s, false
	}
	next = s
	collapsed = next.setStability(s.Stability - 1)
	return next, collapsed
}

// AdjustStability adds amount (which may be negative), clamped to [0,100].
func AdjustStability(s State, amount int) (State, Result) {
	if s.Collapsed {
		return s, fail(protocol.ErrCollapsed, "colony has collapsed")
	}
	next := s
	if next.setStability(s.Stability + amount) {
		return next, succeed(Event{Kind: EventCollapse, Stability: next.Stability})
	}
	return next, succeed()
}

// CollapseEvent is emitted once when stability reaches zero.
func CollapseEvent() Event { return Event{Kind: EventCollapse, Stability: StabilityMin} }
