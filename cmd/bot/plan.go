package main

import (
	"sort"

	"outpost.ai/internal/protocol"
)

// plan picks the next command for a simple greedy player, or ok=false when
// nothing useful can be done. Buildings are scanned in STATE order.
func plan(st protocol.StateMsg, occupantCost int) (cmd protocol.CommandMsg, ok bool) {
	if st.Collapsed {
		return protocol.CommandMsg{Command: protocol.CmdReset}, true
	}
	for _, b := range st.Buildings {
		if len(b.Accumulated) > 0 {
			return protocol.CommandMsg{Command: protocol.CmdCollect, BuildingID: b.ID}, true
		}
	}
	for _, b := range st.Buildings {
		if b.Locked && b.CanUnlock {
			return protocol.CommandMsg{Command: protocol.CmdUnlock, BuildingID: b.ID}, true
		}
	}
	for _, b := range st.Buildings {
		if !b.Locked && len(b.Requirements) > 0 && requirementsMet(b) {
			return protocol.CommandMsg{Command: protocol.CmdLevelUp, BuildingID: b.ID}, true
		}
	}
	for _, b := range st.Buildings {
		if b.Locked {
			continue
		}
		for _, k := range sortedKeys(b.Requirements) {
			r := b.Requirements[k]
			missing := r.Needed - r.Current
			if missing <= 0 {
				continue
			}
			have := st.Currencies[k] + st.Materials[k]
			if k == "social" {
				// Keep enough social to pay for the next occupant.
				have -= occupantCost
			}
			if have <= 0 {
				continue
			}
			amount := missing
			if have < amount {
				amount = have
			}
			return protocol.CommandMsg{Command: protocol.CmdContribute, BuildingID: b.ID, Resource: k, Amount: amount}, true
		}
	}
	if st.Currencies["social"] >= occupantCost {
		best := -1
		for i, b := range st.Buildings {
			if b.Locked || b.Occupancy >= b.MaxOccupancy {
				continue
			}
			if best < 0 || b.Occupancy < st.Buildings[best].Occupancy {
				best = i
			}
		}
		if best >= 0 {
			return protocol.CommandMsg{Command: protocol.CmdAddOccupant, BuildingID: st.Buildings[best].ID}, true
		}
	}
	return protocol.CommandMsg{}, false
}

func requirementsMet(b protocol.BuildingView) bool {
	for _, r := range b.Requirements {
		if r.Current < r.Needed {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]protocol.RequirementView) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
