package world

import (
	"sort"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/economy"
)

// StateMessage renders s as a STATE message. Buildings are sorted by
// category, then id.
func StateMessage(s economy.State, ref string) protocol.StateMsg {
	msg := protocol.StateMsg{
		Type:          protocol.TypeState,
		Ref:           ref,
		Session:       s.Session,
		CatalogDigest: s.CatalogDigest,
		Stability:     s.Stability,
		Collapsed:     s.Collapsed,
		Currencies:    poolView(s.Currencies),
		Materials:     poolView(s.Materials),
		Buildings:     make([]protocol.BuildingView, 0, len(s.Buildings)),
	}
	for id, b := range s.Buildings {
		v := protocol.BuildingView{
			ID:                 id,
			Name:               b.Name,
			Icon:               b.Icon,
			Category:           b.Category,
			Level:              b.Level,
			Occupancy:          b.Occupancy,
			MaxOccupancy:       b.MaxOccupancy,
			UpgradeProgressPct: b.UpgradeProgressPct,
			Requirements:       make(map[string]protocol.RequirementView, len(b.Requirements)),
			Items:              make([]bool, len(b.Items)),
			Locked:             b.Locked,
			CanUnlock:          economy.CanUnlock(s, id),
		}
		for k, r := range b.Requirements {
			v.Requirements[string(k)] = protocol.RequirementView{Current: r.Current, Needed: r.Needed}
		}
		if len(b.ItemRequirements) > 0 {
			v.ItemRequirements = poolView(b.ItemRequirements)
		}
		for i, slot := range b.Items {
			v.Items[i] = slot.Filled
		}
		if len(b.Accumulated) > 0 {
			v.Accumulated = poolView(b.Accumulated)
		}
		msg.Buildings = append(msg.Buildings, v)
	}
	sort.Slice(msg.Buildings, func(i, j int) bool {
		a, b := msg.Buildings[i], msg.Buildings[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.ID < b.ID
	})
	return msg
}

// EventMessage renders ev as an EVENT message.
func EventMessage(ev Event) protocol.EventMsg {
	return protocol.EventMsg{
		Type:       protocol.TypeEvent,
		Kind:       string(ev.Kind),
		Session:    ev.Session,
		Seq:        ev.Seq,
		UnixMS:     ev.UnixMS,
		BuildingID: ev.BuildingID,
		Resource:   string(ev.Resource),
		Amount:     ev.Amount,
		Level:      ev.Level,
		Stability:  ev.Stability,
	}
}

// ResultMessage renders res as the RESULT for command ref.
func ResultMessage(ref string, res economy.Result) protocol.ResultMsg {
	msg := protocol.ResultMsg{
		Type:    protocol.TypeResult,
		Ref:     ref,
		OK:      res.OK,
		Code:    res.Code,
		Message: res.Message,
	}
	if len(res.Amounts) > 0 {
		msg.Amounts = poolView(res.Amounts)
	}
	return msg
}

func poolView[M ~map[economy.ResourceKey]int](m M) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}
