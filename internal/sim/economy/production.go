package economy

// Produce runs one production tick for (id, key). Output goes to the
// building's accumulation buffer only; shared pools are untouched. ok is false
// when nothing was produced.
func Produce(s State, id string, key ResourceKey) (next State, ev Event, ok bool) {
	if s.Collapsed {
		return s, Event{}, false
	}
	b, found := s.Buildings[id]
	if !found || !b.Producing() {
		return s, Event{}, false
	}
	e, found := b.Emissions[key]
	if !found {
		return s, Event{}, false
	}
	amount := e.BaseAmount * b.Occupancy * b.Level
	if amount <= 0 {
		return s, Event{}, false
	}

	next = s.next()
	b = b.Clone()
	if b.Accumulated == nil {
		b.Accumulated = map[ResourceKey]int{}
	}
	b.Accumulated[key] += amount
	next.Buildings[id] = b
	return next, Event{Kind: EventProduction, BuildingID: id, Resource: key, Amount: amount, Stability: next.Stability}, true
}

// Collect transfers the building's accumulation buffer into the owning pools
// and raises stability by the collected total. An empty buffer is a no-op.
func Collect(s State, id string) (State, Result) {
	b, res, ok := lookup(s, id)
	if !ok {
		return s, res
	}
	if len(b.Accumulated) == 0 {
		res = succeed()
		res.Message = "nothing to collect"
		return s, res
	}

	next := s.next()
	total := 0
	collected := make(map[ResourceKey]int, len(b.Accumulated))
	for k, v := range b.Accumulated {
		if v <= 0 {
			continue
		}
		next.credit(k, v)
		collected[k] = v
		total += v
	}
	b = b.Clone()
	b.Accumulated = nil
	next.Buildings[id] = b
	next.setStability(next.Stability + total)

	res = succeed(Event{Kind: EventCollect, BuildingID: id, Amount: total, Stability: next.Stability})
	res.Amounts = collected
	return next, res
}

// ProductionKey identifies one running production timer.
type ProductionKey struct {
	BuildingID string
	Resource   ResourceKey
	IntervalMs int
	BaseAmount int
}

// ProductionKeys lists the timers the state calls for: one per recipe entry of
// every unlocked building with at least one occupant.
func ProductionKeys(s State, defaultIntervalMs int) map[ProductionKey]struct{} {
	out := map[ProductionKey]struct{}{}
	if s.Collapsed {
		return out
	}
	for id, b := range s.Buildings {
		if !b.Producing() {
			continue
		}
		for k, e := range b.Emissions {
			interval := e.IntervalMs
			if interval <= 0 {
				interval = defaultIntervalMs
			}
			if interval <= 0 {
				continue
			}
			out[ProductionKey{BuildingID: id, Resource: k, IntervalMs: interval, BaseAmount: e.BaseAmount}] = struct{}{}
		}
	}
	return out
}
