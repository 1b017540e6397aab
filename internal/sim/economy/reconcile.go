package economy

const (
	DefaultMaxOccupancy = 6
	DefaultItemSlots    = 3
)

// Reconcile merges a catalog snapshot into prev. The result holds exactly the
// ids present in defs: static fields come from the definition, progress fields
// are carried over from prev when the id already existed.
func Reconcile(prev State, defs map[string]Definition, rules Rules) State {
	next := prev.next()
	next.Buildings = make(map[string]Building, len(defs))
	for id, def := range defs {
		if def.ID == "" {
			def.ID = id
		}
		if old, ok := prev.Buildings[id]; ok {
			next.Buildings[id] = mergeBuilding(old, def, rules)
		} else {
			next.Buildings[id] = freshBuilding(def)
		}
	}
	return next
}

func freshBuilding(def Definition) Building {
	b := Building{
		Level:        initialLevel(def),
		Requirements: map[ResourceKey]Requirement{},
		Items:        make([]Slot, itemSlots(def)),
	}
	applyStatic(&b, def)
	b.Locked = def.Locked
	for k, needed := range def.UpgradeRequirements {
		if needed > 0 {
			b.Requirements[k] = Requirement{Needed: needed}
		}
	}
	b.recomputeProgress()
	return b
}

func mergeBuilding(old Building, def Definition, rules Rules) Building {
	b := old.Clone()
	applyStatic(&b, def)

	b.Locked = def.Locked
	if rules.PreserveUnlocks && !old.Locked {
		b.Locked = false
	}
	if b.Level < 1 {
		b.Level = 1
	}
	if b.Occupancy > b.MaxOccupancy {
		b.Occupancy = b.MaxOccupancy
	}

	// Resize item slots, keeping contents at surviving indexes.
	slots := itemSlots(def)
	items := make([]Slot, slots)
	copy(items, old.Items)
	b.Items = items

	// Needed amounts follow the catalog. With ScaleNeededByLevel they are
	// doubled once per level-up already earned.
	scale := 1
	if rules.ScaleNeededByLevel {
		for l := initialLevel(def); l < b.Level; l++ {
			scale *= 2
		}
	}
	reqs := make(map[ResourceKey]Requirement, len(def.UpgradeRequirements))
	for k, base := range def.UpgradeRequirements {
		if base <= 0 {
			continue
		}
		needed := base * scale
		current := clamp(old.Requirements[k].Current, 0, needed)
		reqs[k] = Requirement{Current: current, Needed: needed}
	}
	b.Requirements = reqs
	b.recomputeProgress()
	return b
}

func applyStatic(b *Building, def Definition) {
	b.ID = def.ID
	b.Name = def.Name
	b.Icon = def.Icon
	b.Category = def.Category
	b.Description = def.Description
	b.MaxOccupancy = def.MaxOccupancy
	if b.MaxOccupancy < 1 {
		b.MaxOccupancy = DefaultMaxOccupancy
	}
	b.ItemRequirements = nil
	for k, v := range def.ItemRequirements {
		if v <= 0 || k.Pool() != PoolMaterial {
			continue
		}
		if b.ItemRequirements == nil {
			b.ItemRequirements = map[ResourceKey]int{}
		}
		b.ItemRequirements[k] = v
	}
	b.Emissions = nil
	for k, e := range def.Emissions {
		if !k.Valid() {
			continue
		}
		if b.Emissions == nil {
			b.Emissions = map[ResourceKey]Emission{}
		}
		b.Emissions[k] = e
	}
	b.UnlockCondition = def.UnlockCondition.Clone()
}

func initialLevel(def Definition) int {
	if def.InitialLevel < 1 {
		return 1
	}
	return def.InitialLevel
}

func itemSlots(def Definition) int {
	if def.ItemSlots < 0 {
		return 0
	}
	if def.ItemSlots == 0 {
		return DefaultItemSlots
	}
	return def.ItemSlots
}
