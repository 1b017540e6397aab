// Package economy holds the building/resource state model and the pure
// transforms that move it from one snapshot to the next.
//
// Every exported transform takes the current State by value and returns a new
// State. Maps reachable from the input are never written; a transform clones
// the pools and the building it touches before mutating them, so older
// snapshots stay valid for concurrent readers.
package economy

const (
	StabilityMin = 0
	StabilityMax = 100
)

// Pool is a balance per resource key. Values are never negative.
type Pool map[ResourceKey]int

func (p Pool) Clone() Pool {
	out := make(Pool, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Total sums every balance in the pool.
func (p Pool) Total() int {
	n := 0
	for _, v := range p {
		n += v
	}
	return n
}

type Requirement struct {
	Current int `json:"current"`
	Needed  int `json:"needed"`
}

func (r Requirement) Met() bool { return r.Current >= r.Needed }

type Slot struct {
	Filled bool `json:"filled"`
}

type BuildingLevel struct {
	Level int `json:"level"`
}

type CurrencyThreshold struct {
	Amount int `json:"amount"`
}

// UnlockCondition is a conjunction over other buildings' levels and currency
// balances.
type UnlockCondition struct {
	Buildings  map[string]BuildingLevel          `json:"buildings,omitempty"`
	Currencies map[ResourceKey]CurrencyThreshold `json:"currencies,omitempty"`
}

// Size is the number of sub-requirements in the condition.
func (c *UnlockCondition) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Buildings) + len(c.Currencies)
}

func (c *UnlockCondition) Clone() *UnlockCondition {
	if c == nil {
		return nil
	}
	out := &UnlockCondition{}
	if c.Buildings != nil {
		out.Buildings = make(map[string]BuildingLevel, len(c.Buildings))
		for k, v := range c.Buildings {
			out.Buildings[k] = v
		}
	}
	if c.Currencies != nil {
		out.Currencies = make(map[ResourceKey]CurrencyThreshold, len(c.Currencies))
		for k, v := range c.Currencies {
			out.Currencies[k] = v
		}
	}
	return out
}

// Emission is one entry of a production recipe.
type Emission struct {
	BaseAmount int `json:"base_amount"`
	IntervalMs int `json:"interval_ms,omitempty"`
}

// Definition is the typed, already-decoded catalog entry for one building.
type Definition struct {
	ID                  string
	Name                string
	Icon                string
	Category            string
	Description         string
	InitialLevel        int
	MaxOccupancy        int
	ItemSlots           int
	Locked              bool
	UpgradeRequirements map[ResourceKey]int
	ItemRequirements    map[ResourceKey]int
	Emissions           map[ResourceKey]Emission
	UnlockCondition     *UnlockCondition
	// UnlockBonuses is carried from the catalog but not credited; Unlock pays
	// the fixed reward from Rules.
	UnlockBonuses map[ResourceKey]int
}

type Building struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`

	Level              int `json:"level"`
	Occupancy          int `json:"occupancy"`
	MaxOccupancy       int `json:"max_occupancy"`
	UpgradeProgressPct int `json:"upgrade_progress_pct"`

	Requirements     map[ResourceKey]Requirement `json:"requirements"`
	ItemRequirements map[ResourceKey]int         `json:"item_requirements,omitempty"`
	Items            []Slot                      `json:"items"`

	Locked          bool             `json:"locked"`
	UnlockCondition *UnlockCondition `json:"unlock_condition,omitempty"`

	Accumulated map[ResourceKey]int      `json:"accumulated,omitempty"`
	Emissions   map[ResourceKey]Emission `json:"emissions,omitempty"`
}

func (b Building) Clone() Building {
	out := b
	out.Requirements = make(map[ResourceKey]Requirement, len(b.Requirements))
	for k, v := range b.Requirements {
		out.Requirements[k] = v
	}
	out.ItemRequirements = cloneInts(b.ItemRequirements)
	out.Items = append([]Slot(nil), b.Items...)
	out.UnlockCondition = b.UnlockCondition.Clone()
	out.Accumulated = cloneInts(b.Accumulated)
	if b.Emissions != nil {
		out.Emissions = make(map[ResourceKey]Emission, len(b.Emissions))
		for k, v := range b.Emissions {
			out.Emissions[k] = v
		}
	}
	return out
}

// Producing reports whether production timers should run for b.
func (b Building) Producing() bool { return !b.Locked && b.Occupancy > 0 }

// requirementsMet is false for an empty requirement set, so a building whose
// catalog lists no upgrade costs cannot level up.
func (b Building) requirementsMet() bool {
	if len(b.Requirements) == 0 {
		return false
	}
	for _, r := range b.Requirements {
		if !r.Met() {
			return false
		}
	}
	return true
}

func (b *Building) recomputeProgress() {
	sumNeeded, sumCurrent := 0, 0
	for _, r := range b.Requirements {
		sumNeeded += r.Needed
		sumCurrent += r.Current
	}
	if sumNeeded <= 0 {
		b.UpgradeProgressPct = 0
		return
	}
	// round(100 * current / needed) with integer math, half away from zero.
	b.UpgradeProgressPct = clamp((200*sumCurrent+sumNeeded)/(2*sumNeeded), 0, 100)
}

// State is one immutable economy snapshot.
type State struct {
	Session       string              `json:"session"`
	CatalogDigest string              `json:"catalog_digest"`
	Currencies    Pool                `json:"currencies"`
	Materials     Pool                `json:"materials"`
	Stability     int                 `json:"stability"`
	Collapsed     bool                `json:"collapsed"`
	Buildings     map[string]Building `json:"buildings"`
}

// NewState builds the starting snapshot for a session from the catalog.
func NewState(session string, defs map[string]Definition, rules Rules) State {
	s := State{
		Session:    session,
		Currencies: Pool{},
		Materials:  Pool{},
		Stability:  clamp(rules.StartingStability, StabilityMin, StabilityMax),
		Buildings:  map[string]Building{},
	}
	for k, v := range rules.StartingCurrencies {
		if k.Pool() == PoolCurrency && v > 0 {
			s.Currencies[k] = v
		}
	}
	for k, v := range rules.StartingMaterials {
		if k.Pool() == PoolMaterial && v > 0 {
			s.Materials[k] = v
		}
	}
	for _, k := range CurrencyKeys() {
		if _, ok := s.Currencies[k]; !ok {
			s.Currencies[k] = 0
		}
	}
	for _, k := range MaterialKeys() {
		if _, ok := s.Materials[k]; !ok {
			s.Materials[k] = 0
		}
	}
	return Reconcile(s, defs, rules)
}

// Balance returns the pool balance for k, looked up in the pool k belongs to.
func (s State) Balance(k ResourceKey) int {
	switch k.Pool() {
	case PoolCurrency:
		return s.Currencies[k]
	case PoolMaterial:
		return s.Materials[k]
	}
	return 0
}

// next returns a copy of s whose pools and building registry may be written.
// Building values are still shared and must be cloned before mutation.
func (s State) next() State {
	out := s
	out.Currencies = s.Currencies.Clone()
	out.Materials = s.Materials.Clone()
	out.Buildings = make(map[string]Building, len(s.Buildings))
	for id, b := range s.Buildings {
		out.Buildings[id] = b
	}
	return out
}

// credit adds n (which may be negative) to the pool owning k, floored at 0.
// Only call on a State returned by next.
func (s *State) credit(k ResourceKey, n int) {
	var p Pool
	switch k.Pool() {
	case PoolCurrency:
		p = s.Currencies
	case PoolMaterial:
		p = s.Materials
	default:
		return
	}
	v := p[k] + n
	if v < 0 {
		v = 0
	}
	p[k] = v
}

func (s *State) setStability(v int) (collapsedNow bool) {
	s.Stability = clamp(v, StabilityMin, StabilityMax)
	if s.Stability == StabilityMin && !s.Collapsed {
		s.Collapsed = true
		return true
	}
	return false
}

func cloneInts(m map[ResourceKey]int) map[ResourceKey]int {
	if m == nil {
		return nil
	}
	out := make(map[ResourceKey]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
