package economy

import "sort"

// ResourceKey names a currency or a material. The set is closed; pool
// membership is looked up in poolOf, never inferred from the name.
type ResourceKey string

const (
	Social     ResourceKey = "social"
	Technology ResourceKey = "technology"
	Money      ResourceKey = "money"
	Materials  ResourceKey = "materials"

	Carbon      ResourceKey = "carbon"
	Conductive  ResourceKey = "conductive"
	Metal       ResourceKey = "metal"
	Radioactive ResourceKey = "radioactive"
	Meat        ResourceKey = "meat"
	Vegetables  ResourceKey = "vegetables"
	Textiles    ResourceKey = "textiles"
	Wood        ResourceKey = "wood"
)

type PoolKind uint8

const (
	PoolNone PoolKind = iota
	PoolCurrency
	PoolMaterial
)

func (p PoolKind) String() string {
	switch p {
	case PoolCurrency:
		return "currency"
	case PoolMaterial:
		return "material"
	default:
		return "none"
	}
}

var poolOf = map[ResourceKey]PoolKind{
	Social:     PoolCurrency,
	Technology: PoolCurrency,
	Money:      PoolCurrency,
	Materials:  PoolCurrency,

	Carbon:      PoolMaterial,
	Conductive:  PoolMaterial,
	Metal:       PoolMaterial,
	Radioactive: PoolMaterial,
	Meat:        PoolMaterial,
	Vegetables:  PoolMaterial,
	Textiles:    PoolMaterial,
	Wood:        PoolMaterial,
}

// Pool reports which namespace k belongs to (PoolNone for unknown keys).
func (k ResourceKey) Pool() PoolKind { return poolOf[k] }

func (k ResourceKey) Valid() bool { return poolOf[k] != PoolNone }

func ParseResourceKey(s string) (ResourceKey, bool) {
	k := ResourceKey(s)
	return k, k.Valid()
}

func CurrencyKeys() []ResourceKey { return keysIn(PoolCurrency) }
func MaterialKeys() []ResourceKey { return keysIn(PoolMaterial) }

func keysIn(kind PoolKind) []ResourceKey {
	out := make([]ResourceKey, 0, len(poolOf))
	for k, p := range poolOf {
		if p == kind {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortedKeys returns the keys of m in a stable order.
func SortedKeys[V any](m map[ResourceKey]V) []ResourceKey {
	out := make([]ResourceKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
