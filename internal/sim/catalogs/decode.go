package catalogs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"outpost.ai/internal/sim/economy"
)

// DecodeWarning records a catalog field that could not be decoded. The field
// falls back to its empty value; decoding of the rest of the entry continues.
type DecodeWarning struct {
	BuildingID string
	Field      string
	Reason     string
}

func (w DecodeWarning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("%s: %s", w.BuildingID, w.Reason)
	}
	return fmt.Sprintf("%s.%s: %s", w.BuildingID, w.Field, w.Reason)
}

type decoder struct {
	id       string
	warnings []DecodeWarning
}

func (d *decoder) warn(field, format string, args ...any) {
	d.warnings = append(d.warnings, DecodeWarning{BuildingID: d.id, Field: field, Reason: fmt.Sprintf(format, args...)})
}

// Decode parses a catalog document: a JSON object mapping building id to its
// definition. Only a document that is not a JSON object is an error. Field
// level problems become warnings and the field takes its empty value.
func Decode(raw []byte) (map[string]economy.Definition, []DecodeWarning, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("catalog: %w", err)
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	defs := make(map[string]economy.Definition, len(doc))
	var warnings []DecodeWarning
	for _, key := range ids {
		d := &decoder{id: key}
		def, ok := d.building(key, doc[key])
		warnings = append(warnings, d.warnings...)
		if ok {
			defs[def.ID] = def
		}
	}
	return defs, warnings, nil
}

func (d *decoder) building(key string, raw json.RawMessage) (economy.Definition, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		d.warn("", "entry is not an object: %v", err)
		return economy.Definition{}, false
	}

	def := economy.Definition{ID: key}
	if id := d.stringField(fields, "id"); id != "" && id != key {
		d.warn("id", "id %q differs from key, using key", id)
	}
	def.Name = d.stringField(fields, "name")
	if def.Name == "" {
		def.Name = key
	}
	def.Icon = d.stringField(fields, "icon")
	def.Category = d.stringField(fields, "category")
	if def.Category == "" {
		def.Category = CategoryOthers
	}
	def.Description = d.stringField(fields, "description")
	def.MaxOccupancy = d.intField(fields, "maxOccupancy")
	def.InitialLevel = d.intField(fields, "initialLevel")
	def.ItemSlots = d.intField(fields, "itemSlots")
	def.Locked = d.boolField(fields, "locked")

	def.Emissions = d.emissions(fields["emissions"])
	def.UpgradeRequirements = d.amounts("upgradeRequirements", fields["upgradeRequirements"], economy.PoolNone)
	def.ItemRequirements = d.amounts("itemRequirements", fields["itemRequirements"], economy.PoolMaterial)
	def.UnlockCondition = d.unlock(fields["unlockConditions"])
	def.UnlockBonuses = d.amounts("unlockBonuses", fields["unlockBonuses"], economy.PoolNone)
	return def, true
}

func (d *decoder) stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		d.warn(name, "expected string")
		return ""
	}
	return s
}

func (d *decoder) intField(fields map[string]json.RawMessage, name string) int {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return 0
	}
	n, ok := number(raw)
	if !ok {
		d.warn(name, "expected integer")
		return 0
	}
	return n
}

func (d *decoder) boolField(fields map[string]json.RawMessage, name string) bool {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		d.warn(name, "expected boolean")
		return false
	}
	return b
}

// object unwraps a field that may be a nested object or the same object
// encoded as a JSON string. Absent, null and "" yield nil without a warning.
func (d *decoder) object(field string, raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			d.warn(field, "bad string: %v", err)
			return nil
		}
		if len(bytes.TrimSpace([]byte(s))) == 0 {
			return nil
		}
		raw = json.RawMessage(s)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		d.warn(field, "malformed object: %v", err)
		return nil
	}
	return out
}

func (d *decoder) resourceKey(field, name string, want economy.PoolKind) (economy.ResourceKey, bool) {
	k, ok := economy.ParseResourceKey(name)
	if !ok {
		d.warn(field, "unknown resource %q dropped", name)
		return "", false
	}
	if want != economy.PoolNone && k.Pool() != want {
		d.warn(field, "%q is not a %s, dropped", name, want)
		return "", false
	}
	return k, true
}

// amounts decodes {key: n}. Each value may also be {"amount": n}.
func (d *decoder) amounts(field string, raw json.RawMessage, want economy.PoolKind) map[economy.ResourceKey]int {
	obj := d.object(field, raw)
	if len(obj) == 0 {
		return nil
	}
	out := map[economy.ResourceKey]int{}
	for _, name := range sortedNames(obj) {
		k, ok := d.resourceKey(field, name, want)
		if !ok {
			continue
		}
		n, ok := amountOf(obj[name])
		if !ok || n < 0 {
			d.warn(field, "bad amount for %s", name)
			continue
		}
		if n > 0 {
			out[k] = n
		}
	}
	return out
}

// emissions decodes {key: n} or {key: {"amount"|"baseAmount": n,
// "interval"|"intervalMs": ms}}.
func (d *decoder) emissions(raw json.RawMessage) map[economy.ResourceKey]economy.Emission {
	const field = "emissions"
	obj := d.object(field, raw)
	if len(obj) == 0 {
		return nil
	}
	out := map[economy.ResourceKey]economy.Emission{}
	for _, name := range sortedNames(obj) {
		k, ok := d.resourceKey(field, name, economy.PoolNone)
		if !ok {
			continue
		}
		v := obj[name]
		if n, ok := number(v); ok {
			if n > 0 {
				out[k] = economy.Emission{BaseAmount: n}
			}
			continue
		}
		var e struct {
			Amount     *int `json:"amount"`
			BaseAmount *int `json:"baseAmount"`
			Interval   *int `json:"interval"`
			IntervalMs *int `json:"intervalMs"`
		}
		if err := json.Unmarshal(v, &e); err != nil {
			d.warn(field, "bad emission for %s", name)
			continue
		}
		em := economy.Emission{BaseAmount: firstInt(e.BaseAmount, e.Amount), IntervalMs: firstInt(e.IntervalMs, e.Interval)}
		if em.IntervalMs < 0 {
			d.warn(field, "negative interval for %s", name)
			em.IntervalMs = 0
		}
		if em.BaseAmount > 0 {
			out[k] = em
		}
	}
	return out
}

func (d *decoder) unlock(raw json.RawMessage) *economy.UnlockCondition {
	const field = "unlockConditions"
	obj := d.object(field, raw)
	if obj == nil {
		return nil
	}
	c := &economy.UnlockCondition{}

	if b := d.object(field+".buildings", obj["buildings"]); len(b) > 0 {
		c.Buildings = map[string]economy.BuildingLevel{}
		for _, id := range sortedNames(b) {
			lvl, ok := number(b[id])
			if !ok {
				var v struct {
					Level int `json:"level"`
				}
				if err := json.Unmarshal(b[id], &v); err != nil {
					d.warn(field, "bad level for %s", id)
					continue
				}
				lvl = v.Level
			}
			c.Buildings[id] = economy.BuildingLevel{Level: lvl}
		}
	}

	if cur := d.object(field+".currencies", obj["currencies"]); len(cur) > 0 {
		c.Currencies = map[economy.ResourceKey]economy.CurrencyThreshold{}
		for _, name := range sortedNames(cur) {
			k, ok := d.resourceKey(field, name, economy.PoolCurrency)
			if !ok {
				continue
			}
			n, ok := amountOf(cur[name])
			if !ok {
				d.warn(field, "bad threshold for %s", name)
				continue
			}
			c.Currencies[k] = economy.CurrencyThreshold{Amount: n}
		}
	}
	return c
}

func amountOf(raw json.RawMessage) (int, bool) {
	if n, ok := number(raw); ok {
		return n, true
	}
	var v struct {
		Amount *int `json:"amount"`
	}
	if err := json.Unmarshal(raw, &v); err != nil || v.Amount == nil {
		return 0, false
	}
	return *v.Amount, true
}

// number accepts a JSON number with an integral value.
func number(raw json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func firstInt(vs ...*int) int {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return 0
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func sortedNames(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
