package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"outpost.ai/internal/sim/economy"
)

const Version = 1

type Header struct {
	Version       int    `json:"version"`
	Session       string `json:"session"`
	CatalogDigest string `json:"catalog_digest"`
	UnixMS        int64  `json:"unix_ms"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Stability  int            `json:"stability"`
	Collapsed  bool           `json:"collapsed"`
	Currencies map[string]int `json:"currencies"`
	Materials  map[string]int `json:"materials"`

	Buildings []BuildingV1 `json:"buildings"`
}

type BuildingV1 struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`

	Level              int `json:"level"`
	Occupancy          int `json:"occupancy"`
	MaxOccupancy       int `json:"max_occupancy"`
	UpgradeProgressPct int `json:"upgrade_progress_pct"`

	Requirements     map[string]RequirementV1 `json:"requirements"`
	ItemRequirements map[string]int           `json:"item_requirements,omitempty"`
	Items            []bool                   `json:"items"`

	Locked          bool              `json:"locked"`
	HasUnlock       bool              `json:"has_unlock"`
	UnlockBuildings map[string]int    `json:"unlock_buildings,omitempty"`
	UnlockCurrency  map[string]int    `json:"unlock_currencies,omitempty"`
	Accumulated     map[string]int    `json:"accumulated,omitempty"`
	Emissions       map[string]EmitV1 `json:"emissions,omitempty"`
}

type RequirementV1 struct {
	Current int `json:"current"`
	Needed  int `json:"needed"`
}

type EmitV1 struct {
	BaseAmount int `json:"base_amount"`
	IntervalMs int `json:"interval_ms,omitempty"`
}

// FromState flattens s into the on-disk form. Buildings are sorted by id.
func FromState(s economy.State, unixMS int64) SnapshotV1 {
	snap := SnapshotV1{
		Header: Header{
			Version:       Version,
			Session:       s.Session,
			CatalogDigest: s.CatalogDigest,
			UnixMS:        unixMS,
		},
		Stability:  s.Stability,
		Collapsed:  s.Collapsed,
		Currencies: stringKeys(s.Currencies),
		Materials:  stringKeys(s.Materials),
	}
	ids := make([]string, 0, len(s.Buildings))
	for id := range s.Buildings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b := s.Buildings[id]
		bv := BuildingV1{
			ID:                 id,
			Name:               b.Name,
			Icon:               b.Icon,
			Category:           b.Category,
			Description:        b.Description,
			Level:              b.Level,
			Occupancy:          b.Occupancy,
			MaxOccupancy:       b.MaxOccupancy,
			UpgradeProgressPct: b.UpgradeProgressPct,
			Requirements:       map[string]RequirementV1{},
			ItemRequirements:   stringKeys(b.ItemRequirements),
			Items:              make([]bool, len(b.Items)),
			Locked:             b.Locked,
			Accumulated:        stringKeys(b.Accumulated),
		}
		for k, r := range b.Requirements {
			bv.Requirements[string(k)] = RequirementV1{Current: r.Current, Needed: r.Needed}
		}
		for i, slot := range b.Items {
			bv.Items[i] = slot.Filled
		}
		if c := b.UnlockCondition; c != nil {
			bv.HasUnlock = true
			bv.UnlockBuildings = map[string]int{}
			for other, lv := range c.Buildings {
				bv.UnlockBuildings[other] = lv.Level
			}
			bv.UnlockCurrency = map[string]int{}
			for k, th := range c.Currencies {
				bv.UnlockCurrency[string(k)] = th.Amount
			}
		}
		if len(b.Emissions) > 0 {
			bv.Emissions = map[string]EmitV1{}
			for k, e := range b.Emissions {
				bv.Emissions[string(k)] = EmitV1{BaseAmount: e.BaseAmount, IntervalMs: e.IntervalMs}
			}
		}
		snap.Buildings = append(snap.Buildings, bv)
	}
	return snap
}

// ToState rebuilds the economy state held by snap.
func (snap SnapshotV1) ToState() economy.State {
	s := economy.State{
		Session:       snap.Header.Session,
		CatalogDigest: snap.Header.CatalogDigest,
		Stability:     snap.Stability,
		Collapsed:     snap.Collapsed,
		Currencies:    economy.Pool(resourceKeys(snap.Currencies)),
		Materials:     economy.Pool(resourceKeys(snap.Materials)),
		Buildings:     make(map[string]economy.Building, len(snap.Buildings)),
	}
	if s.Currencies == nil {
		s.Currencies = economy.Pool{}
	}
	if s.Materials == nil {
		s.Materials = economy.Pool{}
	}
	for _, bv := range snap.Buildings {
		b := economy.Building{
			ID:                 bv.ID,
			Name:               bv.Name,
			Icon:               bv.Icon,
			Category:           bv.Category,
			Description:        bv.Description,
			Level:              bv.Level,
			Occupancy:          bv.Occupancy,
			MaxOccupancy:       bv.MaxOccupancy,
			UpgradeProgressPct: bv.UpgradeProgressPct,
			Requirements:       map[economy.ResourceKey]economy.Requirement{},
			ItemRequirements:   resourceKeys(bv.ItemRequirements),
			Items:              make([]economy.Slot, len(bv.Items)),
			Locked:             bv.Locked,
			Accumulated:        resourceKeys(bv.Accumulated),
		}
		for k, r := range bv.Requirements {
			b.Requirements[economy.ResourceKey(k)] = economy.Requirement{Current: r.Current, Needed: r.Needed}
		}
		for i, filled := range bv.Items {
			b.Items[i] = economy.Slot{Filled: filled}
		}
		if bv.HasUnlock {
			c := &economy.UnlockCondition{}
			if len(bv.UnlockBuildings) > 0 {
				c.Buildings = map[string]economy.BuildingLevel{}
				for other, lv := range bv.UnlockBuildings {
					c.Buildings[other] = economy.BuildingLevel{Level: lv}
				}
			}
			if len(bv.UnlockCurrency) > 0 {
				c.Currencies = map[economy.ResourceKey]economy.CurrencyThreshold{}
				for k, amt := range bv.UnlockCurrency {
					c.Currencies[economy.ResourceKey(k)] = economy.CurrencyThreshold{Amount: amt}
				}
			}
			b.UnlockCondition = c
		}
		if len(bv.Emissions) > 0 {
			b.Emissions = map[economy.ResourceKey]economy.Emission{}
			for k, e := range bv.Emissions {
				b.Emissions[economy.ResourceKey(k)] = economy.Emission{BaseAmount: e.BaseAmount, IntervalMs: e.IntervalMs}
			}
		}
		s.Buildings[bv.ID] = b
	}
	return s
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	hb, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(hb, &h); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

func stringKeys[M ~map[economy.ResourceKey]int](m M) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func resourceKeys(m map[string]int) map[economy.ResourceKey]int {
	if m == nil {
		return nil
	}
	out := make(map[economy.ResourceKey]int, len(m))
	for k, v := range m {
		out[economy.ResourceKey(k)] = v
	}
	return out
}
