package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"outpost.ai/internal/sim/economy"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	OccupantCost int          `yaml:"occupant_cost"`
	UnlockReward UnlockReward `yaml:"unlock_reward"`

	StartingCurrencies map[string]int `yaml:"starting_currencies"`
	StartingMaterials  map[string]int `yaml:"starting_materials"`
	StartingStability  int            `yaml:"starting_stability"`

	StabilityDecayMs          int  `yaml:"stability_decay_ms"`
	DefaultEmissionIntervalMs int  `yaml:"default_emission_interval_ms"`
	CatalogRefreshSec         int  `yaml:"catalog_refresh_sec"`
	PreserveUnlocks           bool `yaml:"preserve_unlocks"`
	ScaleNeededByLevel        bool `yaml:"scale_needed_by_level"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type UnlockReward struct {
	Social int `yaml:"social"`
	Money  int `yaml:"money"`
}

type RateLimits struct {
	CommandsPerSec float64 `yaml:"commands_per_sec"`
	Burst          int     `yaml:"burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		OccupantCost:    10,
		UnlockReward:    UnlockReward{Social: 20, Money: 20},
		StartingCurrencies: map[string]int{
			"social":     10,
			"technology": 10,
			"money":      10,
			"materials":  10,
		},
		StartingMaterials:         map[string]int{},
		StartingStability:         100,
		StabilityDecayMs:          5000,
		DefaultEmissionIntervalMs: 5000,
		CatalogRefreshSec:         60,
		RateLimits:                RateLimits{CommandsPerSec: 20, Burst: 40},
	}
}

// Load reads path over Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.OccupantCost < 0 {
		return fmt.Errorf("occupant_cost must be >= 0")
	}
	if t.UnlockReward.Social < 0 || t.UnlockReward.Money < 0 {
		return fmt.Errorf("unlock_reward must be >= 0")
	}
	if t.StartingStability < economy.StabilityMin || t.StartingStability > economy.StabilityMax {
		return fmt.Errorf("starting_stability must be in [%d,%d]", economy.StabilityMin, economy.StabilityMax)
	}
	if t.StabilityDecayMs < 0 {
		return fmt.Errorf("stability_decay_ms must be >= 0")
	}
	if t.DefaultEmissionIntervalMs <= 0 {
		return fmt.Errorf("default_emission_interval_ms must be > 0")
	}
	if t.CatalogRefreshSec < 0 {
		return fmt.Errorf("catalog_refresh_sec must be >= 0")
	}
	if t.RateLimits.CommandsPerSec <= 0 || t.RateLimits.Burst < 1 {
		return fmt.Errorf("rate_limits: commands_per_sec and burst must be positive")
	}
	if err := checkPool("starting_currencies", t.StartingCurrencies, economy.PoolCurrency); err != nil {
		return err
	}
	return checkPool("starting_materials", t.StartingMaterials, economy.PoolMaterial)
}

func checkPool(name string, m map[string]int, want economy.PoolKind) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rk, ok := economy.ParseResourceKey(k)
		if !ok || rk.Pool() != want {
			return fmt.Errorf("%s: %q is not a %s", name, k, want)
		}
		if m[k] < 0 {
			return fmt.Errorf("%s: %q must be >= 0", name, k)
		}
	}
	return nil
}

// Rules converts the tuning into economy rules.
func (t Tuning) Rules() economy.Rules {
	r := economy.Rules{
		OccupantCost:       t.OccupantCost,
		UnlockRewardSocial: t.UnlockReward.Social,
		UnlockRewardMoney:  t.UnlockReward.Money,
		DefaultIntervalMs:  t.DefaultEmissionIntervalMs,
		PreserveUnlocks:    t.PreserveUnlocks,
		ScaleNeededByLevel: t.ScaleNeededByLevel,
		StartingCurrencies: map[economy.ResourceKey]int{},
		StartingMaterials:  map[economy.ResourceKey]int{},
		StartingStability:  t.StartingStability,
	}
	for k, v := range t.StartingCurrencies {
		r.StartingCurrencies[economy.ResourceKey(k)] = v
	}
	for k, v := range t.StartingMaterials {
		r.StartingMaterials[economy.ResourceKey(k)] = v
	}
	return r
}

func (t Tuning) DecayPeriod() time.Duration {
	return time.Duration(t.StabilityDecayMs) * time.Millisecond
}

func (t Tuning) RefreshPeriod() time.Duration {
	return time.Duration(t.CatalogRefreshSec) * time.Second
}
