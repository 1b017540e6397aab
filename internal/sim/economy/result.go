package economy

import "fmt"

// Rules are the fixed economy parameters for a session (see tuning.yaml).
type Rules struct {
	OccupantCost       int
	UnlockRewardSocial int
	UnlockRewardMoney  int
	DefaultIntervalMs  int
	PreserveUnlocks    bool
	ScaleNeededByLevel bool

	StartingCurrencies map[ResourceKey]int
	StartingMaterials  map[ResourceKey]int
	StartingStability  int
}

func DefaultRules() Rules {
	return Rules{
		OccupantCost:       10,
		UnlockRewardSocial: 20,
		UnlockRewardMoney:  20,
		DefaultIntervalMs:  5000,
		StartingCurrencies: map[ResourceKey]int{Social: 10, Technology: 10, Money: 10, Materials: 10},
		StartingStability:  StabilityMax,
	}
}

// EventKind names an observer event.
type EventKind string

const (
	EventProduction        EventKind = "PRODUCTION"
	EventCollect           EventKind = "COLLECT"
	EventUnlock            EventKind = "UNLOCK"
	EventLevelUp           EventKind = "LEVEL_UP"
	EventCollapse          EventKind = "COLLAPSE"
	EventCatalogReconciled EventKind = "CATALOG_RECONCILED"
	EventReset             EventKind = "RESET"
)

// Event describes a notable transition. The world stamps session, sequence
// and wall-clock time before publishing it.
type Event struct {
	Kind       EventKind   `json:"kind"`
	BuildingID string      `json:"building_id,omitempty"`
	Resource   ResourceKey `json:"resource,omitempty"`
	Amount     int         `json:"amount,omitempty"`
	Level      int         `json:"level,omitempty"`
	Stability  int         `json:"stability"`
}

// Result is the outcome of one command. Policy violations are reported with
// OK=false and a protocol error code; the returned State is then unchanged.
type Result struct {
	OK      bool                `json:"ok"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Amounts map[ResourceKey]int `json:"amounts,omitempty"`
	Events  []Event             `json:"events,omitempty"`
}

func succeed(events ...Event) Result {
	return Result{OK: true, Events: events}
}

func fail(code string, format string, args ...any) Result {
	return Result{OK: false, Code: code, Message: fmt.Sprintf(format, args...)}
}
