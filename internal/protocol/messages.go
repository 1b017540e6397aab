package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Events opts the connection into the observer event stream.
	Events   bool `json:"events,omitempty"`
	MaxQueue int  `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ConnectionID    string `json:"connection_id"`
	SessionID       string `json:"session_id"`
	CatalogDigest   string `json:"catalog_digest"`
	Buildings       int    `json:"buildings"`
}

// COMMAND (client -> server)
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Command         string `json:"command"`
	BuildingID      string `json:"building_id,omitempty"`
	Resource        string `json:"resource,omitempty"`
	Amount          int    `json:"amount,omitempty"`
	Slot            int    `json:"slot,omitempty"`
}

// QUERY (client -> server) asks for a STATE message.
type QueryMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type    string         `json:"type"`
	Ref     string         `json:"ref"`
	OK      bool           `json:"ok"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Amounts map[string]int `json:"amounts,omitempty"`
}

// EVENT (server -> client)
type EventMsg struct {
	Type       string `json:"type"`
	Kind       string `json:"kind"`
	Session    string `json:"session"`
	Seq        uint64 `json:"seq"`
	UnixMS     int64  `json:"unix_ms"`
	BuildingID string `json:"building_id,omitempty"`
	Resource   string `json:"resource,omitempty"`
	Amount     int    `json:"amount,omitempty"`
	Level      int    `json:"level,omitempty"`
	Stability  int    `json:"stability"`
}

// STATE (server -> client)
type StateMsg struct {
	Type          string         `json:"type"`
	Ref           string         `json:"ref,omitempty"`
	Session       string         `json:"session"`
	CatalogDigest string         `json:"catalog_digest"`
	Stability     int            `json:"stability"`
	Collapsed     bool           `json:"collapsed"`
	Currencies    map[string]int `json:"currencies"`
	Materials     map[string]int `json:"materials"`
	Buildings     []BuildingView `json:"buildings"`
}

type BuildingView struct {
	ID                 string                     `json:"id"`
	Name               string                     `json:"name"`
	Icon               string                     `json:"icon"`
	Category           string                     `json:"category"`
	Level              int                        `json:"level"`
	Occupancy          int                        `json:"occupancy"`
	MaxOccupancy       int                        `json:"max_occupancy"`
	UpgradeProgressPct int                        `json:"upgrade_progress_pct"`
	Requirements       map[string]RequirementView `json:"requirements"`
	ItemRequirements   map[string]int             `json:"item_requirements,omitempty"`
	Items              []bool                     `json:"items"`
	Locked             bool                       `json:"locked"`
	CanUnlock          bool                       `json:"can_unlock"`
	Accumulated        map[string]int             `json:"accumulated,omitempty"`
}

type RequirementView struct {
	Current int `json:"current"`
	Needed  int `json:"needed"`
}
