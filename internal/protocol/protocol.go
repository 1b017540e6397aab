package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCommand = "COMMAND"
	TypeResult  = "RESULT"
	TypeEvent   = "EVENT"
	TypeState   = "STATE"
	TypeQuery   = "QUERY"
)

// Command names carried in COMMAND.command.
const (
	CmdAddOccupant     = "ADD_OCCUPANT"
	CmdContribute      = "CONTRIBUTE"
	CmdCraftItem       = "CRAFT_ITEM"
	CmdLevelUp         = "LEVEL_UP"
	CmdUnlock          = "UNLOCK"
	CmdCollect         = "COLLECT"
	CmdAdjustStability = "ADJUST_STABILITY"
	CmdReset           = "RESET"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
