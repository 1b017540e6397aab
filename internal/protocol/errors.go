package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrEngineBusy      = "E_ENGINE_BUSY"
	// ErrOutcomeUnknown: the command was queued but no reply arrived in time;
	// it may still be applied.
	ErrOutcomeUnknown = "E_OUTCOME_UNKNOWN"

	// Rule/action layer.
	ErrBadRequest        = "E_BAD_REQUEST"
	ErrUnknownBuilding   = "E_UNKNOWN_BUILDING"
	ErrUnknownResource   = "E_UNKNOWN_RESOURCE"
	ErrLocked            = "E_LOCKED"
	ErrNoOccupants       = "E_NO_OCCUPANTS"
	ErrCapacity          = "E_CAPACITY"
	ErrNoResource        = "E_NO_RESOURCE"
	ErrRequirementMet    = "E_REQUIREMENT_MET"
	ErrRequirementsUnmet = "E_REQUIREMENTS_UNMET"
	ErrUnlockUnmet       = "E_UNLOCK_UNMET"
	ErrAlreadyUnlocked   = "E_ALREADY_UNLOCKED"
	ErrInvalidTarget     = "E_INVALID_TARGET"
	ErrConflict          = "E_CONFLICT"
	ErrCollapsed         = "E_COLLAPSED"
	ErrInternal          = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrRateLimit:         {},
	ErrEngineBusy:        {},
	ErrOutcomeUnknown:    {},
	ErrBadRequest:        {},
	ErrUnknownBuilding:   {},
	ErrUnknownResource:   {},
	ErrLocked:            {},
	ErrNoOccupants:       {},
	ErrCapacity:          {},
	ErrNoResource:        {},
	ErrRequirementMet:    {},
	ErrRequirementsUnmet: {},
	ErrUnlockUnmet:       {},
	ErrAlreadyUnlocked:   {},
	ErrInvalidTarget:     {},
	ErrConflict:          {},
	ErrCollapsed:         {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
