package session

import (
	"encoding/json"
)

// Mode tags.
const (
	ModeCasual   = "casual"
	ModeCampaign = "campaign"
)

// Mode is the narrow extension interface a session variant implements on top
// of the shared core. The casual variant is a no-op; the campaign variant
// layers damage attribution, scoring and round advancement on the hooks.
type Mode interface {
	// Name returns the mode tag persisted with the session.
	Name() string

	// StartingLife returns the life total new and revived players receive,
	// or 0 to use the engine default.
	StartingLife() int

	// OnPlayerLifeChanged fires after UpdatePlayer applies a life change,
	// before the elimination check.
	OnPlayerLifeChanged(s *Session, playerID, oldLife, newLife int)

	// OnPlayerRenamed fires after a player display name change sticks.
	OnPlayerRenamed(playerID int, name string)

	// OnPlayerClaimed fires after a successful claim (empty clientID on
	// unclaim/kick).
	OnPlayerClaimed(playerID int, clientID string)

	// OnGameComplete fires when the session reaches a terminal state.
	// winnerID is 0 for a draw.
	OnGameComplete(s *Session, winnerID int)

	// ModeState returns the serializable extension state, or nil.
	ModeState() any

	// RestoreModeState rehydrates the extension state from persisted JSON.
	RestoreModeState(raw json.RawMessage) error
}

// CasualMode is the default variant: the shared core is the whole game.
type CasualMode struct{}

func (CasualMode) Name() string                                  { return ModeCasual }
func (CasualMode) StartingLife() int                             { return 0 }
func (CasualMode) OnPlayerLifeChanged(*Session, int, int, int)   {}
func (CasualMode) OnPlayerRenamed(int, string)                   {}
func (CasualMode) OnPlayerClaimed(int, string)                   {}
func (CasualMode) OnGameComplete(*Session, int)                  {}
func (CasualMode) ModeState() any                                { return nil }
func (CasualMode) RestoreModeState(json.RawMessage) error        { return nil }
