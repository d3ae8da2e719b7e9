package session

// EventType tags an outbound session event.
type EventType string

const (
	EventState            EventType = "state"
	EventTick             EventType = "tick"
	EventTimeout          EventType = "timeout"
	EventTimeoutChoice    EventType = "timeoutChoice"
	EventWarning          EventType = "warning"
	EventGameComplete     EventType = "gameComplete"
	EventCampaignComplete EventType = "campaignComplete"
	EventGameRenamed      EventType = "gameRenamed"
)

// Event is one outbound message produced by a session mutation. Events are
// emitted through the publisher callback after the state change they describe
// has been applied.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// EmitFunc receives session events for fan-out. A nil publisher is valid and
// drops everything, which keeps the engine testable in isolation.
type EmitFunc func(ev Event)

// TickPayload reports every player's remaining time after a tick.
type TickPayload struct {
	Times map[int]int64 `json:"times"`
}

// TimeoutPayload identifies the player whose clock reached zero.
type TimeoutPayload struct {
	PlayerID int `json:"playerId"`
}

// TimeoutChoicePayload opens the grace window for a timed-out player.
type TimeoutChoicePayload struct {
	PlayerID int                  `json:"playerId"`
	Options  TimeoutChoiceOptions `json:"options"`
	Deadline int64                `json:"deadline"`
}

// TimeoutChoiceOptions lists the consequences of the non-death choices.
type TimeoutChoiceOptions struct {
	LivesLoss int `json:"livesLoss"`
	DrunkGain int `json:"drunkGain"`
}

// WarningPayload reports a one-shot downward threshold crossing.
type WarningPayload struct {
	PlayerID  int   `json:"playerId"`
	Threshold int64 `json:"threshold"`
}

// GameCompletePayload announces the casual-mode terminal state. WinnerID 0
// means a draw.
type GameCompletePayload struct {
	WinnerID int `json:"winnerId"`
}

// CampaignCompletePayload announces the end of a campaign.
type CampaignCompletePayload struct {
	WinnerID     int   `json:"winnerId"`
	WinCondition string `json:"winCondition"`
	Rounds       int   `json:"rounds"`
}

// RenamedPayload carries the sanitized new session name.
type RenamedPayload struct {
	Name string `json:"name"`
}
