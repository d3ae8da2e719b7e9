package server

import (
	"github.com/manaclock/manaclock/pkg/session"
)

// Server-level event types, completing the session-level set.
const (
	EventClientID        session.EventType = "clientId"
	EventClaimed         session.EventType = "claimed"
	EventReconnected     session.EventType = "reconnected"
	EventShutdownWarning session.EventType = "shutdown_warning"
	EventError           session.EventType = "error"
)

// ClientIDPayload is sent immediately on transport connect.
type ClientIDPayload struct {
	ClientID string `json:"clientId"`
}

// ClaimedPayload is the private response to a successful claim.
type ClaimedPayload struct {
	PlayerID int    `json:"playerId"`
	Token    string `json:"token"`
	GameID   string `json:"gameId"`
}

// ReconnectedPayload is the private response to a successful reconnect; a
// full state event follows it.
type ReconnectedPayload struct {
	PlayerID int    `json:"playerId"`
	Token    string `json:"token"`
	GameID   string `json:"gameId"`
}

// ShutdownWarningPayload tells clients the instance is draining.
type ShutdownWarningPayload struct {
	Message string `json:"message"`
	Timeout int64  `json:"timeout"` // ms until force close
}

// ErrorPayload carries a short fixed message for a rejected command.
type ErrorPayload struct {
	Message string `json:"message"`
}

func errorEvent(err error) session.Event {
	return session.Event{Type: EventError, Data: ErrorPayload{Message: err.Error()}}
}

// relayEnvelope wraps a broadcast for the cross-instance pub/sub channel.
// Receivers skip envelopes stamped with their own instance id.
type relayEnvelope struct {
	InstanceID string        `json:"instanceId"`
	SessionID  string        `json:"sessionId"`
	Event      session.Event `json:"event"`
}
