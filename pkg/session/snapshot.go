package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/decred/slog"
)

// Snapshot is the full persisted form of a session, including reconnect
// tokens and deadlines. Missing fields default safely on restore so the
// schema stays forward-compatible.
type Snapshot struct {
	ID           string          `json:"id"`
	Mode         string          `json:"mode"`
	Name         string          `json:"name"`
	Status       Status          `json:"status"`
	CreatedAt    int64           `json:"createdAt"`
	LastActivity int64           `json:"lastActivity"`
	OwnerID      string          `json:"ownerId,omitempty"`
	Settings     Settings        `json:"settings"`
	Players      []*Player       `json:"players"`
	ActivePlayer int             `json:"activePlayer,omitempty"`
	Started      bool            `json:"started"`
	Interrupts   []int           `json:"interruptStack,omitempty"`
	Targeting    TargetingState  `json:"targeting"`
	Winner       int             `json:"winner,omitempty"`
	IsClosed     bool            `json:"isClosed"`
	ModeState    json.RawMessage `json:"modeState,omitempty"`
}

// TargetingState is the serialized targeting sub-state.
type TargetingState struct {
	State                string `json:"state"`
	TargetedPlayers      []int  `json:"targetedPlayers,omitempty"`
	AwaitingPriority     []int  `json:"awaitingPriority,omitempty"`
	OriginalActivePlayer int    `json:"originalActivePlayer,omitempty"`
}

// Snapshot captures the complete persisted state. Must run inside the
// session's coordinator section.
func (s *Session) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{
		ID:           s.ID,
		Mode:         s.mode.Name(),
		Name:         s.Name,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt.UnixMilli(),
		LastActivity: s.LastActivity.UnixMilli(),
		OwnerID:      s.OwnerID,
		Settings:     s.Settings,
		ActivePlayer: s.ActivePlayer,
		Started:      s.started,
		Winner:       s.Winner,
		IsClosed:     s.IsClosed,
		Targeting: TargetingState{
			State:                s.Targeting.State(),
			TargetedPlayers:      append([]int(nil), s.Targeting.TargetedPlayers...),
			AwaitingPriority:     append([]int(nil), s.Targeting.AwaitingPriority...),
			OriginalActivePlayer: s.Targeting.OriginalActivePlayer,
		},
	}
	snap.Interrupts = append([]int(nil), s.InterruptStack...)
	snap.Players = make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		cp := *p
		snap.Players = append(snap.Players, &cp)
	}
	if ms := s.mode.ModeState(); ms != nil {
		raw, err := json.Marshal(ms)
		if err != nil {
			return nil, fmt.Errorf("marshal mode state: %w", err)
		}
		snap.ModeState = raw
	}
	return snap, nil
}

// Marshal serializes the full persisted form.
func (s *Session) Marshal() ([]byte, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

// FromSnapshot rebuilds a session from its persisted form. A session that was
// running when persisted comes back paused: server time never advances while
// the service is down, and clocks must not be silently consumed. Unknown
// modes fall back to casual with a warning.
func FromSnapshot(snap *Snapshot, log slog.Logger, clock func() time.Time) (*Session, error) {
	if snap.ID == "" {
		return nil, fmt.Errorf("snapshot missing session id")
	}
	if clock == nil {
		clock = time.Now
	}

	var mode Mode
	switch snap.Mode {
	case ModeCampaign:
		cm := &CampaignMode{}
		if len(snap.ModeState) > 0 {
			if err := cm.RestoreModeState(snap.ModeState); err != nil {
				return nil, err
			}
		} else {
			fresh, err := NewCampaignMode("standard")
			if err != nil {
				return nil, err
			}
			cm = fresh
		}
		mode = cm
	case ModeCasual, "":
		mode = CasualMode{}
	default:
		if log != nil {
			log.Warnf("session %s: unknown mode %q, defaulting to casual", snap.ID, snap.Mode)
		}
		mode = CasualMode{}
	}

	settings := snap.Settings
	if settings.PlayerCount == 0 {
		settings = DefaultSettings()
		settings.PlayerCount = len(snap.Players)
		if settings.PlayerCount < MinPlayers {
			settings.PlayerCount = MinPlayers
		}
	}

	s := &Session{
		log:          log,
		mode:         mode,
		now:          clock,
		ID:           snap.ID,
		Name:         snap.Name,
		Status:       snap.Status,
		OwnerID:      snap.OwnerID,
		Settings:     settings,
		ActivePlayer: snap.ActivePlayer,
		started:      snap.Started,
		Winner:       snap.Winner,
		IsClosed:     snap.IsClosed,
	}
	if snap.CreatedAt > 0 {
		s.CreatedAt = time.UnixMilli(snap.CreatedAt)
	} else {
		s.CreatedAt = clock()
	}
	if snap.LastActivity > 0 {
		s.LastActivity = time.UnixMilli(snap.LastActivity)
	} else {
		s.LastActivity = clock()
	}

	switch s.Status {
	case StatusWaiting, StatusRunning, StatusPaused, StatusFinished:
	default:
		s.Status = StatusWaiting
	}
	// Pause on restore.
	if s.Status == StatusRunning {
		s.Status = StatusPaused
	}

	s.InterruptStack = append([]int(nil), snap.Interrupts...)
	s.initTargeting()
	s.Targeting.TargetedPlayers = append([]int(nil), snap.Targeting.TargetedPlayers...)
	s.Targeting.AwaitingPriority = append([]int(nil), snap.Targeting.AwaitingPriority...)
	s.Targeting.OriginalActivePlayer = snap.Targeting.OriginalActivePlayer
	s.setTargetingState(snap.Targeting.State)

	s.Players = make([]*Player, 0, len(snap.Players))
	for i, sp := range snap.Players {
		p := applyPlayerDefaults(sp, i+1)
		s.Players = append(s.Players, p)
	}
	if len(s.Players) == 0 {
		s.initPlayers()
	}

	s.lastTick = clock()
	return s, nil
}

// applyPlayerDefaults copies a persisted player and fills anything a legacy
// snapshot may lack.
func applyPlayerDefaults(sp *Player, fallbackID int) *Player {
	p := *sp
	if p.ID == 0 {
		p.ID = fallbackID
	}
	if p.Name == "" {
		p.Name = defaultPlayerName(p.ID)
	}
	if p.Life == 0 && !p.IsEliminated {
		p.Life = DefaultLife
	}
	if p.TimeRemaining < 0 {
		p.TimeRemaining = 0
	}
	if p.DrunkCounter < 0 {
		p.DrunkCounter = 0
	}
	if p.GenericCounter < 0 {
		p.GenericCounter = 0
	}
	// Claim and token travel together.
	if p.ClaimedBy == "" {
		p.ReconnectToken = ""
		p.TokenExpiry = 0
	}
	return &p
}

// PublicPlayer is the client-visible player projection. Tokens, expiries,
// penalties and choice deadlines are persisted-only; the deadline reaches
// clients through the timeoutChoice event.
type PublicPlayer struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	TimeRemaining  int64  `json:"timeRemaining"`
	Life           int    `json:"life"`
	DrunkCounter   int    `json:"drunkCounter"`
	GenericCounter int    `json:"genericCounter"`
	IsEliminated   bool   `json:"isEliminated"`
	IsClaimed      bool   `json:"isClaimed"`
	Color          string `json:"color,omitempty"`
	TimeoutPending bool   `json:"timeoutPending"`
}

// PublicState is the snapshot broadcast to clients on material changes.
type PublicState struct {
	ID             string         `json:"id"`
	Mode           string         `json:"mode"`
	Name           string         `json:"name"`
	Status         Status         `json:"status"`
	OwnerID        string         `json:"ownerId,omitempty"`
	Settings       Settings       `json:"settings"`
	Players        []PublicPlayer `json:"players"`
	ActivePlayer   int            `json:"activePlayer,omitempty"`
	InterruptStack []int          `json:"interruptStack,omitempty"`
	Targeting      TargetingState `json:"targeting"`
	Winner         int            `json:"winner,omitempty"`
	ModeState      any            `json:"modeState,omitempty"`
}

// PublicState builds the client-visible snapshot.
func (s *Session) PublicState() PublicState {
	ps := PublicState{
		ID:           s.ID,
		Mode:         s.mode.Name(),
		Name:         s.Name,
		Status:       s.Status,
		OwnerID:      s.OwnerID,
		Settings:     s.Settings,
		ActivePlayer: s.ActivePlayer,
		Winner:       s.Winner,
		Targeting: TargetingState{
			State:                s.Targeting.State(),
			TargetedPlayers:      append([]int(nil), s.Targeting.TargetedPlayers...),
			AwaitingPriority:     append([]int(nil), s.Targeting.AwaitingPriority...),
			OriginalActivePlayer: s.Targeting.OriginalActivePlayer,
		},
		ModeState: s.mode.ModeState(),
	}
	ps.InterruptStack = append([]int(nil), s.InterruptStack...)
	ps.Players = make([]PublicPlayer, 0, len(s.Players))
	for _, p := range s.Players {
		ps.Players = append(ps.Players, PublicPlayer{
			ID:             p.ID,
			Name:           p.Name,
			TimeRemaining:  p.TimeRemaining,
			Life:           p.Life,
			DrunkCounter:   p.DrunkCounter,
			GenericCounter: p.GenericCounter,
			IsEliminated:   p.IsEliminated,
			IsClaimed:      p.ClaimedBy != "",
			Color:          p.Color,
			TimeoutPending: p.TimeoutPending,
		})
	}
	return ps
}
