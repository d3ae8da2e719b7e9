package session

import (
	"encoding/json"
	"fmt"
)

// Campaign statuses.
const (
	CampaignInProgress = "in_progress"
	CampaignCompleted  = "completed"
)

// PlayerStats accumulates one player's results across rounds.
type PlayerStats struct {
	Wins              int   `json:"wins"`
	Losses            int   `json:"losses"`
	TotalTimeUsed     int64 `json:"totalTimeUsed"`
	Penalties         int   `json:"penalties"`
	Eliminations      int   `json:"eliminations"`
	AccumulatedPoints int64 `json:"accumulatedPoints"`
}

// RoundPlayerResult is one player's line in the round history.
type RoundPlayerResult struct {
	PlayerID     int   `json:"playerId"`
	TimeUsed     int64 `json:"timeUsed"`
	Penalties    int   `json:"penalties"`
	IsEliminated bool  `json:"isEliminated"`
}

// RoundRecord is one completed round.
type RoundRecord struct {
	Round    int                 `json:"round"`
	WinnerID int                 `json:"winnerId"`
	Players  []RoundPlayerResult `json:"players"`
}

// CampaignState is the campaign extension state. DamageTracker maps
// attacker -> target -> cumulative damage within the current round and is
// wiped by finalizeRoundScoring.
type CampaignState struct {
	Preset        string                `json:"preset"`
	Config        CampaignConfig        `json:"config"`
	CurrentRound  int                   `json:"currentRound"`
	MaxRounds     int                   `json:"maxRounds"`
	PlayerStats   map[int]*PlayerStats  `json:"playerStats"`
	RoundHistory  []RoundRecord         `json:"roundHistory"`
	DamageTracker map[int]map[int]int64 `json:"damageTracker"`
	PlayerPoints  map[int]int64         `json:"playerPoints"`
	PlayerLevels  map[int]int           `json:"playerLevels"`
	PlayerNames   map[int]string        `json:"playerNames"`
	PlayerClaims  map[int]string        `json:"playerClaims"`
	Status        string                `json:"campaignStatus"`
	Winner        int                   `json:"winner"`
}

func (c *CampaignState) stats(id int) *PlayerStats {
	st, ok := c.PlayerStats[id]
	if !ok {
		st = &PlayerStats{}
		c.PlayerStats[id] = st
	}
	return st
}

func (c *CampaignState) accumulated(id int) int64 {
	if st, ok := c.PlayerStats[id]; ok {
		return st.AccumulatedPoints
	}
	return 0
}

// CampaignMode layers cross-round scoring onto the base machine.
type CampaignMode struct {
	State *CampaignState
}

// NewCampaignMode creates campaign extension state from a preset tag.
func NewCampaignMode(preset string) (*CampaignMode, error) {
	cfg, ok := Preset(preset)
	if !ok {
		return nil, fmt.Errorf("unknown campaign preset %q", preset)
	}
	return &CampaignMode{State: &CampaignState{
		Preset:        preset,
		Config:        cfg,
		CurrentRound:  1,
		MaxRounds:     cfg.Rounds,
		PlayerStats:   make(map[int]*PlayerStats),
		DamageTracker: make(map[int]map[int]int64),
		PlayerPoints:  make(map[int]int64),
		PlayerLevels:  make(map[int]int),
		PlayerNames:   make(map[int]string),
		PlayerClaims:  make(map[int]string),
		Status:        CampaignInProgress,
	}}, nil
}

func (m *CampaignMode) Name() string { return ModeCampaign }

func (m *CampaignMode) StartingLife() int {
	if m.State.Config.StartingLife > 0 {
		return m.State.Config.StartingLife
	}
	return 0
}

// OnPlayerLifeChanged attributes damage to the acting player and refreshes
// all scores. Healing, non-running states and self-damage earn nothing.
func (m *CampaignMode) OnPlayerLifeChanged(s *Session, playerID, oldLife, newLife int) {
	if newLife >= oldLife || s.Status != StatusRunning {
		return
	}
	acting := m.actingPlayer(s)
	if acting == 0 || acting == playerID {
		return
	}
	damage := int64(oldLife - newLife)
	targets := m.State.DamageTracker[acting]
	if targets == nil {
		targets = make(map[int]int64)
		m.State.DamageTracker[acting] = targets
	}
	targets[playerID] += damage
	m.RecalculateAllScores(s)
}

// actingPlayer resolves who gets damage credit: interrupt priority first,
// then the original active player during targeting resolution, then the
// active player.
func (m *CampaignMode) actingPlayer(s *Session) int {
	if top := s.interruptTop(); top != 0 {
		return top
	}
	if s.Targeting.Resolving() && s.Targeting.OriginalActivePlayer != 0 {
		return s.Targeting.OriginalActivePlayer
	}
	return s.ActivePlayer
}

// OnPlayerRenamed records names so they survive round resets.
func (m *CampaignMode) OnPlayerRenamed(playerID int, name string) {
	m.State.PlayerNames[playerID] = name
}

// OnPlayerClaimed records claims so they survive round resets. An empty
// clientID clears the record.
func (m *CampaignMode) OnPlayerClaimed(playerID int, clientID string) {
	if clientID == "" {
		delete(m.State.PlayerClaims, playerID)
		return
	}
	m.State.PlayerClaims[playerID] = clientID
}

// RecalculateAllScores recomputes every player's points and level from the
// scoring formula.
func (m *CampaignMode) RecalculateAllScores(s *Session) {
	formula := m.State.Config.Scoring
	if formula == nil {
		formula = PresetScoring(m.State.Preset)
	}
	for _, p := range s.Players {
		points := formula(m.State, p.ID)
		m.State.PlayerPoints[p.ID] = points
		level := 1
		for _, threshold := range m.State.Config.LevelThresholds {
			if threshold <= points {
				level++
			}
		}
		m.State.PlayerLevels[p.ID] = level
	}
}

// OnGameComplete closes out the round: scores are finalized, the result is
// recorded, and either the campaign completes or the next round is prepared.
func (m *CampaignMode) OnGameComplete(s *Session, winnerID int) {
	if m.State.Status == CampaignCompleted {
		return
	}
	roundTime := m.State.Config.RoundTime(m.State.CurrentRound)
	roundData := make([]RoundPlayerResult, 0, len(s.Players))
	for _, p := range s.Players {
		used := roundTime - p.TimeRemaining
		if used < 0 {
			used = 0
		}
		roundData = append(roundData, RoundPlayerResult{
			PlayerID:     p.ID,
			TimeUsed:     used,
			Penalties:    p.Penalties,
			IsEliminated: p.IsEliminated,
		})
	}

	m.finalizeRoundScoring(s)
	m.recordRound(winnerID, roundData)
	m.State.CurrentRound++

	if winner, done := m.checkCampaignComplete(); done {
		m.State.Status = CampaignCompleted
		m.State.Winner = winner
		s.Status = StatusFinished
		s.Winner = winner
		s.publish(Event{Type: EventCampaignComplete, Data: CampaignCompletePayload{
			WinnerID:     winner,
			WinCondition: m.State.Config.WinCondition,
			Rounds:       len(m.State.RoundHistory),
		}})
		return
	}
	m.prepareNextRound(s)
}

// finalizeRoundScoring folds the live point totals into the accumulated
// stats, then resets the damage tracker for the next round.
func (m *CampaignMode) finalizeRoundScoring(s *Session) {
	m.RecalculateAllScores(s)
	for _, p := range s.Players {
		m.stats(p.ID).AccumulatedPoints = m.State.PlayerPoints[p.ID]
	}
	m.State.DamageTracker = make(map[int]map[int]int64)
}

func (m *CampaignMode) stats(id int) *PlayerStats { return m.State.stats(id) }

func (m *CampaignMode) recordRound(winnerID int, roundData []RoundPlayerResult) {
	m.State.RoundHistory = append(m.State.RoundHistory, RoundRecord{
		Round:    m.State.CurrentRound,
		WinnerID: winnerID,
		Players:  roundData,
	})
	for _, r := range roundData {
		st := m.stats(r.PlayerID)
		st.TotalTimeUsed += r.TimeUsed
		st.Penalties += r.Penalties
		if r.IsEliminated {
			st.Eliminations++
		}
		if r.PlayerID == winnerID {
			st.Wins++
		} else {
			st.Losses++
		}
	}
}

// checkCampaignComplete evaluates the preset's win condition. CurrentRound
// has already been advanced past the round just played.
func (m *CampaignMode) checkCampaignComplete() (winner int, done bool) {
	c := m.State
	switch c.Config.WinCondition {
	case WinBestOf, WinFirstTo:
		for id, st := range c.PlayerStats {
			if st.Wins >= c.Config.WinTarget {
				return id, true
			}
		}
	case WinTotalTime:
		if c.CurrentRound > c.MaxRounds {
			return m.leastTimeUsed(), true
		}
		return 0, false
	case WinTotalPoints:
		if c.CurrentRound > c.MaxRounds {
			return m.mostPoints(), true
		}
		return 0, false
	}
	// Rounds exhausted with no condition met: most wins takes it.
	if c.CurrentRound > c.MaxRounds {
		return m.mostWins(), true
	}
	return 0, false
}

func (m *CampaignMode) leastTimeUsed() int {
	winner, best := 0, int64(-1)
	for id, st := range m.State.PlayerStats {
		if best < 0 || st.TotalTimeUsed < best || (st.TotalTimeUsed == best && id < winner) {
			winner, best = id, st.TotalTimeUsed
		}
	}
	return winner
}

func (m *CampaignMode) mostPoints() int {
	winner, best := 0, int64(-1)
	for id, pts := range m.State.PlayerPoints {
		if pts > best || (pts == best && id < winner) {
			winner, best = id, pts
		}
	}
	return winner
}

func (m *CampaignMode) mostWins() int {
	winner, best := 0, -1
	for id, st := range m.State.PlayerStats {
		if st.Wins > best || (st.Wins == best && id < winner) {
			winner, best = id, st.Wins
		}
	}
	return winner
}

// prepareNextRound resets every seat with the next round's clock while
// carrying names and claims (including live reconnect tokens) forward.
func (m *CampaignMode) prepareNextRound(s *Session) {
	roundTime := m.State.Config.RoundTime(m.State.CurrentRound)
	previous := s.Players
	s.Players = make([]*Player, 0, len(previous))
	for _, old := range previous {
		p := NewPlayer(old.ID, roundTime, m.StartingLife())
		if name, ok := m.State.PlayerNames[old.ID]; ok && name != "" {
			p.Name = name
		} else if old.Name != "" {
			p.Name = old.Name
		}
		p.Color = old.Color
		if claim, ok := m.State.PlayerClaims[old.ID]; ok && claim != "" {
			p.ClaimedBy = claim
			p.ReconnectToken = old.ReconnectToken
			p.TokenExpiry = old.TokenExpiry
		}
		s.Players = append(s.Players, p)
	}
	s.Status = StatusWaiting
	s.ActivePlayer = 0
	s.started = false
	s.Winner = 0
	s.InterruptStack = nil
	s.resetTargeting()
	s.Touch()
	s.publishState()
}

func (m *CampaignMode) ModeState() any { return m.State }

// RestoreModeState rehydrates the campaign and re-attaches the
// non-serializable scoring formula from the preset registry.
func (m *CampaignMode) RestoreModeState(raw json.RawMessage) error {
	st := &CampaignState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return fmt.Errorf("invalid campaign state: %w", err)
	}
	if st.PlayerStats == nil {
		st.PlayerStats = make(map[int]*PlayerStats)
	}
	if st.DamageTracker == nil {
		st.DamageTracker = make(map[int]map[int]int64)
	}
	if st.PlayerPoints == nil {
		st.PlayerPoints = make(map[int]int64)
	}
	if st.PlayerLevels == nil {
		st.PlayerLevels = make(map[int]int)
	}
	if st.PlayerNames == nil {
		st.PlayerNames = make(map[int]string)
	}
	if st.PlayerClaims == nil {
		st.PlayerClaims = make(map[int]string)
	}
	if st.Status == "" {
		st.Status = CampaignInProgress
	}
	st.Config.Scoring = PresetScoring(st.Preset)
	m.State = st
	return nil
}
