package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/decred/slog"

	"github.com/manaclock/manaclock/pkg/utils"
)

// Claim and reconnect failures callers branch on.
var (
	ErrAlreadyClaimed   = errors.New("player already claimed")
	ErrSlotNotClaimable = errors.New("slot not claimable")
	ErrNoToken          = errors.New("no reconnect token for player")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidToken     = errors.New("invalid token")
)

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// TickInterval is the cadence at which tick operations are submitted. The
// engine never assumes the interval is exact; elapsed time is always measured
// against the last tick timestamp.
const TickInterval = 100 * time.Millisecond

// Config holds everything needed to construct a session.
type Config struct {
	ID       string
	Name     string
	OwnerID  string
	Settings Settings
	Mode     Mode
	Log      slog.Logger
	Emit     EmitFunc
	Clock    func() time.Time // nil = time.Now
}

// Session is one game instance. It is not self-locking: every mutation must
// run inside the coordinator's exclusive section for the session id.
type Session struct {
	log  slog.Logger
	mode Mode
	emit EmitFunc
	now  func() time.Time

	ID           string
	Name         string
	Status       Status
	CreatedAt    time.Time
	LastActivity time.Time
	OwnerID      string
	Settings     Settings
	Players      []*Player
	IsClosed     bool

	// ActivePlayer is 0 until the first start; afterwards it tracks the
	// player whose turn it is, through running and paused alike.
	ActivePlayer int
	started      bool

	// InterruptStack holds player ids; the tail has priority and its clock
	// ticks. Duplicates are allowed and resolve LIFO.
	InterruptStack []int

	Targeting Targeting

	// Winner is 0 while undecided and for draws.
	Winner int

	lastTick time.Time
}

// New creates a session in the waiting state with freshly initialized players.
func New(cfg Config) (*Session, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == nil {
		cfg.Mode = CasualMode{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &Session{
		log:       cfg.Log,
		mode:      cfg.Mode,
		emit:      cfg.Emit,
		now:       cfg.Clock,
		ID:        cfg.ID,
		Name:      utils.SanitizeName(cfg.Name, MaxNameLen),
		Status:    StatusWaiting,
		OwnerID:   cfg.OwnerID,
		Settings:  cfg.Settings,
		CreatedAt: cfg.Clock(),
	}
	s.LastActivity = s.CreatedAt
	s.initTargeting()
	s.initPlayers()
	return s, nil
}

func (s *Session) initPlayers() {
	s.Players = make([]*Player, 0, s.Settings.PlayerCount)
	for i := 1; i <= s.Settings.PlayerCount; i++ {
		s.Players = append(s.Players, NewPlayer(i, s.Settings.InitialTime, s.mode.StartingLife()))
	}
}

// Mode returns the session's variant extension.
func (s *Session) Mode() Mode { return s.mode }

// SetEmit attaches the event publisher. Used when rehydrating a session from
// a snapshot, where the publisher is wired after construction.
func (s *Session) SetEmit(emit EmitFunc) { s.emit = emit }

// SetLogger attaches the logger after rehydration.
func (s *Session) SetLogger(log slog.Logger) { s.log = log }

func (s *Session) publish(ev Event) {
	if s.emit != nil {
		s.emit(ev)
	}
}

// Touch updates the activity timestamp. Called by the router for every
// accepted command.
func (s *Session) Touch() { s.LastActivity = s.now() }

// Player returns the player with the given id, or nil.
func (s *Session) Player(id int) *Player {
	if id < 1 || id > len(s.Players) {
		return nil
	}
	return s.Players[id-1]
}

// AlivePlayers returns the ids of non-eliminated players in id order.
func (s *Session) AlivePlayers() []int {
	alive := make([]int, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.IsEliminated {
			alive = append(alive, p.ID)
		}
	}
	return alive
}

// ---- Lifecycle ----------------------------------------------------------

// Start transitions waiting|paused -> running. The first start seats player 1
// as the active player if none is set.
func (s *Session) Start() error {
	switch s.Status {
	case StatusWaiting, StatusPaused:
	default:
		return fmt.Errorf("cannot start from status %s", s.Status)
	}
	if s.ActivePlayer == 0 {
		alive := s.AlivePlayers()
		if len(alive) < MinPlayers {
			return fmt.Errorf("need at least %d non-eliminated players", MinPlayers)
		}
		s.ActivePlayer = alive[0]
	}
	s.Status = StatusRunning
	s.started = true
	s.lastTick = s.now()
	s.Touch()
	s.publishState()
	return nil
}

// Pause transitions running -> paused. The tick op becomes a no-op; clocks
// freeze at their current values.
func (s *Session) Pause() error {
	if s.Status != StatusRunning {
		return fmt.Errorf("cannot pause from status %s", s.Status)
	}
	s.Status = StatusPaused
	s.Touch()
	s.publishState()
	return nil
}

// Resume transitions paused -> running.
func (s *Session) Resume() error {
	if s.Status != StatusPaused {
		return fmt.Errorf("cannot resume from status %s", s.Status)
	}
	s.Status = StatusRunning
	s.lastTick = s.now()
	s.Touch()
	s.publishState()
	return nil
}

// Reset returns the session to waiting and reinitializes every player with
// the configured initial time. Names, claims and colors survive; clocks,
// counters, eliminations and the winner do not.
func (s *Session) Reset() {
	s.Status = StatusWaiting
	s.ActivePlayer = 0
	s.started = false
	s.Winner = 0
	s.InterruptStack = nil
	s.resetTargeting()
	for _, p := range s.Players {
		p.SetTime(s.Settings.InitialTime)
		life := s.mode.StartingLife()
		if life == 0 {
			life = DefaultLife
		}
		p.Life = life
		p.DrunkCounter = 0
		p.GenericCounter = 0
		p.Penalties = 0
		p.IsEliminated = false
		p.TimeoutPending = false
		p.TimeoutChoiceDeadline = 0
	}
	s.Touch()
	s.publishState()
}

// Close marks the session finished and closed; closed sessions are never
// restored after a restart.
func (s *Session) Close() {
	s.IsClosed = true
	s.Status = StatusFinished
	s.Touch()
	s.publishState()
}

// Rename applies a sanitized session name and broadcasts it.
func (s *Session) Rename(name string) error {
	if !utils.ValidName(name, MaxNameLen) {
		return fmt.Errorf("name too long (max %d characters)", MaxNameLen)
	}
	s.Name = utils.SanitizeName(name, MaxNameLen)
	s.Touch()
	s.publish(Event{Type: EventGameRenamed, Data: RenamedPayload{Name: s.Name}})
	s.publishState()
	return nil
}

// UpdateSettings validates and merges an options update.
func (s *Session) UpdateSettings(u SettingsUpdate) error {
	if err := s.Settings.Apply(u); err != nil {
		return err
	}
	s.Touch()
	s.publishState()
	return nil
}

// ---- Turn switching -----------------------------------------------------

// SwitchPlayer hands the turn to id and credits the configured bonus time to
// the new active player's clock.
func (s *Session) SwitchPlayer(id int) error {
	p := s.Player(id)
	if p == nil {
		return fmt.Errorf("player %d not found", id)
	}
	if p.IsEliminated {
		return fmt.Errorf("player %d is eliminated", id)
	}
	if len(s.AlivePlayers()) < 2 {
		return fmt.Errorf("need at least two non-eliminated players to switch")
	}
	s.ActivePlayer = id
	s.lastTick = s.now()
	if s.Settings.BonusTime > 0 {
		p.AddTime(s.Settings.BonusTime)
	}
	s.Touch()
	s.publishState()
	return nil
}

// ---- Interrupt stack ----------------------------------------------------

// Interrupt pushes id onto the priority stack. Duplicates stack LIFO.
func (s *Session) Interrupt(id int) error {
	p := s.Player(id)
	if p == nil {
		return fmt.Errorf("player %d not found", id)
	}
	if p.IsEliminated {
		return fmt.Errorf("player %d is eliminated", id)
	}
	s.InterruptStack = append(s.InterruptStack, id)
	s.lastTick = s.now()
	s.Touch()
	s.publishState()
	return nil
}

// PassPriority removes the last occurrence of id from the interrupt stack.
func (s *Session) PassPriority(id int) error {
	for i := len(s.InterruptStack) - 1; i >= 0; i-- {
		if s.InterruptStack[i] == id {
			s.InterruptStack = append(s.InterruptStack[:i], s.InterruptStack[i+1:]...)
			s.lastTick = s.now()
			s.Touch()
			s.publishState()
			return nil
		}
	}
	return fmt.Errorf("player %d holds no interrupt", id)
}

// interruptTop returns the id with current interrupt priority, or 0.
func (s *Session) interruptTop() int {
	if len(s.InterruptStack) == 0 {
		return 0
	}
	return s.InterruptStack[len(s.InterruptStack)-1]
}

func (s *Session) removeFromInterruptStack(id int) {
	kept := s.InterruptStack[:0]
	for _, v := range s.InterruptStack {
		if v != id {
			kept = append(kept, v)
		}
	}
	s.InterruptStack = kept
}

// ---- Elimination and winner detection -----------------------------------

// Eliminate removes a player from play and runs the winner check and, if
// needed, turn succession.
func (s *Session) Eliminate(id int) error {
	p := s.Player(id)
	if p == nil {
		return fmt.Errorf("player %d not found", id)
	}
	if p.IsEliminated {
		return nil
	}
	s.eliminate(p)
	s.publishState()
	return nil
}

func (s *Session) eliminate(p *Player) {
	p.IsEliminated = true
	p.TimeoutPending = false
	p.TimeoutChoiceDeadline = 0
	s.removeFromInterruptStack(p.ID)
	s.Touch()

	alive := s.AlivePlayers()
	switch len(alive) {
	case 1:
		s.finishGame(alive[0])
		return
	case 0:
		s.finishGame(0)
		return
	}

	if s.Targeting.Resolving() {
		s.handleEliminatedTarget(p.ID)
		return
	}
	if s.ActivePlayer == p.ID {
		s.ActivePlayer = s.nextAliveAfter(p.ID)
		s.lastTick = s.now()
	}
}

// nextAliveAfter returns the next non-eliminated player strictly after id in
// id order, wrapping. Returns 0 if none exists.
func (s *Session) nextAliveAfter(id int) int {
	n := len(s.Players)
	for i := 0; i < n; i++ {
		cand := (id+i)%n + 1
		if p := s.Player(cand); p != nil && !p.IsEliminated {
			return cand
		}
	}
	return 0
}

// finishGame records the winner (0 = draw), halts the clocks and notifies the
// mode extension.
func (s *Session) finishGame(winnerID int) {
	s.Winner = winnerID
	s.Status = StatusFinished
	s.InterruptStack = nil
	s.resetTargeting()
	for _, p := range s.Players {
		p.TimeoutPending = false
		p.TimeoutChoiceDeadline = 0
	}
	s.mode.OnGameComplete(s, winnerID)
	// The campaign hook may have rolled the session into the next round; only
	// announce completion if we are still finished.
	if s.Status == StatusFinished {
		s.publish(Event{Type: EventGameComplete, Data: GameCompletePayload{WinnerID: winnerID}})
	}
}

// ---- Admin operations ---------------------------------------------------

// RevivePlayer brings an eliminated player back. A no-op (and no broadcast)
// for players still in the game.
func (s *Session) RevivePlayer(id int) error {
	p := s.Player(id)
	if p == nil {
		return fmt.Errorf("player %d not found", id)
	}
	if !p.IsEliminated {
		return nil
	}
	p.IsEliminated = false
	if p.TimeRemaining == 0 {
		p.SetTime(s.Settings.InitialTime)
	}
	if p.Life <= 0 {
		life := s.mode.StartingLife()
		if life == 0 {
			life = DefaultLife
		}
		p.Life = life
	}
	p.TimeoutPending = false
	p.TimeoutChoiceDeadline = 0
	if s.Status == StatusFinished && !s.IsClosed {
		s.Winner = 0
		s.Status = StatusPaused
	}
	s.Touch()
	s.publishState()
	return nil
}

// KickPlayer evicts the claiming client, eliminates the slot and runs the
// elimination cascade. notify, if non-nil, is invoked with the evicted client
// id before the cascade so the client learns why its connection went quiet.
func (s *Session) KickPlayer(id int, notify func(clientID string)) error {
	p := s.Player(id)
	if p == nil {
		return fmt.Errorf("player %d not found", id)
	}
	evicted := p.ClaimedBy
	p.ClearClaim()
	s.mode.OnPlayerClaimed(id, "")
	if notify != nil && evicted != "" {
		notify(evicted)
	}
	if !p.IsEliminated {
		s.eliminate(p)
	}
	s.publishState()
	return nil
}

// AddPenalty increments the player's penalty count and applies the configured
// consequence.
func (s *Session) AddPenalty(id int) error {
	p := s.Player(id)
	if p == nil {
		return fmt.Errorf("player %d not found", id)
	}
	p.Penalties++
	switch s.Settings.PenaltyType {
	case PenaltyTimeDeduction:
		p.AddTime(-s.Settings.PenaltyTimeDeduction)
		if p.TimeRemaining == 0 && s.Status == StatusRunning {
			s.handleTimeout(p)
		}
	case PenaltyGameLoss:
		if !p.IsEliminated {
			s.eliminate(p)
		}
	}
	s.Touch()
	s.publishState()
	return nil
}

// ---- Player edits -------------------------------------------------------

// PlayerUpdate carries the optional fields of an updatePlayer command.
type PlayerUpdate struct {
	Name           *string `json:"name,omitempty"`
	Time           *int64  `json:"time,omitempty"`
	Life           *int    `json:"life,omitempty"`
	DrunkCounter   *int    `json:"drunkCounter,omitempty"`
	GenericCounter *int    `json:"genericCounter,omitempty"`
	Color          *string `json:"color,omitempty"`
}

// UpdatePlayer applies any subset of player fields with validation, clamping
// and the life-change hook. A life total crossing to zero or below eliminates.
func (s *Session) UpdatePlayer(id int, u PlayerUpdate) error {
	p := s.Player(id)
	if p == nil {
		return fmt.Errorf("player %d not found", id)
	}
	if u.Name != nil {
		if !utils.ValidName(*u.Name, MaxNameLen) {
			return fmt.Errorf("name too long (max %d characters)", MaxNameLen)
		}
		p.Name = utils.SanitizeName(*u.Name, MaxNameLen)
		s.mode.OnPlayerRenamed(id, p.Name)
	}
	if u.Time != nil {
		if *u.Time < 0 || *u.Time > MaxTimeMs {
			return fmt.Errorf("time must be non-negative and at most 24h")
		}
		p.SetTime(*u.Time)
	}
	if u.Color != nil {
		p.Color = *u.Color
	}
	if u.DrunkCounter != nil {
		p.DrunkCounter = utils.ClampInt(*u.DrunkCounter, MinCounter, MaxCounter)
	}
	if u.GenericCounter != nil {
		p.GenericCounter = utils.ClampInt(*u.GenericCounter, MinCounter, MaxCounter)
	}
	if u.Life != nil {
		old, applied := p.SetLife(*u.Life)
		if applied != old {
			s.mode.OnPlayerLifeChanged(s, id, old, applied)
		}
		if applied <= 0 && !p.IsEliminated {
			s.eliminate(p)
		}
	}
	s.Touch()
	s.publishState()
	return nil
}

// ---- Claims -------------------------------------------------------------

// Claim binds a player slot to a client and mints a reconnect token. A client
// claiming a new slot releases any slot it held before.
func (s *Session) Claim(id int, clientID string) (token string, err error) {
	p := s.Player(id)
	if p == nil {
		return "", fmt.Errorf("player %d not found", id)
	}
	if p.ClaimedBy != "" && p.ClaimedBy != clientID {
		return "", ErrAlreadyClaimed
	}
	// Mid-game claims are allowed only for unclaimed, non-eliminated slots.
	if s.Status != StatusWaiting && (p.IsEliminated || (p.ClaimedBy != "" && p.ClaimedBy != clientID)) {
		return "", ErrSlotNotClaimable
	}
	s.Unclaim(clientID)
	p.ClaimedBy = clientID
	token = p.MintToken(s.now())
	s.mode.OnPlayerClaimed(id, clientID)
	s.Touch()
	s.publishState()
	return token, nil
}

// Unclaim releases every slot held by clientID. Returns the released ids.
func (s *Session) Unclaim(clientID string) []int {
	var released []int
	for _, p := range s.Players {
		if p.ClaimedBy == clientID {
			p.ClearClaim()
			s.mode.OnPlayerClaimed(p.ID, "")
			released = append(released, p.ID)
		}
	}
	if len(released) > 0 {
		s.Touch()
		s.publishState()
	}
	return released
}

// Reconnect validates a presented token for the slot and, on success, rotates
// it and rebinds the slot to the presenting client.
func (s *Session) Reconnect(id int, clientID, token string) (newToken string, err error) {
	p := s.Player(id)
	if p == nil {
		return "", fmt.Errorf("player %d not found", id)
	}
	if p.ReconnectToken == "" {
		return "", ErrNoToken
	}
	now := s.now()
	if p.TokenExpired(now) {
		return "", ErrTokenExpired
	}
	if !p.TokenValid(token, now) {
		return "", ErrInvalidToken
	}
	// Like Claim: a client holds at most one slot, so rebinding here
	// releases anything else it picked up while disconnected.
	s.Unclaim(clientID)
	p.ClaimedBy = clientID
	newToken = p.MintToken(now)
	s.mode.OnPlayerClaimed(id, clientID)
	s.Touch()
	return newToken, nil
}

// ClaimedBy returns the id of the player claimed by clientID, or 0.
func (s *Session) ClaimedBy(clientID string) int {
	for _, p := range s.Players {
		if p.ClaimedBy == clientID {
			return p.ID
		}
	}
	return 0
}

// publishState emits the full public snapshot. Clients treat it as
// authoritative and idempotent; it supersedes any partial update.
func (s *Session) publishState() {
	s.publish(Event{Type: EventState, Data: s.PublicState()})
}
