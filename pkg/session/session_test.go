package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock so tick math is deterministic.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// recorder captures emitted events in order.
type recorder struct {
	events []Event
}

func (r *recorder) emit(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() { r.events = nil }

func newTestSession(t *testing.T, settings Settings, mode Mode) (*Session, *fakeClock, *recorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &recorder{}
	s, err := New(Config{
		ID:       "TEST42",
		Name:     "test game",
		OwnerID:  "owner-client",
		Settings: settings,
		Mode:     mode,
		Emit:     rec.emit,
		Clock:    clock.Now,
	})
	require.NoError(t, err)
	return s, clock, rec
}

func twoPlayerSettings() Settings {
	st := DefaultSettings()
	st.PlayerCount = 2
	st.InitialTime = 60000
	return st
}

func TestNewSessionInitialState(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	assert.Equal(t, StatusWaiting, s.Status)
	assert.Equal(t, 0, s.ActivePlayer)
	require.Len(t, s.Players, 2)
	assert.Equal(t, "Player 1", s.Players[0].Name)
	assert.Equal(t, int64(60000), s.Players[0].TimeRemaining)
	assert.Equal(t, DefaultLife, s.Players[0].Life)
}

func TestStartSeatsFirstAlivePlayer(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, 1, s.ActivePlayer)
}

func TestStartFromFinishedRejected(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Eliminate(1))
	require.Equal(t, StatusFinished, s.Status)
	assert.Error(t, s.Start())
}

func TestPauseResumeFreezesClock(t *testing.T) {
	s, clock, _ := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	clock.Advance(500 * time.Millisecond)
	s.Tick()
	require.Equal(t, int64(59500), s.Players[0].TimeRemaining)

	require.NoError(t, s.Pause())
	clock.Advance(10 * time.Second)
	s.Tick() // no-op while paused
	assert.Equal(t, int64(59500), s.Players[0].TimeRemaining)

	require.NoError(t, s.Resume())
	clock.Advance(100 * time.Millisecond)
	s.Tick()
	// The paused gap is not charged; only time since resume.
	assert.Equal(t, int64(59400), s.Players[0].TimeRemaining)
}

func TestSwitchPlayerCreditsBonus(t *testing.T) {
	st := twoPlayerSettings()
	st.BonusTime = 5000
	s, clock, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	clock.Advance(1100 * time.Millisecond)
	s.Tick()

	require.NoError(t, s.SwitchPlayer(2))
	assert.Equal(t, 2, s.ActivePlayer)
	assert.Equal(t, int64(58900), s.Players[0].TimeRemaining)
	assert.Equal(t, int64(65000), s.Players[1].TimeRemaining)
}

func TestSwitchToEliminatedRejected(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	s, _, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Eliminate(2))
	assert.Error(t, s.SwitchPlayer(2))
}

func TestInterruptStackLIFOWithDuplicates(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	s, _, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())

	require.NoError(t, s.Interrupt(2))
	require.NoError(t, s.Interrupt(3))
	require.NoError(t, s.Interrupt(2))
	assert.Equal(t, []int{2, 3, 2}, s.InterruptStack)

	// Pop removes the last occurrence.
	require.NoError(t, s.PassPriority(2))
	assert.Equal(t, []int{2, 3}, s.InterruptStack)
	require.NoError(t, s.PassPriority(3))
	require.NoError(t, s.PassPriority(2))
	assert.Empty(t, s.InterruptStack)

	assert.Error(t, s.PassPriority(2))
}

func TestInterruptPushPopRoundTrip(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	s, _, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Interrupt(3))
	before := append([]int(nil), s.InterruptStack...)

	require.NoError(t, s.Interrupt(2))
	require.NoError(t, s.PassPriority(2))
	assert.Equal(t, before, s.InterruptStack)
}

func TestEliminationAdvancesToNextAliveByID(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 4
	s, _, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Eliminate(2))
	require.Equal(t, 1, s.ActivePlayer)

	// Active player eliminated: turn passes to the next alive id after it,
	// skipping the hole at 2.
	require.NoError(t, s.Eliminate(1))
	assert.Equal(t, 3, s.ActivePlayer)
	assert.Equal(t, StatusRunning, s.Status)
}

func TestEliminationWrapsAround(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 4
	s, _, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.SwitchPlayer(4))
	require.NoError(t, s.Eliminate(4))
	assert.Equal(t, 1, s.ActivePlayer)
}

func TestLastPlayerStandingWins(t *testing.T) {
	s, _, rec := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Eliminate(1))

	assert.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, 2, s.Winner)
	complete := rec.ofType(EventGameComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, GameCompletePayload{WinnerID: 2}, complete[0].Data)
}

func TestEliminateAlreadyEliminatedIsNoop(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	s, _, rec := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Eliminate(3))
	rec.reset()
	require.NoError(t, s.Eliminate(3))
	assert.Equal(t, StatusRunning, s.Status)
}

func TestReviveRestoresAndReopensGame(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Eliminate(1))
	require.Equal(t, StatusFinished, s.Status)

	require.NoError(t, s.RevivePlayer(1))
	assert.False(t, s.Players[0].IsEliminated)
	assert.Equal(t, StatusPaused, s.Status)
	assert.Equal(t, 0, s.Winner)
}

func TestReviveNonEliminatedIsSilentNoop(t *testing.T) {
	s, _, rec := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	rec.reset()
	require.NoError(t, s.RevivePlayer(2))
	assert.Empty(t, rec.events)
}

func TestClaimMintsTokenAndReclaimRotates(t *testing.T) {
	s, clock, _ := newTestSession(t, twoPlayerSettings(), nil)

	tok1, err := s.Claim(1, "client-a")
	require.NoError(t, err)
	require.NotEmpty(t, tok1)
	p := s.Player(1)
	assert.Equal(t, "client-a", p.ClaimedBy)
	assert.Greater(t, p.TokenExpiry, clock.Now().UnixMilli())

	// Claim by another client is refused.
	_, err = s.Claim(1, "client-b")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// Unclaim then re-claim yields a fresh token.
	released := s.Unclaim("client-a")
	assert.Equal(t, []int{1}, released)
	assert.Empty(t, p.ReconnectToken)

	tok2, err := s.Claim(1, "client-a")
	require.NoError(t, err)
	assert.NotEqual(t, tok1, tok2)
}

func TestClaimSecondSlotReleasesFirst(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	_, err := s.Claim(1, "client-a")
	require.NoError(t, err)
	_, err = s.Claim(2, "client-a")
	require.NoError(t, err)

	assert.Empty(t, s.Players[0].ClaimedBy)
	assert.Equal(t, "client-a", s.Players[1].ClaimedBy)
	assert.Equal(t, 2, s.ClaimedBy("client-a"))
}

func TestMidGameClaimOnlyUnclaimedAlive(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	s, _, _ := newTestSession(t, st, nil)
	_, err := s.Claim(1, "client-a")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Eliminate(3))

	_, err = s.Claim(2, "client-b") // unclaimed, alive: allowed
	assert.NoError(t, err)
	_, err = s.Claim(3, "client-c") // eliminated
	assert.ErrorIs(t, err, ErrSlotNotClaimable)
}

func TestReconnectRotatesToken(t *testing.T) {
	s, clock, _ := newTestSession(t, twoPlayerSettings(), nil)
	tok, err := s.Claim(1, "client-a")
	require.NoError(t, err)

	newTok, err := s.Reconnect(1, "client-a2", tok)
	require.NoError(t, err)
	assert.NotEqual(t, tok, newTok)
	assert.Equal(t, "client-a2", s.Player(1).ClaimedBy)

	// The old token is spent.
	_, err = s.Reconnect(1, "client-a3", tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Tokens expire after their TTL.
	clock.Advance(2 * time.Hour)
	_, err = s.Reconnect(1, "client-a4", newTok)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestReconnectReleasesOtherSlot(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	tok, err := s.Claim(2, "client-a")
	require.NoError(t, err)

	// Connection drops: the claim is released but the token stays live.
	s.Player(2).ClaimedBy = ""

	// The returning client grabs another seat first, then reconnects to the
	// old one. The old seat wins; the interim seat is released so the client
	// never holds two slots.
	_, err = s.Claim(1, "client-a")
	require.NoError(t, err)
	_, err = s.Reconnect(2, "client-a", tok)
	require.NoError(t, err)

	assert.Equal(t, 2, s.ClaimedBy("client-a"))
	assert.Empty(t, s.Player(1).ClaimedBy)
	assert.Empty(t, s.Player(1).ReconnectToken)
}

func TestKickPlayerEvictsAndEliminates(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	s, _, _ := newTestSession(t, st, nil)
	_, err := s.Claim(2, "client-b")
	require.NoError(t, err)
	require.NoError(t, s.Start())

	var evicted string
	require.NoError(t, s.KickPlayer(2, func(clientID string) { evicted = clientID }))
	assert.Equal(t, "client-b", evicted)
	p := s.Player(2)
	assert.True(t, p.IsEliminated)
	assert.Empty(t, p.ClaimedBy)
	assert.Empty(t, p.ReconnectToken)
}

func TestUpdatePlayerClampsAndEliminatesOnZeroLife(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())

	name := "Alice & Bob"
	life := 0
	require.NoError(t, s.UpdatePlayer(2, PlayerUpdate{Name: &name, Life: &life}))
	p := s.Player(2)
	assert.Equal(t, "Alice &amp; Bob", p.Name)
	assert.True(t, p.IsEliminated)
	assert.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, 1, s.Winner)
}

func TestUpdatePlayerRejectsOutOfRangeTime(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	bad := MaxTimeMs + 1
	assert.Error(t, s.UpdatePlayer(1, PlayerUpdate{Time: &bad}))
	neg := int64(-1)
	assert.Error(t, s.UpdatePlayer(1, PlayerUpdate{Time: &neg}))
}

func TestResetKeepsClaimsClearsClocks(t *testing.T) {
	s, clock, _ := newTestSession(t, twoPlayerSettings(), nil)
	tok, err := s.Claim(1, "client-a")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	clock.Advance(time.Second)
	s.Tick()
	require.NoError(t, s.Eliminate(2))

	s.Reset()
	assert.Equal(t, StatusWaiting, s.Status)
	assert.Equal(t, 0, s.ActivePlayer)
	assert.Equal(t, 0, s.Winner)
	for _, p := range s.Players {
		assert.Equal(t, int64(60000), p.TimeRemaining)
		assert.False(t, p.IsEliminated)
	}
	// Claims and tokens survive a reset.
	assert.Equal(t, "client-a", s.Player(1).ClaimedBy)
	assert.Equal(t, tok, s.Player(1).ReconnectToken)
}

func TestAddPenaltyTimeDeduction(t *testing.T) {
	st := twoPlayerSettings()
	st.PenaltyType = PenaltyTimeDeduction
	st.PenaltyTimeDeduction = 10000
	s, _, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())

	require.NoError(t, s.AddPenalty(1))
	assert.Equal(t, 1, s.Player(1).Penalties)
	assert.Equal(t, int64(50000), s.Player(1).TimeRemaining)
}

func TestAddPenaltyGameLoss(t *testing.T) {
	st := twoPlayerSettings()
	st.PenaltyType = PenaltyGameLoss
	s, _, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())

	require.NoError(t, s.AddPenalty(1))
	assert.True(t, s.Player(1).IsEliminated)
	assert.Equal(t, 2, s.Winner)
}

func TestRenameSanitizesAndBroadcasts(t *testing.T) {
	s, _, rec := newTestSession(t, twoPlayerSettings(), nil)
	rec.reset()
	require.NoError(t, s.Rename(`Friday <night> "games"`))
	assert.Equal(t, "Friday &lt;night&gt; &quot;games&quot;", s.Name)
	require.Len(t, rec.ofType(EventGameRenamed), 1)
}

func TestSettingsValidation(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 1
	assert.Error(t, st.Validate())
	st.PlayerCount = 9
	assert.Error(t, st.Validate())

	st = DefaultSettings()
	st.InitialTime = 0
	assert.Error(t, st.Validate())
	st.InitialTime = MaxTimeMs + 1
	assert.Error(t, st.Validate())

	st = DefaultSettings()
	st.WarningThresholds = nil
	assert.Error(t, st.Validate())

	// Ten thresholds pass, eleven do not.
	st = DefaultSettings()
	st.WarningThresholds = make([]int64, 10)
	for i := range st.WarningThresholds {
		st.WarningThresholds[i] = int64((i + 1) * 1000)
	}
	assert.NoError(t, st.Validate())
	st.WarningThresholds = append(st.WarningThresholds, 11000)
	assert.Error(t, st.Validate())
}

func TestUpdateSettingsMergesValidatedFields(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	bonus := int64(3000)
	lives := 2
	require.NoError(t, s.UpdateSettings(SettingsUpdate{
		WarningThresholds:   []int64{5000},
		BonusTime:           &bonus,
		TimeoutPenaltyLives: &lives,
	}))
	assert.Equal(t, []int64{5000}, s.Settings.WarningThresholds)
	assert.Equal(t, int64(3000), s.Settings.BonusTime)
	assert.Equal(t, 2, s.Settings.TimeoutPenaltyLives)

	assert.Error(t, s.UpdateSettings(SettingsUpdate{WarningThresholds: []int64{}}))
}
