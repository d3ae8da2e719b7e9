package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickOnlyChargesActivePlayer(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 4
	s, clock, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())

	before := make(map[int]int64)
	for _, p := range s.Players {
		before[p.ID] = p.TimeRemaining
	}
	clock.Advance(250 * time.Millisecond)
	s.Tick()

	assert.Equal(t, before[1]-250, s.Player(1).TimeRemaining)
	for id := 2; id <= 4; id++ {
		assert.Equal(t, before[id], s.Player(id).TimeRemaining, "player %d", id)
	}
}

func TestTickUsesElapsedNotInterval(t *testing.T) {
	s, clock, _ := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())

	// A long gap between ticks consumes the full gap, not one interval.
	clock.Advance(3700 * time.Millisecond)
	s.Tick()
	assert.Equal(t, int64(56300), s.Player(1).TimeRemaining)
}

func TestTickEmitsTimesForAllPlayers(t *testing.T) {
	s, clock, rec := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	rec.reset()
	clock.Advance(100 * time.Millisecond)
	s.Tick()

	ticks := rec.ofType(EventTick)
	require.Len(t, ticks, 1)
	payload := ticks[0].Data.(TickPayload)
	assert.Equal(t, int64(59900), payload.Times[1])
	assert.Equal(t, int64(60000), payload.Times[2])
}

func TestInterruptHolderTicksInsteadOfActive(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	s, clock, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Interrupt(3))

	clock.Advance(400 * time.Millisecond)
	s.Tick()
	assert.Equal(t, st.InitialTime, s.Player(1).TimeRemaining)
	assert.Equal(t, st.InitialTime-400, s.Player(3).TimeRemaining)

	// Priority returns to the active player once the stack empties.
	require.NoError(t, s.PassPriority(3))
	clock.Advance(300 * time.Millisecond)
	s.Tick()
	assert.Equal(t, st.InitialTime-300, s.Player(1).TimeRemaining)
	assert.Equal(t, st.InitialTime-400, s.Player(3).TimeRemaining)
}

func TestWarningFiredOnceOnDownwardCrossing(t *testing.T) {
	st := twoPlayerSettings()
	st.InitialTime = 31000
	st.WarningThresholds = []int64{30000}
	s, clock, rec := newTestSession(t, st, nil)
	require.NoError(t, s.Start())

	for i := 0; i < 12; i++ {
		clock.Advance(100 * time.Millisecond)
		s.Tick()
	}
	warnings := rec.ofType(EventWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarningPayload{PlayerID: 1, Threshold: 30000}, warnings[0].Data)

	// Further ticks below the threshold stay quiet.
	clock.Advance(500 * time.Millisecond)
	s.Tick()
	assert.Len(t, rec.ofType(EventWarning), 1)
}

func TestWarningNotSkippedByLongTick(t *testing.T) {
	st := twoPlayerSettings()
	st.InitialTime = 65000
	st.WarningThresholds = []int64{60000, 30000}
	s, clock, rec := newTestSession(t, st, nil)
	require.NoError(t, s.Start())

	// One giant tick jumps over both thresholds; both must still fire.
	clock.Advance(40 * time.Second)
	s.Tick()
	warnings := rec.ofType(EventWarning)
	require.Len(t, warnings, 2)
	assert.Equal(t, int64(60000), warnings[0].Data.(WarningPayload).Threshold)
	assert.Equal(t, int64(30000), warnings[1].Data.(WarningPayload).Threshold)
}

func TestTimeoutEntersGraceWindow(t *testing.T) {
	st := twoPlayerSettings()
	st.InitialTime = 100
	st.TimeoutGracePeriod = 5000
	st.TimeoutBonusTime = 30000
	st.TimeoutPenaltyDrunk = 2
	s, clock, rec := newTestSession(t, st, nil)
	require.NoError(t, s.Start())

	clock.Advance(250 * time.Millisecond)
	s.Tick()

	p := s.Player(1)
	assert.Equal(t, int64(0), p.TimeRemaining)
	assert.True(t, p.TimeoutPending)
	assert.Equal(t, 1, p.Penalties)
	assert.False(t, p.IsEliminated)

	choices := rec.ofType(EventTimeoutChoice)
	require.Len(t, choices, 1)
	payload := choices[0].Data.(TimeoutChoicePayload)
	assert.Equal(t, 1, payload.PlayerID)
	assert.Equal(t, 2, payload.Options.DrunkGain)
	assert.Equal(t, clock.Now().UnixMilli()+5000, payload.Deadline)
}

func TestTimeoutChoiceGainDrunk(t *testing.T) {
	st := twoPlayerSettings()
	st.InitialTime = 100
	st.TimeoutGracePeriod = 5000
	st.TimeoutBonusTime = 30000
	st.TimeoutPenaltyDrunk = 2
	s, clock, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	clock.Advance(250 * time.Millisecond)
	s.Tick()

	require.NoError(t, s.ResolveTimeoutChoice(1, ChoiceGainDrunk))
	p := s.Player(1)
	assert.False(t, p.TimeoutPending)
	assert.Equal(t, int64(30000), p.TimeRemaining)
	assert.Equal(t, 2, p.DrunkCounter)
	assert.False(t, p.IsEliminated)
	assert.Equal(t, StatusRunning, s.Status)
}

func TestTimeoutChoiceLoseLivesCanEliminate(t *testing.T) {
	st := twoPlayerSettings()
	st.InitialTime = 100
	st.TimeoutPenaltyLives = 1
	st.TimeoutBonusTime = 60000
	s, clock, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	s.Player(1).Life = 1
	clock.Advance(200 * time.Millisecond)
	s.Tick()

	require.NoError(t, s.ResolveTimeoutChoice(1, ChoiceLoseLives))
	p := s.Player(1)
	assert.Equal(t, 0, p.Life)
	assert.True(t, p.IsEliminated)
	assert.Equal(t, 2, s.Winner)
}

func TestTimeoutDeadlineDefaultsToDie(t *testing.T) {
	st := twoPlayerSettings()
	st.InitialTime = 100
	st.TimeoutGracePeriod = 2000
	s, clock, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	clock.Advance(150 * time.Millisecond)
	s.Tick()
	require.True(t, s.Player(1).TimeoutPending)

	// Grace window expires without an answer.
	clock.Advance(2500 * time.Millisecond)
	s.Tick()
	assert.True(t, s.Player(1).IsEliminated)
	assert.Equal(t, 2, s.Winner)
	assert.Equal(t, StatusFinished, s.Status)
}

func TestResolveChoiceWithoutPendingRejected(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	assert.Error(t, s.ResolveTimeoutChoice(1, ChoiceDie))
}

func TestPendingPlayerClockFrozen(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	st.InitialTime = 100
	st.TimeoutGracePeriod = 60000
	s, clock, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	clock.Advance(150 * time.Millisecond)
	s.Tick()
	require.True(t, s.Player(1).TimeoutPending)

	// While the choice is pending the pending player's clock stays at zero
	// and no further timeouts fire for it.
	clock.Advance(time.Second)
	s.Tick()
	assert.Equal(t, int64(0), s.Player(1).TimeRemaining)
	assert.Equal(t, 1, s.Player(1).Penalties)
}
