package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTripPausesRunning(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 3
	s, clock, _ := newTestSession(t, st, nil)
	_, err := s.Claim(2, "client-b")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	clock.Advance(1500 * time.Millisecond)
	s.Tick()
	require.NoError(t, s.Interrupt(3))

	raw, err := s.Marshal()
	require.NoError(t, err)

	restored, err := FromSnapshot(mustUnmarshalSnapshot(t, raw), nil, clock.Now)
	require.NoError(t, err)

	// Running comes back paused; everything else is equivalent.
	assert.Equal(t, StatusPaused, restored.Status)
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, s.ActivePlayer, restored.ActivePlayer)
	assert.Equal(t, s.InterruptStack, restored.InterruptStack)
	assert.Equal(t, s.Settings, restored.Settings)
	require.Len(t, restored.Players, 3)
	for i := range s.Players {
		assert.Equal(t, *s.Players[i], *restored.Players[i], "player %d", i+1)
	}
}

func TestSnapshotPreservesTargetingSubState(t *testing.T) {
	st := DefaultSettings()
	st.PlayerCount = 4
	s, clock, _ := newTestSession(t, st, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.StartTargetSelection())
	require.NoError(t, s.ToggleTarget(2))
	require.NoError(t, s.ToggleTarget(4))
	require.NoError(t, s.ConfirmTargets())

	raw, err := s.Marshal()
	require.NoError(t, err)
	restored, err := FromSnapshot(mustUnmarshalSnapshot(t, raw), nil, clock.Now)
	require.NoError(t, err)

	assert.Equal(t, TargetingResolving, restored.Targeting.State())
	assert.Equal(t, []int{2, 4}, restored.Targeting.TargetedPlayers)
	assert.Equal(t, []int{2, 4}, restored.Targeting.AwaitingPriority)
	assert.Equal(t, 1, restored.Targeting.OriginalActivePlayer)
}

func TestSnapshotCarriesTokensAndDeadlines(t *testing.T) {
	st := twoPlayerSettings()
	st.InitialTime = 100
	st.TimeoutGracePeriod = 60000
	s, clock, _ := newTestSession(t, st, nil)
	tok, err := s.Claim(1, "client-a")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	clock.Advance(200 * time.Millisecond)
	s.Tick()
	require.True(t, s.Player(1).TimeoutPending)

	raw, err := s.Marshal()
	require.NoError(t, err)
	restored, err := FromSnapshot(mustUnmarshalSnapshot(t, raw), nil, clock.Now)
	require.NoError(t, err)

	p := restored.Player(1)
	assert.Equal(t, tok, p.ReconnectToken)
	assert.Equal(t, "client-a", p.ClaimedBy)
	assert.True(t, p.TimeoutPending)
	assert.Equal(t, s.Player(1).TimeoutChoiceDeadline, p.TimeoutChoiceDeadline)
}

func TestRestoreGapNotCharged(t *testing.T) {
	s, clock, _ := newTestSession(t, twoPlayerSettings(), nil)
	require.NoError(t, s.Start())
	clock.Advance(time.Second)
	s.Tick()
	raw, err := s.Marshal()
	require.NoError(t, err)

	// The process is down for an hour.
	clock.Advance(time.Hour)
	restored, err := FromSnapshot(mustUnmarshalSnapshot(t, raw), nil, clock.Now)
	require.NoError(t, err)
	require.NoError(t, restored.Resume())
	clock.Advance(100 * time.Millisecond)
	restored.Tick()

	// Only the 100 ms since resume is charged, never the downtime.
	assert.Equal(t, int64(58900), restored.Player(1).TimeRemaining)
}

func TestRestoreUnknownModeFallsBackToCasual(t *testing.T) {
	snap := &Snapshot{ID: "ZZZZZZ", Mode: "speedrun"}
	s, err := FromSnapshot(snap, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeCasual, s.Mode().Name())
	assert.Equal(t, StatusWaiting, s.Status)
}

func TestRestoreLegacySnapshotDefaults(t *testing.T) {
	snap := &Snapshot{
		ID: "OLDONE",
		Players: []*Player{
			{TimeRemaining: 5000},
			{ID: 2, Name: "Kept", TimeRemaining: -3},
		},
	}
	s, err := FromSnapshot(snap, nil, nil)
	require.NoError(t, err)

	p1 := s.Player(1)
	assert.Equal(t, 1, p1.ID)
	assert.Equal(t, "Player 1", p1.Name)
	assert.Equal(t, DefaultLife, p1.Life)

	p2 := s.Player(2)
	assert.Equal(t, "Kept", p2.Name)
	assert.Equal(t, int64(0), p2.TimeRemaining)
}

func TestRestoreWipesOrphanedToken(t *testing.T) {
	snap := &Snapshot{
		ID: "ORPHAN",
		Players: []*Player{
			{ID: 1, ReconnectToken: "deadbeef", TokenExpiry: 99},
			{ID: 2},
		},
	}
	s, err := FromSnapshot(snap, nil, nil)
	require.NoError(t, err)
	// Token without a claim is unreachable; it must not survive restore.
	assert.Empty(t, s.Player(1).ReconnectToken)
	assert.Zero(t, s.Player(1).TokenExpiry)
}

func TestSnapshotMissingIDRejected(t *testing.T) {
	_, err := FromSnapshot(&Snapshot{}, nil, nil)
	assert.Error(t, err)
}

func TestPublicStateHidesTokens(t *testing.T) {
	s, _, _ := newTestSession(t, twoPlayerSettings(), nil)
	_, err := s.Claim(1, "client-a")
	require.NoError(t, err)

	raw, err := json.Marshal(s.PublicState())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "reconnectToken")
	assert.NotContains(t, string(raw), "tokenExpiry")
	assert.NotContains(t, string(raw), "client-a")
	// Penalty counts and choice deadlines are persisted-only bookkeeping.
	assert.NotContains(t, string(raw), "penalties")
	assert.NotContains(t, string(raw), "timeoutChoiceDeadline")

	var ps PublicState
	require.NoError(t, json.Unmarshal(raw, &ps))
	assert.True(t, ps.Players[0].IsClaimed)
	assert.False(t, ps.Players[1].IsClaimed)
}

func mustUnmarshalSnapshot(t *testing.T, raw []byte) *Snapshot {
	t.Helper()
	snap := &Snapshot{}
	require.NoError(t, json.Unmarshal(raw, snap))
	return snap
}
