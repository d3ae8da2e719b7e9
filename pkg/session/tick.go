package session

// Timeout choices. Die is the fallback applied when the grace window expires.
const (
	ChoiceLoseLives = "loseLives"
	ChoiceGainDrunk = "gainDrunk"
	ChoiceDie       = "die"
)

// Tick advances the clocks by the wall time elapsed since the previous tick.
// Safe to call at any cadence; long gaps simply consume more time. A no-op
// unless the session is running.
func (s *Session) Tick() {
	if s.Status != StatusRunning {
		return
	}
	now := s.now()
	elapsed := now.Sub(s.lastTick).Milliseconds()
	s.lastTick = now
	if elapsed > 0 {
		for _, id := range s.tickingSet() {
			p := s.Player(id)
			if p == nil || p.IsEliminated || p.TimeoutPending {
				continue
			}
			s.tickPlayer(p, elapsed)
		}
	}

	// Expired grace windows resolve as death regardless of who is ticking.
	nowMs := now.UnixMilli()
	for _, p := range s.Players {
		if p.TimeoutPending && nowMs >= p.TimeoutChoiceDeadline {
			s.resolveTimeoutChoice(p, ChoiceDie)
		}
	}

	if s.Status != StatusRunning {
		return
	}
	times := make(map[int]int64, len(s.Players))
	for _, p := range s.Players {
		times[p.ID] = p.TimeRemaining
	}
	s.publish(Event{Type: EventTick, Data: TickPayload{Times: times}})
}

// tickingSet decides whose clocks consume the elapsed interval:
// interrupt priority first, then simultaneous targeting priority, then the
// active player.
func (s *Session) tickingSet() []int {
	if top := s.interruptTop(); top != 0 {
		return []int{top}
	}
	if s.Targeting.Resolving() && len(s.Targeting.AwaitingPriority) > 0 {
		return append([]int(nil), s.Targeting.AwaitingPriority...)
	}
	if s.ActivePlayer != 0 {
		return []int{s.ActivePlayer}
	}
	return nil
}

func (s *Session) tickPlayer(p *Player, elapsed int64) {
	old := p.TimeRemaining
	rem := old - elapsed
	if rem <= 0 {
		p.TimeRemaining = 0
		s.handleTimeout(p)
		return
	}
	p.TimeRemaining = rem
	// Warnings fire on a strict downward crossing computed from the actual
	// elapsed time, so a long tick cannot skip a threshold.
	for _, t := range s.Settings.WarningThresholds {
		if old > t && t >= rem {
			s.publish(Event{Type: EventWarning, Data: WarningPayload{PlayerID: p.ID, Threshold: t}})
		}
	}
}

// handleTimeout is entered when a clock reaches zero. During targeting
// resolution a timed-out target is eliminated in place and resolution
// continues; otherwise the player gets a grace window to choose a
// consequence.
func (s *Session) handleTimeout(p *Player) {
	s.publish(Event{Type: EventTimeout, Data: TimeoutPayload{PlayerID: p.ID}})

	if s.Targeting.Resolving() && containsInt(s.Targeting.AwaitingPriority, p.ID) {
		s.eliminate(p)
		s.publishState()
		return
	}

	p.TimeoutPending = true
	p.TimeoutChoiceDeadline = s.now().UnixMilli() + s.Settings.TimeoutGracePeriod
	p.Penalties++
	s.publish(Event{Type: EventTimeoutChoice, Data: TimeoutChoicePayload{
		PlayerID: p.ID,
		Options: TimeoutChoiceOptions{
			LivesLoss: s.Settings.TimeoutPenaltyLives,
			DrunkGain: s.Settings.TimeoutPenaltyDrunk,
		},
		Deadline: p.TimeoutChoiceDeadline,
	}})
	s.publishState()
}

// ResolveTimeoutChoice applies the player's (or the deadline's) choice.
func (s *Session) ResolveTimeoutChoice(id int, choice string) error {
	p := s.Player(id)
	if p == nil {
		return errPlayerNotFound(id)
	}
	if !p.TimeoutPending {
		return errNoTimeoutPending(id)
	}
	s.resolveTimeoutChoice(p, choice)
	return nil
}

func (s *Session) resolveTimeoutChoice(p *Player, choice string) {
	p.TimeoutPending = false
	p.TimeoutChoiceDeadline = 0

	switch choice {
	case ChoiceLoseLives:
		old, applied := p.SetLife(p.Life - s.Settings.TimeoutPenaltyLives)
		if applied != old {
			s.mode.OnPlayerLifeChanged(s, p.ID, old, applied)
		}
		p.SetTime(s.Settings.TimeoutBonusTime)
		if applied <= 0 && !p.IsEliminated {
			s.eliminate(p)
		}
	case ChoiceGainDrunk:
		p.DrunkCounter = clampCounter(p.DrunkCounter + s.Settings.TimeoutPenaltyDrunk)
		p.SetTime(s.Settings.TimeoutBonusTime)
	default: // die
		if !p.IsEliminated {
			s.eliminate(p)
		}
	}
	s.lastTick = s.now()
	s.Touch()
	s.publishState()
}

func clampCounter(v int) int {
	if v < MinCounter {
		return MinCounter
	}
	if v > MaxCounter {
		return MaxCounter
	}
	return v
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
