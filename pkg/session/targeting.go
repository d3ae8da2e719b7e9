package session

import (
	"fmt"

	"github.com/manaclock/manaclock/pkg/statemachine"
)

// Targeting state names.
const (
	TargetingNone      = "none"
	TargetingSelecting = "selecting"
	TargetingResolving = "resolving"
)

// TargetingStateFn is a targeting sub-state function.
type TargetingStateFn = statemachine.StateFn[Targeting]

// Targeting is the sub-state for simultaneous-priority resolution: the active
// player picks a set of targets, then every target's clock runs until each
// passes priority or is eliminated.
type Targeting struct {
	TargetedPlayers      []int `json:"targetedPlayers"`
	AwaitingPriority     []int `json:"awaitingPriority"`
	OriginalActivePlayer int   `json:"originalActivePlayer"`

	state   string
	machine *statemachine.Machine[Targeting]
}

// Targeting state functions. Each state is inert on dispatch; transitions are
// driven by the session operations below.

func targetingStateNone(t *Targeting) TargetingStateFn      { return targetingStateNone }
func targetingStateSelecting(t *Targeting) TargetingStateFn { return targetingStateSelecting }
func targetingStateResolving(t *Targeting) TargetingStateFn { return targetingStateResolving }

// State returns the targeting state name.
func (t *Targeting) State() string {
	if t.state == "" {
		return TargetingNone
	}
	return t.state
}

// Resolving reports whether targets currently hold simultaneous priority.
func (t *Targeting) Resolving() bool { return t.State() == TargetingResolving }

// Selecting reports whether the active player is picking targets.
func (t *Targeting) Selecting() bool { return t.State() == TargetingSelecting }

func (s *Session) initTargeting() {
	s.Targeting.state = TargetingNone
	s.Targeting.machine = statemachine.New(&s.Targeting, targetingStateNone)
}

func (s *Session) resetTargeting() {
	s.Targeting.TargetedPlayers = nil
	s.Targeting.AwaitingPriority = nil
	s.Targeting.OriginalActivePlayer = 0
	s.setTargetingState(TargetingNone)
}

// setTargetingState moves the machine and the name together. Unknown names
// fall back to none.
func (s *Session) setTargetingState(state string) {
	switch state {
	case TargetingSelecting:
		s.Targeting.state = TargetingSelecting
		s.Targeting.machine.Set(targetingStateSelecting)
	case TargetingResolving:
		s.Targeting.state = TargetingResolving
		s.Targeting.machine.Set(targetingStateResolving)
	default:
		s.Targeting.state = TargetingNone
		s.Targeting.machine.Set(targetingStateNone)
	}
}

// StartTargetSelection enters selecting. Requires a running session with no
// targeting in progress.
func (s *Session) StartTargetSelection() error {
	if s.Status != StatusRunning {
		return fmt.Errorf("targeting requires a running session")
	}
	if s.Targeting.State() != TargetingNone {
		return fmt.Errorf("targeting already in progress")
	}
	s.Targeting.TargetedPlayers = nil
	s.setTargetingState(TargetingSelecting)
	s.Touch()
	s.publishState()
	return nil
}

// ToggleTarget flips membership of id in the target set during selection.
func (s *Session) ToggleTarget(id int) error {
	if !s.Targeting.Selecting() {
		return fmt.Errorf("not selecting targets")
	}
	p := s.Player(id)
	if p == nil {
		return errPlayerNotFound(id)
	}
	if id == s.ActivePlayer {
		return fmt.Errorf("cannot target the active player")
	}
	if p.IsEliminated {
		return fmt.Errorf("cannot target an eliminated player")
	}
	for i, t := range s.Targeting.TargetedPlayers {
		if t == id {
			s.Targeting.TargetedPlayers = append(s.Targeting.TargetedPlayers[:i], s.Targeting.TargetedPlayers[i+1:]...)
			s.Touch()
			s.publishState()
			return nil
		}
	}
	s.Targeting.TargetedPlayers = append(s.Targeting.TargetedPlayers, id)
	s.Touch()
	s.publishState()
	return nil
}

// ConfirmTargets moves selecting -> resolving. The active player is unchanged;
// every target's clock starts consuming time simultaneously.
func (s *Session) ConfirmTargets() error {
	if !s.Targeting.Selecting() {
		return fmt.Errorf("not selecting targets")
	}
	if len(s.Targeting.TargetedPlayers) == 0 {
		return fmt.Errorf("no targets selected")
	}
	s.Targeting.OriginalActivePlayer = s.ActivePlayer
	s.Targeting.AwaitingPriority = append([]int(nil), s.Targeting.TargetedPlayers...)
	s.setTargetingState(TargetingResolving)
	s.lastTick = s.now()
	s.Touch()
	s.publishState()
	return nil
}

// PassTargetPriority removes id from the awaiting set; when the set empties,
// targeting completes.
func (s *Session) PassTargetPriority(id int) error {
	if !s.Targeting.Resolving() {
		return fmt.Errorf("no targeting resolution in progress")
	}
	if !containsInt(s.Targeting.AwaitingPriority, id) {
		return fmt.Errorf("player %d is not awaiting priority", id)
	}
	s.removeAwaiting(id)
	if len(s.Targeting.AwaitingPriority) == 0 {
		s.completeTargeting()
	}
	s.Touch()
	s.publishState()
	return nil
}

// CancelTargeting aborts from any non-none state and restores the original
// active player.
func (s *Session) CancelTargeting() error {
	if s.Targeting.State() == TargetingNone {
		return fmt.Errorf("no targeting in progress")
	}
	if s.Targeting.OriginalActivePlayer != 0 {
		s.ActivePlayer = s.Targeting.OriginalActivePlayer
	}
	s.resetTargeting()
	s.lastTick = s.now()
	s.Touch()
	s.publishState()
	return nil
}

// handleEliminatedTarget drops an eliminated player from both targeting sets
// and completes resolution if nobody is left awaiting.
func (s *Session) handleEliminatedTarget(id int) {
	for i, t := range s.Targeting.TargetedPlayers {
		if t == id {
			s.Targeting.TargetedPlayers = append(s.Targeting.TargetedPlayers[:i], s.Targeting.TargetedPlayers[i+1:]...)
			break
		}
	}
	s.removeAwaiting(id)
	if s.Targeting.Resolving() && len(s.Targeting.AwaitingPriority) == 0 {
		s.completeTargeting()
	}
}

func (s *Session) removeAwaiting(id int) {
	for i, t := range s.Targeting.AwaitingPriority {
		if t == id {
			s.Targeting.AwaitingPriority = append(s.Targeting.AwaitingPriority[:i], s.Targeting.AwaitingPriority[i+1:]...)
			return
		}
	}
}

// completeTargeting returns to normal turn play with the original active
// player's clock running.
func (s *Session) completeTargeting() {
	if s.Targeting.OriginalActivePlayer != 0 {
		s.ActivePlayer = s.Targeting.OriginalActivePlayer
	}
	s.resetTargeting()
	s.lastTick = s.now()
}

func errPlayerNotFound(id int) error {
	return fmt.Errorf("player %d not found", id)
}

func errNoTimeoutPending(id int) error {
	return fmt.Errorf("player %d has no pending timeout", id)
}
