package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/davecgh/go-spew/spew"

	"github.com/manaclock/manaclock/pkg/coordinator"
	"github.com/manaclock/manaclock/pkg/session"
)

// Command is the inbound envelope. Data is decoded per command type.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Payloads for commands whose data is more than a bare player id.

type joinParams struct {
	GameID string `json:"gameId"`
}

type claimParams struct {
	PlayerID int `json:"playerId"`
}

type reconnectParams struct {
	GameID   string `json:"gameId"`
	PlayerID int    `json:"playerId"`
	Token    string `json:"token"`
}

type playerIDParams struct {
	PlayerID int `json:"playerId"`
}

type renameParams struct {
	Name string `json:"name"`
}

type updatePlayerParams struct {
	PlayerID int `json:"playerId"`
	session.PlayerUpdate
}

type timeoutChoiceParams struct {
	PlayerID int    `json:"playerId"`
	Choice   string `json:"choice"`
}

// knownCommands fixes the metric label vocabulary; anything else is counted
// as "unknown" so client input cannot mint label values.
var knownCommands = map[string]bool{
	"create": true, "join": true, "reconnect": true,
	"claim": true, "unclaim": true,
	"start": true, "pause": true, "resume": true, "reset": true, "endGame": true,
	"switch": true, "switchPlayer": true,
	"interrupt": true, "passPriority": true,
	"renameGame": true, "updateSettings": true, "updatePlayer": true,
	"addPenalty": true, "eliminate": true, "revivePlayer": true, "kickPlayer": true,
	"startTargetSelection": true, "toggleTarget": true, "confirmTargets": true,
	"passTargetPriority": true, "cancelTargeting": true,
	"resolveTimeoutChoice": true,
}

// HandleCommand decodes and dispatches one inbound message for a client. All
// rejections surface as an error event to that client only; broadcasts happen
// through the session's emit hook inside the coordinator section.
func (s *Server) HandleCommand(clientID string, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Type == "" {
		s.reject(clientID, "invalid", ErrInvalidPayload)
		return
	}
	if knownCommands[cmd.Type] {
		commandsTotal.WithLabelValues(cmd.Type).Inc()
	} else {
		commandsTotal.WithLabelValues("unknown").Inc()
	}

	var err error
	switch cmd.Type {
	case "create":
		err = s.handleCreate(clientID, cmd.Data)
	case "join":
		err = s.handleJoin(clientID, cmd.Data)
	case "reconnect":
		err = s.handleReconnect(clientID, cmd.Data)
	default:
		err = s.handleSessionCommand(clientID, cmd)
	}
	if err != nil {
		s.reject(clientID, cmd.Type, err)
	}
}

func (s *Server) reject(clientID, cmdType string, err error) {
	commandErrors.WithLabelValues(errorKind(err)).Inc()
	s.log.Debugf("Rejected %s from %s: %v", cmdType, clientID, err)
	s.sendToClient(clientID, errorEvent(err))
}

func (s *Server) handleCreate(clientID string, data json.RawMessage) error {
	if s.Draining() {
		return ErrDraining
	}
	var params CreateParams
	if len(data) > 0 {
		if err := json.Unmarshal(data, &params); err != nil {
			return ErrInvalidPayload
		}
	}
	sess, err := s.CreateSession(context.Background(), clientID, params)
	if err != nil {
		if errors.Is(err, ErrIDExhausted) {
			return err
		}
		s.log.Debugf("Create from %s failed: %v; params: %s", clientID, err, spew.Sdump(params))
		return ErrInvalidPayload
	}
	s.attachClient(clientID, sess.ID)
	var state session.PublicState
	_ = s.coord.Run(sess.ID, func() error {
		state = sess.PublicState()
		return nil
	})
	s.sendToClient(clientID, session.Event{Type: session.EventState, Data: state})
	return nil
}

func (s *Server) handleJoin(clientID string, data json.RawMessage) error {
	var params joinParams
	if err := json.Unmarshal(data, &params); err != nil || params.GameID == "" {
		return ErrInvalidPayload
	}
	sess, err := s.ensureLoaded(params.GameID)
	if err != nil {
		return err
	}
	s.attachClient(clientID, sess.ID)
	var state session.PublicState
	runErr := s.coord.Run(sess.ID, func() error {
		// A session restored from an older snapshot may have no owner on
		// record; the first joiner adopts it.
		if sess.OwnerID == "" {
			sess.OwnerID = clientID
			s.saveCritical(sess)
		}
		sess.Touch()
		state = sess.PublicState()
		return nil
	})
	if runErr != nil {
		return coordErr(runErr)
	}
	s.sendToClient(clientID, session.Event{Type: session.EventState, Data: state})
	return nil
}

func (s *Server) handleReconnect(clientID string, data json.RawMessage) error {
	var params reconnectParams
	if err := json.Unmarshal(data, &params); err != nil || params.GameID == "" || params.Token == "" {
		return ErrInvalidPayload
	}
	sess, err := s.ensureLoaded(params.GameID)
	if err != nil {
		return err
	}
	var newToken string
	var state session.PublicState
	runErr := s.coord.Run(sess.ID, func() error {
		tok, err := sess.Reconnect(params.PlayerID, clientID, params.Token)
		if err != nil {
			return mapTokenErr(err)
		}
		newToken = tok
		state = sess.PublicState()
		s.writeThrough(sess)
		return nil
	})
	if runErr != nil {
		return coordErr(runErr)
	}
	s.attachClient(clientID, sess.ID)
	s.sendToClient(clientID, session.Event{Type: EventReconnected, Data: ReconnectedPayload{
		PlayerID: params.PlayerID,
		Token:    newToken,
		GameID:   sess.ID,
	}})
	s.sendToClient(clientID, session.Event{Type: session.EventState, Data: state})
	return nil
}

// handleSessionCommand covers every command addressed to the client's current
// session. Authorization is re-checked inside the section, where the claim
// map cannot shift under us.
func (s *Server) handleSessionCommand(clientID string, cmd Command) error {
	sessionID := s.clientSessionID(clientID)
	if sessionID == "" {
		return ErrNotInGame
	}
	sess, err := s.ensureLoaded(sessionID)
	if err != nil {
		return err
	}

	var private []session.Event
	runErr := s.coord.Run(sessionID, func() error {
		evs, err := s.applyCommand(sess, clientID, cmd)
		if err != nil {
			return err
		}
		private = evs
		sess.Touch()
		s.writeThrough(sess)
		return nil
	})
	if runErr != nil {
		return coordErr(runErr)
	}
	for _, ev := range private {
		s.sendToClient(clientID, ev)
	}
	return nil
}

// applyCommand runs one authorized mutation. It returns events that go only
// to the calling client; everything else broadcasts via the emit hook.
func (s *Server) applyCommand(sess *session.Session, clientID string, cmd Command) ([]session.Event, error) {
	isOwner := sess.OwnerID == clientID
	claimed := sess.ClaimedBy(clientID)

	switch cmd.Type {
	case "claim":
		var p claimParams
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, ErrInvalidPayload
		}
		token, err := sess.Claim(p.PlayerID, clientID)
		if err != nil {
			return nil, mapClaimErr(err)
		}
		s.saveCritical(sess)
		return []session.Event{{Type: EventClaimed, Data: ClaimedPayload{
			PlayerID: p.PlayerID,
			Token:    token,
			GameID:   sess.ID,
		}}}, nil

	case "unclaim":
		sess.Unclaim(clientID)
		return nil, nil

	case "start":
		if !isOwner && claimed == 0 {
			return nil, ErrNotAuthorized
		}
		var err error
		if sess.Status == session.StatusPaused {
			err = sess.Resume()
		} else {
			err = sess.Start()
		}
		if err != nil {
			return nil, ErrInvalidPayload
		}
		s.saveCritical(sess)
		return nil, nil

	case "pause":
		if !isOwner && claimed == 0 {
			return nil, ErrNotAuthorized
		}
		if err := sess.Pause(); err != nil {
			return nil, ErrInvalidPayload
		}
		s.saveCritical(sess)
		return nil, nil

	case "resume":
		if !isOwner && claimed == 0 {
			return nil, ErrNotAuthorized
		}
		if err := sess.Resume(); err != nil {
			return nil, ErrInvalidPayload
		}
		s.saveCritical(sess)
		return nil, nil

	case "reset":
		if !isOwner {
			return nil, ErrNotAuthorized
		}
		sess.Reset()
		s.saveCritical(sess)
		return nil, nil

	case "endGame":
		if !isOwner {
			return nil, ErrNotAuthorized
		}
		sess.Close()
		s.saveCritical(sess)
		return nil, nil

	case "switch", "switchPlayer":
		var p playerIDParams
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, ErrInvalidPayload
		}
		// Anyone may arrange seats before the game starts; mid-game only the
		// owner or the current active player's claimant hands the turn over.
		if sess.Status != session.StatusWaiting && !isOwner && claimed != sess.ActivePlayer {
			return nil, ErrNotAuthorized
		}
		if err := sess.SwitchPlayer(p.PlayerID); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "interrupt":
		if claimed == 0 {
			return nil, ErrNotAuthorized
		}
		if err := sess.Interrupt(claimed); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "passPriority":
		if claimed == 0 {
			return nil, ErrNotAuthorized
		}
		if err := sess.PassPriority(claimed); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "renameGame":
		if !isOwner {
			return nil, ErrNotAuthorized
		}
		var p renameParams
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, ErrInvalidPayload
		}
		if err := sess.Rename(p.Name); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "updateSettings":
		if !isOwner {
			return nil, ErrNotAuthorized
		}
		var u session.SettingsUpdate
		if err := json.Unmarshal(cmd.Data, &u); err != nil {
			return nil, ErrInvalidPayload
		}
		if err := sess.UpdateSettings(u); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "updatePlayer":
		var p updatePlayerParams
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, ErrInvalidPayload
		}
		if !s.canUpdatePlayer(sess, clientID, p.PlayerID) {
			return nil, ErrNotAuthorized
		}
		if err := sess.UpdatePlayer(p.PlayerID, p.PlayerUpdate); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "addPenalty":
		return nil, s.adminPlayerOp(sess, isOwner, cmd.Data, sess.AddPenalty)

	case "eliminate":
		return nil, s.adminPlayerOp(sess, isOwner, cmd.Data, sess.Eliminate)

	case "revivePlayer":
		return nil, s.adminPlayerOp(sess, isOwner, cmd.Data, sess.RevivePlayer)

	case "kickPlayer":
		if !isOwner {
			return nil, ErrNotAuthorized
		}
		var p playerIDParams
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, ErrInvalidPayload
		}
		err := sess.KickPlayer(p.PlayerID, func(evictedClientID string) {
			s.sendToClient(evictedClientID, errorEvent(errors.New("Kicked from game")))
		})
		if err != nil {
			return nil, ErrPlayerNotFound
		}
		return nil, nil

	case "startTargetSelection":
		if claimed == 0 || claimed != sess.ActivePlayer {
			return nil, ErrNotAuthorized
		}
		if err := sess.StartTargetSelection(); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "toggleTarget":
		if claimed == 0 || claimed != sess.ActivePlayer {
			return nil, ErrNotAuthorized
		}
		var p playerIDParams
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, ErrInvalidPayload
		}
		if err := sess.ToggleTarget(p.PlayerID); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "confirmTargets":
		if claimed == 0 || claimed != sess.ActivePlayer {
			return nil, ErrNotAuthorized
		}
		if err := sess.ConfirmTargets(); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "passTargetPriority":
		var p playerIDParams
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, ErrInvalidPayload
		}
		// Targets pass their own priority; the owner may pass for anyone.
		if !isOwner && claimed != p.PlayerID {
			return nil, ErrNotAuthorized
		}
		if err := sess.PassTargetPriority(p.PlayerID); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "cancelTargeting":
		if !isOwner && (claimed == 0 || claimed != sess.Targeting.OriginalActivePlayer && claimed != sess.ActivePlayer) {
			return nil, ErrNotAuthorized
		}
		if err := sess.CancelTargeting(); err != nil {
			return nil, ErrInvalidPayload
		}
		return nil, nil

	case "resolveTimeoutChoice":
		var p timeoutChoiceParams
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, ErrInvalidPayload
		}
		switch p.Choice {
		case session.ChoiceLoseLives, session.ChoiceGainDrunk, session.ChoiceDie:
		default:
			return nil, ErrInvalidPayload
		}
		// The timed-out player answers for themselves; the owner may answer
		// for a player whose client dropped.
		if !isOwner && claimed != p.PlayerID {
			return nil, ErrNotAuthorized
		}
		if err := sess.ResolveTimeoutChoice(p.PlayerID, p.Choice); err != nil {
			return nil, ErrInvalidPayload
		}
		s.saveCritical(sess)
		return nil, nil

	default:
		return nil, ErrInvalidPayload
	}
}

// canUpdatePlayer: the owner edits anyone; a claimant edits their own slot;
// before the game starts anyone may set up an unclaimed slot.
func (s *Server) canUpdatePlayer(sess *session.Session, clientID string, playerID int) bool {
	if sess.OwnerID == clientID {
		return true
	}
	p := sess.Player(playerID)
	if p == nil {
		return false
	}
	if p.ClaimedBy == clientID {
		return true
	}
	return sess.Status == session.StatusWaiting && p.ClaimedBy == ""
}

func (s *Server) adminPlayerOp(sess *session.Session, isOwner bool, data json.RawMessage, op func(int) error) error {
	if !isOwner {
		return ErrNotAuthorized
	}
	var p playerIDParams
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrInvalidPayload
	}
	if err := op(p.PlayerID); err != nil {
		return ErrPlayerNotFound
	}
	return nil
}

// coordErr maps coordinator failures onto the client vocabulary; op errors
// pass through.
func coordErr(err error) error {
	switch {
	case errors.Is(err, coordinator.ErrTooBusy):
		return ErrTooBusy
	case errors.Is(err, coordinator.ErrTimeout):
		return ErrLockTimeout
	default:
		return err
	}
}

func mapClaimErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrAlreadyClaimed), errors.Is(err, session.ErrSlotNotClaimable):
		return ErrAlreadyClaimed
	default:
		return ErrPlayerNotFound
	}
}

func mapTokenErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrNoToken):
		return ErrInvalidToken
	default:
		return ErrPlayerNotFound
	}
}
