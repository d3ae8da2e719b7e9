package server

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/manaclock/manaclock/pkg/session"
)

// HandleClientConnect registers a fresh connection, assigns its client id and
// sends it back as the first event. Refused while draining.
func (s *Server) HandleClientConnect(conn ClientConn) (string, error) {
	if s.Draining() {
		return "", ErrDraining
	}
	clientID := uuid.NewString()

	s.clientMu.Lock()
	s.clients[clientID] = conn
	clientsActive.Set(float64(len(s.clients)))
	s.clientMu.Unlock()

	if !conn.Send(session.Event{Type: EventClientID, Data: ClientIDPayload{ClientID: clientID}}) {
		messagesDropped.Inc()
	}
	s.log.Debugf("Client %s connected from %s", clientID, conn.Addr())
	return clientID, nil
}

// HandleClientDisconnect detaches the connection from its session and releases
// any claimed slots. The reconnect token survives the unclaim, so the player
// can resume the slot within the token TTL.
func (s *Server) HandleClientDisconnect(clientID string) {
	s.clientMu.Lock()
	delete(s.clients, clientID)
	sessionID := s.clientSession[clientID]
	delete(s.clientSession, clientID)
	if sessionID != "" {
		if conns := s.sessionClients[sessionID]; conns != nil {
			delete(conns, clientID)
			if len(conns) == 0 {
				delete(s.sessionClients, sessionID)
			}
		}
	}
	clientsActive.Set(float64(len(s.clients)))
	s.clientMu.Unlock()

	if sessionID == "" {
		s.log.Debugf("Client %s disconnected", clientID)
		return
	}

	err := s.coord.Run(sessionID, func() error {
		sess, ok := s.getSession(sessionID)
		if !ok {
			return nil
		}
		released := s.unclaimKeepToken(sess, clientID)
		if len(released) > 0 {
			s.log.Debugf("Client %s disconnected, released players %v in session %s",
				clientID, released, sessionID)
		}
		// Nobody left watching a running clock: pause rather than burn time
		// into an empty room. Skipped in shared-store mode, where a sibling
		// instance may still be serving clients for this session.
		if s.pubsub == nil && s.localClientCount(sessionID) == 0 && sess.Status == session.StatusRunning {
			if err := sess.Pause(); err == nil {
				s.log.Infof("Auto-paused session %s, last client left", sessionID)
			}
			s.saveCritical(sess)
		} else if len(released) > 0 {
			s.writeThrough(sess)
		}
		return nil
	})
	if err != nil {
		s.log.Warnf("Disconnect cleanup for client %s failed: %v", clientID, err)
	}
}

// unclaimKeepToken releases clientID's slots without wiping reconnect tokens.
// Regular Unclaim is for deliberate releases; a dropped connection keeps its
// way back in.
func (s *Server) unclaimKeepToken(sess *session.Session, clientID string) []int {
	var released []int
	for _, p := range sess.Players {
		if p.ClaimedBy == clientID {
			p.ClaimedBy = ""
			sess.Mode().OnPlayerClaimed(p.ID, "")
			released = append(released, p.ID)
		}
	}
	return released
}

// attachClient moves the connection into a session's broadcast group. A client
// is in at most one session at a time.
func (s *Server) attachClient(clientID, sessionID string) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	conn, ok := s.clients[clientID]
	if !ok {
		return
	}
	if prev := s.clientSession[clientID]; prev != "" && prev != sessionID {
		if conns := s.sessionClients[prev]; conns != nil {
			delete(conns, clientID)
			if len(conns) == 0 {
				delete(s.sessionClients, prev)
			}
		}
	}
	s.clientSession[clientID] = sessionID
	conns := s.sessionClients[sessionID]
	if conns == nil {
		conns = make(map[string]ClientConn)
		s.sessionClients[sessionID] = conns
	}
	conns[clientID] = conn
}

// clientSessionID returns the session the client is attached to, or "".
func (s *Server) clientSessionID(clientID string) string {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return s.clientSession[clientID]
}

// sendToClient delivers a single event to one client. Drops are counted, never
// blocked on.
func (s *Server) sendToClient(clientID string, ev session.Event) {
	s.clientMu.RLock()
	conn, ok := s.clients[clientID]
	s.clientMu.RUnlock()
	if !ok {
		return
	}
	if !conn.Send(ev) {
		messagesDropped.Inc()
	}
}

// broadcastToSession fans an event out to the session's local clients and, in
// shared-store mode, publishes it for sibling instances.
func (s *Server) broadcastToSession(sessionID string, ev session.Event) {
	s.broadcastLocal(sessionID, ev)

	if s.pubsub == nil {
		return
	}
	raw, err := json.Marshal(relayEnvelope{
		InstanceID: s.instanceID,
		SessionID:  sessionID,
		Event:      ev,
	})
	if err != nil {
		s.log.Errorf("Failed to marshal relay envelope for %s: %v", sessionID, err)
		return
	}
	if err := s.pubsub.Publish(context.Background(), broadcastChannel(sessionID), raw); err != nil {
		s.log.Warnf("Relay publish for %s failed: %v", sessionID, err)
		return
	}
	relayMessages.WithLabelValues("published").Inc()
}

// broadcastLocal fans an event out to this instance's clients only.
func (s *Server) broadcastLocal(sessionID string, ev session.Event) {
	s.clientMu.RLock()
	conns := make([]ClientConn, 0, len(s.sessionClients[sessionID]))
	for _, c := range s.sessionClients[sessionID] {
		conns = append(conns, c)
	}
	s.clientMu.RUnlock()
	for _, c := range conns {
		if !c.Send(ev) {
			messagesDropped.Inc()
		}
	}
}

// broadcastAll sends an event to every connected client, session or not.
func (s *Server) broadcastAll(ev session.Event) {
	s.clientMu.RLock()
	conns := make([]ClientConn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.clientMu.RUnlock()
	for _, c := range conns {
		if !c.Send(ev) {
			messagesDropped.Inc()
		}
	}
}

// localClientCount returns how many clients are attached to the session on
// this instance.
func (s *Server) localClientCount(sessionID string) int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.sessionClients[sessionID])
}
