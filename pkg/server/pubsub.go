package server

import (
	"context"
	"encoding/json"

	"github.com/manaclock/manaclock/pkg/store"
)

func broadcastChannel(sessionID string) string {
	return "broadcast:" + sessionID
}

// subscribeSession starts relaying sibling-instance broadcasts for a locally
// resident session. A no-op in single-node mode or when already subscribed.
func (s *Server) subscribeSession(sessionID string) {
	if s.pubsub == nil {
		return
	}
	s.subMu.Lock()
	if _, ok := s.subs[sessionID]; ok {
		s.subMu.Unlock()
		return
	}
	ch, cancel, err := s.pubsub.Subscribe(context.Background(), broadcastChannel(sessionID))
	if err != nil {
		s.subMu.Unlock()
		s.log.Errorf("Failed to subscribe to broadcasts for %s: %v", sessionID, err)
		return
	}
	s.subs[sessionID] = cancel
	s.subMu.Unlock()

	go s.relayLoop(sessionID, ch)
}

// unsubscribeSession stops the relay for a session leaving this instance.
func (s *Server) unsubscribeSession(sessionID string) {
	s.subMu.Lock()
	cancel, ok := s.subs[sessionID]
	if ok {
		delete(s.subs, sessionID)
	}
	s.subMu.Unlock()
	if ok {
		cancel()
	}
}

// relayLoop delivers sibling-instance broadcasts to local clients. Envelopes
// stamped with our own instance id already went out via broadcastLocal and are
// skipped.
func (s *Server) relayLoop(sessionID string, ch <-chan store.Message) {
	for msg := range ch {
		var env relayEnvelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			s.log.Warnf("Malformed relay envelope on %s: %v", msg.Channel, err)
			continue
		}
		if env.InstanceID == s.instanceID {
			continue
		}
		relayMessages.WithLabelValues("received").Inc()
		s.broadcastLocal(env.SessionID, env.Event)
	}
	s.log.Tracef("Relay loop for %s ended", sessionID)
}
