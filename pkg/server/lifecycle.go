package server

import (
	"context"
	"time"

	"github.com/manaclock/manaclock/pkg/session"
)

// tickLoop drives every running session's clock at the tick cadence. Each
// session gets its own coordinator op; a stuck session skips beats instead of
// stalling the rest, and the elapsed-time math inside Tick absorbs the gap.
func (s *Server) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(session.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.tickAll()
		}
	}
}

func (s *Server) tickAll() {
	s.mu.RLock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess := sess
		err := s.coord.TryRun(sess.ID, session.TickInterval/2, func() error {
			// Status is owned by the session's section; check it here, not
			// while filtering under the registry lock.
			if sess.Status != session.StatusRunning {
				return nil
			}
			start := time.Now()
			sess.Tick()
			// Tick can finish the game or trip a timeout; those transitions
			// must hit the store before the next crash, not the next flush.
			if sess.Status != session.StatusRunning {
				s.saveCritical(sess)
			} else {
				s.writeThrough(sess)
			}
			tickDuration.Observe(time.Since(start).Seconds())
			return nil
		})
		if err != nil {
			s.log.Tracef("Skipped tick for %s: %v", sess.ID, err)
		}
	}
}

// flushLoop persists all resident sessions in a batch on a fixed cadence.
func (s *Server) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.flushAll()
		}
	}
}

// reapLoop removes sessions nobody is using: finished or waiting sessions
// with no clients for EmptyThreshold, and anything idle past
// InactiveThreshold. In shared-store mode each instance only reaps sessions
// it is serving clients for, except fully idle ones past the long threshold,
// which the store's TTL also covers.
func (s *Server) reapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.reapIdle()
		}
	}
}

func (s *Server) reapIdle() {
	now := s.now()
	for _, id := range s.SessionIDs() {
		id := id
		var reap bool
		err := s.coord.Run(id, func() error {
			sess, ok := s.getSession(id)
			if !ok {
				return nil
			}
			idle := now.Sub(sess.LastActivity)
			switch {
			case idle > InactiveThreshold:
				reap = true
			case s.localClientCount(id) == 0 && idle > EmptyThreshold &&
				sess.Status != session.StatusRunning && sess.Status != session.StatusPaused:
				reap = true
			}
			return nil
		})
		if err != nil || !reap {
			continue
		}
		s.log.Infof("Reaping idle session %s", id)
		s.removeSession(id)
		sessionsReaped.Inc()
	}
}

// heartbeatLoop refreshes this instance's registry entry in the shared store
// with a system stats payload. The TTL doubles as liveness: an instance that
// misses two beats disappears from the registry.
func (s *Server) heartbeatLoop() {
	defer s.wg.Done()
	s.beat()
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.beat()
		}
	}
}

func (s *Server) beat() {
	payload, err := s.heartbeatPayload()
	if err != nil {
		s.log.Warnf("Failed to build heartbeat payload: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.pubsub.Heartbeat(ctx, s.instanceID, payload, HeartbeatTTL); err != nil {
		s.log.Warnf("Heartbeat failed: %v", err)
	}
}
