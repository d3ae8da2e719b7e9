package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/manaclock/manaclock/pkg/coordinator"
	"github.com/manaclock/manaclock/pkg/session"
	"github.com/manaclock/manaclock/pkg/store"
)

// Timings for the background loops.
const (
	FlushInterval     = 5 * time.Second
	ReapInterval      = 5 * time.Minute
	EmptyThreshold    = 5 * time.Minute
	InactiveThreshold = 24 * time.Hour
	HeartbeatInterval = 30 * time.Second
	HeartbeatTTL      = 60 * time.Second
	DrainTimeout      = 30 * time.Second
)

// Config assembles a server instance.
type Config struct {
	LogBackend *logging.LogBackend
	Store      store.Store

	// PubSub enables shared-store primary mode: write-through saves,
	// lazy loads and cross-instance broadcast relay.
	PubSub store.PubSub

	// DrainWait caps how long Stop waits for clients to leave after the
	// shutdown warning. Zero means DrainTimeout.
	DrainWait time.Duration

	Clock func() time.Time // nil = time.Now
}

// ClientConn is the server's view of one transport connection. Send reports
// false when the message was dropped (closed or overflowing client); the
// session always continues.
type ClientConn interface {
	ID() string
	Addr() string
	Send(ev session.Event) bool
	Kick(reason string)
}

// Server owns the session registry and everything around it: command
// routing, persistence, cross-instance relay and lifecycle loops.
type Server struct {
	log        slog.Logger
	logBackend *logging.LogBackend
	store      store.Store
	pubsub     store.PubSub
	coord      *coordinator.Coordinator
	instanceID string
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session.Session

	clientMu       sync.RWMutex
	clients        map[string]ClientConn
	clientSession  map[string]string
	sessionClients map[string]map[string]ClientConn

	// Pub/sub subscription cancels, one per locally resident session.
	subMu sync.Mutex
	subs  map[string]func()

	draining  bool
	drainMu   sync.RWMutex
	drainWait time.Duration
	quit      chan struct{}
	wg        sync.WaitGroup
}

// New creates a server, restores persisted sessions (single-node mode) and
// starts the background loops.
func New(cfg Config) (*Server, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DrainWait <= 0 {
		cfg.DrainWait = DrainTimeout
	}
	s := &Server{
		log:        cfg.LogBackend.Logger("SERVER"),
		logBackend: cfg.LogBackend,
		store:      cfg.Store,
		pubsub:     cfg.PubSub,
		instanceID: uuid.NewString(),
		now:        cfg.Clock,
		sessions:   make(map[string]*session.Session),
		clients:    make(map[string]ClientConn),
		clientSession:  make(map[string]string),
		sessionClients: make(map[string]map[string]ClientConn),
		subs:       make(map[string]func()),
		drainWait:  cfg.DrainWait,
		quit:       make(chan struct{}),
	}
	s.coord = coordinator.New(coordinator.Config{Log: cfg.LogBackend.Logger("COORD")})

	// Shared-store mode loads sessions lazily; single-node restores
	// everything up front so reconnecting clients find their games.
	if s.pubsub == nil {
		if err := s.loadAllSessions(); err != nil {
			s.log.Errorf("Failed to load persisted sessions: %v", err)
		}
	}

	s.wg.Add(3)
	go s.tickLoop()
	go s.flushLoop()
	go s.reapLoop()
	if s.pubsub != nil {
		s.wg.Add(1)
		go s.heartbeatLoop()
	}
	return s, nil
}

// InstanceID returns this instance's identity used in relay envelopes and
// the heartbeat registry.
func (s *Server) InstanceID() string { return s.instanceID }

// RedisPrimary reports whether the shared store is the source of truth.
func (s *Server) RedisPrimary() bool { return s.pubsub != nil }

// getSession returns the locally resident session, if any.
func (s *Server) getSession(id string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// ensureLoaded returns the session, hydrating it from the shared store on
// first access in shared-store mode. Must be called outside the session's
// section; insertion races resolve in favor of the existing entry.
func (s *Server) ensureLoaded(id string) (*session.Session, error) {
	if sess, ok := s.getSession(id); ok {
		return sess, nil
	}
	if s.pubsub == nil {
		return nil, ErrGameNotFound
	}
	raw, err := s.store.Load(context.Background(), id)
	if err == store.ErrNotFound {
		return nil, ErrGameNotFound
	}
	if err != nil {
		s.log.Errorf("Failed to load session %s: %v", id, err)
		return nil, ErrGameNotFound
	}
	sess, err := s.hydrate(raw)
	if err != nil {
		s.log.Errorf("Failed to hydrate session %s: %v", id, err)
		return nil, ErrGameNotFound
	}

	s.mu.Lock()
	if existing, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.sessions[id] = sess
	sessionsActive.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	s.subscribeSession(id)
	return sess, nil
}

func (s *Server) hydrate(raw []byte) (*session.Session, error) {
	snap := &session.Snapshot{}
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, err
	}
	sess, err := session.FromSnapshot(snap, s.logBackend.Logger("SESSION"), s.now)
	if err != nil {
		return nil, err
	}
	id := sess.ID
	sess.SetEmit(func(ev session.Event) { s.broadcastToSession(id, ev) })
	return sess, nil
}

// loadAllSessions restores every persisted, non-closed session on startup.
func (s *Server) loadAllSessions() error {
	ctx := context.Background()
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for _, id := range ids {
		raw, err := s.store.Load(ctx, id)
		if err != nil {
			s.log.Errorf("Failed to load session %s: %v", id, err)
			continue
		}
		sess, err := s.hydrate(raw)
		if err != nil {
			s.log.Errorf("Failed to hydrate session %s: %v", id, err)
			continue
		}
		if sess.IsClosed {
			// Closed sessions are done for good; clear the row.
			if err := s.store.Delete(ctx, id); err != nil {
				s.log.Errorf("Failed to delete closed session %s: %v", id, err)
			}
			continue
		}
		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()
		restored++
	}
	s.mu.RLock()
	sessionsActive.Set(float64(len(s.sessions)))
	s.mu.RUnlock()
	if restored > 0 {
		s.log.Infof("Restored %d persisted sessions (running sessions paused)", restored)
	}
	return nil
}

// saveSession persists one session's snapshot. Called inside the session's
// coordinator section. Persistence failure never rolls back the in-memory
// mutation; the state is already visible locally.
func (s *Server) saveSession(sess *session.Session) error {
	raw, err := sess.Marshal()
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.store.Save(context.Background(), sess.ID, raw)
	saveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		saveErrors.Inc()
		s.log.Errorf("Failed to save session %s: %v", sess.ID, err)
	}
	return err
}

// writeThrough persists immediately in shared-store mode, where the local
// map is only a cache. Single-node mode leans on the periodic flush.
func (s *Server) writeThrough(sess *session.Session) {
	if s.pubsub != nil {
		_ = s.saveSession(sess)
	}
}

// saveCritical persists immediately in every mode; used for create and
// timer transitions, which must survive a crash between flushes.
func (s *Server) saveCritical(sess *session.Session) {
	_ = s.saveSession(sess)
}

// flushAll snapshots every resident session and writes them as one atomic
// batch, retrying individually on batch failure.
func (s *Server) flushAll() {
	s.mu.RLock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	snapshots := make(map[string][]byte, len(sessions))
	for _, sess := range sessions {
		id := sess.ID
		_ = s.coord.Run(id, func() error {
			raw, err := sess.Marshal()
			if err != nil {
				s.log.Errorf("Failed to snapshot session %s: %v", id, err)
				return nil
			}
			snapshots[id] = raw
			return nil
		})
	}
	if len(snapshots) == 0 {
		return
	}

	start := time.Now()
	err := s.store.SaveBatch(context.Background(), snapshots)
	saveLatency.Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	s.log.Warnf("Batch flush failed, retrying individually: %v", err)
	for id, raw := range snapshots {
		if err := s.store.Save(context.Background(), id, raw); err != nil {
			saveErrors.Inc()
			s.log.Errorf("Failed to save session %s: %v", id, err)
		}
	}
}

// Stop drains the server: background loops halt, clients get a shutdown
// warning and a grace window, everything is flushed and the store closed.
func (s *Server) Stop() {
	s.drainMu.Lock()
	if s.draining {
		s.drainMu.Unlock()
		return
	}
	s.draining = true
	s.drainMu.Unlock()

	close(s.quit)
	s.wg.Wait()

	s.broadcastAll(session.Event{Type: EventShutdownWarning, Data: ShutdownWarningPayload{
		Message: "Server shutting down",
		Timeout: s.drainWait.Milliseconds(),
	}})

	poll := s.drainWait / 30
	if poll <= 0 {
		poll = time.Millisecond
	}
	deadline := time.Now().Add(s.drainWait)
	for time.Now().Before(deadline) {
		s.clientMu.RLock()
		remaining := len(s.clients)
		s.clientMu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(poll)
	}

	s.clientMu.RLock()
	conns := make([]ClientConn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.clientMu.RUnlock()
	for _, c := range conns {
		c.Kick("shutdown")
	}

	s.subMu.Lock()
	for _, cancel := range s.subs {
		cancel()
	}
	s.subs = make(map[string]func())
	s.subMu.Unlock()

	s.flushAll()
	if err := s.store.Close(); err != nil {
		s.log.Errorf("Failed to close store: %v", err)
	}
	s.log.Infof("Server drained")
}

// Draining reports whether new connections should be refused.
func (s *Server) Draining() bool {
	s.drainMu.RLock()
	defer s.drainMu.RUnlock()
	return s.draining
}
