package server

import (
	"context"
	"crypto/rand"

	"github.com/manaclock/manaclock/pkg/session"
)

// Game ids are short, unambiguous and human-relayable: no 0/O or 1/I.
const (
	idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	idLength   = 6

	// Allocation attempts before giving up. At 32^6 ids the space has to be
	// essentially full for this to trip.
	idAttempts = 10
)

func randomID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		panic("server: crypto/rand failed: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

// allocateID mints an id that is unused locally and, in shared-store mode,
// reserved store-wide. Must run under the create lock.
func (s *Server) allocateID(ctx context.Context) (string, error) {
	for i := 0; i < idAttempts; i++ {
		id := randomID()
		if _, taken := s.getSession(id); taken {
			continue
		}
		ok, err := s.store.ReserveID(ctx, id)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// CreateParams carries the createGame command payload.
type CreateParams struct {
	Name    string            `json:"name,omitempty"`
	Mode    string            `json:"mode,omitempty"`
	Preset  string            `json:"preset,omitempty"`
	Options *session.Settings `json:"options,omitempty"`
}

// CreateSession allocates an id, builds the session and persists it before
// anyone can address it. ownerID is the creating client.
func (s *Server) CreateSession(ctx context.Context, ownerID string, params CreateParams) (*session.Session, error) {
	settings := session.DefaultSettings()
	if params.Options != nil {
		settings = *params.Options
	}

	var mode session.Mode = session.CasualMode{}
	if params.Mode == session.ModeCampaign {
		preset := params.Preset
		if preset == "" {
			preset = "standard"
		}
		cm, err := session.NewCampaignMode(preset)
		if err != nil {
			return nil, err
		}
		mode = cm
		// Campaign presets drive the clock: round one's time budget and the
		// per-turn bonus come from the preset, not the base options.
		settings.InitialTime = cm.State.Config.RoundTime(1)
		if cm.State.Config.BonusPerTurn > 0 {
			settings.BonusTime = cm.State.Config.BonusPerTurn
		}
	}

	var created *session.Session
	err := s.coord.RunCreate(func() error {
		id, err := s.allocateID(ctx)
		if err != nil {
			return err
		}
		sess, err := session.New(session.Config{
			ID:       id,
			Name:     params.Name,
			OwnerID:  ownerID,
			Settings: settings,
			Mode:     mode,
			Log:      s.logBackend.Logger("SESSION"),
			Clock:    s.now,
		})
		if err != nil {
			return err
		}
		sess.SetEmit(func(ev session.Event) { s.broadcastToSession(id, ev) })

		s.mu.Lock()
		s.sessions[id] = sess
		sessionsActive.Set(float64(len(s.sessions)))
		s.mu.Unlock()

		created = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.saveCritical(created)
	s.subscribeSession(created.ID)
	s.log.Infof("Created session %s (mode=%s, players=%d)",
		created.ID, created.Mode().Name(), created.Settings.PlayerCount)
	return created, nil
}

// removeSession drops the session from the registry and the store.
func (s *Server) removeSession(id string) {
	s.unsubscribeSession(id)

	s.mu.Lock()
	delete(s.sessions, id)
	sessionsActive.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if err := s.store.Delete(context.Background(), id); err != nil {
		s.log.Errorf("Failed to delete session %s from store: %v", id, err)
	}
}

// SessionIDs lists the locally resident session ids.
func (s *Server) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
