package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Manager owns every live Session, guarded by one RWMutex, supporting
// a map of concurrently live sessions rather than a single "active
// recording" slot.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	newDeps  func() Deps
	cfg      Config
}

// NewManager builds a Manager. newDeps is called once per session, so
// anything it constructs fresh (such as a stateful VAD provider) is not
// shared, while the process-wide values it closes over are. Each Session
// builds its own clusterer/inference state from cfg in New.
func NewManager(cfg Config, newDeps func() Deps) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		newDeps:  newDeps,
		cfg:      cfg,
	}
}

// Start creates and starts a new Session under a fresh id and returns it.
func (m *Manager) Start() (*Session, error) {
	id := uuid.New().String()
	sess, err := New(id, m.cfg, m.newDeps())
	if err != nil {
		return nil, fmt.Errorf("start session %s: %w", id, err)
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Stop stops and removes a session.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no such session: %s", id)
	}
	sess.Stop()
	return nil
}

// List returns the ids of every live session.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
