package session

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/internal/observability/metrics"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
)

// Manager tracks the sessions opened through the HTTP API by id.
type Manager struct {
	engine   *engine.Engine
	defaults Options
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. defaults supplies the clock, logger and
// minimum refresh interval of every session it opens.
func NewManager(eng *engine.Engine, defaults Options, m *metrics.PrometheusMetrics, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if defaults.Logger == nil {
		defaults.Logger = logger
	}
	return &Manager{
		engine:   eng,
		defaults: defaults,
		metrics:  m,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open opens a session on the dashboard uid, bound to bridge.
func (m *Manager) Open(ctx context.Context, uid string, bridge interfaces.URLBridge) (*Session, error) {
	opts := m.defaults
	opts.ID = ""
	opts.Bridge = bridge
	opts.OnClose = m.forget

	s, err := Open(ctx, m.engine, uid, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	count := len(m.sessions)
	m.mu.Unlock()

	// The dashboard may have been deleted while opening.
	if s.State().Closed {
		m.forget(s)
		return nil, errors.NewDashboardNotFoundError(uid)
	}

	m.metrics.SetSessionsOpen(count)
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		e := errors.NewNotFoundError("session", id)
		e.Cause = errors.ErrSessionNotFound
		return nil, e
	}
	return s, nil
}

// Close closes and forgets a session.
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Close()
}

// List returns the state of every open session, ordered by id.
func (m *Manager) List() []State {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	states := make([]State, 0, len(sessions))
	for _, s := range sessions {
		states = append(states, s.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	m.logger.WithField("sessions", len(sessions)).Info("All sessions closed")
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	count := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetSessionsOpen(count)
}
