package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/live"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"go.uber.org/zap"
)

// ErrNotFound is returned for an unknown session ID
var ErrNotFound = errors.New("session not found")

// SourceFactory builds the live source of a new session; nil uses the
// configured transport
type SourceFactory func() live.Source[types.Package]

// Manager tracks open sessions
type Manager struct {
	sessions sync.Map
	base     context.Context
	cfg      *config.Config
	views    []config.ViewSpec
	source   SourceFactory
	root     *logging.Logger
	log      *logging.Logger
	metrics  *monitoring.Metrics

	mu    sync.Mutex
	count int
}

// NewManager creates a session manager. Sessions live until closed or until
// base is done.
func NewManager(base context.Context, cfg *config.Config, views []config.ViewSpec, log *logging.Logger, metrics *monitoring.Metrics) *Manager {
	return &Manager{
		base:    base,
		cfg:     cfg,
		views:   views,
		root:    log,
		log:     log.Component("sessions"),
		metrics: metrics,
	}
}

// WithSource overrides how live sources are built
func (m *Manager) WithSource(factory SourceFactory) *Manager {
	m.source = factory
	return m
}

// Open builds and starts a session for token. An empty token uses the
// configured one.
func (m *Manager) Open(token string) (*Session, error) {
	opts := Options{
		Config:  m.cfg,
		Token:   token,
		Views:   m.views,
		Logger:  m.root,
		Metrics: m.metrics,
	}
	if m.source != nil {
		opts.Source = m.source()
	}

	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(m.base); err != nil {
		s.Close()
		return nil, err
	}

	m.sessions.Store(s.ID(), s)
	m.adjust(1)
	m.log.Info("session opened", zap.String("session_id", s.ID()))
	return s, nil
}

// Get returns an open session
func (m *Manager) Get(sessionID string) (*Session, bool) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// List returns open sessions, oldest first
func (m *Manager) List() []*Session {
	var out []*Session
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Close logs a session out and discards its cache
func (m *Manager) Close(sessionID string) error {
	v, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return ErrNotFound
	}
	v.(*Session).Close()
	m.adjust(-1)
	m.log.Info("session closed", zap.String("session_id", sessionID))
	return nil
}

// CloseAll closes every open session
func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		_ = m.Close(s.ID())
	}
}

func (m *Manager) adjust(delta int) {
	m.mu.Lock()
	m.count += delta
	count := m.count
	m.mu.Unlock()
	m.metrics.SetSessionsActive(count)
}
