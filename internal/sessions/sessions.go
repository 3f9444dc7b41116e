// Package sessions manages per-user conversation state in memory. Sessions
// are created on first use, pruned at a message cap, and deleted by a
// periodic sweep once idle past the configured age.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/pkg/models"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Config controls session retention.
type Config struct {
	// MaxMessages caps the per-session buffer. Oldest messages are dropped
	// first; a leading system message survives pruning.
	MaxMessages int

	// MaxAge is the inactivity window after which the sweep deletes a
	// session.
	MaxAge time.Duration

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 200
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	return c
}

// Manager owns the in-memory session table. All methods are safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*models.SessionData
	cfg      Config
	logger   *observability.Logger
	onExpire func(session *models.SessionData)
	nowFunc  func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithOnExpire registers a callback invoked for each session the sweep
// deletes. Called outside the manager lock.
func WithOnExpire(fn func(session *models.SessionData)) Option {
	return func(m *Manager) { m.onExpire = fn }
}

// NewManager creates a Manager. The background sweep does not run until
// Start is called.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*models.SessionData),
		cfg:      cfg.withDefaults(),
		logger:   observability.NopLogger(),
		nowFunc:  time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetNowFunc overrides the clock. For tests.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFunc = fn
}

// Create makes a new session for the user. A blank id gets a generated one.
// Creating an id that already exists is an error.
func (m *Manager) Create(id, userID string) (*models.SessionData, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("session %q already exists", id)
	}
	now := m.nowFunc()
	s := &models.SessionData{
		ID:           id,
		UserID:       userID,
		Metadata:     make(map[string]any),
		CreatedAt:    now,
		LastActivity: now,
	}
	m.sessions[id] = s
	return m.snapshot(s), nil
}

// GetOrCreate returns the existing session or creates one. The returned
// session is a copy; mutate through manager methods.
func (m *Manager) GetOrCreate(id, userID string) *models.SessionData {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return m.snapshot(s)
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := m.nowFunc()
	s := &models.SessionData{
		ID:           id,
		UserID:       userID,
		Metadata:     make(map[string]any),
		CreatedAt:    now,
		LastActivity: now,
	}
	m.sessions[id] = s
	return m.snapshot(s)
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (*models.SessionData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.snapshot(s), nil
}

// AppendMessages adds messages to the session buffer, refreshes activity,
// and prunes past the cap.
func (m *Manager) AppendMessages(id string, msgs ...models.AgentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Messages = append(s.Messages, msgs...)
	s.LastActivity = m.nowFunc()
	m.pruneLocked(s)
	return nil
}

// ReplaceMessages swaps the session's buffer wholesale. Used after
// compaction rewrites history.
func (m *Manager) ReplaceMessages(id string, msgs []models.AgentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Messages = append([]models.AgentMessage(nil), msgs...)
	s.LastActivity = m.nowFunc()
	m.pruneLocked(s)
	return nil
}

// SetMetadata stores one metadata value and refreshes activity.
func (m *Manager) SetMetadata(id, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	s.Metadata[key] = value
	s.LastActivity = m.nowFunc()
	return nil
}

// Touch refreshes the session's activity timestamp.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.LastActivity = m.nowFunc()
	return nil
}

// Delete removes a session. Deleting a missing session is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep deletes sessions inactive beyond MaxAge and returns how many were
// removed. The background sweep calls this on a timer; tests call it
// directly.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	cutoff := m.nowFunc().Add(-m.cfg.MaxAge)
	var expired []*models.SessionData
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			expired = append(expired, m.snapshot(s))
			delete(m.sessions, id)
		}
	}
	onExpire := m.onExpire
	m.mu.Unlock()

	for _, s := range expired {
		m.logger.Debug(context.Background(), "session expired",
			"session_id", s.ID, "user_id", s.UserID)
		if onExpire != nil {
			onExpire(s)
		}
	}
	return len(expired)
}

// Start launches the periodic sweep. It returns once the sweeper goroutine
// is running; Stop or context cancellation ends it.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Stop ends the background sweep. Safe to call multiple times and safe on a
// Manager that was never started.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// pruneLocked drops oldest messages past the cap, keeping a leading system
// message in place.
func (m *Manager) pruneLocked(s *models.SessionData) {
	over := len(s.Messages) - m.cfg.MaxMessages
	if over <= 0 {
		return
	}
	if len(s.Messages) > 0 && s.Messages[0].Role == models.RoleSystem {
		kept := make([]models.AgentMessage, 0, m.cfg.MaxMessages)
		kept = append(kept, s.Messages[0])
		kept = append(kept, s.Messages[1+over:]...)
		s.Messages = kept
		return
	}
	s.Messages = append([]models.AgentMessage(nil), s.Messages[over:]...)
}

// snapshot copies a session so callers cannot alias internal state.
func (m *Manager) snapshot(s *models.SessionData) *models.SessionData {
	out := *s
	out.Messages = append([]models.AgentMessage(nil), s.Messages...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
