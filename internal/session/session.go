// Package session keeps quiz sessions in memory, keyed by an opaque ID
// carried in a cookie.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/kuralquiz/internal/model"
)

const DefaultTTL = 2 * time.Hour

var ErrNotFound = errors.New("session not found")

type entry struct {
	mu       sync.Mutex // serializes changes to sess
	sess     *model.Session
	lastSeen time.Time // guarded by Manager.mu
}

// Manager is a registry of sessions that forgets those idle longer than its TTL.
type Manager struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates a manager. A non-positive ttl keeps sessions forever.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Create registers a new idle session and returns its ID.
func (m *Manager) Create() string {
	id := uuid.New().String()
	m.mu.Lock()
	m.entries[id] = &entry{sess: model.NewSession(id), lastSeen: m.now()}
	m.mu.Unlock()
	slog.Debug("session created", "session", id)
	return id
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	if m.expired(e, now) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	e.lastSeen = now
	return e, nil
}

// View returns a snapshot of the session.
func (m *Manager) View(id string) (model.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.sess, nil
}

// Update runs fn with exclusive access to the session and returns a
// snapshot taken after fn. fn's error is returned unchanged.
func (m *Manager) Update(id string, fn func(*model.Session) error) (model.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err = fn(e.sess)
	return *e.sess, err
}

// Delete forgets the session. Deleting an unknown ID is not an error.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

// Len returns the number of registered sessions, expired ones included
// until the next Cleanup.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup removes expired sessions and returns how many were removed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Cleanup(); n > 0 {
				slog.Info("expired sessions removed", "count", n, "remaining", m.Len())
			}
		}
	}
}

func (m *Manager) expired(e *entry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.lastSeen) > m.ttl
}
