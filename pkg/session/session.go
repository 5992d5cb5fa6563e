package session

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrHandleNotFound  = errors.New("session: handle not found")
)

// Session is the top-level object owned by the signaling layer, per
// spec §3's Session entry. Grounded on the teacher's room.go (a
// registry of participants keyed by ID, guarded by one RWMutex).
type Session struct {
	mu sync.RWMutex

	ID         uint64
	CreatedAt  time.Time
	lastActive time.Time

	handles map[uint64]*Handle
}

// NewSession constructs an empty Session.
func NewSession(id uint64) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		lastActive: now,
		handles:    make(map[uint64]*Handle),
	}
}

// Touch resets the idle-timeout clock, per spec §3's Session lifecycle
// ("destroyed on client destroy or idle timeout").
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long it's been since the last client activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastActive)
}

// AddHandle registers h under this session.
func (s *Session) AddHandle(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.Session = s
	s.handles[h.ID] = h
}

// Handle looks up a Handle by ID.
func (s *Session) Handle(id uint64) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, ErrHandleNotFound
	}
	return h, nil
}

// RemoveHandle drops the handle from the registry (called during
// phase-two hangup free, per spec §4.10).
func (s *Session) RemoveHandle(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, id)
}

// Handles returns a snapshot of all handles currently registered.
func (s *Session) Handles() []*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// Manager is the process-wide registry of Sessions, per spec §3's
// "Session... owned by the signaling layer" and §5's watchdog
// paragraph ("periodic timer that reaps ended sessions").
type Manager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[uint64]*Session)}
}

// Create allocates and registers a new Session.
func (m *Manager) Create(id uint64) *Session {
	s := NewSession(id)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get looks up a Session by ID.
func (m *Manager) Get(id uint64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Destroy removes a Session from the registry.
func (m *Manager) Destroy(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// AllSessionIDs returns a snapshot of every registered session ID.
func (m *Manager) AllSessionIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint64, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// ReapIdle destroys every session idle for longer than maxIdle, per
// spec §3's idle-timeout lifecycle clause, returning the reaped IDs.
func (m *Manager) ReapIdle(maxIdle time.Duration) []uint64 {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []uint64
	for id, s := range m.sessions {
		if s.IdleFor(now) >= maxIdle {
			delete(m.sessions, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}
