package repository

import (
	"context"
	"sync"
	"time"

	"tourbook/internal/models"
)

// sweepEvery is the number of writes between two passes over expired entries.
const sweepEvery = 256

type loginWindow struct {
	attempts int
	resetAt  time.Time
}

// MemorySessionRepository keeps sessions and login throttling windows in
// process. It backs single-instance deployments and stands in for redis while
// redis is unreachable. Nothing survives a restart.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	windows  map[string]loginWindow
	ttl      time.Duration
	writes   int
	now      func() time.Time
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]models.Session),
		windows:  make(map[string]loginWindow),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *MemorySessionRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	if session.Expired(r.now()) {
		delete(r.sessions, id)
		return nil, nil
	}
	return &session, nil
}

// SaveSession stores a copy of session. A session without an expiry gets the
// repository TTL.
func (r *MemorySessionRepository) SaveSession(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *session
	if stored.ExpiresAt.IsZero() && r.ttl > 0 {
		stored.ExpiresAt = r.now().Add(r.ttl)
	}
	r.sessions[stored.ID] = stored
	r.afterWriteLocked()
	return nil
}

func (r *MemorySessionRepository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// CheckRateLimit counts one attempt for key in a fixed window and reports
// whether the attempt is within limit.
func (r *MemorySessionRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = loginWindow{resetAt: now.Add(window)}
	}
	w.attempts++
	r.windows[key] = w
	r.afterWriteLocked()

	return w.attempts <= limit, nil
}

// Len reports how many sessions and throttling windows are held.
func (r *MemorySessionRepository) Len() (sessions, windows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions), len(r.windows)
}

func (r *MemorySessionRepository) afterWriteLocked() {
	r.writes++
	if r.writes < sweepEvery {
		return
	}
	r.writes = 0
	r.sweepLocked()
}

func (r *MemorySessionRepository) sweepLocked() {
	now := r.now()
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
		}
	}
	for key, w := range r.windows {
		if !now.Before(w.resetAt) {
			delete(r.windows, key)
		}
	}
}
