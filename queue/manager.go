package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// UserConfig bounds a single user's share of the pool.
type UserConfig struct {
	// MaxConcurrency is the per-user cap on simultaneously processing
	// tasks. Zero means unlimited.
	MaxConcurrency int

	// RateLimit is dequeues per second admitted for the user. Zero means
	// unlimited.
	RateLimit float64

	// RateBurst is the limiter burst size.
	RateBurst int
}

type userState struct {
	config  UserConfig
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-user concurrency and dequeue rate limits. Workers
// call Acquire before processing a task and Release when done.
type Manager struct {
	mu       sync.Mutex
	users    map[string]*userState
	defaults UserConfig
}

// NewManager creates a manager with the given default per-user limits.
func NewManager(defaults UserConfig) *Manager {
	return &Manager{
		users:    make(map[string]*userState),
		defaults: defaults,
	}
}

// SetUserConfig overrides limits for one user. A job's concurrency hint is
// applied through this path at submit time.
func (m *Manager) SetUserConfig(userID string, cfg UserConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(userID)
	st.config = cfg
	st.limiter = newLimiter(cfg)
}

// Acquire admits one task for the user. It returns false when the user is
// at their concurrency cap or rate limited; the caller should requeue the
// task and try later.
func (m *Manager) Acquire(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(userID)
	if st.config.MaxConcurrency > 0 && st.active >= st.config.MaxConcurrency {
		return false
	}
	if st.limiter != nil && !st.limiter.Allow() {
		return false
	}
	st.active++
	return true
}

// Release returns the user's slot.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.users[userID]; ok && st.active > 0 {
		st.active--
	}
}

// ActiveCount reports the user's in-flight tasks.
func (m *Manager) ActiveCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.users[userID]; ok {
		return st.active
	}
	return 0
}

// state returns the user's state, creating it from defaults. Callers hold
// m.mu.
func (m *Manager) state(userID string) *userState {
	st, ok := m.users[userID]
	if !ok {
		st = &userState{
			config:  m.defaults,
			limiter: newLimiter(m.defaults),
		}
		m.users[userID] = st
	}
	return st
}

func newLimiter(cfg UserConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}
