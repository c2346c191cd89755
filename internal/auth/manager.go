package auth

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/carecall/internal/clock"
	"github.com/dukerupert/carecall/internal/model"
)

// DefaultTimeout is how long a login stays valid, measured from login time.
const DefaultTimeout = 480 * time.Minute

// Persister is the durable medium behind the Manager's in-memory cache.
// Read returns nil, nil when there is no usable record.
type Persister interface {
	Write(rec model.SessionRecord) error
	Read() (*model.SessionRecord, error)
	Delete() error
}

// Manager answers whether the dashboard is logged in. It is a write-through
// cache over a Persister: the cache serves the running process and the
// durable record lets a fresh process (or another tab) pick up the same
// login until it expires or is logged out.
//
// Persistence failures are logged and absorbed; the Manager fails closed.
type Manager struct {
	mu              sync.Mutex
	store           Persister
	clock           clock.Clock
	timeout         time.Duration
	logger          *slog.Logger
	cache           model.SessionRecord
	logoutTriggered bool
	loggedOutAt     time.Time
	// durable is set while the cached login is known to be in the store.
	durable bool
}

type Option func(*Manager)

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func NewManager(store Persister, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		clock:   clock.Real(),
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login starts a new session, replacing any previous one.
func (m *Manager) Login() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	m.cache = model.SessionRecord{
		Authenticated: true,
		LoginTime:     now,
		LastActivity:  now,
		ExpireTime:    now.Add(m.timeout),
	}
	m.logoutTriggered = false
	m.durable = false
	m.persist(m.cache)
	m.logger.Info("session started", "expires_at", m.cache.ExpireTime)
}

// IsAuthenticated reports whether access is currently granted, refreshing
// last activity when it is.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()

	if m.cache.Authenticated && !m.logoutTriggered {
		if now.Before(m.cache.ExpireTime) {
			if m.stillCurrent() {
				m.cache.LastActivity = now
				m.persist(m.cache)
				return true
			}
			m.logger.Info("session ended by another process")
		} else {
			m.logger.Info("session expired", "expired_at", m.cache.ExpireTime)
		}
		m.cache = model.SessionRecord{}
		m.durable = false
	}

	// The cache is empty, stale or logged out; another process may hold a
	// newer login in the durable record.
	rec, err := m.store.Read()
	if err != nil {
		m.logger.Warn("read session record", "error", err)
		return false
	}
	if rec == nil {
		return false
	}
	if m.logoutTriggered && !rec.LoginTime.After(m.loggedOutAt) {
		// The delete at logout did not stick; this is the record we ended.
		if err := m.store.Delete(); err != nil {
			m.logger.Warn("delete session record", "error", err)
		}
		return false
	}
	if !rec.ValidAt(now) {
		m.logger.Info("discarding expired session record", "expired_at", rec.ExpireTime)
		if err := m.store.Delete(); err != nil {
			m.logger.Warn("delete session record", "error", err)
		}
		return false
	}

	m.cache = *rec
	m.cache.LastActivity = now
	m.logoutTriggered = false
	m.persist(m.cache)
	m.logger.Info("session restored", "expires_at", m.cache.ExpireTime)
	return true
}

// Logout ends the session everywhere. Calling it repeatedly is harmless.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = model.SessionRecord{}
	m.durable = false
	if !m.logoutTriggered {
		m.logoutTriggered = true
		m.loggedOutAt = m.clock.Now().UTC()
	}
	if err := m.store.Delete(); err != nil {
		m.logger.Warn("delete session record", "error", err)
	}
	m.logger.Info("session ended")
}

// LogoutTriggered reports whether this process explicitly logged out, so the
// UI can block history navigation back into protected pages.
func (m *Manager) LogoutTriggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logoutTriggered
}

// Snapshot returns a copy of the cached record.
func (m *Manager) Snapshot() model.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache
}

// stillCurrent reports whether the cached login is still the one in the
// store. A login that never reached the store, or a store that cannot be
// read, leaves the cache in charge.
func (m *Manager) stillCurrent() bool {
	if !m.durable {
		return true
	}
	rec, err := m.store.Read()
	if err != nil {
		m.logger.Warn("read session record, continuing in memory", "error", err)
		return true
	}
	return rec != nil && sameInstant(rec.LoginTime, m.cache.LoginTime)
}

// sameInstant compares at microsecond precision, which every store keeps.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

func (m *Manager) persist(rec model.SessionRecord) {
	if err := m.store.Write(rec); err != nil {
		m.logger.Warn("persist session record, continuing in memory", "error", err)
		return
	}
	m.durable = true
}
