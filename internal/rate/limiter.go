package rate

import (
	"math"
	"sync"
	"time"
)

// Config defines rate limiting parameters for one key. After a request is
// refused, the key stays blocked for Cooldown even if tokens refill sooner.
type Config struct {
	RequestsPerSecond int
	Burst             int
	Cooldown          time.Duration
}

// Limiter is a token bucket.
type Limiter struct {
	mu           sync.Mutex
	cfg          Config
	tokens       float64
	last         time.Time
	blockedUntil time.Time
	now          func() time.Time
}

func New(cfg Config) *Limiter {
	return newLimiter(cfg, time.Now)
}

func newLimiter(cfg Config, now func() time.Time) *Limiter {
	return &Limiter{
		cfg:    cfg,
		tokens: float64(cfg.Burst),
		last:   now(),
		now:    now,
	}
}

// Allow takes a token if one is available. A refusal starts the cooldown.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refill(now)
	if now.Before(l.blockedUntil) {
		return false
	}
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	if l.cfg.Cooldown > 0 {
		l.blockedUntil = now.Add(l.cfg.Cooldown)
	}
	return false
}

func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	if elapsed > 0 {
		l.tokens = math.Min(float64(l.cfg.Burst), l.tokens+elapsed*float64(l.cfg.RequestsPerSecond))
	}
}

func (l *Limiter) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Manager holds one limiter per key, e.g. per system user.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
	now      func() time.Time
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
		now:      time.Now,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	lim, ok := m.limiters[key]
	m.mu.RUnlock()
	if ok {
		return lim
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim = newLimiter(m.defaults, m.now)
	m.limiters[key] = lim
	return lim
}

// Allow reports whether key may proceed now without waiting.
func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

// Prune drops limiters untouched for longer than idle and returns how many
// went. A dropped key starts over with a full bucket.
func (m *Manager) Prune(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, lim := range m.limiters {
		if lim.idleSince().Before(cutoff) {
			delete(m.limiters, k)
			n++
		}
	}
	return n
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}
