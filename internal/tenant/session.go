package tenant

import (
	"sync"
	"time"
)

// Context describes one tenant a session may act in.
type Context struct {
	Tenant      string `json:"tenant"`
	Environment string `json:"environment"`
	Current     bool   `json:"current,omitempty"`
}

// Session binds a verified subject to its tenant contexts. ID, Subject,
// Scopes, and the timestamps are immutable after creation; the current
// context moves under the session lock so concurrent switches serialize.
type Session struct {
	ID        string
	Subject   string
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time

	mu        sync.Mutex
	available []string
	current   string
	lastSeen  time.Time
}

// Current returns the tenant the session is acting in, or "" when the
// subject has no tenants.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Available returns a copy of the session's tenant ids.
func (s *Session) Available() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.available...)
}

// Has reports whether the tenant is available to this session.
func (s *Session) Has(tenant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLocked(tenant)
}

func (s *Session) hasLocked(tenant string) bool {
	for _, t := range s.available {
		if t == tenant {
			return true
		}
	}
	return false
}

// HasScope reports whether the session's identity grants the scope.
func (s *Session) HasScope(scope string) bool {
	for _, have := range s.Scopes {
		if have == scope {
			return true
		}
	}
	return false
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// staleAt reports whether the session is past its token expiry or has
// been idle longer than the manager's TTL.
func (s *Session) staleAt(now time.Time, idle time.Duration) bool {
	if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen) > idle
}
