package tenant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/creds"
	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
)

// DefaultSessionTTL is the idle lifetime of a session, and the total
// lifetime when the token carries no expiry of its own.
const DefaultSessionTTL = 30 * time.Minute

// Config assembles a Manager. Provider and Store are required.
type Config struct {
	Provider   IdentityProvider
	Store      creds.Store
	Authorizer Authorizer        // nil means AllowListed
	Audit      *AuditLog         // nil means a fresh ring
	SessionTTL time.Duration     // zero means DefaultSessionTTL
	Client     edgegrid.Options  // shared transport, breakers, backoff
	OnRotate   func(tenant string)
}

// Manager owns sessions and produces signed clients bound to the right
// credential bundle for the scope of a single operation.
type Manager struct {
	provider IdentityProvider
	store    creds.Store
	authz    Authorizer
	audit    *AuditLog
	ttl      time.Duration
	client   edgegrid.Options
	onRotate func(tenant string)

	mu       sync.RWMutex
	sessions map[string]*Session

	stop chan struct{}
}

// NewManager builds a Manager and starts its session sweeper.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, errors.New("tenant: Config.Provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("tenant: Config.Store is required")
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = AllowListed()
	}
	if cfg.Audit == nil {
		cfg.Audit = NewAuditLog()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	m := &Manager{
		provider: cfg.Provider,
		store:    cfg.Store,
		authz:    cfg.Authorizer,
		audit:    cfg.Audit,
		ttl:      cfg.SessionTTL,
		client:   cfg.Client,
		onRotate: cfg.OnRotate,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	go m.sweep()
	return m, nil
}

// Stop ends the session sweeper. Live sessions stay usable until they
// expire on access.
func (m *Manager) Stop() {
	close(m.stop)
}

// Audit exposes the audit trail for the info surface.
func (m *Manager) Audit() *AuditLog {
	return m.audit
}

// Authenticate validates the bearer token and creates a session. The
// available contexts are the intersection of the identity's customers
// and the tenants the credential store knows; a session with no
// contexts is still valid for public tools.
func (m *Manager) Authenticate(ctx context.Context, token string) (*Session, error) {
	id, err := m.provider.Authenticate(ctx, token)
	if err != nil {
		if _, ok := apierr.AsError(err); ok {
			return nil, err
		}
		return nil, apierr.Wrap(apierr.KindUnauthorized, "authentication failed", err)
	}

	known := make(map[string]bool)
	for _, t := range m.store.List() {
		known[t] = true
	}
	available := make([]string, 0, len(id.Customers))
	for _, c := range id.Customers {
		if known[c] {
			available = append(available, c)
		}
	}

	now := time.Now()
	expiry := id.ExpiresAt
	if expiry.IsZero() {
		expiry = now.Add(m.ttl)
	}
	sess := &Session{
		ID:        uuid.New().String(),
		Subject:   id.Subject,
		Scopes:    append([]string(nil), id.Scopes...),
		CreatedAt: now,
		ExpiresAt: expiry,
		available: available,
		lastSeen:  now,
	}
	if len(available) > 0 {
		sess.current = available[0]
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	log.Debug().
		Str("sessionId", sess.ID).
		Str("subject", sess.Subject).
		Int("tenants", len(available)).
		Msg("session created")
	return sess, nil
}

// Session resolves a session id, expiring stale sessions on access.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apierr.Unauthorized("unknown session")
	}

	now := time.Now()
	if sess.staleAt(now, m.ttl) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, apierr.Unauthorized("session expired")
	}
	sess.touch(now)
	return sess, nil
}

// Revoke destroys a session.
func (m *Manager) Revoke(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	log.Debug().Str("sessionId", id).Msg("session revoked")
}

// SessionCount reports how many sessions are live.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Switch moves the session's current context to the target tenant. The
// whole check-and-update runs under the session lock, so concurrent
// switches on one session serialize; a denied or failed switch leaves
// the current context unchanged.
func (m *Manager) Switch(sessionID, target string) (*Session, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.hasLocked(target) {
		m.audit.Append(AuditRecord{
			Subject: sess.Subject, Action: string(ActionSwitch), Resource: target,
			Outcome: OutcomeDenied, Reason: "tenant not in session contexts",
		})
		return nil, apierr.NotFound("tenant %q is not available to this session", target)
	}
	if d := m.authz.Authorize(sess.Subject, ActionSwitch, target); !d.Allow {
		m.audit.Append(AuditRecord{
			Subject: sess.Subject, Action: string(ActionSwitch), Resource: target,
			Outcome: OutcomeDenied, Reason: d.Reason,
		})
		return nil, apierr.Forbidden("tenant switch denied", d.Reason)
	}

	sess.current = target
	m.audit.Append(AuditRecord{
		Subject: sess.Subject, Action: string(ActionSwitch), Resource: target,
		Outcome: OutcomeOK,
	})
	return sess, nil
}

// Contexts lists the session's tenants for presentation.
func (m *Manager) Contexts(sess *Session) []Context {
	current := sess.Current()
	available := sess.Available()
	out := make([]Context, 0, len(available))
	for _, t := range available {
		env := creds.DefaultEnvironment
		if b, err := m.store.Get(t); err == nil {
			env = b.Environment
		}
		out = append(out, Context{Tenant: t, Environment: env, Current: t == current})
	}
	return out
}

// Client builds a signed client for the session. An empty tenant means
// the session's current context. Clients are per-call; the transport
// and breakers inside are shared.
func (m *Manager) Client(sessionID, tenant, purpose string) (*edgegrid.Client, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if tenant == "" {
		tenant = sess.Current()
	}
	if tenant == "" {
		return nil, apierr.Validation("no tenant selected; pass customer or switch first")
	}
	if !sess.Has(tenant) {
		return nil, apierr.NotFound("tenant %q is not available to this session", tenant)
	}
	if d := m.authz.Authorize(sess.Subject, ActionUseCredentials, tenant); !d.Allow {
		m.audit.Append(AuditRecord{
			Subject: sess.Subject, Action: string(ActionUseCredentials), Resource: tenant,
			Outcome: OutcomeDenied, Reason: d.Reason,
		})
		return nil, apierr.Forbidden("credential use denied", d.Reason)
	}
	return m.clientFor(sess.Subject, tenant, purpose)
}

// ServiceClient builds a signed client for background work that is not
// tied to a session, such as queue workers and status pollers.
func (m *Manager) ServiceClient(tenant string) (*edgegrid.Client, error) {
	return m.clientFor("system", tenant, "background")
}

func (m *Manager) clientFor(subject, tenant, purpose string) (*edgegrid.Client, error) {
	bundle, err := m.store.Get(tenant)
	switch {
	case errors.Is(err, creds.ErrNotFound):
		return nil, apierr.NotFound("no credentials for tenant %q", tenant)
	case errors.Is(err, creds.ErrDecrypt):
		m.audit.Append(AuditRecord{
			Subject: subject, Action: string(ActionUseCredentials), Resource: tenant,
			Outcome: OutcomeError, Reason: "bundle decrypt failed",
		})
		return nil, apierr.Internal("credential bundle unavailable", err)
	case err != nil:
		return nil, apierr.Internal("credential lookup failed", err)
	}

	cl, err := edgegrid.New(bundle.Credentials, m.client)
	if err != nil {
		return nil, apierr.Internal("building signed client", err)
	}
	log.Debug().Str("tenant", tenant).Str("purpose", purpose).Msg("signed client issued")
	return cl, nil
}

// Rotate swaps in a new credential bundle for the tenant and flushes
// dependent state through the OnRotate hook. Live clients keep the old
// bundle; new clients see the new one.
func (m *Manager) Rotate(subject, tenant string, b *creds.Bundle) error {
	if d := m.authz.Authorize(subject, ActionRotate, tenant); !d.Allow {
		m.audit.Append(AuditRecord{
			Subject: subject, Action: string(ActionRotate), Resource: tenant,
			Outcome: OutcomeDenied, Reason: d.Reason,
		})
		return apierr.Forbidden("credential rotation denied", d.Reason)
	}
	if err := m.store.Swap(tenant, b); err != nil {
		return apierr.Wrap(apierr.KindValidation, "rotating credentials", err)
	}
	if m.onRotate != nil {
		m.onRotate(tenant)
	}
	m.audit.Append(AuditRecord{
		Subject: subject, Action: string(ActionRotate), Resource: tenant,
		Outcome: OutcomeOK,
	})
	log.Info().Str("tenant", tenant).Msg("credentials rotated")
	return nil
}

// sweep drops stale sessions in the background; Session also expires
// them on access, so the sweeper only bounds memory.
func (m *Manager) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		now := time.Now()
		m.mu.Lock()
		removed := 0
		for id, sess := range m.sessions {
			if sess.staleAt(now, m.ttl) {
				delete(m.sessions, id)
				removed++
			}
		}
		m.mu.Unlock()
		if removed > 0 {
			log.Info().Int("count", removed).Msg("expired sessions removed")
		}
	}
}
