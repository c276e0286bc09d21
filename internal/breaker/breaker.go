// Package breaker guards upstream API hosts with a circuit breaker so a
// struggling back-end sheds load fast instead of queueing 30s timeouts.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned while the breaker refuses all traffic.
	ErrOpen = errors.New("circuit open")
	// ErrProbeLimit is returned when the half-open probe budget is spent.
	ErrProbeLimit = errors.New("half-open probe limit reached")
)

// Settings tunes one breaker. Zero fields take defaults.
type Settings struct {
	Host          string
	TripThreshold int           // consecutive failures before opening
	CoolDown      time.Duration // open period before half-open
	MaxProbes     int           // concurrent successes required to close
	Window        time.Duration // closed-state count reset interval
	OnStateChange func(host string, from, to State)
}

func (s *Settings) withDefaults() {
	if s.TripThreshold <= 0 {
		s.TripThreshold = 5
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.MaxProbes <= 0 {
		s.MaxProbes = 3
	}
	if s.Window <= 0 {
		s.Window = time.Minute
	}
}

type counts struct {
	requests             int
	consecutiveFailures  int
	consecutiveSuccesses int
}

func (c *counts) clear() {
	*c = counts{}
}

// Breaker is a generation-counted circuit breaker. Results recorded
// against a stale generation are discarded, so slow responses that
// straddle a state change cannot corrupt the new state's counts.
type Breaker struct {
	settings Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     counts
	expiry     time.Time
}

// New creates a closed breaker.
func New(settings Settings) *Breaker {
	settings.withDefaults()
	return &Breaker{settings: settings}
}

// Acquire asks permission to issue one request. The returned generation
// must be passed to Record with the outcome.
func (b *Breaker) Acquire() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, gen := b.currentState(now)

	switch {
	case state == StateOpen:
		return gen, ErrOpen
	case state == StateHalfOpen && b.counts.requests >= b.settings.MaxProbes:
		return gen, ErrProbeLimit
	}

	b.counts.requests++
	return gen, nil
}

// Record reports the outcome of a request admitted by Acquire.
func (b *Breaker) Record(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.currentState(now)
	if generation != current {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

// Do runs fn under the breaker, counting any error as a failure. Callers
// that distinguish caller errors from upstream failures should use
// Acquire/Record directly.
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.Acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.Record(gen, err == nil)
	return err
}

// State returns the current position, applying any pending expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.consecutiveSuccesses++
		b.counts.consecutiveFailures = 0
	case StateHalfOpen:
		b.counts.consecutiveSuccesses++
		b.counts.consecutiveFailures = 0
		if b.counts.consecutiveSuccesses >= b.settings.MaxProbes {
			b.setState(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.consecutiveFailures++
		b.counts.consecutiveSuccesses = 0
		if b.counts.consecutiveFailures >= b.settings.TripThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.newGeneration(now)

	log.Warn().
		Str("host", b.settings.Host).
		Str("from", prev.String()).
		Str("to", state.String()).
		Msg("circuit breaker state change")

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Host, prev, state)
	}
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts.clear()

	switch b.state {
	case StateClosed:
		b.expiry = now.Add(b.settings.Window)
	case StateOpen:
		b.expiry = now.Add(b.settings.CoolDown)
	default:
		b.expiry = time.Time{}
	}
}

// HostSet hands out one breaker per upstream host.
type HostSet struct {
	mu       sync.RWMutex
	defaults Settings
	hosts    map[string]*Breaker
}

// NewHostSet creates a set using defaults for every new host.
func NewHostSet(defaults Settings) *HostSet {
	defaults.withDefaults()
	return &HostSet{
		defaults: defaults,
		hosts:    make(map[string]*Breaker),
	}
}

// For returns the host's breaker, creating it on first use.
func (h *HostSet) For(host string) *Breaker {
	h.mu.RLock()
	b, ok := h.hosts[host]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.hosts[host]; ok {
		return b
	}
	settings := h.defaults
	settings.Host = host
	b = New(settings)
	h.hosts[host] = b
	return b
}

// States snapshots every host's position for diagnostics.
func (h *HostSet) States() map[string]State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]State, len(h.hosts))
	for host, b := range h.hosts {
		out[host] = b.State()
	}
	return out
}
