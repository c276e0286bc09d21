// Package certdeploy drives certificate enrollments through network
// deployments: precondition checks, status polling, optional property
// linking, rollback, and an ordered event stream per enrollment.
package certdeploy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/metrics"
)

// EventType names one step of a deployment's event stream.
type EventType string

const (
	EventDeploymentStarted   EventType = "deployment:started"
	EventDeploymentProgress  EventType = "deployment:progress"
	EventDeploymentCompleted EventType = "deployment:completed"
	EventDeploymentFailed    EventType = "deployment:failed"
	EventPropertyLinking     EventType = "property:linking"
	EventPropertyLinked      EventType = "property:linked"
	EventRollbackStarted     EventType = "rollback:started"
	EventRollbackCompleted   EventType = "rollback:completed"
)

// Event is one observation from a deployment. Seq orders events
// bus-wide; per enrollment the stream is totally ordered because each
// enrollment has a single publishing goroutine.
type Event struct {
	Type         EventType `json:"type"`
	Tenant       string    `json:"tenant"`
	EnrollmentID int       `json:"enrollmentId"`
	Network      string    `json:"network"`
	Status       Status    `json:"status,omitempty"`
	Progress     int       `json:"progress"`
	PropertyID   string    `json:"propertyId,omitempty"`
	Version      int       `json:"version,omitempty"`
	Error        string    `json:"error,omitempty"`
	Seq          uint64    `json:"seq"`
	At           time.Time `json:"at"`
}

// Filter selects the events a subscription receives.
type Filter func(Event) bool

// MatchEnrollment keeps events for one enrollment.
func MatchEnrollment(enrollmentID int) Filter {
	return func(ev Event) bool { return ev.EnrollmentID == enrollmentID }
}

// MatchTenant keeps events for one tenant.
func MatchTenant(tenant string) Filter {
	return func(ev Event) bool { return ev.Tenant == tenant }
}

// Bus fans deployment events out to subscribers. Delivery never
// blocks: a subscriber whose buffer is full loses the event and its
// drop counter increments.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	nextSeq uint64
	subs    map[int]*Subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscription is one bounded listener. Receive from C; Close when
// done.
type Subscription struct {
	C <-chan Event

	bus     *Bus
	id      int
	ch      chan Event
	filters []Filter
	dropped atomic.Uint64
	closed  bool
}

// Dropped reports how many events this subscriber lost to a full
// buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s.id)
	close(s.ch)
}

// Subscribe registers a listener with the given buffer size. Events
// must pass every filter; no filters means everything.
func (b *Bus) Subscribe(buffer int, filters ...Filter) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, bus: b, ch: ch, filters: filters}

	b.mu.Lock()
	s.id = b.nextID
	b.nextID++
	b.subs[s.id] = s
	b.mu.Unlock()
	return s
}

// Publish stamps and delivers one event. Full subscriber buffers drop
// it rather than stalling the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	ev.Seq = b.nextSeq
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	for _, s := range b.subs {
		if !s.matches(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

func (s *Subscription) matches(ev Event) bool {
	for _, f := range s.filters {
		if !f(ev) {
			return false
		}
	}
	return true
}
