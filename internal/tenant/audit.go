package tenant

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Audit outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "denied"
	OutcomeError  = "error"
)

// AuditRecord is one entry in the audit trail.
type AuditRecord struct {
	Time     time.Time `json:"time"`
	Subject  string    `json:"subject"`
	Action   string    `json:"action"`
	Resource string    `json:"resource"`
	Outcome  string    `json:"outcome"`
	Reason   string    `json:"reason,omitempty"`
}

// auditRingSize bounds the in-memory trail; older records exist only in
// the log stream.
const auditRingSize = 256

// AuditLog is a fixed-size ring of the most recent records. Every
// append is also written through zerolog so the trail survives in the
// log stream after the ring wraps.
type AuditLog struct {
	mu   sync.Mutex
	ring [auditRingSize]AuditRecord
	next int
	size int
}

// NewAuditLog creates an empty audit trail.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append records one decision.
func (a *AuditLog) Append(rec AuditRecord) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	a.mu.Lock()
	a.ring[a.next] = rec
	a.next = (a.next + 1) % auditRingSize
	if a.size < auditRingSize {
		a.size++
	}
	a.mu.Unlock()

	level := zerolog.InfoLevel
	if rec.Outcome != OutcomeOK {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Str("subject", rec.Subject).
		Str("action", rec.Action).
		Str("resource", rec.Resource).
		Str("outcome", rec.Outcome).
		Str("reason", rec.Reason).
		Msg("audit")
}

// Recent returns up to n records, most recent first.
func (a *AuditLog) Recent(n int) []AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 || n > a.size {
		n = a.size
	}
	out := make([]AuditRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (a.next - i + auditRingSize) % auditRingSize
		out = append(out, a.ring[idx])
	}
	return out
}

// Len reports how many records the ring currently holds.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}
