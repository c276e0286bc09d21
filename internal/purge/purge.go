// Package purge implements the FastPurge pipeline: admission with
// deduplication and priorities, size-bounded batching, per-tenant rate
// limiting, durable queues, and status tracking of submitted purge IDs
// until they reach a terminal state.
package purge

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind identifies what a purge operation targets.
type Kind string

const (
	KindURL    Kind = "url"
	KindCPCode Kind = "cpcode"
	KindTag    Kind = "tag"
)

func (k Kind) valid() bool {
	switch k {
	case KindURL, KindCPCode, KindTag:
		return true
	}
	return false
}

// Network selects the delivery network a purge applies to.
type Network string

const (
	NetworkStaging    Network = "staging"
	NetworkProduction Network = "production"
)

func (n Network) valid() bool {
	return n == NetworkStaging || n == NetworkProduction
}

// Status is the lifecycle of a purge operation. An operation is
// terminal once it reaches completed, partial, or failed.
type Status string

const (
	// StatusPending: admitted, waiting for a worker.
	StatusPending Status = "pending"
	// StatusProcessing: a worker owns it but no batch has shipped yet.
	StatusProcessing Status = "processing"
	// StatusInProgress: at least one batch was accepted upstream.
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// BatchState is the lifecycle of a single submitted batch.
type BatchState string

const (
	BatchPending    BatchState = "pending"
	BatchInProgress BatchState = "in-progress"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
)

func (s BatchState) terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// Priorities. Lower drains first. Tag purges are cheapest upstream,
// cpcode next; URL purges sort behind both, and bulk URL purges
// (>= bulkThreshold objects) drain last.
const (
	PriorityTag     = 0
	PriorityCPCode  = 1
	PriorityURL     = 2
	PriorityBulkURL = 3

	bulkThreshold = 100
)

// PriorityFor returns the drain priority for a purge of the given kind
// and object count.
func PriorityFor(kind Kind, objectCount int) int {
	switch kind {
	case KindTag:
		return PriorityTag
	case KindCPCode:
		return PriorityCPCode
	default:
		if objectCount < bulkThreshold {
			return PriorityURL
		}
		return PriorityBulkURL
	}
}

// Batch limits. A request body may not exceed maxBatchBytes once
// serialized, nor carry more than maxBatchObjects entries.
const (
	maxBatchBytes   = 50 << 10
	maxBatchObjects = 5000

	// batchEnvelopeBytes approximates the fixed JSON framing around
	// the objects array: {"objects":[]}.
	batchEnvelopeBytes = 14
	// perObjectOverhead covers the quotes and separating comma each
	// serialized object adds beyond its own bytes.
	perObjectOverhead = 3
)

// Batch is one upstream submission carved from an operation. Object
// membership is implied by position: batches cover the operation's
// object list in order, so the sum of Count fields is the cursor for
// resuming an interrupted submission.
type Batch struct {
	PurgeID          string     `json:"purgeId,omitempty"`
	SupportID        string     `json:"supportId,omitempty"`
	Count            int        `json:"count"`
	EstimatedSeconds int        `json:"estimatedSeconds,omitempty"`
	State            BatchState `json:"state"`
	SubmittedAt      time.Time  `json:"submittedAt"`
	CompletedAt      time.Time  `json:"completedAt,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Operation is one admitted purge request. Field mutation is guarded
// by mu; queue membership is guarded by the owning tenant queue.
type Operation struct {
	mu sync.Mutex

	ID            string    `json:"id"`
	Tenant        string    `json:"tenant"`
	Kind          Kind      `json:"kind"`
	Network       Network   `json:"network"`
	Objects       []string  `json:"objects"`
	Priority      int       `json:"priority"`
	DedupKey      string    `json:"dedupKey"`
	EstimatedSize int       `json:"estimatedSize"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"lastError,omitempty"`
	Batches       []Batch   `json:"batches,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	SubmittedAt   time.Time `json:"submittedAt,omitempty"`
	EndedAt       time.Time `json:"endedAt,omitempty"`
	MaxProgress   int       `json:"maxProgress"`
}

// sentLocked reports how many objects are covered by recorded batches.
// Callers hold op.mu.
func (op *Operation) sentLocked() int {
	n := 0
	for _, b := range op.Batches {
		n += b.Count
	}
	return n
}

// needsSend reports whether the operation still has objects that were
// never handed to the back-end.
func (op *Operation) needsSend() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	switch op.Status {
	case StatusPending:
		return true
	case StatusInProgress:
		return op.sentLocked() < len(op.Objects)
	}
	return false
}

// snapshot deep-copies the operation for persistence or callbacks.
func (op *Operation) snapshot() *Operation {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.snapshotLocked()
}

func (op *Operation) snapshotLocked() *Operation {
	cp := Operation{
		ID:            op.ID,
		Tenant:        op.Tenant,
		Kind:          op.Kind,
		Network:       op.Network,
		Objects:       append([]string(nil), op.Objects...),
		Priority:      op.Priority,
		DedupKey:      op.DedupKey,
		EstimatedSize: op.EstimatedSize,
		Status:        op.Status,
		Attempts:      op.Attempts,
		LastError:     op.LastError,
		Batches:       append([]Batch(nil), op.Batches...),
		CreatedAt:     op.CreatedAt,
		SubmittedAt:   op.SubmittedAt,
		EndedAt:       op.EndedAt,
		MaxProgress:   op.MaxProgress,
	}
	return &cp
}

// DedupKey derives the admission fingerprint for a purge request:
// SHA-256 over the kind and the sorted object list. Two requests with
// the same kind and object set collide regardless of object order.
func DedupKey(kind Kind, objects []string) string {
	sorted := append([]string(nil), objects...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// EstimateSize approximates the serialized byte size of the request
// body carrying the given objects.
func EstimateSize(objects []string) int {
	size := batchEnvelopeBytes
	for _, o := range objects {
		size += len(o) + perObjectOverhead
	}
	return size
}

// partition splits objects into batches that each satisfy the size and
// count caps. Greedy first fill; an object whose serialized size alone
// exceeds the byte cap still ships as a singleton batch.
func partition(objects []string) [][]string {
	var (
		batches [][]string
		current []string
		size    = batchEnvelopeBytes
	)
	for _, o := range objects {
		cost := len(o) + perObjectOverhead
		if len(current) > 0 && (size+cost > maxBatchBytes || len(current) >= maxBatchObjects) {
			batches = append(batches, current)
			current = nil
			size = batchEnvelopeBytes
		}
		current = append(current, o)
		size += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
