package purge

import (
	"sort"
	"sync"
	"time"

	"github.com/edgebridge-io/edgebridge/internal/metrics"
)

// tenantQueue holds one tenant's non-terminal operations. The mutex
// guards slice membership and the dedup index; operation fields are
// guarded by each operation's own lock (q.mu acquired before op.mu,
// never the reverse). Exactly one worker drains a queue, so an
// operation handed out by take is owned by that worker until it is
// requeued or handed to the tracker.
type tenantQueue struct {
	tenant string

	mu     sync.Mutex
	ops    []*Operation
	recent map[string]time.Time // dedup key → admission time
	dirty  bool

	wake chan struct{}
}

func newTenantQueue(tenant string) *tenantQueue {
	return &tenantQueue{
		tenant: tenant,
		recent: make(map[string]time.Time),
		wake:   make(chan struct{}, 1),
	}
}

// notify nudges the worker without blocking.
func (q *tenantQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// admit appends an operation, enforcing the dedup window and the depth
// ceiling. Returns the duplicate admission time when the dedup key was
// seen within the window.
func (q *tenantQueue) admit(op *Operation, window time.Duration, ceiling int) (dup bool, full bool) {
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for key, at := range q.recent {
		if now.Sub(at) > window {
			delete(q.recent, key)
		}
	}
	if _, seen := q.recent[op.DedupKey]; seen {
		return true, false
	}
	if q.depthLocked() >= ceiling {
		return false, true
	}

	q.recent[op.DedupKey] = now
	q.ops = append(q.ops, op)
	sort.SliceStable(q.ops, func(i, j int) bool {
		return q.ops[i].Priority < q.ops[j].Priority
	})
	q.dirty = true
	q.gaugeLocked()
	return false, false
}

// depthLocked counts operations still waiting on submission work,
// including any currently claimed by the worker.
func (q *tenantQueue) depthLocked() int {
	n := 0
	for _, op := range q.ops {
		op.mu.Lock()
		queued := op.Status == StatusPending || op.Status == StatusProcessing ||
			(op.Status == StatusInProgress && op.sentLocked() < len(op.Objects))
		op.mu.Unlock()
		if queued {
			n++
		}
	}
	return n
}

func (q *tenantQueue) gaugeLocked() {
	metrics.PurgeQueueDepth.WithLabelValues(q.tenant).Set(float64(q.depthLocked()))
}

// take claims the highest-priority operation that still has objects to
// send. Pending operations flip to processing so a crash mid-claim
// replays as a consumed attempt.
func (q *tenantQueue) take() *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if !op.needsSend() {
			continue
		}
		op.mu.Lock()
		if op.Status == StatusPending {
			op.Status = StatusProcessing
		}
		op.mu.Unlock()
		q.dirty = true
		return op
	}
	return nil
}

// remove drops a terminal operation from the queue.
func (q *tenantQueue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			q.dirty = true
			break
		}
	}
	q.gaugeLocked()
}

// markDirty flags the queue for the next persistence tick.
func (q *tenantQueue) markDirty() {
	q.mu.Lock()
	q.dirty = true
	q.mu.Unlock()
}

// active counts all non-terminal operations, including those whose
// batches are being tracked.
func (q *tenantQueue) active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// snapshotIfDirty deep-copies the queue contents for persistence and
// clears the dirty flag. Returns nil when nothing changed and force is
// unset. The caller serializes and writes outside the lock.
func (q *tenantQueue) snapshotIfDirty(force bool) []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.dirty && !force {
		return nil
	}
	q.dirty = false
	snap := make([]*Operation, 0, len(q.ops))
	for _, op := range q.ops {
		snap = append(snap, op.snapshot())
	}
	return snap
}

// restore installs reloaded operations. Processing entries revert to
// pending and consume an attempt; the dedup index is rebuilt from the
// surviving admission times. Returns the operations whose batches were
// all submitted before the restart, which only need status tracking.
func (q *tenantQueue) restore(ops []*Operation, window time.Duration) []*Operation {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	var resume []*Operation
	for _, op := range ops {
		op.mu.Lock()
		if op.Status == StatusProcessing {
			op.Status = StatusPending
			op.Attempts++
		}
		if op.Status.Terminal() {
			op.mu.Unlock()
			continue
		}
		trackable := op.Status == StatusInProgress && op.sentLocked() == len(op.Objects)
		created, key := op.CreatedAt, op.DedupKey
		op.mu.Unlock()

		q.ops = append(q.ops, op)
		if now.Sub(created) <= window {
			q.recent[key] = created
		}
		if trackable {
			resume = append(resume, op)
		}
	}
	sort.SliceStable(q.ops, func(i, j int) bool {
		return q.ops[i].Priority < q.ops[j].Priority
	})
	q.dirty = true
	q.gaugeLocked()
	return resume
}

// pendingURLObjects snapshots the object lists of url-kind operations
// that have not finished submission, for the consolidation advisor.
func (q *tenantQueue) pendingURLObjects() [][]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out [][]string
	for _, op := range q.ops {
		if op.Kind != KindURL || !op.needsSend() {
			continue
		}
		op.mu.Lock()
		out = append(out, append([]string(nil), op.Objects[op.sentLocked():]...))
		op.mu.Unlock()
	}
	return out
}
