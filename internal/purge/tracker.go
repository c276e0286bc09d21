package purge

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/backoff"
)

// Progress is the user-visible view of an operation, rebuilt on every
// change and delivered to subscribers outside all locks.
type Progress struct {
	OperationID      string    `json:"operationId"`
	Tenant           string    `json:"tenant"`
	Kind             Kind      `json:"kind"`
	Network          Network   `json:"network"`
	Status           Status    `json:"status"`
	Progress         int       `json:"progress"`
	TotalBatches     int       `json:"totalBatches"`
	CompletedBatches int       `json:"completedBatches"`
	FailedBatches    int       `json:"failedBatches"`
	TotalObjects     int       `json:"totalObjects"`
	ProcessedObjects int       `json:"processedObjects"`
	RemainingSeconds int       `json:"remainingSeconds"`
	Attempts         int       `json:"attempts"`
	LastError        string    `json:"lastError,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

const (
	fastPollFor  = 10 * time.Second
	fastPoll     = time.Second
	slowPoll     = 5 * time.Second
	pollFloor    = 60 * time.Second
	pollPadding  = 30 * time.Second
	statusPerSec = 20 // global poll pacing across all operations
)

// tracker drives submitted batches to a terminal state, persists the
// outcome, and fans progress out to subscribers.
type tracker struct {
	dir        string
	retention  time.Duration
	sweepEvery time.Duration
	clients    ClientFunc
	pace       *rate.Limiter

	// poll cadence, narrowed in tests
	fastFor time.Duration
	fast    time.Duration
	slow    time.Duration

	ctx context.Context
	wg  *sync.WaitGroup

	mu         sync.Mutex
	live       map[string]*watchEntry
	done       map[string]*Operation
	stats      map[string]*tenantStats
	subs       map[int]func(Progress)
	nextSub    int
	onTerminal func(q *tenantQueue, op *Operation)
}

type watchEntry struct {
	q  *tenantQueue
	op *Operation
}

func newTracker(ctx context.Context, wg *sync.WaitGroup, dir string, retention time.Duration, clients ClientFunc) *tracker {
	return &tracker{
		dir:        dir,
		retention:  retention,
		sweepEvery: time.Hour,
		clients:    clients,
		pace:       rate.NewLimiter(rate.Limit(statusPerSec), statusPerSec),
		fastFor:    fastPollFor,
		fast:       fastPoll,
		slow:       slowPoll,
		ctx:        ctx,
		wg:         wg,
		live:       make(map[string]*watchEntry),
		done:       make(map[string]*Operation),
		stats:      make(map[string]*tenantStats),
		subs:       make(map[int]func(Progress)),
	}
}

// start loads surviving terminal records and begins the retention
// sweep.
func (t *tracker) start() {
	if t.dir != "" {
		if done := loadStatusFiles(t.dir, t.retention); len(done) > 0 {
			t.mu.Lock()
			for id, op := range done {
				t.done[id] = op
			}
			t.mu.Unlock()
			log.Info().Int("count", len(done)).Msg("terminal purge records reloaded")
		}
	}
	t.wg.Add(1)
	go t.sweepLoop()
}

// subscribe registers a progress listener; the returned function
// removes it.
func (t *tracker) subscribe(fn func(Progress)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// publish fans one progress snapshot out. Callers must not hold any
// lock.
func (t *tracker) publish(p Progress) {
	t.mu.Lock()
	fns := make([]func(Progress), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

// track takes ownership of an operation whose submission phase is
// over and polls its batches to completion.
func (t *tracker) track(q *tenantQueue, op *Operation) {
	t.mu.Lock()
	if _, already := t.live[op.ID]; already {
		t.mu.Unlock()
		return
	}
	t.live[op.ID] = &watchEntry{q: q, op: op}
	t.mu.Unlock()

	t.wg.Add(1)
	go t.watch(q, op)
}

func (t *tracker) watch(q *tenantQueue, op *Operation) {
	defer t.wg.Done()
	start := time.Now()

	if t.finalizeIfDone(q, op) {
		return
	}

	client, err := t.clients(op.Tenant)
	if err != nil {
		t.failLiveBatches(op, "resolving signed client: "+err.Error())
		t.finalizeIfDone(q, op)
		return
	}

	for {
		interval := t.slow
		if time.Since(start) < t.fastFor {
			interval = t.fast
		}
		if err := backoff.Sleep(t.ctx, interval); err != nil {
			// Shutdown: the queue file keeps the operation for replay.
			return
		}
		if changed := t.pollOnce(client, op); changed {
			t.publish(t.progressOf(op))
		}
		if t.finalizeIfDone(q, op) {
			return
		}
	}
}

// pollParams is the per-batch state a poll round needs, captured under
// the operation lock.
type pollParams struct {
	index       int
	purgeID     string
	submittedAt time.Time
	budget      time.Duration
}

// pollOnce queries every live batch in order and applies the observed
// states. Returns whether anything changed.
func (t *tracker) pollOnce(client Doer, op *Operation) bool {
	op.mu.Lock()
	var todo []pollParams
	for i, b := range op.Batches {
		if b.State.terminal() {
			continue
		}
		budget := time.Duration(2*b.EstimatedSeconds)*time.Second + pollPadding
		if budget < pollFloor {
			budget = pollFloor
		}
		todo = append(todo, pollParams{index: i, purgeID: b.PurgeID, submittedAt: b.SubmittedAt, budget: budget})
	}
	op.mu.Unlock()

	changed := false
	for _, p := range todo {
		if time.Since(p.submittedAt) > p.budget {
			op.mu.Lock()
			b := &op.Batches[p.index]
			if !b.State.terminal() {
				b.State = BatchFailed
				b.Error = "status poll budget exceeded"
				b.CompletedAt = time.Now()
				changed = true
			}
			op.mu.Unlock()
			continue
		}
		if p.purgeID == "" {
			continue
		}
		if err := t.pace.Wait(t.ctx); err != nil {
			return changed
		}
		st, err := pollStatus(t.ctx, client, p.purgeID)
		if err != nil {
			if t.ctx.Err() != nil {
				return changed
			}
			log.Debug().Str("purgeId", p.purgeID).Str("kind", string(apierr.KindOf(err))).
				Err(err).Msg("purge status poll failed")
			continue
		}
		next := batchStateFor(st.PurgeStatus)
		op.mu.Lock()
		b := &op.Batches[p.index]
		if !b.State.terminal() && b.State != next {
			b.State = next
			if st.EstimatedSeconds > 0 {
				b.EstimatedSeconds = st.EstimatedSeconds
			}
			if next.terminal() {
				b.CompletedAt = time.Now()
			}
			changed = true
		}
		op.mu.Unlock()
	}
	return changed
}

// failLiveBatches marks every non-terminal batch failed with the given
// reason.
func (t *tracker) failLiveBatches(op *Operation, reason string) {
	now := time.Now()
	op.mu.Lock()
	for i := range op.Batches {
		if !op.Batches[i].State.terminal() {
			op.Batches[i].State = BatchFailed
			op.Batches[i].Error = reason
			op.Batches[i].CompletedAt = now
		}
	}
	if op.LastError == "" {
		op.LastError = reason
	}
	op.mu.Unlock()
}

// finalizeIfDone classifies the operation once every batch is
// terminal, persists the record, updates aggregates, and notifies.
func (t *tracker) finalizeIfDone(q *tenantQueue, op *Operation) bool {
	now := time.Now()

	op.mu.Lock()
	if len(op.Batches) == 0 || op.sentLocked() < len(op.Objects) {
		op.mu.Unlock()
		return false
	}
	completed, failed := 0, 0
	for _, b := range op.Batches {
		switch b.State {
		case BatchCompleted:
			completed++
		case BatchFailed:
			failed++
		default:
			op.mu.Unlock()
			return false
		}
	}
	switch {
	case failed == 0:
		op.Status = StatusCompleted
	case completed > 0:
		op.Status = StatusPartial
	default:
		op.Status = StatusFailed
	}
	op.EndedAt = now
	snap := op.snapshotLocked()
	op.mu.Unlock()

	t.mu.Lock()
	delete(t.live, op.ID)
	t.done[op.ID] = snap
	st, ok := t.stats[op.Tenant]
	if !ok {
		st = &tenantStats{}
		t.stats[op.Tenant] = st
	}
	st.record(snap, now)
	t.mu.Unlock()

	if t.dir != "" {
		if err := saveStatusFile(t.dir, snap); err != nil {
			log.Warn().Err(err).Str("operationId", op.ID).Msg("persisting purge outcome")
		}
	}
	if t.onTerminal != nil {
		t.onTerminal(q, op)
	}

	log.Info().Str("operationId", op.ID).Str("tenant", op.Tenant).
		Str("status", string(snap.Status)).Int("batches", len(snap.Batches)).
		Msg("purge operation finished")
	t.publish(t.progressOf(op))
	return true
}

// progressOf renders the operation's current progress, keeping the
// percentage monotone until terminal.
func (t *tracker) progressOf(op *Operation) Progress {
	op.mu.Lock()
	defer op.mu.Unlock()
	return progressLocked(op)
}

func progressLocked(op *Operation) Progress {
	now := time.Now()

	total := len(op.Batches)
	if sent := op.sentLocked(); sent < len(op.Objects) {
		total += len(partition(op.Objects[sent:]))
	}

	completed, failed, processed, estimate := 0, 0, 0, 0
	for _, b := range op.Batches {
		switch b.State {
		case BatchCompleted:
			completed++
			processed += b.Count
		case BatchFailed:
			failed++
		}
		if b.EstimatedSeconds > estimate {
			estimate = b.EstimatedSeconds
		}
	}

	pct := 0
	if total > 0 {
		pct = int(math.Round(100 * float64(completed) / float64(total)))
	}
	if pct < op.MaxProgress {
		pct = op.MaxProgress
	} else {
		op.MaxProgress = pct
	}

	remaining := 0
	if !op.SubmittedAt.IsZero() && !op.Status.Terminal() {
		if r := estimate - int(now.Sub(op.SubmittedAt).Seconds()); r > 0 {
			remaining = r
		}
	}

	return Progress{
		OperationID:      op.ID,
		Tenant:           op.Tenant,
		Kind:             op.Kind,
		Network:          op.Network,
		Status:           op.Status,
		Progress:         pct,
		TotalBatches:     total,
		CompletedBatches: completed,
		FailedBatches:    failed,
		TotalObjects:     len(op.Objects),
		ProcessedObjects: processed,
		RemainingSeconds: remaining,
		Attempts:         op.Attempts,
		LastError:        op.LastError,
		CreatedAt:        op.CreatedAt,
		UpdatedAt:        now,
	}
}

// status looks an operation up among live, then terminal, records.
func (t *tracker) status(id string) (Progress, error) {
	t.mu.Lock()
	if entry, ok := t.live[id]; ok {
		t.mu.Unlock()
		return t.progressOf(entry.op), nil
	}
	snap, ok := t.done[id]
	t.mu.Unlock()
	if !ok {
		return Progress{}, apierr.NotFound("purge operation %s not found", id)
	}
	return t.progressOf(snap), nil
}

// dashboard renders one tenant's aggregates.
func (t *tracker) dashboard(tenant string, active int, utilization float64) *Dashboard {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.stats[tenant]
	if !ok {
		st = &tenantStats{}
		t.stats[tenant] = st
	}
	return st.view(tenant, active, utilization, time.Now())
}

func (t *tracker) sweepLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.sweep(time.Now())
		}
	}
}

// sweep drops terminal records past the retention horizon from memory
// and disk.
func (t *tracker) sweep(now time.Time) {
	cutoff := now.Add(-t.retention)

	t.mu.Lock()
	var expired []string
	for id, op := range t.done {
		if op.EndedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(t.done, id)
		}
	}
	t.mu.Unlock()

	for _, id := range expired {
		if t.dir != "" {
			removeStatusFile(t.dir, id)
		}
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("expired purge records removed")
	}
}
