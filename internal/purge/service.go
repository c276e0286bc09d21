package purge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/backoff"
	"github.com/edgebridge-io/edgebridge/internal/metrics"
	"github.com/edgebridge-io/edgebridge/internal/ratelimit"
)

// Request is one purge submission from a caller.
type Request struct {
	Kind    Kind     `json:"kind"`
	Network Network  `json:"network"`
	Objects []string `json:"objects"`
}

// Config tunes the pipeline. Clients is required; everything else has
// a default.
type Config struct {
	// QueueDir holds one JSON file per tenant queue. Empty disables
	// queue persistence.
	QueueDir string
	// StatusDir holds one JSON file per terminal operation. Empty
	// disables status persistence.
	StatusDir string
	// DepthCeiling caps queued operations per tenant.
	DepthCeiling int
	// DedupWindow rejects identical purges admitted within it.
	DedupWindow time.Duration
	// PersistEvery is the queue snapshot cadence.
	PersistEvery time.Duration
	// Retention bounds how long terminal records are kept.
	Retention time.Duration
	// MaxAttempts bounds send attempts per operation.
	MaxAttempts int
	// Limits sizes the per-tenant limiter pair.
	Limits ratelimit.Config
	// Backoff paces retries between failed send attempts.
	Backoff backoff.Policy
	// Clients resolves the signed transport for a tenant.
	Clients ClientFunc
}

func (c *Config) withDefaults() error {
	if c.Clients == nil {
		return fmt.Errorf("purge: Clients is required")
	}
	if c.DepthCeiling <= 0 {
		c.DepthCeiling = 1000
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Minute
	}
	if c.PersistEvery <= 0 {
		c.PersistEvery = 10 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Limits == (ratelimit.Config{}) {
		c.Limits = ratelimit.DefaultConfig()
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff = backoff.Default()
	}
	return nil
}

// Service is the FastPurge pipeline: admission, batching, rate-limited
// submission, durable queues, and status tracking.
type Service struct {
	cfg     Config
	limiter *ratelimit.TenantLimiter
	tracker *tracker

	mu      sync.Mutex
	queues  map[string]*tenantQueue
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService builds the pipeline. Call Start to begin draining.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:     cfg,
		limiter: ratelimit.NewTenantLimiter(cfg.Limits),
		queues:  make(map[string]*tenantQueue),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.tracker = newTracker(ctx, &s.wg, cfg.StatusDir, cfg.Retention, cfg.Clients)
	s.tracker.onTerminal = func(q *tenantQueue, op *Operation) {
		q.remove(op.ID)
	}
	return s, nil
}

// Start replays persisted queues and terminal records, then launches
// the workers and the persistence loop.
func (s *Service) Start() error {
	if s.cfg.QueueDir != "" {
		if err := os.MkdirAll(s.cfg.QueueDir, 0o700); err != nil {
			return fmt.Errorf("creating queue dir: %w", err)
		}
	}
	if s.cfg.StatusDir != "" {
		if err := os.MkdirAll(s.cfg.StatusDir, 0o700); err != nil {
			return fmt.Errorf("creating status dir: %w", err)
		}
	}

	var resume []*watchEntry
	if s.cfg.QueueDir != "" {
		for tenant, ops := range loadQueueFiles(s.cfg.QueueDir) {
			q := s.queue(tenant)
			tracked := q.restore(ops, s.cfg.DedupWindow)
			for _, op := range tracked {
				resume = append(resume, &watchEntry{q: q, op: op})
			}
			log.Info().Str("tenant", tenant).Int("count", len(ops)).
				Msg("purge queue reloaded")
		}
	}

	s.tracker.start()

	s.mu.Lock()
	s.started = true
	for _, q := range s.queues {
		s.startWorker(q)
	}
	s.mu.Unlock()

	for _, e := range resume {
		s.tracker.track(e.q, e.op)
	}

	s.wg.Add(1)
	go s.persistLoop()
	return nil
}

// queue returns the tenant's queue, creating it (and its worker, once
// the service is started) on first use.
func (s *Service) queue(tenant string) *tenantQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[tenant]
	if !ok {
		q = newTenantQueue(tenant)
		s.queues[tenant] = q
		if s.started {
			s.startWorker(q)
		}
	}
	return q
}

// startWorker launches the single drain worker for a queue. Callers
// hold s.mu.
func (s *Service) startWorker(q *tenantQueue) {
	s.wg.Add(1)
	go s.worker(q)
}

// Enqueue admits one purge request and returns its initial progress
// view. The operation drains asynchronously.
func (s *Service) Enqueue(_ context.Context, tenant string, req Request) (Progress, error) {
	if s.ctx.Err() != nil {
		return Progress{}, apierr.Transient("purge pipeline is shutting down", s.ctx.Err())
	}
	if strings.TrimSpace(tenant) == "" {
		return Progress{}, apierr.Validation("purge requires a tenant")
	}
	if !req.Kind.valid() {
		return Progress{}, apierr.Validation("unknown purge kind %q", req.Kind)
	}
	if req.Network == "" {
		req.Network = NetworkProduction
	}
	if !req.Network.valid() {
		return Progress{}, apierr.Validation("unknown purge network %q", req.Network)
	}
	if len(req.Objects) == 0 {
		return Progress{}, apierr.Validation("purge requires at least one object")
	}
	for _, o := range req.Objects {
		if strings.TrimSpace(o) == "" {
			return Progress{}, apierr.Validation("purge objects must be non-empty")
		}
	}

	objects := append([]string(nil), req.Objects...)
	op := &Operation{
		ID:            uuid.NewString(),
		Tenant:        tenant,
		Kind:          req.Kind,
		Network:       req.Network,
		Objects:       objects,
		Priority:      PriorityFor(req.Kind, len(objects)),
		DedupKey:      DedupKey(req.Kind, objects),
		EstimatedSize: EstimateSize(objects),
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}

	q := s.queue(tenant)
	dup, full := q.admit(op, s.cfg.DedupWindow, s.cfg.DepthCeiling)
	if dup {
		return Progress{}, apierr.Conflict(
			"duplicate purge: an identical %s purge was admitted within the last %s",
			req.Kind, s.cfg.DedupWindow)
	}
	if full {
		return Progress{}, apierr.Transient(fmt.Sprintf(
			"purge queue for tenant %q is at capacity (%d queued); retry shortly",
			tenant, s.cfg.DepthCeiling), nil)
	}

	log.Debug().Str("operationId", op.ID).Str("tenant", tenant).
		Str("kind", string(req.Kind)).Int("objects", len(objects)).
		Int("priority", op.Priority).Msg("purge admitted")
	q.notify()
	return s.tracker.progressOf(op), nil
}

// Status reports an operation's progress, live or terminal.
func (s *Service) Status(id string) (Progress, error) {
	if p, err := s.tracker.status(id); err == nil {
		return p, nil
	}
	// The operation may still be queued, not yet handed to the tracker.
	s.mu.Lock()
	queues := make([]*tenantQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()
	for _, q := range queues {
		q.mu.Lock()
		for _, op := range q.ops {
			if op.ID == id {
				q.mu.Unlock()
				return s.tracker.progressOf(op), nil
			}
		}
		q.mu.Unlock()
	}
	return Progress{}, apierr.NotFound("purge operation %s not found", id)
}

// Dashboard renders one tenant's aggregates.
func (s *Service) Dashboard(tenant string) *Dashboard {
	active := 0
	s.mu.Lock()
	if q, ok := s.queues[tenant]; ok {
		s.mu.Unlock()
		active = q.active()
	} else {
		s.mu.Unlock()
	}
	utilization := 100 * s.limiter.Utilization(tenant)
	return s.tracker.dashboard(tenant, active, utilization)
}

// Advise scans the tenant's queued URL purges for consolidation
// opportunities. Read-only.
func (s *Service) Advise(tenant string) []Suggestion {
	s.mu.Lock()
	q, ok := s.queues[tenant]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return advise(q.pendingURLObjects())
}

// Subscribe registers a progress listener for all tenants. The caller
// filters; the returned function unsubscribes.
func (s *Service) Subscribe(fn func(Progress)) func() {
	return s.tracker.subscribe(fn)
}

// Shutdown stops the workers, waits for them up to the context
// deadline, and writes a final snapshot of every queue.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		log.Warn().Msg("purge shutdown deadline reached before workers drained")
	}
	s.persistAll(true)
	s.limiter.Stop()
	return err
}

// worker drains one tenant queue. Exactly one per queue.
func (s *Service) worker(q *tenantQueue) {
	defer s.wg.Done()
	for {
		op := q.take()
		if op == nil {
			select {
			case <-s.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		s.process(q, op)
		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

// process submits every outstanding batch of one operation, then hands
// it to the tracker.
func (s *Service) process(q *tenantQueue, op *Operation) {
	client, err := s.cfg.Clients(q.tenant)
	if err != nil {
		s.sendFailure(q, op, fmt.Errorf("resolving signed client: %w", err))
		return
	}

	op.mu.Lock()
	remaining := append([]string(nil), op.Objects[op.sentLocked():]...)
	kind, network := op.Kind, op.Network
	op.mu.Unlock()

	for _, objects := range partition(remaining) {
		if !s.waitForSlot(q.tenant) {
			s.requeue(q, op)
			return
		}
		resp, err := s.submit(client, op, kind, network, objects)
		if err != nil {
			s.sendFailure(q, op, err)
			return
		}

		now := time.Now()
		first := false
		op.mu.Lock()
		op.Batches = append(op.Batches, Batch{
			PurgeID:          resp.PurgeID,
			SupportID:        resp.SupportID,
			Count:            len(objects),
			EstimatedSeconds: resp.EstimatedSeconds,
			State:            BatchInProgress,
			SubmittedAt:      now,
		})
		if op.Status != StatusInProgress {
			op.Status = StatusInProgress
			first = true
		}
		if op.SubmittedAt.IsZero() {
			op.SubmittedAt = now
		}
		op.mu.Unlock()
		q.markDirty()

		log.Debug().Str("operationId", op.ID).Str("purgeId", resp.PurgeID).
			Int("objects", len(objects)).Int("estimatedSeconds", resp.EstimatedSeconds).
			Msg("purge batch accepted")
		if first {
			s.tracker.publish(s.tracker.progressOf(op))
		}
	}

	s.tracker.track(q, op)
}

// waitForSlot blocks until the tenant limiter grants a send slot.
// Returns false on shutdown.
func (s *Service) waitForSlot(tenant string) bool {
	for {
		ok, wait := s.limiter.TryAcquire(tenant)
		if ok {
			return true
		}
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		if backoff.Sleep(s.ctx, wait) != nil {
			return false
		}
	}
}

// submit sends one batch, waiting out upstream throttles without
// consuming a send attempt.
func (s *Service) submit(client Doer, op *Operation, kind Kind, network Network, objects []string) (*submitResponse, error) {
	for {
		start := time.Now()
		resp, err := submitBatch(s.ctx, client, kind, network, objects)
		metrics.PurgeLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.PurgeBatches.WithLabelValues("success").Inc()
			return resp, nil
		}
		if apiErr, ok := apierr.AsError(err); ok && apiErr.Kind == apierr.KindRateLimited {
			metrics.PurgeBatches.WithLabelValues("ratelimited").Inc()
			wait := apiErr.RetryAfter
			if wait <= 0 {
				wait = time.Minute
			}
			log.Warn().Str("tenant", op.Tenant).Dur("wait", wait).
				Msg("purge submission throttled upstream")
			if backoff.Sleep(s.ctx, wait) != nil {
				return nil, err
			}
			continue
		}
		metrics.PurgeBatches.WithLabelValues("failure").Inc()
		return nil, err
	}
}

// sendFailure consumes a send attempt. Under the cap the operation
// returns to the queue; past it the unsent remainder is recorded as a
// failed batch and the tracker classifies the outcome.
func (s *Service) sendFailure(q *tenantQueue, op *Operation, err error) {
	if s.ctx.Err() != nil {
		s.requeue(q, op)
		return
	}

	now := time.Now()
	op.mu.Lock()
	op.Attempts++
	op.LastError = err.Error()
	attempts := op.Attempts
	if attempts >= s.cfg.MaxAttempts {
		if rem := len(op.Objects) - op.sentLocked(); rem > 0 {
			op.Batches = append(op.Batches, Batch{
				Count:       rem,
				State:       BatchFailed,
				SubmittedAt: now,
				CompletedAt: now,
				Error:       op.LastError,
			})
		}
		op.mu.Unlock()
		q.markDirty()
		log.Warn().Str("operationId", op.ID).Str("tenant", op.Tenant).
			Int("attempts", attempts).Err(err).
			Msg("purge operation exhausted send attempts")
		s.tracker.track(q, op)
		return
	}
	op.Status = StatusPending
	op.mu.Unlock()
	q.markDirty()

	log.Warn().Str("operationId", op.ID).Str("tenant", op.Tenant).
		Int("attempts", attempts).Err(err).Msg("purge send failed; requeued")
	backoff.Sleep(s.ctx, s.cfg.Backoff.Delay(attempts-1))
	q.notify()
}

// requeue returns a claimed operation to the queue without consuming
// an attempt. Used when shutdown interrupts submission.
func (s *Service) requeue(q *tenantQueue, op *Operation) {
	op.mu.Lock()
	if op.Status == StatusProcessing {
		op.Status = StatusPending
	}
	op.mu.Unlock()
	q.markDirty()
}

func (s *Service) persistLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PersistEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.persistAll(false)
		}
	}
}

// persistAll snapshots dirty queues under their locks and writes the
// files outside them.
func (s *Service) persistAll(force bool) {
	if s.cfg.QueueDir == "" {
		return
	}
	s.mu.Lock()
	queues := make([]*tenantQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		snap := q.snapshotIfDirty(force)
		if snap == nil {
			continue
		}
		if err := saveQueueFile(s.cfg.QueueDir, q.tenant, snap); err != nil {
			log.Error().Err(err).Str("tenant", q.tenant).Msg("persisting purge queue")
			q.markDirty()
		}
	}
}
