package certdeploy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/apierr"
	"github.com/edgebridge-io/edgebridge/internal/metrics"
	"github.com/edgebridge-io/edgebridge/internal/upstream"
)

// Status is the deployment lifecycle.
type Status string

const (
	// StatusPending: accepted, deployment POST not yet issued.
	StatusPending Status = "pending"
	// StatusInitiated: deployment created upstream, progress 10%.
	StatusInitiated Status = "initiated"
	// StatusInProgress: back-end reports active roll-out, progress 75%.
	StatusInProgress Status = "in-progress"
	// StatusDeployed: live on the network.
	StatusDeployed Status = "deployed"
	StatusFailed   Status = "failed"
	// StatusRolledBack: deployment cancelled, upstream or on request.
	StatusRolledBack Status = "rolled-back"
)

// Terminal reports whether no further lifecycle movement is expected.
func (s Status) Terminal() bool {
	return s == StatusDeployed || s == StatusFailed || s == StatusRolledBack
}

// statusRank orders the forward phase of the lifecycle so stale poll
// results can never move a deployment backwards.
func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusInitiated:
		return 1
	case StatusInProgress:
		return 2
	case StatusDeployed:
		return 3
	}
	return 4
}

// LinkState is the lifecycle of one property link.
type LinkState string

const (
	LinkPending LinkState = "pending"
	LinkLinking LinkState = "linking"
	LinkLinked  LinkState = "linked"
	LinkFailed  LinkState = "failed"
)

// PropertyLink records the outcome of pointing one property's
// hostnames at the enrollment.
type PropertyLink struct {
	PropertyID string    `json:"propertyId"`
	State      LinkState `json:"state"`
	Version    int       `json:"version,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// CertBackend is the slice of the certificate API the coordinator
// needs. Satisfied by *upstream.CPSClient.
type CertBackend interface {
	Enrollment(ctx context.Context, enrollmentID int) (*upstream.Enrollment, error)
	StartDeployment(ctx context.Context, enrollmentID int, network string) (*upstream.Deployment, error)
	Deployment(ctx context.Context, enrollmentID, deploymentID int) (*upstream.Deployment, error)
	CancelDeployment(ctx context.Context, enrollmentID, deploymentID int) error
}

// PropertyBackend is the slice of the property API used for linking.
// Satisfied by *upstream.PropertyClient.
type PropertyBackend interface {
	Get(ctx context.Context, propertyID string) (*upstream.Property, error)
	Hostnames(ctx context.Context, propertyID string, version int) ([]upstream.Hostname, error)
	UpdateHostnames(ctx context.Context, propertyID string, version int, hostnames []upstream.Hostname) error
}

// Backends bundles the tenant-bound clients a deployment runs
// against.
type Backends struct {
	CPS        CertBackend
	Properties PropertyBackend
}

// Options tunes one deployment.
type Options struct {
	// AutoLink lists property IDs whose hostnames should point at the
	// enrollment once it is deployed.
	AutoLink []string
	// ParallelLinking links properties concurrently instead of in
	// order.
	ParallelLinking bool
	// RollbackOnFailure cancels the deployment upstream when it fails,
	// or when every property link fails.
	RollbackOnFailure bool
}

// Deployment is a point-in-time snapshot of one deployment.
type Deployment struct {
	Tenant         string         `json:"tenant"`
	EnrollmentID   int            `json:"enrollmentId"`
	DeploymentID   int            `json:"deploymentId,omitempty"`
	Network        string         `json:"network"`
	Status         Status         `json:"status"`
	Progress       int            `json:"progress"`
	Links          []PropertyLink `json:"links,omitempty"`
	LinksCompleted int            `json:"linksCompleted"`
	LinksFailed    int            `json:"linksFailed"`
	Error          string         `json:"error,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	EndedAt        time.Time      `json:"endedAt,omitempty"`
}

// Error history bounds, matching the purge dashboard's ring.
const (
	errorHistoryCap  = 50
	errorHistoryTrim = 25
)

// deployment is the live record. All field access is guarded by mu;
// holding it across I/O or event publication is not allowed.
type deployment struct {
	mu sync.Mutex

	tenant       string
	enrollmentID int
	deploymentID int
	network      string
	status       Status
	progress     int
	links        []*PropertyLink
	completed    int
	failed       int
	errText      string
	errHistory   []string
	startedAt    time.Time
	endedAt      time.Time
}

func (d *deployment) view() *Deployment {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := &Deployment{
		Tenant:         d.tenant,
		EnrollmentID:   d.enrollmentID,
		DeploymentID:   d.deploymentID,
		Network:        d.network,
		Status:         d.status,
		Progress:       d.progress,
		LinksCompleted: d.completed,
		LinksFailed:    d.failed,
		Error:          d.errText,
		StartedAt:      d.startedAt,
		EndedAt:        d.endedAt,
	}
	for _, l := range d.links {
		out.Links = append(out.Links, *l)
	}
	out.Errors = append([]string(nil), d.errHistory...)
	return out
}

func (d *deployment) eventLocked(t EventType) Event {
	return Event{
		Type:         t,
		Tenant:       d.tenant,
		EnrollmentID: d.enrollmentID,
		Network:      d.network,
		Status:       d.status,
		Progress:     d.progress,
		Error:        d.errText,
	}
}

// recordErrorLocked appends to the bounded error history. Callers hold d.mu.
func (d *deployment) recordErrorLocked(msg string) {
	d.errHistory = append(d.errHistory, msg)
	if len(d.errHistory) > errorHistoryCap {
		d.errHistory = append([]string(nil), d.errHistory[len(d.errHistory)-errorHistoryTrim:]...)
	}
}

// aborted reports whether a failure or rollback ended the run early.
func (d *deployment) aborted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status == StatusFailed || d.status == StatusRolledBack
}

// Config tunes the coordinator. Zero fields take defaults.
type Config struct {
	Bus          *Bus
	PollInterval time.Duration
	PollBudget   time.Duration
}

// Coordinator owns certificate deployments: one active per enrollment,
// background polling, property linking, rollback.
type Coordinator struct {
	bus    *Bus
	poll   time.Duration
	budget time.Duration

	mu     sync.Mutex
	active map[int]*deployment
	last   map[int]*deployment

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a coordinator. The bus is created when not provided.
func New(cfg Config) *Coordinator {
	if cfg.Bus == nil {
		cfg.Bus = NewBus()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		bus:    cfg.Bus,
		poll:   cfg.PollInterval,
		budget: cfg.PollBudget,
		active: make(map[int]*deployment),
		last:   make(map[int]*deployment),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Bus exposes the event stream for subscribers.
func (c *Coordinator) Bus() *Bus {
	return c.bus
}

// Close stops background polling and waits for the runners.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Deploy validates preconditions, records the deployment, and drives
// it in the background. The returned snapshot reflects the accepted
// state; progress is observable via Status and the event bus.
func (c *Coordinator) Deploy(ctx context.Context, tenant string, be Backends, enrollmentID int, network string, opts Options) (*Deployment, error) {
	if c.ctx.Err() != nil {
		return nil, apierr.Transient("deployment coordinator is shutting down", c.ctx.Err())
	}
	if network != "staging" && network != "production" {
		return nil, apierr.Validation("unknown deployment network %q", network)
	}
	if be.CPS == nil {
		return nil, apierr.Internal("certificate backend not configured", nil)
	}
	if len(opts.AutoLink) > 0 && be.Properties == nil {
		return nil, apierr.Internal("property backend required for auto-linking", nil)
	}

	d := &deployment{
		tenant:       tenant,
		enrollmentID: enrollmentID,
		network:      network,
		status:       StatusPending,
		startedAt:    time.Now(),
	}
	for _, id := range opts.AutoLink {
		d.links = append(d.links, &PropertyLink{PropertyID: id, State: LinkPending})
	}

	// Reserve the enrollment before the precondition reads so two
	// racing deploys cannot both pass the check.
	c.mu.Lock()
	if _, busy := c.active[enrollmentID]; busy {
		c.mu.Unlock()
		return nil, apierr.Conflict("a deployment is already active for enrollment %d", enrollmentID)
	}
	c.active[enrollmentID] = d
	c.mu.Unlock()

	enr, err := be.CPS.Enrollment(ctx, enrollmentID)
	if err != nil {
		c.release(enrollmentID)
		return nil, err
	}
	if s := strings.ToLower(enr.Status); s != "active" && s != "modified" {
		c.release(enrollmentID)
		return nil, apierr.Validation(
			"enrollment %d status %q does not allow deployment (need active or modified)",
			enrollmentID, enr.Status)
	}
	if !enr.Validated() {
		c.release(enrollmentID)
		return nil, apierr.Validation("enrollment %d has domains pending validation", enrollmentID)
	}

	c.mu.Lock()
	c.last[enrollmentID] = d
	c.mu.Unlock()

	metrics.DeploymentTransitions.WithLabelValues(string(StatusPending)).Inc()
	c.publishType(d, EventDeploymentStarted, "")
	log.Info().Str("tenant", tenant).Int("enrollmentId", enrollmentID).
		Str("network", network).Int("autoLink", len(opts.AutoLink)).
		Msg("certificate deployment started")

	c.wg.Add(1)
	go c.run(d, be, opts)

	return d.view(), nil
}

// Status returns the most recent deployment snapshot for the
// enrollment.
func (c *Coordinator) Status(enrollmentID int) (*Deployment, error) {
	c.mu.Lock()
	d, ok := c.last[enrollmentID]
	c.mu.Unlock()
	if !ok {
		return nil, apierr.NotFound("no deployment recorded for enrollment %d", enrollmentID)
	}
	return d.view(), nil
}

// Rollback cancels the enrollment's most recent deployment upstream.
// Already-written property links stay in place.
func (c *Coordinator) Rollback(ctx context.Context, be Backends, enrollmentID int) (*Deployment, error) {
	c.mu.Lock()
	d, ok := c.last[enrollmentID]
	c.mu.Unlock()
	if !ok {
		return nil, apierr.NotFound("no deployment recorded for enrollment %d", enrollmentID)
	}

	d.mu.Lock()
	depID := d.deploymentID
	already := d.status == StatusRolledBack
	d.mu.Unlock()
	if already {
		return d.view(), nil
	}
	if depID == 0 {
		return nil, apierr.Conflict("deployment for enrollment %d has nothing to cancel upstream", enrollmentID)
	}

	c.publishType(d, EventRollbackStarted, "")
	if err := be.CPS.CancelDeployment(ctx, enrollmentID, depID); err != nil {
		return nil, err
	}
	c.markRolledBack(d, "rolled back on request")
	return d.view(), nil
}

func (c *Coordinator) release(enrollmentID int) {
	c.mu.Lock()
	delete(c.active, enrollmentID)
	c.mu.Unlock()
}

// run drives one deployment to its end state, then links properties.
func (c *Coordinator) run(d *deployment, be Backends, opts Options) {
	defer c.wg.Done()
	defer c.release(d.enrollmentID)
	defer func() {
		d.mu.Lock()
		if d.endedAt.IsZero() {
			d.endedAt = time.Now()
		}
		d.mu.Unlock()
	}()

	dep, err := be.CPS.StartDeployment(c.ctx, d.enrollmentID, d.network)
	if err != nil {
		c.fail(d, be, opts, fmt.Sprintf("starting deployment: %v", err))
		return
	}
	d.mu.Lock()
	d.deploymentID = dep.ID
	d.mu.Unlock()
	c.transition(d, StatusInitiated, 10)

	if !c.pollToCompletion(d, be, opts) {
		return
	}
	c.link(d, be, opts)
}

// pollToCompletion polls until deployed, failed, cancelled, timed out,
// or shut down. Returns true only for deployed.
func (c *Coordinator) pollToCompletion(d *deployment, be Backends, opts Options) bool {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	deadline := time.NewTimer(c.budget)
	defer deadline.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.fail(d, be, opts, "deployment canceled before completion")
			return false
		case <-deadline.C:
			c.fail(d, be, opts, fmt.Sprintf("deployment did not complete within %s", c.budget))
			return false
		case <-ticker.C:
		}

		if d.aborted() {
			return false
		}

		d.mu.Lock()
		depID := d.deploymentID
		d.mu.Unlock()

		dep, err := be.CPS.Deployment(c.ctx, d.enrollmentID, depID)
		if err != nil {
			if c.ctx.Err() != nil {
				c.fail(d, be, opts, "deployment canceled before completion")
				return false
			}
			d.mu.Lock()
			d.recordErrorLocked(fmt.Sprintf("status poll: %v", err))
			d.mu.Unlock()
			log.Warn().Int("enrollmentId", d.enrollmentID).Err(err).
				Msg("deployment status poll failed")
			continue
		}

		switch strings.ToLower(dep.Status) {
		case "active":
			c.transition(d, StatusDeployed, 100)
			c.publishType(d, EventDeploymentCompleted, "")
			log.Info().Int("enrollmentId", d.enrollmentID).Str("network", d.network).
				Msg("certificate deployment completed")
			return true
		case "pending":
			c.transition(d, StatusInitiated, 25)
		case "in-progress":
			c.transition(d, StatusInProgress, 75)
		case "failed":
			c.fail(d, be, opts, "back-end reported deployment failure")
			return false
		case "cancelled", "canceled":
			c.markCancelledUpstream(d)
			return false
		default:
			log.Warn().Int("enrollmentId", d.enrollmentID).Str("status", dep.Status).
				Msg("unrecognized deployment status; continuing to poll")
		}
	}
}

// transition applies a forward move and emits a progress event when
// the status or percentage changed. Stale observations never move the
// record backwards.
func (c *Coordinator) transition(d *deployment, to Status, progress int) {
	d.mu.Lock()
	changed := false
	if statusRank(to) > statusRank(d.status) {
		d.status = to
		metrics.DeploymentTransitions.WithLabelValues(string(to)).Inc()
		changed = true
	}
	if progress > d.progress {
		d.progress = progress
		changed = true
	}
	ev := d.eventLocked(EventDeploymentProgress)
	d.mu.Unlock()
	if changed {
		c.bus.Publish(ev)
	}
}

// publishType emits one event reflecting the record's current state.
func (c *Coordinator) publishType(d *deployment, t EventType, errMsg string) {
	d.mu.Lock()
	ev := d.eventLocked(t)
	if errMsg != "" {
		ev.Error = errMsg
	}
	d.mu.Unlock()
	c.bus.Publish(ev)
}

// fail moves the deployment to failed and, when requested, attempts an
// upstream rollback. A deployment that already failed or rolled back
// is left alone.
func (c *Coordinator) fail(d *deployment, be Backends, opts Options, reason string) {
	d.mu.Lock()
	if d.status == StatusFailed || d.status == StatusRolledBack {
		d.mu.Unlock()
		return
	}
	d.status = StatusFailed
	d.errText = reason
	d.recordErrorLocked(reason)
	d.endedAt = time.Now()
	ev := d.eventLocked(EventDeploymentFailed)
	d.mu.Unlock()

	metrics.DeploymentTransitions.WithLabelValues(string(StatusFailed)).Inc()
	log.Warn().Int("enrollmentId", d.enrollmentID).Str("network", d.network).
		Str("reason", reason).Msg("certificate deployment failed")
	c.bus.Publish(ev)

	if opts.RollbackOnFailure {
		c.attemptRollback(d, be)
	}
}

// markCancelledUpstream records a deployment the back-end cancelled
// out from under us.
func (c *Coordinator) markCancelledUpstream(d *deployment) {
	d.mu.Lock()
	if d.status == StatusFailed || d.status == StatusRolledBack {
		d.mu.Unlock()
		return
	}
	d.status = StatusRolledBack
	d.errText = "deployment cancelled upstream"
	d.recordErrorLocked(d.errText)
	d.endedAt = time.Now()
	ev := d.eventLocked(EventDeploymentFailed)
	d.mu.Unlock()

	metrics.DeploymentTransitions.WithLabelValues(string(StatusRolledBack)).Inc()
	log.Warn().Int("enrollmentId", d.enrollmentID).Msg("deployment cancelled upstream")
	c.bus.Publish(ev)
}

func (c *Coordinator) markRolledBack(d *deployment, reason string) {
	d.mu.Lock()
	d.status = StatusRolledBack
	if d.errText == "" {
		d.errText = reason
	}
	if d.endedAt.IsZero() {
		d.endedAt = time.Now()
	}
	d.mu.Unlock()
	metrics.DeploymentTransitions.WithLabelValues(string(StatusRolledBack)).Inc()
	c.publishType(d, EventRollbackCompleted, "")
	log.Info().Int("enrollmentId", d.enrollmentID).Msg("certificate deployment rolled back")
}

// attemptRollback cancels the upstream deployment after a failure. It
// runs on its own clock so shutdown cancellation cannot strand a
// half-failed deployment without the attempt.
func (c *Coordinator) attemptRollback(d *deployment, be Backends) {
	d.mu.Lock()
	depID := d.deploymentID
	d.mu.Unlock()
	if depID == 0 {
		return
	}

	c.publishType(d, EventRollbackStarted, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := be.CPS.CancelDeployment(ctx, d.enrollmentID, depID); err != nil {
		d.mu.Lock()
		d.recordErrorLocked(fmt.Sprintf("rollback cancel: %v", err))
		d.mu.Unlock()
		log.Warn().Int("enrollmentId", d.enrollmentID).Err(err).
			Msg("rollback cancel call failed; deployment stays failed")
		return
	}
	c.markRolledBack(d, "rolled back after failure")
}

// link points each requested property's hostnames at the enrollment.
// A single failure does not fail the deployment; all of them failing
// does when rollback-on-failure is set.
func (c *Coordinator) link(d *deployment, be Backends, opts Options) {
	d.mu.Lock()
	links := make([]*PropertyLink, len(d.links))
	copy(links, d.links)
	total := len(links)
	if total > 0 {
		// the linking phase owns the last stretch of the bar
		d.progress = 90
	}
	d.mu.Unlock()
	if total == 0 {
		return
	}

	if opts.ParallelLinking {
		var wg sync.WaitGroup
		for _, l := range links {
			wg.Add(1)
			go func(l *PropertyLink) {
				defer wg.Done()
				c.linkOne(d, be, l)
			}(l)
		}
		wg.Wait()
	} else {
		for _, l := range links {
			if d.aborted() {
				return
			}
			c.linkOne(d, be, l)
		}
	}

	d.mu.Lock()
	completed, failed := d.completed, d.failed
	d.mu.Unlock()
	log.Info().Int("enrollmentId", d.enrollmentID).Int("linked", completed).
		Int("failed", failed).Msg("property linking finished")

	if failed == total && opts.RollbackOnFailure {
		c.fail(d, be, opts, "all property links failed")
	}
}

func (c *Coordinator) linkOne(d *deployment, be Backends, l *PropertyLink) {
	d.mu.Lock()
	l.State = LinkLinking
	ev := d.eventLocked(EventPropertyLinking)
	ev.PropertyID = l.PropertyID
	d.mu.Unlock()
	c.bus.Publish(ev)

	version, err := c.writeLink(be, d.enrollmentID, l.PropertyID)

	d.mu.Lock()
	if err != nil {
		l.State = LinkFailed
		l.Error = err.Error()
		d.failed++
		d.recordErrorLocked(err.Error())
		d.linkProgressLocked()
		d.mu.Unlock()
		log.Warn().Int("enrollmentId", d.enrollmentID).Str("propertyId", l.PropertyID).
			Err(err).Msg("property link failed")
		return
	}
	l.State = LinkLinked
	l.Version = version
	d.completed++
	d.linkProgressLocked()
	ev = d.eventLocked(EventPropertyLinked)
	ev.PropertyID = l.PropertyID
	ev.Version = version
	d.mu.Unlock()
	c.bus.Publish(ev)
}

// linkProgressLocked recomputes the linking stretch: 90% plus the
// completed share of the final 10.
func (d *deployment) linkProgressLocked() {
	total := len(d.links)
	if total == 0 {
		return
	}
	d.progress = 90 + 10*d.completed/total
}

// writeLink reads the property's latest version hostnames, points
// their certificate reference at the enrollment, and writes them back.
func (c *Coordinator) writeLink(be Backends, enrollmentID int, propertyID string) (int, error) {
	ctx, cancel := context.WithTimeout(c.ctx, 2*time.Minute)
	defer cancel()

	prop, err := be.Properties.Get(ctx, propertyID)
	if err != nil {
		return 0, fmt.Errorf("reading property %s: %w", propertyID, err)
	}
	version := prop.LatestVersion
	hostnames, err := be.Properties.Hostnames(ctx, propertyID, version)
	if err != nil {
		return 0, fmt.Errorf("reading hostnames of %s v%d: %w", propertyID, version, err)
	}
	if len(hostnames) == 0 {
		return 0, fmt.Errorf("property %s v%d has no hostnames to link", propertyID, version)
	}
	for i := range hostnames {
		hostnames[i].CertEnrollmentID = enrollmentID
	}
	if err := be.Properties.UpdateHostnames(ctx, propertyID, version, hostnames); err != nil {
		return 0, fmt.Errorf("writing hostnames of %s v%d: %w", propertyID, version, err)
	}
	return version, nil
}
