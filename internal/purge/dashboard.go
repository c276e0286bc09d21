package purge

import "time"

const (
	errorRingCap  = 50
	errorRingTrim = 25
)

// OpError is one recorded failure, scoped to the tenant's error ring.
type OpError struct {
	OperationID string    `json:"operationId"`
	Kind        Kind      `json:"kind"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// Dashboard aggregates one tenant's purge activity.
type Dashboard struct {
	Tenant               string    `json:"tenant"`
	Active               int       `json:"active"`
	CompletedToday       int       `json:"completedToday"`
	FailedToday          int       `json:"failedToday"`
	ObjectsToday         int       `json:"objectsToday"`
	TotalObjectsPurged   int       `json:"totalObjectsPurged"`
	SuccessRate          float64   `json:"successRate"`
	FailureRate          float64   `json:"failureRate"`
	AvgCompletionSeconds float64   `json:"avgCompletionSeconds"`
	RateLimitUtilization float64   `json:"rateLimitUtilization"`
	RecentErrors         []OpError `json:"recentErrors"`
	GeneratedAt          time.Time `json:"generatedAt"`
}

// tenantStats accumulates terminal outcomes for one tenant. Guarded by
// the tracker's mutex.
type tenantStats struct {
	day            string
	completedToday int
	failedToday    int
	objectsToday   int

	terminalOps    int
	totalCompleted int
	totalFailed    int
	totalPartial   int
	totalObjects   int

	durationSum   time.Duration
	durationCount int

	errors []OpError
}

// roll resets the per-day counters when the date changes.
func (st *tenantStats) roll(now time.Time) {
	day := now.Format("2006-01-02")
	if st.day == day {
		return
	}
	st.day = day
	st.completedToday = 0
	st.failedToday = 0
	st.objectsToday = 0
}

// record folds one terminal operation into the aggregates.
func (st *tenantStats) record(op *Operation, now time.Time) {
	st.roll(now)
	st.terminalOps++

	processed := 0
	for _, b := range op.Batches {
		if b.State == BatchCompleted {
			processed += b.Count
		}
	}
	st.objectsToday += processed
	st.totalObjects += processed

	switch op.Status {
	case StatusCompleted:
		st.completedToday++
		st.totalCompleted++
	case StatusPartial:
		st.totalPartial++
	case StatusFailed:
		st.failedToday++
		st.totalFailed++
	}

	if !op.EndedAt.IsZero() && op.EndedAt.After(op.CreatedAt) {
		st.durationSum += op.EndedAt.Sub(op.CreatedAt)
		st.durationCount++
	}

	if op.LastError != "" {
		st.pushError(OpError{OperationID: op.ID, Kind: op.Kind, Message: op.LastError, At: now})
	}
	for _, b := range op.Batches {
		if b.State == BatchFailed && b.Error != "" && b.Error != op.LastError {
			st.pushError(OpError{OperationID: op.ID, Kind: op.Kind, Message: b.Error, At: now})
		}
	}
}

// pushError appends to the ring; past the cap the ring trims to the
// most recent entries.
func (st *tenantStats) pushError(e OpError) {
	st.errors = append(st.errors, e)
	if len(st.errors) > errorRingCap {
		st.errors = append([]OpError(nil), st.errors[len(st.errors)-errorRingTrim:]...)
	}
}

// view renders the aggregates. Active count and limiter utilization
// come from the caller, which owns those subsystems.
func (st *tenantStats) view(tenant string, active int, utilization float64, now time.Time) *Dashboard {
	st.roll(now)

	d := &Dashboard{
		Tenant:               tenant,
		Active:               active,
		CompletedToday:       st.completedToday,
		FailedToday:          st.failedToday,
		ObjectsToday:         st.objectsToday,
		TotalObjectsPurged:   st.totalObjects,
		RateLimitUtilization: utilization,
		RecentErrors:         append([]OpError(nil), st.errors...),
		GeneratedAt:          now,
	}
	if st.terminalOps > 0 {
		d.SuccessRate = 100 * float64(st.totalCompleted) / float64(st.terminalOps)
		d.FailureRate = 100 * float64(st.totalFailed) / float64(st.terminalOps)
	}
	if st.durationCount > 0 {
		d.AvgCompletionSeconds = st.durationSum.Seconds() / float64(st.durationCount)
	}
	return d
}
