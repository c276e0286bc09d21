package purge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, dir string) *tracker {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	var wg sync.WaitGroup
	tr := newTracker(ctx, &wg, dir, 24*time.Hour, func(string) (Doer, error) {
		return nil, os.ErrNotExist
	})
	tr.onTerminal = func(q *tenantQueue, op *Operation) {
		q.remove(op.ID)
	}
	return tr
}

func terminalOp(id string, states ...BatchState) *Operation {
	op := &Operation{
		ID:        id,
		Tenant:    "acme",
		Kind:      KindURL,
		Network:   NetworkStaging,
		Status:    StatusInProgress,
		CreatedAt: time.Now().Add(-30 * time.Second),
	}
	for _, st := range states {
		op.Objects = append(op.Objects, "obj")
		b := Batch{PurgeID: "p", Count: 1, State: st, SubmittedAt: time.Now().Add(-20 * time.Second)}
		if st == BatchFailed {
			b.Error = "batch failed"
		}
		op.Batches = append(op.Batches, b)
	}
	return op
}

func TestFinalizeClassification(t *testing.T) {
	cases := []struct {
		name   string
		states []BatchState
		want   Status
	}{
		{"all done", []BatchState{BatchCompleted, BatchCompleted}, StatusCompleted},
		{"mixed", []BatchState{BatchCompleted, BatchFailed}, StatusPartial},
		{"none done", []BatchState{BatchFailed, BatchFailed}, StatusFailed},
		{"single done", []BatchState{BatchCompleted}, StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTracker(t, "")
			q := newTenantQueue("acme")
			op := terminalOp("op-"+tc.name, tc.states...)
			q.restore([]*Operation{op}, time.Minute)

			require.True(t, tr.finalizeIfDone(q, op))
			assert.Equal(t, tc.want, op.Status)
			assert.False(t, op.EndedAt.IsZero())
			assert.Zero(t, q.active(), "terminal operations leave the queue")

			p, err := tr.status(op.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Status)
		})
	}
}

func TestFinalizeRefusesWhileBatchesLive(t *testing.T) {
	tr := newTestTracker(t, "")
	q := newTenantQueue("acme")
	op := terminalOp("op-live", BatchCompleted, BatchInProgress)
	require.False(t, tr.finalizeIfDone(q, op))
	assert.Equal(t, StatusInProgress, op.Status)
}

func TestFinalizeRefusesUnsentRemainder(t *testing.T) {
	tr := newTestTracker(t, "")
	q := newTenantQueue("acme")
	op := terminalOp("op-remainder", BatchCompleted)
	op.Objects = append(op.Objects, "one-more")
	require.False(t, tr.finalizeIfDone(q, op))
}

func TestFinalizePersistsOutcome(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t, dir)
	q := newTenantQueue("acme")
	op := terminalOp("op-persist", BatchCompleted)
	q.restore([]*Operation{op}, time.Minute)

	require.True(t, tr.finalizeIfDone(q, op))

	path := filepath.Join(dir, "op-persist.json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	done := loadStatusFiles(dir, 24*time.Hour)
	require.Contains(t, done, "op-persist")
	assert.Equal(t, StatusCompleted, done["op-persist"].Status)
}

func TestPollBudgetExpiryFailsBatch(t *testing.T) {
	tr := newTestTracker(t, "")
	op := terminalOp("op-budget", BatchInProgress)
	// submitted well past max(2*estimate+30s, 60s)
	op.Batches[0].SubmittedAt = time.Now().Add(-2 * time.Minute)

	changed := tr.pollOnce(nil, op)
	assert.True(t, changed)
	assert.Equal(t, BatchFailed, op.Batches[0].State)
	assert.Contains(t, op.Batches[0].Error, "budget")
}

func TestSweepDropsExpiredRecords(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t, dir)

	old := terminalOp("op-old", BatchCompleted)
	old.Status = StatusCompleted
	old.EndedAt = time.Now().Add(-25 * time.Hour)
	fresh := terminalOp("op-fresh", BatchCompleted)
	fresh.Status = StatusCompleted
	fresh.EndedAt = time.Now().Add(-time.Hour)

	require.NoError(t, saveStatusFile(dir, old))
	require.NoError(t, saveStatusFile(dir, fresh))
	tr.done["op-old"] = old
	tr.done["op-fresh"] = fresh

	tr.sweep(time.Now())

	_, ok := tr.done["op-old"]
	assert.False(t, ok)
	_, ok = tr.done["op-fresh"]
	assert.True(t, ok)

	_, err := os.Stat(filepath.Join(dir, "op-old.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "op-fresh.json"))
	assert.NoError(t, err)
}

func TestLoadStatusFilesDropsExpired(t *testing.T) {
	dir := t.TempDir()
	old := terminalOp("op-ancient", BatchCompleted)
	old.Status = StatusCompleted
	old.EndedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, saveStatusFile(dir, old))

	done := loadStatusFiles(dir, 24*time.Hour)
	assert.Empty(t, done)
	_, err := os.Stat(filepath.Join(dir, "op-ancient.json"))
	assert.True(t, os.IsNotExist(err), "expired record removed during load")
}

func TestQueueFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ops := []*Operation{
		{
			ID: "op-1", Tenant: "acme", Kind: KindURL, Network: NetworkStaging,
			Objects: []string{"https://e.com/a"}, Priority: PriorityURL,
			DedupKey: DedupKey(KindURL, []string{"https://e.com/a"}),
			Status:   StatusPending, CreatedAt: time.Now().Truncate(time.Second),
		},
		{
			ID: "op-2", Tenant: "acme", Kind: KindTag, Network: NetworkProduction,
			Objects: []string{"campaign"}, Priority: PriorityTag,
			Status: StatusInProgress, CreatedAt: time.Now().Truncate(time.Second),
			Batches: []Batch{{PurgeID: "p-9", Count: 1, State: BatchInProgress,
				SubmittedAt: time.Now().Truncate(time.Second)}},
		},
	}
	require.NoError(t, saveQueueFile(dir, "acme", ops))

	loaded := loadQueueFiles(dir)
	require.Contains(t, loaded, "acme")
	require.Len(t, loaded["acme"], 2)
	assert.Equal(t, "op-1", loaded["acme"][0].ID)
	assert.Equal(t, KindTag, loaded["acme"][1].Kind)
	assert.Equal(t, "p-9", loaded["acme"][1].Batches[0].PurgeID)
}

func TestLoadQueueFilesSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600))
	require.NoError(t, saveQueueFile(dir, "good", []*Operation{{
		ID: "op-1", Tenant: "good", Kind: KindURL, Objects: []string{"x"},
		Status: StatusPending, CreatedAt: time.Now(),
	}}))

	loaded := loadQueueFiles(dir)
	assert.NotContains(t, loaded, "broken")
	assert.Contains(t, loaded, "good")
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.json")
	require.NoError(t, writeFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, writeFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestProgressTotalIncludesUnsentRemainder(t *testing.T) {
	op := &Operation{
		ID: "op-x", Tenant: "acme", Kind: KindURL, Network: NetworkStaging,
		Status:    StatusInProgress,
		CreatedAt: time.Now(),
		Objects:   []string{"a", "b", "c"},
		Batches:   []Batch{{PurgeID: "p1", Count: 1, State: BatchCompleted}},
	}
	op.mu.Lock()
	p := progressLocked(op)
	op.mu.Unlock()

	assert.Equal(t, 2, p.TotalBatches, "one sent, one planned for the remainder")
	assert.Equal(t, 50, p.Progress)
	assert.Equal(t, 1, p.ProcessedObjects)
}

func TestProgressNeverRegressesWhenTotalGrows(t *testing.T) {
	op := &Operation{
		ID: "op-y", Tenant: "acme", Kind: KindURL, Network: NetworkStaging,
		Status:    StatusInProgress,
		CreatedAt: time.Now(),
		Objects:   []string{"a"},
		Batches:   []Batch{{PurgeID: "p1", Count: 1, State: BatchCompleted}},
	}
	op.mu.Lock()
	first := progressLocked(op).Progress
	op.mu.Unlock()
	require.Equal(t, 100, first)

	// a replayed remainder widens the plan; the reported figure holds
	op.mu.Lock()
	op.Objects = append(op.Objects, "b", "c")
	second := progressLocked(op).Progress
	op.mu.Unlock()
	assert.Equal(t, 100, second)
}

func TestTrackerStatusPrefersLiveEntry(t *testing.T) {
	tr := newTestTracker(t, "")
	q := newTenantQueue("acme")
	op := terminalOp("op-live-status", BatchCompleted, BatchInProgress)
	tr.live[op.ID] = &watchEntry{q: q, op: op}

	p, err := tr.status(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, 1, p.CompletedBatches)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	tr := newTestTracker(t, "")
	var got []Progress
	off := tr.subscribe(func(p Progress) { got = append(got, p) })

	tr.publish(Progress{OperationID: "op-1"})
	require.Len(t, got, 1)

	off()
	tr.publish(Progress{OperationID: "op-2"})
	assert.Len(t, got, 1)
}
