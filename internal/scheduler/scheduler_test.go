package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/events"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/runner"
)

const waitFor = 5 * time.Second

// gatedExecutor holds every job until the test releases it
type gatedExecutor struct {
	mu         sync.Mutex
	gates      map[string]chan runner.Outcome
	started    chan string
	running    atomic.Int32
	maxRunning atomic.Int32
	ignoreCtx  bool
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{
		gates:   make(map[string]chan runner.Outcome),
		started: make(chan string, 100),
	}
}

func (e *gatedExecutor) gate(requestID string) chan runner.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.gates[requestID]
	if !ok {
		ch = make(chan runner.Outcome, 1)
		e.gates[requestID] = ch
	}
	return ch
}

func (e *gatedExecutor) Run(ctx context.Context, job models.Job) runner.Outcome {
	cur := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		peak := e.maxRunning.Load()
		if cur <= peak || e.maxRunning.CompareAndSwap(peak, cur) {
			break
		}
	}

	gate := e.gate(job.RequestID)
	e.started <- job.RequestID
	if e.ignoreCtx {
		return <-gate
	}
	select {
	case out := <-gate:
		return out
	case <-ctx.Done():
		return runner.Cancelled(ctx.Err().Error())
	}
}

func (e *gatedExecutor) release(requestID string) {
	e.gate(requestID) <- runner.Completed(models.JobResult{Output: map[string]string{"request": requestID}})
}

func (e *gatedExecutor) nextStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-e.started:
		return id
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a job to start")
		return ""
	}
}

func (e *gatedExecutor) assertNoStart(t *testing.T) {
	t.Helper()
	select {
	case id := <-e.started:
		t.Fatalf("unexpected start of %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

type executorFunc func(ctx context.Context, job models.Job) runner.Outcome

func (f executorFunc) Run(ctx context.Context, job models.Job) runner.Outcome {
	return f(ctx, job)
}

type memStore struct {
	mu   sync.Mutex
	jobs map[string]models.Job
	fail bool
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]models.Job)}
}

func (m *memStore) SaveJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database unavailable")
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memStore) get(id string) (models.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

func start(t *testing.T, exec Executor, opts Options) (*Scheduler, func()) {
	t.Helper()
	s := New(exec, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(waitFor):
				t.Error("scheduler did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return s, stop
}

func newJob(requestID string, priority models.Priority) models.Job {
	return models.Job{
		RequestID: requestID,
		Kind:      models.JobKindAccountCreation,
		Priority:  priority,
		Payload:   models.Payload{"username": requestID},
	}
}

func waitForState(t *testing.T, s *Scheduler, id string, state models.JobState) models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.Get(context.Background(), id)
		return err == nil && job.State == state
	}, waitFor, 5*time.Millisecond)
	return job
}

func transitions(t *testing.T, l *audit.Ledger, jobID string, from, to models.JobState) int {
	t.Helper()
	entries, err := l.Query(context.Background(), models.AuditFilter{
		SubjectID:  jobID,
		EventTypes: []models.AuditEventType{models.AuditJobTransition},
	})
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Detail["from"] == string(from) && e.Detail["to"] == string(to) {
			n++
		}
	}
	return n
}

func TestFiveNormalJobsWithCapTwo(t *testing.T) {
	exec := newGatedExecutor()
	s, _ := start(t, exec, Options{MaxConcurrentJobs: 2})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := s.Enqueue(ctx, newJob(fmt.Sprintf("R%d", i), models.PriorityNormal))
		require.NoError(t, err)
	}

	assert.Equal(t, "R1", exec.nextStarted(t))
	assert.Equal(t, "R2", exec.nextStarted(t))
	exec.assertNoStart(t)
	assert.Equal(t, 2, s.Running())
	assert.Equal(t, 3, s.QueueDepth())

	for i, next := range []string{"R3", "R4", "R5"} {
		exec.release(fmt.Sprintf("R%d", i+1))
		assert.Equal(t, next, exec.nextStarted(t))
	}
	exec.release("R4")
	exec.release("R5")

	require.Eventually(t, func() bool { return s.Running() == 0 && s.QueueDepth() == 0 }, waitFor, 5*time.Millisecond)
	assert.LessOrEqual(t, exec.maxRunning.Load(), int32(2))
	assert.Equal(t, int32(2), exec.maxRunning.Load())
}

func TestPriorityOrder(t *testing.T) {
	exec := newGatedExecutor()
	s, _ := start(t, exec, Options{MaxConcurrentJobs: 1})
	ctx := context.Background()

	_, err := s.Enqueue(ctx, newJob("blocker", models.PriorityLow))
	require.NoError(t, err)
	require.Equal(t, "blocker", exec.nextStarted(t))

	for _, j := range []struct {
		id string
		p  models.Priority
	}{
		{"low", models.PriorityLow},
		{"normal-1", models.PriorityNormal},
		{"critical", models.PriorityCritical},
		{"high", models.PriorityHigh},
		{"normal-2", models.PriorityNormal},
	} {
		_, err := s.Enqueue(ctx, newJob(j.id, j.p))
		require.NoError(t, err)
	}

	// a running lower-priority job is never preempted
	exec.assertNoStart(t)

	order := []string{}
	prev := "blocker"
	for i := 0; i < 5; i++ {
		exec.release(prev)
		prev = exec.nextStarted(t)
		order = append(order, prev)
	}
	exec.release(prev)
	assert.Equal(t, []string{"critical", "high", "normal-1", "normal-2", "low"}, order)
}

func TestExactlyOnceTransitions(t *testing.T) {
	ledger := audit.New()
	var calls sync.Map
	exec := executorFunc(func(_ context.Context, job models.Job) runner.Outcome {
		if _, dup := calls.LoadOrStore(job.ID, true); dup {
			t.Errorf("job %s executed twice", job.ID)
		}
		if job.Payload["fail"] == "yes" {
			return runner.Failed(runner.KindAdapterFailure, runner.ReasonAdapterFailure, "boom")
		}
		return runner.Completed(models.JobResult{})
	})
	s, _ := start(t, exec, Options{MaxConcurrentJobs: 3, Ledger: ledger})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		job := newJob(fmt.Sprintf("R%d", i), models.Priority(1+i%4))
		if i%3 == 0 {
			job.Payload["fail"] = "yes"
		}
		j, err := s.Enqueue(ctx, job)
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	for i, id := range ids {
		want := models.JobStateCompleted
		if i%3 == 0 {
			want = models.JobStateFailed
		}
		job := waitForState(t, s, id, want)
		require.NotNil(t, job.StartedAt)
		require.NotNil(t, job.FinishedAt)
		require.NotNil(t, job.Result)

		assert.Equal(t, 1, transitions(t, ledger, id, models.JobStateQueued, models.JobStateRunning), id)
		assert.Equal(t, 1, transitions(t, ledger, id, models.JobStateRunning, want), id)
	}
	require.NoError(t, ledger.Verify(ctx))
}

func TestEnqueueValidation(t *testing.T) {
	s, _ := start(t, newGatedExecutor(), Options{})
	ctx := context.Background()

	_, err := s.Enqueue(ctx, newJob("R1", models.PriorityUnknown))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "priority", verr.Field)

	job := newJob("R2", models.PriorityHigh)
	job.Kind = "reboot-datacenter"
	_, err = s.Enqueue(ctx, job)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "kind", verr.Field)

	assert.Equal(t, 0, s.QueueDepth())
}

func TestEnqueueAssignsIdentity(t *testing.T) {
	exec := newGatedExecutor()
	s, _ := start(t, exec, Options{MaxConcurrentJobs: 1, StartSequence: 41})
	ctx := context.Background()

	in := newJob("R1", models.PriorityHigh)
	in.State = models.JobStateCompleted
	job, err := s.Enqueue(ctx, in)
	require.NoError(t, err)

	assert.Len(t, job.ID, 36)
	assert.Equal(t, uint64(42), job.Sequence)
	assert.Equal(t, models.JobStateQueued, job.State)
	assert.False(t, job.EnqueuedAt.IsZero())
	assert.Nil(t, job.StartedAt)

	reserved := newJob("R2", models.PriorityNormal)
	reserved.ID = "reserved-id"
	job2, err := s.Enqueue(ctx, reserved)
	require.NoError(t, err)
	assert.Equal(t, "reserved-id", job2.ID)
	assert.Equal(t, uint64(43), job2.Sequence)

	_, err = s.Enqueue(ctx, reserved)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)

	exec.nextStarted(t)
	exec.release("R1")
	exec.nextStarted(t)
	exec.release("R2")
}

func TestCancel(t *testing.T) {
	ledger := audit.New()
	exec := newGatedExecutor()
	s, _ := start(t, exec, Options{MaxConcurrentJobs: 1, Ledger: ledger})
	ctx := context.Background()

	running, err := s.Enqueue(ctx, newJob("running", models.PriorityNormal))
	require.NoError(t, err)
	queued, err := s.Enqueue(ctx, newJob("queued", models.PriorityNormal))
	require.NoError(t, err)
	require.Equal(t, "running", exec.nextStarted(t))

	t.Run("queued job is cancelled at once", func(t *testing.T) {
		job, err := s.Cancel(ctx, queued.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStateCancelled, job.State)
		assert.NotNil(t, job.FinishedAt)
		assert.Nil(t, job.StartedAt)
		assert.Equal(t, 0, s.QueueDepth())
		assert.Equal(t, 1, transitions(t, ledger, queued.ID, models.JobStateQueued, models.JobStateCancelled))
	})

	t.Run("running job is signalled", func(t *testing.T) {
		job, err := s.Cancel(ctx, running.ID)
		require.NoError(t, err)
		assert.True(t, job.CancelRequested)

		job = waitForState(t, s, running.ID, models.JobStateCancelled)
		assert.Equal(t, string(runner.KindCancelled), job.Result.ErrorKind)
		assert.Equal(t, 1, transitions(t, ledger, running.ID, models.JobStateRunning, models.JobStateCancelled))

		moves, err := ledger.Query(ctx, models.AuditFilter{
			SubjectID:  running.ID,
			EventTypes: []models.AuditEventType{models.AuditJobTransition},
		})
		require.NoError(t, err)
		assert.Len(t, moves, 3, "queued, running and cancelled")

		control, err := ledger.Query(ctx, models.AuditFilter{
			SubjectID:  running.ID,
			EventTypes: []models.AuditEventType{models.AuditJobControl},
		})
		require.NoError(t, err)
		require.Len(t, control, 1)
		assert.Equal(t, "cancel-requested", control[0].Detail["action"])
	})

	t.Run("terminal job", func(t *testing.T) {
		_, err := s.Cancel(ctx, queued.ID)
		assert.ErrorIs(t, err, ErrJobTerminal)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := s.Cancel(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	exec.assertNoStart(t)
}

func TestCancelledRunningJobMayStillComplete(t *testing.T) {
	exec := newGatedExecutor()
	exec.ignoreCtx = true
	s, _ := start(t, exec, Options{MaxConcurrentJobs: 1})
	ctx := context.Background()

	job, err := s.Enqueue(ctx, newJob("R1", models.PriorityNormal))
	require.NoError(t, err)
	exec.nextStarted(t)

	_, err = s.Cancel(ctx, job.ID)
	require.NoError(t, err)
	exec.release("R1")

	done := waitForState(t, s, job.ID, models.JobStateCompleted)
	assert.True(t, done.CancelRequested)
}

func TestExecutorPanicFailsJob(t *testing.T) {
	ledger := audit.New()
	exec := executorFunc(func(context.Context, models.Job) runner.Outcome {
		panic("corrupted state")
	})
	s, _ := start(t, exec, Options{Ledger: ledger})

	job, err := s.Enqueue(context.Background(), newJob("R1", models.PriorityHigh))
	require.NoError(t, err)

	done := waitForState(t, s, job.ID, models.JobStateFailed)
	assert.Equal(t, string(runner.KindInternal), done.Result.ErrorKind)

	errs, err := ledger.Query(context.Background(), models.AuditFilter{
		SubjectID:  job.ID,
		EventTypes: []models.AuditEventType{models.AuditError},
	})
	require.NoError(t, err)
	assert.Len(t, errs, 1)
}

func TestNonTerminalOutcomeIsInternalError(t *testing.T) {
	exec := executorFunc(func(context.Context, models.Job) runner.Outcome {
		return runner.Outcome{State: models.JobStateRunning}
	})
	s, _ := start(t, exec, Options{})

	job, err := s.Enqueue(context.Background(), newJob("R1", models.PriorityHigh))
	require.NoError(t, err)
	done := waitForState(t, s, job.ID, models.JobStateFailed)
	assert.Equal(t, string(runner.KindInternal), done.Result.ErrorKind)
}

func TestPersistence(t *testing.T) {
	store := newMemStore()
	exec := newGatedExecutor()
	s, _ := start(t, exec, Options{Store: store})
	ctx := context.Background()

	job, err := s.Enqueue(ctx, newJob("R1", models.PriorityHigh))
	require.NoError(t, err)
	exec.nextStarted(t)

	require.Eventually(t, func() bool {
		stored, ok := store.get(job.ID)
		return ok && stored.State == models.JobStateRunning && stored.StartedAt != nil
	}, waitFor, 5*time.Millisecond)

	exec.release("R1")
	require.Eventually(t, func() bool {
		stored, ok := store.get(job.ID)
		return ok && stored.State == models.JobStateCompleted && stored.Result != nil && stored.Result.Success
	}, waitFor, 5*time.Millisecond)
}

func TestEnqueuePersistFailure(t *testing.T) {
	store := newMemStore()
	store.fail = true
	s, _ := start(t, newGatedExecutor(), Options{Store: store})

	_, err := s.Enqueue(context.Background(), newJob("R1", models.PriorityHigh))
	require.Error(t, err)
	assert.Equal(t, 0, s.QueueDepth())

	jobs, err := s.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRetentionSweep(t *testing.T) {
	var offset atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }
	exec := executorFunc(func(context.Context, models.Job) runner.Outcome {
		return runner.Completed(models.JobResult{})
	})
	ledger := audit.New()
	s, _ := start(t, exec, Options{RetentionWindow: time.Hour, Clock: clock, Ledger: ledger})
	ctx := context.Background()

	job, err := s.Enqueue(ctx, newJob("R1", models.PriorityNormal))
	require.NoError(t, err)
	waitForState(t, s, job.ID, models.JobStateCompleted)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	offset.Store(int64(2 * time.Hour))
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	// audit history survives the sweep
	assert.Equal(t, 1, transitions(t, ledger, job.ID, models.JobStateRunning, models.JobStateCompleted))
}

func TestPeriodicSweep(t *testing.T) {
	exec := executorFunc(func(context.Context, models.Job) runner.Outcome {
		return runner.Completed(models.JobResult{})
	})
	s, _ := start(t, exec, Options{RetentionWindow: time.Nanosecond, SweepInterval: 10 * time.Millisecond})

	job, err := s.Enqueue(context.Background(), newJob("R1", models.PriorityNormal))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := s.Get(context.Background(), job.ID)
		return errors.Is(err, ErrJobNotFound)
	}, waitFor, 5*time.Millisecond)
}

func TestRestore(t *testing.T) {
	ledger := audit.New()
	store := newMemStore()
	exec := newGatedExecutor()
	s, _ := start(t, exec, Options{MaxConcurrentJobs: 1, Ledger: ledger, Store: store})
	ctx := context.Background()

	earlier := time.Now().Add(-time.Hour)
	n, err := s.Restore(ctx, []models.Job{
		{ID: "queued-1", RequestID: "Q1", Kind: models.JobKindSoftwareInstall, Priority: models.PriorityNormal,
			State: models.JobStateQueued, Sequence: 7, EnqueuedAt: earlier},
		{ID: "running-1", RequestID: "X1", Kind: models.JobKindSoftwareInstall, Priority: models.PriorityNormal,
			State: models.JobStateRunning, Sequence: 5, EnqueuedAt: earlier, StartedAt: &earlier},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "Q1", exec.nextStarted(t))

	interrupted, err := s.Get(ctx, "running-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, interrupted.State)
	assert.Equal(t, string(runner.KindInternal), interrupted.Result.ErrorKind)
	assert.Equal(t, "interrupted by restart", interrupted.Result.Error)
	stored, ok := store.get("running-1")
	require.True(t, ok)
	assert.Equal(t, models.JobStateFailed, stored.State)

	// new arrivals continue after the restored sequence numbers
	fresh, err := s.Enqueue(ctx, newJob("R-new", models.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), fresh.Sequence)

	// restoring the same job twice is a no-op
	n, err = s.Restore(ctx, []models.Job{{ID: "queued-1", State: models.JobStateQueued,
		Kind: models.JobKindSoftwareInstall, Priority: models.PriorityNormal}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	exec.release("Q1")
	assert.Equal(t, "R-new", exec.nextStarted(t))
	exec.release("R-new")
	waitForState(t, s, "queued-1", models.JobStateCompleted)
}

func TestFlagSLABreach(t *testing.T) {
	exec := newGatedExecutor()
	s, _ := start(t, exec, Options{MaxConcurrentJobs: 1})
	ctx := context.Background()

	job, err := s.Enqueue(ctx, newJob("R1", models.PriorityHigh))
	require.NoError(t, err)

	flagged, ok, err := s.FlagSLABreach(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, flagged.SLABreached)
	assert.NotEqual(t, models.JobStateFailed, flagged.State)

	_, ok, err = s.FlagSLABreach(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.FlagSLABreach(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)

	open, err := s.OpenJobs(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	exec.nextStarted(t)
	exec.release("R1")
	waitForState(t, s, job.ID, models.JobStateCompleted)

	open, err = s.OpenJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestListFiltersAndPages(t *testing.T) {
	exec := executorFunc(func(_ context.Context, job models.Job) runner.Outcome {
		return runner.Completed(models.JobResult{})
	})
	s, _ := start(t, exec, Options{})
	ctx := context.Background()

	var last models.Job
	for i := 0; i < 5; i++ {
		j, err := s.Enqueue(ctx, newJob(fmt.Sprintf("R%d", i), models.PriorityLow))
		require.NoError(t, err)
		last = j
	}
	waitForState(t, s, last.ID, models.JobStateCompleted)
	require.Eventually(t, func() bool { return s.Running() == 0 }, waitFor, 5*time.Millisecond)

	completed := models.JobStateCompleted
	jobs, err := s.List(ctx, &models.ListOptions{State: &completed, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Greater(t, jobs[0].Sequence, jobs[1].Sequence)
	assert.Equal(t, "R3", jobs[0].RequestID)

	queued := models.JobStateQueued
	jobs, err = s.List(ctx, &models.ListOptions{State: &queued})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	exec := newGatedExecutor()
	store := newMemStore()
	bus := events.NewBus()
	s, stop := start(t, exec, Options{Store: store, Events: bus})
	ctx := context.Background()

	job, err := s.Enqueue(ctx, newJob("R1", models.PriorityHigh))
	require.NoError(t, err)
	exec.nextStarted(t)

	stop()

	stored, ok := store.get(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobStateCancelled, stored.State)

	_, err = s.Enqueue(ctx, newJob("R2", models.PriorityHigh))
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, s.Run(ctx), ErrAlreadyRunning)
}

func TestJobFinishedEvent(t *testing.T) {
	bus := events.NewBus()
	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventJobFinished, func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	exec := executorFunc(func(context.Context, models.Job) runner.Outcome {
		return runner.TimedOut("exceeded 1s")
	})
	s, _ := start(t, exec, Options{Events: bus})
	job, err := s.Enqueue(ctx, newJob("R1", models.PriorityCritical))
	require.NoError(t, err)

	select {
	case e := <-got:
		assert.Equal(t, job.ID, e.JobID)
		assert.Equal(t, models.JobStateTimedOut, e.State)
		assert.Equal(t, runner.ReasonTimeout, e.Reason)
	case <-time.After(waitFor):
		t.Fatal("no job finished event")
	}
}
