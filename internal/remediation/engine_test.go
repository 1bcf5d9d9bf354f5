package remediation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/monitoring"
	"github.com/sells-group/econfeed/internal/registry"
	"github.com/sells-group/econfeed/internal/store"
)

// fakeScheduler queues callbacks so tests fire them deterministically.
type fakeScheduler struct {
	mu      sync.Mutex
	pending []scheduled
	delays  []time.Duration
}

type scheduled struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (s *fakeScheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.pending)
	s.pending = append(s.pending, scheduled{delay: d, fn: fn})
	s.delays = append(s.delays, d)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pending[idx].cancelled = true
	}
}

// fire runs the oldest pending callback that has not been cancelled or
// fired. Returns false when none remain.
func (s *fakeScheduler) fire() bool {
	s.mu.Lock()
	var fn func()
	for i := range s.pending {
		if !s.pending[i].cancelled && s.pending[i].fn != nil {
			fn = s.pending[i].fn
			s.pending[i].fn = nil
			break
		}
	}
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// fakeProber fails a fixed number of times and then succeeds.
type fakeProber struct {
	mu           sync.Mutex
	failuresLeft int
	calls        int
}

func (p *fakeProber) Probe(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failuresLeft > 0 {
		p.failuresLeft--
		return eris.New("probe: connection refused")
	}
	return nil
}

// recordingSink keeps every notification the alert manager fans out.
type recordingSink struct {
	mu     sync.Mutex
	alerts []model.MonitoringAlert
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Notify(_ context.Context, a model.MonitoringAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingSink) byType(t model.AlertType) []model.MonitoringAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MonitoringAlert
	for _, a := range s.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

type engineFixture struct {
	engine  *Engine
	sched   *fakeScheduler
	prober  *fakeProber
	store   store.Store
	tracker *monitoring.Tracker
	sink    *recordingSink
}

func newEngineFixture(t *testing.T, failures int) *engineFixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "remediation.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.NewConnectorRegistry()
	sink := &recordingSink{}
	alerts := monitoring.NewAlertManager(st, sink)
	tracker := monitoring.NewTracker(alerts, st)
	require.NoError(t, tracker.Bootstrap(context.Background(), reg.All()))

	sched := &fakeScheduler{}
	prober := &fakeProber{failuresLeft: failures}

	engine, err := NewEngine(context.Background(), st, reg, tracker, alerts, prober, sched)
	require.NoError(t, err)

	// Deterministic delays for assertions.
	cfg := engine.Config()
	cfg.JitterEnabled = false
	require.NoError(t, engine.UpdateConfig(context.Background(), cfg))

	return &engineFixture{engine: engine, sched: sched, prober: prober, store: st, tracker: tracker, sink: sink}
}

func (f *engineFixture) job(t *testing.T, id string) model.RemediationJob {
	t.Helper()
	jobs, err := f.store.ListJobs(context.Background())
	require.NoError(t, err)
	for _, j := range jobs {
		if j.ID == id {
			return j
		}
	}
	t.Fatalf("job %s not found", id)
	return model.RemediationJob{}
}

func TestCreateJobSchedulesFirstAttempt(t *testing.T) {
	f := newEngineFixture(t, 0)

	job, err := f.engine.CreateJob(context.Background(), "fred", model.ReasonCircuitOpen)
	require.NoError(t, err)

	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, model.ReasonCircuitOpen, job.Reason)
	assert.Equal(t, "fred", job.SourceID)
	require.NotNil(t, job.NextRetryAt)
	assert.Equal(t, time.Second, job.CurrentBackoff)

	require.Len(t, f.sched.delays, 1)
	assert.Equal(t, time.Second, f.sched.delays[0])
}

func TestAtMostOneActiveJobPerConnector(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	first, err := f.engine.CreateJob(ctx, "fred", model.ReasonCircuitOpen)
	require.NoError(t, err)
	second, err := f.engine.CreateJob(ctx, "fred", model.ReasonManualTrigger)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	jobs, err := f.engine.Jobs(ctx, "fred")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// A different connector gets its own job.
	other, err := f.engine.CreateJob(ctx, "bls-prices", model.ReasonCircuitOpen)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestConcurrentTriggersAdmitOneJob(t *testing.T) {
	f := newEngineFixture(t, 100)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := f.engine.CreateJob(ctx, "fred", model.ReasonManualTrigger)
			errs[i] = err
			if err == nil {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
	}

	// Every caller got the same job; no duplicate was admitted.
	jobs, err := f.engine.Jobs(ctx, "fred")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	for _, id := range ids {
		assert.Equal(t, jobs[0].ID, id)
	}
}

func TestSuccessfulProbeCompletesJob(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	job, err := f.engine.CreateJob(ctx, "fred", model.ReasonCircuitOpen)
	require.NoError(t, err)
	require.True(t, f.sched.fire())

	done := f.job(t, job.ID)
	assert.Equal(t, model.JobSuccess, done.Status)
	require.Len(t, done.Attempts, 1)
	assert.True(t, done.Attempts[0].Success)
	assert.NotNil(t, done.CompletedAt)
	assert.NotNil(t, done.TotalDuration)
	assert.Equal(t, 1, f.prober.calls)
}

func TestSuccessResolvesConditionAlerts(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	alerts := monitoring.NewAlertManager(f.store)
	require.NotNil(t, alerts.Raise(model.MonitoringAlert{
		Type: model.AlertCircuitOpen, ConnectorID: "fred", Level: model.AlertCritical,
	}))

	_, err := f.engine.CreateJob(ctx, "fred", model.ReasonCircuitOpen)
	require.NoError(t, err)
	require.True(t, f.sched.fire())

	unresolved, err := f.store.ListAlerts(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestEngineOnChangeFiresAcrossLifecycle(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	var fired int
	f.engine.OnChange(func() { fired++ })

	_, err := f.engine.CreateJob(ctx, "fred", model.ReasonManualTrigger)
	require.NoError(t, err)
	afterCreate := fired
	assert.Greater(t, afterCreate, 0)

	require.True(t, f.sched.fire())
	afterSuccess := fired
	assert.Greater(t, afterSuccess, afterCreate)

	n, err := f.engine.ClearCompleted(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Greater(t, fired, afterSuccess)
}

func TestRecoveryAnnouncedToSinks(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	_, err := f.engine.CreateJob(ctx, "fred", model.ReasonCircuitOpen)
	require.NoError(t, err)
	require.True(t, f.sched.fire())

	got := f.sink.byType(model.AlertRemediationOK)
	require.Len(t, got, 1)
	assert.Equal(t, "fred", got[0].ConnectorID)
	assert.Equal(t, model.AlertInfo, got[0].Level)

	// With notifications off, recovery stays quiet.
	cfg := f.engine.Config()
	cfg.NotificationsEnabled = false
	require.NoError(t, f.engine.UpdateConfig(ctx, cfg))

	_, err = f.engine.CreateJob(ctx, "bls-prices", model.ReasonCircuitOpen)
	require.NoError(t, err)
	require.True(t, f.sched.fire())
	assert.Len(t, f.sink.byType(model.AlertRemediationOK), 1)
}

func TestExhaustedRetriesFailJobAndAlert(t *testing.T) {
	f := newEngineFixture(t, 100)
	ctx := context.Background()

	job, err := f.engine.CreateJob(ctx, "fred", model.ReasonCircuitOpen)
	require.NoError(t, err)

	for f.sched.fire() {
	}

	done := f.job(t, job.ID)
	assert.Equal(t, model.JobFailed, done.Status)
	assert.Len(t, done.Attempts, 5)
	assert.NotEmpty(t, done.ErrorMessage)

	// Delays follow the doubling schedule: 1s, 2s, 4s, 8s, 16s.
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	assert.Equal(t, want, f.sched.delays)

	unresolved, err := f.store.ListAlerts(ctx, false)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, model.AlertRemediationFail, unresolved[0].Type)
	assert.Equal(t, model.AlertCritical, unresolved[0].Level)
}

func TestBackoffCappedAtMax(t *testing.T) {
	f := newEngineFixture(t, 100)
	ctx := context.Background()

	cfg := f.engine.Config()
	cfg.MaxRetries = 10
	cfg.MaxBackoff = 5 * time.Second
	require.NoError(t, f.engine.UpdateConfig(ctx, cfg))

	_, err := f.engine.CreateJob(ctx, "fred", model.ReasonCircuitOpen)
	require.NoError(t, err)
	for f.sched.fire() {
	}

	for _, d := range f.sched.delays {
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestCancelActiveJob(t *testing.T) {
	f := newEngineFixture(t, 100)
	ctx := context.Background()

	job, err := f.engine.CreateJob(ctx, "fred", model.ReasonManualTrigger)
	require.NoError(t, err)
	require.NoError(t, f.engine.Cancel(ctx, job.ID))

	cancelled := f.job(t, job.ID)
	assert.Equal(t, model.JobCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	// The timer was cancelled; firing does nothing.
	assert.False(t, f.sched.fire())
	assert.Zero(t, f.prober.calls)

	assert.Error(t, f.engine.Cancel(ctx, job.ID))
}

func TestRetryResetsFailedJob(t *testing.T) {
	f := newEngineFixture(t, 5)
	ctx := context.Background()

	job, err := f.engine.CreateJob(ctx, "fred", model.ReasonCircuitOpen)
	require.NoError(t, err)
	for f.sched.fire() {
	}
	require.Equal(t, model.JobFailed, f.job(t, job.ID).Status)

	// Provider has recovered; a manual retry should now succeed.
	require.NoError(t, f.engine.Retry(ctx, job.ID))
	rearmed := f.job(t, job.ID)
	assert.Equal(t, model.JobPending, rearmed.Status)
	assert.Empty(t, rearmed.Attempts)

	require.True(t, f.sched.fire())
	assert.Equal(t, model.JobSuccess, f.job(t, job.ID).Status)
}

func TestRetryRejectsActiveAndSucceededJobs(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	job, err := f.engine.CreateJob(ctx, "fred", model.ReasonManualTrigger)
	require.NoError(t, err)
	assert.ErrorContains(t, f.engine.Retry(ctx, job.ID), "already active")

	require.True(t, f.sched.fire())
	assert.ErrorContains(t, f.engine.Retry(ctx, job.ID), "already succeeded")
}

func TestCreateJobDisabledEngine(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	cfg := f.engine.Config()
	cfg.Enabled = false
	require.NoError(t, f.engine.UpdateConfig(ctx, cfg))

	_, err := f.engine.CreateJob(ctx, "fred", model.ReasonManualTrigger)
	assert.ErrorContains(t, err, "disabled")
}

func TestUpdateConfigValidation(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	bad := f.engine.Config()
	bad.MaxRetries = 0
	assert.Error(t, f.engine.UpdateConfig(ctx, bad))

	bad = f.engine.Config()
	bad.Multiplier = 0.5
	assert.Error(t, f.engine.UpdateConfig(ctx, bad))

	good := f.engine.Config()
	good.MaxRetries = 3
	require.NoError(t, f.engine.UpdateConfig(ctx, good))

	stored, err := f.store.GetRemediationConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.MaxRetries)
}

func TestHandleBreakerOpenRespectsAutoRetryFlag(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	cfg := f.engine.Config()
	cfg.CircuitBreakerAutoRetry = false
	require.NoError(t, f.engine.UpdateConfig(ctx, cfg))

	f.engine.HandleBreakerOpen("fred")
	jobs, err := f.engine.Jobs(ctx, "fred")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	cfg.CircuitBreakerAutoRetry = true
	require.NoError(t, f.engine.UpdateConfig(ctx, cfg))

	f.engine.HandleBreakerOpen("fred")
	jobs, err = f.engine.Jobs(ctx, "fred")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRearmReschedulesPendingJobs(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	next := time.Now().UTC().Add(time.Minute)
	pending := model.RemediationJob{
		ID:          "job-survivor",
		ConnectorID: "fred",
		SourceID:    "fred",
		Status:      model.JobPending,
		Reason:      model.ReasonCircuitOpen,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		NextRetryAt: &next,
	}
	require.NoError(t, f.store.SaveJob(ctx, pending))

	stuck := model.RemediationJob{
		ID:          "job-stuck",
		ConnectorID: "bls-prices",
		SourceID:    "bls",
		Status:      model.JobRunning,
		Reason:      model.ReasonCircuitOpen,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, f.store.SaveJob(ctx, stuck))

	f.engine.rearm(ctx)

	// Both jobs got timers; the stuck one is pending again.
	assert.Len(t, f.sched.delays, 2)
	assert.Equal(t, model.JobPending, f.job(t, "job-stuck").Status)
}

func TestClearCompleted(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	job, err := f.engine.CreateJob(ctx, "fred", model.ReasonManualTrigger)
	require.NoError(t, err)
	require.True(t, f.sched.fire())
	require.Equal(t, model.JobSuccess, f.job(t, job.ID).Status)

	n, err := f.engine.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err := f.engine.Jobs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
