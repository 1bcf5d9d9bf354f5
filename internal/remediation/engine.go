package remediation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/monitoring"
	"github.com/sells-group/econfeed/internal/registry"
	"github.com/sells-group/econfeed/internal/resilience"
	"github.com/sells-group/econfeed/internal/store"
)

// probeTimeout bounds one recovery probe.
const probeTimeout = 30 * time.Second

// Prober makes one lightweight provider call outside the circuit gate.
// Satisfied by the fetch service.
type Prober interface {
	Probe(ctx context.Context, connectorID string) error
}

// Engine owns remediation jobs: it creates them when breakers open, probes
// the provider on an exponential backoff schedule, and closes them out as
// success, failed, or cancelled. At most one active job exists per
// connector.
type Engine struct {
	store     store.Store
	registry  *registry.ConnectorRegistry
	tracker   *monitoring.Tracker
	alerts    *monitoring.AlertManager
	prober    Prober
	scheduler Scheduler

	mu     sync.Mutex
	cfg    model.RemediationConfig
	timers map[string]func()

	// jobMu serializes the active-job lookup against job creation so the
	// breaker hook and the sweep cannot both admit a job for one connector.
	jobMu sync.Mutex

	onChange func()
	nowFunc  func() time.Time
}

// NewEngine creates the engine. The stored config wins over the default
// when one exists.
func NewEngine(ctx context.Context, st store.Store, reg *registry.ConnectorRegistry, tracker *monitoring.Tracker, alerts *monitoring.AlertManager, prober Prober, sched Scheduler) (*Engine, error) {
	cfg := model.DefaultRemediationConfig()
	stored, err := st.GetRemediationConfig(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "remediation: load config")
	}
	if stored != nil {
		cfg = *stored
	}
	return &Engine{
		store:     st,
		registry:  reg,
		tracker:   tracker,
		alerts:    alerts,
		prober:    prober,
		scheduler: sched,
		cfg:       cfg,
		timers:    make(map[string]func()),
		nowFunc:   time.Now,
	}, nil
}

// SetClock injects a time source for deterministic tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nowFunc = now
}

// OnChange registers the hook fired after any job transition.
func (e *Engine) OnChange(fn func()) { e.onChange = fn }

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

// Config returns the config currently in effect.
func (e *Engine) Config() model.RemediationConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig persists and applies a new config. In-flight jobs keep their
// already-computed next delay; later attempts use the new policy.
func (e *Engine) UpdateConfig(ctx context.Context, cfg model.RemediationConfig) error {
	if cfg.MaxRetries < 1 {
		return eris.New("remediation: max retries must be at least 1")
	}
	if cfg.Multiplier < 1 {
		return eris.New("remediation: multiplier must be at least 1")
	}
	if err := e.store.SetRemediationConfig(ctx, cfg); err != nil {
		return eris.Wrap(err, "remediation: persist config")
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	zap.L().Info("remediation: config updated",
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("enabled", cfg.Enabled),
	)
	return nil
}

func (e *Engine) policy() resilience.BackoffPolicy {
	cfg := e.Config()
	return resilience.BackoffPolicy{
		Initial:       cfg.InitialBackoff,
		Max:           cfg.MaxBackoff,
		Multiplier:    cfg.Multiplier,
		JitterEnabled: cfg.JitterEnabled,
		JitterMax:     cfg.JitterMax,
	}
}

// CreateJob opens a remediation job for the connector. If an active job
// already exists it is returned unchanged; the invariant is one active job
// per connector.
func (e *Engine) CreateJob(ctx context.Context, connectorID string, reason model.RemediationReason) (*model.RemediationJob, error) {
	cfg := e.Config()
	if !cfg.Enabled {
		return nil, eris.New("remediation: engine is disabled")
	}
	conn, ok := e.registry.Get(connectorID)
	if !ok {
		return nil, eris.Errorf("remediation: unknown connector %s", connectorID)
	}

	e.jobMu.Lock()
	defer e.jobMu.Unlock()

	if existing, err := e.activeJob(ctx, connectorID); err != nil {
		return nil, err
	} else if existing != nil {
		zap.L().Debug("remediation: active job already exists",
			zap.String("connector", connectorID),
			zap.String("job_id", existing.ID),
		)
		return existing, nil
	}

	now := e.nowFunc().UTC()
	delay := e.policy().Delay(1)
	next := now.Add(delay)
	job := model.RemediationJob{
		ID:             uuid.New().String(),
		ConnectorID:    connectorID,
		SourceID:       conn.SourceID,
		Status:         model.JobPending,
		Reason:         reason,
		CreatedAt:      now,
		CurrentBackoff: e.policy().Base(1),
		NextRetryAt:    &next,
	}
	if err := e.store.SaveJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "remediation: save job")
	}

	zap.L().Info("remediation: job created",
		zap.String("job_id", job.ID),
		zap.String("connector", connectorID),
		zap.String("reason", string(reason)),
		zap.Duration("first_delay", delay),
	)
	e.schedule(job.ID, delay)
	e.changed()
	return &job, nil
}

// HandleBreakerOpen is wired into the health tracker's open-transition
// hook.
func (e *Engine) HandleBreakerOpen(connectorID string) {
	cfg := e.Config()
	if !cfg.Enabled || !cfg.CircuitBreakerAutoRetry {
		return
	}
	if _, err := e.CreateJob(context.Background(), connectorID, model.ReasonCircuitOpen); err != nil {
		zap.L().Error("remediation: auto job creation failed",
			zap.String("connector", connectorID),
			zap.Error(err),
		)
	}
}

// Cancel stops an active job. Completed jobs cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	job, err := e.findJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Active() {
		return eris.Errorf("remediation: job %s is %s, not active", jobID, job.Status)
	}

	e.unschedule(jobID)
	now := e.nowFunc().UTC()
	job.Status = model.JobCancelled
	job.CompletedAt = &now
	job.NextRetryAt = nil
	if err := e.store.SaveJob(ctx, *job); err != nil {
		return eris.Wrap(err, "remediation: save cancelled job")
	}
	zap.L().Info("remediation: job cancelled", zap.String("job_id", jobID))
	e.changed()
	return nil
}

// Retry re-arms a failed or cancelled job with a fresh attempt history.
func (e *Engine) Retry(ctx context.Context, jobID string) error {
	job, err := e.findJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Active() {
		return eris.Errorf("remediation: job %s is already active", jobID)
	}
	if job.Status == model.JobSuccess {
		return eris.Errorf("remediation: job %s already succeeded", jobID)
	}

	e.jobMu.Lock()
	defer e.jobMu.Unlock()

	if active, err := e.activeJob(ctx, job.ConnectorID); err != nil {
		return err
	} else if active != nil {
		return eris.Errorf("remediation: connector %s already has active job %s", job.ConnectorID, active.ID)
	}

	now := e.nowFunc().UTC()
	delay := e.policy().Delay(1)
	next := now.Add(delay)
	job.Status = model.JobPending
	job.Attempts = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	job.TotalDuration = nil
	job.ErrorMessage = ""
	job.CurrentBackoff = e.policy().Base(1)
	job.NextRetryAt = &next
	if err := e.store.SaveJob(ctx, *job); err != nil {
		return eris.Wrap(err, "remediation: save retried job")
	}
	zap.L().Info("remediation: job re-armed", zap.String("job_id", jobID))
	e.schedule(job.ID, delay)
	e.changed()
	return nil
}

// Jobs lists all jobs, optionally filtered by connector.
func (e *Engine) Jobs(ctx context.Context, connectorID string) ([]model.RemediationJob, error) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	if connectorID == "" {
		return jobs, nil
	}
	filtered := jobs[:0]
	for _, j := range jobs {
		if j.ConnectorID == connectorID {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

// ClearCompleted deletes success, failed, and cancelled jobs.
func (e *Engine) ClearCompleted(ctx context.Context) (int, error) {
	n, err := e.store.DeleteCompletedJobs(ctx)
	if err == nil && n > 0 {
		e.changed()
	}
	return n, err
}

// Start re-arms persisted pending jobs and runs the breaker sweep until the
// context ends. Blocks; run in a goroutine.
func (e *Engine) Start(ctx context.Context) {
	e.rearm(ctx)

	interval := e.Config().CircuitBreakerRetryInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.stopTimers()
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// rearm reschedules pending jobs that survived a restart. A job whose next
// retry is already due fires immediately.
func (e *Engine) rearm(ctx context.Context) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		zap.L().Error("remediation: list jobs for re-arm", zap.Error(err))
		return
	}
	now := e.nowFunc().UTC()
	for _, job := range jobs {
		switch job.Status {
		case model.JobPending:
			delay := time.Duration(0)
			if job.NextRetryAt != nil && job.NextRetryAt.After(now) {
				delay = job.NextRetryAt.Sub(now)
			}
			zap.L().Info("remediation: re-arming pending job",
				zap.String("job_id", job.ID),
				zap.Duration("delay", delay),
			)
			e.schedule(job.ID, delay)
		case model.JobRunning:
			// A running job at startup means the process died mid-probe.
			// Push it back to pending and retry shortly.
			job.Status = model.JobPending
			next := now.Add(e.policy().Delay(1))
			job.NextRetryAt = &next
			if err := e.store.SaveJob(ctx, job); err != nil {
				zap.L().Error("remediation: reset stuck job", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			e.schedule(job.ID, next.Sub(now))
		}
	}
}

// sweep opens jobs for connectors whose breaker is open with no job
// covering them, catching transitions missed while remediation was
// disabled.
func (e *Engine) sweep(ctx context.Context) {
	cfg := e.Config()
	if !cfg.Enabled || !cfg.CircuitBreakerAutoRetry {
		return
	}
	for _, conn := range e.registry.All() {
		if e.tracker.BreakerState(conn.ID) != resilience.CircuitOpen {
			continue
		}
		if _, err := e.CreateJob(ctx, conn.ID, model.ReasonCircuitOpen); err != nil {
			zap.L().Error("remediation: sweep job creation failed",
				zap.String("connector", conn.ID),
				zap.Error(err),
			)
		}
	}
}

// runAttempt executes one probe for the job and decides what happens next.
func (e *Engine) runAttempt(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	e.unschedule(jobID)
	job, err := e.findJob(ctx, jobID)
	if err != nil {
		zap.L().Error("remediation: load job for attempt", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != model.JobPending {
		return
	}

	now := e.nowFunc().UTC()
	job.Status = model.JobRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.NextRetryAt = nil
	if err := e.store.SaveJob(ctx, *job); err != nil {
		zap.L().Error("remediation: mark job running", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	e.changed()

	attemptNo := len(job.Attempts) + 1
	start := e.nowFunc()
	probeErr := e.prober.Probe(ctx, job.ConnectorID)
	elapsed := e.nowFunc().Sub(start)

	attempt := model.RetryAttempt{
		AttemptNumber: attemptNo,
		Timestamp:     now,
		Delay:         job.CurrentBackoff,
		Success:       probeErr == nil,
		ResponseTime:  elapsed,
	}
	if probeErr != nil {
		attempt.ErrorMessage = probeErr.Error()
	}
	job.Attempts = append(job.Attempts, attempt)

	if probeErr == nil {
		e.completeSuccess(ctx, job)
		return
	}
	e.handleFailure(ctx, job, attemptNo, probeErr)
}

func (e *Engine) completeSuccess(ctx context.Context, job *model.RemediationJob) {
	now := e.nowFunc().UTC()
	job.Status = model.JobSuccess
	job.CompletedAt = &now
	total := now.Sub(job.CreatedAt)
	job.TotalDuration = &total
	if err := e.store.SaveJob(ctx, *job); err != nil {
		zap.L().Error("remediation: save successful job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	// The probe already closed the breaker through the tracker; the
	// condition alerts are now moot.
	if err := e.alerts.ResolveFor(ctx, job.ConnectorID, model.AlertCircuitOpen, model.AlertHighErrorRate); err != nil {
		zap.L().Error("remediation: resolve alerts after recovery",
			zap.String("connector", job.ConnectorID),
			zap.Error(err),
		)
	}
	zap.L().Info("remediation: connector recovered",
		zap.String("job_id", job.ID),
		zap.String("connector", job.ConnectorID),
		zap.Int("attempts", len(job.Attempts)),
	)
	if e.Config().NotificationsEnabled {
		e.alerts.Announce(ctx, model.MonitoringAlert{
			Level:       model.AlertInfo,
			Type:        model.AlertRemediationOK,
			ConnectorID: job.ConnectorID,
			Title:       "Connector recovered: " + job.ConnectorID,
			Message:     "Automatic remediation restored the connector.",
		})
	}
	e.changed()
}

func (e *Engine) handleFailure(ctx context.Context, job *model.RemediationJob, attemptNo int, probeErr error) {
	cfg := e.Config()
	now := e.nowFunc().UTC()

	if attemptNo >= cfg.MaxRetries {
		job.Status = model.JobFailed
		job.CompletedAt = &now
		job.ErrorMessage = probeErr.Error()
		total := now.Sub(job.CreatedAt)
		job.TotalDuration = &total
		if err := e.store.SaveJob(ctx, *job); err != nil {
			zap.L().Error("remediation: save failed job", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		zap.L().Warn("remediation: job exhausted retries",
			zap.String("job_id", job.ID),
			zap.String("connector", job.ConnectorID),
			zap.Int("attempts", attemptNo),
		)
		if cfg.NotificationsEnabled {
			e.alerts.Raise(model.MonitoringAlert{
				Level:       model.AlertCritical,
				Type:        model.AlertRemediationFail,
				ConnectorID: job.ConnectorID,
				Title:       "Remediation failed: " + job.ConnectorID,
				Message:     "Automatic recovery exhausted all retries; the connector needs manual attention.",
				ActionItems: []string{
					"Check provider status and credentials",
					"Trigger a manual retry once the provider recovers",
				},
			})
		}
		e.changed()
		return
	}

	nextAttempt := attemptNo + 1
	delay := e.policy().Delay(nextAttempt)
	next := now.Add(delay)
	job.Status = model.JobPending
	job.CurrentBackoff = e.policy().Base(nextAttempt)
	job.NextRetryAt = &next
	if err := e.store.SaveJob(ctx, *job); err != nil {
		zap.L().Error("remediation: save pending job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	zap.L().Info("remediation: probe failed, backing off",
		zap.String("job_id", job.ID),
		zap.String("connector", job.ConnectorID),
		zap.Int("attempt", attemptNo),
		zap.Duration("next_delay", delay),
	)
	e.schedule(job.ID, delay)
	e.changed()
}

func (e *Engine) schedule(jobID string, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.timers[jobID]; ok {
		cancel()
	}
	e.timers[jobID] = e.scheduler.After(delay, func() { e.runAttempt(jobID) })
}

func (e *Engine) unschedule(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.timers[jobID]; ok {
		cancel()
		delete(e.timers, jobID)
	}
}

func (e *Engine) stopTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.timers {
		cancel()
		delete(e.timers, id)
	}
}

func (e *Engine) activeJob(ctx context.Context, connectorID string) (*model.RemediationJob, error) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "remediation: list jobs")
	}
	for i := range jobs {
		if jobs[i].ConnectorID == connectorID && jobs[i].Status.Active() {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) findJob(ctx context.Context, jobID string) (*model.RemediationJob, error) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "remediation: list jobs")
	}
	for i := range jobs {
		if jobs[i].ID == jobID {
			return &jobs[i], nil
		}
	}
	return nil, eris.Errorf("remediation: job %s not found", jobID)
}
