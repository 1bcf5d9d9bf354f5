// Package monitoring keeps per-connector health state, raises deduplicated
// alerts on threshold crossings, and derives quality scorecards on demand.
package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/resilience"
	"github.com/sells-group/econfeed/internal/store"
)

// emaWeight is the smoothing applied to the average response time:
// new = (1-emaWeight)*old + emaWeight*sample.
const emaWeight = 0.2

type callSample struct {
	at time.Time
	ok bool
}

// Tracker owns the health status table and the per-connector circuit
// breakers. Every fetch or probe outcome flows through RecordCall.
type Tracker struct {
	alerts *AlertManager
	store  store.Store

	mu       sync.Mutex
	statuses map[string]*model.HealthStatus
	breakers map[string]*resilience.Breaker
	windows  map[string][]callSample

	// onBreakerOpen fires after a breaker transitions to open, outside the
	// tracker lock. The remediation engine hooks in here.
	onBreakerOpen func(connectorID string)
	// onChange fires after any health mutation, outside the tracker lock.
	onChange func()

	nowFunc func() time.Time
}

// NewTracker creates a tracker backed by the given alert manager and store.
func NewTracker(alerts *AlertManager, st store.Store) *Tracker {
	return &Tracker{
		alerts:   alerts,
		store:    st,
		statuses: make(map[string]*model.HealthStatus),
		breakers: make(map[string]*resilience.Breaker),
		windows:  make(map[string][]callSample),
		nowFunc:  time.Now,
	}
}

// SetClock injects a time source for deterministic tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nowFunc = now
	for _, b := range t.breakers {
		b.SetClock(now)
	}
}

// OnBreakerOpen registers the open-transition hook.
func (t *Tracker) OnBreakerOpen(fn func(connectorID string)) { t.onBreakerOpen = fn }

// OnChange registers the state-change hook.
func (t *Tracker) OnChange(fn func()) { t.onChange = fn }

// Bootstrap seeds a health record and breaker per connector, restoring any
// persisted status first. Health records are never deleted afterwards.
func (t *Tracker) Bootstrap(ctx context.Context, connectors []*model.Connector) error {
	persisted, err := t.store.ListHealthStatuses(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]model.HealthStatus, len(persisted))
	for _, hs := range persisted {
		byID[hs.ConnectorID] = hs
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range connectors {
		cfg := resilience.DefaultBreakerConfig()
		if c.Retry.CircuitBreakerThreshold > 0 {
			cfg.FailureThreshold = c.Retry.CircuitBreakerThreshold
		}
		b := resilience.NewBreaker(cfg)
		b.SetClock(t.nowFunc)
		t.breakers[c.ID] = b

		if hs, ok := byID[c.ID]; ok {
			t.statuses[c.ID] = &hs
			continue
		}
		t.statuses[c.ID] = &model.HealthStatus{
			ConnectorID:         c.ID,
			Status:              model.StatusHealthy,
			CircuitBreakerState: model.BreakerClosed,
			UpdatedAt:           t.nowFunc().UTC(),
		}
	}
	return nil
}

// Allow asks the connector's breaker whether a regular fetch may proceed.
func (t *Tracker) Allow(connectorID string) error {
	t.mu.Lock()
	b, ok := t.breakers[connectorID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Allow()
}

// BreakerState returns the current circuit state for a connector.
func (t *Tracker) BreakerState(connectorID string) resilience.CircuitState {
	t.mu.Lock()
	b, ok := t.breakers[connectorID]
	t.mu.Unlock()
	if !ok {
		return resilience.CircuitClosed
	}
	return b.State()
}

// RecordCall feeds one call outcome into the health state machine: counters
// and the response-time EMA update, the breaker advances, threshold
// crossings raise alerts, and the call lands in the capped call log.
func (t *Tracker) RecordCall(ctx context.Context, connector *model.Connector, kind string, ok bool, duration time.Duration, coverage float64, callErr string) {
	now := t.nowFunc().UTC()

	t.mu.Lock()
	b, known := t.breakers[connector.ID]
	t.mu.Unlock()
	if !known {
		zap.L().Warn("monitoring: call for unbootstrapped connector", zap.String("connector", connector.ID))
		return
	}

	before := b.State()
	b.Record(ok)
	after := b.State()

	t.mu.Lock()
	hs := t.statuses[connector.ID]
	failures, _ := b.Counters()
	hs.ConsecutiveFailures = failures
	hs.CircuitBreakerState = breakerStateModel(after)
	hs.Status = statusFor(after)
	if ok {
		hs.LastSuccessfulFetch = &now
	} else {
		hs.LastFailedFetch = &now
	}
	if hs.AvgResponseTime == 0 {
		hs.AvgResponseTime = duration
	} else {
		hs.AvgResponseTime = time.Duration((1-emaWeight)*float64(hs.AvgResponseTime) + emaWeight*float64(duration))
	}

	w := append(t.windows[connector.ID], callSample{at: now, ok: ok})
	cutoff := now.Add(-7 * 24 * time.Hour)
	for len(w) > 0 && w[0].at.Before(cutoff) {
		w = w[1:]
	}
	t.windows[connector.ID] = w
	t.refreshWindowStatsLocked(hs, w, now)
	hs.UpdatedAt = now
	snapshot := *hs
	t.mu.Unlock()

	t.handleTransition(connector, before, after)

	if err := t.store.UpsertHealthStatus(ctx, snapshot); err != nil {
		zap.L().Error("monitoring: persist health status", zap.String("connector", connector.ID), zap.Error(err))
	}
	rec := model.CallRecord{
		ConnectorID: connector.ID,
		Kind:        kind,
		OK:          ok,
		Duration:    duration,
		Coverage:    coverage,
		Error:       callErr,
		At:          now,
	}
	if err := t.store.AppendCallRecord(ctx, rec); err != nil {
		zap.L().Error("monitoring: persist call record", zap.String("connector", connector.ID), zap.Error(err))
	}

	if t.onChange != nil {
		t.onChange()
	}
}

// Statuses returns a snapshot of all health records. Order is not
// guaranteed; callers sort as needed.
func (t *Tracker) Statuses() []model.HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.HealthStatus, 0, len(t.statuses))
	for _, hs := range t.statuses {
		out = append(out, *hs)
	}
	return out
}

// Status returns the health record for one connector.
func (t *Tracker) Status(connectorID string) (model.HealthStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hs, ok := t.statuses[connectorID]
	if !ok {
		return model.HealthStatus{}, false
	}
	return *hs, true
}

func (t *Tracker) refreshWindowStatsLocked(hs *model.HealthStatus, w []callSample, now time.Time) {
	day := now.Add(-24 * time.Hour)
	var total24, ok24, total7, ok7 int
	for _, s := range w {
		if !s.at.Before(day) {
			total24++
			if s.ok {
				ok24++
			}
		}
		total7++
		if s.ok {
			ok7++
		}
	}
	hs.RequestCount24h = total24
	hs.ErrorCount24h = total24 - ok24
	hs.Uptime24h = uptime(ok24, total24)
	hs.Uptime7d = uptime(ok7, total7)
}

func uptime(ok, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(ok) / float64(total) * 100
}

func (t *Tracker) handleTransition(connector *model.Connector, from, to resilience.CircuitState) {
	if from == to {
		return
	}
	switch to {
	case resilience.CircuitOpen:
		t.alerts.Raise(model.MonitoringAlert{
			Level:       model.AlertCritical,
			Type:        model.AlertCircuitOpen,
			ConnectorID: connector.ID,
			Title:       "Circuit breaker open: " + connector.Name,
			Message:     "Consecutive failures reached the breaker threshold; regular fetches are suspended until a probe succeeds.",
			ActionItems: []string{
				"Check provider status page",
				"Review recent call log entries for " + connector.ID,
				"Wait for auto-remediation or trigger a manual retry",
			},
			AffectedItems:  connector.Items,
			ImpactEstimate: "Series from this source will be served stale or synthetic until recovery.",
		})
		if t.onBreakerOpen != nil {
			t.onBreakerOpen(connector.ID)
		}
	case resilience.CircuitHalfOpen:
		t.alerts.Raise(model.MonitoringAlert{
			Level:       model.AlertWarning,
			Type:        model.AlertHighErrorRate,
			ConnectorID: connector.ID,
			Title:       "Elevated error rate: " + connector.Name,
			Message:     "Rolling error rate exceeded 30% over the measurement window; connector is degraded.",
			ActionItems: []string{
				"Inspect recent errors for " + connector.ID,
				"Consider lowering the request rate",
			},
			AffectedItems: connector.Items,
		})
	case resilience.CircuitClosed:
		zap.L().Info("monitoring: connector recovered",
			zap.String("connector", connector.ID),
			zap.String("from", from.String()),
		)
	}
}

func breakerStateModel(s resilience.CircuitState) model.BreakerState {
	switch s {
	case resilience.CircuitOpen:
		return model.BreakerOpen
	case resilience.CircuitHalfOpen:
		return model.BreakerHalfOpen
	default:
		return model.BreakerClosed
	}
}

func statusFor(s resilience.CircuitState) model.ConnectorStatus {
	switch s {
	case resilience.CircuitOpen:
		return model.StatusOffline
	case resilience.CircuitHalfOpen:
		return model.StatusDegraded
	default:
		return model.StatusHealthy
	}
}
