package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/notify"
	"github.com/sells-group/econfeed/internal/store"
)

// AlertManager raises, acknowledges, and resolves monitoring alerts. At most
// one unresolved alert exists per (connector, type) pair; repeated triggers
// of the same condition are swallowed while the first is still live.
type AlertManager struct {
	store store.Store
	sinks []notify.Sink

	onChange func()
	nowFunc  func() time.Time
}

// NewAlertManager creates an alert manager writing through the store and
// fanning out to the given notification sinks.
func NewAlertManager(st store.Store, sinks ...notify.Sink) *AlertManager {
	return &AlertManager{store: st, sinks: sinks, nowFunc: time.Now}
}

// SetClock injects a time source for deterministic tests.
func (m *AlertManager) SetClock(now func() time.Time) { m.nowFunc = now }

// OnChange registers the hook fired after any alert is created, acknowledged,
// or resolved.
func (m *AlertManager) OnChange(fn func()) { m.onChange = fn }

func (m *AlertManager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

// Announce pushes a one-off notification to the sinks without persisting or
// deduplicating it. Used for events that are news, not open conditions, such
// as a recovered connector.
func (m *AlertManager) Announce(ctx context.Context, alert model.MonitoringAlert) {
	alert.ID = uuid.New().String()
	alert.Timestamp = m.nowFunc().UTC()
	zap.L().Info("monitoring: announcement",
		zap.String("type", string(alert.Type)),
		zap.String("connector", alert.ConnectorID),
		zap.String("title", alert.Title),
	)
	for _, s := range m.sinks {
		if err := s.Notify(ctx, alert); err != nil {
			zap.L().Error("monitoring: notify sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

// Raise creates a new alert unless an unresolved alert of the same type
// already exists for the connector. Returns the stored alert, or nil when
// deduplicated.
func (m *AlertManager) Raise(alert model.MonitoringAlert) *model.MonitoringAlert {
	ctx := context.Background()
	existing, err := m.store.ListAlerts(ctx, false)
	if err != nil {
		zap.L().Error("monitoring: list alerts for dedupe", zap.Error(err))
	}
	for i := range existing {
		if existing[i].ConnectorID == alert.ConnectorID && existing[i].Type == alert.Type {
			return nil
		}
	}

	alert.ID = uuid.New().String()
	alert.Timestamp = m.nowFunc().UTC()
	if err := m.store.SaveAlert(ctx, alert); err != nil {
		zap.L().Error("monitoring: persist alert", zap.String("connector", alert.ConnectorID), zap.Error(err))
		return nil
	}

	zap.L().Warn("monitoring: alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
		zap.String("type", string(alert.Type)),
		zap.String("connector", alert.ConnectorID),
	)
	for _, s := range m.sinks {
		if err := s.Notify(ctx, alert); err != nil {
			zap.L().Error("monitoring: notify sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	m.changed()
	return &alert
}

// Acknowledge marks an alert as seen by an operator. Acknowledging does not
// resolve; the alert still blocks duplicates.
func (m *AlertManager) Acknowledge(ctx context.Context, alertID, by string) error {
	alert, err := m.find(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.AcknowledgedAt != nil {
		return nil
	}
	now := m.nowFunc().UTC()
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by
	if err := m.store.SaveAlert(ctx, *alert); err != nil {
		return err
	}
	m.changed()
	return nil
}

// Resolve closes an alert. A later recurrence of the same condition will
// raise a fresh alert.
func (m *AlertManager) Resolve(ctx context.Context, alertID string) error {
	alert, err := m.find(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.Resolved() {
		return nil
	}
	now := m.nowFunc().UTC()
	alert.ResolvedAt = &now
	if err := m.store.SaveAlert(ctx, *alert); err != nil {
		return err
	}
	m.changed()
	return nil
}

// ResolveFor resolves every unresolved alert of the given type for a
// connector. Used when the underlying condition clears.
func (m *AlertManager) ResolveFor(ctx context.Context, connectorID string, types ...model.AlertType) error {
	alerts, err := m.store.ListAlerts(ctx, false)
	if err != nil {
		return err
	}
	now := m.nowFunc().UTC()
	resolved := 0
	for i := range alerts {
		if alerts[i].ConnectorID != connectorID {
			continue
		}
		for _, typ := range types {
			if alerts[i].Type == typ {
				alerts[i].ResolvedAt = &now
				if err := m.store.SaveAlert(ctx, alerts[i]); err != nil {
					return err
				}
				resolved++
				break
			}
		}
	}
	if resolved > 0 {
		m.changed()
	}
	return nil
}

// List returns alerts, optionally including resolved ones, newest first.
func (m *AlertManager) List(ctx context.Context, includeResolved bool) ([]model.MonitoringAlert, error) {
	return m.store.ListAlerts(ctx, includeResolved)
}

func (m *AlertManager) find(ctx context.Context, alertID string) (*model.MonitoringAlert, error) {
	alerts, err := m.store.ListAlerts(ctx, true)
	if err != nil {
		return nil, err
	}
	for i := range alerts {
		if alerts[i].ID == alertID {
			return &alerts[i], nil
		}
	}
	return nil, eris.Errorf("monitoring: alert %s not found", alertID)
}
