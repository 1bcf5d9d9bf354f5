// Package service is the facade the CLI and HTTP API call into. It wires
// the registry, fetch protocol, quality pipeline, health monitoring, and
// remediation engine into one inbound surface.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/fetch"
	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/monitoring"
	"github.com/sells-group/econfeed/internal/pipeline"
	"github.com/sells-group/econfeed/internal/registry"
	"github.com/sells-group/econfeed/internal/remediation"
	"github.com/sells-group/econfeed/internal/store"
)

// ProcessResult is the outcome of a full fetch-and-process pass for one
// series request.
type ProcessResult struct {
	Fetch      model.FetchMetadata     `json:"fetch"`
	Validation model.ValidationResult  `json:"validation"`
	Normalized []model.NormalizedPoint `json:"normalized"`
	Confidence model.ConfidenceScore   `json:"confidence"`
}

// Service composes the acquisition subsystem behind one API.
type Service struct {
	registry   *registry.ConnectorRegistry
	store      store.Store
	tracker    *monitoring.Tracker
	alerts     *monitoring.AlertManager
	scorecards *monitoring.ScorecardBuilder
	fetcher    *fetch.Service
	engine     *remediation.Engine
	validator  *pipeline.Validator
	normalizer *pipeline.Normalizer

	mu          sync.Mutex
	subscribers map[int]func()
	nextSubID   int

	nowFunc func() time.Time
}

// New wires the facade over already-constructed components.
func New(reg *registry.ConnectorRegistry, st store.Store, tracker *monitoring.Tracker, alerts *monitoring.AlertManager, fetcher *fetch.Service, engine *remediation.Engine) *Service {
	s := &Service{
		registry:    reg,
		store:       st,
		tracker:     tracker,
		alerts:      alerts,
		scorecards:  monitoring.NewScorecardBuilder(tracker, st),
		fetcher:     fetcher,
		engine:      engine,
		validator:   pipeline.NewValidator(reg.Items()),
		normalizer:  pipeline.NewNormalizer(reg.Items()),
		subscribers: make(map[int]func()),
		nowFunc:     time.Now,
	}
	tracker.OnChange(s.notifySubscribers)
	alerts.OnChange(s.notifySubscribers)
	engine.OnChange(s.notifySubscribers)
	return s
}

// Connectors lists the catalog.
func (s *Service) Connectors() []*model.Connector {
	return s.registry.All()
}

// SetConnectorEnabled toggles a connector.
func (s *Service) SetConnectorEnabled(id string, enabled bool) error {
	return s.registry.SetEnabled(id, enabled)
}

// RequestFetch runs the fetch protocol and returns raw points plus
// metadata, without the quality pipeline.
func (s *Service) RequestFetch(ctx context.Context, connectorID string, req model.FetchRequest) (*model.FetchResponse, error) {
	return s.fetcher.Fetch(ctx, connectorID, req)
}

// FetchAndProcess runs the full chain: fetch, validate, normalize, persist
// normalized points, and recompute the series confidence score.
func (s *Service) FetchAndProcess(ctx context.Context, connectorID string, req model.FetchRequest) (*ProcessResult, error) {
	resp, err := s.fetcher.Fetch(ctx, connectorID, req)
	if err != nil {
		return nil, err
	}
	conn, ok := s.registry.Get(connectorID)
	if !ok {
		return nil, eris.Errorf("service: unknown connector %s", connectorID)
	}

	vr := s.validator.Validate(resp.RawPoints, req.ExpectedMonths())
	out := s.normalizer.Normalize(resp.RawPoints, vr)
	attachRevisionFlags(out.Points, resp.Metadata.Revisions, s.nowFunc().UTC())

	if len(out.Points) > 0 {
		if err := s.store.StoreNormalizedPoints(ctx, out.Points); err != nil {
			return nil, eris.Wrap(err, "service: store normalized points")
		}
	}

	seriesID := SeriesID(req.ItemID, req.Region)
	series, err := s.store.ListNormalizedPoints(ctx, req.ItemID, req.Region, pipeline.Version)
	if err != nil {
		return nil, eris.Wrap(err, "service: load series for scoring")
	}
	score := pipeline.SeriesScore(seriesID, series, conn.Tier, s.nowFunc().UTC())
	if err := s.store.SaveConfidenceScore(ctx, score); err != nil {
		return nil, eris.Wrap(err, "service: save confidence score")
	}

	zap.L().Info("service: processed series",
		zap.String("connector", connectorID),
		zap.String("series", seriesID),
		zap.Int("normalized", len(out.Points)),
		zap.Float64("confidence", score.Score),
	)
	return &ProcessResult{
		Fetch:      resp.Metadata,
		Validation: vr,
		Normalized: out.Points,
		Confidence: score,
	}, nil
}

// attachRevisionFlags marks normalized points whose underlying observation
// the provider revised during this fetch. Info severity: a revision is a
// provenance note, not a defect.
func attachRevisionFlags(points []model.NormalizedPoint, revs []model.RevisionDiff, now time.Time) {
	if len(revs) == 0 {
		return
	}
	for i := range points {
		for _, r := range revs {
			if points[i].ItemID != r.ItemID || points[i].Region != r.Region ||
				points[i].Date.Format("2006-01") != r.Date.Format("2006-01") {
				continue
			}
			points[i].Flags = append(points[i].Flags, model.QAFlag{
				Type:       model.FlagRevision,
				Severity:   model.SeverityInfo,
				Message:    fmt.Sprintf("value revised from %.4f to %.4f", r.OldValue, r.NewValue),
				ItemID:     r.ItemID,
				Date:       points[i].Date,
				DetectedAt: now,
			})
			break
		}
	}
}

// SeriesID names a normalized series.
func SeriesID(itemID, region string) string {
	return itemID + ":" + region
}

// Series returns the stored normalized points for the current pipeline
// version plus the latest confidence score, if one exists.
func (s *Service) Series(ctx context.Context, itemID, region string) ([]model.NormalizedPoint, *model.ConfidenceScore, error) {
	points, err := s.store.ListNormalizedPoints(ctx, itemID, region, pipeline.Version)
	if err != nil {
		return nil, nil, err
	}
	score, err := s.store.GetConfidenceScore(ctx, SeriesID(itemID, region))
	if err != nil {
		return nil, nil, err
	}
	return points, score, nil
}

// HealthStatuses returns every connector's health record sorted by id.
func (s *Service) HealthStatuses(_ context.Context) []model.HealthStatus {
	statuses := s.tracker.Statuses()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ConnectorID < statuses[j].ConnectorID })
	return statuses
}

// HealthStatus returns one connector's health record.
func (s *Service) HealthStatus(_ context.Context, connectorID string) (model.HealthStatus, error) {
	hs, ok := s.tracker.Status(connectorID)
	if !ok {
		return model.HealthStatus{}, eris.Errorf("service: unknown connector %s", connectorID)
	}
	return hs, nil
}

// Alerts lists alerts, optionally including resolved ones.
func (s *Service) Alerts(ctx context.Context, includeResolved bool) ([]model.MonitoringAlert, error) {
	return s.alerts.List(ctx, includeResolved)
}

// AcknowledgeAlert marks an alert seen.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID, by string) error {
	return s.alerts.Acknowledge(ctx, alertID, by)
}

// ResolveAlert closes an alert.
func (s *Service) ResolveAlert(ctx context.Context, alertID string) error {
	return s.alerts.Resolve(ctx, alertID)
}

// Scorecard builds the quality scorecard for a connector over a period.
func (s *Service) Scorecard(ctx context.Context, connectorID string, period model.ScorecardPeriod) (*model.QualityScorecard, error) {
	if _, ok := s.registry.Get(connectorID); !ok {
		return nil, eris.Errorf("service: unknown connector %s", connectorID)
	}
	return s.scorecards.Build(ctx, connectorID, period)
}

// Jobs lists remediation jobs, optionally filtered by connector.
func (s *Service) Jobs(ctx context.Context, connectorID string) ([]model.RemediationJob, error) {
	return s.engine.Jobs(ctx, connectorID)
}

// TriggerRemediation opens a manual remediation job.
func (s *Service) TriggerRemediation(ctx context.Context, connectorID string) (*model.RemediationJob, error) {
	return s.engine.CreateJob(ctx, connectorID, model.ReasonManualTrigger)
}

// CancelJob stops an active remediation job.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	return s.engine.Cancel(ctx, jobID)
}

// RetryJob re-arms a failed or cancelled job.
func (s *Service) RetryJob(ctx context.Context, jobID string) error {
	return s.engine.Retry(ctx, jobID)
}

// ClearCompletedJobs removes finished jobs and returns the count.
func (s *Service) ClearCompletedJobs(ctx context.Context) (int, error) {
	return s.engine.ClearCompleted(ctx)
}

// RemediationConfig returns the config in effect.
func (s *Service) RemediationConfig(_ context.Context) model.RemediationConfig {
	return s.engine.Config()
}

// UpdateRemediationConfig validates, persists, and applies a new config.
func (s *Service) UpdateRemediationConfig(ctx context.Context, cfg model.RemediationConfig) error {
	return s.engine.UpdateConfig(ctx, cfg)
}

// Subscribe registers a callback invoked after any health, alert, or
// remediation state change.
// The returned function unsubscribes; it is idempotent.
func (s *Service) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Service) notifySubscribers() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
