package fetch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/monitoring"
	"github.com/sells-group/econfeed/internal/registry"
	"github.com/sells-group/econfeed/internal/resilience"
	"github.com/sells-group/econfeed/internal/store"
)

// Service runs the fetch protocol: precondition checks, rate limiting,
// provider dispatch, call accounting, and the fallback chain when the
// provider cannot deliver.
type Service struct {
	registry  *registry.ConnectorRegistry
	tracker   *monitoring.Tracker
	store     store.Store
	providers map[model.ProviderKind]Provider
	synthetic *SyntheticProvider
	limiters  *limiterPool

	nowFunc func() time.Time
}

// NewService wires the default provider set over one shared HTTP client.
func NewService(reg *registry.ConnectorRegistry, tracker *monitoring.Tracker, st store.Store, httpOpts HTTPOptions) *Service {
	client := NewHTTPClient(httpOpts)
	providers := map[model.ProviderKind]Provider{
		model.ProviderJSON:   NewJSONProvider(client),
		model.ProviderCSV:    NewCSVProvider(client),
		model.ProviderXLSX:   NewXLSXProvider(client),
		model.ProviderXML:    NewXMLProvider(client),
		model.ProviderFTPCSV: NewFTPCSVProvider(0),
	}
	return &Service{
		registry:  reg,
		tracker:   tracker,
		store:     st,
		providers: providers,
		synthetic: NewSyntheticProvider(reg.Items()),
		limiters:  newLimiterPool(),
		nowFunc:   time.Now,
	}
}

// SetProvider overrides the provider for a kind. Test seam.
func (s *Service) SetProvider(p Provider) {
	s.providers[p.Kind()] = p
}

// SetClock injects a time source for deterministic tests.
func (s *Service) SetClock(now func() time.Time) { s.nowFunc = now }

// Fetch runs the full protocol for one request against one connector.
// Provider failure does not fail the call: the response degrades through
// last-known-good and then synthetic data, with the degradation spelled out
// in the metadata. Only precondition violations return an error.
func (s *Service) Fetch(ctx context.Context, connectorID string, req model.FetchRequest) (*model.FetchResponse, error) {
	conn, err := s.precheck(connectorID, req)
	if err != nil {
		return nil, err
	}

	meta := model.FetchMetadata{
		ConnectorID: conn.ID,
		SourceID:    conn.SourceID,
		FetchedAt:   s.nowFunc().UTC(),
	}

	// Open circuit: skip the provider entirely and degrade. The call never
	// reaches the provider so it is not recorded against the breaker.
	if err := s.tracker.Allow(conn.ID); err != nil {
		if eris.Is(err, resilience.ErrCircuitOpen) {
			meta.Warnings = append(meta.Warnings, "circuit breaker open; provider not called")
			return s.fallback(ctx, conn, req, meta)
		}
		return nil, err
	}

	if err := s.limiters.For(conn).Wait(ctx); err != nil {
		return nil, err
	}

	start := s.nowFunc()
	points, fetchErr := s.providers[conn.Kind].Fetch(ctx, conn, req)
	meta.Duration = s.nowFunc().Sub(start)

	// An empty result is a failure class of its own: it feeds the breaker
	// and degrades like any transport error.
	if fetchErr == nil && len(points) == 0 {
		fetchErr = eris.Errorf("fetch: provider returned no observations for %s", req.ItemID)
	}

	coverage := coveragePercent(points, req)
	errMsg := ""
	if fetchErr != nil {
		errMsg = fetchErr.Error()
	}
	s.tracker.RecordCall(ctx, conn, "fetch", fetchErr == nil, meta.Duration, coverage, errMsg)

	if fetchErr != nil {
		zap.L().Warn("fetch: provider call failed",
			zap.String("connector", conn.ID),
			zap.String("item", req.ItemID),
			zap.Error(fetchErr),
		)
		meta.Errors = append(meta.Errors, fetchErr.Error())
		return s.fallback(ctx, conn, req, meta)
	}

	meta.CoveragePercent = coverage
	if coverage < 100 {
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("partial coverage: %.1f%% of expected months", coverage))
	}

	inserted, revisions, err := s.store.StoreRawPoints(ctx, points)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: store raw points")
	}
	if len(revisions) > 0 {
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("%d observation(s) revised by provider", len(revisions)))
		meta.Revisions = revisions
	}
	// Serve the canonical stored rows: an unchanged observation keeps the
	// identity it was first stored under, a revised one the superseding row.
	if stored, listErr := s.store.ListRawPoints(ctx, req.ItemID, req.Region, req.Start, req.End); listErr == nil && len(stored) > 0 {
		points = stored
	}
	zap.L().Info("fetch: completed",
		zap.String("connector", conn.ID),
		zap.String("item", req.ItemID),
		zap.Int("points", len(points)),
		zap.Int("inserted", inserted),
		zap.Int("revisions", len(revisions)),
		zap.Float64("coverage", coverage),
	)

	return &model.FetchResponse{RawPoints: points, Metadata: meta}, nil
}

// Probe makes one lightweight provider call outside the breaker gate. The
// remediation engine uses it to test recovery while the circuit is open.
func (s *Service) Probe(ctx context.Context, connectorID string) error {
	conn, ok := s.registry.Get(connectorID)
	if !ok {
		return eris.Errorf("fetch: unknown connector %s", connectorID)
	}
	if len(conn.Items) == 0 {
		return eris.Errorf("fetch: connector %s advertises no items", connectorID)
	}

	now := s.nowFunc().UTC()
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	req := model.FetchRequest{
		ItemID: conn.Items[0],
		Region: "US",
		Start:  month,
		End:    month,
	}

	if err := s.limiters.For(conn).Wait(ctx); err != nil {
		return err
	}

	start := s.nowFunc()
	_, err := s.providers[conn.Kind].Fetch(ctx, conn, req)
	duration := s.nowFunc().Sub(start)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	s.tracker.RecordCall(ctx, conn, "probe", err == nil, duration, 0, errMsg)
	return err
}

// precheck validates the request against the registry before any network
// activity.
func (s *Service) precheck(connectorID string, req model.FetchRequest) (*model.Connector, error) {
	conn, ok := s.registry.Get(connectorID)
	if !ok {
		return nil, eris.Errorf("fetch: unknown connector %s", connectorID)
	}
	if !conn.Enabled {
		return nil, eris.Errorf("fetch: connector %s is disabled", connectorID)
	}
	if !conn.Advertises(req.ItemID) {
		return nil, eris.Errorf("fetch: connector %s does not carry item %s", connectorID, req.ItemID)
	}
	if _, ok := s.providers[conn.Kind]; !ok {
		return nil, eris.Errorf("fetch: no provider for kind %s", conn.Kind)
	}
	if req.End.Before(req.Start) {
		return nil, eris.New("fetch: request end precedes start")
	}
	if len(conn.AllowedDomains) > 0 && conn.BaseURL != "" {
		u, err := url.Parse(conn.BaseURL)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: parse base url for %s", connectorID)
		}
		if !conn.DomainAllowed(u.Hostname()) {
			return nil, eris.Errorf("fetch: host %s not in allowlist for %s", u.Hostname(), connectorID)
		}
	}
	return conn, nil
}

// fallback serves the best degraded answer available: the last stored
// observations for the range, or failing that, synthetic data.
func (s *Service) fallback(ctx context.Context, conn *model.Connector, req model.FetchRequest, meta model.FetchMetadata) (*model.FetchResponse, error) {
	stored, err := s.store.ListRawPoints(ctx, req.ItemID, req.Region, req.Start, req.End)
	if err != nil {
		zap.L().Error("fetch: fallback store lookup failed",
			zap.String("connector", conn.ID),
			zap.Error(err),
		)
	}
	if len(stored) > 0 {
		meta.Stale = true
		meta.CoveragePercent = coveragePercent(stored, req)
		meta.Warnings = append(meta.Warnings, "serving last known good data")
		zap.L().Info("fetch: serving last known good",
			zap.String("connector", conn.ID),
			zap.String("item", req.ItemID),
			zap.Int("points", len(stored)),
		)
		return &model.FetchResponse{RawPoints: stored, Metadata: meta}, nil
	}

	points, err := s.synthetic.Fetch(ctx, conn, req)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: synthetic fallback")
	}
	meta.Synthetic = true
	meta.CoveragePercent = coveragePercent(points, req)
	meta.Warnings = append(meta.Warnings, "serving synthetic placeholder data")
	zap.L().Warn("fetch: serving synthetic data",
		zap.String("connector", conn.ID),
		zap.String("item", req.ItemID),
	)
	return &model.FetchResponse{RawPoints: points, Metadata: meta}, nil
}
