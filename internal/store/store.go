// Package store persists connector health, alerts, the capped call log,
// remediation jobs and config, and the point archive.
package store

import (
	"context"
	"time"

	"github.com/sells-group/econfeed/internal/model"
)

// CallLogCap is the maximum number of call records retained.
const CallLogCap = 1000

// Store defines the persistence interface for the acquisition core.
type Store interface {
	// Connector health
	UpsertHealthStatus(ctx context.Context, hs model.HealthStatus) error
	ListHealthStatuses(ctx context.Context) ([]model.HealthStatus, error)

	// Alerts
	SaveAlert(ctx context.Context, a model.MonitoringAlert) error
	ListAlerts(ctx context.Context, includeResolved bool) ([]model.MonitoringAlert, error)

	// Call log, ring-capped at CallLogCap entries
	AppendCallRecord(ctx context.Context, rec model.CallRecord) error
	ListCallRecords(ctx context.Context, connectorID string, since time.Time) ([]model.CallRecord, error)

	// Remediation jobs
	SaveJob(ctx context.Context, job model.RemediationJob) error
	ListJobs(ctx context.Context) ([]model.RemediationJob, error)
	DeleteCompletedJobs(ctx context.Context) (int, error)

	// Remediation config; Get returns nil when never stored
	GetRemediationConfig(ctx context.Context) (*model.RemediationConfig, error)
	SetRemediationConfig(ctx context.Context, cfg model.RemediationConfig) error

	// Raw points: append-only with supersede-on-revision semantics
	StoreRawPoints(ctx context.Context, points []model.RawPoint) (int, []model.RevisionDiff, error)
	ListRawPoints(ctx context.Context, itemID, region string, start, end time.Time) ([]model.RawPoint, error)

	// Normalized points: append-only per pipeline version
	StoreNormalizedPoints(ctx context.Context, points []model.NormalizedPoint) error
	ListNormalizedPoints(ctx context.Context, itemID, region string, version int) ([]model.NormalizedPoint, error)

	// Series confidence
	SaveConfidenceScore(ctx context.Context, score model.ConfidenceScore) error
	GetConfidenceScore(ctx context.Context, seriesID string) (*model.ConfidenceScore, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
