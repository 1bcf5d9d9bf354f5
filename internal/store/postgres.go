package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/econfeed/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, satisfied by pgxmock
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS health_status (
	connector_id TEXT PRIMARY KEY,
	data         JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	type         TEXT NOT NULL,
	level        TEXT NOT NULL,
	resolved     BOOLEAN NOT NULL DEFAULT false,
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS call_log (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	ok           BOOLEAN NOT NULL,
	data         JSONB NOT NULL,
	at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS remediation_config (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_points (
	id           TEXT PRIMARY KEY,
	item_id      TEXT NOT NULL,
	region       TEXT NOT NULL,
	month        TEXT NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	retrieved_at TIMESTAMPTZ NOT NULL,
	data         JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS revisions (
	id          TEXT PRIMARY KEY,
	data        JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS normalized_points (
	id      TEXT PRIMARY KEY,
	item_id TEXT NOT NULL,
	region  TEXT NOT NULL,
	month   TEXT NOT NULL,
	version INTEGER NOT NULL,
	data    JSONB NOT NULL,
	UNIQUE (item_id, region, month, version)
);

CREATE TABLE IF NOT EXISTS confidence_scores (
	series_id   TEXT PRIMARY KEY,
	data        JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_connector_type ON alerts(connector_id, type, resolved);
CREATE INDEX IF NOT EXISTS idx_call_log_at ON call_log(at);
CREATE INDEX IF NOT EXISTS idx_call_log_connector ON call_log(connector_id, at);
CREATE INDEX IF NOT EXISTS idx_jobs_connector_status ON jobs(connector_id, status);
CREATE INDEX IF NOT EXISTS idx_raw_points_key ON raw_points(item_id, region, month, retrieved_at);
CREATE INDEX IF NOT EXISTS idx_normalized_points_key ON normalized_points(item_id, region, version, month);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertHealthStatus(ctx context.Context, hs model.HealthStatus) error {
	data, err := json.Marshal(hs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal health status")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO health_status (connector_id, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (connector_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		hs.ConnectorID, data, hs.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert health status %s", hs.ConnectorID)
}

func (s *PostgresStore) ListHealthStatuses(ctx context.Context) ([]model.HealthStatus, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM health_status ORDER BY connector_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list health statuses")
	}
	defer rows.Close()

	var out []model.HealthStatus
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan health status")
		}
		var hs model.HealthStatus
		if err := json.Unmarshal(data, &hs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal health status")
		}
		out = append(out, hs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate health statuses")
}

func (s *PostgresStore) SaveAlert(ctx context.Context, a model.MonitoringAlert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal alert")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alerts (id, connector_id, type, level, resolved, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET resolved = EXCLUDED.resolved, data = EXCLUDED.data`,
		a.ID, a.ConnectorID, string(a.Type), string(a.Level), a.Resolved(), data, a.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: save alert %s", a.ID)
}

func (s *PostgresStore) ListAlerts(ctx context.Context, includeResolved bool) ([]model.MonitoringAlert, error) {
	query := `SELECT data FROM alerts`
	if !includeResolved {
		query += ` WHERE resolved = false`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var out []model.MonitoringAlert
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		var a model.MonitoringAlert
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal alert")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate alerts")
}

func (s *PostgresStore) AppendCallRecord(ctx context.Context, rec model.CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal call record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_log (id, connector_id, ok, data, at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.ConnectorID, rec.OK, data, rec.At.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert call record")
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM call_log WHERE id NOT IN (SELECT id FROM call_log ORDER BY at DESC, id DESC LIMIT $1)`,
		CallLogCap,
	)
	return eris.Wrap(err, "postgres: cap call log")
}

func (s *PostgresStore) ListCallRecords(ctx context.Context, connectorID string, since time.Time) ([]model.CallRecord, error) {
	query := `SELECT data FROM call_log WHERE at >= $1`
	args := []any{since.UTC()}
	if connectorID != "" {
		query += ` AND connector_id = $2`
		args = append(args, connectorID)
	}
	query += ` ORDER BY at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list call records")
	}
	defer rows.Close()

	var out []model.CallRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan call record")
		}
		var rec model.CallRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal call record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate call records")
}

func (s *PostgresStore) SaveJob(ctx context.Context, job model.RemediationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, connector_id, status, data, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data`,
		job.ID, job.ConnectorID, string(job.Status), data, job.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save job %s", job.ID)
}

func (s *PostgresStore) ListJobs(ctx context.Context) ([]model.RemediationJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []model.RemediationJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		var job model.RemediationJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job")
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) DeleteCompletedJobs(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2, $3)`,
		string(model.JobSuccess), string(model.JobFailed), string(model.JobCancelled),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete completed jobs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetRemediationConfig(ctx context.Context) (*model.RemediationConfig, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM remediation_config WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get remediation config")
	}
	var cfg model.RemediationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal remediation config")
	}
	return &cfg, nil
}

func (s *PostgresStore) SetRemediationConfig(ctx context.Context, cfg model.RemediationConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal remediation config")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO remediation_config (id, data) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		data,
	)
	return eris.Wrap(err, "postgres: set remediation config")
}

func (s *PostgresStore) StoreRawPoints(ctx context.Context, points []model.RawPoint) (int, []model.RevisionDiff, error) {
	stored := 0
	var revisions []model.RevisionDiff

	for i := range points {
		p := points[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		month := p.Date.Format("2006-01")

		var prevID string
		var prevValue float64
		err := s.pool.QueryRow(ctx,
			`SELECT id, value FROM raw_points WHERE item_id = $1 AND region = $2 AND month = $3
			 ORDER BY retrieved_at DESC, id DESC LIMIT 1`,
			p.ItemID, p.Region, month,
		).Scan(&prevID, &prevValue)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// First observation for this key.
		case err != nil:
			return stored, revisions, eris.Wrap(err, "postgres: lookup raw point")
		case prevValue == p.Value:
			continue
		default:
			revisions = append(revisions, model.RevisionDiff{
				ID:         uuid.New().String(),
				ItemID:     p.ItemID,
				Date:       p.Date,
				Region:     p.Region,
				OldValue:   prevValue,
				NewValue:   p.Value,
				OldPointID: prevID,
				NewPointID: p.ID,
				RecordedAt: p.RetrievedAt.UTC(),
			})
		}

		data, err := json.Marshal(p)
		if err != nil {
			return stored, revisions, eris.Wrap(err, "postgres: marshal raw point")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO raw_points (id, item_id, region, month, value, retrieved_at, data) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.ItemID, p.Region, month, p.Value, p.RetrievedAt.UTC(), data,
		)
		if err != nil {
			return stored, revisions, eris.Wrap(err, "postgres: insert raw point")
		}
		stored++
	}

	for _, rev := range revisions {
		data, err := json.Marshal(rev)
		if err != nil {
			return stored, revisions, eris.Wrap(err, "postgres: marshal revision")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO revisions (id, data, recorded_at) VALUES ($1, $2, $3)`,
			rev.ID, data, rev.RecordedAt,
		)
		if err != nil {
			return stored, revisions, eris.Wrap(err, "postgres: insert revision")
		}
	}

	return stored, revisions, nil
}

func (s *PostgresStore) ListRawPoints(ctx context.Context, itemID, region string, start, end time.Time) ([]model.RawPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (month) data FROM raw_points
		 WHERE item_id = $1 AND region = $2 AND month >= $3 AND month <= $4
		 ORDER BY month ASC, retrieved_at DESC, id DESC`,
		itemID, region, start.Format("2006-01"), end.Format("2006-01"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw points")
	}
	defer rows.Close()

	var out []model.RawPoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw point")
		}
		var p model.RawPoint
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal raw point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate raw points")
}

// StoreNormalizedPoints upserts per (item, region, month, version): one
// normalized point per series key and pipeline version.
func (s *PostgresStore) StoreNormalizedPoints(ctx context.Context, points []model.NormalizedPoint) error {
	for i := range points {
		p := points[i]
		data, err := json.Marshal(p)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal normalized point")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO normalized_points (id, item_id, region, month, version, data) VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (item_id, region, month, version) DO UPDATE SET id = excluded.id, data = excluded.data`,
			p.ID, p.ItemID, p.Region, p.Date.Format("2006-01"), p.Version, data,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: upsert normalized point")
		}
	}
	return nil
}

func (s *PostgresStore) ListNormalizedPoints(ctx context.Context, itemID, region string, version int) ([]model.NormalizedPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM normalized_points WHERE item_id = $1 AND region = $2 AND version = $3 ORDER BY month ASC`,
		itemID, region, version,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list normalized points")
	}
	defer rows.Close()

	var out []model.NormalizedPoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan normalized point")
		}
		var p model.NormalizedPoint
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal normalized point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate normalized points")
}

func (s *PostgresStore) SaveConfidenceScore(ctx context.Context, score model.ConfidenceScore) error {
	data, err := json.Marshal(score)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal confidence score")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO confidence_scores (series_id, data, computed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (series_id) DO UPDATE SET data = EXCLUDED.data, computed_at = EXCLUDED.computed_at`,
		score.SeriesID, data, score.ComputedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save confidence score %s", score.SeriesID)
}

func (s *PostgresStore) GetConfidenceScore(ctx context.Context, seriesID string) (*model.ConfidenceScore, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM confidence_scores WHERE series_id = $1`, seriesID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get confidence score %s", seriesID)
	}
	var score model.ConfidenceScore
	if err := json.Unmarshal(data, &score); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal confidence score")
	}
	return &score, nil
}
