package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/econfeed/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS health_status (
	connector_id TEXT PRIMARY KEY,
	data         TEXT NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	type         TEXT NOT NULL,
	level        TEXT NOT NULL,
	resolved     INTEGER NOT NULL DEFAULT 0,
	data         TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS call_log (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	ok           INTEGER NOT NULL,
	data         TEXT NOT NULL,
	at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	data         TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS remediation_config (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_points (
	id           TEXT PRIMARY KEY,
	item_id      TEXT NOT NULL,
	region       TEXT NOT NULL,
	month        TEXT NOT NULL,
	value        REAL NOT NULL,
	retrieved_at DATETIME NOT NULL,
	data         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revisions (
	id          TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS normalized_points (
	id      TEXT PRIMARY KEY,
	item_id TEXT NOT NULL,
	region  TEXT NOT NULL,
	month   TEXT NOT NULL,
	version INTEGER NOT NULL,
	data    TEXT NOT NULL,
	UNIQUE (item_id, region, month, version)
);

CREATE TABLE IF NOT EXISTS confidence_scores (
	series_id   TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	computed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_connector_type ON alerts(connector_id, type, resolved);
CREATE INDEX IF NOT EXISTS idx_call_log_at ON call_log(at);
CREATE INDEX IF NOT EXISTS idx_call_log_connector ON call_log(connector_id, at);
CREATE INDEX IF NOT EXISTS idx_jobs_connector_status ON jobs(connector_id, status);
CREATE INDEX IF NOT EXISTS idx_raw_points_key ON raw_points(item_id, region, month, retrieved_at);
CREATE INDEX IF NOT EXISTS idx_normalized_points_key ON normalized_points(item_id, region, version, month);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertHealthStatus(ctx context.Context, hs model.HealthStatus) error {
	data, err := json.Marshal(hs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal health status")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO health_status (connector_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(connector_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		hs.ConnectorID, string(data), hs.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert health status %s", hs.ConnectorID)
}

func (s *SQLiteStore) ListHealthStatuses(ctx context.Context) ([]model.HealthStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM health_status ORDER BY connector_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list health statuses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.HealthStatus
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan health status")
		}
		var hs model.HealthStatus
		if err := json.Unmarshal([]byte(data), &hs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal health status")
		}
		out = append(out, hs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate health statuses")
}

func (s *SQLiteStore) SaveAlert(ctx context.Context, a model.MonitoringAlert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal alert")
	}
	resolved := 0
	if a.Resolved() {
		resolved = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, connector_id, type, level, resolved, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET resolved = excluded.resolved, data = excluded.data`,
		a.ID, a.ConnectorID, string(a.Type), string(a.Level), resolved, string(data), a.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save alert %s", a.ID)
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, includeResolved bool) ([]model.MonitoringAlert, error) {
	query := `SELECT data FROM alerts`
	if !includeResolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MonitoringAlert
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		var a model.MonitoringAlert
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal alert")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate alerts")
}

func (s *SQLiteStore) AppendCallRecord(ctx context.Context, rec model.CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal call record")
	}
	ok := 0
	if rec.OK {
		ok = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_log (id, connector_id, ok, data, at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.ConnectorID, ok, string(data), rec.At.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert call record")
	}

	// Ring cap: keep only the newest CallLogCap entries.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM call_log WHERE id NOT IN (SELECT id FROM call_log ORDER BY at DESC, id DESC LIMIT ?)`,
		CallLogCap,
	)
	return eris.Wrap(err, "sqlite: cap call log")
}

func (s *SQLiteStore) ListCallRecords(ctx context.Context, connectorID string, since time.Time) ([]model.CallRecord, error) {
	query := `SELECT data FROM call_log WHERE at >= ?`
	args := []any{since.UTC()}
	if connectorID != "" {
		query += ` AND connector_id = ?`
		args = append(args, connectorID)
	}
	query += ` ORDER BY at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list call records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CallRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan call record")
		}
		var rec model.CallRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal call record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate call records")
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job model.RemediationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, connector_id, status, data, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, data = excluded.data`,
		job.ID, job.ConnectorID, string(job.Status), string(data), job.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save job %s", job.ID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context) ([]model.RemediationJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RemediationJob
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		var job model.RemediationJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job")
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) DeleteCompletedJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?)`,
		string(model.JobSuccess), string(model.JobFailed), string(model.JobCancelled),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete completed jobs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: completed jobs rows affected")
}

func (s *SQLiteStore) GetRemediationConfig(ctx context.Context) (*model.RemediationConfig, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM remediation_config WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get remediation config")
	}
	var cfg model.RemediationConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal remediation config")
	}
	return &cfg, nil
}

func (s *SQLiteStore) SetRemediationConfig(ctx context.Context, cfg model.RemediationConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal remediation config")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO remediation_config (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		string(data),
	)
	return eris.Wrap(err, "sqlite: set remediation config")
}

// StoreRawPoints inserts new raw points. An existing (item, month, region)
// key with a different value is superseded: the old row stays, the new row
// is inserted, and a revision diff is recorded. An unchanged key is skipped.
func (s *SQLiteStore) StoreRawPoints(ctx context.Context, points []model.RawPoint) (int, []model.RevisionDiff, error) {
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
		err := s.db.QueryRowContext(ctx,
			`SELECT id, value FROM raw_points WHERE item_id = ? AND region = ? AND month = ?
			 ORDER BY retrieved_at DESC, id DESC LIMIT 1`,
			p.ItemID, p.Region, month,
		).Scan(&prevID, &prevValue)
		switch {
		case err == sql.ErrNoRows:
			// First observation for this key.
		case err != nil:
			return stored, revisions, eris.Wrap(err, "sqlite: lookup raw point")
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
			return stored, revisions, eris.Wrap(err, "sqlite: marshal raw point")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO raw_points (id, item_id, region, month, value, retrieved_at, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.ItemID, p.Region, month, p.Value, p.RetrievedAt.UTC(), string(data),
		)
		if err != nil {
			return stored, revisions, eris.Wrap(err, "sqlite: insert raw point")
		}
		stored++
	}

	for _, rev := range revisions {
		data, err := json.Marshal(rev)
		if err != nil {
			return stored, revisions, eris.Wrap(err, "sqlite: marshal revision")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO revisions (id, data, recorded_at) VALUES (?, ?, ?)`,
			rev.ID, string(data), rev.RecordedAt,
		)
		if err != nil {
			return stored, revisions, eris.Wrap(err, "sqlite: insert revision")
		}
	}

	return stored, revisions, nil
}

// ListRawPoints returns the latest surviving raw point per (item, month,
// region) key within the range, ordered by month.
func (s *SQLiteStore) ListRawPoints(ctx context.Context, itemID, region string, start, end time.Time) ([]model.RawPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM raw_points WHERE item_id = ? AND region = ? AND month >= ? AND month <= ?
		 ORDER BY month ASC, retrieved_at ASC, id ASC`,
		itemID, region, start.Format("2006-01"), end.Format("2006-01"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw points")
	}
	defer rows.Close() //nolint:errcheck

	latest := make(map[model.PointKey]model.RawPoint)
	var order []model.PointKey
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw point")
		}
		var p model.RawPoint
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal raw point")
		}
		key := p.Key()
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = p
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate raw points")
	}

	out := make([]model.RawPoint, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out, nil
}

// StoreNormalizedPoints upserts per (item, region, month, version): one
// normalized point per series key and pipeline version. Re-normalizing the
// same window replaces the row; other versions are untouched.
func (s *SQLiteStore) StoreNormalizedPoints(ctx context.Context, points []model.NormalizedPoint) error {
	for i := range points {
		p := points[i]
		data, err := json.Marshal(p)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal normalized point")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO normalized_points (id, item_id, region, month, version, data) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(item_id, region, month, version) DO UPDATE SET id = excluded.id, data = excluded.data`,
			p.ID, p.ItemID, p.Region, p.Date.Format("2006-01"), p.Version, string(data),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert normalized point")
		}
	}
	return nil
}

func (s *SQLiteStore) ListNormalizedPoints(ctx context.Context, itemID, region string, version int) ([]model.NormalizedPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM normalized_points WHERE item_id = ? AND region = ? AND version = ? ORDER BY month ASC`,
		itemID, region, version,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list normalized points")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.NormalizedPoint
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan normalized point")
		}
		var p model.NormalizedPoint
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal normalized point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate normalized points")
}

func (s *SQLiteStore) SaveConfidenceScore(ctx context.Context, score model.ConfidenceScore) error {
	data, err := json.Marshal(score)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal confidence score")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO confidence_scores (series_id, data, computed_at) VALUES (?, ?, ?)
		 ON CONFLICT(series_id) DO UPDATE SET data = excluded.data, computed_at = excluded.computed_at`,
		score.SeriesID, string(data), score.ComputedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save confidence score %s", score.SeriesID)
}

func (s *SQLiteStore) GetConfidenceScore(ctx context.Context, seriesID string) (*model.ConfidenceScore, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM confidence_scores WHERE series_id = ?`, seriesID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get confidence score %s", seriesID)
	}
	var score model.ConfidenceScore
	if err := json.Unmarshal([]byte(data), &score); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal confidence score")
	}
	return &score, nil
}
