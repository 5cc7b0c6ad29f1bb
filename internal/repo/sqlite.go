package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS metrics (
	device_id TEXT NOT NULL,
	variable  TEXT NOT NULL,
	subject   TEXT NOT NULL DEFAULT '',
	type      TEXT NOT NULL,
	value     REAL NOT NULL,
	text      TEXT NOT NULL DEFAULT '',
	unit      TEXT NOT NULL DEFAULT '',
	labels    TEXT NOT NULL DEFAULT '',
	ts        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_series ON metrics(device_id, variable, ts);
CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics(ts);
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	device_id  TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_device ON runs(device_id, started_at);
CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	body        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint ON alerts(fingerprint);
CREATE TABLE IF NOT EXISTS incidents (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	last_update INTEGER NOT NULL,
	body        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS hotspots (
	device_id  TEXT PRIMARY KEY,
	prevalence REAL NOT NULL,
	body       TEXT NOT NULL
);
`

// SQLiteStore persists to a single SQLite file in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store requires a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer connection avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// StoreMetrics implements Store.
func (s *SQLiteStore) StoreMetrics(ctx context.Context, metrics []models.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metrics (device_id, variable, subject, type, value, text, unit, labels, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare metrics insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		labels := ""
		if len(m.Labels) > 0 {
			data, err := json.Marshal(m.Labels)
			if err != nil {
				return fmt.Errorf("marshal labels: %w", err)
			}
			labels = string(data)
		}
		if _, err := stmt.ExecContext(ctx, m.DeviceID, m.Variable, m.Subject(), string(m.Type), m.Value, m.Text, m.Unit, labels, m.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("insert metric %s: %w", m.Key(), err)
		}
	}
	return tx.Commit()
}

const metricColumns = `device_id, variable, type, value, text, unit, labels, ts`

// QueryMetrics implements Store.
func (s *SQLiteStore) QueryMetrics(ctx context.Context, q MetricQuery) ([]models.Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics WHERE device_id = ?`
	args := []any{q.DeviceID}
	if q.Variable != "" {
		query += ` AND variable = ?`
		args = append(args, q.Variable)
	}
	if !q.From.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.To.UnixNano())
	}
	query += ` ORDER BY ts DESC, rowid DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	out, err := s.queryMetrics(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LatestMetrics implements Store.
func (s *SQLiteStore) LatestMetrics(ctx context.Context, deviceID string) ([]models.Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics m WHERE device_id = ? AND ts = (
		SELECT MAX(ts) FROM metrics WHERE device_id = m.device_id AND variable = m.variable AND subject = m.subject
	) ORDER BY variable, subject`
	return s.queryMetrics(ctx, query, deviceID)
}

func (s *SQLiteStore) queryMetrics(ctx context.Context, query string, args ...any) ([]models.Metric, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []models.Metric
	for rows.Next() {
		var (
			m      models.Metric
			typ    string
			labels string
			ts     int64
		)
		if err := rows.Scan(&m.DeviceID, &m.Variable, &typ, &m.Value, &m.Text, &m.Unit, &labels, &ts); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Type = models.MetricType(typ)
		m.Timestamp = time.Unix(0, ts).UTC()
		if labels != "" {
			if err := json.Unmarshal([]byte(labels), &m.Labels); err != nil {
				return nil, fmt.Errorf("decode labels: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// StoreRun implements Store.
func (s *SQLiteStore) StoreRun(ctx context.Context, run models.PipelineRun) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO runs (id, device_id, status, started_at, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, body = excluded.body`,
		run.ID, run.DeviceID, string(run.Status), run.StartedAt.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("store run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (models.PipelineRun, error) {
	var run models.PipelineRun
	err := s.getBody(ctx, `SELECT body FROM runs WHERE id = ?`, id, &run)
	return run, wrapNotFound("run", id, err)
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, deviceID string, limit int) ([]models.PipelineRun, error) {
	query := `SELECT body FROM runs`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query = withLimit(query+` ORDER BY started_at DESC, id DESC`, limit, &args)
	return listBodies[models.PipelineRun](ctx, s.db, query, args...)
}

// UpsertAlert implements Store.
func (s *SQLiteStore) UpsertAlert(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO alerts (id, fingerprint, device_id, status, created_at, body) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, body = excluded.body`,
		alert.ID, alert.Fingerprint, alert.DeviceID, string(alert.Status), alert.CreatedAt.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("upsert alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetAlert implements Store.
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	var alert models.Alert
	err := s.getBody(ctx, `SELECT body FROM alerts WHERE id = ?`, id, &alert)
	return alert, wrapNotFound("alert", id, err)
}

// ListAlerts implements Store.
func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	var args []any
	query := withLimit(`SELECT body FROM alerts ORDER BY created_at DESC, id DESC`, limit, &args)
	return listBodies[models.Alert](ctx, s.db, query, args...)
}

// UpsertIncident implements Store.
func (s *SQLiteStore) UpsertIncident(ctx context.Context, incident models.Incident) error {
	body, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO incidents (id, status, last_update, body) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, last_update = excluded.last_update, body = excluded.body`,
		incident.ID, string(incident.Status), incident.LastUpdate.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("upsert incident %s: %w", incident.ID, err)
	}
	return nil
}

// GetIncident implements Store.
func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	var incident models.Incident
	err := s.getBody(ctx, `SELECT body FROM incidents WHERE id = ?`, id, &incident)
	return incident, wrapNotFound("incident", id, err)
}

// ListIncidents implements Store.
func (s *SQLiteStore) ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error) {
	query := `SELECT body FROM incidents`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query = withLimit(query+` ORDER BY last_update DESC, id DESC`, limit, &args)
	return listBodies[models.Incident](ctx, s.db, query, args...)
}

// StoreHotspots implements Store.
func (s *SQLiteStore) StoreHotspots(ctx context.Context, hotspots []models.Hotspot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, h := range hotspots {
		body, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("marshal hotspot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO hotspots (device_id, prevalence, body) VALUES (?, ?, ?)
			ON CONFLICT(device_id) DO UPDATE SET prevalence = excluded.prevalence, body = excluded.body`,
			h.DeviceID, h.Prevalence, string(body)); err != nil {
			return fmt.Errorf("store hotspot %s: %w", h.DeviceID, err)
		}
	}
	return tx.Commit()
}

// Hotspots implements Store.
func (s *SQLiteStore) Hotspots(ctx context.Context) ([]models.Hotspot, error) {
	return listBodies[models.Hotspot](ctx, s.db, `SELECT body FROM hotspots ORDER BY prevalence DESC, device_id`)
}

// Prune implements Store. The deletes share one transaction.
func (s *SQLiteStore) Prune(ctx context.Context, now time.Time, keep config.RetentionConfig) (PruneResult, error) {
	var res PruneResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		age   time.Duration
		query string
		count *int64
	}{
		{keep.Metrics, `DELETE FROM metrics WHERE ts < ?`, &res.Metrics},
		{keep.Runs, `DELETE FROM runs WHERE started_at < ?`, &res.Runs},
		{keep.Alerts, `DELETE FROM alerts WHERE created_at < ? AND status IN ('resolved', 'suppressed')`, &res.Alerts},
	}
	for _, step := range steps {
		before := cutoff(now, step.age)
		if before.IsZero() {
			continue
		}
		out, err := tx.ExecContext(ctx, step.query, before.UnixNano())
		if err != nil {
			return PruneResult{}, fmt.Errorf("prune: %w", err)
		}
		if *step.count, err = out.RowsAffected(); err != nil {
			return PruneResult{}, fmt.Errorf("prune rows affected: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return PruneResult{}, fmt.Errorf("commit prune: %w", err)
	}
	return res, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getBody(ctx context.Context, query, id string, out any) error {
	var body string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&body); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func listBodies[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var item T
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func withLimit(query string, limit int, args *[]any) string {
	if limit <= 0 {
		return query
	}
	*args = append(*args, limit)
	return query + ` LIMIT ?`
}

func wrapNotFound(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}
