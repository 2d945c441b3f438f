// Package sqlite is the on-disk store adapter, backed by mattn/go-sqlite3.
// All writes are serialized through a single mutex: sqlite permits one
// writer at a time, and many probes complete concurrently.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/casey/netmon/internal/domain"
	"github.com/casey/netmon/internal/repo"
)

var (
	_ repo.NodeStore         = (*Store)(nil)
	_ repo.ResultStore       = (*Store)(nil)
	_ repo.StatusChangeStore = (*Store)(nil)
)

type Store struct {
	db  *sql.DB
	log *zap.Logger

	wmu sync.Mutex // serializes writes
}

func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, log: log}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			detail TEXT NOT NULL,
			monitoring_interval INTEGER NOT NULL,
			retry_interval INTEGER NOT NULL,
			max_check_attempts INTEGER NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			credential_id TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monitoring_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			success INTEGER NOT NULL,
			latency_ms REAL,
			details TEXT,
			checked_at TIMESTAMP NOT NULL,
			FOREIGN KEY (node_id) REFERENCES nodes (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS status_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id INTEGER NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			changed_at TIMESTAMP NOT NULL,
			duration_ms INTEGER,
			FOREIGN KEY (node_id) REFERENCES nodes (id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_node_checked
			ON monitoring_results(node_id, checked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_node_changed
			ON status_changes(node_id, changed_at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init tables: %w", err)
		}
	}
	return nil
}

// ---- NodeStore ----

func (s *Store) Add(ctx context.Context, n *domain.Node) error {
	detail, err := json.Marshal(n.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes
		   (name, detail, monitoring_interval, retry_interval,
		    max_check_attempts, enabled, credential_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Name, string(detail), n.IntervalSec, n.RetryIntervalSec,
		n.MaxCheckAttempts, n.Enabled, nullStr(n.CredentialID), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	n.ID, err = res.LastInsertId()
	return err
}

func (s *Store) Update(ctx context.Context, n *domain.Node) error {
	detail, err := json.Marshal(n.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET
		   name = ?, detail = ?, monitoring_interval = ?, retry_interval = ?,
		   max_check_attempts = ?, enabled = ?, credential_id = ?
		 WHERE id = ?`,
		n.Name, string(detail), n.IntervalSec, n.RetryIntervalSec,
		n.MaxCheckAttempts, n.Enabled, nullStr(n.CredentialID), n.ID,
	)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("update node %d: %w", n.ID, repo.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*domain.Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, detail, monitoring_interval, retry_interval,
		        max_check_attempts, enabled, credential_id, created_at
		   FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get node %d: %w", id, repo.ErrNotFound)
	}
	return n, err
}

func (s *Store) List(ctx context.Context) ([]*domain.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, detail, monitoring_interval, retry_interval,
		        max_check_attempts, enabled, credential_id, created_at
		   FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []*domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("delete node %d: %w", id, repo.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (*domain.Node, error) {
	var (
		n          domain.Node
		detailJSON string
		credID     sql.NullString
	)
	if err := sc.Scan(&n.ID, &n.Name, &detailJSON, &n.IntervalSec,
		&n.RetryIntervalSec, &n.MaxCheckAttempts, &n.Enabled,
		&credID, &n.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(detailJSON), &n.Detail); err != nil {
		return nil, fmt.Errorf("decode detail for node %d: %w", n.ID, err)
	}
	n.CredentialID = credID.String
	return &n, nil
}

// ---- ResultStore ----

func (s *Store) Append(ctx context.Context, r *domain.MonitoringResult) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO monitoring_results
		   (node_id, status, success, latency_ms, details, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.NodeID, string(r.Status), r.Success, r.LatencyMS, r.Details, r.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListByNode(ctx context.Context, nodeID int64, limit int) ([]domain.MonitoringResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, status, success, latency_ms, details, checked_at
		   FROM monitoring_results
		  WHERE node_id = ?
		  ORDER BY checked_at DESC, id DESC
		  LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []domain.MonitoringResult
	for rows.Next() {
		var (
			r       domain.MonitoringResult
			latency sql.NullFloat64
			details sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Status, &r.Success,
			&latency, &details, &r.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if latency.Valid {
			v := latency.Float64
			r.LatencyMS = &v
		}
		r.Details = details.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UptimePercent(ctx context.Context, nodeID int64, since time.Time) (float64, error) {
	var total, up int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0)
		   FROM monitoring_results
		  WHERE node_id = ? AND checked_at >= ?`, nodeID, since).Scan(&total, &up)
	if err != nil {
		return 0, fmt.Errorf("uptime query: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(up) / float64(total) * 100, nil
}

// ---- StatusChangeStore ----

func (s *Store) AppendChange(ctx context.Context, c *domain.StatusChange) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO status_changes
		   (node_id, from_status, to_status, changed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		c.NodeID, string(c.FromStatus), string(c.ToStatus), c.ChangedAt, c.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListChangesByNode(ctx context.Context, nodeID int64, limit int) ([]domain.StatusChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, from_status, to_status, changed_at, duration_ms
		   FROM status_changes
		  WHERE node_id = ?
		  ORDER BY changed_at DESC, id DESC
		  LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list status changes: %w", err)
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) LatestChange(ctx context.Context, nodeID int64) (*domain.StatusChange, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, node_id, from_status, to_status, changed_at, duration_ms
		   FROM status_changes
		  WHERE node_id = ?
		  ORDER BY changed_at DESC, id DESC
		  LIMIT 1`, nodeID)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func scanChange(sc scanner) (*domain.StatusChange, error) {
	var (
		c        domain.StatusChange
		duration sql.NullInt64
	)
	if err := sc.Scan(&c.ID, &c.NodeID, &c.FromStatus, &c.ToStatus,
		&c.ChangedAt, &duration); err != nil {
		return nil, err
	}
	if duration.Valid {
		v := duration.Int64
		c.DurationMS = &v
	}
	return &c, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
