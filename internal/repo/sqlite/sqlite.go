// Package sqlite is the default single-node store, backed by a pooled
// SQLite database in WAL mode.
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hamed0406/opsmonitor/internal/domain"
	"github.com/hamed0406/opsmonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// timeLayout is fixed width so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS monitored_services (
  id               TEXT PRIMARY KEY,
  name             TEXT NOT NULL,
  url              TEXT NOT NULL,
  check_type       TEXT NOT NULL DEFAULT 'http',
  expected_status  INTEGER NOT NULL DEFAULT 200,
  status           TEXT NOT NULL DEFAULT 'unknown',
  response_time_ms REAL,
  last_checked     TEXT,
  is_active        INTEGER NOT NULL DEFAULT 1,
  created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS log_entries (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  timestamp     TEXT NOT NULL,
  level         TEXT NOT NULL,
  source        TEXT NOT NULL,
  message       TEXT NOT NULL,
  metadata_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_log_entries_time ON log_entries (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_services_active ON monitored_services (is_active);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

const targetColumns = `id, name, url, check_type, expected_status, status,
       response_time_ms, last_checked, is_active, created_at`

type Store struct {
	pool *sqlitex.Pool
	log  *zap.Logger
	path string
}

// Open creates the database file if needed and applies the schema on every
// new connection. poolSize <= 0 defaults to 4.
func Open(path string, poolSize int, log *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	log.Info("sqlite_opened", zap.String("path", path), zap.Int("pool_size", poolSize))
	return &Store{pool: pool, log: log, path: path}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite: schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: close %s: %w", s.path, err)
	}
	s.log.Info("sqlite_closed", zap.String("path", s.path))
	return nil
}

// ---- TargetStore ----

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	repo.PrepareNew(t)
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO monitored_services
			   (id, name, url, check_type, expected_status, status, is_active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				string(t.ID), t.Name, t.URL, string(t.Kind), t.ExpectedStatus,
				string(t.Status), boolInt(t.Active), formatTime(t.CreatedAt),
			}})
		if err != nil {
			return fmt.Errorf("insert target: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	var out *domain.Target
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		ts, err := queryTargets(conn, `SELECT `+targetColumns+` FROM monitored_services WHERE id = ?`, string(id))
		if err != nil {
			return fmt.Errorf("get target: %w", err)
		}
		if len(ts) == 0 {
			return repo.ErrNotFound
		}
		out = &ts[0]
		return nil
	})
	return out, err
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	var out []domain.Target
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		out, err = queryTargets(conn, `SELECT `+targetColumns+` FROM monitored_services ORDER BY name, id`)
		return err
	})
	return out, err
}

func (s *Store) Update(ctx context.Context, t *domain.Target) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE monitored_services
			    SET name = ?, url = ?, check_type = ?, expected_status = ?, is_active = ?
			  WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{
				t.Name, t.URL, string(t.Kind), t.ExpectedStatus, boolInt(t.Active), string(t.ID),
			}})
		if err != nil {
			return fmt.Errorf("update target: %w", err)
		}
		if conn.Changes() == 0 {
			return repo.ErrNotFound
		}
		ts, err := queryTargets(conn, `SELECT `+targetColumns+` FROM monitored_services WHERE id = ?`, string(t.ID))
		if err != nil {
			return fmt.Errorf("reload target: %w", err)
		}
		if len(ts) == 0 {
			return repo.ErrNotFound
		}
		*t = ts[0]
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id domain.TargetID) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM monitored_services WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(id)}})
		if err != nil {
			return fmt.Errorf("delete target: %w", err)
		}
		if conn.Changes() == 0 {
			return repo.ErrNotFound
		}
		return nil
	})
}

func (s *Store) SetStatus(ctx context.Context, u domain.TargetUpdate) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := updateStatus(conn, u); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if conn.Changes() == 0 {
			return repo.ErrNotFound
		}
		return nil
	})
}

// ---- CycleStore ----

func (s *Store) ListActive(ctx context.Context) ([]domain.Target, error) {
	var out []domain.Target
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		out, err = queryTargets(conn,
			`SELECT `+targetColumns+` FROM monitored_services WHERE is_active = 1 ORDER BY name, id`)
		return err
	})
	return out, err
}

// CommitCycle writes the batch in one IMMEDIATE transaction.
func (s *Store) CommitCycle(ctx context.Context, b repo.Batch) error {
	if len(b.Updates) == 0 && len(b.Logs) == 0 {
		return nil
	}
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("commit cycle: begin: %w", err)
		}
		defer endTransaction(&err)

		for _, u := range b.Updates {
			if err := updateStatus(conn, u); err != nil {
				return fmt.Errorf("commit cycle: update %s: %w", u.ID, err)
			}
		}
		for _, e := range b.Logs {
			if _, err := insertLog(conn, e); err != nil {
				return fmt.Errorf("commit cycle: insert log: %w", err)
			}
		}
		return nil
	})
}

// ---- LogStore ----

func (s *Store) AppendLog(ctx context.Context, e *domain.LogEntry) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		id, err := insertLog(conn, *e)
		if err != nil {
			return fmt.Errorf("insert log: %w", err)
		}
		e.ID = id
		return nil
	})
}

func (s *Store) ListLogs(ctx context.Context, f repo.LogFilter) ([]domain.LogEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Level != "" {
		where = append(where, "level = ?")
		args = append(args, string(f.Level))
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	q := `SELECT id, timestamp, level, source, message, metadata_json FROM log_entries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, f.EffectiveLimit())

	var out []domain.LogEntry
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e := domain.LogEntry{
					ID:      stmt.ColumnInt64(0),
					Level:   domain.Level(stmt.ColumnText(2)),
					Source:  stmt.ColumnText(3),
					Message: stmt.ColumnText(4),
				}
				ts, err := parseTime(stmt.ColumnText(1))
				if err != nil {
					return err
				}
				e.Timestamp = ts
				if !stmt.ColumnIsNull(5) {
					meta := stmt.ColumnText(5)
					e.Metadata = &meta
				}
				out = append(out, e)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return out, nil
}

func (s *Store) LogSources(ctx context.Context) ([]string, error) {
	var out []string
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT DISTINCT source FROM log_entries ORDER BY source`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, stmt.ColumnText(0))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("log sources: %w", err)
	}
	return out, nil
}

// ---- helpers ----

func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

func updateStatus(conn *sqlite.Conn, u domain.TargetUpdate) error {
	var latency any
	if u.ResponseTimeMS != nil {
		latency = *u.ResponseTimeMS
	}
	return sqlitex.Execute(conn,
		`UPDATE monitored_services SET status = ?, response_time_ms = ?, last_checked = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(u.Status), latency, formatTime(u.CheckedAt), string(u.ID)}})
}

func insertLog(conn *sqlite.Conn, e domain.LogEntry) (int64, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var meta any
	if e.Metadata != nil {
		meta = *e.Metadata
	}
	err := sqlitex.Execute(conn,
		`INSERT INTO log_entries (timestamp, level, source, message, metadata_json) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{formatTime(ts), string(e.Level), e.Source, e.Message, meta}})
	if err != nil {
		return 0, err
	}
	return conn.LastInsertRowID(), nil
}

func queryTargets(conn *sqlite.Conn, q string, args ...any) ([]domain.Target, error) {
	var out []domain.Target
	err := sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			t, err := scanTarget(stmt)
			if err != nil {
				return err
			}
			out = append(out, t)
			return nil
		},
	})
	return out, err
}

// Columns follow targetColumns.
func scanTarget(stmt *sqlite.Stmt) (domain.Target, error) {
	t := domain.Target{
		ID:             domain.TargetID(stmt.ColumnText(0)),
		Name:           stmt.ColumnText(1),
		URL:            stmt.ColumnText(2),
		Kind:           domain.CheckKind(stmt.ColumnText(3)),
		ExpectedStatus: stmt.ColumnInt(4),
		Status:         domain.Status(stmt.ColumnText(5)),
		Active:         stmt.ColumnInt(8) != 0,
	}
	if !stmt.ColumnIsNull(6) {
		ms := stmt.ColumnFloat(6)
		t.ResponseTimeMS = &ms
	}
	if !stmt.ColumnIsNull(7) {
		checked, err := parseTime(stmt.ColumnText(7))
		if err != nil {
			return domain.Target{}, err
		}
		t.LastChecked = &checked
	}
	created, err := parseTime(stmt.ColumnText(9))
	if err != nil {
		return domain.Target{}, err
	}
	t.CreatedAt = created
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
