package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/domain"
	"github.com/hamed0406/opsmonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Schema creates the tables used by the store. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS monitored_services (
  id               TEXT PRIMARY KEY,
  name             TEXT NOT NULL,
  url              TEXT NOT NULL,
  check_type       TEXT NOT NULL DEFAULT 'http',
  expected_status  INTEGER NOT NULL DEFAULT 200,
  status           TEXT NOT NULL DEFAULT 'unknown',
  response_time_ms DOUBLE PRECISION NULL,
  last_checked     TIMESTAMPTZ NULL,
  is_active        BOOLEAN NOT NULL DEFAULT TRUE,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS log_entries (
  id            BIGSERIAL PRIMARY KEY,
  timestamp     TIMESTAMPTZ NOT NULL DEFAULT now(),
  level         TEXT NOT NULL,
  source        TEXT NOT NULL,
  message       TEXT NOT NULL,
  metadata_json TEXT NULL
);

CREATE INDEX IF NOT EXISTS idx_log_entries_time ON log_entries (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_services_active ON monitored_services (is_active);
`

const targetColumns = `id, name, url, check_type, expected_status, status,
       response_time_ms, last_checked, is_active, created_at`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	cfg := pool.Config().ConnConfig
	log.Info("postgres_opened",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", pool.Config().MaxConns),
	)
	return &Store{pool: pool, log: log}, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("postgres_migrated")
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.log.Info("postgres_closed")
	}
	return nil
}

// ---- TargetStore ----

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	repo.PrepareNew(t)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO monitored_services
		   (id, name, url, check_type, expected_status, status, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(t.ID), t.Name, t.URL, string(t.Kind), t.ExpectedStatus, string(t.Status), t.Active, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM monitored_services WHERE id = $1`, string(id))
	t, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("get target: %w", err)
	}
	return &t, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetColumns+` FROM monitored_services ORDER BY name, id`)
}

func (s *Store) Update(ctx context.Context, t *domain.Target) error {
	row := s.pool.QueryRow(ctx,
		`UPDATE monitored_services
		    SET name = $2, url = $3, check_type = $4, expected_status = $5, is_active = $6
		  WHERE id = $1
		RETURNING `+targetColumns,
		string(t.ID), t.Name, t.URL, string(t.Kind), t.ExpectedStatus, t.Active,
	)
	updated, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("update target: %w", err)
	}
	*t = updated
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.TargetID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM monitored_services WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, u domain.TargetUpdate) error {
	tag, err := s.pool.Exec(ctx, updateStatusSQL, updateArgs(u)...)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- CycleStore ----

const updateStatusSQL = `UPDATE monitored_services
    SET status = $2, response_time_ms = $3, last_checked = $4
  WHERE id = $1`

const insertLogSQL = `INSERT INTO log_entries (timestamp, level, source, message, metadata_json)
VALUES ($1, $2, $3, $4, $5)`

func updateArgs(u domain.TargetUpdate) []any {
	return []any{string(u.ID), string(u.Status), u.ResponseTimeMS, u.CheckedAt}
}

func logArgs(e domain.LogEntry) []any {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return []any{ts, string(e.Level), e.Source, e.Message, e.Metadata}
}

func (s *Store) ListActive(ctx context.Context) ([]domain.Target, error) {
	return s.queryTargets(ctx,
		`SELECT `+targetColumns+` FROM monitored_services WHERE is_active ORDER BY name, id`)
}

// CommitCycle sends the whole batch inside one transaction. UPDATEs for
// deleted rows affect nothing, so deleted targets stay deleted.
func (s *Store) CommitCycle(ctx context.Context, b repo.Batch) error {
	if len(b.Updates) == 0 && len(b.Logs) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, u := range b.Updates {
			batch.Queue(updateStatusSQL, updateArgs(u)...)
		}
		for _, e := range b.Logs {
			batch.Queue(insertLogSQL, logArgs(e)...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	return nil
}

// ---- LogStore ----

func (s *Store) AppendLog(ctx context.Context, e *domain.LogEntry) error {
	args := logArgs(*e)
	err := s.pool.QueryRow(ctx, insertLogSQL+` RETURNING id, timestamp`, args...).Scan(&e.ID, &e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, f repo.LogFilter) ([]domain.LogEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Level != "" {
		args = append(args, string(f.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	q := `SELECT id, timestamp, level, source, message, metadata_json FROM log_entries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	q += fmt.Sprintf(` ORDER BY timestamp DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []domain.LogEntry
	for rows.Next() {
		var (
			e     domain.LogEntry
			level string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.Source, &e.Message, &e.Metadata); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Level = domain.Level(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LogSources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT source FROM log_entries ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("log sources: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// ---- helpers ----

func (s *Store) queryTargets(ctx context.Context, q string, args ...any) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTarget(row pgx.Row) (domain.Target, error) {
	var (
		t       domain.Target
		id      string
		kind    string
		status  string
		latency *float64
		checked *time.Time
	)
	err := row.Scan(&id, &t.Name, &t.URL, &kind, &t.ExpectedStatus, &status,
		&latency, &checked, &t.Active, &t.CreatedAt)
	if err != nil {
		return domain.Target{}, err
	}
	t.ID = domain.TargetID(id)
	t.Kind = domain.CheckKind(kind)
	t.Status = domain.Status(status)
	t.ResponseTimeMS = latency
	t.LastChecked = checked
	return t, nil
}
