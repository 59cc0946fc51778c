package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/db"
	"github.com/sells-group/outlier-sync/internal/model"
	"github.com/sells-group/outlier-sync/internal/reconcile"
	"github.com/sells-group/outlier-sync/internal/resilience"
)

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 7736223

var rowColumns = []string{"table_name", "position", "match_key", "data"}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	schema  model.Schema
	retry   resilience.RetryConfig
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresOptions configures NewPostgres.
type PostgresOptions struct {
	Pool   *PoolConfig
	Schema model.Schema
	Retry  resilience.RetryConfig
}

// NewPostgres creates a PostgresStore with a connection pool. The initial ping
// is retried while the server is unreachable.
func NewPostgres(ctx context.Context, connString string, opts PostgresOptions) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if opts.Pool != nil {
		if opts.Pool.MaxConns > 0 {
			maxConns = opts.Pool.MaxConns
		}
		if opts.Pool.MinConns > 0 {
			minConns = opts.Pool.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("postgres", "ping")
	}
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := newPostgresStore(pool, opts.Schema)
	s.retry = opts.Retry
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool, schema model.Schema) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		schema: schema.WithDefaults(),
		retry:  resilience.RetryConfig{MaxAttempts: 1},
		now:    time.Now,
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Migrate applies pending embedded migrations inside one transaction guarded
// by an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	files, err := migrations("postgres")
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: migrate: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: migrate: acquire advisory lock")
	}
	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: migrate: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	for _, m := range files {
		if applied[m.Name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.Name))
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", m.Name)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", m.Name); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", m.Name)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: migrate: commit")
}

func (s *PostgresStore) appliedMigrations(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

func (s *PostgresStore) LoadTable(ctx context.Context, name string) (*model.Table, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t, err := loadTable(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	return t, eris.Wrap(tx.Commit(ctx), "postgres: load: commit")
}

func (s *PostgresStore) SaveTable(ctx context.Context, name string, t *model.Table) error {
	if t == nil {
		return eris.New("postgres: save nil table")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: save: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockTable(ctx, tx, name); err != nil {
		return err
	}
	if err := s.saveTable(ctx, tx, name, t); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: save: commit")
}

// Apply runs fn under a transaction-scoped advisory lock on the table name.
// Serialization failures and dropped connections retry the whole unit.
func (s *PostgresStore) Apply(ctx context.Context, name string, fn ApplyFunc) error {
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.apply(ctx, name, fn)
	})
}

func (s *PostgresStore) apply(ctx context.Context, name string, fn ApplyFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: apply: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockTable(ctx, tx, name); err != nil {
		return err
	}
	baseline, err := loadTable(ctx, tx, name)
	if err != nil {
		return err
	}
	out, err := fn(baseline)
	if err != nil {
		return err
	}
	if out == nil {
		return eris.New("postgres: apply produced no table")
	}
	if err := s.saveTable(ctx, tx, name, out); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: apply: commit")
}

func lockTable(ctx context.Context, tx pgx.Tx, name string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", name); err != nil {
		return eris.Wrapf(err, "postgres: lock table %s", name)
	}
	return nil
}

func loadTable(ctx context.Context, tx pgx.Tx, name string) (*model.Table, error) {
	var colsJSON []byte
	err := tx.QueryRow(ctx, `SELECT columns FROM outlier_tables WHERE table_name = $1`, name).Scan(&colsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewTable(), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load table %s", name)
	}
	var columns []string
	if err := json.Unmarshal(colsJSON, &columns); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal columns of %s", name)
	}

	rows, err := tx.Query(ctx, `SELECT data FROM outlier_rows WHERE table_name = $1 ORDER BY position`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load rows of %s", name)
	}
	defer rows.Close()

	var recs []*model.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		rec := model.NewRecord()
		if err := rec.UnmarshalJSON(data); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode row %d of %s", len(recs), name)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate rows of %s", name)
	}
	return assemble(columns, recs), nil
}

// saveTable replaces the stored rows of a table. Rows are upserted by position
// and positions past the new length are removed.
func (s *PostgresStore) saveTable(ctx context.Context, tx pgx.Tx, name string, t *model.Table) error {
	colsJSON, err := json.Marshal(t.Columns())
	if err != nil {
		return eris.Wrap(err, "postgres: marshal columns")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO outlier_tables (table_name, columns, row_count, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (table_name) DO UPDATE SET columns = EXCLUDED.columns, row_count = EXCLUDED.row_count, updated_at = EXCLUDED.updated_at`,
		name, string(colsJSON), t.Len(), s.now().UTC(),
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert table %s", name)
	}

	rows := make([][]any, 0, t.Len())
	for i, rec := range t.Records() {
		data, err := rec.MarshalJSON()
		if err != nil {
			return eris.Wrapf(err, "postgres: encode row %d", i)
		}
		rows = append(rows, []any{name, i, reconcile.MatchKey(rec, s.schema), string(data)})
	}
	if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
		Table:        "outlier_rows",
		Columns:      rowColumns,
		ConflictKeys: []string{"table_name", "position"},
	}, rows); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM outlier_rows WHERE table_name = $1 AND position >= $2`, name, t.Len()); err != nil {
		return eris.Wrapf(err, "postgres: trim rows of %s", name)
	}
	return nil
}

func (s *PostgresStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT table_name FROM outlier_tables ORDER BY table_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan table name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "postgres: list tables iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, table, actor string, runAt time.Time) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		Table:     table,
		Status:    model.RunStatusRunning,
		Actor:     actor,
		RunAt:     runAt.UTC(),
		StartedAt: s.now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reconcile_runs (id, table_name, status, actor, run_at, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Table, string(r.Status), r.Actor, r.RunAt, r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE reconcile_runs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), string(summaryJSON), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return checkTag(tag, runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reconcile_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errorText(cause), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return checkTag(tag, runID)
}

const runSelect = `SELECT id, table_name, status, actor, run_at, started_at, completed_at, summary, error FROM reconcile_runs`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, runSelect+` WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := runSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Table != "" {
		query += fmt.Sprintf(` AND table_name = $%d`, argIdx)
		args = append(args, filter.Table)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, runLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var (
		r           model.Run
		status      string
		summaryJSON []byte
		errText     *string
	)
	if err := row.Scan(&r.ID, &r.Table, &status, &r.Actor, &r.RunAt, &r.StartedAt, &r.CompletedAt, &summaryJSON, &errText); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if errText != nil {
		r.Error = *errText
	}
	if len(summaryJSON) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

func checkTag(tag pgconn.CommandTag, runID string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: run %s", runID)
	}
	return nil
}
