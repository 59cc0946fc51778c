package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outlier-sync/internal/model"
	"github.com/sells-group/outlier-sync/internal/reconcile"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	schema model.Schema
	locks  tableLocks
	now    func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, schema model.Schema) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, schema: schema.WithDefaults(), now: time.Now}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	files, err := migrations("sqlite")
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure migration table")
	}

	for _, m := range files {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, m.Name,
		).Scan(&n); err != nil {
			return eris.Wrapf(err, "sqlite: check migration %s", m.Name)
		}
		if n > 0 {
			continue
		}

		log.Info("applying migration", zap.String("file", m.Name))
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrap(err, "sqlite: migrate: begin")
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return eris.Wrapf(err, "sqlite: apply migration %s", m.Name)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES (?)`, m.Name); err != nil {
			tx.Rollback() //nolint:errcheck
			return eris.Wrapf(err, "sqlite: record migration %s", m.Name)
		}
		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "sqlite: commit migration %s", m.Name)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadTable(ctx context.Context, name string) (*model.Table, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load: begin")
	}
	defer tx.Rollback() //nolint:errcheck
	return s.loadTable(ctx, tx, name)
}

func (s *SQLiteStore) SaveTable(ctx context.Context, name string, t *model.Table) error {
	if t == nil {
		return eris.New("sqlite: save nil table")
	}
	unlock := s.locks.lock(name)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: save: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.saveTable(ctx, tx, name, t); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: save: commit")
}

// Apply holds an in-process lock on the table for the whole load, transform
// and save. Other processes are held off by the write transaction.
func (s *SQLiteStore) Apply(ctx context.Context, name string, fn ApplyFunc) error {
	unlock := s.locks.lock(name)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: apply: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	baseline, err := s.loadTable(ctx, tx, name)
	if err != nil {
		return err
	}
	out, err := fn(baseline)
	if err != nil {
		return err
	}
	if out == nil {
		return eris.New("sqlite: apply produced no table")
	}
	if err := s.saveTable(ctx, tx, name, out); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: apply: commit")
}

func (s *SQLiteStore) loadTable(ctx context.Context, tx *sql.Tx, name string) (*model.Table, error) {
	var colsJSON string
	err := tx.QueryRowContext(ctx, `SELECT columns FROM outlier_tables WHERE table_name = ?`, name).Scan(&colsJSON)
	if err == sql.ErrNoRows {
		return model.NewTable(), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load table %s", name)
	}
	var columns []string
	if err := json.Unmarshal([]byte(colsJSON), &columns); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal columns of %s", name)
	}

	rows, err := tx.QueryContext(ctx, `SELECT data FROM outlier_rows WHERE table_name = ? ORDER BY position`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load rows of %s", name)
	}
	defer rows.Close()

	var recs []*model.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		rec := model.NewRecord()
		if err := rec.UnmarshalJSON([]byte(data)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode row %d of %s", len(recs), name)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: iterate rows of %s", name)
	}
	return assemble(columns, recs), nil
}

func (s *SQLiteStore) saveTable(ctx context.Context, tx *sql.Tx, name string, t *model.Table) error {
	colsJSON, err := json.Marshal(t.Columns())
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal columns")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outlier_tables (table_name, columns, row_count, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (table_name) DO UPDATE SET columns = excluded.columns, row_count = excluded.row_count, updated_at = excluded.updated_at`,
		name, string(colsJSON), t.Len(), s.now().UTC(),
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert table %s", name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outlier_rows WHERE table_name = ?`, name); err != nil {
		return eris.Wrapf(err, "sqlite: clear rows of %s", name)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outlier_rows (table_name, position, match_key, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare row insert")
	}
	defer stmt.Close()

	for i, rec := range t.Records() {
		data, err := rec.MarshalJSON()
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode row %d", i)
		}
		if _, err := stmt.ExecContext(ctx, name, i, reconcile.MatchKey(rec, s.schema), string(data)); err != nil {
			return eris.Wrapf(err, "sqlite: insert row %d of %s", i, name)
		}
	}
	return nil
}

func (s *SQLiteStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT table_name FROM outlier_tables ORDER BY table_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: list tables iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, table, actor string, runAt time.Time) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		Table:     table,
		Status:    model.RunStatusRunning,
		Actor:     actor,
		RunAt:     runAt.UTC(),
		StartedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconcile_runs (id, table_name, status, actor, run_at, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Table, string(r.Status), r.Actor, r.RunAt, r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return r, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reconcile_runs SET status = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(summaryJSON), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reconcile_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errorText(cause), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := runSelect + ` WHERE 1=1`
	var args []any

	if filter.Table != "" {
		query += ` AND table_name = ?`
		args = append(args, filter.Table)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, runLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "sqlite: run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r           model.Run
		status      string
		completedAt sql.NullTime
		summaryJSON sql.NullString
		errText     sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Table, &status, &r.Actor, &r.RunAt, &r.StartedAt, &completedAt, &summaryJSON, &errText); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	r.Error = errText.String
	if summaryJSON.Valid && summaryJSON.String != "" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
