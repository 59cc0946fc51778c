package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outlier-sync/internal/reconcile"
	"github.com/sells-group/outlier-sync/internal/resilience"
	"github.com/sells-group/outlier-sync/internal/store"
	"github.com/sells-group/outlier-sync/internal/tableio"
)

// initStore opens the configured store and applies pending migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	schema := cfg.Reconcile.Schema
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outlier-sync.db"
		}
		return store.NewSQLite(dsn, schema)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, store.PostgresOptions{
			Pool:   &store.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns},
			Schema: schema,
			Retry:  resilience.FromRetryConfig(cfg.Store.RetryAttempts, cfg.Store.RetryBackoffMs, 0),
		})
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newReconciler() *reconcile.Reconciler {
	return reconcile.New(cfg.Reconcile.Options()...)
}

// inputOptions maps the input settings to reader options.
func inputOptions() tableio.Options {
	return tableio.Options{
		Schema:    cfg.Reconcile.Schema,
		Delimiter: parseDelimiter(cfg.Input.Delimiter),
		Encoding:  cfg.Input.Encoding,
		Sheet:     cfg.Input.Sheet,
	}
}

// parseDelimiter accepts a single character, "tab" or the escape "\t".
func parseDelimiter(s string) rune {
	switch s {
	case "":
		return 0
	case "tab", `\t`:
		return '\t'
	}
	return []rune(s)[0]
}

// runParams builds reconcile params from the --run-at and --actor flags.
func runParams(runAt, actor string) (reconcile.Params, error) {
	p := reconcile.Params{Actor: actor}
	if runAt != "" {
		at, err := reconcile.ParseRunAt(runAt)
		if err != nil {
			return p, err
		}
		p.At = at
	}
	return p, nil
}
