package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/model"
	"github.com/sells-group/outlier-sync/internal/reconcile"
	"github.com/sells-group/outlier-sync/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestServer(t *testing.T, opts Options) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = []string{"*"}
	}
	return New(st, reconcile.New(), opts), st
}

func row(node string, value float64) map[string]any {
	return map[string]any{
		"COB_DATE": "2025-07-29", "LEVEL2_NAME": "Rates", "LOB": "FI",
		"NODE_ID": node, "NODE_NAME": "Node " + node, "METRIC_NAME": "VaR",
		"metric_value": value,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReconcile_Stateless(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	body := map[string]any{
		"baseline": []any{row("n1", 1), row("n2", 2)},
		"incoming": []any{row("n1", 5), row("n3", 3)},
		"run_at":   "2025-07-30 06:15:00",
		"actor":    "api",
	}
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/reconcile", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Table   *model.Table       `json:"table"`
		Summary model.RunSummary   `json:"summary"`
		Changes []reconcile.Change `json:"changes"`
		Actor   string             `json:"actor"`
	}
	decode(t, rec, &res)
	assert.Equal(t, model.RunSummary{Incoming: 2, New: 1, Updated: 1, Missing: 1, Total: 3}, res.Summary)
	assert.Equal(t, "api", res.Actor)
	require.Len(t, res.Changes, 2)
	require.Equal(t, 3, res.Table.Len())
	assert.Equal(t, "updated", res.Table.At(0).Value("REVALIDATION_STATUS").Text())
	assert.Equal(t, "2025-07-30 06:15:00", res.Table.At(0).Value("UPDATED_DATE").Text())
	h, ok := res.Table.At(0).Value("AUDIT_HISTORY").History()
	require.True(t, ok)
	assert.Len(t, h, 1)

	tables, err := st.ListTables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestReconcile_Errors(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	h := srv.Handler()

	tests := []struct {
		name string
		body any
		code int
	}{
		{"bad json", `{"incoming": [`, http.StatusBadRequest},
		{"no incoming", map[string]any{"baseline": []any{}}, http.StatusBadRequest},
		{"bad run_at", map[string]any{"incoming": []any{row("n1", 1)}, "run_at": "soon"}, http.StatusBadRequest},
		{"missing key field", map[string]any{"incoming": []any{map[string]any{"COB_DATE": "2025-07-29"}}}, http.StatusUnprocessableEntity},
		{"duplicate baseline", map[string]any{
			"baseline": []any{row("n1", 1), row("n1", 2)},
			"incoming": []any{row("n1", 1)},
		}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/reconcile", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestReconcile_BodyTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxBodyBytes: 16})
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/reconcile", map[string]any{"incoming": []any{row("n1", 1)}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestTableLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/v1/tables/outliers", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/tables/outliers/reconcile", map[string]any{
		"incoming": []any{row("n1", 1), row("n2", 2)},
		"run_at":   "2025-07-29T06:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first runResponse
	decode(t, rec, &first)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, 2, first.Summary.New)

	rec = do(t, h, http.MethodPost, "/v1/tables/outliers/reconcile", map[string]any{
		"incoming": []any{row("n1", 9)},
		"dry_run":  true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var preview runResponse
	decode(t, rec, &preview)
	assert.True(t, preview.DryRun)
	assert.Empty(t, preview.RunID)
	assert.Equal(t, 1, preview.Summary.Updated)

	rec = do(t, h, http.MethodGet, "/v1/tables/outliers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tbl tableResponse
	decode(t, rec, &tbl)
	assert.Equal(t, "outliers", tbl.Name)
	assert.Contains(t, tbl.Columns, "AUDIT_HISTORY")
	require.Equal(t, 2, tbl.Records.Len())
	v, _ := tbl.Records.At(0).Value("metric_value").Num()
	assert.Equal(t, 1.0, v)

	rec = do(t, h, http.MethodGet, "/v1/tables", nil)
	assert.JSONEq(t, `{"tables":["outliers"]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/runs?table=outliers&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs struct {
		Runs []model.Run `json:"runs"`
	}
	decode(t, rec, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, first.RunID, runs.Runs[0].ID)
	assert.Equal(t, model.RunStatusComplete, runs.Runs[0].Status)

	rec = do(t, h, http.MethodGet, "/v1/runs/"+first.RunID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileTable_FailureIsLogged(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/tables/outliers/reconcile", map[string]any{
		"incoming": []any{map[string]any{"NODE_ID": "n1"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 2})
	h := srv.Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/tables", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/tables", nil).Code)
	rec := do(t, h, http.MethodGet, "/v1/tables", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// health is outside the limited group
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, Options{AllowedOrigins: []string{"https://review.example.com"}})
	req := httptest.NewRequest(http.MethodOptions, "/v1/reconcile", strings.NewReader(""))
	req.Header.Set("Origin", "https://review.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://review.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, Options{Port: 0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.ListenAndServe(ctx))
}
