package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/model"
	"github.com/sells-group/outlier-sync/internal/reconcile"
	"github.com/sells-group/outlier-sync/internal/store"
)

type reconcileRequest struct {
	Baseline *model.Table `json:"baseline"`
	Incoming *model.Table `json:"incoming"`
	RunAt    string       `json:"run_at"`
	Actor    string       `json:"actor"`
	DryRun   bool         `json:"dry_run"`
}

type runResponse struct {
	RunID   string             `json:"run_id,omitempty"`
	DryRun  bool               `json:"dry_run,omitempty"`
	Summary model.RunSummary   `json:"summary"`
	Changes []reconcile.Change `json:"changes,omitempty"`
	RunAt   time.Time          `json:"run_at"`
	Actor   string             `json:"actor"`
}

type tableResponse struct {
	Name    string       `json:"name"`
	Columns []string     `json:"columns"`
	Records *model.Table `json:"records"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reconcile merges a posted incoming table into a posted baseline without
// touching the store.
func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	req, params, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	res, err := s.rec.Reconcile(req.Baseline, req.Incoming, params)
	if err != nil {
		s.writeReconcileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reconcileTable merges a posted incoming table into a stored table.
func (s *Server) reconcileTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	req, params, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	run := s.runner.Run
	if req.DryRun {
		run = s.runner.Preview
	}
	out, err := run(r.Context(), name, req.Incoming, params)
	if err != nil {
		s.writeReconcileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunID:   out.RunID,
		DryRun:  out.DryRun,
		Summary: out.Result.Summary,
		Changes: out.Result.Changes,
		RunAt:   out.Result.At,
		Actor:   out.Result.Actor,
	})
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListTables(r.Context())
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tables": names})
}

func (s *Server) getTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	names, err := s.store.ListTables(r.Context())
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "table not found")
		return
	}

	t, err := s.store.LoadTable(r.Context(), name)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tableResponse{Name: name, Columns: t.Columns(), Records: t})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Table:  q.Get("table"),
		Status: model.RunStatus(q.Get("status")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.Run{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*reconcileRequest, reconcile.Params, bool) {
	var req reconcileRequest
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, reconcile.Params{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, reconcile.Params{}, false
	}
	if req.Incoming == nil {
		writeError(w, http.StatusBadRequest, "incoming is required")
		return nil, reconcile.Params{}, false
	}

	params := reconcile.Params{Actor: req.Actor}
	if req.RunAt != "" {
		at, err := reconcile.ParseRunAt(req.RunAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid run_at")
			return nil, reconcile.Params{}, false
		}
		params.At = at
	}
	return &req, params, true
}

func (s *Server) writeReconcileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reconcile.ErrDuplicateKey):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reconcile.ErrMissingKeyField):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.writeInternal(w, err)
	}
}

func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
