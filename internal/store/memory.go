package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outlier-sync/internal/model"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*model.Table
	runs   []*model.Run
	locks  tableLocks
	now    func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]*model.Table),
		now:    time.Now,
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) LoadTable(_ context.Context, name string) (*model.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[name]; ok {
		return t.Clone(), nil
	}
	return model.NewTable(), nil
}

func (s *MemoryStore) SaveTable(_ context.Context, name string, t *model.Table) error {
	if t == nil {
		return eris.New("memory: save nil table")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = t.Clone()
	return nil
}

func (s *MemoryStore) Apply(ctx context.Context, name string, fn ApplyFunc) error {
	unlock := s.locks.lock(name)
	defer unlock()

	baseline, err := s.LoadTable(ctx, name)
	if err != nil {
		return err
	}
	out, err := fn(baseline)
	if err != nil {
		return err
	}
	return s.SaveTable(ctx, name, out)
}

func (s *MemoryStore) ListTables(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) StartRun(_ context.Context, table, actor string, runAt time.Time) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		Table:     table,
		Status:    model.RunStatusRunning,
		Actor:     actor,
		RunAt:     runAt.UTC(),
		StartedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.runs = append(s.runs, r)
	s.mu.Unlock()
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) CompleteRun(_ context.Context, runID string, summary model.RunSummary) error {
	return s.finish(runID, func(r *model.Run) {
		r.Status = model.RunStatusComplete
		r.Summary = &summary
	})
}

func (s *MemoryStore) FailRun(_ context.Context, runID string, cause error) error {
	return s.finish(runID, func(r *model.Run) {
		r.Status = model.RunStatusFailed
		r.Error = errorText(cause)
	})
}

func (s *MemoryStore) finish(runID string, set func(*model.Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == runID {
			now := s.now().UTC()
			r.CompletedAt = &now
			set(r)
			return nil
		}
	}
	return eris.Wrapf(ErrRunNotFound, "memory: run %s", runID)
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.ID == runID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, eris.Wrapf(ErrRunNotFound, "memory: run %s", runID)
}

// ListRuns returns runs newest first.
func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Run
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if filter.Table != "" && r.Table != filter.Table {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	if off := max(filter.Offset, 0); off < len(out) {
		out = out[off:]
	} else {
		return nil, nil
	}
	if limit := runLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tableLocks hands out one mutex per table name.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *tableLocks) lock(name string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
