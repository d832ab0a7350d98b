package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/opsmonitor/internal/domain"
	"github.com/hamed0406/opsmonitor/internal/repo"
)

type Store struct {
	mu      sync.RWMutex
	targets map[domain.TargetID]*domain.Target
	logs    []domain.LogEntry
	nextLog int64
}

func New() *Store {
	return &Store{
		targets: make(map[domain.TargetID]*domain.Target),
		logs:    make([]domain.LogEntry, 0, 128),
	}
}

func (m *Store) Close() error { return nil }

// ---- TargetStore ----

func (m *Store) Add(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo.PrepareNew(t)
	cp := *t
	m.targets[t.ID] = &cp
	return nil
}

func (m *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Store) List(ctx context.Context) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update replaces the CRUD-owned fields; probe-owned fields are preserved.
func (m *Store) Update(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.targets[t.ID]
	if !ok {
		return repo.ErrNotFound
	}
	cur.Name = t.Name
	cur.URL = t.URL
	cur.Kind = t.Kind
	cur.ExpectedStatus = t.ExpectedStatus
	cur.Active = t.Active
	*t = *cur
	return nil
}

func (m *Store) Delete(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.targets, id)
	return nil
}

func (m *Store) SetStatus(ctx context.Context, u domain.TargetUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[u.ID]
	if !ok {
		return repo.ErrNotFound
	}
	u.Apply(t)
	return nil
}

// ---- CycleStore ----

func (m *Store) ListActive(ctx context.Context) ([]domain.Target, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

// CommitCycle applies the batch under a single lock, so readers observe
// either none or all of it.
func (m *Store) CommitCycle(ctx context.Context, b repo.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range b.Updates {
		if t, ok := m.targets[u.ID]; ok {
			u.Apply(t)
		}
	}
	for i := range b.Logs {
		m.appendLocked(b.Logs[i])
	}
	return nil
}

// ---- LogStore ----

func (m *Store) AppendLog(ctx context.Context, e *domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	*e = m.appendLocked(*e)
	return nil
}

func (m *Store) appendLocked(e domain.LogEntry) domain.LogEntry {
	m.nextLog++
	e.ID = m.nextLog
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.logs = append(m.logs, e)
	return e
}

func (m *Store) ListLogs(ctx context.Context, f repo.LogFilter) ([]domain.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := f.EffectiveLimit()
	out := make([]domain.LogEntry, 0, limit)
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.logs[i]
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *Store) LogSources(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, e := range m.logs {
		if _, ok := seen[e.Source]; ok {
			continue
		}
		seen[e.Source] = struct{}{}
		out = append(out, e.Source)
	}
	sort.Strings(out)
	return out, nil
}
