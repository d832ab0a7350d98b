package repo

import (
	"context"
	"errors"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

// ErrNotFound is returned when a target does not exist.
var ErrNotFound = errors.New("not found")

// Ports. Every adapter under repo/ implements all of them.

// TargetStore is the CRUD side of monitored targets.
type TargetStore interface {
	Add(ctx context.Context, t *domain.Target) error
	Get(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	List(ctx context.Context) ([]domain.Target, error)
	Update(ctx context.Context, t *domain.Target) error
	Delete(ctx context.Context, id domain.TargetID) error
	// SetStatus writes the probe-owned fields of one target outside a cycle
	// (manual checks). Returns ErrNotFound if the target is gone.
	SetStatus(ctx context.Context, u domain.TargetUpdate) error
}

// Batch is everything one health check cycle persists.
type Batch struct {
	Updates []domain.TargetUpdate
	Logs    []domain.LogEntry
}

// CycleStore is what the health check cycle needs from persistence.
type CycleStore interface {
	ListActive(ctx context.Context) ([]domain.Target, error)
	// CommitCycle applies all updates and log rows atomically. Updates for
	// targets deleted in the meantime are skipped, never re-created.
	CommitCycle(ctx context.Context, b Batch) error
}

// LogFilter narrows ListLogs. Empty fields match everything.
type LogFilter struct {
	Level  domain.Level
	Source string
	Limit  int
}

// DefaultLogLimit applies when LogFilter.Limit is not positive.
const DefaultLogLimit = 50

// EffectiveLimit returns the limit to use for f.
func (f LogFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLogLimit
	}
	return f.Limit
}

type LogStore interface {
	AppendLog(ctx context.Context, e *domain.LogEntry) error
	// ListLogs returns entries newest first.
	ListLogs(ctx context.Context, f LogFilter) ([]domain.LogEntry, error)
	LogSources(ctx context.Context) ([]string, error)
}

// Store is the full persistence surface used by cmd/api.
type Store interface {
	TargetStore
	CycleStore
	LogStore
	Close() error
}
