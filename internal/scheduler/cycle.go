// Package scheduler runs health check cycles over every active target.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/domain"
	"github.com/hamed0406/opsmonitor/internal/probe"
	"github.com/hamed0406/opsmonitor/internal/repo"
)

// Broadcaster is told about every committed transition.
type Broadcaster interface {
	Broadcast(ev domain.TransitionEvent)
}

// Broadcasters fans one event out to several sinks in order.
type Broadcasters []Broadcaster

func (bs Broadcasters) Broadcast(ev domain.TransitionEvent) {
	for _, b := range bs {
		if b != nil {
			b.Broadcast(ev)
		}
	}
}

// CycleObserver records cycle outcomes, typically into metrics.
type CycleObserver interface {
	ObserveCycle(checked, transitions int, d time.Duration, err error)
}

// Report summarises one completed cycle.
type Report struct {
	Checked     int
	Transitions []domain.TransitionEvent
	Duration    time.Duration
}

// Cycle probes every active target once and commits the results as a batch.
type Cycle struct {
	Store       repo.CycleStore
	Checker     probe.Checker
	Broadcaster Broadcaster
	Logger      *zap.Logger
	Observer    CycleObserver

	// Now is overridable in tests.
	Now func() time.Time
}

func NewCycle(logger *zap.Logger, store repo.CycleStore, checker probe.Checker, b Broadcaster) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{
		Store:       store,
		Checker:     checker,
		Broadcaster: b,
		Logger:      logger,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

type probed struct {
	update domain.TargetUpdate
	event  *domain.TransitionEvent
}

// Run executes one cycle. On a listing or commit error nothing is persisted
// or broadcast and the error is returned.
func (c *Cycle) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	rep, err := c.run(ctx)
	rep.Duration = time.Since(start)
	if c.Observer != nil {
		c.Observer.ObserveCycle(rep.Checked, len(rep.Transitions), rep.Duration, err)
	}
	if err != nil {
		return rep, err
	}
	c.Logger.Info("cycle_completed",
		zap.Int("checked", rep.Checked),
		zap.Int("transitions", len(rep.Transitions)),
		zap.Duration("duration", rep.Duration),
	)
	return rep, nil
}

func (c *Cycle) run(ctx context.Context) (Report, error) {
	targets, err := c.Store.ListActive(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list active targets: %w", err)
	}
	if len(targets) == 0 {
		return Report{}, nil
	}

	checkedAt := c.now()

	// Results land in completion order.
	var (
		mu      sync.Mutex
		results = make([]probed, 0, len(targets))
		wg      sync.WaitGroup
	)
	for _, tgt := range targets {
		wg.Add(1)
		go func(t domain.Target) {
			defer wg.Done()
			p := c.probe(ctx, t, checkedAt)
			mu.Lock()
			results = append(results, p)
			mu.Unlock()
		}(tgt)
	}
	wg.Wait()

	batch := repo.Batch{Updates: make([]domain.TargetUpdate, 0, len(results))}
	var events []domain.TransitionEvent
	for _, p := range results {
		batch.Updates = append(batch.Updates, p.update)
		if p.event != nil {
			events = append(events, *p.event)
			batch.Logs = append(batch.Logs, p.event.LogEntry())
		}
	}

	if err := c.Store.CommitCycle(ctx, batch); err != nil {
		return Report{Checked: len(results)}, fmt.Errorf("commit cycle: %w", err)
	}

	for _, ev := range events {
		c.Logger.Info("status_changed",
			zap.String("target_id", string(ev.TargetID)),
			zap.String("name", ev.TargetName),
			zap.String("old_status", string(ev.OldStatus)),
			zap.String("new_status", string(ev.NewStatus)),
		)
		if c.Broadcaster != nil {
			c.Broadcaster.Broadcast(ev)
		}
	}
	return Report{Checked: len(results), Transitions: events}, nil
}

func (c *Cycle) probe(ctx context.Context, t domain.Target, checkedAt time.Time) probed {
	out := c.check(ctx, t)
	u := domain.TargetUpdate{
		ID:             t.ID,
		Status:         out.Status,
		ResponseTimeMS: out.ResponseTimeMS,
		CheckedAt:      checkedAt,
	}
	p := probed{update: u}
	if ev, ok := domain.DetectTransition(t, t.Status, u); ok {
		p.event = &ev
	}

	fields := []zap.Field{
		zap.String("target_id", string(t.ID)),
		zap.String("url", t.URL),
		zap.String("check_type", string(t.Kind)),
		zap.String("status", string(out.Status)),
	}
	if out.ResponseTimeMS != nil {
		fields = append(fields, zap.Float64("response_time_ms", *out.ResponseTimeMS))
	}
	c.Logger.Debug("probe_checked", fields...)
	return p
}

func (c *Cycle) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// check isolates one probe: a panicking checker counts as offline for that
// target and the rest of the cycle carries on.
func (c *Cycle) check(ctx context.Context, t domain.Target) (out domain.ProbeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("probe_panic",
				zap.String("target_id", string(t.ID)),
				zap.String("check_type", string(t.Kind)),
				zap.Any("panic", r),
			)
			out = domain.Offline()
		}
	}()
	return c.Checker.Check(ctx, t)
}
