package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/domain"
	"github.com/hamed0406/opsmonitor/internal/probe"
	"github.com/hamed0406/opsmonitor/internal/repo/memory"
)

type runnerFunc func(ctx context.Context) (Report, error)

func (f runnerFunc) Run(ctx context.Context) (Report, error) { return f(ctx) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestLoop_RunsImmediately(t *testing.T) {
	var n atomic.Int32
	l := NewLoop(zap.NewNop(), runnerFunc(func(context.Context) (Report, error) {
		n.Add(1)
		return Report{}, nil
	}), time.Hour)

	h := l.Start(context.Background())
	defer h.Stop()

	waitFor(t, func() bool { return n.Load() == 1 })
}

func TestLoop_SurvivesErrorsAndPanics(t *testing.T) {
	var n atomic.Int32
	obs := &countingObserver{}
	l := NewLoop(zap.NewNop(), runnerFunc(func(context.Context) (Report, error) {
		switch n.Add(1) {
		case 1:
			return Report{}, errors.New("commit failed")
		case 2:
			panic("boom")
		}
		return Report{}, nil
	}), 5*time.Millisecond)
	l.Observer = obs

	h := l.Start(context.Background())
	waitFor(t, func() bool { return n.Load() >= 3 })
	h.Stop()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.errs != 1 {
		t.Fatalf("panics observed = %d, want 1", obs.errs)
	}
}

func TestLoop_IntervalMeasuredFromCycleEnd(t *testing.T) {
	const (
		work     = 40 * time.Millisecond
		interval = 40 * time.Millisecond
	)
	starts := make(chan time.Time, 8)
	ends := make(chan time.Time, 8)
	l := NewLoop(zap.NewNop(), runnerFunc(func(context.Context) (Report, error) {
		starts <- time.Now()
		time.Sleep(work)
		ends <- time.Now()
		return Report{}, nil
	}), interval)

	h := l.Start(context.Background())
	<-starts
	firstEnd := <-ends
	secondStart := <-starts
	h.Stop()

	if gap := secondStart.Sub(firstEnd); gap < interval-5*time.Millisecond {
		t.Fatalf("next cycle started %v after the previous ended, want >= %v", gap, interval)
	}
}

func TestLoop_StopCancelsAndWaits(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	l := NewLoop(zap.NewNop(), runnerFunc(func(ctx context.Context) (Report, error) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return Report{}, ctx.Err()
	}), time.Hour)

	h := l.Start(context.Background())
	<-started
	h.Stop()

	if !sawCancel.Load() {
		t.Fatalf("Stop returned before the in-flight run finished")
	}
	select {
	case <-h.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestLoop_ParentCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop(zap.NewNop(), runnerFunc(func(context.Context) (Report, error) {
		return Report{}, nil
	}), time.Hour)
	h := l.Start(ctx)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not exit on parent cancel")
	}
}

func TestLoop_SurvivesPanickingChecker(t *testing.T) {
	st := memory.New()
	seed(t, st, "broken")
	chk := probe.CheckerFunc(func(context.Context, domain.Target) domain.ProbeOutcome {
		panic("boom")
	})
	l := NewLoop(zap.NewNop(), NewCycle(zap.NewNop(), st, chk, nil), time.Hour)
	l.runOnce(context.Background())

	list, _ := st.ListActive(context.Background())
	if len(list) != 1 || list[0].Status != domain.StatusOffline {
		t.Fatalf("targets = %+v", list)
	}
}
