package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the pause between the end of one cycle and the start
// of the next.
const DefaultInterval = 60 * time.Second

// Runner is one unit of periodic work.
type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// Loop runs a Runner forever: once immediately, then Interval after each
// run finishes. A failing or panicking run is logged and the loop goes on.
type Loop struct {
	Runner   Runner
	Interval time.Duration
	Logger   *zap.Logger
	Observer CycleObserver
}

func NewLoop(logger *zap.Logger, r Runner, interval time.Duration) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{Runner: r, Interval: interval, Logger: logger}
}

// Handle controls a started loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the loop and waits for the in-flight run to return.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start launches the loop in its own goroutine. It ends when ctx is
// cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		l.run(ctx)
	}()
	return h
}

func (l *Loop) run(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	l.Logger.Info("scheduler_started", zap.Duration("interval", interval))

	var timer *time.Timer
	for {
		l.runOnce(ctx)

		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			timer.Stop()
			l.Logger.Info("scheduler_stopped")
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("cycle panic: %v", r)
			l.Logger.Error("cycle_panic", zap.Error(err), zap.Stack("stack"))
			if l.Observer != nil {
				l.Observer.ObserveCycle(0, 0, time.Since(start), err)
			}
		}
	}()

	if _, err := l.Runner.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		l.Logger.Error("cycle_failed", zap.Error(err))
	}
}
