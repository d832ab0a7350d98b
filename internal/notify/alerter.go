package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

// AlertObserver records the result of every alert send.
type AlertObserver interface {
	ObserveAlert(err error)
}

type AlerterConfig struct {
	AlertOnRecovery bool
	// Cooldown suppresses repeated DOWN alerts for the same target.
	Cooldown time.Duration
	// SendTimeout bounds a single webhook call.
	SendTimeout time.Duration
}

// TransitionAlerter turns committed transitions into webhook alerts. Sends
// run in the background so a slow webhook never holds up a cycle.
type TransitionAlerter struct {
	notifier Notifier
	cfg      AlerterConfig
	log      *zap.Logger
	Observer AlertObserver

	mu       sync.Mutex
	lastDown map[domain.TargetID]time.Time
	wg       sync.WaitGroup

	now func() time.Time
}

func NewTransitionAlerter(n Notifier, cfg AlerterConfig, log *zap.Logger) *TransitionAlerter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &TransitionAlerter{
		notifier: n,
		cfg:      cfg,
		log:      log,
		lastDown: make(map[domain.TargetID]time.Time),
		now:      time.Now,
	}
}

// Broadcast implements scheduler.Broadcaster.
func (a *TransitionAlerter) Broadcast(ev domain.TransitionEvent) {
	title, ok := a.decide(ev)
	if !ok {
		return
	}
	text := alertText(ev)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
		defer cancel()

		err := a.notifier.Send(ctx, title, text)
		if a.Observer != nil {
			a.Observer.ObserveAlert(err)
		}
		if err != nil {
			a.log.Warn("alert_send_failed",
				zap.String("target_id", string(ev.TargetID)),
				zap.String("new_status", string(ev.NewStatus)),
				zap.Error(err),
			)
			return
		}
		a.log.Info("alert_sent",
			zap.String("target_id", string(ev.TargetID)),
			zap.String("title", title),
		)
	}()
}

// Wait blocks until every in-flight send has finished.
func (a *TransitionAlerter) Wait() {
	a.wg.Wait()
}

func (a *TransitionAlerter) decide(ev domain.TransitionEvent) (string, bool) {
	switch {
	case ev.NewStatus == domain.StatusOffline:
		a.mu.Lock()
		defer a.mu.Unlock()
		now := a.now()
		if last, ok := a.lastDown[ev.TargetID]; ok && now.Sub(last) < a.cfg.Cooldown {
			a.log.Debug("alert_suppressed", zap.String("target_id", string(ev.TargetID)))
			return "", false
		}
		a.lastDown[ev.TargetID] = now
		return "🔴 Service DOWN", true
	case ev.OldStatus == domain.StatusOffline && a.cfg.AlertOnRecovery:
		// Recovery bypasses the cooldown.
		return "🟢 Service RECOVERED", true
	}
	return "", false
}

func alertText(ev domain.TransitionEvent) string {
	latency := "n/a"
	if ev.ResponseTimeMS != nil {
		latency = fmt.Sprintf("%.0f ms", *ev.ResponseTimeMS)
	}
	return fmt.Sprintf(
		"Service: %s\nStatus: %s -> %s\nLatency: %s\nChecked: %s",
		ev.TargetName, ev.OldStatus, ev.NewStatus, latency, ev.Timestamp.Format(time.RFC3339),
	)
}
