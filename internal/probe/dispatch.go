package probe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

// Observer receives one callback per dispatched probe.
type Observer interface {
	ObserveProbe(kind domain.CheckKind, status domain.Status, d time.Duration)
}

// Timeouts configures the per-protocol probe bounds.
type Timeouts struct {
	HTTP time.Duration
	Ping time.Duration
	TCP  time.Duration
}

// Dispatcher selects the strategy for a target by its check kind. It is used
// by the scheduled cycle and by on-demand checks from the API.
type Dispatcher struct {
	HTTP     Checker
	Ping     Checker
	TCP      Checker
	Logger   *zap.Logger
	Observer Observer
}

func NewDispatcher(logger *zap.Logger, to Timeouts) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		HTTP:   NewHTTPChecker(to.HTTP),
		Ping:   NewPingChecker(to.Ping),
		TCP:    NewTCPChecker(to.TCP),
		Logger: logger,
	}
}

// Check runs the probe for t. A panicking strategy is logged and reported
// as offline.
func (d *Dispatcher) Check(ctx context.Context, t domain.Target) (out domain.ProbeOutcome) {
	start := time.Now()
	kind := t.Kind
	if !kind.Valid() {
		kind = domain.KindHTTP
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger().Error("probe_panic",
				zap.String("target_id", string(t.ID)),
				zap.String("check_type", string(kind)),
				zap.Any("panic", r),
			)
			out = domain.Offline()
		}
		if d.Observer != nil {
			d.Observer.ObserveProbe(kind, out.Status, time.Since(start))
		}
	}()

	switch kind {
	case domain.KindPing:
		return d.Ping.Check(ctx, t)
	case domain.KindTCP:
		return d.TCP.Check(ctx, t)
	default:
		return d.HTTP.Check(ctx, t)
	}
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
