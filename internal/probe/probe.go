package probe

import (
	"context"
	"time"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

// LatencyThreshold splits online from degraded for a successful probe.
const LatencyThreshold = 200 * time.Millisecond

// Default per-protocol timeouts.
const (
	DefaultHTTPTimeout = 5 * time.Second
	DefaultPingTimeout = 2 * time.Second
	DefaultTCPTimeout  = 2 * time.Second

	// pingGrace bounds the ping subprocess beyond its own -W timeout.
	pingGrace = 2 * time.Second
)

// Checker runs one probe against a target. Implementations never fail:
// every transport or subprocess error resolves to domain.Offline().
type Checker interface {
	Check(ctx context.Context, t domain.Target) domain.ProbeOutcome
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, t domain.Target) domain.ProbeOutcome

func (f CheckerFunc) Check(ctx context.Context, t domain.Target) domain.ProbeOutcome {
	return f(ctx, t)
}

// Classify maps the latency of a successful probe to a health state.
func Classify(ms float64) domain.Status {
	if ms < float64(LatencyThreshold.Milliseconds()) {
		return domain.StatusOnline
	}
	return domain.StatusDegraded
}

// classified builds the outcome of a successful probe that took ms.
func classified(ms float64) domain.ProbeOutcome {
	status := Classify(ms)
	rounded := domain.Round2(ms)
	return domain.ProbeOutcome{Status: status, ResponseTimeMS: &rounded}
}

func sinceMS(start time.Time) float64 {
	return time.Since(start).Seconds() * 1000
}
