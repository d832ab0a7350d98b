package probe

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

// Runner executes a command and returns its stdout. A non-zero exit must be
// reported as an error.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PingChecker sends a single ICMP echo through the system ping binary.
type PingChecker struct {
	Timeout time.Duration
	Run     Runner
	GOOS    string
}

func NewPingChecker(timeout time.Duration) *PingChecker {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	return &PingChecker{Timeout: timeout, Run: execRunner, GOOS: runtime.GOOS}
}

func (p *PingChecker) Check(ctx context.Context, t domain.Target) domain.ProbeOutcome {
	host := PingHost(t.URL)
	if host == "" {
		return domain.Offline()
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout+pingGrace)
	defer cancel()

	out, err := p.Run(ctx, "ping", pingArgs(p.GOOS, p.Timeout, host)...)
	if err != nil || ctx.Err() != nil {
		return domain.Offline()
	}

	ms, ok := ParseRTT(string(out))
	if !ok {
		return domain.ProbeOutcome{Status: domain.StatusOnline}
	}
	return classified(ms)
}

func pingArgs(goos string, timeout time.Duration, host string) []string {
	if goos == "windows" {
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), host}
	}
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{"-c", "1", "-W", strconv.Itoa(secs), host}
}

// ParseRTT extracts the round-trip time in milliseconds from ping output,
// e.g. "time=14.2 ms", "time=3ms" or "time<1ms".
func ParseRTT(output string) (float64, bool) {
	for _, field := range strings.Fields(output) {
		idx := strings.Index(field, "time=")
		if idx < 0 {
			idx = strings.Index(field, "time<")
		}
		if idx < 0 {
			continue
		}
		v := strings.TrimSuffix(field[idx+len("time="):], "ms")
		ms, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return ms, true
	}
	return 0, false
}
