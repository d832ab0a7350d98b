package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

type TCPChecker struct {
	Dialer *net.Dialer
}

func NewTCPChecker(timeout time.Duration) *TCPChecker {
	if timeout <= 0 {
		timeout = DefaultTCPTimeout
	}
	return &TCPChecker{Dialer: &net.Dialer{Timeout: timeout}}
}

// Check measures the time to a successful connect and closes immediately.
func (c *TCPChecker) Check(ctx context.Context, t domain.Target) domain.ProbeOutcome {
	host, port, err := TCPAddress(t.URL)
	if err != nil {
		return domain.Offline()
	}

	start := time.Now()
	conn, err := c.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return domain.Offline()
	}
	latency := sinceMS(start)
	_ = conn.Close()

	return classified(latency)
}
