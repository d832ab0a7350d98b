package probe

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultTCPPort is used when a tcp target carries no explicit port.
const DefaultTCPPort = 80

// hostPort strips the scheme, userinfo and path from an address.
func hostPort(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// PingHost returns the bare hostname of an address such as
// "https://example.com:8443/status".
func PingHost(raw string) string {
	hp := hostPort(raw)
	if h, _, err := net.SplitHostPort(hp); err == nil {
		return h
	}
	return strings.Trim(hp, "[]")
}

// TCPAddress returns the host and port of an address, defaulting the port
// to DefaultTCPPort.
func TCPAddress(raw string) (string, int, error) {
	hp := hostPort(raw)
	host, p, err := net.SplitHostPort(hp)
	if err != nil {
		host = strings.Trim(hp, "[]")
		if host == "" {
			return "", 0, fmt.Errorf("empty host in %q", raw)
		}
		return host, DefaultTCPPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("empty host in %q", raw)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q in %q", p, raw)
	}
	return host, port, nil
}
