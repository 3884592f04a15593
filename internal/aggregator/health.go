package aggregator

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// HealthChecker implements api.HealthChecker by dialing the aggregation
// engine's TCP address. A successful connection confirms the process is
// listening; the context deadline controls the timeout.
type HealthChecker struct {
	addr string
}

// NewHealthChecker creates a health checker from the engine base URL
// (e.g. "http://aggregator:9400") or a raw host:port.
func NewHealthChecker(addr string) *HealthChecker {
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		addr = u.Host
	}
	return &HealthChecker{addr: addr}
}

// HealthCheck attempts a TCP connection to the engine. Returns nil if reachable.
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("aggregator unreachable: %w", err)
	}
	conn.Close()
	return nil
}
