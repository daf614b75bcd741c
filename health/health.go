package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"
)

// DefaultTimeout bounds a check whose context has no deadline.
const DefaultTimeout = 5 * time.Second

// Pinger is anything that can verify its own connectivity. Both graph stores
// and the Redis run store satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

// PingCheck reports whether p answers a ping.
//
// Example:
//
//	status := health.PingCheck(ctx, "graph", store)
//	if status.IsUnhealthy() {
//	    return errors.New(status.Message)
//	}
func PingCheck(ctx context.Context, name string, p Pinger) Status {
	if p == nil {
		return Unhealthy(name, fmt.Sprintf("%s is not configured", name), nil)
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Unhealthy(name, fmt.Sprintf("%s ping failed", name), map[string]any{
			"error": err.Error(),
		})
	}
	return Status{
		Name:    name,
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%s reachable", name),
		Details: map[string]any{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// GraphCheck verifies the graph store.
func GraphCheck(ctx context.Context, store Pinger) Status {
	return PingCheck(ctx, "graph", store)
}

// RedisCheck verifies the Redis run catalog. A nil store means Redis is not
// in use, which is healthy.
func RedisCheck(ctx context.Context, store Pinger) Status {
	if store == nil {
		return Healthy("redis", "redis run catalog disabled")
	}
	return PingCheck(ctx, "redis", store)
}

// NetworkCheck verifies TCP connectivity to the host and port of a URI such
// as bolt://graph:7687. It is useful before a driver is opened.
func NetworkCheck(ctx context.Context, uri string) Status {
	const name = "network"
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return Unhealthy(name, fmt.Sprintf("invalid address %q", uri), nil)
	}
	address := u.Host
	if u.Port() == "" {
		address = net.JoinHostPort(u.Hostname(), "7687")
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(name, fmt.Sprintf("failed to connect to %s", address), map[string]any{
			"address": address,
			"error":   err.Error(),
		})
	}
	conn.Close()

	return Healthy(name, fmt.Sprintf("successfully connected to %s", address))
}

// DirCheck verifies that path is an existing directory. An empty directory
// is degraded: there is nothing to sync.
func DirCheck(path string) Status {
	const name = "data_dir"
	if path == "" {
		return Unhealthy(name, "path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(name, fmt.Sprintf("path '%s' does not exist", path), map[string]any{"path": path})
		}
		return Unhealthy(name, fmt.Sprintf("failed to stat path '%s'", path), map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	if !info.IsDir() {
		return Unhealthy(name, fmt.Sprintf("path '%s' is not a directory", path), map[string]any{"path": path})
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return Unhealthy(name, fmt.Sprintf("failed to read directory '%s'", path), map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	if len(entries) == 0 {
		return Degraded(name, fmt.Sprintf("directory '%s' is empty", path), map[string]any{"path": path})
	}
	return Healthy(name, fmt.Sprintf("directory '%s' has %d entries", path, len(entries)))
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	const name = "snitch"
	if len(checks) == 0 {
		return Healthy(name, "no checks provided")
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	label := func(s Status) string {
		if s.Name != "" {
			return s.Name
		}
		if s.Message != "" {
			return s.Message
		}
		return "unnamed check"
	}

	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			unhealthyChecks = append(unhealthyChecks, label(check))
		case StatusDegraded:
			degradedChecks = append(degradedChecks, label(check))
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return Unhealthy(name, fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)), map[string]any{
			"total":         len(checks),
			"unhealthy":     len(unhealthyChecks),
			"degraded":      len(degradedChecks),
			"healthy":       healthyCount,
			"failed_checks": unhealthyChecks,
		})
	}

	if len(degradedChecks) > 0 {
		return Degraded(name, fmt.Sprintf("%d check(s) degraded", len(degradedChecks)), map[string]any{
			"total":           len(checks),
			"degraded":        len(degradedChecks),
			"healthy":         healthyCount,
			"degraded_checks": degradedChecks,
		})
	}

	return Healthy(name, fmt.Sprintf("all %d check(s) passed", len(checks)))
}
