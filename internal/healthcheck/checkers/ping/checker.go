package pingchecker

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/intake/internal/healthcheck"
)

const defaultTimeout = 3 * time.Second

// PingFunc probes a dependency.
type PingFunc func(ctx context.Context) error

// Checker reports whether a backing service answers a ping.
type Checker struct {
	logger  *slog.Logger
	id      string
	kind    string
	ping    PingFunc
	timeout time.Duration
}

// NewChecker creates a ping checker. kind is reported as the check type,
// e.g. "postgres" or "redis".
func NewChecker(log *slog.Logger, id, kind string, ping PingFunc) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_"+kind)),
		id:      id,
		kind:    kind,
		ping:    ping,
		timeout: defaultTimeout,
	}
}

// ListChecks pings the dependency once.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	result := healthcheck.CheckResult{ID: c.id, Type: c.kind}
	if c.ping == nil {
		result.Status = healthcheck.StatusUnknown
		result.Summary = c.kind + " is not configured."
		return []healthcheck.CheckResult{result}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	started := time.Now()
	err := c.ping(ctx)
	result.Metadata = map[string]any{"latency_ms": time.Since(started).Milliseconds()}
	if err != nil {
		c.logger.Warn("dependency ping failed", slog.String("id", c.id), slog.Any("error", err))
		result.Status = healthcheck.StatusError
		result.Summary = c.kind + " is unreachable."
		result.Detail = err.Error()
		return []healthcheck.CheckResult{result}
	}
	result.Status = healthcheck.StatusOK
	result.Summary = c.kind + " is reachable."
	return []healthcheck.CheckResult{result}
}
