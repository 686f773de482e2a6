package storechecker

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/supportbot/internal/healthcheck"
)

const (
	checkTypeStoreConnection = "store.connection"
	defaultCheckTimeout      = 3 * time.Second
)

// Pinger is a backing store that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Target names one store to probe.
type Target struct {
	Name   string
	Pinger Pinger
	// Optional targets report warn instead of error when unreachable.
	Optional bool
}

// Checker pings the configured stores.
type Checker struct {
	logger  *slog.Logger
	targets []Target
	timeout time.Duration
}

// NewChecker creates a store health checker. Targets without a pinger are
// skipped.
func NewChecker(log *slog.Logger, targets ...Target) *Checker {
	if log == nil {
		log = slog.Default()
	}
	c := &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_store")),
		timeout: defaultCheckTimeout,
	}
	for _, t := range targets {
		if t.Pinger != nil {
			c.targets = append(c.targets, t)
		}
	}
	return c
}

// ListChecks pings every target with a bounded timeout.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	checks := make([]healthcheck.CheckResult, 0, len(c.targets))
	for _, t := range c.targets {
		checks = append(checks, c.check(ctx, t))
	}
	return checks
}

func (c *Checker) check(ctx context.Context, t Target) healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:       checkTypeStoreConnection + "." + t.Name,
		Type:     checkTypeStoreConnection,
		Status:   healthcheck.StatusOK,
		Summary:  t.Name + " is reachable.",
		Metadata: map[string]any{"optional": t.Optional},
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	err := t.Pinger.Ping(pingCtx)
	item.Metadata["latency_ms"] = time.Since(start).Milliseconds()
	if err == nil {
		return item
	}
	c.logger.Warn("store ping failed", slog.String("store", t.Name), slog.Any("error", err))
	item.Status = healthcheck.StatusError
	if t.Optional {
		item.Status = healthcheck.StatusWarn
	}
	item.Summary = t.Name + " is unreachable."
	item.Detail = err.Error()
	return item
}
