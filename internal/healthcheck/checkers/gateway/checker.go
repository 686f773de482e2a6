package gatewaychecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/supportbot/internal/gateway"
	"github.com/memohai/supportbot/internal/healthcheck"
)

const (
	checkTypeGatewaySession = "gateway.session"
	checkIDGatewaySession   = checkTypeGatewaySession + ".discord"
)

// StatusSource reads the gateway session status.
type StatusSource interface {
	Status() gateway.Status
}

// Checker reports the gateway session state.
type Checker struct {
	logger *slog.Logger
	source StatusSource
	now    func() time.Time
}

// NewChecker creates a gateway health checker.
func NewChecker(log *slog.Logger, source StatusSource) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_gateway")),
		source: source,
		now:    time.Now,
	}
}

// ListChecks maps the session state to one check item.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.source == nil {
		c.logger.Warn("gateway healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkIDGatewaySession,
			Type:    checkTypeGatewaySession,
			Status:  healthcheck.StatusWarn,
			Summary: "Gateway checker is not available.",
			Detail:  "status source is nil",
		}}
	}

	st := c.source.Status()
	item := healthcheck.CheckResult{
		ID:   checkIDGatewaySession,
		Type: checkTypeGatewaySession,
		Metadata: map[string]any{
			"state":              st.State.String(),
			"has_session":        st.HasSession,
			"reconnect_attempts": st.ReconnectAttempts,
		},
	}
	if st.HasSequence {
		item.Metadata["sequence"] = st.Sequence
	}
	if st.LastReason != "" {
		item.Metadata["last_reason"] = string(st.LastReason)
	}
	if !st.LastAck.IsZero() {
		item.Metadata["last_ack_age_ms"] = c.now().Sub(st.LastAck).Milliseconds()
	}
	if !st.UpdatedAt.IsZero() {
		item.Metadata["updated_at"] = st.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}

	switch st.State {
	case gateway.StateReady:
		item.Status = healthcheck.StatusOK
		item.Summary = "Gateway session is ready."
	case gateway.StateConnecting, gateway.StateIdentifying, gateway.StateResuming, gateway.StateDegraded:
		item.Status = healthcheck.StatusWarn
		item.Summary = fmt.Sprintf("Gateway session is %s.", st.State)
	case gateway.StateFailed:
		item.Status = healthcheck.StatusError
		item.Summary = "Gateway session failed."
	case gateway.StateClosed:
		item.Status = healthcheck.StatusError
		item.Summary = "Gateway session is closed."
	default:
		item.Status = healthcheck.StatusUnknown
		item.Summary = "Gateway session has not started."
	}
	if item.Status != healthcheck.StatusOK && strings.TrimSpace(st.LastError) != "" {
		item.Detail = strings.TrimSpace(st.LastError)
	}
	return []healthcheck.CheckResult{item}
}
