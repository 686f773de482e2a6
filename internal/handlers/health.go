package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/supportbot/internal/healthcheck"
)

// HealthResponse is the body of GET /health/gateway.
type HealthResponse struct {
	Status string                    `json:"status"`
	Checks []healthcheck.CheckResult `json:"checks"`
}

type HealthHandler struct {
	logger  *slog.Logger
	checker healthcheck.Checker
}

func NewHealthHandler(log *slog.Logger, checker healthcheck.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:  log.With(slog.String("handler", "health")),
		checker: checker,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health/gateway", h.Gateway)
}

// Gateway reports the runtime checks. It answers 503 when any check is in
// error so load balancers can act on it.
func (h *HealthHandler) Gateway(c echo.Context) error {
	if h.checker == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "health checker is not configured")
	}
	items := h.checker.ListChecks(c.Request().Context())
	resp := HealthResponse{Status: healthcheck.Overall(items), Checks: items}
	code := http.StatusOK
	if resp.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
		h.logger.Warn("health check failing", slog.Int("checks", len(items)))
	}
	return c.JSON(code, resp)
}
