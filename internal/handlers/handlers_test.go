package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/supportbot/internal/healthcheck"
)

type staticChecker []healthcheck.CheckResult

func (s staticChecker) ListChecks(context.Context) []healthcheck.CheckResult {
	return s
}

func newTestEcho(checker healthcheck.Checker) *echo.Echo {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	NewPingHandler(log).Register(e)
	NewHealthHandler(log, checker).Register(e)
	return e
}

func TestPingAndHealth(t *testing.T) {
	e := newTestEcho(nil)
	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/ping"},
		{http.MethodGet, "/health"},
		{http.MethodHead, "/health"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestGatewayHealthStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		checks staticChecker
		code   int
		status string
	}{
		{name: "ready", checks: staticChecker{{ID: "gateway.session.discord", Status: healthcheck.StatusOK}}, code: http.StatusOK, status: healthcheck.StatusOK},
		{name: "resuming", checks: staticChecker{{Status: healthcheck.StatusWarn}}, code: http.StatusOK, status: healthcheck.StatusWarn},
		{name: "failed", checks: staticChecker{{Status: healthcheck.StatusError}}, code: http.StatusServiceUnavailable, status: healthcheck.StatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEcho(tc.checks)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/gateway", nil))
			require.Equal(t, tc.code, rec.Code)

			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
			assert.Len(t, body.Checks, len(tc.checks))
		})
	}
}

func TestGatewayHealthWithoutChecker(t *testing.T) {
	e := newTestEcho(nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/gateway", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
