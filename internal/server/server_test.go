package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/memohai/supportbot/internal/handlers"
	"github.com/memohai/supportbot/internal/healthcheck"
)

type okChecker struct{}

func (okChecker) ListChecks(context.Context) []healthcheck.CheckResult {
	return []healthcheck.CheckResult{{ID: "gateway.session.discord", Status: healthcheck.StatusOK}}
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "", handlers.NewPingHandler(nil), handlers.NewHealthHandler(nil, okChecker{}))
	cases := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/ping", want: http.StatusOK},
		{method: http.MethodHead, path: "/health", want: http.StatusOK},
		{method: http.MethodGet, path: "/health/gateway", want: http.StatusOK},
		{method: http.MethodGet, path: "/unknown", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s %s: want %d got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
}

func TestSkipRequestLog(t *testing.T) {
	t.Parallel()

	e := echo.New()
	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/health/gateway", want: false},
	}
	for _, tc := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, tc.path, nil), httptest.NewRecorder())
		if got := skipRequestLog(c); got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
