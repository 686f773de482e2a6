package gatewaychecker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/memohai/supportbot/internal/gateway"
	"github.com/memohai/supportbot/internal/healthcheck"
)

type fakeStatusSource struct {
	status gateway.Status
}

func (f *fakeStatusSource) Status() gateway.Status {
	return f.status
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		status gateway.Status
		want   string
		detail string
	}{
		{name: "ready", status: gateway.Status{State: gateway.StateReady, HasSession: true, LastAck: now.Add(-3 * time.Second)}, want: healthcheck.StatusOK},
		{name: "resuming", status: gateway.Status{State: gateway.StateResuming, LastError: "read tcp: reset"}, want: healthcheck.StatusWarn, detail: "read tcp: reset"},
		{name: "failed", status: gateway.Status{State: gateway.StateFailed, LastReason: gateway.ReasonAuthFailure}, want: healthcheck.StatusError},
		{name: "idle", status: gateway.Status{State: gateway.StateIdle}, want: healthcheck.StatusUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			checker := NewChecker(newTestLogger(), &fakeStatusSource{status: tc.status})
			checker.now = func() time.Time { return now }
			items := checker.ListChecks(context.Background())
			if len(items) != 1 {
				t.Fatalf("expected 1 check, got %d", len(items))
			}
			if items[0].Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, items[0].Status)
			}
			if items[0].Detail != tc.detail {
				t.Fatalf("unexpected detail %q", items[0].Detail)
			}
			if items[0].Metadata["state"] != tc.status.State.String() {
				t.Fatalf("unexpected state metadata %v", items[0].Metadata["state"])
			}
		})
	}
}

func TestCheckerReportsAckAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	checker := NewChecker(newTestLogger(), &fakeStatusSource{status: gateway.Status{
		State:       gateway.StateReady,
		LastAck:     now.Add(-1500 * time.Millisecond),
		HasSequence: true,
		Sequence:    42,
	}})
	checker.now = func() time.Time { return now }
	item := checker.ListChecks(context.Background())[0]
	if item.Metadata["last_ack_age_ms"] != int64(1500) {
		t.Fatalf("unexpected ack age %v", item.Metadata["last_ack_age_ms"])
	}
	if item.Metadata["sequence"] != int64(42) {
		t.Fatalf("unexpected sequence %v", item.Metadata["sequence"])
	}
}

func TestCheckerWithoutSource(t *testing.T) {
	t.Parallel()

	items := NewChecker(newTestLogger(), nil).ListChecks(context.Background())
	if len(items) != 1 || items[0].Status != healthcheck.StatusWarn {
		t.Fatalf("expected warn item, got %+v", items)
	}
}
