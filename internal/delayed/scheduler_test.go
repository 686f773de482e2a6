package delayed

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/memohai/supportbot/internal/channel"
)

type fired struct {
	key      Key
	snapshot channel.InboundMessage
}

func newTestScheduler(t *testing.T) (*Scheduler, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)), clock)
	t.Cleanup(s.Stop)
	return s, clock
}

func recorder() (FireFunc, <-chan fired) {
	ch := make(chan fired, 8)
	return func(_ context.Context, key Key, snapshot channel.InboundMessage) {
		ch <- fired{key: key, snapshot: snapshot}
	}, ch
}

func expectFire(t *testing.T, ch <-chan fired) fired {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fire")
		return fired{}
	}
}

func expectNoFire(t *testing.T, ch <-chan fired) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected fire for %s", f.key)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	s, clock := newTestScheduler(t)
	fire, ch := recorder()
	key := Key{ChannelID: "c1", MessageID: "m1"}

	replaced, err := s.ScheduleOrReplace(key, 2*time.Minute, channel.InboundMessage{ID: "m1", Content: "how?"}, fire)
	if err != nil || replaced {
		t.Fatalf("schedule: replaced=%v err=%v", replaced, err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one pending entry")
	}

	clock.Advance(119 * time.Second)
	expectNoFire(t, ch)

	clock.Advance(time.Second)
	got := expectFire(t, ch)
	if got.key != key || got.snapshot.Content != "how?" {
		t.Fatalf("unexpected fire: %+v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("entry must be removed before the callback runs")
	}
}

func TestEntryRemovedBeforeCallback(t *testing.T) {
	s, clock := newTestScheduler(t)
	key := Key{ChannelID: "c1", MessageID: "m1"}
	seen := make(chan bool, 1)

	_, err := s.ScheduleOrReplace(key, time.Second, channel.InboundMessage{}, func(_ context.Context, k Key, _ channel.InboundMessage) {
		_, still := s.Pending(k)
		seen <- still
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	clock.Advance(time.Second)
	select {
	case still := <-seen:
		if still {
			t.Fatalf("entry still present during callback")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("callback did not run")
	}
}

func TestScheduleOrReplaceKeepsOnlyLatest(t *testing.T) {
	s, clock := newTestScheduler(t)
	fire, ch := recorder()
	key := Key{ChannelID: "c1", MessageID: "m1"}

	if _, err := s.ScheduleOrReplace(key, time.Minute, channel.InboundMessage{Content: "first"}, fire); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	clock.Advance(30 * time.Second)
	replaced, err := s.ScheduleOrReplace(key, time.Minute, channel.InboundMessage{Content: "edited"}, fire)
	if err != nil || !replaced {
		t.Fatalf("expected replacement, replaced=%v err=%v", replaced, err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected exactly one pending entry, got %d", s.Len())
	}

	clock.Advance(30 * time.Second)
	expectNoFire(t, ch)

	clock.Advance(30 * time.Second)
	got := expectFire(t, ch)
	if got.snapshot.Content != "edited" {
		t.Fatalf("expected replacement snapshot, got %q", got.snapshot.Content)
	}
	expectNoFire(t, ch)
}

func TestKeysAreIndependent(t *testing.T) {
	s, clock := newTestScheduler(t)
	fire, ch := recorder()

	_, _ = s.ScheduleOrReplace(Key{ChannelID: "c1", MessageID: "m1"}, time.Minute, channel.InboundMessage{}, fire)
	_, _ = s.ScheduleOrReplace(Key{ChannelID: "c1", MessageID: "m2"}, time.Minute, channel.InboundMessage{}, fire)
	if s.Len() != 2 {
		t.Fatalf("expected two entries")
	}
	clock.Advance(time.Minute)
	first := expectFire(t, ch)
	second := expectFire(t, ch)
	if first.key == second.key {
		t.Fatalf("both fires reported the same key")
	}
}

func TestCancel(t *testing.T) {
	s, clock := newTestScheduler(t)
	fire, ch := recorder()
	key := Key{ChannelID: "c1", MessageID: "m1"}

	_, _ = s.ScheduleOrReplace(key, time.Minute, channel.InboundMessage{}, fire)
	if !s.Cancel(key) {
		t.Fatalf("cancel should report an entry")
	}
	if s.Cancel(key) {
		t.Fatalf("second cancel should report nothing")
	}
	clock.Advance(2 * time.Minute)
	expectNoFire(t, ch)
}

// A timer whose token was superseded must not run even if its callback
// was already queued when the replacement happened.
func TestStaleTokenDoesNotFire(t *testing.T) {
	s, _ := newTestScheduler(t)
	var calls atomic.Int32
	key := Key{ChannelID: "c1", MessageID: "m1"}

	_, _ = s.ScheduleOrReplace(key, time.Hour, channel.InboundMessage{}, func(context.Context, Key, channel.InboundMessage) {
		calls.Add(1)
	})
	s.mu.Lock()
	stale := s.entries[key].token
	s.mu.Unlock()

	_, _ = s.ScheduleOrReplace(key, time.Hour, channel.InboundMessage{}, func(context.Context, Key, channel.InboundMessage) {
		calls.Add(1)
	})
	s.fire(key, stale)
	if calls.Load() != 0 {
		t.Fatalf("stale token fired")
	}
	if s.Len() != 1 {
		t.Fatalf("stale fire must leave the live entry in place")
	}
}

func TestPendingReportsFireTime(t *testing.T) {
	s, clock := newTestScheduler(t)
	fire, _ := recorder()
	key := Key{ChannelID: "c1", MessageID: "m1"}
	start := clock.Now()

	_, _ = s.ScheduleOrReplace(key, 90*time.Second, channel.InboundMessage{ID: "m1"}, fire)
	p, ok := s.Pending(key)
	if !ok {
		t.Fatalf("expected pending entry")
	}
	if !p.FireAt.Equal(start.Add(90*time.Second)) || p.Token == "" || p.Snapshot.ID != "m1" {
		t.Fatalf("unexpected pending: %+v", p)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	s, clock := newTestScheduler(t)
	fire, ch := recorder()

	_, _ = s.ScheduleOrReplace(Key{ChannelID: "c1", MessageID: "m1"}, time.Minute, channel.InboundMessage{}, fire)
	s.Stop()
	clock.Advance(time.Hour)
	expectNoFire(t, ch)

	if _, err := s.ScheduleOrReplace(Key{ChannelID: "c1", MessageID: "m2"}, time.Minute, channel.InboundMessage{}, fire); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestPanicInCallbackIsRecovered(t *testing.T) {
	s, clock := newTestScheduler(t)
	fire, ch := recorder()

	_, _ = s.ScheduleOrReplace(Key{ChannelID: "c1", MessageID: "boom"}, time.Second, channel.InboundMessage{}, func(context.Context, Key, channel.InboundMessage) {
		panic("boom")
	})
	_, _ = s.ScheduleOrReplace(Key{ChannelID: "c1", MessageID: "ok"}, 2*time.Second, channel.InboundMessage{}, fire)
	clock.Advance(2 * time.Second)
	if got := expectFire(t, ch); got.key.MessageID != "ok" {
		t.Fatalf("unexpected fire %+v", got)
	}
}

func TestNilFireRejected(t *testing.T) {
	s, _ := newTestScheduler(t)
	if _, err := s.ScheduleOrReplace(Key{ChannelID: "c1", MessageID: "m1"}, time.Second, channel.InboundMessage{}, nil); err == nil {
		t.Fatalf("expected error for nil fire func")
	}
}
