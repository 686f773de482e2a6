// Package delayed holds pending responses that fire after a cool-down.
package delayed

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/memohai/supportbot/internal/channel"
)

// Key identifies the message a pending response answers.
type Key struct {
	ChannelID string
	MessageID string
}

func (k Key) String() string {
	return k.ChannelID + "/" + k.MessageID
}

// KeyOf returns the key for msg.
func KeyOf(msg channel.InboundMessage) Key {
	return Key{ChannelID: msg.ChannelID, MessageID: msg.ID}
}

// FireFunc runs when a pending response comes due. The entry has already
// been removed when it is called.
type FireFunc func(ctx context.Context, key Key, snapshot channel.InboundMessage)

// Pending describes a scheduled response.
type Pending struct {
	Key      Key
	Token    string
	FireAt   time.Time
	Snapshot channel.InboundMessage
}

type entry struct {
	token    uuid.UUID
	timer    clockwork.Timer
	fireAt   time.Time
	snapshot channel.InboundMessage
	fire     FireFunc
}

// Scheduler keeps at most one pending response per key.
type Scheduler struct {
	logger *slog.Logger
	clock  clockwork.Clock
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[Key]*entry
	stopped bool
	running sync.WaitGroup
}

func NewScheduler(log *slog.Logger, clock clockwork.Clock) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:  log.With(slog.String("component", "delayed")),
		clock:   clock,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[Key]*entry),
	}
}

// ScheduleOrReplace cancels any pending response for key and arms a new one.
// It reports whether an earlier entry was replaced.
func (s *Scheduler) ScheduleOrReplace(key Key, delay time.Duration, snapshot channel.InboundMessage, fire FireFunc) (bool, error) {
	if fire == nil {
		return false, fmt.Errorf("schedule %s: nil fire func", key)
	}
	if delay < 0 {
		delay = 0
	}
	token := uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, ErrStopped
	}
	prev, replaced := s.entries[key]
	if replaced {
		prev.timer.Stop()
	}
	s.entries[key] = &entry{
		token:    token,
		fireAt:   s.clock.Now().Add(delay),
		snapshot: snapshot,
		fire:     fire,
		timer:    s.clock.AfterFunc(delay, func() { s.fire(key, token) }),
	}
	s.logger.Debug("response scheduled",
		slog.String("channel_id", key.ChannelID),
		slog.String("message_id", key.MessageID),
		slog.Duration("delay", delay),
		slog.Bool("replaced", replaced),
	)
	return replaced, nil
}

// Cancel drops the pending response for key.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

// Pending returns the entry scheduled for key.
func (s *Scheduler) Pending(key Key) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Pending{}, false
	}
	return Pending{Key: key, Token: e.token.String(), FireAt: e.fireAt, Snapshot: e.snapshot}, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every pending response and waits for running callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
	s.mu.Unlock()
	s.cancel()
	s.running.Wait()
}

func (s *Scheduler) fire(key Key, token uuid.UUID) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.token != token || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pending response panicked",
				slog.String("channel_id", key.ChannelID),
				slog.String("message_id", key.MessageID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	e.fire(s.ctx, key, e.snapshot)
}
