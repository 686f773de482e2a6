// Package gateway maintains the Discord gateway connection: the Hello,
// Identify and Resume handshake, heartbeats, and reconnects.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/memohai/supportbot/internal/channel"
)

var (
	ErrMissingToken         = errors.New("gateway: bot token is required")
	ErrAuthenticationFailed = errors.New("gateway: authentication failed")
	ErrFatalClose           = errors.New("gateway: closed with a non-recoverable code")
)

// Handler receives decoded dispatch events. Each call runs on its own goroutine.
type Handler interface {
	HandleMessage(ctx context.Context, msg channel.InboundMessage, selfID string)
	HandleMessageUpdate(ctx context.Context, msg channel.InboundMessage, selfID string)
	HandleInteraction(ctx context.Context, interaction *discordgo.Interaction)
}

// Options configures a Session.
type Options struct {
	Token             string
	GatewayURL        string
	Intents           discordgo.Intent
	Backoff           Backoff
	ReconnectDelay    time.Duration
	InvalidSessionMin time.Duration
	InvalidSessionMax time.Duration
	// AckWatchdog force-closes the connection when a heartbeat goes
	// unacknowledged for a full interval.
	AckWatchdog    bool
	HandlerTimeout time.Duration
	Dialer         Dialer
	Clock          clockwork.Clock
	Rand           RandFunc
}

func normalizeOptions(opts Options) Options {
	if strings.TrimSpace(opts.GatewayURL) == "" {
		opts.GatewayURL = "wss://gateway.discord.gg"
	}
	if opts.Intents == 0 {
		opts.Intents = MentionIntents
	}
	if opts.Backoff == nil {
		opts.Backoff = FixedBackoff{Wait: 5 * time.Second}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.InvalidSessionMin <= 0 {
		opts.InvalidSessionMin = time.Second
	}
	if opts.InvalidSessionMax < opts.InvalidSessionMin {
		opts.InvalidSessionMax = opts.InvalidSessionMin + 4*time.Second
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 2 * time.Minute
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = defaultRand
	}
	return opts
}

// Status is a point-in-time view of the session for health reporting.
type Status struct {
	State             State
	HasSession        bool
	Sequence          int64
	HasSequence       bool
	SelfID            string
	HeartbeatInterval time.Duration
	LastHeartbeat     time.Time
	LastAck           time.Time
	ReconnectAttempts int
	LastReason        Reason
	LastError         string
	UpdatedAt         time.Time
}

// Session is one bot's gateway connection and the state that survives
// across reconnects.
type Session struct {
	logger  *slog.Logger
	opts    Options
	handler Handler
	clock   clockwork.Clock

	mu                sync.Mutex
	state             State
	conn              Conn
	sessionID         string
	resumeURL         string
	seq               int64
	hasSeq            bool
	selfID            string
	heartbeatInterval time.Duration
	stopHeartbeat     func()
	ackPending        bool
	zombie            bool
	lastHeartbeat     time.Time
	lastAck           time.Time
	attempts          int
	lastReason        Reason
	lastErr           string
	updatedAt         time.Time

	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

// NewSession creates a Session. It fails when no token is configured.
func NewSession(log *slog.Logger, opts Options, handler Handler) (*Session, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrMissingToken
	}
	if log == nil {
		log = slog.Default()
	}
	opts = normalizeOptions(opts)
	return &Session{
		logger:  log.With(slog.String("component", "gateway")),
		opts:    opts,
		handler: handler,
		clock:   opts.Clock,
		state:   StateIdle,
	}, nil
}

// Run connects and keeps the session alive until ctx is cancelled or a
// fatal close code is received.
func (s *Session) Run(ctx context.Context) error {
	for {
		reason, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			s.shutdown()
			return nil
		}
		if err != nil {
			s.recordError(err)
		}
		delay, fatal := s.planReconnect(reason)
		if fatal != nil {
			s.logger.Error("gateway stopped",
				slog.String("reason", string(reason)),
				slog.Any("error", err),
			)
			s.shutdown()
			return fatal
		}
		s.logger.Info("gateway reconnect scheduled",
			slog.String("reason", string(reason)),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.clock.After(delay):
		}
	}
}

func (s *Session) runConnection(ctx context.Context) (Reason, error) {
	s.transition(StateConnecting)
	target := s.connectURL()
	conn, err := s.opts.Dialer.Dial(ctx, target)
	if err != nil {
		return ReasonDrop, fmt.Errorf("dial gateway: %w", err)
	}
	s.logger.Info("gateway connected", slog.String("url", target))
	s.attach(conn)
	defer s.detach(conn)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close(websocket.CloseNormalClosure, "shutdown")
	})
	defer stop()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return s.readFailure(err), err
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("gateway frame decode failed", slog.Any("error", err))
			continue
		}
		if reason, done := s.handleFrame(ctx, frame); done {
			return reason, nil
		}
	}
}

func (s *Session) attach(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.zombie = false
	s.ackPending = false
}

func (s *Session) detach(conn Conn) {
	s.mu.Lock()
	s.stopHeartbeatLocked()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close(CloseUnknownError, "reconnecting")
}

func (s *Session) readFailure(err error) Reason {
	s.mu.Lock()
	zombie := s.zombie
	s.zombie = false
	s.mu.Unlock()
	if zombie {
		return ReasonZombie
	}
	return reasonForClose(closeCode(err))
}

// handleFrame applies one inbound frame. It returns done=true when the
// connection must be closed, with the reason to hand to planReconnect.
func (s *Session) handleFrame(ctx context.Context, frame Frame) (Reason, bool) {
	if frame.S != nil {
		s.advanceSeq(*frame.S)
	}
	switch frame.Op {
	case OpHello:
		s.handleHello(frame.D)
	case OpHeartbeat:
		s.sendHeartbeat()
	case OpHeartbeatAck:
		s.mu.Lock()
		s.ackPending = false
		s.lastAck = s.clock.Now()
		s.mu.Unlock()
		s.logger.Debug("gateway heartbeat ack")
	case OpDispatch:
		s.handleDispatch(ctx, frame.T, frame.D)
	case OpReconnect:
		s.logger.Info("gateway reconnect requested")
		return ReasonReconnectRequested, true
	case OpInvalidSession:
		s.logger.Warn("gateway session invalidated")
		return ReasonInvalidSession, true
	default:
		s.logger.Debug("gateway opcode ignored", slog.Int("op", frame.Op))
	}
	return "", false
}

func (s *Session) handleHello(data json.RawMessage) {
	var hello helloPayload
	if err := json.Unmarshal(data, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		s.logger.Warn("gateway hello malformed", slog.Any("error", err))
		return
	}
	s.startHeartbeat(time.Duration(hello.HeartbeatInterval) * time.Millisecond)
	s.sendHeartbeat()

	op, payload := s.handshake()
	if op == OpResume {
		s.transition(StateResuming)
		s.logger.Info("gateway resuming")
	} else {
		s.transition(StateIdentifying)
		s.logger.Info("gateway identifying")
	}
	s.send(op, payload)
}

// handshake picks Resume when both a session id and a sequence are known,
// and Identify otherwise.
func (s *Session) handshake() (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumableLocked() {
		return OpResume, resumePayload{
			Token:     s.opts.Token,
			SessionID: s.sessionID,
			Seq:       s.seq,
		}
	}
	return OpIdentify, identifyPayload{
		Token:   s.opts.Token,
		Intents: s.opts.Intents,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "supportbot",
			Device:  "supportbot",
		},
	}
}

func (s *Session) resumableLocked() bool {
	return s.sessionID != "" && s.hasSeq
}

func (s *Session) handleDispatch(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case EventReady:
		var ready readyPayload
		if err := json.Unmarshal(data, &ready); err != nil {
			s.logger.Error("gateway ready decode failed", slog.Any("error", err))
			return
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.selfID = ready.User.ID
		s.attempts = 0
		s.transitionLocked(StateReady)
		s.mu.Unlock()
		s.logger.Info("gateway ready",
			slog.String("session_id", ready.SessionID),
			slog.String("user_id", ready.User.ID),
			slog.String("username", ready.User.Username),
		)
	case EventResumed:
		s.mu.Lock()
		s.attempts = 0
		s.transitionLocked(StateReady)
		s.mu.Unlock()
		s.logger.Info("gateway resumed")
	case EventMessageCreate, EventMessageUpdate:
		var m discordgo.Message
		if err := json.Unmarshal(data, &m); err != nil {
			s.logger.Warn("gateway message decode failed", slog.String("event", event), slog.Any("error", err))
			return
		}
		msg, ok := InboundFromDiscord(&m)
		if !ok {
			return
		}
		selfID := s.SelfID()
		if event == EventMessageCreate {
			s.dispatchAsync(ctx, event, func(ctx context.Context) {
				s.handler.HandleMessage(ctx, msg, selfID)
			})
			return
		}
		if msg.Text() == "" {
			return
		}
		msg.Edited = true
		s.dispatchAsync(ctx, event, func(ctx context.Context) {
			s.handler.HandleMessageUpdate(ctx, msg, selfID)
		})
	case EventInteractionCreate:
		var interaction discordgo.Interaction
		if err := json.Unmarshal(data, &interaction); err != nil {
			s.logger.Warn("gateway interaction decode failed", slog.Any("error", err))
			return
		}
		s.dispatchAsync(ctx, event, func(ctx context.Context) {
			s.handler.HandleInteraction(ctx, &interaction)
		})
	}
}

func (s *Session) dispatchAsync(ctx context.Context, event string, fn func(context.Context)) {
	if s.handler == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("gateway handler panic", slog.String("event", event), slog.Any("panic", r))
			}
		}()
		hctx, cancel := context.WithTimeout(ctx, s.opts.HandlerTimeout)
		defer cancel()
		fn(hctx)
	}()
}

func (s *Session) advanceSeq(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSeq || n > s.seq {
		s.seq = n
		s.hasSeq = true
	}
}

// startHeartbeat replaces any running heartbeat loop with a new one.
func (s *Session) startHeartbeat(interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}

	s.mu.Lock()
	s.stopHeartbeatLocked()
	s.stopHeartbeat = stop
	s.heartbeatInterval = interval
	s.ackPending = false
	s.mu.Unlock()

	go s.heartbeatLoop(ticker, done)
}

func (s *Session) stopHeartbeatLocked() {
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
		s.stopHeartbeat = nil
	}
}

func (s *Session) heartbeatLoop(ticker clockwork.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			select {
			case <-done:
				return
			default:
			}
			if !s.beat() {
				return
			}
		}
	}
}

// beat sends one scheduled heartbeat. With the watchdog enabled, a missing
// ACK from the previous beat marks the connection as a zombie and closes it.
func (s *Session) beat() bool {
	s.mu.Lock()
	missed := s.ackPending
	conn := s.conn
	if missed && s.opts.AckWatchdog {
		s.zombie = true
	}
	s.mu.Unlock()

	if missed {
		if s.opts.AckWatchdog {
			s.logger.Warn("gateway heartbeat not acknowledged, closing zombie connection")
			if conn != nil {
				_ = conn.Close(CloseUnknownError, "heartbeat ack timeout")
			}
			return false
		}
		s.logger.Debug("gateway heartbeat ack missing")
	}
	s.sendHeartbeat()
	return true
}

func (s *Session) sendHeartbeat() {
	s.mu.Lock()
	var seq any
	if s.hasSeq {
		seq = s.seq
	}
	s.ackPending = true
	s.lastHeartbeat = s.clock.Now()
	s.mu.Unlock()
	s.send(OpHeartbeat, seq)
}

// send writes one frame. Failures are logged and never returned.
func (s *Session) send(op int, d any) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.logger.Warn("gateway send skipped, not connected", slog.Int("op", op))
		return
	}
	payload, err := json.Marshal(outboundFrame{Op: op, D: d})
	if err != nil {
		s.logger.Error("gateway frame encode failed", slog.Int("op", op), slog.Any("error", err))
		return
	}
	s.writeMu.Lock()
	err = conn.WriteMessage(payload)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn("gateway send failed", slog.Int("op", op), slog.Any("error", err))
	}
}

// planReconnect is the single reconnect policy. It applies the session
// reset for reason and returns the delay before the next attempt, or an
// error when the session must not reconnect.
func (s *Session) planReconnect(reason Reason) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReason = reason
	switch reason {
	case ReasonAuthFailure:
		s.transitionLocked(StateFailed)
		return 0, ErrAuthenticationFailed
	case ReasonFatalClose:
		s.transitionLocked(StateFailed)
		return 0, ErrFatalClose
	case ReasonReconnectRequested:
		s.transitionLocked(StateDegraded)
		return s.opts.ReconnectDelay, nil
	case ReasonInvalidSession:
		s.sessionID = ""
		s.resumeURL = ""
		s.seq = 0
		s.hasSeq = false
		s.transitionLocked(StateDegraded)
		return between(s.opts.Rand, s.opts.InvalidSessionMin, s.opts.InvalidSessionMax), nil
	default:
		s.transitionLocked(StateDegraded)
		delay := s.opts.Backoff.Delay(s.attempts)
		s.attempts++
		return delay, nil
	}
}

func (s *Session) connectURL() string {
	s.mu.Lock()
	base := s.opts.GatewayURL
	if s.resumableLocked() && s.resumeURL != "" {
		base = s.resumeURL
	}
	s.mu.Unlock()
	return withGatewayQuery(base)
}

func withGatewayQuery(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	if q.Get("v") == "" {
		q.Set("v", APIVersion)
	}
	if q.Get("encoding") == "" {
		q.Set("encoding", "json")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) bool {
	from := s.state
	if from == to {
		return true
	}
	if !canTransition(from, to) {
		s.logger.Warn("gateway state transition rejected",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		return false
	}
	s.state = to
	s.updatedAt = s.clock.Now()
	s.logger.Debug("gateway state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	return true
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
}

func (s *Session) shutdown() {
	s.mu.Lock()
	s.stopHeartbeatLocked()
	if !s.state.Terminal() {
		s.transitionLocked(StateClosed)
	}
	s.mu.Unlock()
	s.inflight.Wait()
}

// SelfID returns the bot's own user id once READY has been received.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:             s.state,
		HasSession:        s.sessionID != "",
		Sequence:          s.seq,
		HasSequence:       s.hasSeq,
		SelfID:            s.selfID,
		HeartbeatInterval: s.heartbeatInterval,
		LastHeartbeat:     s.lastHeartbeat,
		LastAck:           s.lastAck,
		ReconnectAttempts: s.attempts,
		LastReason:        s.lastReason,
		LastError:         s.lastErr,
		UpdatedAt:         s.updatedAt,
	}
}
