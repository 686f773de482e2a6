// Package bot routes gateway events through identity resolution, the reply
// decision, and the immediate or delayed response paths.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"

	"github.com/memohai/supportbot/internal/channel"
	"github.com/memohai/supportbot/internal/channel/adapters/discord"
	"github.com/memohai/supportbot/internal/chat"
	"github.com/memohai/supportbot/internal/conversation"
	"github.com/memohai/supportbot/internal/delayed"
	"github.com/memohai/supportbot/internal/dispatch"
	"github.com/memohai/supportbot/internal/gateway"
	"github.com/memohai/supportbot/internal/identity"
	"github.com/memohai/supportbot/internal/settings"
)

const defaultResponseTimeout = 2 * time.Minute

// Resolver classifies message authors.
type Resolver interface {
	Resolve(ctx context.Context, msg channel.InboundMessage, selfID string) identity.Resolution
}

// SettingsReader returns the current runtime settings.
type SettingsReader interface {
	Get(ctx context.Context) settings.BotSettings
}

// Assembler builds the completion prompt.
type Assembler interface {
	Assemble(ctx context.Context, req conversation.Request) conversation.Prompt
}

// Completer produces the answer text.
type Completer interface {
	Generate(ctx context.Context, req chat.Request) (string, error)
}

// Recorder persists a finished exchange.
type Recorder interface {
	RecordExchange(ctx context.Context, req conversation.Request, answer string) error
}

// Deps are the collaborators of a Bot. Recorder and Dedup may be nil.
type Deps struct {
	REST      discord.REST
	Resolver  Resolver
	Policy    dispatch.Policy
	Settings  SettingsReader
	Scheduler *delayed.Scheduler
	Assembler Assembler
	Completer Completer
	Recorder  Recorder
	Sender    *channel.Sender
	Dedup     *discord.Deduper
}

// Options tune a Bot.
type Options struct {
	FallbackMessage string
	SlashCommand    string
	// RecheckBeforeSend repeats the human-reply check after the completion
	// returns, just before a delayed reply is posted.
	RecheckBeforeSend bool
	ResponseTimeout   time.Duration
	Clock             clockwork.Clock
}

// Bot handles gateway events for one bot account.
type Bot struct {
	logger *slog.Logger
	deps   Deps
	opts   Options
	clock  clockwork.Clock
}

var _ gateway.Handler = (*Bot)(nil)

// New creates a Bot.
func New(log *slog.Logger, deps Deps, opts Options) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}
	switch {
	case deps.REST == nil:
		return nil, errors.New("bot: discord rest client is required")
	case deps.Resolver == nil, deps.Policy == nil, deps.Settings == nil:
		return nil, errors.New("bot: resolver, policy and settings are required")
	case deps.Assembler == nil, deps.Completer == nil, deps.Sender == nil:
		return nil, errors.New("bot: assembler, completer and sender are required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = delayed.NewScheduler(log, opts.Clock)
	}
	if strings.TrimSpace(opts.FallbackMessage) == "" {
		opts.FallbackMessage = "I'm having technical difficulties right now. Please try again in a moment."
	}
	if strings.TrimSpace(opts.SlashCommand) == "" {
		opts.SlashCommand = "ask"
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = defaultResponseTimeout
	}
	return &Bot{
		logger: log.With(slog.String("component", "bot")),
		deps:   deps,
		opts:   opts,
		clock:  opts.Clock,
	}, nil
}

// HandleMessage runs a MESSAGE_CREATE event through the decision pipeline.
func (b *Bot) HandleMessage(ctx context.Context, msg channel.InboundMessage, selfID string) {
	logger := b.messageLogger(msg)
	if b.deps.Dedup != nil && b.deps.Dedup.IsDuplicate(msg.ChannelID+":"+msg.ID) {
		logger.Debug("duplicate inbound dropped")
		return
	}
	res := b.deps.Resolver.Resolve(ctx, msg, selfID)
	if res.IsBot {
		return
	}
	decision := b.deps.Policy.Decide(msg, res, b.deps.Settings.Get(ctx))
	logger.Debug("decision",
		slog.String("outcome", decision.Outcome.String()),
		slog.String("reason", decision.Reason),
		slog.String("category", string(decision.Category)),
		slog.Bool("privileged", res.Privileged),
		slog.Bool("mentioned", res.Mentioned),
	)
	b.apply(ctx, msg, selfID, decision)
}

// HandleMessageUpdate re-decides an edited message that still has a pending
// response. A delayed decision replaces the timer, anything else cancels it.
func (b *Bot) HandleMessageUpdate(ctx context.Context, msg channel.InboundMessage, selfID string) {
	key := delayed.KeyOf(msg)
	pending, ok := b.deps.Scheduler.Pending(key)
	if !ok {
		return
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = pending.Snapshot.SentAt
	}
	logger := b.messageLogger(msg)
	res := b.deps.Resolver.Resolve(ctx, msg, selfID)
	decision := dispatch.Decision{Outcome: dispatch.Ignore, Reason: dispatch.ReasonBotAuthor}
	if !res.IsBot {
		decision = b.deps.Policy.Decide(msg, res, b.deps.Settings.Get(ctx))
	}
	if decision.Outcome == dispatch.ScheduleDelayed {
		b.schedule(msg, selfID, decision.Delay)
		logger.Info("pending response superseded by edit")
		return
	}
	b.deps.Scheduler.Cancel(key)
	logger.Info("pending response cancelled by edit", slog.String("reason", decision.Reason))
	if decision.Outcome == dispatch.RespondNow {
		b.respond(ctx, msg, selfID, false)
	}
}

func (b *Bot) apply(ctx context.Context, msg channel.InboundMessage, selfID string, decision dispatch.Decision) {
	switch decision.Outcome {
	case dispatch.RespondNow:
		b.respond(ctx, msg, selfID, false)
	case dispatch.ScheduleDelayed:
		b.schedule(msg, selfID, decision.Delay)
	}
}

func (b *Bot) schedule(msg channel.InboundMessage, selfID string, delay time.Duration) {
	_, err := b.deps.Scheduler.ScheduleOrReplace(delayed.KeyOf(msg), delay, msg, func(ctx context.Context, _ delayed.Key, snapshot channel.InboundMessage) {
		b.fireDelayed(ctx, snapshot, selfID)
	})
	if err != nil {
		b.messageLogger(msg).Warn("schedule response failed", slog.Any("error", err))
	}
}

// fireDelayed runs when a pending response comes due.
func (b *Bot) fireDelayed(ctx context.Context, snapshot channel.InboundMessage, selfID string) {
	logger := b.messageLogger(snapshot)
	if !b.deps.Settings.Get(ctx).Enabled {
		logger.Info("reply dropped, bot disabled")
		return
	}
	if b.humanReplied(ctx, snapshot, selfID) {
		return
	}
	b.respond(ctx, snapshot, selfID, true)
}

// humanReplied reports whether the reply should be suppressed. A failed
// history lookup does not suppress.
func (b *Bot) humanReplied(ctx context.Context, trigger channel.InboundMessage, selfID string) bool {
	replied, by, err := discord.HumanReplied(ctx, b.deps.REST, trigger, selfID)
	logger := b.messageLogger(trigger)
	if err != nil {
		logger.Warn("human reply check failed", slog.Any("error", err))
		return false
	}
	if replied {
		logger.Info("reply suppressed", slog.String("replied_by", by.Author.ID), slog.String("reply_id", by.ID))
	}
	return replied
}

// respond assembles context, completes, and posts the answer as a reply to
// msg.
func (b *Bot) respond(ctx context.Context, msg channel.InboundMessage, selfID string, delayedReply bool) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.ResponseTimeout)
	defer cancel()
	logger := b.messageLogger(msg)

	req := conversation.Request{
		UserID:      msg.Author.ID,
		Username:    msg.Author.Username,
		DisplayName: msg.Author.DisplayName(),
		ChannelID:   msg.ChannelID,
		Text:        identity.StripMention(msg.Content, selfID),
	}
	stopTyping := discord.StartTyping(ctx, logger, b.deps.REST, b.clock, msg.ChannelID)
	result := b.complete(ctx, req)
	stopTyping()

	if delayedReply && b.opts.RecheckBeforeSend && b.humanReplied(ctx, msg, selfID) {
		return
	}

	report := b.deps.Sender.Send(ctx, channel.OutboundMessage{
		ChannelID: msg.ChannelID,
		Text:      result.Text,
		Reply:     &channel.ReplyRef{ChannelID: msg.ChannelID, MessageID: msg.ID},
	})
	if !report.OK() {
		logger.Warn("reply delivery incomplete",
			slog.Int("chunks", report.Chunks),
			slog.Int("failed", report.Failed),
			slog.Any("error", report.Err()),
		)
	} else {
		logger.Info("reply sent", slog.Int("chunks", report.Chunks), slog.Bool("fallback", result.Fallback))
	}
	b.record(ctx, req, result)
}

func (b *Bot) record(ctx context.Context, req conversation.Request, result completion) {
	if b.deps.Recorder == nil {
		return
	}
	answer := result.Text
	if result.Fallback {
		answer = ""
	}
	if err := b.deps.Recorder.RecordExchange(ctx, req, answer); err != nil {
		b.logger.Warn("record exchange failed", slog.String("user_id", req.UserID), slog.Any("error", err))
	}
}

// SweepDedup drops expired inbound dedup keys.
func (b *Bot) SweepDedup() int {
	if b.deps.Dedup == nil {
		return 0
	}
	return b.deps.Dedup.Sweep()
}

// PendingResponses returns the number of armed delayed responses.
func (b *Bot) PendingResponses() int {
	return b.deps.Scheduler.Len()
}

// Stop cancels all pending responses and waits for running ones.
func (b *Bot) Stop() {
	b.deps.Scheduler.Stop()
}

func (b *Bot) messageLogger(msg channel.InboundMessage) *slog.Logger {
	return b.logger.With(
		slog.String("channel_id", msg.ChannelID),
		slog.String("message_id", msg.ID),
		slog.String("user_id", msg.Author.ID),
	)
}

// HandleInteraction answers the ask slash command with a deferred reply and
// follow-up messages.
func (b *Bot) HandleInteraction(ctx context.Context, i *discordgo.Interaction) {
	question, ok := discord.CommandQuestion(i, b.opts.SlashCommand)
	if !ok {
		return
	}
	author := discord.InteractionAuthor(i)
	logger := b.logger.With(
		slog.String("interaction_id", i.ID),
		slog.String("channel_id", i.ChannelID),
		slog.String("user_id", author.ID),
	)
	if err := discord.DeferReply(ctx, b.deps.REST, i); err != nil {
		logger.Warn("interaction ack failed", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.ResponseTimeout)
	defer cancel()
	req := conversation.Request{
		UserID:      author.ID,
		Username:    author.Username,
		DisplayName: author.DisplayName(),
		ChannelID:   i.ChannelID,
		Text:        question,
	}
	result := b.complete(ctx, req)
	report := b.deps.Sender.Deliver(ctx, result.Text, func(ctx context.Context, _ int, chunk string) (string, error) {
		return discord.Followup(ctx, b.deps.REST, i, chunk)
	})
	if !report.OK() {
		logger.Warn("interaction followup incomplete", slog.Int("failed", report.Failed), slog.Any("error", report.Err()))
	}
	b.record(ctx, req, result)
}
