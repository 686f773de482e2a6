package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
)

// DiscordMessageLimit is the maximum number of characters Discord accepts
// in a single message.
const DiscordMessageLimit = 2000

// OutboundPolicy configures how replies are chunked and paced.
type OutboundPolicy struct {
	TextChunkLimit int `json:"text_chunk_limit,omitempty"`
	ChunkDelayMs   int `json:"chunk_delay_ms,omitempty"`
}

// NormalizeOutboundPolicy fills zero-value fields with defaults.
func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit <= 0 || policy.TextChunkLimit > DiscordMessageLimit {
		policy.TextChunkLimit = DiscordMessageLimit
	}
	if policy.ChunkDelayMs < 0 {
		policy.ChunkDelayMs = 0
	}
	return policy
}

// ChunkText splits text into pieces of at most limit runes. Each split
// prefers a paragraph break, then a line break, then a space, searched in
// the back half of the window; without one it cuts hard at the limit.
// Whitespace at split points is dropped.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	runes := []rune(trimmed)
	chunks := make([]string, 0, len(runes)/limit+1)
	for len(runes) > limit {
		cut := splitPoint(runes, limit)
		head := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
		if head != "" {
			chunks = append(chunks, head)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func splitPoint(runes []rune, limit int) int {
	floor := limit / 2
	for _, sep := range [][]rune{[]rune("\n\n"), []rune("\n"), []rune(" ")} {
		if idx := lastIndexRunes(runes[:limit], sep); idx >= floor && idx > 0 {
			return idx
		}
	}
	return limit
}

func lastIndexRunes(window, sep []rune) int {
	for i := len(window) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if window[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func runeLen(value string) int {
	return len([]rune(value))
}

// MessageSender is the subset of the Discord REST client used to post messages.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SendReport summarizes one chunked delivery.
type SendReport struct {
	Chunks     int
	Sent       int
	Failed     int
	MessageIDs []string
	Errors     []error
}

// OK reports whether every chunk was delivered.
func (r SendReport) OK() bool {
	return r.Chunks > 0 && r.Failed == 0
}

// Err joins the per-chunk errors, or returns nil.
func (r SendReport) Err() error {
	return errors.Join(r.Errors...)
}

// DeliverFunc posts one chunk and returns the created message id.
type DeliverFunc func(ctx context.Context, index int, chunk string) (string, error)

// Sender chunks replies and delivers them in order.
type Sender struct {
	logger  *slog.Logger
	session MessageSender
	policy  OutboundPolicy
	clock   clockwork.Clock
}

// NewSender creates a Sender. A nil clock uses the real clock.
func NewSender(log *slog.Logger, session MessageSender, policy OutboundPolicy, clock clockwork.Clock) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sender{
		logger:  log.With(slog.String("component", "outbound")),
		session: session,
		policy:  NormalizeOutboundPolicy(policy),
		clock:   clock,
	}
}

// Send posts msg to its channel. Only the first chunk carries the reply
// reference. A failed chunk is logged and the remaining chunks are still sent.
func (s *Sender) Send(ctx context.Context, msg OutboundMessage) SendReport {
	channelID := strings.TrimSpace(msg.ChannelID)
	if channelID == "" {
		return SendReport{Errors: []error{fmt.Errorf("channel id is required")}}
	}
	return s.Deliver(ctx, msg.Text, func(ctx context.Context, index int, chunk string) (string, error) {
		data := &discordgo.MessageSend{
			Content: chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse:       []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
				RepliedUser: true,
			},
		}
		if index == 0 && msg.Reply != nil && strings.TrimSpace(msg.Reply.MessageID) != "" {
			refChannel := msg.Reply.ChannelID
			if refChannel == "" {
				refChannel = channelID
			}
			data.Reference = &discordgo.MessageReference{
				MessageID: msg.Reply.MessageID,
				ChannelID: refChannel,
			}
		}
		sent, err := s.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		if err != nil {
			return "", err
		}
		if sent == nil {
			return "", nil
		}
		return sent.ID, nil
	})
}

// Deliver chunks text and hands each chunk to deliver in order, pausing
// between chunks.
func (s *Sender) Deliver(ctx context.Context, text string, deliver DeliverFunc) SendReport {
	chunks := ChunkText(text, s.policy.TextChunkLimit)
	report := SendReport{Chunks: len(chunks)}
	delay := time.Duration(s.policy.ChunkDelayMs) * time.Millisecond
	for i, chunk := range chunks {
		if i > 0 && delay > 0 {
			if err := s.wait(ctx, delay); err != nil {
				report.Failed += len(chunks) - i
				report.Errors = append(report.Errors, err)
				s.logger.Warn("outbound cancelled", slog.Int("remaining", len(chunks)-i), slog.Any("error", err))
				return report
			}
		}
		id, err := deliver(ctx, i, chunk)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("chunk %d: %w", i, err))
			s.logger.Error("send chunk failed",
				slog.Int("chunk", i),
				slog.Int("chunks", len(chunks)),
				slog.Any("error", err),
			)
			continue
		}
		report.Sent++
		if id != "" {
			report.MessageIDs = append(report.MessageIDs, id)
		}
	}
	return report
}

func (s *Sender) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}
