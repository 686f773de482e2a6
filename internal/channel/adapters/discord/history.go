package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/supportbot/internal/channel"
)

// historyScanLimit is the page size used when looking for newer replies.
const historyScanLimit = 50

type historyReader interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// HumanReplied reports whether any non-bot user posted in the trigger's
// channel after the trigger message.
func HumanReplied(ctx context.Context, rest historyReader, trigger channel.InboundMessage, selfID string) (bool, *discordgo.Message, error) {
	messages, err := rest.ChannelMessages(trigger.ChannelID, historyScanLimit, "", trigger.ID, "", discordgo.WithContext(ctx))
	if err != nil {
		return false, nil, fmt.Errorf("list messages after %s: %w", trigger.ID, err)
	}
	for _, m := range messages {
		if m == nil || m.Author == nil || m.ID == trigger.ID {
			continue
		}
		if m.Author.Bot || m.Author.ID == selfID {
			continue
		}
		if !trigger.SentAt.IsZero() && !m.Timestamp.After(trigger.SentAt) {
			continue
		}
		return true, m, nil
	}
	return false, nil, nil
}
