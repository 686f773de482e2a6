// Package discord is the REST side of the Discord integration: session
// construction, typing indicators, inbound dedup, channel history checks and
// slash commands.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// REST is the Discord REST surface the bot uses. *discordgo.Session
// satisfies it; tests use fakes.
type REST interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Gateway(options ...discordgo.RequestOption) (string, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

var _ REST = (*discordgo.Session)(nil)

// NewSession creates a REST-only discordgo session. The gateway connection
// is managed elsewhere, so Open is never called.
func NewSession(token string) (*discordgo.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.ShouldReconnectOnError = false
	session.StateEnabled = false
	return session, nil
}

// ResolveGatewayURL asks Discord for the gateway URL and falls back to
// fallback when the lookup fails.
func ResolveGatewayURL(ctx context.Context, log *slog.Logger, rest REST, fallback string) string {
	if log == nil {
		log = slog.Default()
	}
	url, err := rest.Gateway(discordgo.WithContext(ctx))
	if err != nil || strings.TrimSpace(url) == "" {
		log.Warn("gateway discovery failed, using configured url",
			slog.String("fallback", fallback),
			slog.Any("error", err),
		)
		return fallback
	}
	return url
}

// SelfUser fetches the bot's own account.
func SelfUser(ctx context.Context, rest REST) (*discordgo.User, error) {
	user, err := rest.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch bot user: %w", err)
	}
	return user, nil
}
