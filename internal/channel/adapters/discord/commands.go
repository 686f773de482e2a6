package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/supportbot/internal/channel"
)

// AskOption is the question option of the ask command.
const AskOption = "question"

// AskCommand defines the slash command that asks the bot directly.
func AskCommand(name string) *discordgo.ApplicationCommand {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "ask"
	}
	return &discordgo.ApplicationCommand{
		Name:        name,
		Description: "Ask the support assistant a question",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        AskOption,
				Description: "What do you need help with?",
				Required:    true,
				MaxLength:   1500,
			},
		},
	}
}

// RegisterCommands replaces the application's global commands.
func RegisterCommands(ctx context.Context, rest REST, appID string, commands ...*discordgo.ApplicationCommand) error {
	if strings.TrimSpace(appID) == "" {
		return fmt.Errorf("application id is required")
	}
	if _, err := rest.ApplicationCommandBulkOverwrite(appID, "", commands, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

// CommandQuestion extracts the question from an ask command interaction.
func CommandQuestion(i *discordgo.Interaction, name string) (string, bool) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return "", false
	}
	data, ok := i.Data.(discordgo.ApplicationCommandInteractionData)
	if !ok || !strings.EqualFold(data.Name, name) {
		return "", false
	}
	for _, opt := range data.Options {
		if opt != nil && opt.Name == AskOption && opt.Type == discordgo.ApplicationCommandOptionString {
			v, _ := opt.Value.(string)
			q := strings.TrimSpace(v)
			return q, q != ""
		}
	}
	return "", false
}

// InteractionAuthor maps the invoking user of an interaction.
func InteractionAuthor(i *discordgo.Interaction) channel.Author {
	var author channel.Author
	user := i.User
	if i.Member != nil {
		author.Nickname = i.Member.Nick
		author.RoleIDs = i.Member.Roles
		if i.Member.User != nil {
			user = i.Member.User
		}
	}
	if user != nil {
		author.ID = user.ID
		author.Username = user.Username
		author.GlobalName = user.GlobalName
		author.Bot = user.Bot
	}
	return author
}

// DeferReply acknowledges an interaction within Discord's 3s window.
func DeferReply(ctx context.Context, rest REST, i *discordgo.Interaction) error {
	err := rest.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("defer interaction %s: %w", i.ID, err)
	}
	return nil
}

// Followup posts one follow-up message for a deferred interaction.
func Followup(ctx context.Context, rest REST, i *discordgo.Interaction, text string) (string, error) {
	msg, err := rest.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
		Content: text,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("followup for interaction %s: %w", i.ID, err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.ID, nil
}
