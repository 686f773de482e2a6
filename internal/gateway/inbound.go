package gateway

import (
	"github.com/bwmarrin/discordgo"

	"github.com/memohai/supportbot/internal/channel"
)

// InboundFromDiscord converts a decoded gateway message into the pipeline's
// message type. Messages without an author are rejected.
func InboundFromDiscord(m *discordgo.Message) (channel.InboundMessage, bool) {
	if m == nil || m.Author == nil || m.ID == "" {
		return channel.InboundMessage{}, false
	}
	msg := channel.InboundMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		SentAt:    m.Timestamp,
		Edited:    m.EditedTimestamp != nil,
		Author: channel.Author{
			ID:         m.Author.ID,
			Username:   m.Author.Username,
			GlobalName: m.Author.GlobalName,
			Bot:        m.Author.Bot,
		},
	}
	if m.Member != nil {
		msg.HasMember = true
		msg.Author.Nickname = m.Member.Nick
		msg.Author.RoleIDs = append([]string(nil), m.Member.Roles...)
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.MentionIDs = append(msg.MentionIDs, u.ID)
		}
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	return msg, true
}
