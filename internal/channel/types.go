// Package channel defines the platform-neutral message types used by the
// support pipeline and the outbound sender that delivers replies to Discord.
package channel

import (
	"strings"
	"time"
)

// Author describes who sent an inbound message.
type Author struct {
	ID         string
	Username   string
	GlobalName string
	Nickname   string
	Bot        bool
	RoleIDs    []string
}

// DisplayName returns the most specific human-facing name available.
func (a Author) DisplayName() string {
	for _, name := range []string{a.Nickname, a.GlobalName, a.Username} {
		if strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	return a.ID
}

// Names returns every non-empty name the author is known by.
func (a Author) Names() []string {
	names := make([]string, 0, 3)
	for _, name := range []string{a.Username, a.GlobalName, a.Nickname} {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// InboundMessage is a message received from the gateway.
type InboundMessage struct {
	ID         string
	ChannelID  string
	GuildID    string
	Author     Author
	Content    string
	MentionIDs []string
	ReplyToID  string
	SentAt     time.Time
	Edited     bool
	// HasMember is true when the event carried guild member data, so an
	// empty RoleIDs list is authoritative.
	HasMember bool
}

// IsDirect reports whether the message arrived outside a guild.
func (m InboundMessage) IsDirect() bool {
	return strings.TrimSpace(m.GuildID) == ""
}

// Text returns the trimmed message content.
func (m InboundMessage) Text() string {
	return strings.TrimSpace(m.Content)
}

// ReplyRef points a reply at a specific message.
type ReplyRef struct {
	ChannelID string
	MessageID string
}

// OutboundMessage is a reply to deliver to a channel.
type OutboundMessage struct {
	ChannelID string
	Text      string
	Reply     *ReplyRef
}
