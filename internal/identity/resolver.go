// Package identity decides who authored a message: this bot, another bot,
// a privileged staff member, or a regular user, and whether the bot was
// explicitly mentioned.
package identity

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/supportbot/internal/channel"
)

// Privilege sources.
const (
	SourceNone = ""
	SourceRole = "role"
	SourceName = "name"
)

// Resolution is the identity verdict for one message.
type Resolution struct {
	IsSelf          bool
	IsBot           bool
	Privileged      bool
	PrivilegeSource string
	Mentioned       bool
}

// MemberLookup fetches guild member data when the event did not carry it.
type MemberLookup interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// Config lists the privileged roles and names.
type Config struct {
	RoleIDs []string
	Names   []string
	// FetchRoles allows a REST lookup when an event lacks member data.
	FetchRoles bool
}

// Resolver evaluates message authors.
type Resolver struct {
	logger  *slog.Logger
	roles   map[string]struct{}
	names   map[string]struct{}
	members MemberLookup
	fetch   bool
}

// NewResolver creates a Resolver. members may be nil.
func NewResolver(log *slog.Logger, cfg Config, members MemberLookup) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	r := &Resolver{
		logger:  log.With(slog.String("component", "identity")),
		roles:   make(map[string]struct{}, len(cfg.RoleIDs)),
		names:   make(map[string]struct{}, len(cfg.Names)),
		members: members,
		fetch:   cfg.FetchRoles && members != nil,
	}
	for _, id := range cfg.RoleIDs {
		if id = strings.TrimSpace(id); id != "" {
			r.roles[id] = struct{}{}
		}
	}
	for _, name := range cfg.Names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			r.names[name] = struct{}{}
		}
	}
	return r
}

// Resolve classifies the author of msg relative to the bot selfID.
func (r *Resolver) Resolve(ctx context.Context, msg channel.InboundMessage, selfID string) Resolution {
	res := Resolution{
		IsSelf:    selfID != "" && msg.Author.ID == selfID,
		Mentioned: IsMentioned(msg.Content, selfID),
	}
	res.IsBot = msg.Author.Bot || res.IsSelf
	if res.IsBot {
		return res
	}
	res.PrivilegeSource = r.privilegeSource(ctx, msg)
	res.Privileged = res.PrivilegeSource != SourceNone
	return res
}

func (r *Resolver) privilegeSource(ctx context.Context, msg channel.InboundMessage) string {
	for _, name := range msg.Author.Names() {
		if _, ok := r.names[strings.ToLower(name)]; ok {
			return SourceName
		}
	}
	if len(r.roles) == 0 {
		return SourceNone
	}
	roles := msg.Author.RoleIDs
	if !msg.HasMember && len(roles) == 0 && r.fetch && !msg.IsDirect() {
		roles = r.lookupRoles(ctx, msg.GuildID, msg.Author.ID)
	}
	for _, role := range roles {
		if _, ok := r.roles[role]; ok {
			return SourceRole
		}
	}
	return SourceNone
}

func (r *Resolver) lookupRoles(ctx context.Context, guildID, userID string) []string {
	member, err := r.members.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		r.logger.Warn("member lookup failed",
			slog.String("guild_id", guildID),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return nil
	}
	if member == nil {
		return nil
	}
	return member.Roles
}

// IsMentioned reports whether content contains the literal <@id> or <@!id>
// token for selfID.
func IsMentioned(content, selfID string) bool {
	if selfID == "" {
		return false
	}
	return strings.Contains(content, "<@"+selfID+">") || strings.Contains(content, "<@!"+selfID+">")
}

// StripMention removes the bot's mention tokens from content.
func StripMention(content, selfID string) string {
	if selfID == "" {
		return strings.TrimSpace(content)
	}
	content = strings.ReplaceAll(content, "<@!"+selfID+">", "")
	content = strings.ReplaceAll(content, "<@"+selfID+">", "")
	return strings.TrimSpace(content)
}
