package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/supportbot/internal/channel"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMemberLookup struct {
	roles []string
	err   error
	calls int
}

func (f *fakeMemberLookup) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Member{Roles: f.roles}, nil
}

func TestIsMentionedRequiresLiteralToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		content string
		want    bool
	}{
		{content: "hey <@42> help", want: true},
		{content: "hey <@!42> help", want: true},
		{content: "hey @helper help", want: false},
		{content: "hey <@420> help", want: false},
		{content: "", want: false},
	}
	for _, tc := range cases {
		if got := IsMentioned(tc.content, "42"); got != tc.want {
			t.Fatalf("IsMentioned(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
	if IsMentioned("<@>", "") {
		t.Fatalf("empty self id must never match")
	}
}

// The mention metadata list alone never counts as a mention.
func TestResolveIgnoresMentionMetadata(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestLogger(), Config{}, nil)
	res := r.Resolve(context.Background(), channel.InboundMessage{
		Content:    "replying to you",
		MentionIDs: []string{"bot-1"},
		Author:     channel.Author{ID: "u1"},
	}, "bot-1")
	if res.Mentioned {
		t.Fatalf("expected not mentioned without literal token")
	}
}

func TestResolveSelfAndBots(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestLogger(), Config{Names: []string{"bot-owner"}}, nil)
	self := r.Resolve(context.Background(), channel.InboundMessage{Author: channel.Author{ID: "bot-1"}}, "bot-1")
	if !self.IsSelf || !self.IsBot {
		t.Fatalf("expected self to be treated as bot: %+v", self)
	}
	other := r.Resolve(context.Background(), channel.InboundMessage{Author: channel.Author{ID: "b2", Username: "bot-owner", Bot: true}}, "bot-1")
	if !other.IsBot || other.Privileged {
		t.Fatalf("bots are never privileged: %+v", other)
	}
}

func TestResolvePrivilegedByNameCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestLogger(), Config{Names: []string{"Alice"}}, nil)
	for _, author := range []channel.Author{
		{ID: "u1", Username: "ALICE"},
		{ID: "u1", Username: "someone", Nickname: "alice"},
		{ID: "u1", Username: "x", GlobalName: "aLiCe"},
	} {
		res := r.Resolve(context.Background(), channel.InboundMessage{Author: author, GuildID: "g1"}, "bot-1")
		if !res.Privileged || res.PrivilegeSource != SourceName {
			t.Fatalf("expected name privilege for %+v, got %+v", author, res)
		}
	}
	res := r.Resolve(context.Background(), channel.InboundMessage{Author: channel.Author{ID: "u2", Username: "alicia"}}, "bot-1")
	if res.Privileged {
		t.Fatalf("partial name must not match")
	}
}

func TestResolvePrivilegedByRole(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestLogger(), Config{RoleIDs: []string{"mod"}}, nil)
	res := r.Resolve(context.Background(), channel.InboundMessage{
		GuildID:   "g1",
		HasMember: true,
		Author:    channel.Author{ID: "u1", RoleIDs: []string{"everyone", "mod"}},
	}, "bot-1")
	if !res.Privileged || res.PrivilegeSource != SourceRole {
		t.Fatalf("expected role privilege, got %+v", res)
	}
}

func TestResolveFetchesRolesWhenMemberMissing(t *testing.T) {
	t.Parallel()

	lookup := &fakeMemberLookup{roles: []string{"mod"}}
	r := NewResolver(newTestLogger(), Config{RoleIDs: []string{"mod"}, FetchRoles: true}, lookup)
	res := r.Resolve(context.Background(), channel.InboundMessage{GuildID: "g1", Author: channel.Author{ID: "u1"}}, "bot-1")
	if !res.Privileged || lookup.calls != 1 {
		t.Fatalf("expected fetched role privilege, got %+v calls=%d", res, lookup.calls)
	}

	r.Resolve(context.Background(), channel.InboundMessage{GuildID: "g1", HasMember: true, Author: channel.Author{ID: "u1"}}, "bot-1")
	if lookup.calls != 1 {
		t.Fatalf("member data present, lookup must be skipped")
	}
}

func TestResolveLookupFailureMeansNoRoles(t *testing.T) {
	t.Parallel()

	lookup := &fakeMemberLookup{err: errors.New("forbidden")}
	r := NewResolver(newTestLogger(), Config{RoleIDs: []string{"mod"}, FetchRoles: true}, lookup)
	res := r.Resolve(context.Background(), channel.InboundMessage{GuildID: "g1", Author: channel.Author{ID: "u1"}}, "bot-1")
	if res.Privileged {
		t.Fatalf("lookup failure must not grant privilege")
	}
}

func TestStripMention(t *testing.T) {
	t.Parallel()

	if got := StripMention("<@42> how do I <@!42> log in?", "42"); got != "how do I  log in?" {
		t.Fatalf("unexpected stripped text: %q", got)
	}
}
