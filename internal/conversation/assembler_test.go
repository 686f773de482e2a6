package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKnowledge struct {
	text string
	err  error
}

func (s staticKnowledge) Knowledge(context.Context) (string, error) { return s.text, s.err }

type staticHistory struct {
	turns []Turn
	err   error
	limit int
}

func (s *staticHistory) RecentTurns(_ context.Context, _ string, limit int) ([]Turn, error) {
	s.limit = limit
	return s.turns, s.err
}

type staticCorrections struct {
	items []Correction
	err   error
}

func (s staticCorrections) Corrections(context.Context) ([]Correction, error) { return s.items, s.err }

type staticPromotions struct {
	items []Promotion
	err   error
}

func (s staticPromotions) ActivePromotions(context.Context, time.Time) ([]Promotion, error) {
	return s.items, s.err
}

type staticProfiles struct {
	profile Profile
	ok      bool
	err     error
}

func (s staticProfiles) Profile(context.Context, string) (Profile, bool, error) {
	return s.profile, s.ok, s.err
}

func newTestAssembler(sources Sources) *Assembler {
	return NewAssembler(slog.New(slog.NewTextHandler(io.Discard, nil)), sources, AssemblerOptions{
		BotName:        "Helper",
		HistoryLimit:   20,
		MaxCorrections: 3,
		Clock:          clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	})
}

func TestAssembleIncludesEveryBlock(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &staticHistory{turns: []Turn{
		{Role: RoleUser, Content: "earlier question", CreatedAt: base},
		{Role: RoleAssistant, Content: "earlier answer", CreatedAt: base.Add(time.Minute)},
	}}
	a := newTestAssembler(Sources{
		Knowledge:   staticKnowledge{text: "Withdrawals take 24 hours."},
		History:     history,
		Corrections: staticCorrections{items: []Correction{{Question: "withdrawal pending long", Answer: "Hi <@99>, pending withdrawals clear in 24h."}}},
		Promotions:  staticPromotions{items: []Promotion{{Code: "SPRING10", Description: "10% off fees"}}},
		Profiles:    staticProfiles{ok: true, profile: Profile{MessageCount: 12, FirstSeen: base.Add(-48 * time.Hour)}},
	})

	prompt := a.Assemble(context.Background(), Request{UserID: "u1", Text: "my withdrawal is pending"})
	require.Empty(t, prompt.Degraded)
	require.Len(t, prompt.Messages, 4)

	system := prompt.Messages[0]
	assert.Equal(t, RoleSystem, system.Role)
	assert.Contains(t, system.Content, "Withdrawals take 24 hours.")
	assert.Contains(t, system.Content, "Pending withdrawals clear in 24h.")
	assert.NotContains(t, system.Content, "<@99>")
	assert.Contains(t, system.Content, "SPRING10: 10% off fees")
	assert.Contains(t, system.Content, "messages sent: 12")
	assert.Contains(t, system.Content, "first seen: this week")

	assert.Equal(t, "earlier question", prompt.Messages[1].Content)
	assert.Equal(t, "earlier answer", prompt.Messages[2].Content)
	assert.Equal(t, ModelMessage{Role: RoleUser, Content: "my withdrawal is pending"}, prompt.Messages[3])
	assert.Equal(t, 20, history.limit)
}

func TestAssembleDegradesEachFailingBlock(t *testing.T) {
	boom := errors.New("db down")
	a := newTestAssembler(Sources{
		Knowledge:   staticKnowledge{err: boom},
		History:     &staticHistory{err: boom},
		Corrections: staticCorrections{err: boom},
		Promotions:  staticPromotions{err: boom},
		Profiles:    staticProfiles{err: boom},
	})

	prompt := a.Assemble(context.Background(), Request{UserID: "u1", Text: "help"})
	assert.ElementsMatch(t, []string{BlockKnowledge, BlockHistory, BlockCorrections, BlockPromotions, BlockProfile}, prompt.Degraded)
	require.Len(t, prompt.Messages, 2)
	assert.Contains(t, prompt.Messages[0].Content, noKnowledge)
	assert.Contains(t, prompt.Messages[0].Content, noPromotions)
	assert.Equal(t, "help", prompt.Messages[1].Content)
}

func TestAssembleWithoutSources(t *testing.T) {
	prompt := newTestAssembler(Sources{}).Assemble(context.Background(), Request{Text: "hello?"})
	require.Len(t, prompt.Messages, 2)
	assert.Empty(t, prompt.Degraded)
	assert.NotContains(t, prompt.Messages[0].Content, "User Context")
}

func TestHistoryMessagesKeepsNewestInOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var turns []Turn
	for i := 24; i >= 0; i-- {
		turns = append(turns, Turn{Role: RoleUser, Content: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	turns = append(turns, Turn{Role: "tool", Content: "ignored", CreatedAt: base})

	got := historyMessages(turns, 20)
	require.Len(t, got, 20)
	assert.Equal(t, "f", got[0].Content)
	assert.Equal(t, "y", got[19].Content)
}

func TestSelectCorrectionsByOverlap(t *testing.T) {
	all := []Correction{
		{Question: "how to stake tokens", Answer: "Use the staking tab."},
		{Question: "withdrawal stuck pending", Answer: "Hey there! Pending withdrawals clear in 24h."},
		{Question: "withdrawal fees", Answer: "Fees are 0.1%."},
		{Question: "pending withdrawal stuck for days", Answer: "Contact support with your tx id."},
		{Question: "unrelated", Answer: "nothing"},
	}
	got := SelectCorrections(all, "My withdrawal is stuck pending", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "Pending withdrawals clear in 24h.", got[0].Answer)
	assert.Equal(t, "Contact support with your tx id.", got[1].Answer)

	assert.Empty(t, SelectCorrections(all, "gm", 3))
	assert.Empty(t, SelectCorrections(all, "withdrawal", 0))
}

func TestSanitizeCorrection(t *testing.T) {
	cases := map[string]string{
		"Hi <@123>, you can reset it in settings.": "You can reset it in settings.",
		"Hey John! Withdrawals take a day.":         "Withdrawals take a day.",
		"<@!55> Good morning, try again later.":     "Try again later.",
		"Hello world is printed by the demo":        "Hello world is printed by the demo",
		"Fees are listed in <@&77> docs":            "Fees are listed in  docs",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeCorrection(in), "input %q", in)
	}
}

func TestKeywordsDropStopWordsAndMentions(t *testing.T) {
	kw := Keywords("<@123> How do I withdraw my tokens?")
	_, hasWithdraw := kw["withdraw"]
	_, hasTokens := kw["tokens"]
	_, hasHow := kw["how"]
	_, hasMention := kw["123"]
	assert.True(t, hasWithdraw)
	assert.True(t, hasTokens)
	assert.False(t, hasHow)
	assert.False(t, hasMention)
}

func TestSystemPromptNeverNamesUser(t *testing.T) {
	prompt := SystemPrompt(PromptParams{BotName: "Helper", Date: time.Now(), Profile: &Profile{MessageCount: 1}})
	assert.Contains(t, prompt, "never reveal or reference")
	assert.True(t, strings.HasPrefix(prompt, "---\n"))
}

func TestRecency(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "today", Recency(now, now.Add(-time.Hour)))
	assert.Equal(t, "this month", Recency(now, now.Add(-10*24*time.Hour)))
	assert.Equal(t, "over a year ago", Recency(now, now.AddDate(-2, 0, 0)))
}
