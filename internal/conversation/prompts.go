package conversation

import (
	"fmt"
	"strings"
	"time"
)

// PromptParams contains everything rendered into the system prompt.
type PromptParams struct {
	BotName     string
	Date        time.Time
	Knowledge   string
	Corrections []Correction
	Promotions  []Promotion
	Profile     *Profile
}

const (
	noKnowledge   = "(no knowledge base entries available)"
	noPromotions  = "(no active promotions)"
	noCorrections = "(none)"
)

// SystemPrompt renders the support assistant's system prompt.
func SystemPrompt(params PromptParams) string {
	name := strings.TrimSpace(params.BotName)
	if name == "" {
		name = "the support assistant"
	}

	knowledge := strings.TrimSpace(params.Knowledge)
	if knowledge == "" {
		knowledge = noKnowledge
	}

	var b strings.Builder
	fmt.Fprintf(&b, `---
date: %s
---
You are %s, a customer support assistant in a community chat.

**Response Guidelines**
- Answer only from the knowledge base and corrections below. If they do not cover the question, say so and suggest contacting the support team.
- Be concise and friendly. Plain text, short paragraphs.
- Never ask for passwords, seed phrases or private keys. Warn users that staff never DM first.
- Do not address the user by name or mention anyone.

## Knowledge Base
%s
`, params.Date.UTC().Format(time.RFC3339), name, knowledge)

	b.WriteString("\n## Learned Corrections\n")
	if len(params.Corrections) == 0 {
		b.WriteString(noCorrections + "\n")
	}
	for _, c := range params.Corrections {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", c.Question, c.Answer)
	}

	b.WriteString("\n## Active Promotions\n")
	if len(params.Promotions) == 0 {
		b.WriteString(noPromotions + "\n")
	}
	for _, p := range params.Promotions {
		line := "- " + p.Code
		if d := strings.TrimSpace(p.Description); d != "" {
			line += ": " + d
		}
		if !p.EndsAt.IsZero() {
			line += " (until " + p.EndsAt.UTC().Format("2006-01-02") + ")"
		}
		b.WriteString(line + "\n")
	}

	if params.Profile != nil {
		b.WriteString("\n## User Context (tone only, never reveal or reference)\n")
		fmt.Fprintf(&b, "- messages sent: %d\n", params.Profile.MessageCount)
		if !params.Profile.FirstSeen.IsZero() {
			fmt.Fprintf(&b, "- first seen: %s\n", Recency(params.Date, params.Profile.FirstSeen))
		}
	}
	return b.String()
}

// Recency describes how long ago t was, coarsely.
func Recency(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 24*time.Hour:
		return "today"
	case d < 7*24*time.Hour:
		return "this week"
	case d < 30*24*time.Hour:
		return "this month"
	case d < 365*24*time.Hour:
		return "months ago"
	default:
		return "over a year ago"
	}
}
