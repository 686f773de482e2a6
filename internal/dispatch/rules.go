package dispatch

import (
	"regexp"
	"strings"
)

// Category names the rule family that matched a message.
type Category string

const (
	CategoryNone            Category = ""
	CategoryQuestionMark    Category = "question_mark"
	CategoryQuestionStarter Category = "question_starter"
	CategoryScamTrust       Category = "scam_trust"
	CategoryAccountProblem  Category = "account_problem"
	CategoryFrustration     Category = "frustration"
	CategorySupportRequest  Category = "support_request"
	CategoryConfusion       Category = "confusion"
)

// Rule is one keyword family. A message matches when its lowercased text
// starts with any prefix or contains any phrase.
type Rule struct {
	Category Category
	Prefixes []string
	Contains []string
}

// Match reports whether text (already lowercased and trimmed) hits the rule.
func (r Rule) Match(text string) bool {
	for _, p := range r.Prefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	for _, c := range r.Contains {
		if strings.Contains(text, c) {
			return true
		}
	}
	return false
}

// DefaultRules is ordered: the first matching family is the one reported.
var DefaultRules = []Rule{
	{
		Category: CategoryQuestionMark,
		Contains: []string{"?"},
	},
	{
		Category: CategoryQuestionStarter,
		Prefixes: []string{
			"how ", "what ", "when ", "where ", "why ", "who ", "which ",
			"can ", "could ", "would ", "should ", "will ",
			"is ", "are ", "am i ", "do ", "does ", "did ",
			"has ", "have ", "anyone ", "anybody ", "any idea",
			"is there ", "is it ",
		},
	},
	{
		Category: CategoryScamTrust,
		Contains: []string{
			"scam", "fraud", "legit", "fake", "phishing", "hacked", "stolen",
			"breach", "suspicious", "trust", "safe to", "rug pull",
		},
	},
	{
		Category: CategoryAccountProblem,
		Contains: []string{
			"account", "login", "log in", "sign in", "signin", "password",
			"locked out", "banned", "verify", "verification", "2fa",
			"refund", "charged", "payment", "withdraw", "deposit",
		},
	},
	{
		Category: CategoryFrustration,
		Contains: []string{
			"frustrated", "frustrating", "angry", "upset", "annoyed",
			"ridiculous", "terrible", "worst", "unacceptable", "waiting for",
			"still waiting", "no one", "nobody", "doesn't work", "doesnt work",
			"not working", "broken",
		},
	},
	{
		Category: CategorySupportRequest,
		Contains: []string{
			"help", "support", "assist", "problem", "issue", "error",
			"bug", "urgent", "ticket", "please fix", "need to",
		},
	},
	{
		Category: CategoryConfusion,
		Contains: []string{
			"confused", "confusing", "don't understand", "dont understand",
			"not sure", "unsure", "no idea", "can't figure", "cant figure",
			"looking for", "wondering", "explain", "info on", "information",
		},
	},
}

// PriorityKeywords are never suppressed by the random skip.
var PriorityKeywords = []string{
	"scam", "fraud", "breach", "hacked", "stolen", "phishing",
	"refund", "charged", "problem", "issue", "error", "help", "support",
	"urgent", "frustrated", "angry", "upset", "locked out", "banned",
}

// Classify returns the first rule family matching text, or CategoryNone.
func Classify(rules []Rule, text string) Category {
	normalized := normalize(text)
	if normalized == "" {
		return CategoryNone
	}
	for _, r := range rules {
		if r.Match(normalized) {
			return r.Category
		}
	}
	return CategoryNone
}

// HasPriority reports whether text carries a '?' or a priority keyword.
func HasPriority(keywords []string, text string) bool {
	normalized := normalize(text)
	if strings.Contains(normalized, "?") {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(normalized, k) {
			return true
		}
	}
	return false
}

var mentionToken = regexp.MustCompile(`<@[!&]?\d+>`)

// normalize drops user and role mention tokens so a leading mention does not
// hide a question starter.
func normalize(text string) string {
	text = mentionToken.ReplaceAllString(text, " ")
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
