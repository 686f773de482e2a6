package conversation

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	mentionPattern  = regexp.MustCompile(`<@[!&]?\d+>`)
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hey|hello|yo|gm|good (morning|afternoon|evening)|greetings|dear)(\s+[\w'-]+)?\s*[,.!:]+\s*`)
)

// SanitizeCorrection removes mention tokens and a leading greeting so a
// stored answer never addresses the user it was first written for.
func SanitizeCorrection(text string) string {
	text = mentionPattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	for i := 0; i < 2; i++ {
		stripped := greetingPattern.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = strings.TrimSpace(stripped)
	}
	return capitalizeFirst(text)
}

func capitalizeFirst(text string) string {
	for i, r := range text {
		if unicode.IsLower(r) {
			return text[:i] + string(unicode.ToUpper(r)) + text[i+len(string(r)):]
		}
		return text
	}
	return text
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {},
	"i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "so": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "what": {}, "when": {}, "where": {}, "why": {}, "with": {}, "you": {},
	"your": {}, "we": {}, "our": {}, "there": {}, "have": {}, "has": {}, "not": {},
}

// Keywords returns the distinct meaningful lowercase words in text.
func Keywords(text string) map[string]struct{} {
	text = mentionPattern.ReplaceAllString(text, " ")
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, skip := stopWords[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// overlap counts shared keywords.
func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
