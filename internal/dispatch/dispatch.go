// Package dispatch decides what the bot does with an inbound message.
package dispatch

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/memohai/supportbot/internal/channel"
	"github.com/memohai/supportbot/internal/identity"
	"github.com/memohai/supportbot/internal/settings"
)

// Outcome is the action chosen for a message.
type Outcome int

const (
	Ignore Outcome = iota
	RespondNow
	ScheduleDelayed
)

func (o Outcome) String() string {
	switch o {
	case Ignore:
		return "ignore"
	case RespondNow:
		return "respond_now"
	case ScheduleDelayed:
		return "schedule_delayed"
	default:
		return "unknown"
	}
}

// Reasons reported with a Decision.
const (
	ReasonBotAuthor       = "bot_author"
	ReasonNotMentioned    = "not_mentioned"
	ReasonMentioned       = "mentioned"
	ReasonEmpty           = "empty"
	ReasonPrivilegedQuiet = "privileged_not_mentioned"
	ReasonPrivilegedAsk   = "privileged_mentioned"
	ReasonDisabled        = "disabled"
	ReasonNoMatch         = "no_match"
	ReasonRandomSkip      = "random_skip"
	ReasonMatched         = "matched"
)

// Decision is the outcome plus the diagnostics that led to it.
type Decision struct {
	Outcome  Outcome
	Reason   string
	Category Category
	Delay    time.Duration
}

// Policy is a bot variant's decision function.
type Policy interface {
	Decide(msg channel.InboundMessage, res identity.Resolution, cfg settings.BotSettings) Decision
}

// Sampler returns a float in [0, 1).
type Sampler interface {
	Float64() float64
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() float64

func (f SamplerFunc) Float64() float64 { return f() }

type defaultSampler struct{}

func (defaultSampler) Float64() float64 { return rand.Float64() }

// MentionOnlyPolicy answers exactly when a human mentions the bot.
type MentionOnlyPolicy struct{}

func (MentionOnlyPolicy) Decide(msg channel.InboundMessage, res identity.Resolution, _ settings.BotSettings) Decision {
	if res.IsBot {
		return Decision{Outcome: Ignore, Reason: ReasonBotAuthor}
	}
	if !res.Mentioned {
		return Decision{Outcome: Ignore, Reason: ReasonNotMentioned}
	}
	return Decision{Outcome: RespondNow, Reason: ReasonMentioned}
}

// AutoReplyPolicy answers likely questions after a delay, unless the author
// is privileged and did not ask the bot directly.
type AutoReplyPolicy struct {
	Rules           []Rule
	Priority        []string
	SkipProbability float64
	Sampler         Sampler
}

// NewAutoReplyPolicy returns a policy with the default rule table.
func NewAutoReplyPolicy(skipProbability float64, sampler Sampler) *AutoReplyPolicy {
	if sampler == nil {
		sampler = defaultSampler{}
	}
	return &AutoReplyPolicy{
		Rules:           DefaultRules,
		Priority:        PriorityKeywords,
		SkipProbability: skipProbability,
		Sampler:         sampler,
	}
}

func (p *AutoReplyPolicy) Decide(msg channel.InboundMessage, res identity.Resolution, cfg settings.BotSettings) Decision {
	if res.IsBot {
		return Decision{Outcome: Ignore, Reason: ReasonBotAuthor}
	}
	if res.Privileged {
		if !res.Mentioned {
			return Decision{Outcome: Ignore, Reason: ReasonPrivilegedQuiet}
		}
		return Decision{Outcome: RespondNow, Reason: ReasonPrivilegedAsk}
	}
	if !cfg.Enabled {
		return Decision{Outcome: Ignore, Reason: ReasonDisabled}
	}
	text := msg.Text()
	if strings.TrimSpace(text) == "" {
		return Decision{Outcome: Ignore, Reason: ReasonEmpty}
	}
	category := Classify(p.rules(), text)
	if category == CategoryNone {
		return Decision{Outcome: Ignore, Reason: ReasonNoMatch}
	}
	if p.ShouldSkip(text) {
		return Decision{Outcome: Ignore, Reason: ReasonRandomSkip, Category: category}
	}
	return Decision{
		Outcome:  ScheduleDelayed,
		Reason:   ReasonMatched,
		Category: category,
		Delay:    cfg.Delay(),
	}
}

// ShouldSkip applies the random suppression. Messages with a '?' or a
// priority keyword are never skipped.
func (p *AutoReplyPolicy) ShouldSkip(text string) bool {
	if HasPriority(p.priority(), text) {
		return false
	}
	if p.SkipProbability <= 0 {
		return false
	}
	sampler := p.Sampler
	if sampler == nil {
		sampler = defaultSampler{}
	}
	return sampler.Float64() < p.SkipProbability
}

func (p *AutoReplyPolicy) rules() []Rule {
	if len(p.Rules) == 0 {
		return DefaultRules
	}
	return p.Rules
}

func (p *AutoReplyPolicy) priority() []string {
	if len(p.Priority) == 0 {
		return PriorityKeywords
	}
	return p.Priority
}
