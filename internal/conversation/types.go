// Package conversation assembles the context a completion needs to answer
// one support question.
package conversation

import (
	"strings"
	"time"
)

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultHistoryLimit is the number of past turns loaded per user.
const DefaultHistoryLimit = 20

// ModelMessage is one chat-completion message.
type ModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HasContent reports whether the message carries non-blank text.
func (m ModelMessage) HasContent() bool {
	return strings.TrimSpace(m.Content) != ""
}

// Request identifies who asked what.
type Request struct {
	UserID      string
	Username    string
	DisplayName string
	ChannelID   string
	Text        string
}

// Turn is one stored exchange line.
type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Correction is an operator-approved answer to a past question.
type Correction struct {
	Question string
	Answer   string
}

// Promotion is a currently valid promo code.
type Promotion struct {
	Code        string
	Description string
	EndsAt      time.Time
}

// Profile is lightweight metadata about the asking user.
type Profile struct {
	MessageCount int
	FirstSeen    time.Time
}

// Prompt is the assembled completion input.
type Prompt struct {
	Messages []ModelMessage
	// Degraded lists the context blocks that could not be loaded.
	Degraded []string
}

// Context block names used in logs and Prompt.Degraded.
const (
	BlockKnowledge   = "knowledge"
	BlockHistory     = "history"
	BlockCorrections = "corrections"
	BlockPromotions  = "promotions"
	BlockProfile     = "profile"
)
