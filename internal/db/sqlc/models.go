package sqlc

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type BotSetting struct {
	BotName      string             `json:"bot_name"`
	Enabled      bool               `json:"enabled"`
	DelaySeconds int32              `json:"delay_seconds"`
	DisplayName  string             `json:"display_name"`
	UpdatedAt    pgtype.Timestamptz `json:"updated_at"`
}

type ConversationTurn struct {
	ID        int64              `json:"id"`
	SessionID pgtype.UUID        `json:"session_id"`
	UserID    string             `json:"user_id"`
	ChannelID string             `json:"channel_id"`
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

type KnowledgeEntry struct {
	ID        pgtype.UUID        `json:"id"`
	Title     string             `json:"title"`
	Content   string             `json:"content"`
	Position  int32              `json:"position"`
	Active    bool               `json:"active"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type Promotion struct {
	ID          pgtype.UUID        `json:"id"`
	Code        string             `json:"code"`
	Description string             `json:"description"`
	StartsAt    pgtype.Timestamptz `json:"starts_at"`
	EndsAt      pgtype.Timestamptz `json:"ends_at"`
	Active      bool               `json:"active"`
}

type TrainingCorrection struct {
	ID              pgtype.UUID        `json:"id"`
	Question        string             `json:"question"`
	CorrectedAnswer string             `json:"corrected_answer"`
	CreatedAt       pgtype.Timestamptz `json:"created_at"`
}

type UserProfile struct {
	UserID       string             `json:"user_id"`
	Username     string             `json:"username"`
	MessageCount int32              `json:"message_count"`
	FirstSeenAt  pgtype.Timestamptz `json:"first_seen_at"`
	LastSeenAt   pgtype.Timestamptz `json:"last_seen_at"`
}
