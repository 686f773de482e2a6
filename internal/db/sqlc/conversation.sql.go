package sqlc

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const listRecentTurns = `-- name: ListRecentTurns :many
SELECT id, session_id, user_id, channel_id, role, content, created_at
FROM conversation_turns
WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`

type ListRecentTurnsParams struct {
	SessionID pgtype.UUID `json:"session_id"`
	Limit     int32       `json:"limit"`
}

// ListRecentTurns returns the newest turns first.
func (q *Queries) ListRecentTurns(ctx context.Context, arg ListRecentTurnsParams) ([]ConversationTurn, error) {
	rows, err := q.db.Query(ctx, listRecentTurns, arg.SessionID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConversationTurn
	for rows.Next() {
		var i ConversationTurn
		if err := rows.Scan(
			&i.ID,
			&i.SessionID,
			&i.UserID,
			&i.ChannelID,
			&i.Role,
			&i.Content,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertConversationTurn = `-- name: InsertConversationTurn :exec
INSERT INTO conversation_turns (session_id, user_id, channel_id, role, content)
VALUES ($1, $2, $3, $4, $5)
`

type InsertConversationTurnParams struct {
	SessionID pgtype.UUID `json:"session_id"`
	UserID    string      `json:"user_id"`
	ChannelID string      `json:"channel_id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
}

func (q *Queries) InsertConversationTurn(ctx context.Context, arg InsertConversationTurnParams) error {
	_, err := q.db.Exec(ctx, insertConversationTurn,
		arg.SessionID,
		arg.UserID,
		arg.ChannelID,
		arg.Role,
		arg.Content,
	)
	return err
}

const getUserProfile = `-- name: GetUserProfile :one
SELECT user_id, username, message_count, first_seen_at, last_seen_at
FROM user_profiles
WHERE user_id = $1
`

func (q *Queries) GetUserProfile(ctx context.Context, userID string) (UserProfile, error) {
	row := q.db.QueryRow(ctx, getUserProfile, userID)
	var i UserProfile
	err := row.Scan(
		&i.UserID,
		&i.Username,
		&i.MessageCount,
		&i.FirstSeenAt,
		&i.LastSeenAt,
	)
	return i, err
}

const touchUserProfile = `-- name: TouchUserProfile :one
INSERT INTO user_profiles (user_id, username, message_count, first_seen_at, last_seen_at)
VALUES ($1, $2, 1, now(), now())
ON CONFLICT (user_id) DO UPDATE
SET username = EXCLUDED.username,
    message_count = user_profiles.message_count + 1,
    last_seen_at = now()
RETURNING user_id, username, message_count, first_seen_at, last_seen_at
`

type TouchUserProfileParams struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (q *Queries) TouchUserProfile(ctx context.Context, arg TouchUserProfileParams) (UserProfile, error) {
	row := q.db.QueryRow(ctx, touchUserProfile, arg.UserID, arg.Username)
	var i UserProfile
	err := row.Scan(
		&i.UserID,
		&i.Username,
		&i.MessageCount,
		&i.FirstSeenAt,
		&i.LastSeenAt,
	)
	return i, err
}
