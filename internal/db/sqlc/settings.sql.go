package sqlc

import (
	"context"
)

const getBotSettings = `-- name: GetBotSettings :one
SELECT bot_name, enabled, delay_seconds, display_name, updated_at
FROM bot_settings
WHERE bot_name = $1
`

func (q *Queries) GetBotSettings(ctx context.Context, botName string) (BotSetting, error) {
	row := q.db.QueryRow(ctx, getBotSettings, botName)
	var i BotSetting
	err := row.Scan(
		&i.BotName,
		&i.Enabled,
		&i.DelaySeconds,
		&i.DisplayName,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertBotSettings = `-- name: UpsertBotSettings :one
INSERT INTO bot_settings (bot_name, enabled, delay_seconds, display_name, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (bot_name) DO UPDATE
SET enabled = EXCLUDED.enabled,
    delay_seconds = EXCLUDED.delay_seconds,
    display_name = EXCLUDED.display_name,
    updated_at = now()
RETURNING bot_name, enabled, delay_seconds, display_name, updated_at
`

type UpsertBotSettingsParams struct {
	BotName      string `json:"bot_name"`
	Enabled      bool   `json:"enabled"`
	DelaySeconds int32  `json:"delay_seconds"`
	DisplayName  string `json:"display_name"`
}

func (q *Queries) UpsertBotSettings(ctx context.Context, arg UpsertBotSettingsParams) (BotSetting, error) {
	row := q.db.QueryRow(ctx, upsertBotSettings,
		arg.BotName,
		arg.Enabled,
		arg.DelaySeconds,
		arg.DisplayName,
	)
	var i BotSetting
	err := row.Scan(
		&i.BotName,
		&i.Enabled,
		&i.DelaySeconds,
		&i.DisplayName,
		&i.UpdatedAt,
	)
	return i, err
}
