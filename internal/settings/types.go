package settings

import "time"

const (
	DefaultDelaySeconds = 120
	DefaultCacheTTL     = 30 * time.Second
)

// BotSettings are the operator-controlled runtime switches for one bot.
type BotSettings struct {
	Enabled      bool   `json:"enabled"`
	DelaySeconds int    `json:"delay_seconds"`
	DisplayName  string `json:"display_name"`
}

// Delay returns the configured response delay.
func (s BotSettings) Delay() time.Duration {
	if s.DelaySeconds <= 0 {
		return 0
	}
	return time.Duration(s.DelaySeconds) * time.Second
}

// UpsertRequest changes selected fields. Nil fields keep their value.
type UpsertRequest struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	DelaySeconds *int    `json:"delay_seconds,omitempty"`
	DisplayName  *string `json:"display_name,omitempty"`
}
