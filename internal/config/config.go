package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultGatewayURL      = "wss://gateway.discord.gg"
	DefaultLLMBaseURL      = "https://api.openai.com/v1"
	DefaultLLMModel        = "gpt-4o-mini"
	DefaultFallbackMessage = "I'm having technical difficulties right now. Please try again in a moment."
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "supportbot"
	DefaultPGSSLMode       = "disable"
)

// Bot variants.
const (
	VariantMention   = "mention"
	VariantAutoReply = "autoreply"
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	Discord     DiscordConfig     `toml:"discord"`
	Bot         BotConfig         `toml:"bot"`
	Gateway     GatewayConfig     `toml:"gateway"`
	LLM         LLMConfig         `toml:"llm"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	Settings    SettingsConfig    `toml:"settings"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DiscordConfig struct {
	Token            string   `toml:"token" validate:"required"`
	GatewayURL       string   `toml:"gateway_url"`
	DiscoverGateway  bool     `toml:"discover_gateway"`
	ModeratorRoleIDs []string `toml:"moderator_role_ids"`
	ModeratorNames   []string `toml:"moderator_names"`
	FetchMemberRoles bool     `toml:"fetch_member_roles"`
}

type BotConfig struct {
	Name                string  `toml:"name" validate:"required"`
	Variant             string  `toml:"variant" validate:"oneof=mention autoreply"`
	FallbackMessage     string  `toml:"fallback_message"`
	SkipProbability     float64 `toml:"skip_probability" validate:"min=0,max=1"`
	DefaultDelaySeconds int     `toml:"default_delay_seconds" validate:"min=0"`
	HistoryLimit        int     `toml:"history_limit" validate:"min=1"`
	MaxCorrections      int     `toml:"max_corrections" validate:"min=0"`
	ChunkLimit          int     `toml:"chunk_limit" validate:"min=100,max=2000"`
	ChunkDelayMs        int     `toml:"chunk_delay_ms" validate:"min=0"`
	RecheckBeforeSend   bool    `toml:"recheck_before_send"`
	SlashCommand        string  `toml:"slash_command"`
}

type GatewayConfig struct {
	ReconnectDelayMs      int `toml:"reconnect_delay_ms" validate:"min=0"`
	FixedRetryDelayMs     int `toml:"fixed_retry_delay_ms" validate:"min=0"`
	BackoffBaseMs         int `toml:"backoff_base_ms" validate:"min=1"`
	BackoffMaxMs          int `toml:"backoff_max_ms" validate:"min=1"`
	BackoffJitterMs       int `toml:"backoff_jitter_ms" validate:"min=0"`
	InvalidSessionMinMs   int `toml:"invalid_session_min_ms" validate:"min=0"`
	InvalidSessionMaxMs   int `toml:"invalid_session_max_ms" validate:"gtefield=InvalidSessionMinMs"`
	HandshakeTimeoutSecs  int `toml:"handshake_timeout_seconds" validate:"min=1"`
	HandlerTimeoutSeconds int `toml:"handler_timeout_seconds" validate:"min=1"`
}

type LLMConfig struct {
	BaseURL        string  `toml:"base_url" validate:"required,url"`
	APIKey         string  `toml:"api_key" validate:"required"`
	Model          string  `toml:"model" validate:"required"`
	Stream         bool    `toml:"stream"`
	Temperature    float64 `toml:"temperature" validate:"min=0,max=2"`
	MaxTokens      int     `toml:"max_tokens" validate:"min=0"`
	TimeoutSeconds int     `toml:"timeout_seconds" validate:"min=1"`
}

type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// URL returns the connection string, preferring an explicit DSN.
func (c PostgresConfig) URL() string {
	if strings.TrimSpace(c.DSN) != "" {
		return strings.TrimSpace(c.DSN)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
}

// Enabled reports whether a shared settings cache is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type SettingsConfig struct {
	CacheTTLSeconds int `toml:"cache_ttl_seconds" validate:"min=1"`
}

type MaintenanceConfig struct {
	KnowledgeRefreshSpec string `toml:"knowledge_refresh_spec"`
	DedupSweepSpec       string `toml:"dedup_sweep_spec"`
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Discord: DiscordConfig{
			GatewayURL:       DefaultGatewayURL,
			DiscoverGateway:  true,
			FetchMemberRoles: true,
		},
		Bot: BotConfig{
			Name:                "support",
			Variant:             VariantMention,
			FallbackMessage:     DefaultFallbackMessage,
			SkipProbability:     0.15,
			DefaultDelaySeconds: 120,
			HistoryLimit:        20,
			MaxCorrections:      3,
			ChunkLimit:          2000,
			ChunkDelayMs:        500,
			SlashCommand:        "ask",
		},
		Gateway: GatewayConfig{
			ReconnectDelayMs:      1000,
			FixedRetryDelayMs:     5000,
			BackoffBaseMs:         1000,
			BackoffMaxMs:          30000,
			BackoffJitterMs:       1000,
			InvalidSessionMinMs:   1000,
			InvalidSessionMaxMs:   5000,
			HandshakeTimeoutSecs:  15,
			HandlerTimeoutSeconds: 120,
		},
		LLM: LLMConfig{
			BaseURL:        DefaultLLMBaseURL,
			Model:          DefaultLLMModel,
			Temperature:    0.4,
			TimeoutSeconds: 60,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			KeyPrefix: "supportbot",
		},
		Settings: SettingsConfig{
			CacheTTLSeconds: 30,
		},
		Maintenance: MaintenanceConfig{
			KnowledgeRefreshSpec: "@every 5m",
			DedupSweepSpec:       "@every 1m",
		},
	}
}

// Load reads the TOML file at path over the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv("DISCORD_BOT_TOKEN")); v != "" {
		cfg.Discord.Token = v
	}
	if v := strings.TrimSpace(getenv("LLM_API_KEY")); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := strings.TrimSpace(getenv("LLM_BASE_URL")); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(getenv("DATABASE_URL")); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := strings.TrimSpace(getenv("REDIS_URL")); v != "" {
		cfg.Redis.URL = v
	}
	if v := strings.TrimSpace(getenv("HTTP_ADDR")); v != "" {
		cfg.Server.Addr = v
	} else if port := strings.TrimSpace(getenv("PORT")); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if v := strings.TrimSpace(getenv("BOT_VARIANT")); v != "" {
		cfg.Bot.Variant = v
	}
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
