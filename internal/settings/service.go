package settings

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/memohai/supportbot/internal/db/sqlc"
)

// Store is the datastore view the service needs.
type Store interface {
	GetBotSettings(ctx context.Context, botName string) (sqlc.BotSetting, error)
	UpsertBotSettings(ctx context.Context, arg sqlc.UpsertBotSettingsParams) (sqlc.BotSetting, error)
}

// SharedCache is an optional cache shared between processes.
type SharedCache interface {
	Get(ctx context.Context, botName string) (BotSettings, bool, error)
	Set(ctx context.Context, botName string, value BotSettings, ttl time.Duration) error
	Delete(ctx context.Context, botName string) error
}

// Options configure a Service.
type Options struct {
	BotName  string
	TTL      time.Duration
	Defaults BotSettings
	Shared   SharedCache
	Clock    clockwork.Clock
}

// Service reads bot settings through a TTL cache. When the store fails it
// serves the last good value, and with no value at all it reports the bot
// as disabled.
type Service struct {
	store    Store
	shared   SharedCache
	logger   *slog.Logger
	clock    clockwork.Clock
	botName  string
	ttl      time.Duration
	defaults BotSettings

	mu        sync.Mutex
	cached    BotSettings
	fetchedAt time.Time
	hasValue  bool
}

func NewService(log *slog.Logger, store Store, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Defaults.DelaySeconds <= 0 {
		opts.Defaults.DelaySeconds = DefaultDelaySeconds
	}
	return &Service{
		store:    store,
		shared:   opts.Shared,
		logger:   log.With(slog.String("service", "settings")),
		clock:    opts.Clock,
		botName:  strings.TrimSpace(opts.BotName),
		ttl:      opts.TTL,
		defaults: opts.Defaults,
	}
}

// Get returns the current settings. It never fails.
func (s *Service) Get(ctx context.Context) BotSettings {
	s.mu.Lock()
	if s.hasValue && s.clock.Since(s.fetchedAt) < s.ttl {
		value := s.cached
		s.mu.Unlock()
		return value
	}
	s.mu.Unlock()

	value, err := s.load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.hasValue {
			s.logger.Warn("settings load failed, serving stale value", slog.Any("error", err))
			return s.cached
		}
		s.logger.Error("settings load failed, treating bot as disabled", slog.Any("error", err))
		disabled := s.defaults
		disabled.Enabled = false
		return disabled
	}
	s.cached = value
	s.fetchedAt = s.clock.Now()
	s.hasValue = true
	return value
}

func (s *Service) load(ctx context.Context) (BotSettings, error) {
	if s.shared != nil {
		value, ok, err := s.shared.Get(ctx, s.botName)
		if err != nil {
			s.logger.Warn("shared settings cache read failed", slog.Any("error", err))
		} else if ok {
			return value, nil
		}
	}
	if s.store == nil {
		return s.defaults, nil
	}
	row, err := s.store.GetBotSettings(ctx, s.botName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.defaults, nil
		}
		return BotSettings{}, err
	}
	value := fromRow(row, s.defaults)
	if s.shared != nil {
		if err := s.shared.Set(ctx, s.botName, value, s.ttl); err != nil {
			s.logger.Warn("shared settings cache write failed", slog.Any("error", err))
		}
	}
	return value, nil
}

// Upsert writes new settings and drops every cached copy.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (BotSettings, error) {
	if s.store == nil {
		return BotSettings{}, errors.New("settings store not configured")
	}
	current := s.defaults
	row, err := s.store.GetBotSettings(ctx, s.botName)
	switch {
	case err == nil:
		current = fromRow(row, s.defaults)
	case !errors.Is(err, pgx.ErrNoRows):
		return BotSettings{}, err
	}
	if req.Enabled != nil {
		current.Enabled = *req.Enabled
	}
	if req.DelaySeconds != nil && *req.DelaySeconds >= 0 {
		current.DelaySeconds = *req.DelaySeconds
	}
	if req.DisplayName != nil {
		current.DisplayName = strings.TrimSpace(*req.DisplayName)
	}
	updated, err := s.store.UpsertBotSettings(ctx, sqlc.UpsertBotSettingsParams{
		BotName:      s.botName,
		Enabled:      current.Enabled,
		DelaySeconds: int32(current.DelaySeconds),
		DisplayName:  current.DisplayName,
	})
	if err != nil {
		return BotSettings{}, err
	}
	s.Invalidate(ctx)
	return fromRow(updated, s.defaults), nil
}

// Invalidate forgets the cached value.
func (s *Service) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.hasValue = false
	s.mu.Unlock()
	if s.shared != nil {
		if err := s.shared.Delete(ctx, s.botName); err != nil {
			s.logger.Warn("shared settings cache delete failed", slog.Any("error", err))
		}
	}
}

func fromRow(row sqlc.BotSetting, defaults BotSettings) BotSettings {
	value := BotSettings{
		Enabled:      row.Enabled,
		DelaySeconds: int(row.DelaySeconds),
		DisplayName:  strings.TrimSpace(row.DisplayName),
	}
	if value.DelaySeconds < 0 {
		value.DelaySeconds = defaults.DelaySeconds
	}
	if value.DisplayName == "" {
		value.DisplayName = defaults.DisplayName
	}
	return value
}
