package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/supportbot/internal/bot"
	"github.com/memohai/supportbot/internal/channel"
	"github.com/memohai/supportbot/internal/channel/adapters/discord"
	"github.com/memohai/supportbot/internal/chat"
	"github.com/memohai/supportbot/internal/config"
	"github.com/memohai/supportbot/internal/conversation"
	"github.com/memohai/supportbot/internal/db"
	dbsqlc "github.com/memohai/supportbot/internal/db/sqlc"
	"github.com/memohai/supportbot/internal/delayed"
	"github.com/memohai/supportbot/internal/dispatch"
	"github.com/memohai/supportbot/internal/gateway"
	"github.com/memohai/supportbot/internal/handlers"
	"github.com/memohai/supportbot/internal/healthcheck"
	gatewaychecker "github.com/memohai/supportbot/internal/healthcheck/checkers/gateway"
	storechecker "github.com/memohai/supportbot/internal/healthcheck/checkers/store"
	"github.com/memohai/supportbot/internal/identity"
	"github.com/memohai/supportbot/internal/logger"
	"github.com/memohai/supportbot/internal/schedule"
	"github.com/memohai/supportbot/internal/server"
	"github.com/memohai/supportbot/internal/settings"
	"github.com/memohai/supportbot/internal/version"
)

type serveOptions struct {
	configPath string
	variant    string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the Discord gateway and answer support questions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			opts.configPath = root.configPath
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.variant, "variant", "", "bot variant: mention or autoreply (overrides config)")
	return cmd
}

func runServe(opts serveOptions) error {
	app := fx.New(
		fx.Supply(opts),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideClock,
			provideDBConn,
			provideDBQueries,
			provideRedisCache,
			provideSettingsService,
			provideConversationStore,
			provideAssembler,
			provideChatClient,
			provideDiscordSession,
			provideResolver,
			providePolicy,
			provideSender,
			delayed.NewScheduler,
			provideDeduper,
			provideBot,
			provideGatewaySession,
			provideScheduleService,
			provideHealthChecker,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewHealthHandler),
			provideServer,
		),
		fx.Invoke(
			startMaintenance,
			startGateway,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(opts serveOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if v := strings.TrimSpace(opts.variant); v != "" {
		cfg.Bot.Variant = v
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideClock() clockwork.Clock { return clockwork.NewRealClock() }

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideDBQueries(conn *pgxpool.Pool) *dbsqlc.Queries { return dbsqlc.New(conn) }

// provideRedisCache returns nil when no shared cache is configured or it is
// unreachable; settings then use the in-process cache only.
func provideRedisCache(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *settings.RedisCache {
	if !cfg.Redis.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cache, err := settings.NewRedisCache(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
	if err != nil {
		log.Warn("shared settings cache unavailable", slog.Any("error", err))
		return nil
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return cache.Close() }})
	return cache
}

func settingsOptions(cfg config.Config) settings.Options {
	return settings.Options{
		BotName: cfg.Bot.Name,
		TTL:     time.Duration(cfg.Settings.CacheTTLSeconds) * time.Second,
		Defaults: settings.BotSettings{
			Enabled:      true,
			DelaySeconds: cfg.Bot.DefaultDelaySeconds,
			DisplayName:  cfg.Bot.Name,
		},
	}
}

func provideSettingsService(log *slog.Logger, cfg config.Config, queries *dbsqlc.Queries, cache *settings.RedisCache, clock clockwork.Clock) *settings.Service {
	opts := settingsOptions(cfg)
	opts.Clock = clock
	if cache != nil {
		opts.Shared = cache
	}
	return settings.NewService(log, queries, opts)
}

func provideConversationStore(log *slog.Logger, queries *dbsqlc.Queries) *conversation.Store {
	return conversation.NewStore(log, queries)
}

func provideAssembler(log *slog.Logger, cfg config.Config, store *conversation.Store, clock clockwork.Clock) *conversation.Assembler {
	return conversation.NewAssembler(log, conversation.Sources{
		Knowledge:   store,
		History:     store,
		Corrections: store,
		Promotions:  store,
		Profiles:    store,
	}, conversation.AssemblerOptions{
		BotName:        cfg.Bot.Name,
		HistoryLimit:   cfg.Bot.HistoryLimit,
		MaxCorrections: cfg.Bot.MaxCorrections,
		Clock:          clock,
	})
}

func provideChatClient(log *slog.Logger, cfg config.Config) *chat.Client {
	return chat.NewClient(log, chat.ClientConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Stream:      cfg.LLM.Stream,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
}

func provideDiscordSession(cfg config.Config) (*discordgo.Session, error) {
	return discord.NewSession(cfg.Discord.Token)
}

func provideResolver(log *slog.Logger, cfg config.Config, session *discordgo.Session) *identity.Resolver {
	return identity.NewResolver(log, identity.Config{
		RoleIDs:    cfg.Discord.ModeratorRoleIDs,
		Names:      cfg.Discord.ModeratorNames,
		FetchRoles: cfg.Discord.FetchMemberRoles,
	}, session)
}

func providePolicy(cfg config.Config) dispatch.Policy {
	if cfg.Bot.Variant == config.VariantAutoReply {
		return dispatch.NewAutoReplyPolicy(cfg.Bot.SkipProbability, nil)
	}
	return dispatch.MentionOnlyPolicy{}
}

func provideSender(log *slog.Logger, cfg config.Config, session *discordgo.Session, clock clockwork.Clock) *channel.Sender {
	return channel.NewSender(log, session, channel.OutboundPolicy{
		TextChunkLimit: cfg.Bot.ChunkLimit,
		ChunkDelayMs:   cfg.Bot.ChunkDelayMs,
	}, clock)
}

func provideDeduper(clock clockwork.Clock) *discord.Deduper {
	return discord.NewDeduper(discord.InboundDedupTTL, clock)
}

type botParams struct {
	fx.In
	Logger    *slog.Logger
	Config    config.Config
	Clock     clockwork.Clock
	Session   *discordgo.Session
	Resolver  *identity.Resolver
	Policy    dispatch.Policy
	Settings  *settings.Service
	Scheduler *delayed.Scheduler
	Assembler *conversation.Assembler
	Chat      *chat.Client
	Store     *conversation.Store
	Sender    *channel.Sender
	Dedup     *discord.Deduper
}

func provideBot(p botParams) (*bot.Bot, error) {
	return bot.New(p.Logger, bot.Deps{
		REST:      p.Session,
		Resolver:  p.Resolver,
		Policy:    p.Policy,
		Settings:  p.Settings,
		Scheduler: p.Scheduler,
		Assembler: p.Assembler,
		Completer: p.Chat,
		Recorder:  p.Store,
		Sender:    p.Sender,
		Dedup:     p.Dedup,
	}, bot.Options{
		FallbackMessage:   p.Config.Bot.FallbackMessage,
		SlashCommand:      p.Config.Bot.SlashCommand,
		RecheckBeforeSend: p.Config.Bot.RecheckBeforeSend,
		ResponseTimeout:   time.Duration(p.Config.Gateway.HandlerTimeoutSeconds) * time.Second,
		Clock:             p.Clock,
	})
}

func gatewayOptions(cfg config.Config, clock clockwork.Clock) gateway.Options {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	opts := gateway.Options{
		Token:             cfg.Discord.Token,
		GatewayURL:        cfg.Discord.GatewayURL,
		Intents:           gateway.MentionIntents,
		Backoff:           gateway.FixedBackoff{Wait: ms(cfg.Gateway.FixedRetryDelayMs)},
		ReconnectDelay:    ms(cfg.Gateway.ReconnectDelayMs),
		InvalidSessionMin: ms(cfg.Gateway.InvalidSessionMinMs),
		InvalidSessionMax: ms(cfg.Gateway.InvalidSessionMaxMs),
		HandlerTimeout:    time.Duration(cfg.Gateway.HandlerTimeoutSeconds) * time.Second,
		Dialer:            gateway.WebsocketDialer{HandshakeTimeout: time.Duration(cfg.Gateway.HandshakeTimeoutSecs) * time.Second},
		Clock:             clock,
	}
	if cfg.Bot.Variant == config.VariantAutoReply {
		opts.Intents = gateway.AutoReplyIntents
		opts.Backoff = gateway.ExponentialBackoff{
			Base:   ms(cfg.Gateway.BackoffBaseMs),
			Max:    ms(cfg.Gateway.BackoffMaxMs),
			Jitter: ms(cfg.Gateway.BackoffJitterMs),
		}
		opts.AckWatchdog = true
	}
	return opts
}

func provideGatewaySession(log *slog.Logger, cfg config.Config, clock clockwork.Clock, session *discordgo.Session, b *bot.Bot) (*gateway.Session, error) {
	opts := gatewayOptions(cfg, clock)
	if cfg.Discord.DiscoverGateway {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		opts.GatewayURL = discord.ResolveGatewayURL(ctx, log, session, cfg.Discord.GatewayURL)
	}
	return gateway.NewSession(log, opts, b)
}

func provideScheduleService(log *slog.Logger, cfg config.Config, store *conversation.Store, b *bot.Bot) (*schedule.Service, error) {
	svc := schedule.NewService(log)
	if err := svc.Add(schedule.KnowledgeRefreshJob(cfg.Maintenance.KnowledgeRefreshSpec, store)); err != nil {
		return nil, err
	}
	if err := svc.Add(schedule.DedupSweepJob(log, cfg.Maintenance.DedupSweepSpec, b)); err != nil {
		return nil, err
	}
	return svc, nil
}

func provideHealthChecker(log *slog.Logger, session *gateway.Session, pool *pgxpool.Pool, cache *settings.RedisCache) healthcheck.Checker {
	targets := []storechecker.Target{{Name: "postgres", Pinger: pool}}
	if cache != nil {
		targets = append(targets, storechecker.Target{Name: "redis", Pinger: cache, Optional: true})
	}
	return healthcheck.NewAggregate(
		gatewaychecker.NewChecker(log, session),
		storechecker.NewChecker(log, targets...),
	)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startMaintenance(lc fx.Lifecycle, logger *slog.Logger, svc *schedule.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := svc.RunNow(schedule.JobKnowledgeRefresh); err != nil && !errors.Is(err, schedule.ErrUnknownJob) {
				logger.Warn("initial knowledge load failed", slog.Any("error", err))
			}
			svc.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error { return svc.Stop(ctx) },
	})
}

func startGateway(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, session *discordgo.Session, gw *gateway.Session, b *bot.Bot, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting supportbot",
				slog.String("version", version.GetInfo().Version),
				slog.String("variant", cfg.Bot.Variant),
				slog.String("bot", cfg.Bot.Name),
			)
			if cfg.Bot.SlashCommand != "" {
				registerCommands(startCtx, logger, session, cfg.Bot.SlashCommand)
			}
			go func() {
				defer close(done)
				if err := gw.Run(ctx); err != nil {
					logger.Error("gateway failed", slog.Any("error", err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
			b.Stop()
			return nil
		},
	})
}

// registerCommands installs the ask command. Failures are logged only; the
// bot still answers mentions without it.
func registerCommands(ctx context.Context, logger *slog.Logger, session *discordgo.Session, name string) {
	self, err := discord.SelfUser(ctx, session)
	if err != nil {
		logger.Warn("slash command registration skipped", slog.Any("error", err))
		return
	}
	if err := discord.RegisterCommands(ctx, session, self.ID, discord.AskCommand(name)); err != nil {
		logger.Warn("slash command registration failed", slog.Any("error", err))
		return
	}
	logger.Info("slash command registered", slog.String("command", name))
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
