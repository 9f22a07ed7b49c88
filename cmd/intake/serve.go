package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/intake/internal/attachment"
	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/channel/adapters/telegram"
	"github.com/memohai/intake/internal/channel/adapters/twilio"
	"github.com/memohai/intake/internal/config"
	"github.com/memohai/intake/internal/conversation"
	"github.com/memohai/intake/internal/db"
	"github.com/memohai/intake/internal/digest"
	"github.com/memohai/intake/internal/handlers"
	"github.com/memohai/intake/internal/healthcheck"
	channelchecker "github.com/memohai/intake/internal/healthcheck/checkers/channel"
	pingchecker "github.com/memohai/intake/internal/healthcheck/checkers/ping"
	"github.com/memohai/intake/internal/intake"
	"github.com/memohai/intake/internal/logger"
	"github.com/memohai/intake/internal/media"
	"github.com/memohai/intake/internal/notify"
	"github.com/memohai/intake/internal/relay"
	"github.com/memohai/intake/internal/requests"
	"github.com/memohai/intake/internal/retry"
	"github.com/memohai/intake/internal/server"
	"github.com/memohai/intake/internal/session"
	"github.com/memohai/intake/internal/storage/providers/gcs"
	"github.com/memohai/intake/internal/storage/providers/localfs"
	"github.com/memohai/intake/internal/submission"
)

func runServe(cfgPath string) {
	fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(cfgPath) },
			provideLogger,
			provideRetryPolicy,
			provideDBConn,
			provideRedisClient,
			provideSessionStore,
			provideSessionLocker,
			provideRequestStore,
			provideMediaService,
			provideTwilioAdapter,
			provideTelegramAdapter,
			provideChannelRegistry,
			provideOutbound,
			channel.NewResolver,
			provideNotifier,
			provideSubmissionService,
			provideCatalog,
			provideEngine,
			provideIngestor,
			provideProcessor,
			provideRelayService,
			provideDigestService,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideAdminHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideTwilioWebhook),
			provideServerHandler(provideTelegramWebhook),
			provideServer,
		),
		fx.Invoke(
			startDBCheck,
			startDigest,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideRetryPolicy(cfg config.Config) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelayMs > 0 {
		policy.BaseDelay = time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond
	}
	if cfg.Retry.MaxDelayMs > 0 {
		policy.MaxDelay = time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond
	}
	if cfg.Retry.Factor >= 1 {
		policy.Factor = cfg.Retry.Factor
	}
	return policy
}

func usesPostgres(cfg config.Config) bool {
	return cfg.Session.Backend == config.BackendPostgres || cfg.Requests.Backend == config.BackendPostgres
}

// provideDBConn returns a nil pool when no store is backed by Postgres.
func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if !usesPostgres(cfg) {
		return nil, nil
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

// provideRedisClient returns nil unless sessions live in Redis.
func provideRedisClient(lc fx.Lifecycle, cfg config.Config) goredis.UniversalClient {
	if cfg.Session.Backend != config.BackendRedis {
		return nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		OnStop:  func(ctx context.Context) error { return rdb.Close() },
	})
	return rdb
}

func sessionTTL(cfg config.Config) time.Duration {
	if cfg.Session.TTLHours <= 0 {
		return 0
	}
	return time.Duration(cfg.Session.TTLHours) * time.Hour
}

func provideSessionStore(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool, rdb goredis.UniversalClient) (session.Store, error) {
	switch cfg.Session.Backend {
	case config.BackendPostgres:
		return session.NewPostgresStore(log, pool), nil
	case config.BackendRedis:
		return session.NewRedisStore(log, rdb, cfg.Session.KeyPrefix, sessionTTL(cfg)), nil
	case config.BackendMemory:
		log.Warn("sessions are kept in memory and will not survive a restart")
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend: %q", cfg.Session.Backend)
	}
}

// provideSessionLocker serializes turns per user. Redis locks span
// instances; otherwise a process-local mutex suffices.
func provideSessionLocker(log *slog.Logger, cfg config.Config, rdb goredis.UniversalClient) session.Locker {
	if cfg.Session.Backend == config.BackendRedis {
		ttl := time.Duration(cfg.Session.LockTTLMs) * time.Millisecond
		return session.NewRedisLocker(log, rdb, cfg.Session.KeyPrefix, ttl)
	}
	return session.NewKeyedMutex()
}

func provideRequestStore(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool) (requests.Store, error) {
	switch cfg.Requests.Backend {
	case config.BackendPostgres:
		return requests.NewPostgresStore(log, pool), nil
	case config.BackendMemory:
		log.Warn("requests are kept in memory and will not survive a restart")
		return requests.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown requests backend: %q", cfg.Requests.Backend)
	}
}

func provideMediaService(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*media.Service, error) {
	var provider media.StorageProvider
	switch strings.TrimSpace(cfg.Storage.Provider) {
	case "", config.StorageLocal:
		p, err := localfs.New(cfg.Storage.LocalRoot, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("init media provider: %w", err)
		}
		provider = p
	case config.StorageGCS:
		p, err := gcs.New(context.Background(), gcs.Config{
			Bucket:          cfg.Storage.GCSBucket,
			CredentialsFile: cfg.Storage.GCSCredentialsFile,
			PublicBaseURL:   cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init media provider: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return p.Close() }})
		provider = p
	default:
		return nil, fmt.Errorf("unknown storage provider: %q", cfg.Storage.Provider)
	}
	return media.NewService(log, provider, cfg.Storage.MaxAttachmentBytes), nil
}

func twilioConfig(cfg config.Config) twilio.Config {
	return twilio.Config{
		AccountSID:        cfg.Twilio.AccountSID,
		AuthToken:         cfg.Twilio.AuthToken,
		From:              cfg.Twilio.From,
		Region:            cfg.Twilio.Region,
		Edge:              cfg.Twilio.Edge,
		ValidateSignature: cfg.Twilio.ValidateSignature,
		PublicURL:         cfg.Server.PublicURL,
	}
}

func telegramConfig(cfg config.Config) telegram.Config {
	return telegram.Config{
		BotToken:      cfg.Telegram.BotToken,
		WebhookSecret: cfg.Telegram.WebhookSecret,
	}
}

// provideTwilioAdapter returns nil when the channel is disabled.
func provideTwilioAdapter(log *slog.Logger, cfg config.Config) *twilio.Adapter {
	if !cfg.Twilio.Enabled {
		return nil
	}
	return twilio.NewAdapter(log, twilioConfig(cfg))
}

// provideTelegramAdapter returns nil when the channel is disabled.
func provideTelegramAdapter(log *slog.Logger, cfg config.Config) *telegram.TelegramAdapter {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return telegram.NewTelegramAdapter(log, telegramConfig(cfg))
}

func provideChannelRegistry(log *slog.Logger, tw *twilio.Adapter, tg *telegram.TelegramAdapter) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	if tw != nil {
		registry.MustRegister(tw)
	}
	if tg != nil {
		registry.MustRegister(tg)
	}
	if len(registry.Types()) == 0 {
		return nil, errors.New("no channel enabled: enable twilio and/or telegram")
	}
	log.Info("channels registered", slog.Any("types", registry.Types()))
	return registry, nil
}

func provideOutbound(log *slog.Logger, registry *channel.Registry, policy retry.Policy) *channel.Outbound {
	return channel.NewOutbound(log, registry, policy)
}

func provideNotifier(log *slog.Logger, cfg config.Config, outbound *channel.Outbound, policy retry.Policy) (*notify.Notifier, error) {
	recipients, err := notify.ParseRecipients(cfg.Notify.Recipients)
	if err != nil {
		return nil, fmt.Errorf("notify recipients: %w", err)
	}
	if len(recipients) == 0 {
		log.Warn("no team recipients configured; submissions will not be forwarded")
	}
	mailer, err := notify.NewMailer(cfg)
	if err != nil {
		return nil, fmt.Errorf("notify mailer: %w", err)
	}
	return notify.NewNotifier(log, recipients, outbound, mailer, policy, cfg.Notify.SubjectPrefix), nil
}

func provideSubmissionService(log *slog.Logger, store requests.Store, notifier *notify.Notifier) *submission.Service {
	return submission.NewService(log, store, notifier)
}

func provideCatalog(cfg config.Config) (conversation.Catalog, error) {
	catalog, err := conversation.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return conversation.Catalog{}, fmt.Errorf("load catalog: %w", err)
	}
	return catalog, nil
}

func provideEngine(log *slog.Logger, catalog conversation.Catalog, submitter *submission.Service, store requests.Store) *conversation.Engine {
	return conversation.NewEngine(log, catalog, submitter, store)
}

func provideIngestor(log *slog.Logger, cfg config.Config, resolver *channel.Resolver, mediaService *media.Service, submitter *submission.Service) *attachment.Ingestor {
	timeout := time.Duration(cfg.Storage.FetchTimeoutSeconds) * time.Second
	return attachment.NewIngestor(log, resolver, mediaService, submitter, timeout, mediaService.MaxBytes())
}

func provideProcessor(log *slog.Logger, sessions session.Store, locker session.Locker, engine *conversation.Engine, ingestor *attachment.Ingestor, outbound *channel.Outbound) *intake.Processor {
	return intake.NewProcessor(log, sessions, locker, engine, ingestor, outbound)
}

func provideRelayService(log *slog.Logger, store requests.Store, outbound *channel.Outbound) *relay.Service {
	return relay.NewService(log, store, outbound)
}

func provideDigestService(log *slog.Logger, cfg config.Config, store requests.Store, notifier *notify.Notifier) (*digest.Service, error) {
	if !cfg.Digest.Enabled {
		return nil, nil
	}
	return digest.NewService(log, cfg.Digest, store, notifier)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) (*handlers.AuthHandler, error) {
	return handlers.NewAuthHandler(log, cfg.Admin, cfg.Auth)
}

func provideAdminHandler(log *slog.Logger, store requests.Store, relayService *relay.Service) *handlers.AdminHandler {
	return handlers.NewAdminHandler(log, store, relayService)
}

func provideHealthHandler(log *slog.Logger, pool *pgxpool.Pool, rdb goredis.UniversalClient, registry *channel.Registry) *handlers.HealthHandler {
	checkers := []healthcheck.Checker{channelchecker.NewChecker(log, registry)}
	if pool != nil {
		checkers = append(checkers, pingchecker.NewChecker(log, "postgres", "postgres", func(ctx context.Context) error {
			return db.Ping(ctx, pool)
		}))
	}
	if rdb != nil {
		checkers = append(checkers, pingchecker.NewChecker(log, "redis", "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	return handlers.NewHealthHandler(log, checkers...)
}

// The webhook providers return a nil handler for disabled channels; the
// server skips nil handlers.
func provideTwilioWebhook(log *slog.Logger, cfg config.Config, processor *intake.Processor) server.Handler {
	if !cfg.Twilio.Enabled {
		return nil
	}
	return twilio.NewWebhookHandler(log, twilioConfig(cfg), processor)
}

func provideTelegramWebhook(log *slog.Logger, cfg config.Config, processor *intake.Processor) server.Handler {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return telegram.NewWebhookHandler(log, telegramConfig(cfg), processor)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) (*server.Server, error) {
	if strings.TrimSpace(params.Config.Auth.JWTSecret) == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...), nil
}

func startDBCheck(lc fx.Lifecycle, pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
		if err := db.Ping(ctx, pool); err != nil {
			return fmt.Errorf("db ping: %w", err)
		}
		return nil
	}})
}

func startDigest(lc fx.Lifecycle, svc *digest.Service) {
	if svc == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return svc.Start() },
		OnStop:  func(ctx context.Context) error { return svc.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	logger.Info("starting intake", slog.String("version", Version))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
