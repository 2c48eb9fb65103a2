// Package main - точка входа tutor orchestrator.
//
// Команды:
//
//	orchestrator serve            - HTTP API оркестратора
//	orchestrator migrate up       - применить миграции
//	orchestrator migrate down     - откатить последнюю миграцию
//	orchestrator migrate status   - показать состояние миграций
//	orchestrator events tail      - печатать события из Redis pub/sub
//
// Конфигурация читается из окружения (и .env), профиль обучения из
// TUTOR_PROFILE_PATH.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/internal/application/command"
	"github.com/alem-hub/tutor-orchestrator/internal/application/query"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/external/collaborator"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/messaging"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/metrics"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/redis"
	httpserver "github.com/alem-hub/tutor-orchestrator/internal/interface/http"
	"github.com/alem-hub/tutor-orchestrator/internal/interface/http/handlers"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/retry"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// version перезаписывается при сборке через -ldflags.
var version = "dev"

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "orchestrator",
	Short:   "Tutoring session orchestrator",
	Version: version,
	Long: `orchestrator drives AI tutoring sessions through the curriculum,
teaching, assessment, and review cycle, calling the content services
and persisting session state.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(eventsCmd)
}

// run собирает все зависимости и блокируется до сигнала остановки.
func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Version == "" {
		cfg.App.Version = version
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting tutor orchestrator",
		logger.String("version", cfg.App.Version),
		logger.String("environment", string(cfg.App.Environment)),
		logger.String("db_driver", cfg.Database.Driver),
		logger.String("events_driver", cfg.Events.Driver),
	)

	profile, err := config.LoadProfile(cfg.Orchestrator.ProfilePath)
	if err != nil {
		return fmt.Errorf("failed to load tutoring profile: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	durable, err := openDurable(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer durable.close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.AutoMigrate {
		applied, err := durable.migrator.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("migrations applied", logger.Int("count", applied))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.SystemClock{}

	var (
		cache         *redis.Cache
		stateCache    session.StateStore
		teachingCache session.TeachingStore
	)
	if cfg.Redis.Disabled {
		log.Warn("redis disabled, session state cached in process memory")
		stateCache = memory.NewStateStore(clock.Now)
		teachingCache = memory.NewTeachingStore(clock.Now)
	} else {
		cache, err = connectRedis(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer func() { _ = cache.Close() }()
		stateCache = redis.NewSessionStateStore(cache)
		teachingCache = redis.NewTeachingStateStore(cache)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	sessions := command.SessionStorage{
		Cache:   stateCache,
		Durable: durable.sessions,
		TTL:     cfg.Orchestrator.StateTTL,
		Defaults: command.SessionDefaults{
			TotalConcepts: profile.Session.DefaultTotalConcepts,
			GradeLevel:    profile.Session.DefaultGradeLevel,
		},
	}
	teaching := command.TeachingStorage{
		Cache:   teachingCache,
		Durable: durable.teaching,
		TTL:     cfg.Orchestrator.StateTTL,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		Logger: log,
		Middlewares: []messaging.Middleware{
			messaging.RecoveryMiddleware(log),
			messaging.LoggingMiddleware(log),
		},
	})
	defer func() { _ = bus.Close() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ИНИЦИАЛИЗАЦИЯ ВНЕШНИХ КЛИЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.NewDefault()

	collab := collaborator.NewClient(collaboratorConfig(cfg, m, log))

	sink, subject, err := openEventSink(ctx, cfg, cache, log)
	if err != nil {
		return err
	}
	if sink != nil {
		defer func() { _ = sink.Close() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ИНИЦИАЛИЗАЦИЯ APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	executor := command.NewActionExecutor(
		collab,
		durable.feedback,
		durable.sessions,
		session.NewThresholdSelector(profile.Progression.PassScore),
		clock,
		log,
		command.ExecutorConfig{QuestionCount: profile.Assessment.QuestionCount},
	)

	orchestrateHandler := command.NewOrchestrateHandler(command.OrchestrateDeps{
		Storage:   sessions,
		Executor:  executor,
		Publisher: bus,
		Flags:     cfg.Features,
		Observer:  m,
		Clock:     clock,
		Logger:    log,
	})

	teachingTurnHandler := command.NewTeachingTurnHandler(command.TeachingTurnDeps{
		Sessions:   sessions,
		Teaching:   teaching,
		Classifier: session.NewKeywordClassifier(profile.Classifier.Understood, profile.Classifier.Confused),
		Resources:  collab,
		Publisher:  bus,
		Flags:      cfg.Features,
		Clock:      clock,
		Logger:     log,
	}, command.TeachingTurnConfig{ResourceLimit: profile.Resources.Limit})

	recordFeedbackHandler := command.NewRecordFeedbackHandler(durable.feedback, bus, clock, log, profile.Progression.PassScore)
	resetSessionHandler := command.NewResetSessionHandler(sessions, bus, clock, log)
	createSessionHandler := command.NewCreateSessionHandler(sessions, clock, log)

	getSessionStateHandler := query.NewGetSessionStateHandler(stateCache, durable.sessions, log)
	getTeachingStateHandler := query.NewGetTeachingStateHandler(teachingCache, durable.teaching, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	if err := bus.SubscribeAll(messaging.AuditHandler(log)); err != nil {
		return fmt.Errorf("failed to subscribe audit handler: %w", err)
	}
	if err := bus.SubscribeAll(m.EventHandler()); err != nil {
		return fmt.Errorf("failed to subscribe metrics handler: %w", err)
	}
	if sink != nil {
		forwarder := messaging.NewForwarder(messaging.ForwarderConfig{
			Sink:    sink,
			Subject: subject,
			Enabled: func(sessionID string) bool {
				return cfg.Features.IsEnabled(config.FeatureEventPublish, &config.FeatureContext{SessionID: sessionID})
			},
			Logger: log,
		})
		if err := forwarder.Attach(bus); err != nil {
			return fmt.Errorf("failed to attach event forwarder: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("durable", handlers.NewPingCheck(durable.pinger))
	if cache != nil {
		health.AddCheck("cache", handlers.NewPingCheck(cache))
	}
	if sink != nil {
		health.AddOptionalCheck("events", handlers.NewPingCheck(sink))
	}
	health.AddOptionalCheck("collaborators", handlers.NewBreakerCheck(collab))

	// ─────────────────────────────────────────────────────────────────────────
	// 12. СОЗДАНИЕ HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpConfig(cfg), httpserver.Dependencies{
		Orchestrate:      orchestrateHandler,
		TeachingTurn:     teachingTurnHandler,
		RecordFeedback:   recordFeedbackHandler,
		ResetSession:     resetSessionHandler,
		CreateSession:    createSessionHandler,
		GetSessionState:  getSessionStateHandler,
		GetTeachingState: getTeachingStateHandler,
		HealthChecker:    health,
		Metrics:          m,
		Logger:           log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 13. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	serverErr := server.StartAsync()

	log.Info("tutor orchestrator started", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 14. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok && err != nil {
			log.Error("http server failed", logger.Err(err))
			runErr = err
		}
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown http server", logger.Err(err))
	}

	stats := bus.Stats()
	var published int64
	for _, n := range stats.Published {
		published += n
	}
	log.Info("tutor orchestrator stopped",
		logger.Int64("events_published", published),
		logger.Int64("handler_failures", stats.HandlerFailures),
		logger.Duration("uptime", server.Uptime()),
	)

	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func newLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.Observability.LogFormat == string(logger.FormatConsole) {
		opts.Format = logger.FormatConsole
	}
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
	)
}

// connectRetrier логирует каждую неудачную попытку подключения.
func connectRetrier(log *logger.Logger, target string) *retry.Retrier {
	return retry.ConnectRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("connection attempt failed",
			logger.String("target", target),
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", delay),
			logger.Err(err),
		)
	})
}

func connectRedis(ctx context.Context, rc config.RedisConfig, log *logger.Logger) (*redis.Cache, error) {
	redisCfg := redis.DefaultConfig()
	redisCfg.URL = rc.URL
	if rc.Host != "" {
		redisCfg.Host = rc.Host
	}
	if rc.Port > 0 {
		redisCfg.Port = rc.Port
	}
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	if rc.PoolSize > 0 {
		redisCfg.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		redisCfg.MinIdleConns = rc.MinIdleConns
	}
	if rc.DialTimeout > 0 {
		redisCfg.DialTimeout = rc.DialTimeout
	}
	if rc.ReadTimeout > 0 {
		redisCfg.ReadTimeout = rc.ReadTimeout
	}
	if rc.WriteTimeout > 0 {
		redisCfg.WriteTimeout = rc.WriteTimeout
	}

	var cache *redis.Cache
	err := connectRetrier(log, "redis").Do(ctx, func(ctx context.Context) error {
		c, err := redis.NewCache(ctx, redisCfg)
		if err != nil {
			// Only an unreachable server is worth another attempt.
			if !errors.Is(err, redis.ErrCacheConnection) {
				return retry.Permanent(err)
			}
			return err
		}
		cache = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("connected to redis", logger.String("addr", redisCfg.Addr()))
	return cache, nil
}

func collaboratorConfig(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) collaborator.Config {
	cc := cfg.Collaborators
	out := collaborator.Config{
		CurriculumURL:        cc.CurriculumURL,
		QuizURL:              cc.QuizURL,
		FeedbackURL:          cc.FeedbackURL,
		ResourcesURL:         cc.ResourcesURL,
		APIKey:               cc.APIKey,
		Timeout:              cc.Timeout,
		RateLimiter:          collaborator.DefaultRateLimiterConfig(),
		BreakerThreshold:     cc.CircuitBreakerThreshold,
		BreakerCooldown:      cc.CircuitBreakerTimeout,
		BreakerHalfOpenMax:   cc.CircuitBreakerHalfOpenMax,
		Observer:             m,
		OnBreakerStateChange: m.OnBreakerStateChange,
		Logger:               log,
		Debug:                cfg.App.Debug,
	}
	out.RateLimiter.RequestsPerSecond = float64(cc.RateLimit)
	if cc.RateLimitBurst > 0 {
		out.RateLimiter.BurstSize = cc.RateLimitBurst
	}
	return out
}

// openEventSink возвращает nil sink, когда пересылка событий выключена.
func openEventSink(ctx context.Context, cfg *config.Config, cache *redis.Cache, log *logger.Logger) (messaging.Sink, func(shared.EventType) string, error) {
	switch cfg.Events.Driver {
	case config.EventsNATS:
		var sink *messaging.NATSSink
		err := connectRetrier(log, "nats").Do(ctx, func(context.Context) error {
			s, err := messaging.ConnectNATS(cfg.Events.NATSURL, cfg.App.Name, log)
			if err != nil {
				return err
			}
			sink = s
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("forwarding events to nats", logger.String("url", cfg.Events.NATSURL))
		return sink, messaging.NATSSubject(cfg.Events.SubjectPrefix), nil

	case config.EventsRedis:
		if cache == nil {
			return nil, nil, errors.New("redis event driver requires redis")
		}
		log.Info("forwarding events to redis pub/sub")
		return messaging.NewRedisSink(cache), redisChannel(cfg.Events.SubjectPrefix), nil

	default:
		return nil, nil, nil
	}
}

// redisChannel builds "<prefix>:<event type>".
func redisChannel(prefix string) func(shared.EventType) string {
	if prefix != "" {
		prefix += ":"
	}
	return func(t shared.EventType) string {
		return redis.EventChannel(prefix, string(t))
	}
}

func httpConfig(cfg *config.Config) httpserver.Config {
	hc := httpserver.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	if cfg.HTTP.ReadTimeout > 0 {
		hc.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		hc.WriteTimeout = cfg.HTTP.WriteTimeout
	}
	if cfg.HTTP.IdleTimeout > 0 {
		hc.IdleTimeout = cfg.HTTP.IdleTimeout
	}
	hc.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hc.EnableMetrics = cfg.Observability.MetricsEnabled
	hc.MetricsPath = cfg.Observability.MetricsPath
	hc.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	hc.RateLimitBurst = cfg.HTTP.RateLimitBurst
	return hc
}
