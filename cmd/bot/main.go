// Package main - точка входа бота платных видеоуроков.
//
// Бот принимает обновления Telegram через webhook (или long polling при
// разработке), показывает бесплатное вступление со ссылкой на оплату,
// активирует доступ по deep-link после оплаты и выдаёт по одному уроку в день.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lessondrip/coursebot/config"

	// Application layer
	"github.com/lessondrip/coursebot/internal/application/command"

	// Domain layer
	"github.com/lessondrip/coursebot/internal/domain/course"
	"github.com/lessondrip/coursebot/internal/domain/entitlement"
	"github.com/lessondrip/coursebot/internal/domain/payment"

	// Infrastructure layer
	"github.com/lessondrip/coursebot/internal/infrastructure/external/telegram"
	"github.com/lessondrip/coursebot/internal/infrastructure/messaging"
	"github.com/lessondrip/coursebot/internal/infrastructure/metrics"
	"github.com/lessondrip/coursebot/internal/infrastructure/persistence/memory"
	"github.com/lessondrip/coursebot/internal/infrastructure/persistence/postgres"
	redisstore "github.com/lessondrip/coursebot/internal/infrastructure/persistence/redis"

	// Interface layer
	httpserver "github.com/lessondrip/coursebot/internal/interface/http"
	"github.com/lessondrip/coursebot/internal/interface/http/handlers"
	tgbot "github.com/lessondrip/coursebot/internal/interface/telegram"

	// Packages
	"github.com/lessondrip/coursebot/pkg/logger"
	"github.com/lessondrip/coursebot/pkg/retry"
	"github.com/lessondrip/coursebot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting lesson bot",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("version", cfg.App.Version),
		slog.String("mode", cfg.Telegram.Mode),
		slog.String("store", cfg.Store.Backend),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. КАТАЛОГ И ОПЛАТА
	// ─────────────────────────────────────────────────────────────────────────
	catalog := buildCatalog(cfg)
	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}

	activation := payment.NewActivation(cfg.Course.ActivationPrefix)
	checkout, err := payment.NewCheckout(cfg.Course.CheckoutURL)
	if err != nil {
		return fmt.Errorf("invalid checkout template: %w", err)
	}

	log.Info("catalog loaded", slog.Int("lessons", catalog.Len()))

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ХРАНИЛИЩЕ ДОСТУПОВ
	// ─────────────────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. TELEGRAM CLIENT И ДОСТАВКА
	// ─────────────────────────────────────────────────────────────────────────
	clientConfig := telegram.DefaultClientConfig(cfg.Telegram.Token)
	clientConfig.BaseURL = cfg.Telegram.APIURL
	clientConfig.Timeout = cfg.Telegram.Timeout
	clientConfig.Debug = cfg.IsDevelopment()
	clientConfig.Logger = log
	client := telegram.NewClient(clientConfig)

	gateway := telegram.NewGateway(client, telegram.WithProtectedContent(cfg.Course.ProtectContent))
	dispatcher := messaging.NewDispatcher(gateway, messaging.DispatcherConfig{
		WorkerPoolSize: cfg.Dispatch.Workers,
		SendTimeout:    cfg.Dispatch.SendTimeout,
		Observer:       appMetrics,
		Logger:         log,
	})

	botUsername := cfg.Telegram.BotUsername
	identifyCtx, cancelIdentify := context.WithTimeout(ctx, 10*time.Second)
	if name, err := tgbot.Identify(identifyCtx, client, log); err != nil {
		log.Warn("getMe failed, mention checks use BOT_USERNAME",
			slog.String("bot_username", botUsername),
			logger.Err(err),
		)
	} else {
		botUsername = name
	}
	cancelIdentify()

	if botUsername != "" {
		log.Info("payment return URL, configure it in Prodamus",
			slog.String("return_url", activation.ReturnURL(botUsername)),
		)
	} else {
		log.Warn("bot username unknown, payment return URL cannot be built")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	router := command.NewRouteUpdateHandler(store, catalog, activation, checkout, command.RouteUpdateHandlerConfig{
		BotUsername: botUsername,
		Logger:      log,
	})

	processor := tgbot.NewProcessor(router, dispatcher, tgbot.ProcessorConfig{
		Recorder: appMetrics,
		Logger:   log,
	})

	bot, err := tgbot.NewBot(client, processor, tgbot.BotConfig{
		Mode:          cfg.Telegram.Mode,
		WebhookURL:    cfg.WebhookURL(),
		WebhookSecret: cfg.Telegram.WebhookSecret,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVERS
	// ─────────────────────────────────────────────────────────────────────────
	webhook := handlers.NewWebhookHandler(processor, handlers.WebhookConfig{
		Secret: cfg.Telegram.WebhookSecret,
		Logger: log,
	})
	webhookServer := httpserver.NewWebhookServer(httpserver.DefaultConfig("webhook", cfg.App.Port), webhook, log)

	var opsServer *httpserver.Server
	if cfg.Observability.MetricsEnabled {
		health := handlers.NewCompositeHealthChecker(cfg.App.Version)
		health.AddCheck("store", handlers.NewPingCheck(store))
		health.AddCheck("telegram", handlers.NewPingCheck(client))

		deps := httpserver.OpsDependencies{
			Gatherer: registry,
			Health:   health,
		}
		if cfg.Observability.AdminAPIKeyHash != "" {
			deps.Auth = handlers.NewAPIKeyAuth(handlers.DefaultAPIKeyHeader, cfg.Observability.AdminAPIKeyHash)
			deps.Entitlements = handlers.NewEntitlementHandler(store, catalog.Len(), timeutil.SystemClock{}, log)
		}

		opsServer = httpserver.NewOpsServer(httpserver.DefaultConfig("ops", cfg.Observability.MetricsPort), deps, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ЗАПУСК
	// ─────────────────────────────────────────────────────────────────────────
	// The webhook is registered only after the listener is bound.
	webhookListener, err := webhookServer.Listen()
	if err != nil {
		return err
	}

	var opsListener net.Listener
	if opsServer != nil {
		if opsListener, err = opsServer.Listen(); err != nil {
			_ = webhookListener.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return webhookServer.Serve(webhookListener)
	})
	if opsServer != nil {
		g.Go(func() error {
			return opsServer.Serve(opsListener)
		})
	}

	g.Go(func() error {
		if err := bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("telegram bot error: %w", err)
		}
		return nil
	})

	log.Info("lesson bot is running",
		slog.String("address", webhookServer.Address()),
		slog.String("webhook_url", cfg.WebhookURL()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", slog.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error

		// 1. Stop accepting updates
		if err := webhookServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("webhook server: %w", err))
		}
		if opsServer != nil {
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("ops server: %w", err))
			}
		}

		// 2. Drain in-flight deliveries
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher: %w", err))
		}

		stats := dispatcher.Stats()
		log.Info("dispatcher drained",
			slog.Int64("batches", stats.Batches),
			slog.Int64("sent", stats.Sent),
			slog.Int64("failed", stats.Failed),
			slog.Int64("dropped", stats.Dropped),
		)

		// 3. Store closes via defer
		if len(errs) > 0 {
			log.Warn("shutdown completed with errors", logger.Err(errors.Join(errs...)))
		} else {
			log.Info("shutdown completed successfully")
		}
		return nil
	})

	return g.Wait()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.Format(cfg.Observability.LogFormat)

	log := logger.New(opts)
	slog.SetDefault(log)
	return log
}

// buildCatalog собирает каталог из VIDEO_<n>_* переменных.
func buildCatalog(cfg *config.Config) *course.Catalog {
	lessons := make([]course.Lesson, 0, len(cfg.Course.Lessons))
	for _, l := range cfg.Course.Lessons {
		caption := l.Caption
		if caption == "" {
			caption = course.DefaultCaption(l.Number)
		}
		lessons = append(lessons, course.Lesson{MediaRef: l.FileID, Caption: caption})
	}
	return course.NewCatalog(course.Lesson{MediaRef: cfg.Course.WelcomeVideoFileID}, lessons)
}

// logRetry logs a failed connection attempt.
func logRetry(log *slog.Logger, backend string) func(int, error, time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		log.Warn("store connection failed, retrying",
			slog.String("backend", backend),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			logger.Err(err),
		)
	}
}

// entitlementStore is a store that can report its health.
type entitlementStore interface {
	entitlement.Store
	entitlement.Pinger
}

// openStore подключает выбранное хранилище и возвращает функцию закрытия.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (entitlementStore, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		redisConfig := redisstore.DefaultConfig()
		redisConfig.URL = cfg.Store.RedisURL

		log.Info("connecting to Redis...")
		client, err := retry.DoWithData(ctx, func(ctx context.Context) (*goredis.Client, error) {
			client, err := redisstore.NewClient(ctx, redisConfig)
			if errors.Is(err, redisstore.ErrInvalidURL) {
				return nil, retry.Permanent(err)
			}
			return client, err
		}, retry.WithOnRetry(logRetry(log, "redis")))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		store, err := redisstore.NewEntitlementStore(client, redisstore.DefaultStoreConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to create redis store: %w", err)
		}

		log.Info("Redis connection established")
		return store, func() {
			log.Info("closing Redis connection...")
			_ = client.Close()
		}, nil

	case config.BackendPostgres:
		log.Info("connecting to database...")
		conn, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Connection, error) {
			conn, err := postgres.NewConnectionFromURL(ctx, cfg.Store.DatabaseURL, postgres.DefaultPoolOptions())
			if errors.Is(err, postgres.ErrInvalidURL) {
				return nil, retry.Permanent(err)
			}
			return conn, err
		}, retry.WithOnRetry(logRetry(log, "postgres")))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		log.Info("running database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		log.Info("database connection established")
		return postgres.NewEntitlementRepository(conn, timeutil.SystemClock{}), func() {
			log.Info("closing database connection...")
			conn.Close()
		}, nil

	default:
		if cfg.IsProduction() {
			log.Warn("memory store in production: entitlements are lost on restart")
		}

		memoryConfig := memory.DefaultConfig()
		memoryConfig.MaxUsers = cfg.Store.MaxUsers

		store, err := memory.NewStore(memoryConfig)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
