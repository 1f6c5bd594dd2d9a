package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/comms-gateway/internal/config"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/handler"
	"github.com/kursadbilgin/comms-gateway/internal/infra/postgresql"
	"github.com/kursadbilgin/comms-gateway/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/comms-gateway/internal/infra/redis"
	"github.com/kursadbilgin/comms-gateway/internal/observability"
	"github.com/kursadbilgin/comms-gateway/internal/provider"
	"github.com/kursadbilgin/comms-gateway/internal/queue"
	"github.com/kursadbilgin/comms-gateway/internal/ratelimit"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"github.com/kursadbilgin/comms-gateway/internal/service"
	"github.com/kursadbilgin/comms-gateway/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	alertPrefetch   = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("comms-gateway stopped with error", zap.Error(err))
	}
	logger.Info("comms-gateway stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	overrides, err := cfg.VendorRateOverrides()
	if err != nil {
		return err
	}
	throttle, err := infraredis.NewVendorThrottle(rdb, cfg.VendorRateLimitPerSec, overrides)
	if err != nil {
		return fmt.Errorf("vendor throttle init failed: %w", err)
	}

	metrics := observability.NewMetrics()

	var (
		events   queue.EventPublisher = queue.NoopPublisher{}
		consumer *queue.RabbitMQConsumer
	)
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer mq.Close()

		events = queue.NewRabbitMQPublisher(mq)
		consumer = queue.NewRabbitMQConsumer(mq, alertPrefetch, logger)
	} else {
		logger.Warn("RABBITMQ_URL not set, delivery events and system alerts are disabled")
	}
	defer events.Close()

	registry := provider.NewRegistry()
	provider.RegisterBuiltins(ctx, registry, providerSettings(cfg))

	logs := repository.NewGormDeliveryLogRepo(db)
	users := repository.NewGormUserRepo(db)
	devices := repository.NewGormDeviceTokenRepo(db)

	settings := service.DispatchSettings{
		BatchSize:       cfg.BulkBatchSize,
		InterBatchDelay: cfg.InterBatchDelay(),
		RetryWindow:     cfg.RetryWindow(),
		RetryLimit:      cfg.RetryLimit,
		MaxAttempts:     cfg.RetryMaxAttempts,
		RetentionDays:   cfg.RetentionDays,
	}

	dispatchers := make(map[domain.Channel]*service.Dispatcher, 3)
	for _, channel := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush} {
		d, err := service.NewDispatcher(channel, logs, registry, settings, logger)
		if err != nil {
			return fmt.Errorf("%s dispatcher init failed: %w", channel, err)
		}
		d.SetMetrics(metrics)
		d.SetThrottle(throttle)
		d.SetEventPublisher(events)
		dispatchers[channel] = d
	}

	pushSvc, err := service.NewPushService(dispatchers[domain.ChannelPush], registry, repository.NewGormPushNotificationRepo(db), devices, logger)
	if err != nil {
		return fmt.Errorf("push service init failed: %w", err)
	}

	directorySvc, err := service.NewDirectoryService(users, devices, logger)
	if err != nil {
		return fmt.Errorf("directory service init failed: %w", err)
	}

	notifier, err := service.NewNotifier(users, dispatchers[domain.ChannelEmail], dispatchers[domain.ChannelSMS], pushSvc, logger)
	if err != nil {
		return fmt.Errorf("notifier init failed: %w", err)
	}
	notifier.SetMetrics(metrics)

	commentSvc, err := service.NewCommentService(repository.NewGormCommentRepo(db), users, notifier, logger)
	if err != nil {
		return fmt.Errorf("comment service init failed: %w", err)
	}

	all := []*service.Dispatcher{dispatchers[domain.ChannelEmail], dispatchers[domain.ChannelSMS], dispatchers[domain.ChannelPush]}
	sweeper, err := service.NewRetrySweeper(all, cfg.RetrySweepInterval(), cfg.RetryLimit, logger)
	if err != nil {
		return fmt.Errorf("retry sweeper init failed: %w", err)
	}
	cleanup, err := service.NewCleanupJob(all, cfg.CleanupInterval(), cfg.RetentionDays, logger)
	if err != nil {
		return fmt.Errorf("cleanup job init failed: %w", err)
	}

	auth, err := transport.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("authenticator init failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "comms-gateway",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, metrics)

	app.Use(auth.Middleware())
	app.Use(transport.RateLimit(ratelimit.NewSlidingWindow(cfg.ClientRateLimit, cfg.ClientRateWindow())))

	if err := handler.RegisterChannelRoutes(app, "/emails", dispatchers[domain.ChannelEmail]); err != nil {
		return err
	}
	if err := handler.RegisterChannelRoutes(app, "/sms", dispatchers[domain.ChannelSMS]); err != nil {
		return err
	}
	if err := handler.RegisterPushRoutes(app, pushSvc, pushSvc.Dispatcher()); err != nil {
		return err
	}
	if err := handler.RegisterCommentRoutes(app, commentSvc); err != nil {
		return err
	}
	if err := handler.RegisterDirectoryRoutes(app, directorySvc); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sweeper.Start(gctx) })
	g.Go(func() error { return cleanup.Start(gctx) })

	if consumer != nil {
		alerts, err := service.NewAlertWorker(consumer, notifier, cfg.AlertWorkerConcurrency, logger)
		if err != nil {
			return fmt.Errorf("alert worker init failed: %w", err)
		}
		g.Go(func() error { return alerts.Start(gctx) })
	}

	g.Go(func() error {
		logger.Info("comms-gateway api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func providerSettings(cfg *config.Config) provider.Settings {
	return provider.Settings{
		SMTP: provider.SMTPSettings{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			From:        cfg.SMTPFrom,
			ImplicitTLS: cfg.SMTPImplicitTLS,
		},
		Gmail: provider.GmailSettings{
			Username:    cfg.GmailUsername,
			AppPassword: cfg.GmailAppPassword,
			From:        cfg.GmailFrom,
		},
		Postmark: provider.PostmarkSettings{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			From:         cfg.PostmarkFrom,
			Tag:          cfg.PostmarkTag,
		},
		Twilio: provider.TwilioSettings{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFrom,
		},
		Aliyun: provider.AliyunSettings{
			RegionID:        cfg.AliyunRegionID,
			AccessKeyID:     cfg.AliyunAccessKeyID,
			AccessKeySecret: cfg.AliyunAccessKeySecret,
			SignName:        cfg.AliyunSignName,
			TemplateCode:    cfg.AliyunTemplateCode,
		},
		FCM: provider.FCMSettings{
			ProjectID:       cfg.FCMProjectID,
			CredentialsJSON: cfg.FCMCredentialsJSON,
		},
		WebhookEndpoints: map[domain.Channel]string{
			domain.ChannelEmail: cfg.EmailWebhookURL,
			domain.ChannelSMS:   cfg.SMSWebhookURL,
			domain.ChannelPush:  cfg.PushWebhookURL,
		},
		Defaults: map[domain.Channel]string{
			domain.ChannelEmail: cfg.EmailDefaultProvider,
			domain.ChannelSMS:   cfg.SMSDefaultProvider,
			domain.ChannelPush:  cfg.PushDefaultProvider,
		},
	}
}
