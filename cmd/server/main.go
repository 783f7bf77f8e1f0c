package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"socialnotify/internal/api"
	"socialnotify/internal/config"
	"socialnotify/internal/mqhandler"
	"socialnotify/internal/repository"
	"socialnotify/internal/service/email"
	"socialnotify/internal/service/notification"
	"socialnotify/internal/service/notifier"
	"socialnotify/internal/service/preference"
	"socialnotify/pkg/db"
	"socialnotify/pkg/jobqueue"
	"socialnotify/pkg/logger"
	"socialnotify/pkg/mq"
	"socialnotify/pkg/otel"
	"socialnotify/pkg/redis"
	"socialnotify/pkg/util"
)

const (
	version = "1.0.0"

	dedupTTL   = 24 * time.Hour
	dedupLease = 5 * time.Minute
	retryTTL   = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger 依赖配置，这里只能直接退出
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting socialnotify...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("queue", cfg.MQ.Queue),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(cfg.Otel, version, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// Migrations
	if err := db.MigrateUp(cfg.DB.DSN(), cfg.Migrations.Path); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database migrations applied")

	// DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis
	rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		// dedup 和重试计数都允许降级
		log.Warn("Redis unavailable, dedup and retry counting degrade", zap.Error(err))
	}
	defer rdb.Close()

	// MQ
	conn, err := mq.DialWithRetry(ctx, cfg.MQ.URL, cfg.MQ.ConnectAttempts,
		time.Duration(cfg.MQ.ConnectDelayMs)*time.Millisecond, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	publisher, err := mq.NewPublisher(conn)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	preferenceRepo := repository.NewPreferenceRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)
	jobStore := jobqueue.NewPostgresStore(dbConn)

	// Services
	emailPolicy, err := notifier.ParseEmailPolicy(cfg.Notification.EmailPolicy)
	if err != nil {
		log.Fatal("Invalid notification.email_policy", zap.Error(err))
	}
	preferences := preference.NewService(preferenceRepo, log)
	jobQueue := jobqueue.NewQueue(jobStore, cfg.Jobs.MaxAttempts, log)
	notify := notifier.New(preferences, notificationRepo, jobQueue, userRepo, notifier.Config{
		ContentMaxLength: cfg.Notification.ContentMaxLength,
		EmailPolicy:      emailPolicy,
	}, log)
	notifications := notification.NewService(notificationRepo, log)
	replay := jobqueue.NewReplayService(jobStore, log)

	sender := email.NewHTTPSender(email.SenderConfig{
		URL:           cfg.Email.ProviderURL,
		APIKey:        cfg.Email.APIKey,
		From:          cfg.Email.From,
		Timeout:       cfg.Email.Timeout(),
		RatePerSecond: cfg.Email.RatePerSecond,
	}, log)
	processor := jobqueue.NewProcessor(jobStore, email.NewJobHandler(sender, log), jobqueue.ProcessorConfig{
		PollInterval: cfg.Jobs.PollInterval(),
		BatchSize:    cfg.Jobs.BatchSize,
		Concurrency:  cfg.Jobs.Concurrency,
		JobTimeout:   cfg.Jobs.JobTimeout(),
		Backoff:      jobqueue.Backoff{Base: cfg.Jobs.BaseDelay(), Max: cfg.Jobs.MaxDelay()},
	}, log)
	reaper := jobqueue.NewReaper(jobStore, cfg.Jobs.ReaperCron, cfg.Jobs.Lease(), log)

	// MQ Consumer
	eventHandler := mqhandler.NewEventHandler(notify, util.NewDeduper(rdb, dedupTTL, dedupLease, log), log)
	routingKeys := cfg.MQ.RoutingKeys
	if len(routingKeys) == 0 {
		routingKeys = eventHandler.Events()
	}
	consumer, err := mq.NewConsumer(conn, mq.ConsumerConfig{
		Queue:           cfg.MQ.Queue,
		RoutingKeys:     routingKeys,
		Prefetch:        cfg.MQ.Prefetch,
		MaxRedeliveries: cfg.MQ.MaxRedeliveries,
	}, util.NewRetryCounter(rdb, retryTTL), log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(eventHandler.Handle)

	// HTTP
	router := api.NewRouter(
		api.NewNotificationHandler(notifications, preferences, log),
		api.NewJobHandler(replay, log),
		api.RouterConfig{
			JWTSecret:           cfg.JWT.Secret,
			TrustGatewayHeaders: cfg.Server.TrustGatewayHeaders,
			AllowOrigins:        cfg.Server.AllowOrigins,
			ReadinessChecks: map[string]api.ReadinessCheck{
				"postgres": dbConn.Ping,
				"rabbitmq": func(context.Context) error {
					if !publisher.IsConnected() {
						return errors.New("publisher channel closed")
					}
					return nil
				},
			},
		},
		log,
	)
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		return processor.Start(gctx)
	})
	g.Go(func() error {
		return reaper.Start(gctx)
	})
	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("socialnotify is fully initialized and running")

	if err := g.Wait(); err != nil {
		log.Error("socialnotify stopped with error", zap.Error(err))
	}
	log.Info("socialnotify shutdown complete")
}
