package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/conversation-service/internal/api/http"
	"github.com/spec-kit/conversation-service/internal/api/http/handlers"
	"github.com/spec-kit/conversation-service/internal/auth"
	"github.com/spec-kit/conversation-service/internal/config"
	"github.com/spec-kit/conversation-service/internal/events"
	"github.com/spec-kit/conversation-service/internal/observability"
	"github.com/spec-kit/conversation-service/internal/persistence"
	"github.com/spec-kit/conversation-service/internal/repository"
	"github.com/spec-kit/conversation-service/internal/service"
	"github.com/spec-kit/conversation-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	natsConn, err := persistence.NewNATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("failed to connect nats", zap.Error(err))
	}
	defer natsConn.Close()

	pool := pg.PoolHandle()
	eventRepo := repository.NewEventRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool, eventRepo)
	roomRepo := repository.NewRoomRepository(pool)
	memberRepo := repository.NewMemberRepository(pool)
	orgRepo := repository.NewOrganizationRepository(pool)
	metricRepo := repository.NewMetricRepository(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	recorder := service.NewMetricRecorder(metricRepo, metrics, logger)

	slaService := service.NewSlaService(roomRepo, orgRepo, redis.Client, cfg.Sla.ThresholdCacheTTL(), logger)
	lifecycleService := service.NewLifecycleService(service.LifecycleDependencies{
		ConversationRepo: conversationRepo,
		RoomRepo:         roomRepo,
		MemberRepo:       memberRepo,
		Recorder:         recorder,
		Dispatcher:       dispatcher,
		Metrics:          metrics,
		Logger:           logger,
	})
	insightsService := service.NewInsightsService(conversationRepo, roomRepo, metrics, nil, logger)

	notifications := service.NewNotificationService(dispatcher, buildPublisher(cfg, redis, natsConn, logger), logger)
	notifications.RegisterHandlers()

	overdueWorker := worker.NewOverdueWorker(worker.OverdueWorkerDependencies{
		ConversationRepo: conversationRepo,
		RoomRepo:         roomRepo,
		Lifecycle:        lifecycleService,
		Sla:              slaService,
		Dispatcher:       dispatcher,
		Metrics:          metrics,
		Interval:         cfg.Sla.SweepInterval(),
		Logger:           logger,
	})
	go overdueWorker.Run(ctx)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Conversations:  handlers.NewConversationsHandler(lifecycleService, conversationRepo),
		Insights:       handlers.NewInsightsHandler(insightsService),
		Rooms:          handlers.NewRoomsHandler(roomRepo, slaService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	metricsServer := &http.Server{Addr: cfg.App.MetricsAddr(), Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = metricsServer.Shutdown(context.Background())
	_ = app.Shutdown()
}

func buildPublisher(cfg *config.Config, redis *persistence.Redis, natsConn *persistence.NATS, logger *zap.Logger) service.Publisher {
	switch cfg.Notify.Publisher {
	case "redis":
		return persistence.NewRedisStreamPublisher(redis.Client, cfg.Notify.RedisStream)
	case "nats":
		if natsConn.JS == nil {
			logger.Warn("nats publisher requested but NATS is not connected; falling back to log")
			return nil
		}
		return persistence.NewNATSPublisher(natsConn.JS, cfg.NATS.Subject)
	default:
		return nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
