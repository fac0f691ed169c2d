package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/api/ws"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/realtime"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
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

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	messageRepo := repository.NewChatMessageRepository(pool)
	transitionRepo := repository.NewTransitionRepository(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	instanceID := cfg.Realtime.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	hub := realtime.NewHub()
	registry := realtime.NewRegistry(ticketRepo, cfg.Chat.StoreTimeout())
	monitor := realtime.NewMonitor(cfg.Chat.InactivityWindow())
	broadcaster := realtime.NewBroadcaster(hub, registry, logger, metrics, redis.ClientHandle(), cfg.Realtime.EventChannel, instanceID)
	dispatcher.SubscribeAll(broadcaster.HandleEvent)

	relay := realtime.NewRelay(redis.ClientHandle(), cfg.Realtime.EventChannel, instanceID, broadcaster, logger)
	go relay.Run(ctx)

	locks := service.NewKeyedMutex()
	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{
		TicketRepo:     ticketRepo,
		MessageRepo:    messageRepo,
		TransitionRepo: transitionRepo,
		Dispatcher:     dispatcher,
		Monitor:        monitor,
		Locks:          locks,
		Logger:         logger,
		StoreTimeout:   cfg.Chat.StoreTimeout(),
	})
	monitor.SetExpiryHandler(func(ticketID string) {
		if err := lifecycle.AutoCloseOnInactivity(ticketID); err != nil {
			logger.Warn("inactivity close", zap.String("ticket_id", ticketID), zap.Error(err))
		}
	})

	chat := service.NewChatService(service.ChatDependencies{
		TicketRepo:   ticketRepo,
		MessageRepo:  messageRepo,
		Dispatcher:   dispatcher,
		Monitor:      monitor,
		Locks:        locks,
		Logger:       logger,
		StoreTimeout: cfg.Chat.StoreTimeout(),
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(userRepo, tokens, cfg.Auth.BcryptCost, cfg.Chat.StoreTimeout(), logger)
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo)

	notifications := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	notifications.RegisterHandlers()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, time.Duration(cfg.App.RequestTimeoutSeconds)*time.Second)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, hub),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(lifecycle),
		Chats:          handlers.NewChatsHandler(chat),
		Users:          handlers.NewUsersHandler(userRepo),
		Realtime:       ws.NewHandler(tokens, hub, registry, lifecycle, chat, cfg.Realtime, logger),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
