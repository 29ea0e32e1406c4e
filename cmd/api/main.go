package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/helpdeskhq/ticket-triage/internal/api/http"
	"github.com/helpdeskhq/ticket-triage/internal/api/http/handlers"
	"github.com/helpdeskhq/ticket-triage/internal/auth"
	"github.com/helpdeskhq/ticket-triage/internal/config"
	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/mail"
	"github.com/helpdeskhq/ticket-triage/internal/observability"
	"github.com/helpdeskhq/ticket-triage/internal/persistence"
	"github.com/helpdeskhq/ticket-triage/internal/pipeline"
	"github.com/helpdeskhq/ticket-triage/internal/service"
	"github.com/helpdeskhq/ticket-triage/internal/triage"
	"github.com/helpdeskhq/ticket-triage/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer backend.Close()
	store := backend.Store

	var redis *persistence.Redis
	var queue events.Queue = events.NewMemoryQueue(cfg.Events.BufferSize)
	var memo pipeline.Memo = pipeline.NoMemo()
	if cfg.Pipeline.MemoEnabled {
		memo = pipeline.NewMemoryMemo(cfg.Pipeline.MemoTTL())
	}
	if cfg.Events.Transport == config.EventsTransportRedis {
		redis, err = persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redis.Close()
		queue = events.NewRedisQueue(redis.Client, cfg.Events.QueuePrefix, cfg.Events.VisibilityTimeout())
		if cfg.Pipeline.MemoEnabled {
			memo = pipeline.NewRedisMemo(redis.Client, cfg.Events.QueuePrefix, cfg.Pipeline.MemoTTL())
		}
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewQueueDispatcher(queue)
	relay := worker.NewOutboxRelay(store.Outbox, dispatcher, cfg.Events.OutboxPollInterval(), cfg.Events.OutboxBatchSize, logger)
	if cfg.Events.Transport == config.EventsTransportMemory {
		// The in-process queue is lost on exit; rows stay pending until their delivery settles.
		relay.SettleOnAck()
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL())
	var identity auth.IdentityProvider
	if cfg.Google.ClientID != "" {
		identity = auth.NewGoogleProvider(cfg.Google)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not provided; only password login is available")
	}

	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:   store.Users,
		Tokens:     tokens,
		Identity:   identity,
		Dispatcher: dispatcher,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: store.Tickets,
		UserRepo:   store.Users,
		Relay:      relay,
		Logger:     logger,
	})
	adminService := service.NewAdminService(service.AdminDependencies{UserRepo: store.Users})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		UserRepo:      store.Users,
		FallbackEmail: cfg.Pipeline.FallbackAssigneeEmail,
		Logger:        logger,
	})
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		Gateway:    mail.NewGateway(cfg.Mail, logger),
		Dispatcher: dispatcher,
		Config:     cfg.Mail,
		Logger:     logger,
	})
	notificationService.RegisterHandlers()

	var analyzer triage.Analyzer
	if cfg.AI.APIKey != "" {
		analyzer = triage.NewClient(cfg.AI)
	} else {
		logger.Warn("AI_API_KEY not provided; tickets will be triaged with the fallback suggestion")
	}
	pipeline.New(pipeline.Dependencies{
		Tickets:  store.Tickets,
		Analyzer: analyzer,
		Selector: assignmentService,
		Notifier: notificationService,
		Memo:     memo,
		Config:   pipeline.Config{AITimeout: cfg.AI.Timeout(), MailTimeout: cfg.Mail.Timeout()},
		Logger:   logger,
		Metrics:  metrics,
	}).Register(dispatcher)

	eventWorker := worker.NewEventWorker(queue, dispatcher, worker.EventWorkerConfig{
		Workers:         cfg.Events.Workers,
		MaxAttempts:     cfg.Pipeline.MaxAttempts,
		Backoff:         cfg.Pipeline.Backoff(),
		DeliveryTimeout: cfg.Events.DeliveryTimeout(),
		ReclaimInterval: cfg.Events.VisibilityTimeout() / 4,
	}, logger, metrics)
	if cfg.Events.Transport == config.EventsTransportMemory {
		eventWorker.OnSettled(relay.Settle)
	}

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		eventWorker.Run(ctx)
	}()
	go func() {
		defer background.Done()
		relay.Run(ctx)
	}()

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareConfig{
		Timeout:        cfg.App.RequestTimeout(),
		AllowedOrigins: cfg.App.AllowedOrigins,
	})

	deps := map[string]handlers.Pinger{backend.Driver: backend}
	if redis != nil {
		deps["redis"] = redis
	}
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps, metrics),
		Auth:           handlers.NewAuthHandler(authService, handlers.CookieConfig{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Admin:          handlers.NewAdminHandler(adminService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, cfg.Auth.CookieName),
		Users:          store.Users,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	background.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
