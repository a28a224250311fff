// Package app assembles the engine: config, stores, networks, the
// orchestrator, webhook delivery and the v1 HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/crossborder/core/internal/adapters"
	"github.com/crossborder/core/internal/config"
	"github.com/crossborder/core/internal/database"
	"github.com/crossborder/core/internal/events"
	"github.com/crossborder/core/internal/middleware"
	"github.com/crossborder/core/internal/modules/auth"
	"github.com/crossborder/core/internal/modules/compliance"
	"github.com/crossborder/core/internal/modules/payment"
	"github.com/crossborder/core/internal/modules/quote"
	"github.com/crossborder/core/internal/modules/webhook"
	pkgcron "github.com/crossborder/core/internal/pkg/cron"
	"github.com/crossborder/core/internal/pkg/idempotency"
	"github.com/crossborder/core/internal/pkg/jwt"
	pkgredis "github.com/crossborder/core/internal/pkg/redis"
	"github.com/crossborder/core/internal/store"
	"github.com/crossborder/core/internal/store/gormstore"
	"github.com/crossborder/core/internal/store/memory"
)

// replayTTL bounds how long an Idempotency-Key can be replayed.
const replayTTL = 24 * time.Hour

// App holds all application dependencies.
type App struct {
	cfg        *config.Config
	router     *gin.Engine
	logger     *zap.Logger
	dispatcher *webhook.Dispatcher
	sched      *pkgcron.Scheduler
	redis      *pkgredis.Client
	db         *gorm.DB
	cancel     context.CancelFunc
}

type stores struct {
	quotes   store.QuoteStore
	payments store.PaymentStore
	events   store.EventStore
	subs     store.SubscriptionStore
}

// New initializes the application: stores → networks → services → routes.
func New(logger *zap.Logger, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	jwt.SetSecret(cfg.Auth.JWTSecret)

	a := &App{cfg: cfg, logger: logger}

	if cfg.Database.Enable {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
	}
	st := a.buildStores()

	var idemIndex idempotency.Index = idempotency.NewMemoryIndex(replayTTL)
	if cfg.Redis.Enable {
		rc, err := pkgredis.Connect(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rc
		idemIndex = idempotency.NewRedisIndex(rc.Raw(), replayTTL)
	}

	registry := adapters.NewRegistry(adapters.SimOptions{})
	bus := events.NewBus()

	a.dispatcher = webhook.NewDispatcher(st.subs, webhook.DispatcherConfig{
		MaxRetries:   cfg.Dispatcher.MaxRetries,
		InitialDelay: time.Duration(cfg.Dispatcher.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Dispatcher.MaxDelayMs) * time.Millisecond,
		Timeout:      time.Duration(cfg.Dispatcher.TimeoutMs) * time.Millisecond,
	}, logger)
	bus.Subscribe(a.dispatcher.HandleEvent)

	checker := compliance.NewChecker(logger, compliance.WithWindow(cfg.Compliance.VelocityWindow()))
	quoteSvc := quote.NewService(st.quotes, registry, logger)
	orchestrator := payment.NewOrchestrator(st.payments, st.events, quoteSvc, checker, registry, bus, logger)
	webhookSvc := webhook.NewService(st.subs, a.dispatcher, logger)

	clients := apiClients(cfg.Auth.APIKeys)
	authSvc := auth.NewService(clients, cfg.Auth.TokenTTL(), logger)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.Server.AllowedOrigins))

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.sched = pkgcron.New(logger)
	a.registerCronJobs(quoteSvc, checker)
	go a.sched.Start(ctx)

	a.router = router
	a.registerRoutes(routeDeps{
		clients:      clients,
		idemIndex:    idemIndex,
		registry:     registry,
		quotes:       quoteSvc,
		orchestrator: orchestrator,
		webhooks:     webhookSvc,
		auth:         authSvc,
	})
	return a, nil
}

func (a *App) buildStores() stores {
	if a.db != nil {
		return stores{
			quotes:   gormstore.NewQuoteStore(a.db),
			payments: gormstore.NewPaymentStore(a.db),
			events:   gormstore.NewEventStore(a.db),
			subs:     gormstore.NewSubscriptionStore(a.db),
		}
	}
	return stores{
		quotes:   memory.NewQuoteStore(),
		payments: memory.NewPaymentStore(),
		events:   memory.NewEventStore(),
		subs:     memory.NewSubscriptionStore(),
	}
}

func (a *App) registerCronJobs(quotes *quote.Service, checker *compliance.Checker) {
	a.sched.Register(pkgcron.Job{
		Name:        "quote-sweep",
		Description: "Remove expired quotes",
		Interval:    time.Duration(a.cfg.Quotes.SweepIntervalS) * time.Second,
		Fn:          quotes.Cleanup,
	})
	a.sched.Register(pkgcron.Job{
		Name:        "compliance-history-prune",
		Description: "Drop sender velocity history outside the window",
		Interval:    a.cfg.Compliance.VelocityWindow(),
		Fn:          checker.Prune,
	})
}

func apiClients(keys []config.APIKeyConfig) []middleware.APIClient {
	out := make([]middleware.APIClient, len(keys))
	for i, k := range keys {
		out[i] = middleware.APIClient{
			ID:         k.ClientID,
			Key:        k.Key,
			SecretHash: k.SecretHash,
			Scopes:     k.Scopes,
		}
	}
	return out
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "Idempotency-Key", "X-Correlation-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Correlation-Id"},
		AllowCredentials: true,
	}
	if len(allowedOrigins) > 0 {
		cfg.AllowOrigins = allowedOrigins
	} else {
		cfg.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(cfg)
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Server.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background work: cron jobs, webhook retries, connections.
func (a *App) Shutdown() {
	a.cancel()
	a.dispatcher.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
