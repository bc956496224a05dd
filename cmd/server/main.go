package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/api"
	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/channel/email"
	"github.com/lalith-99/unifiedinbox/internal/channel/meta"
	"github.com/lalith-99/unifiedinbox/internal/channel/slack"
	"github.com/lalith-99/unifiedinbox/internal/channel/twilio"
	"github.com/lalith-99/unifiedinbox/internal/channel/twitter"
	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/db"
	"github.com/lalith-99/unifiedinbox/internal/dispatch"
	"github.com/lalith-99/unifiedinbox/internal/identity"
	"github.com/lalith-99/unifiedinbox/internal/ingest"
	"github.com/lalith-99/unifiedinbox/internal/lock"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/observ"
	"github.com/lalith-99/unifiedinbox/internal/outbound"
	"github.com/lalith-99/unifiedinbox/internal/realtime"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"github.com/lalith-99/unifiedinbox/internal/repository/memory"
	"github.com/lalith-99/unifiedinbox/internal/repository/postgres"
	"github.com/lalith-99/unifiedinbox/internal/syncer"
	"github.com/lalith-99/unifiedinbox/internal/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the whole process together and blocks until shutdown.
//
// The order matters and each step only depends on the ones above it:
//  1. Config and logger come first so every later failure is logged.
//  2. The store is picked by STORE: postgres or memory. With AUTO_MIGRATE
//     the migrations run before the pool is opened.
//  3. Locks use Redis when REDIS_URL is set, so several instances share
//     the dispatcher claim and the automatic sync gate.
//  4. Channel adapters are built from config. An adapter without
//     credentials is still registered; it reports ErrNotConfigured.
//  5. Services (identity, ingest, outbound, sync, dispatcher) are layered
//     on the store and the registry.
//  6. The HTTP server serves webhooks, the REST API and metrics.
//
// run returns when the server fails or on SIGINT/SIGTERM. Shutdown stops
// the dispatcher first, then drains HTTP, both bounded by shutdownTimeout.
func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Store
	//
	// STORE=memory runs without Postgres, for local hacking and demos.
	// ---------------------------------------------------------------
	var store repository.Store
	switch cfg.Store {
	case "memory":
		store = memory.New()
		logger.Warn("using in-memory store; data is lost on restart")
	case "postgres":
		if cfg.AutoMigrate {
			if err := db.Migrate(logger, cfg.DatabaseURL, "up", nil); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		database, err := db.New(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxConns:        cfg.DBPool.MaxConns,
			MinConns:        cfg.DBPool.MinConns,
			MaxConnLifetime: cfg.DBPool.MaxConnLifetime,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()
		store = postgres.NewStore(database.Pool())
	default:
		return fmt.Errorf("unknown STORE %q (use postgres or memory)", cfg.Store)
	}

	// Webhooks, sync and the dispatcher act as this user.
	devUser, err := store.Users().Ensure(ctx, cfg.DevUserEmail, "Inbox Owner")
	if err != nil {
		return fmt.Errorf("ensure dev user: %w", err)
	}
	system := auth.System(devUser.ID)

	// ---------------------------------------------------------------
	// 3. Locks
	//
	// With Redis, the dispatcher run lock and the automatic-sync gate
	// hold across every instance. Without it they are per process.
	// ---------------------------------------------------------------
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb, "inbox:", logger)
		logger.Info("using redis locks")
	}

	// ---------------------------------------------------------------
	// 4. Channel adapters
	// ---------------------------------------------------------------
	twilioAPI := twilio.NewAPI(cfg.Twilio)
	graph := meta.NewGraph(cfg.Meta, cfg.VendorTimeout)
	slackAdapter := slack.New(cfg.Slack, logger)
	emailAdapter, err := email.New(cfg.Email, logger)
	if err != nil {
		return fmt.Errorf("email adapter: %w", err)
	}

	registry := channel.NewRegistry()
	registry.MustRegister(
		twilio.NewSMS(cfg.Twilio, twilioAPI, logger),
		twilio.NewWhatsApp(cfg.Twilio, twilioAPI, logger),
		meta.NewFacebook(graph, logger),
		meta.NewInstagram(graph, logger),
		twitter.New(cfg.Twitter, cfg.VendorTimeout, logger),
		slackAdapter,
		emailAdapter,
	)
	caller := twilio.NewCaller(cfg.Twilio, twilioAPI)

	configured := make([]string, 0, len(registry.Configured()))
	for _, ch := range registry.Configured() {
		configured = append(configured, string(ch))
	}
	logger.Info("channels configured", zap.Strings("channels", configured), zap.Bool("voice", caller.Configured()))

	// ---------------------------------------------------------------
	// 5. Services
	// ---------------------------------------------------------------
	hub := realtime.NewHub()
	resolver := identity.NewResolver(store, logger)
	pipeline := ingest.New(store, resolver, hub, logger)
	sender := outbound.New(store, registry, caller, hub, cfg.VendorTimeout, logger).
		WithMediaBase(cfg.PublicBaseURL)
	sync := syncer.New(registry, pipeline, locker, syncer.Config{
		DefaultLimit: cfg.Sync.DefaultLimit,
		MinInterval:  cfg.Sync.MinInterval,
	}, logger)

	dispatcher := dispatch.New(store, registry, caller, locker, hub, dispatch.Config{
		Interval:    cfg.Dispatch.Interval,
		BatchSize:   cfg.Dispatch.BatchSize,
		LockTTL:     cfg.Dispatch.LockTTL,
		SendTimeout: cfg.VendorTimeout,
	}, logger)
	if cfg.Dispatch.Enabled {
		if err := dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("start dispatcher: %w", err)
		}
	}

	// ---------------------------------------------------------------
	// 6. HTTP
	// ---------------------------------------------------------------
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Recovery(), middleware.RequestLogger(logger))

	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv.GET("/metrics", gin.WrapH(promhttp.Handler()))

	hooks := webhook.New(pipeline, system, webhook.Config{
		TwilioAuthToken:    cfg.Twilio.AuthToken,
		ValidateTwilio:     cfg.Twilio.ValidateSignature,
		PublicBaseURL:      cfg.PublicBaseURL,
		MetaVerifyToken:    cfg.Meta.VerifyToken,
		SlackSigningSecret: cfg.Slack.SigningSecret,
		ResendSecret:       cfg.Email.WebhookSecret,
		GenericSecret:      cfg.GenericWebhookSecret,
	}, slackAdapter, logger)
	hooks.Register(srv.Group("/webhooks"))

	routes := api.Routes{
		Auth:     api.NewAuthHandler(store.Users(), cfg.JWTSecret, logger),
		Users:    api.NewUserHandler(store.Users(), logger),
		Contacts: api.NewContactHandler(store, resolver, hub, logger),
		Messages: api.NewMessageHandler(store, sender, logger),
		Notes:    api.NewNoteHandler(store, logger),
		Sync:     api.NewSyncHandler(sync, registry, logger),
		Calls:    api.NewCallHandler(store, sender, logger),
		Stream:   api.NewStreamHandler(hub, logger),
	}
	v1 := srv.Group("/v1")
	routes.RegisterPublic(v1)

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(middleware.AuthOptions{
		Secret:         cfg.JWTSecret,
		AllowAnonymous: cfg.AllowAnonymous,
		DevUserID:      devUser.ID,
	}))
	routes.Register(authed)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting unified inbox",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Store),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher stop", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
