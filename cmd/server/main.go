package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"engagement-engine/internal/ai"
	"engagement-engine/internal/api"
	"engagement-engine/internal/automation"
	"engagement-engine/internal/clock"
	"engagement-engine/internal/config"
	"engagement-engine/internal/database"
	"engagement-engine/internal/runner"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/ticket"
	"engagement-engine/internal/webhook"
	"engagement-engine/internal/whatsapp"
	"engagement-engine/internal/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.LoadConfig()
	db, err := database.Open(cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache tenant.Cache
	if cfg.RedisURL != "" {
		redisCache, err := tenant.NewRedisCache(cfg.RedisURL, cfg.RedisPassword, tenant.DefaultTTL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
	}

	clk := clock.Real()
	tenants := tenant.NewResolver(db, cache, cfg.Engine, logger)
	creds := automation.NewCredentialStore(db, whatsapp.Credentials{
		AccessToken:   cfg.WhatsAppToken,
		PhoneNumberID: cfg.PhoneNumberID,
	})
	whatsappClient := whatsapp.NewClient(cfg.WhatsAppAPIURL)

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	engine := automation.NewEngine(db, tenants, creds, automation.NewDispatcher(whatsappClient), automation.Options{
		Clock:     clk,
		SendDelay: cfg.Engine.SendDelay,
		Events:    hub,
		Logger:    logger,
	})
	tickets := ticket.NewManager(db, tenants, clk, logger)
	tickets.SetListener(engine)
	sweeper := runner.New(engine, tenants, cfg.Engine.SweepConcurrency, logger)

	webhookOpts := webhook.Options{
		VerifyToken: cfg.VerifyToken,
		NewResponder: func(apiKey string) webhook.Responder {
			return ai.NewClient(apiKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		},
		Events: hub,
		Clock:  clk,
		Logger: logger,
	}
	if cfg.OpenAIAPIKey != "" {
		webhookOpts.Responder = ai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	}
	webhookHandler := webhook.NewHandler(db, engine, creds, tenants, whatsappClient, webhookOpts)

	if cfg.FunctionsJWTSecret == "" {
		logger.Warn("FUNCTIONS_JWT_SECRET is empty; /functions endpoints are unauthenticated")
	}

	gin.SetMode(gin.ReleaseMode)
	r := api.NewRouter(api.Deps{
		DB:          db,
		Engine:      engine,
		Runner:      sweeper,
		Tickets:     tickets,
		Tenants:     tenants,
		Credentials: creds,
		Provider:    whatsappClient,
		Webhook:     webhookHandler,
		Hub:         hub,
		JWTSecret:   cfg.FunctionsJWTSecret,
		SendDelay:   cfg.Engine.SendDelay,
		Clock:       clk,
		Logger:      logger,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}
