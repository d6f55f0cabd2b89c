// Command runner performs one scheduled sweep and exits. It is meant to be
// started by cron or a scheduler.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/clock"
	"engagement-engine/internal/config"
	"engagement-engine/internal/database"
	"engagement-engine/internal/runner"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/whatsapp"

	flag "github.com/spf13/pflag"
)

func main() {
	only := flag.String("only", "", "comma separated triggers to sweep (birthday,no_response,schedule)")
	tenantIDs := flag.StringSlice("tenant", nil, "restrict the sweep to these tenants")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	kinds, err := runner.ParseKinds(*only)
	if err != nil {
		logger.Error("invalid --only", "error", err)
		os.Exit(2)
	}

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
			logger.Warn("redis unavailable, reading settings from the database", "error", err)
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}

	tenants := tenant.NewResolver(db, cache, cfg.Engine, logger)
	creds := automation.NewCredentialStore(db, whatsapp.Credentials{
		AccessToken:   cfg.WhatsAppToken,
		PhoneNumberID: cfg.PhoneNumberID,
	})
	engine := automation.NewEngine(db, tenants, creds, automation.NewDispatcher(whatsapp.NewClient(cfg.WhatsAppAPIURL)), automation.Options{
		Clock:     clock.Real(),
		SendDelay: cfg.Engine.SendDelay,
		Logger:    logger,
	})

	result, err := runner.New(engine, tenants, cfg.Engine.SweepConcurrency, logger).Sweep(ctx, kinds, *tenantIDs...)
	if err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	if result.Interrupted {
		logger.Warn("sweep interrupted; remaining tenants run on the next invocation")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("write result", "error", err)
	}
}
