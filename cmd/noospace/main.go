// Package main runs the NooSpace server: the posting economy, the harvest
// endpoint and the public feed behind one HTTP listener.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/noospace-net/noospace/internal/app"
	feedsvc "github.com/noospace-net/noospace/internal/app/services/feed"
	harvestsvc "github.com/noospace-net/noospace/internal/app/services/harvest"
	rewardsvc "github.com/noospace-net/noospace/internal/app/services/rewards"
	"github.com/noospace-net/noospace/internal/app/httpapi"
	"github.com/noospace-net/noospace/internal/app/storage/postgres"
	redisstore "github.com/noospace-net/noospace/internal/app/storage/redis"
	"github.com/noospace-net/noospace/internal/app/storage/supabase"
	"github.com/noospace-net/noospace/internal/config"
	"github.com/noospace-net/noospace/pkg/logger"
)

func main() {
	configFile := flag.String("config", "", "Path to optional YAML config file")
	envFile := flag.String("env", "", "Path to optional .env file")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			logger.NewDefault("main").Fatalf("load env file %s: %v", *envFile, err)
		}
	} else {
		// Best effort; a missing .env is normal outside development.
		_ = godotenv.Load()
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.NewDefault("main").Fatalf("load config: %v", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("component", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		log.Fatalf("initialise stores: %v", err)
	}
	defer cleanup()

	application, err := app.New(stores, app.Options{
		Rewards: rewardsvc.Config{
			DailyLimit:       cfg.Economy.DailyLimit,
			MaxChars:         cfg.Economy.MaxChars,
			BaseReward:       cfg.Economy.BaseReward,
			IntentMultiplier: cfg.Economy.IntentMultiplier,
		},
		Harvest: harvestsvc.Config{HarvestDays: cfg.Economy.HarvestDays},
		Feed: feedsvc.Config{
			FeedLimit:     cfg.Economy.FeedLimit,
			SacrificeCost: cfg.Economy.SacrificeCost,
		},
	}, log)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}

	handler := httpapi.NewHandler(application, httpapi.Options{
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
	}, log.WithField("component", "httpapi"))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("application stop failed")
	}
	log.Info("shutdown complete")
}

// buildStores picks the persistence backends from configuration. The cleanup
// function closes whatever was opened.
func buildStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	var stores app.Stores
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Store.Backend {
	case "postgres":
		store, err := postgres.Open(cfg.Store.DatabaseDSN)
		if err != nil {
			return app.Stores{}, cleanup, err
		}
		closers = append(closers, func() { _ = store.Close() })
		if err := store.RunMigrations(cfg.Store.MigrationsPath); err != nil {
			return app.Stores{}, cleanup, err
		}
		stores.Ledgers = store
		stores.Usage = store
		stores.Feed = store
		log.Info("using postgres store")

	case "supabase":
		store, err := supabase.Open(supabase.Config{
			URL:        cfg.Store.SupabaseURL,
			ServiceKey: cfg.Store.SupabaseServiceKey,
		})
		if err != nil {
			return app.Stores{}, cleanup, err
		}
		stores.Ledgers = store
		stores.Usage = store
		stores.Feed = store
		log.Info("using supabase store")

	default:
		// Nil stores default to the shared in-memory implementation.
		log.Info("using in-memory store")
	}

	if cfg.Store.UsageBackend == "redis" {
		usage, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err != nil {
			return app.Stores{}, cleanup, err
		}
		closers = append(closers, func() { _ = usage.Close() })
		stores.Usage = usage
		log.Info("using redis usage counters")
	}

	return stores, cleanup, nil
}
