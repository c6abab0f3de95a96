package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lumina/internal/adapter/repo"
	"lumina/internal/domain"
	"lumina/internal/events"
	"lumina/internal/export"
	"lumina/internal/http/handlers"
	httpapi "lumina/internal/http/httpapi"
	"lumina/internal/infra"
	"lumina/internal/infra/credentials"
	"lumina/internal/infra/geoip"
	"lumina/internal/middleware"
	"lumina/internal/providers/genai"
	imageprovider "lumina/internal/providers/image"
	"lumina/internal/queue"
	"lumina/internal/registry"
	"lumina/internal/storage"
)

func main() {
	if err := infra.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}
	hub := events.NewHub(logger, middleware.OriginAllowed(cfg.CORSAllowedOrigins))

	var (
		keyStore credentials.KeyStore
		attempts domain.AttemptRepository = repo.NewAttemptMemoryRepository(0)
	)
	if cfg.HasDatabase() {
		if err := infra.Migrate(ctx, cfg.DatabaseURL, logger); err != nil {
			logger.Fatal().Err(err).Msg("api: migrations failed")
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to connect database")
		}
		defer pool.Close()
		runner := infra.NewSQLRunner(pool, logger)
		keyStore = credentials.NewStore(runner)
		attempts = repo.NewAttemptRepository(runner)
	} else {
		logger.Warn().Msg("api: DATABASE_URL not set, keeping credentials and attempts in memory")
	}
	gate := credentials.NewGate(cfg.GeminiAPIKey, keyStore, hub, logger)

	tiers := imageprovider.DefaultTierMap()
	if cfg.TierConfigPath != "" {
		if tiers, err = imageprovider.LoadTierMap(cfg.TierConfigPath); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.TierConfigPath).Msg("api: invalid tier config")
		}
	}
	client, err := genai.NewClient(genai.Options{
		KeySource: gate.APIKey,
		BaseURL:   cfg.GeminiBaseURL,
		Model:     cfg.GeminiBaseModel,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure gemini client")
	}
	selection, err := imageprovider.NewEnhancer(cfg.EnhancerProvider, client, tiers, cfg.GeminiBaseModel, cfg.GeminiEnhancedModel, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure enhancer")
	}

	reg := registry.New(store, logger)
	processor := queue.NewProcessor(reg, store, selection.Enhancer, nil, queue.Config{
		SettleDelay:        cfg.QueueSettleDelay,
		CallTimeout:        cfg.EnhanceTimeout,
		RequiresCredential: selection.RequiresCredential,
	},
		queue.WithGate(gate),
		queue.WithNotifier(hub),
		queue.WithRecorder(attempts),
		queue.WithLogger(logger),
	)

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer resolver.Close()
	var lookup middleware.CountryLookup
	if resolver != nil {
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		Registry:  reg,
		Store:     store,
		Processor: processor,
		Exporter:  export.NewExporter(store, cfg.ArchivePrefix, logger),
		Gate:      gate,
		Attempts:  attempts,
		Events:    hub,
		Logger:    logger,
	}
	router := httpapi.NewRouter(app, httpapi.Config{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
		RateLimit:      cfg.RateLimitPerMin,
		CountryLookup:  lookup,
		Events:         hub,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := processor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().
			Str("addr", server.Addr()).
			Str("provider", cfg.EnhancerProvider).
			Msg("api: listening")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: failed to shutdown server")
		}
		removed := reg.Clear(shutdownCtx)
		logger.Info().Int("released", removed).Msg("api: session cleared")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api: stopped")
}
