package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/intake/internal/api"
	"github.com/kalambet/intake/internal/archive"
	"github.com/kalambet/intake/internal/cache"
	"github.com/kalambet/intake/internal/config"
	"github.com/kalambet/intake/internal/detect"
	"github.com/kalambet/intake/internal/events"
	"github.com/kalambet/intake/internal/ingest"
	"github.com/kalambet/intake/internal/ollama"
	"github.com/kalambet/intake/internal/pipeline"
	"github.com/kalambet/intake/internal/preprocess"
	"github.com/kalambet/intake/internal/storage"
	"github.com/kalambet/intake/internal/translate"
	"github.com/kalambet/intake/internal/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

// app is the wired service.
type app struct {
	store    *storage.Store
	pipeline *pipeline.Orchestrator
	worker   *ingest.Worker
	handler  http.Handler
	mcp      *server.MCPServer
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.APIToken == "" {
		logger.Warn("INTAKE_API_TOKEN is not set; /v1 routes are unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: a.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	workerDone := make(chan struct{})
	go func() {
		a.worker.Run(ctx)
		close(workerDone)
	}()

	if withMCP {
		stdioSrv := server.NewStdioServer(a.mcp)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("intake listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		printStep("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-workerDone
	// Runs are detached from request contexts; let them reach a terminal
	// status before the store closes.
	a.pipeline.Wait()
	return err
}

// buildApp opens storage and wires the pipeline with its optional
// collaborators. Optional services that cannot be reached are logged and
// left out.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	policy, err := config.LoadPolicy(cfg.Validation.PolicyFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	layer, redisStore := newCache(cfg.Cache, store, logger)
	if redisStore != nil {
		a.closers = append(a.closers, redisStore.Close)
	}

	detector := detect.New(newDetectionMethods(cfg), detect.Options{
		Threshold:        cfg.Detection.Threshold,
		DefaultLanguage:  cfg.Detection.DefaultLanguage,
		AllowedLanguages: cfg.Detection.AllowedLanguages,
		Cache:            layer,
		Logger:           logger,
	})

	providers, err := translate.BuildProviders(cfg.Translation.Providers, translate.Settings{
		GoogleAPIKey:  cfg.Translation.GoogleAPIKey,
		GoogleBaseURL: cfg.Translation.GoogleBaseURL,
		IndicTransURL: cfg.Translation.IndicTransURL,
		NLLBURL:       cfg.Translation.NLLBURL,
		HFAPIKey:      cfg.Translation.HFAPIKey,
		OllamaBaseURL: cfg.Translation.OllamaBaseURL,
		OllamaModel:   cfg.Translation.OllamaModel,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if slices.Contains(cfg.Translation.Providers, "ollama") {
		if err := ollama.CheckModel(ctx, ollama.New(cfg.Translation.OllamaBaseURL), cfg.Translation.OllamaModel); err != nil {
			logger.Warn("ollama translation provider unavailable", "error", err)
		}
	}
	translator := translate.New(providers, translate.Options{
		Threshold:       cfg.Translation.Threshold,
		ProviderTimeout: cfg.Translation.ProviderTimeout,
		MaxRetries:      cfg.Translation.MaxRetries,
		InitialBackoff:  cfg.Translation.InitialBackoff,
		Cache:           layer,
		Logger:          logger,
	})

	publisher := newPublisher(cfg.Events, logger)
	a.closers = append(a.closers, publisher.Close)

	deps := pipeline.Deps{
		Store: store,
		Validator: validate.New(validate.Rules{
			MinLength:      cfg.Validation.MinLength,
			MaxLength:      cfg.Validation.MaxLength,
			ForbiddenTerms: policy.ForbiddenTerms,
		}),
		Detector:   detector,
		Translator: translator,
		Normalizer: preprocess.New(policy.Typos),
		Publisher:  publisher,
		Logger:     logger,
	}
	appDeps := api.AppDeps{
		Store:   store,
		Token:   cfg.Server.APIToken,
		Version: version,
	}
	if arch := newArchive(ctx, cfg.Archive, logger); arch != nil {
		deps.Archiver = arch
		appDeps.Archive = arch
	}

	a.pipeline = pipeline.New(deps, pipeline.Options{
		TargetLanguage: cfg.Translation.TargetLanguage,
		Deadline:       cfg.Pipeline.Deadline,
		Concurrency:    cfg.Pipeline.Concurrency,
	})
	a.worker = ingest.NewWorker(store, a.pipeline, cfg.Pipeline.PollInterval, cfg.Pipeline.Concurrency).WithLogger(logger)

	appDeps.Pipeline = a.pipeline
	if redisStore != nil {
		appDeps.Redis = redisStore
	}
	if redisStore != nil && cfg.RateLimit.PerMinute > 0 {
		appDeps.RateLimit = api.RateLimit(api.RateLimitConfig{
			Counter:        api.RedisCounter{Client: redisStore.Client()},
			Limit:          cfg.RateLimit.PerMinute,
			Window:         time.Minute,
			Logger:         logger,
			TrustedProxies: cfg.RateLimit.TrustedProxies,
		})
	}
	a.handler = api.NewAppHandler(appDeps)
	a.mcp = api.NewMCPServer(api.MCPDeps{Pipeline: a.pipeline, Settings: config.ShowAll(cfg)})

	report := a.pipeline.Providers()
	logger.Info("pipeline ready",
		"detection", report.DetectionMethods,
		"translation_available", report.AvailableProviders,
		"target", report.TargetLanguage,
		"cache", cfg.Cache.Backend)
	return a, nil
}

// newCache returns the cache layer for the configured backend, and the Redis
// store when the backend is Redis so the rate limiter and health checks can
// share its client.
func newCache(cfg config.CacheConfig, store *storage.Store, logger *slog.Logger) (*cache.Layer, *cache.RedisStore) {
	opts := cache.Options{
		TTLs: map[string]time.Duration{
			cache.NamespaceDetection:   cfg.DetectionTTL,
			cache.NamespaceTranslation: cfg.TranslationTTL,
		},
		OpTimeout: cfg.OpTimeout,
		Logger:    logger,
	}
	switch cfg.Backend {
	case "redis":
		rs := cache.NewRedisStore(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return cache.NewLayer(rs, opts), rs
	case "sqlite":
		return cache.NewLayer(cache.NewSQLiteStore(store), opts), nil
	default:
		return nil, nil
	}
}

func newDetectionMethods(cfg config.Config) []detect.Method {
	methods := []detect.Method{
		detect.NewLingua(cfg.Detection.AllowedLanguages),
		detect.Whatlang{},
	}
	if cfg.Translation.GoogleAPIKey != "" {
		methods = append(methods, detect.NewGoogle(cfg.Translation.GoogleBaseURL, cfg.Translation.GoogleAPIKey))
	}
	return methods
}

func newPublisher(cfg config.EventsConfig, logger *slog.Logger) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.Nop{}
	}
	pub, err := events.DialAMQP(cfg.AMQPURL, cfg.Exchange, cfg.RoutingKey)
	if err != nil {
		logger.Warn("record events disabled", "error", err)
		return events.Nop{}
	}
	logger.Info("publishing record events", "exchange", cfg.Exchange)
	return pub
}

func newArchive(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) *archive.S3 {
	if cfg.Endpoint == "" {
		return nil
	}
	s3, err := archive.New(archive.Options{
		Endpoint:  cfg.Endpoint,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
	})
	if err != nil {
		logger.Warn("record archive disabled", "error", err)
		return nil
	}
	bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s3.EnsureBucket(bctx); err != nil {
		logger.Warn("record archive disabled", "bucket", cfg.Bucket, "error", err)
		return nil
	}
	return s3
}
