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

	"github.com/arkwith7/text-to-sql-sub000/internal/api"
	"github.com/arkwith7/text-to-sql-sub000/internal/auth"
	"github.com/arkwith7/text-to-sql-sub000/internal/cache"
	"github.com/arkwith7/text-to-sql-sub000/internal/config"
	"github.com/arkwith7/text-to-sql-sub000/internal/conntest"
	"github.com/arkwith7/text-to-sql-sub000/internal/executor"
	"github.com/arkwith7/text-to-sql-sub000/internal/export"
	"github.com/arkwith7/text-to-sql-sub000/internal/llm"
	"github.com/arkwith7/text-to-sql-sub000/internal/observability"
	"github.com/arkwith7/text-to-sql-sub000/internal/pipeline"
	"github.com/arkwith7/text-to-sql-sub000/internal/result"
	"github.com/arkwith7/text-to-sql-sub000/internal/schema"
	"github.com/arkwith7/text-to-sql-sub000/internal/sqlcheck"
	"github.com/arkwith7/text-to-sql-sub000/internal/sqlgen"
	"github.com/arkwith7/text-to-sql-sub000/internal/store"
	metapostgres "github.com/arkwith7/text-to-sql-sub000/internal/store/postgres"
	s3store "github.com/arkwith7/text-to-sql-sub000/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("textsql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	metaDB, err := metapostgres.Open(context.Background(), metapostgres.DBConfig{
		DSN:             cfg.Metadata.DSN,
		MaxOpenConns:    cfg.Metadata.MaxOpenConns,
		MaxIdleConns:    cfg.Metadata.MaxIdleConns,
		ConnMaxIdleTime: cfg.Metadata.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Metadata.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open metadata db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = metaDB.Close() }()

	metaStore := metapostgres.NewRepository(metaDB)
	memCache := cache.NewMemory()

	var llmClient llm.Client
	if cfg.AI.APIKey != "" {
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize llm client", slog.Any("error", err))
			os.Exit(1)
		}
		llmClient = client
	}

	resolver := &schema.Resolver{
		Introspectors: map[store.DBType]schema.Introspector{
			store.DBTypePostgres: &schema.PostgresIntrospector{},
			store.DBTypeDuckDB:   &schema.DuckDBIntrospector{},
		},
		Cache: memCache,
		Config: schema.ResolverConfig{
			TTL:          cfg.Schema.CacheTTL,
			FetchTimeout: cfg.Schema.FetchTimeout,
			RetryBackoff: cfg.Schema.RetryBackoff,
		},
		Logger: logger,
	}
	if cfg.Schema.EnrichDocs && llmClient != nil {
		resolver.Enricher = &schema.LLMEnricher{Client: llmClient, Timeout: cfg.AI.Timeout}
	}

	var generator sqlgen.Generator
	switch cfg.Generator.Mode {
	case config.GeneratorModeModel:
		generator = &sqlgen.ModelGenerator{Client: llmClient, Timeout: cfg.AI.Timeout}
	default:
		generator = sqlgen.NewRuleGenerator(cfg.Generator.DefaultLimit)
	}

	var archiver pipeline.Archiver
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			Bucket:          cfg.Archive.Bucket,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			UseSSL:          cfg.Archive.UseSSL,
			Prefix:          cfg.Archive.Prefix,
			EnsureBucket:    cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize result archive", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = export.NewArchiver(objectStore, logger)
	}

	broker := pipeline.NewBroker(cfg.Pipeline.StreamBufferSize)
	exec := executor.New(cfg.Pipeline.MaxResultRows, logger)
	defer func() { _ = exec.Close() }()

	runner := &pipeline.Runner{
		Connections: metaStore,
		Chat:        metaStore,
		Resolver:    resolver,
		Generator:   generator,
		Validator:   sqlcheck.New(cfg.Generator.DefaultLimit),
		Executor:    exec,
		Finalizer:   result.NewFinalizer(llmClient, logger),
		Broker:      broker,
		Cache:       memCache,
		Archiver:    archiver,
		Settings: pipeline.Settings{
			GlobalTimeout:    cfg.Pipeline.GlobalTimeout,
			ExecutionTimeout: cfg.Pipeline.ExecutionTimeout,
		},
		Logger: logger,
	}

	deps := api.Dependencies{
		Logger:      logger,
		Runner:      runner,
		Broker:      broker,
		Tester:      conntest.NewTester(metaStore, memCache, 10*time.Second, logger),
		Resolver:    resolver,
		Connections: metaStore,
		Chat:        metaStore,
		Readiness: api.CombineReadinessChecks(
			api.CheckMetadataDSN(cfg),
			api.CheckStore(metaStore),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
