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

	"github.com/querylens/querylens/internal/api"
	"github.com/querylens/querylens/internal/ask"
	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/gateway"
	duckdbgateway "github.com/querylens/querylens/internal/gateway/duckdb"
	pggateway "github.com/querylens/querylens/internal/gateway/postgres"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/schema"
	schemapg "github.com/querylens/querylens/internal/schema/postgres"
	s3store "github.com/querylens/querylens/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querylens-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	startupCtx := context.Background()

	var (
		executionGateway gateway.Gateway
		schemaLoader     schema.Loader
		readiness        api.ReadinessCheck
	)

	switch cfg.Database.Backend {
	case config.BackendPostgres:
		db, err := pggateway.Open(startupCtx, pggateway.DBConfig{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		executionGateway, err = pggateway.NewGateway(db, pggateway.Config{
			AcquireTimeout:   cfg.Database.AcquireTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
			MaxRows:          cfg.Database.MaxRows,
		})
		if err != nil {
			logger.Error("failed to build execution gateway", slog.Any("error", err))
			os.Exit(1)
		}
		if cfg.Schema.Source == "file" {
			schemaLoader = schema.FileLoader{Path: cfg.Schema.Path}
		} else {
			schemaLoader = schemapg.NewLoader(db, "")
		}
		readiness = func(ctx context.Context) error { return db.PingContext(ctx) }

	case config.BackendDuckDB:
		store, err := s3store.New(s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		executionGateway, err = duckdbgateway.NewEngine(store, duckdbgateway.Config{
			AcquireTimeout:   cfg.Database.AcquireTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
			MaxRows:          cfg.Database.MaxRows,
			MaxConcurrent:    cfg.Database.MaxOpenConns,
		})
		if err != nil {
			logger.Error("failed to build execution gateway", slog.Any("error", err))
			os.Exit(1)
		}
		schemaLoader = schema.FileLoader{Path: cfg.Schema.Path}
		readiness = api.CheckObjectStoreConfig(cfg)

	default:
		logger.Error("unsupported database backend", slog.String("backend", string(cfg.Database.Backend)))
		os.Exit(1)
	}

	schemaHolder, err := schema.NewHolder(startupCtx, schemaLoader)
	if err != nil {
		logger.Error("failed to load schema descriptor", slog.Any("error", err))
		os.Exit(1)
	}

	var translator nl2sql.Translator
	if cfg.AI.BaseURL != "" {
		dialect := "postgres"
		if cfg.Database.Backend == config.BackendDuckDB {
			dialect = "duckdb"
		}
		translator, err = nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Dialect:     dialect,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
			MaxAttempts: cfg.AI.MaxAttempts,
		})
		if err != nil {
			logger.Error("failed to initialize query translator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pipeline := &ask.Service{
		Schema:     schemaHolder,
		Translator: translator,
		Gateway:    executionGateway,
		MaxRows:    cfg.Database.MaxRows,
		Logger:     logger,
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         readiness,
		DependencyTimeout: time.Second,
		Pipeline:          pipeline,
		Schema:            schemaHolder,
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
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("backend", string(cfg.Database.Backend)),
		)
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
