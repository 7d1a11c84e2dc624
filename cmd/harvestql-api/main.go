package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harvestql/harvestql/internal/api"
	"github.com/harvestql/harvestql/internal/auth"
	"github.com/harvestql/harvestql/internal/bootstrap"
	"github.com/harvestql/harvestql/internal/catalog"
	catalogpostgres "github.com/harvestql/harvestql/internal/catalog/postgres"
	"github.com/harvestql/harvestql/internal/config"
	"github.com/harvestql/harvestql/internal/export"
	"github.com/harvestql/harvestql/internal/harvest"
	"github.com/harvestql/harvestql/internal/maintenance"
	"github.com/harvestql/harvestql/internal/migrations"
	"github.com/harvestql/harvestql/internal/observability"
	duckdbengine "github.com/harvestql/harvestql/internal/query/duckdb"
	"github.com/harvestql/harvestql/internal/relation"
	s3store "github.com/harvestql/harvestql/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("harvestql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("harvestql-api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	credentials := harvest.Credentials{
		AuthKeyID:     cfg.Harvest.AuthKeyID,
		AuthKeySecret: cfg.Harvest.AuthKeySecret,
	}
	if err := credentials.Validate(); err != nil {
		return err
	}
	connector := &harvest.Connector{
		Config: harvest.Config{
			Credentials: credentials,
			Timeout:     cfg.Harvest.Timeout,
			UserAgent:   cfg.Harvest.UserAgent,
		},
		BaseURL: cfg.Harvest.BaseURL,
		Logger:  logger,
	}

	engine, err := duckdbengine.NewEngine(ctx, relation.NewModule(connector, logger), logger)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	var catalogRepo catalog.Repository
	var definitions bootstrap.Definitions
	if cfg.Catalog.DSN != "" {
		db, err := openCatalog(ctx, cfg.Catalog, logger)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		repo := catalogpostgres.NewRepository(db)
		catalogRepo = repo
		definitions = repo
	} else {
		logger.Warn("catalog disabled; relation definitions will not survive a restart")
	}

	var decls []bootstrap.Declaration
	if cfg.Relations.File != "" {
		decls, err = bootstrap.Load(cfg.Relations.File)
		if err != nil {
			return err
		}
	}
	if _, err := bootstrap.Apply(ctx, engine, decls, definitions, logger); err != nil {
		return err
	}

	deps := api.Dependencies{
		Logger:            logger,
		Relations:         engine,
		QueryEngine:       engine,
		Catalog:           catalogRepo,
		Readiness:         api.CombineReadinessChecks(api.CheckEngine(engine), api.CheckCatalog(catalogRepo)),
		DependencyTimeout: time.Second,
	}
	if cfg.ObjectStore.ExportEnabled {
		store, err := newObjectStore(ctx, cfg.ObjectStore)
		if err != nil {
			return err
		}
		exporter := &export.Exporter{Store: store, Logger: logger}
		if catalogRepo != nil {
			exporter.Recorder = catalogRepo

			housekeeping := &maintenance.Service{
				Catalog:     catalogRepo,
				ObjectStore: store,
				Config: maintenance.Config{
					RetentionInterval:    cfg.Maintenance.RetentionInterval,
					KeepExports:          cfg.Maintenance.KeepExports,
					SafetyAge:            cfg.Maintenance.SafetyAge,
					IntegrityExportLimit: cfg.Maintenance.IntegrityExportLimit,
				},
				Logger: logger,
			}
			deps.Maintenance = housekeeping
			go func() { _ = housekeeping.Run(ctx) }()
		}
		deps.Exporter = exporter
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return err
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return err
	}
	return nil
}

func openCatalog(ctx context.Context, cfg config.CatalogConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := catalogpostgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		applied, err := migrations.NewRunner().Up(ctx, db, 0)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if applied > 0 {
			logger.Info("catalog migrations applied", slog.Int("count", applied))
		}
	}
	return db, nil
}

func newObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (*s3store.Store, error) {
	return s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.Endpoint,
		Region:           cfg.Region,
		Bucket:           cfg.Bucket,
		AccessKeyID:      cfg.AccessKeyID,
		SecretAccessKey:  cfg.SecretAccessKey,
		UseSSL:           cfg.UseSSL,
		Prefix:           cfg.Prefix,
		AutoCreateBucket: cfg.AutoCreateBucket,
	})
}
