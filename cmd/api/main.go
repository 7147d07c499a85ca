package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"feedbackhub/api/internal/app"
	"feedbackhub/api/internal/attachments"
	"feedbackhub/api/internal/config"
	"feedbackhub/api/internal/search"
	"feedbackhub/api/internal/session"
	"feedbackhub/api/internal/store"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg := config.Load()

	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.MigrationsDir, "migrations-dir", cfg.MigrationsDir, "directory holding the SQL migrations")
	migrateOnly := flags.Bool("migrate-only", false, "apply migrations and exit")
	_ = flags.Parse(os.Args[1:])

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *migrateOnly, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	zapCfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.LogFormat, "console") {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func run(cfg config.Config, migrateOnly bool, logger *zap.Logger) error {
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied", zap.String("dir", cfg.MigrationsDir), zap.Strings("applied", applied))
	if migrateOnly {
		return nil
	}

	dataStore := store.NewPostgresStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger)

	var files *attachments.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		files, err = attachments.New(ctx, attachments.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			MaxBytes:  cfg.AttachmentMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("object storage setup failed: %w", err)
		}
		logger.Info("attachments enabled", zap.String("bucket", cfg.MinioBucket))
	} else {
		logger.Info("attachments disabled: MINIO_ENDPOINT is empty")
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		logger.Info("refresh sessions stored in redis")
		service = app.New(cfg, dataStore, redisStore, searchService, files, logger)
	} else {
		logger.Info("refresh sessions stored in postgres")
		service = app.New(cfg, dataStore, nil, searchService, files, logger)
	}

	if err := service.BootstrapAdmin(ctx); err != nil {
		logger.Warn("bootstrap admin failed, will retry on next restart", zap.Error(err))
	}
	go searchService.ReindexAllFromPG(context.Background())

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("feedback api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
