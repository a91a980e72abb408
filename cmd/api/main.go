package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"readback/api/internal/app"
	"readback/api/internal/config"
	"readback/api/internal/history"
	"readback/api/internal/logging"
	"readback/api/internal/notify"
	"readback/api/internal/search"
	"readback/api/internal/store"
	"readback/api/internal/telemetry"
)

type contentStore interface {
	app.Store
	Close() error
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	var (
		dataStore contentStore
		pgfts     *search.PgFTS
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("versions", applied))
		}
		dataStore = store.NewPostgresStore(db)
		pgfts = search.NewPgFTS(db, store.DefaultDocumentID)
	default:
		fileStore, err := store.NewFileStore(cfg.DataFile)
		if err != nil {
			logger.Fatal("file store init failed", zap.String("path", cfg.DataFile), zap.Error(err))
		}
		dataStore = fileStore
	}
	defer dataStore.Close()
	logger.Info("storage ready", zap.String("kind", dataStore.Kind()))

	var revisions *history.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		revisions = history.New(cfg.HistoryDir)
		if err := revisions.Ensure("readback"); err != nil {
			logger.Warn("history disabled", zap.String("dir", cfg.HistoryDir), zap.Error(err))
			revisions = nil
		}
	}

	var broker notify.Broker = notify.NewLocalBroker()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisBroker, err := notify.NewRedisBroker(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-process events", zap.Error(err))
		} else {
			broker = redisBroker
		}
	}
	defer broker.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	defer searchService.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := app.Options{
		Broker:  broker,
		Search:  searchService,
		Metrics: telemetry.NewServer(registry),
		Logger:  logger,
	}
	if revisions != nil {
		opts.History = revisions
	}
	service := app.New(dataStore, opts)
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error", zap.Error(err))
	}

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		CORSOrigin: cfg.CORSOrigin,
		StaticDir:  cfg.StaticDir,
		Gatherer:   registry,
		Logger:     logger,
	})
	baseCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()
	server := &http.Server{
		Addr:              cfg.Addr,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /api/events streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("readback api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancelStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
