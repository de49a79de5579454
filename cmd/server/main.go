package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yokitheyo/segscribe/internal/api"
	"github.com/yokitheyo/segscribe/internal/archive"
	"github.com/yokitheyo/segscribe/internal/audio"
	"github.com/yokitheyo/segscribe/internal/config"
	"github.com/yokitheyo/segscribe/internal/engine"
	"github.com/yokitheyo/segscribe/internal/events"
	"github.com/yokitheyo/segscribe/internal/queue"
	"github.com/yokitheyo/segscribe/internal/storage"
	"github.com/yokitheyo/segscribe/internal/store"
	"github.com/yokitheyo/segscribe/internal/taskmgr"
	"github.com/yokitheyo/segscribe/internal/worker"
)

func main() {
	path := os.Getenv("SEGSCRIBE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.Files.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	disk := storage.NewDisk(cfg.Files.UploadDir, cfg.Files.AllowedExtensions, cfg.Server.MaxUploadBytes)
	q := queue.NewMemory(cfg.Queue.Size)
	bus := events.NewBus(1000)

	factory, err := engine.NewFactory(cfg.Engine)
	if err != nil {
		return err
	}
	handle := engine.NewHandle(factory, cfg.Engine.Concurrent, logger.With("component", "engine"))
	defer func() {
		logger.Info("closing inference engine", "initializations", handle.Initializations())
		_ = handle.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Engine.EagerInit {
		// a failure here is retried by the first job
		if _, err := handle.GetOrInit(ctx); err != nil {
			logger.Warn("engine not ready at startup", "error", err)
		}
	}

	tm := taskmgr.NewTaskManager(st, disk, q, bus, logger.With("component", "taskmgr"))
	proc := worker.NewProcessor(st, handle, audio.NewEstimator(cfg.Audio.BytesPerMs), bus, logger.With("component", "processor"))
	pool := worker.NewPool(q, proc, cfg.Worker.Count, logger.With("component", "pool"))

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	if cfg.Worker.RequeueOnStart {
		n, err := worker.RequeueProcessing(ctx, st, q, logger)
		if err != nil {
			logger.Error("requeue unfinished tasks failed", "error", err)
		} else if n > 0 {
			logger.Info("requeued unfinished tasks", "count", n)
		}
	}

	go archive.Run(ctx, time.Hour, disk, cfg.Files.Retention, tm.Finished, logger.With("component", "cleanup"))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 32 << 20
	api.RegisterHandlers(r, tm, bus, logger.With("component", "api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			cancel()
			q.Close()
			<-poolDone
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}

	cancel()
	q.Close()
	logger.Info("waiting for in-flight jobs")
	<-poolDone
	logger.Info("server stopped")
	return nil
}
