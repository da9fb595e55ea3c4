package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/internal/handler"
	"github.com/m3u-dvr/internal/queue"
	"github.com/m3u-dvr/internal/service/cleanup"
	"github.com/m3u-dvr/internal/version"
	"github.com/m3u-dvr/internal/watcher"
	"github.com/m3u-dvr/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	version.PrintBanner(nil)

	path := configPath()
	logger.Infof("📁 Loading config: %s", path)
	cfgMgr, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer cfgMgr.Stop()
	cfg := cfgMgr.Get()
	applyLogLevel(cfg.Server.LogLevel)
	cfgMgr.OnChange(func(old, new *config.Config) {
		if old.Server.LogLevel != new.Server.LogLevel {
			applyLogLevel(new.Server.LogLevel)
		}
		if old.Folders != new.Folders || old.Server.Port != new.Server.Port {
			logger.Warnf("⚠️ Folder or port changes take effect after a restart")
		}
	})

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	// Finalize queue
	finalizeQueue := queue.New(a.finalizer, cfg.Queue.MaxRetries, cfg.Queue.RetryDelayMs)
	finalizeQueue.Start()
	defer finalizeQueue.Stop()

	statusWatcher := watcher.NewStatusWatcher(a.store, finalizeQueue)
	if err := statusWatcher.Start(); err != nil {
		logger.Warnf("⚠️ Status watcher unavailable, relying on polls and callbacks: %v", err)
	}
	defer statusWatcher.Stop()

	liveWatcher := watcher.NewLiveWatcher(a.viewers, a.consumers, a.store, a.live, cfg.Live.WatchInterval)
	defer liveWatcher.Stop()

	scheduler, err := cleanup.NewScheduler(a.sweeper, cfg.Cleanup.Schedule, cfg.Cleanup.DanglingAge)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	h := handler.New(handler.Deps{
		Store:       a.store,
		Download:    a.download,
		Movie:       a.movie,
		Live:        a.live,
		Schedule:    a.schedule,
		Finalizer:   a.finalizer,
		Sweeper:     a.sweeper,
		DanglingAge: cfg.Cleanup.DanglingAge,
		Queue:       finalizeQueue,
		Viewers:     a.viewers,
		Consumers:   a.consumers,
		Usage:       a.usage,
		LiveWatcher: liveWatcher,
		Fetcher:     a.fetcher,
		Cache:       a.cache,
		Oracle:      a.oracle,
	})
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Print startup info
	logger.Info("")
	logger.Infof("📂 Data folders:")
	logger.Infof("   %s → Cached playlist entries", cfg.Folders.Cache)
	logger.Infof("   %s → Job and info records", cfg.Folders.Jobs)
	logger.Infof("   %s → Partial media, logs and status files", cfg.Folders.Work)
	logger.Infof("   %s → Finished media", cfg.Folders.Media)
	logger.Info("")
	logger.Infof("🎬 Scripts: record=%s download=%s live=%s stop=%s",
		cfg.Scripts.Record, cfg.Scripts.Download, cfg.Scripts.Live, cfg.Scripts.Stop)
	if cfg.Launcher.RateLimitPerMinute > 0 {
		logger.Infof("🚦 Launch rate limit: %d/min", cfg.Launcher.RateLimitPerMinute)
	}
	for _, s := range cfg.Services {
		logger.Infof("📺 Service %s: max %d connections", s.Name, s.MaxConnections)
	}
	logger.Infof("🧹 Cleanup: %s (min age %s, dangling after %s)",
		cfg.Cleanup.Schedule, cfg.Cleanup.MinAge, cfg.Cleanup.DanglingAge)
	logger.Info("")
	logger.Infof("🌐 API server: http://localhost:%d", cfg.Server.Port)
	logger.Infof("   POST /api/v1/{download,movie,live,schedule} - Start a job")
	logger.Infof("   GET  /api/v1/jobs/:id/status               - Poll a job")
	logger.Infof("   POST /api/v1/callback                      - Worker completion")
	logger.Infof("   GET  /metrics                              - Prometheus metrics")
	logger.Info("")
	logger.Info("────────────────────────────────────────────────────────────────")
	logger.Info("✅  Ready!")
	logger.Info("────────────────────────────────────────────────────────────────")

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("")
	logger.Info("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("❌ Shutdown error: %v", err)
	}

	logger.Info("👋 Goodbye!")
	return nil
}

// requestLogger returns a gin middleware for logging HTTP requests
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if (path != "/api/v1/health" && path != "/metrics") || status >= 400 {
			latency := time.Since(start)
			logger.Debugf("HTTP %s %s → %d (%v)", c.Request.Method, path, status, latency)
		}
	}
}
