package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/router"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	"github.com/stemsi/exstem-attempt/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Attempt")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	registrationRepo := repository.NewRegistrationRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	catalog := service.NewExamCatalog(examRepo, rdb, cfg.ExamCacheTTL, log)
	accessService := service.NewAccessService(registrationRepo)
	reportService := service.NewReportService(rdb, service.XPRules{
		PerCorrect: cfg.XPPerCorrect,
		PassBonus:  cfg.XPPassBonus,
		PerLevel:   cfg.XPPerLevel,
	}, log)
	attemptService := service.NewAttemptService(catalog, accessService,
		service.SweepPolicy{Retention: cfg.SessionRetention, IdleTimeout: cfg.SessionIdleTimeout},
		log,
		engine.WithReporter(reportService),
		engine.WithReportTimeout(cfg.ReportTimeout),
	)
	exportService := service.NewExportService(attemptRepo, examRepo)

	authLimiter := middleware.NewRateLimiter(rdb, cfg.AuthAttemptLimit, cfg.AuthAttemptWindow, func(c *gin.Context) string {
		return config.CacheKey.SessionAuthAttemptsKey(c.Param("session_id"))
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(attemptService),
		WS:      handler.NewWSHandler(attemptService, authLimiter, log, cfg.AllowedOrigins),
		Admin:   handler.NewAdminHandler(exportService, catalog, log),
		Monitor: handler.NewMonitorHandler(rdb, attemptRepo, log),
		System:  handler.NewSystemHandler(pool, rdb, attemptService),
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis BEFORE accepting traffic.
	if _, err := catalog.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	attemptWorker := worker.NewAttemptWorker(attemptRepo, rdb, log)
	go func() {
		attemptWorker.Start(workerCtx)
		close(workerDone)
	}()

	maintenance := worker.NewMaintenance(log)
	if err := maintenance.Every("session_sweep", cfg.SweepInterval, func() error {
		attemptService.Sweep(time.Now())
		return nil
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule session sweep")
	}
	if err := maintenance.Every("exam_cache_refresh", cfg.ExamCacheTTL/2, func() error {
		_, err := catalog.PrewarmAll(workerCtx)
		return err
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule exam cache refresh")
	}
	maintenance.Start()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, authLimiter, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop timers of live sessions and the scheduled jobs.
	log.Info().Int("sessions", attemptService.Count()).Msg("Closing live sessions")
	attemptService.Shutdown()
	maintenance.Stop()

	// 3. Stop the persist worker; it flushes its current batch before returning.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Attempt worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
