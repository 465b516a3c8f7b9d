package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/database"
	"github.com/stemsi/exstem-guard/internal/handler"
	"github.com/stemsi/exstem-guard/internal/logger"
	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/repository"
	"github.com/stemsi/exstem-guard/internal/router"
	"github.com/stemsi/exstem-guard/internal/service"
	"github.com/stemsi/exstem-guard/internal/validator"
	"github.com/stemsi/exstem-guard/internal/worker"
)

// workerDrainTimeout bounds how long shutdown waits for workers to flush.
const workerDrainTimeout = 10 * time.Second

// stores are the persistence backends selected by DATABASE_DRIVER.
type stores struct {
	exams       service.ExamStore
	submissions interface {
		service.SubmissionStore
		service.LeaderboardStore
	}
	sessions   service.SessionStore
	violations interface {
		service.ViolationStore
		worker.ViolationStore
	}
	snapshots worker.SnapshotStore
	close     func()
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		sessionRepo := repository.NewSessionRepository(pool)
		return &stores{
			exams:       repository.NewExamRepository(pool),
			submissions: repository.NewSubmissionRepository(pool),
			sessions:    sessionRepo,
			violations:  repository.NewViolationRepository(pool),
			snapshots:   sessionRepo,
			close:       pool.Close,
		}, nil

	case config.DriverSQLite:
		db, err := database.NewSQLiteDB(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		store := repository.NewSQLiteStore(db)
		return &stores{
			exams:       store,
			submissions: store,
			sessions:    store,
			violations:  store,
			snapshots:   store,
			close:       func() { db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("driver", cfg.DatabaseDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Guard")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to the Database ───────────────────────────────────────
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	examService := service.NewExamService(st.exams, rdb, cfg.AnswerKeyCacheTTL, log)
	monitorService := service.NewMonitorService(rdb, st.sessions, st.violations)
	autosaveService := service.NewAutosaveService(rdb)
	submissionService := service.NewSubmissionService(examService, st.submissions, service.SubmissionOptions{
		Sessions:               st.sessions,
		Events:                 monitorService,
		Buffer:                 autosaveService,
		UnrankedViolationCount: cfg.UnrankedViolationCount,
	}, log)
	regradeService := service.NewRegradeService(rdb, submissionService)
	leaderboardService := service.NewLeaderboardService(st.submissions, rdb, cfg.LeaderboardCacheTTL, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Submission: handler.NewSubmissionHandler(submissionService, log),
		Exam:       handler.NewExamHandler(examService, submissionService, regradeService, log),
		Monitor:    handler.NewMonitorHandler(examService, monitorService, log),
		Results:    handler.NewResultsHandler(examService, submissionService, leaderboardService, log),
		WS: handler.NewWSHandler(handler.WSDeps{
			Exams:       examService,
			Submissions: submissionService,
			Monitor:     monitorService,
			Autosave:    autosaveService,
			Sessions:    st.sessions,
		}, cfg.Proctoring, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	for _, w := range []interface{ Start(context.Context) }{
		worker.NewViolationWorker(st.violations, rdb, log),
		worker.NewSnapshotWorker(st.snapshots, rdb, log),
		worker.NewRegradeWorker(regradeService, rdb, log),
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(workerCtx)
		}()
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published answer keys into Redis BEFORE accepting traffic
	// so the first submissions of a window do not stampede the database.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	submitLimiter := middleware.NewRateLimiter(rdb, cfg.SubmitRatePerMinute, log)
	r := router.SetupRouter(authService, handlers, submitLimiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
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

	// 2. Stop background workers and wait for their buffers to flush.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(workerDrainTimeout):
		log.Warn().Msg("Workers did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}
