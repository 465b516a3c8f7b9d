package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/handler"
	"github.com/stemsi/exstem-guard/internal/logger"
	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Submission *handler.SubmissionHandler
	Exam       *handler.ExamHandler
	Monitor    *handler.MonitorHandler
	Results    *handler.ResultsHandler
	WS         *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// submitLimiter may be nil to disable submission rate limiting.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	submitLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(logger.GinMiddleware(log))

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	sessionCheck := middleware.CheckSingleDeviceSession(authService, log)

	// ─── 1. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.NoStore(),
		middleware.RequireStudentJWT(authService),
		sessionCheck,
	)
	{
		submit := []gin.HandlerFunc{handlers.Submission.Submit}
		if submitLimiter != nil {
			submit = append([]gin.HandlerFunc{submitLimiter.Middleware()}, submit...)
		}
		studentAPI.POST("/exams/submit", submit...)
		studentAPI.GET("/exams/:exam_id/submissions", handlers.Submission.ListMine)
		studentAPI.GET("/exams/:exam_id/leaderboard", handlers.Results.Leaderboard)
	}

	// ─── 2. WebSocket Group (Student JWT, token may ride the query) ────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentJWT(authService), sessionCheck)
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.ExamStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.NoStore(), middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/exams/:id/submissions",
			middleware.RequirePermission(model.PermissionExamsRead),
			handlers.Exam.ListSubmissions,
		)
		adminAPI.GET("/exams/:id/export",
			middleware.RequirePermission(model.PermissionExamsRead),
			handlers.Results.Export,
		)
		adminAPI.GET("/exams/:id/monitor",
			middleware.RequirePermission(model.PermissionExamsRead),
			handlers.Monitor.MonitorExamSSE,
		)
		adminAPI.POST("/exams/:id/regrade",
			middleware.RequirePermission(model.PermissionExamsRegrade),
			handlers.Exam.Regrade,
		)
		adminAPI.POST("/exams/:id/refresh-key",
			middleware.RequirePermission(model.PermissionExamsRegrade),
			handlers.Exam.RefreshKey,
		)
	}

	return router
}
