package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Admin   *handler.AdminHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// authLimiter guards access code entry per session and may be nil.
func SetupRouter(
	authService *service.AuthService,
	authLimiter *middleware.RateLimiter,
	handlers *Handlers,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition", "X-RateLimit-Remaining"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))

	// xlsx is already zip-compressed.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality: middleware.DefaultBrotliConfig.Quality,
		Skipper: func(c *gin.Context) bool {
			return c.FullPath() == "/api/v1/admin/exams/:exam_id/attempts/export"
		},
	}))

	router.GET("/health", handlers.System.Health)

	authGuard := []gin.HandlerFunc{}
	if authLimiter != nil {
		authGuard = append(authGuard, authLimiter.Middleware())
	}

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService), middleware.NoStore())
	{
		studentAPI.POST("/exams/:exam_id/sessions", handlers.Session.Start)

		sessions := studentAPI.Group("/sessions/:session_id")
		sessions.GET("", handlers.Session.Get)
		sessions.DELETE("", handlers.Session.Discard)
		sessions.GET("/questions/:index", handlers.Session.Question)
		sessions.POST("/authenticate", append(authGuard, handlers.Session.Authenticate)...)
		sessions.POST("/begin", handlers.Session.Begin)
		sessions.PUT("/answers", handlers.Session.Answer)
		sessions.POST("/review", handlers.Session.Review)
		sessions.POST("/navigate", handlers.Session.Navigate)
		sessions.POST("/next", handlers.Session.Next)
		sessions.POST("/previous", handlers.Session.Previous)
		sessions.POST("/submit", handlers.Session.Submit)
		sessions.POST("/report/retry", handlers.Session.RetryReport)
		sessions.POST("/exit", handlers.Session.Exit)
		sessions.POST("/retake", handlers.Session.Retake)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/exams/:exam_id/attempts/export",
			middleware.RequirePermission(string(model.PermissionAttemptsRead)),
			handlers.Admin.ExportAttempts)
		adminAPI.GET("/exams/:exam_id/monitor",
			middleware.RequirePermission(string(model.PermissionAttemptsRead)),
			handlers.Monitor.MonitorExamSSE)
		adminAPI.POST("/exams/:exam_id/cache",
			middleware.RequirePermission(string(model.PermissionExamsCache)),
			handlers.Admin.RefreshExamCache)
	}

	return router
}
