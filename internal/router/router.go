package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/handler"
	"github.com/stemsi/gate-backend/internal/middleware"
	"github.com/stemsi/gate-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth     *handler.AuthHandler
	Test     *handler.TestHandler
	Session  *handler.SessionHandler
	Attempt  *handler.AttemptHandler
	Progress *handler.ProgressHandler
	WS       *handler.WSHandler
	Health   *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	loginLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

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
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(log))

	router.GET("/health", handlers.Health.Health)
	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	// ─── 1. Auth (Public, Rate Limited) ────────────────────────────────
	authAPI := router.Group("/api/v1/auth")
	{
		authAPI.POST("/login", loginLimiter.Middleware(), handlers.Auth.Login)
		authAPI.GET("/me", middleware.RequireJWT(auth), handlers.Auth.Me)
	}

	// ─── 2. Learner ────────────────────────────────────────────────────
	learnerAPI := router.Group("/api/v1")
	learnerAPI.Use(middleware.RequireLearnerJWT(auth))
	{
		// Catalog payloads are large and change rarely.
		catalog := learnerAPI.Group("/tests")
		catalog.Use(middleware.Brotli(), middleware.CacheControl(60))
		{
			catalog.GET("", handlers.Test.ListTests)
			catalog.GET("/:id", handlers.Test.GetPaper)
		}

		sessions := learnerAPI.Group("")
		sessions.Use(middleware.NoStore())
		{
			sessions.POST("/tests/:id/sessions", handlers.Session.StartSession)
			sessions.GET("/sessions/:id", handlers.Session.GetSession)
			sessions.POST("/sessions/:id/actions", handlers.Session.Dispatch)
			sessions.GET("/attempts", handlers.Attempt.MyAttempts)
		}

		progress := learnerAPI.Group("/progress")
		{
			progress.PUT("/videos/:lesson_id", handlers.Progress.RecordVideo)
			progress.GET("/videos", handlers.Progress.ListVideos)
			progress.GET("/videos/:lesson_id", handlers.Progress.GetVideo)
			progress.POST("/notes", handlers.Progress.AddNote)
			progress.GET("/notes/:lesson_id", handlers.Progress.ListNotes)
			progress.DELETE("/notes/:note_id", handlers.Progress.DeleteNote)
			progress.GET("/achievements", handlers.Progress.ListAchievements)
		}
	}

	// ─── 3. WebSocket (Learner WS Auth) ────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireLearnerWSAuth(auth))
	{
		ws.GET("/sessions/:id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Admin ──────────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(auth))
	{
		adminAPI.POST("/tests", handlers.Test.CreateTest)
		adminAPI.POST("/tests/:id/questions", handlers.Test.AddQuestions)
		adminAPI.POST("/tests/:id/publish", handlers.Test.Publish)
		adminAPI.GET("/tests/:id/attempts", handlers.Attempt.ListByTest)
	}

	return router
}
