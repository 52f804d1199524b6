// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/drivelend/onboarding-backend/internal/config"
	"github.com/drivelend/onboarding-backend/internal/handlers"
	"github.com/drivelend/onboarding-backend/internal/middleware"
	"github.com/drivelend/onboarding-backend/internal/services"
	"github.com/drivelend/onboarding-backend/internal/utils"
	"github.com/drivelend/onboarding-backend/internal/wizard"
)

func Initialize(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// Initialize services
	storageService, _ := services.NewStorageService(cfg)
	authService := services.NewAuthService(db, cfg)
	applicationService := services.NewApplicationService(db)
	documentService := services.NewDocumentService(db, storageService, cfg.Upload.Folder)

	var sink wizard.Sink
	if cfg.Redis.Host != "" {
		sink = services.NewRedisTelemetry(cfg.Redis)
	} else {
		sink = services.LogTelemetry{}
	}

	registry := handlers.NewSessionRegistry(
		applicationService,
		documentService,
		sink,
		time.Duration(cfg.Wizard.DraftDebounceMS)*time.Millisecond,
		time.Duration(cfg.Wizard.SessionIdleMinutes)*time.Minute,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	applicationHandler := handlers.NewApplicationHandler(registry, applicationService)
	documentHandler := handlers.NewDocumentHandler(registry)
	captureHandler := handlers.NewCaptureHandler(registry)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Frontend.BaseURL))
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.GET("/me", middleware.AuthRequired(cfg.JWT.AccessTokenTTL), authHandler.Me)
		}

		// Application wizard routes
		applications := v1.Group("/applications")
		applications.Use(middleware.AuthRequired(cfg.JWT.AccessTokenTTL))
		{
			applications.POST("", applicationHandler.Create)
			applications.GET("/latest", applicationHandler.Latest)
			applications.GET("/:id", applicationHandler.Get)

			applications.PUT("/:id/steps/:step/draft", applicationHandler.UpdateDraft)
			applications.POST("/:id/steps/:step", applicationHandler.SubmitStep)
			applications.POST("/:id/steps/employment/records", applicationHandler.AddEmploymentRecord)
			applications.DELETE("/:id/steps/employment/records/:index", applicationHandler.RemoveEmploymentRecord)
			applications.POST("/:id/navigate/:step", applicationHandler.Navigate)
			applications.POST("/:id/submit", applicationHandler.FinalSubmit)
			applications.POST("/:id/withdraw", applicationHandler.Withdraw)

			// Document routes
			applications.GET("/:id/documents", documentHandler.List)
			applications.GET("/:id/documents/archive", documentHandler.Archive)
			applications.POST("/:id/documents/:type", middleware.UploadRateLimit(), documentHandler.Upload)
			applications.POST("/:id/documents/:type/retry", middleware.UploadRateLimit(), documentHandler.Retry)
			applications.GET("/:id/documents/:type/files/:index", documentHandler.DownloadFile)
			applications.DELETE("/:id/documents/:type/files/:index", documentHandler.RemoveFile)

			// Liveness capture routes
			applications.POST("/:id/capture/start", captureHandler.Start)
			applications.POST("/:id/capture/frame", middleware.UploadRateLimit(), captureHandler.Frame)
			applications.POST("/:id/capture/confirm", captureHandler.Confirm)
			applications.POST("/:id/capture/retake", captureHandler.Retake)
			applications.POST("/:id/capture/stop", captureHandler.Stop)
		}
	}

	return r
}
