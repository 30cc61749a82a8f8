package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mobiledetail/backend/internal/config"
	"github.com/mobiledetail/backend/internal/logging"
	"github.com/mobiledetail/backend/internal/metrics"
	"github.com/mobiledetail/backend/internal/middleware"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/scheduler"
	"github.com/mobiledetail/backend/internal/services"
)

// RouterDeps is everything the HTTP surface is built from. Redis and
// Scheduler may be nil.
type RouterDeps struct {
	Config    *config.Config
	Log       zerolog.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Auth      *services.AuthService
	Audit     *services.AuditService
	Gallery   *services.GalleryService
	Storage   *services.StorageService
	Leads     *services.LeadService
	QuotePDF  *services.QuotePDFService
	Orphans   *services.OrphanService
	Backups   *services.BackupService
	Scheduler *scheduler.Scheduler
}

func NewRouter(d RouterDeps) *gin.Engine {
	cfg := d.Config

	router := gin.New()
	router.Use(gin.RecoveryWithWriter(logging.NewGinWriter(d.Log, zerolog.ErrorLevel)))
	router.Use(middleware.RequestLogger(d.Log))
	if cfg.MetricsEnabled {
		router.Use(middleware.Metrics())
	}
	router.Use(middleware.CORS(cfg))

	galleryHandler := NewGalleryHandler(d.Gallery, d.Storage, d.Audit, cfg.UploadMaxImageSize, d.Log)
	authHandler := NewAuthHandler(d.Auth, d.Audit, cfg.Env == "production", d.Log)
	leadHandler := NewLeadHandler(d.Leads, d.QuotePDF, d.Log)
	adminHandler := NewAdminHandler(d.Audit, d.Leads, d.Orphans, d.Backups, d.Scheduler, d.Log)
	publicHandler := NewPublicHandler(d.DB, d.Redis)

	requireAdmin := []gin.HandlerFunc{middleware.Auth(d.Auth), middleware.AdminOnly()}
	uploadLimit := middleware.UploadRateLimit(d.Redis, cfg)
	deleteLimit := []gin.HandlerFunc{
		middleware.AuditAction(models.ActionImageDelete),
		middleware.AdminActionRateLimit(d.Audit, d.Redis, cfg.AdminRateLimitActions, cfg.AdminRateLimitWindowMinutes),
	}

	router.GET("/health", publicHandler.Health)
	if cfg.MetricsEnabled {
		router.GET("/metrics", metrics.Handler())
	}

	// Static uploads, including the legacy /uploads/metadata.json
	router.GET("/uploads/*filepath", galleryHandler.ServeUpload)
	router.HEAD("/uploads/*filepath", galleryHandler.ServeUpload)

	// Legacy routes the original admin page posts to
	legacy := router.Group("/api", requireAdmin...)
	{
		legacy.POST("/upload", uploadLimit, galleryHandler.Upload)
		legacy.POST("/admin/edit", galleryHandler.Edit)
		legacy.POST("/admin/delete", append(deleteLimit, galleryHandler.Delete)...)
	}

	api := router.Group("/api/v1")
	{
		api.GET("/health", publicHandler.Health)

		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		api.GET("/images", galleryHandler.List)

		auth := api.Group("/auth")
		{
			auth.POST("/login", middleware.RateLimiter(d.Redis, cfg, "login", d.Log), authHandler.Login)
			auth.POST("/logout", middleware.Auth(d.Auth), authHandler.Logout)
			auth.GET("/session", authHandler.Session)
		}

		quotes := api.Group("/quotes")
		{
			quotes.GET("/catalog", leadHandler.Catalog)
			quotes.POST("/calculate", leadHandler.Calculate)
			quotes.GET("/pdf", leadHandler.QuotePDF)
			quotes.POST("", middleware.RateLimiter(d.Redis, cfg, "leads", d.Log), leadHandler.SubmitQuote)
		}
		api.POST("/bookings", middleware.RateLimiter(d.Redis, cfg, "leads", d.Log), leadHandler.SubmitBooking)

		admin := api.Group("/admin", requireAdmin...)
		{
			admin.POST("/images", uploadLimit, galleryHandler.Upload)
			admin.POST("/images/edit", galleryHandler.Edit)
			admin.PUT("/images/:id", galleryHandler.UpdateByID)
			admin.POST("/images/delete", append(deleteLimit, galleryHandler.Delete)...)
			admin.DELETE("/images/:id", append(deleteLimit, galleryHandler.DeleteByID)...)

			admin.GET("/audit/logs", adminHandler.GetAuditLogs)
			admin.GET("/leads", adminHandler.GetLeads)
			admin.GET("/orphans", adminHandler.GetOrphans)
			admin.POST("/orphans/sweep", adminHandler.SweepOrphans)
			admin.GET("/backups", adminHandler.GetBackups)
			admin.POST("/backups", adminHandler.CreateBackup)
			admin.GET("/jobs", adminHandler.GetJobs)
			admin.POST("/jobs/:name/run", adminHandler.RunJob)
		}
	}

	return router
}
