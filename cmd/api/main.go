package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairwaygolf/assetsync/internal/app"
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/handlers"
	"github.com/fairwaygolf/assetsync/internal/middleware"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	if cfg.WorkerEnabled {
		srv, mux := a.Worker()
		go func() {
			log.Printf("Starting reconcile worker on queue %q", cfg.AsynqQueue)
			if err := srv.Run(mux); err != nil {
				log.Printf("Reconcile worker stopped: %v", err)
			}
		}()
		defer srv.Shutdown()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := newRouter(a)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  120 * time.Second, // large batch uploads
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func newRouter(a *app.App) *gin.Engine {
	cfg := a.Config

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))

	healthHandler := handlers.NewHealthHandler(a.DB, a.Redis)
	authHandler := handlers.NewAuthHandler(a.Auth)
	adminHandler := handlers.NewAdminHandler(cfg, a.Lister, a.Cache, a.Classifier, a.Customers, a.Audit)
	mediaHandler := handlers.NewMediaHandler(a.Media)
	reconcileHandler := handlers.NewReconcileHandler(cfg, a.Reconciler, a.Jobs, a.Cache)

	router.GET("/health", healthHandler.Health)

	deadline := middleware.Deadline(cfg.RequestTimeout)

	api := router.Group("/api/v1")
	{
		api.GET("/health", healthHandler.Health)

		auth := api.Group("/auth")
		auth.Use(middleware.RateLimiter(a.Redis, cfg), deadline)
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/logout", middleware.AdminAuth(a.Auth), authHandler.Logout)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuth(a.Auth), middleware.RateLimiter(a.Redis, cfg))
		{
			// has its own deadline handling; the scan outlives the request
			admin.GET("/folders", adminHandler.GetFolders)

			timed := admin.Group("")
			timed.Use(deadline)

			timed.DELETE("/folders/cache", adminHandler.InvalidateFolderCache)
			timed.GET("/folders/browse", adminHandler.BrowseFolder)
			timed.POST("/classify", adminHandler.Classify)

			timed.GET("/customers", adminHandler.GetCustomers)
			timed.GET("/customers/folders", adminHandler.GetCustomerFolders)
			timed.PUT("/customers/:id/folder", adminHandler.SetCustomerFolder)
			timed.GET("/audit", adminHandler.GetAuditLogs)

			timed.GET("/images", mediaHandler.GetImages)
			timed.GET("/images/:id", mediaHandler.GetImage)
			timed.PUT("/images/:id/tags", mediaHandler.UpdateTags)
			timed.POST("/images/:id/move", mediaHandler.MoveImage)
			timed.POST("/images/:id/repair", mediaHandler.RepairImage)
			timed.DELETE("/images/:id",
				middleware.AdminActionRateLimit(a.Audit, a.Redis, services.ActionDeleteImage, cfg.AdminActionLimit, cfg.AdminActionWindow),
				mediaHandler.DeleteImage)

			uploads := timed.Group("")
			uploads.Use(middleware.UploadRateLimit(a.Redis, cfg))
			{
				uploads.POST("/images", mediaHandler.UploadImage)
				uploads.POST("/images/batch", mediaHandler.UploadImages)
			}

			timed.POST("/reconcile", reconcileHandler.Reconcile)
			timed.GET("/reconcile/jobs", reconcileHandler.GetJobs)
			timed.GET("/reconcile/jobs/:id", reconcileHandler.GetJob)
			timed.POST("/reconcile/jobs/:id/resume", reconcileHandler.ResumeJob)
		}
	}

	return router
}
