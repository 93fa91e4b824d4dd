package routes

import (
	"accessibility-sync-api/controllers"
	"accessibility-sync-api/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			public.POST("/login", controllers.Login)

			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "Accessibility Sync API is running",
				})
			})
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// Score read surfaces
			scores := protected.Group("/scores")
			{
				scores.GET("/daily-counts", controllers.GetDailyCounts)
				scores.GET("/today", controllers.GetTodayScores)
			}

			// Sync triggers and run history
			admin := protected.Group("/admin/sync")
			{
				admin.POST("/run", controllers.RunSync)
				admin.POST("/backfill", controllers.RunBackfill)
				admin.GET("/runs", controllers.GetSyncRuns)
			}
		}
	}

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "Route not found"})
	})
}
