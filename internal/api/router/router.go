package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quangdm/finsync-be/internal/api/handler"
	"github.com/quangdm/finsync-be/internal/api/identity"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "sync-api-service",
		})
	})

	syncHandler := handler.NewSyncHandler(deps)

	v1 := r.Group("/api/v1")
	v1.Use(identity.Middleware())
	{
		sync := v1.Group("/sync")
		{
			sync.POST("/upload", syncHandler.Upload)
			sync.GET("/download", syncHandler.Download)
			sync.POST("/full", syncHandler.Full)
			sync.GET("/status", syncHandler.Status)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.POST("/sync", syncHandler.EnqueueJob)
			jobs.GET("", syncHandler.ListJobs)
			jobs.GET("/:job_id", syncHandler.GetJob)
			jobs.POST("/:job_id/cancel", syncHandler.CancelJob)
			jobs.DELETE("/:job_id", syncHandler.DeleteJob)
		}
	}

	return r
}
