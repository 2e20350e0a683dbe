package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/lumenlearn/coursegen-backend/internal/http/handlers"
)

func newRouter(gen *handlers.GenerationHandler) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/generations", gen.Enqueue)
		api.GET("/generations/:id", gen.GetRun)
		api.POST("/generations/:id/cancel", gen.Cancel)
		api.GET("/courses/:id/generation", gen.GetCourseRun)
		api.GET("/courses/:id/events", gen.Stream)
	}

	return router
}
