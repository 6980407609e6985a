package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewAdminRouter exposes health, stats and a shutdown trigger. shutdown is
// called once per POST /shutdown and must not block.
func NewAdminRouter(s *Server, shutdown func()) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.GetStats())
	})

	router.POST("/shutdown", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"status": "shutting down"})
		if shutdown != nil {
			shutdown()
		}
	})

	return router
}
