// Package transport - HTTP API over the queue, the gallery and the model loader.
package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-rembg/transport/middleware"
)

// InitRoutes builds the router.
//
// Arguments:
//   - h: The request handlers.
//   - log: The request logger.
//   - maxUploadBytes: The multipart memory limit. Zero keeps the gin default.
//
// Returns:
//   - *gin.Engine: The router.
func InitRoutes(h *Handler, log logrus.FieldLogger, maxUploadBytes int64) *gin.Engine {
	router := gin.New()
	if maxUploadBytes > 0 {
		router.MaxMultipartMemory = maxUploadBytes
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(log))

	router.GET("/health", h.Health)
	router.GET("/palette", h.Palette)
	router.GET("/stats", h.Stats)
	router.GET("/export.zip", h.ExportZip)

	model := router.Group("/model")
	{
		model.GET("", h.GetModel)
		model.PUT("", h.SwitchModel)
	}

	images := router.Group("/images")
	{
		images.POST("", h.Upload)
		images.POST("/process", h.ProcessPending)
		images.GET("", h.ListImages)
		images.DELETE("", h.ClearImages)
		images.GET("/:id", h.GetImage)
		images.DELETE("/:id", h.DeleteImage)
		images.GET("/:id/original", h.Original)
		images.GET("/:id/processed", h.Processed)
		images.GET("/:id/thumbnail", h.Thumbnail)
		images.POST("/:id/retry", h.Retry)
		images.POST("/:id/render", h.Render)
		images.POST("/:id/insert", h.Insert)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	return router
}
