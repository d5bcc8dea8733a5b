package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdsouz07/lecture-ai/internal/websocket"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, chunks *ChunkHandler, provider string, gatherer prometheus.Gatherer) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:         "ok",
			Service:        "lecture-relay",
			Provider:       provider,
			ActiveSessions: hub.ActiveSessions(),
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Polling transcription
	api := e.Group("/api")
	api.POST("/transcribe-chunk", chunks.Transcribe)

	// Live relay
	e.GET("/ws", hub.HandleWebSocket)
}
