package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/handlers"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/orchestrator"
)

// SetupRoutes registers the gateway's endpoints on the router.
func SetupRoutes(router *gin.Engine, orch *orchestrator.Orchestrator) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/turn", handlers.HandleChatTurn(orch))
	}
}
