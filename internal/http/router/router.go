package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/committelemetry/internal/http/handler"
	"basegraph.app/committelemetry/internal/service"
)

func SetupRoutes(router *gin.Engine, services *service.Services) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		pingHandler := handler.NewPingHandler(services.Inspect())
		PingRouter(v1.Group("/pings"), pingHandler)

		if intake := services.PushIntake(); intake != nil {
			PushRouter(v1.Group("/pushes"), handler.NewPushHandler(intake))
		}
	}
}
