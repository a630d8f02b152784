package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/committelemetry/internal/http/handler"
)

func PingRouter(router *gin.RouterGroup, handler *handler.PingHandler) {
	router.POST("/changeset", handler.Changeset)
	router.GET("/schema", handler.Schema)
}
