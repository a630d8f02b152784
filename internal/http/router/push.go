package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/committelemetry/internal/http/handler"
)

func PushRouter(router *gin.RouterGroup, handler *handler.PushHandler) {
	router.POST("", handler.Submit)
}
