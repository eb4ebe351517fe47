package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-orchestrator/internal/common"
	"github.com/suPer8Hu/chat-orchestrator/internal/config"
	"github.com/suPer8Hu/chat-orchestrator/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-orchestrator/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, cfg config.Config, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	// auth
	r.POST("/auth/token", h.Token)

	api := r.Group("/api")
	if cfg.JWT.Disabled {
		api.Use(middleware.FixedTenant(cfg.App.DefaultTenant))
	} else {
		api.Use(middleware.AuthRequired(cfg.JWT.Secret))
	}
	api.POST("/chat", h.Chat)
	api.GET("/customers/:key/memory", h.CustomerMemory)
	api.GET("/customers/:key/sessions", h.CustomerSessions)
	api.GET("/customers/:key/turns", h.CustomerTurns)
	return r
}
