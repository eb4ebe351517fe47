package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-orchestrator/internal/chat"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
	"github.com/suPer8Hu/chat-orchestrator/internal/tenant"
)

type Orchestrator interface {
	Handle(ctx context.Context, req chat.Request) (chat.Response, error)
}

type TenantStore interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
}

// Handler carries the dependencies shared by all routes.
type Handler struct {
	Orch      Orchestrator
	Memory    memory.Store
	Tenants   TenantStore
	JWTSecret string
	JWTTTL    time.Duration
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
