package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/chat-orchestrator/internal/chat"
	"github.com/suPer8Hu/chat-orchestrator/internal/common"
	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
	"github.com/suPer8Hu/chat-orchestrator/internal/httpapi/middleware"
)

type chatReq struct {
	Text        string `json:"text"`
	CustomerKey string `json:"customerKey"`
}

func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	resp, err := h.Orch.Handle(c.Request.Context(), chat.Request{
		Text:        req.Text,
		CustomerKey: req.CustomerKey,
		TenantID:    middleware.TenantID(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, contract.ErrValidation):
			common.Fail(c, http.StatusBadRequest, 10002, "text is required")
		case errors.Is(err, contract.ErrCanceled):
			common.Fail(c, http.StatusRequestTimeout, 40800, "request canceled")
		default:
			log.Error().Err(err).
				Str("request_id", c.GetString(middleware.RequestIDKey)).
				Msg("chat request failed")
			common.Fail(c, http.StatusInternalServerError, 50001, "failed to answer")
		}
		return
	}
	common.OK(c, resp)
}
