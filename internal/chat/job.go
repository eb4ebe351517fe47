package chat

import (
	"time"

	"github.com/suPer8Hu/chat-orchestrator/internal/common"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
	"github.com/suPer8Hu/chat-orchestrator/internal/persist"
	"github.com/suPer8Hu/chat-orchestrator/internal/session"
)

// turnJob builds the persistence job for a completed request.
func turnJob(req Request, res session.Resolution, answer string, failed bool, started, now time.Time) (persist.Job, error) {
	id, err := common.NewULID()
	if err != nil {
		return persist.Job{}, err
	}
	return persist.Job{
		Turn: memory.Turn{
			TurnID:      id,
			CustomerKey: req.CustomerKey,
			SessionID:   res.SessionID,
			TenantID:    req.TenantID,
			UserText:    req.Text,
			AnswerText:  answer,
			LatencyMS:   now.Sub(started).Milliseconds(),
			Failed:      failed,
			CreatedAt:   now,
		},
		TurnIndex:  res.TurnIndex,
		NewSession: res.NewSession,
	}, nil
}
