package persist

import (
	"fmt"

	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
)

// Job carries one completed turn to the pipeline. TurnIndex is the index the
// request path predicted; the pipeline uses the count returned by the append.
// NewSession marks a session id minted by the request path, which the
// pipeline may fold into a session that started concurrently.
type Job struct {
	Turn       memory.Turn `json:"turn"`
	TurnIndex  int         `json:"turn_index"`
	NewSession bool        `json:"new_session,omitempty"`
}

func (j Job) Validate() error {
	if j.Turn.TurnID == "" || j.Turn.CustomerKey == "" || j.Turn.SessionID == "" {
		return fmt.Errorf("%w: job needs turn id, customer key and session id", contract.ErrValidation)
	}
	return nil
}

// Scheduler accepts jobs without blocking the caller.
type Scheduler interface {
	Schedule(job Job)
}
