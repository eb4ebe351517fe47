package chat

// Stage names the orchestrator's request states, in order.
type Stage string

const (
	StageReceived          Stage = "RECEIVED"
	StageMemoryResolved    Stage = "MEMORY_RESOLVED"
	StageIntentClassified  Stage = "INTENT_CLASSIFIED"
	StageContextAssembled  Stage = "CONTEXT_ASSEMBLED"
	StageResponseGenerated Stage = "RESPONSE_GENERATED"
	StagePersisted         Stage = "PERSISTED"
)

type Request struct {
	Text        string `json:"text"`
	CustomerKey string `json:"customerKey,omitempty"`
	TenantID    string `json:"-"`
}

type Response struct {
	Response     string `json:"response"`
	CustomerKey  string `json:"customerKey,omitempty"`
	SessionID    string `json:"sessionId"`
	ContextDebug string `json:"contextDebug"`

	// Fallback is set when generation failed and Response is the apology text.
	Fallback bool `json:"-"`
}
