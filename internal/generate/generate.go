package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/chat-orchestrator/internal/ai"
	"github.com/suPer8Hu/chat-orchestrator/internal/assembler"
	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
	"github.com/suPer8Hu/chat-orchestrator/internal/intent"
	"github.com/suPer8Hu/chat-orchestrator/internal/session"
)

type Request struct {
	SystemPrompt string
	Intents      intent.Set
	Bundle       assembler.Bundle
	Memory       session.Payload
	UserText     string
}

type Generator struct {
	provider ai.Provider
}

func New(p ai.Provider) *Generator {
	return &Generator{provider: p}
}

// Generate returns the trimmed answer. Failures and empty answers wrap
// contract.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	answer, err := g.provider.Chat(ctx, BuildMessages(req))
	if err != nil {
		return "", fmt.Errorf("%w: %v", contract.ErrGeneration, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", contract.ErrGeneration)
	}
	return answer, nil
}

// BuildMessages renders the system prompt, then recent turns as alternating
// user/assistant messages, then the current text.
func BuildMessages(req Request) []ai.Message {
	msgs := make([]ai.Message, 0, 2+2*len(req.Memory.RecentTurns))
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: BuildSystemPrompt(req)})
	for _, t := range req.Memory.RecentTurns {
		if t.Failed {
			continue
		}
		msgs = append(msgs,
			ai.Message{Role: ai.RoleUser, Content: t.UserText},
			ai.Message{Role: ai.RoleAssistant, Content: t.AnswerText},
		)
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: req.UserText})
	return msgs
}

func BuildSystemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(req.SystemPrompt))
	sb.WriteString(intentGuidance(req.Intents))

	if bg := background(req.Memory); bg != "" {
		sb.WriteString("\n\n=== CUSTOMER_BACKGROUND ===\n")
		sb.WriteString(bg)
	}

	for _, s := range req.Bundle.Sections {
		if len(s.Items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n\n=== %s ===\n- %s", s.Label, strings.Join(s.Items, "\n- "))
	}
	return sb.String()
}

func intentGuidance(set intent.Set) string {
	var labels []string
	for _, i := range set.Intents() {
		if c := assembler.CapabilityOf(i); c.Retrieval {
			labels = append(labels, c.Label)
		}
	}
	switch len(labels) {
	case 0:
		return "\n- General query: use available data only if clearly relevant."
	case 1:
		return fmt.Sprintf("\n- Use %s only; ignore other data sections.", labels[0])
	default:
		return fmt.Sprintf("\n- Use %s and %s as relevant to answer comprehensively.",
			strings.Join(labels[:len(labels)-1], ", "), labels[len(labels)-1])
	}
}

func background(m session.Payload) string {
	var parts []string
	if m.Summary != "" {
		parts = append(parts, m.Summary)
	}
	if m.CustomerType != "" || m.InteractionFrequency != "" {
		parts = append(parts, fmt.Sprintf("Customer type: %s. Interaction frequency: %s.",
			orUnknown(m.CustomerType), orUnknown(m.InteractionFrequency)))
	}
	return strings.Join(parts, "\n\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
