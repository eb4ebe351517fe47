package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/chat-orchestrator/internal/ai"
)

var descriptions = map[string]string{
	"product": "questions about products: specs, prices, availability, comparisons",
	"company": "questions about the company: policies, shipping, returns, warranty, locations, contact",
	"support": "help with an existing order, account or a problem the customer is having",
	"general": "greetings, small talk or anything else",
}

// LLMCollaborator classifies with a chat provider.
type LLMCollaborator struct {
	provider ai.Provider
}

func NewLLMCollaborator(p ai.Provider) *LLMCollaborator {
	return &LLMCollaborator{provider: p}
}

func (l *LLMCollaborator) ClassifyRaw(ctx context.Context, text string, history []Exchange, vocabulary []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Classify the customer message into one or more intents and rewrite it as a search query.\n")
	sb.WriteString("Allowed intents:\n")
	for _, v := range vocabulary {
		fmt.Fprintf(&sb, "- %s: %s\n", v, descriptions[v])
	}
	sb.WriteString("A message may have several intents, e.g. asking about a product and the return policy is [\"product\",\"company\"].\n")
	sb.WriteString("Resolve references such as \"it\" or \"that\" using the last turns, then write expanded_query: ")
	sb.WriteString("the message as a standalone retrieval query with the referenced entities, synonyms and constraints.\n")
	sb.WriteString(`Reply with JSON only, no prose: {"intents": ["..."], "expanded_query": "..."}`)

	return l.provider.Chat(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: sb.String()},
		{Role: ai.RoleUser, Content: userContent(text, history)},
	})
}

func userContent(text string, history []Exchange) string {
	if len(history) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString("Last turns:\n")
	for _, e := range history {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", e.User, e.Assistant)
	}
	sb.WriteString("\nCurrent message:\n")
	sb.WriteString(text)
	return sb.String()
}
