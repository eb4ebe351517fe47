package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/chat-orchestrator/internal/ai"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
)

const createPrompt = `You are a customer service representative writing notes about this customer from their conversation history. Write a summary that helps any agent understand the customer's profile, interests and needs.

Cover:
CUSTOMER PROFILE: type of customer, communication style, knowledge level.
INTERESTS & PREFERENCES: products of interest, features they care about, budget or price sensitivity.
QUESTIONS & CONCERNS: main questions, objections, information still sought.
PURCHASE BEHAVIOR: products inquired about, stage in the buying journey, stated requirements.
IMPORTANT NOTES: personal details shared, follow-ups needed, special requests.

Conversation History:
%s
Customer Service Summary:`

const mergePrompt = `You are updating customer service notes. Merge the existing customer summary with new insights from recent conversations.

- Preserve important historical information.
- Add new insights and update preferences.
- Note changes in behavior or interests.
- Remove outdated or contradictory information.

EXISTING CUSTOMER SUMMARY:
%s

NEW CONVERSATION INSIGHTS:
%s

UPDATED CUSTOMER SUMMARY:`

type Summarizer struct {
	provider ai.Provider
}

func New(p ai.Provider) *Summarizer {
	return &Summarizer{provider: p}
}

// Summarize builds a summary of turns, merging it into prior when there is one.
// Failed turns are left out of the transcript.
func (s *Summarizer) Summarize(ctx context.Context, prior string, turns []memory.Turn) (string, error) {
	transcript := Transcript(turns)
	if transcript == "" {
		return "", errors.New("summarize: no successful turns")
	}

	insights, err := s.ask(ctx, fmt.Sprintf(createPrompt, transcript))
	if err != nil {
		return "", err
	}
	prior = strings.TrimSpace(prior)
	if prior == "" || prior == memory.PlaceholderSummary {
		return insights, nil
	}
	return s.ask(ctx, fmt.Sprintf(mergePrompt, prior, insights))
}

func (s *Summarizer) ask(ctx context.Context, prompt string) (string, error) {
	out, err := s.provider.Chat(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("summarize: empty summary")
	}
	return out, nil
}

func Transcript(turns []memory.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		if t.Failed {
			continue
		}
		fmt.Fprintf(&sb, "Customer: %s\nAssistant: %s\n\n", t.UserText, t.AnswerText)
	}
	return sb.String()
}
