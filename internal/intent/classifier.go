package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
)

// HistoryWindow is how many prior exchanges the classifier sees for
// reference resolution.
const HistoryWindow = 2

// Exchange is one prior user message and the answer given to it.
type Exchange struct {
	User      string
	Assistant string
}

// Collaborator asks an upstream model for tags and a retrieval query and
// returns its raw reply.
type Collaborator interface {
	ClassifyRaw(ctx context.Context, text string, history []Exchange, vocabulary []string) (string, error)
}

// Result is a classification plus the query used for retrieval. Query is the
// upstream's expansion of the message with references resolved, or the
// message itself.
type Result struct {
	Intents Set
	Query   string
}

// Reply is the parsed upstream answer.
type Reply struct {
	Tags          []string
	ExpandedQuery string
}

type Classifier struct {
	collab Collaborator
	vocab  Vocabulary
	log    zerolog.Logger
}

func NewClassifier(collab Collaborator, vocab Vocabulary) *Classifier {
	return &Classifier{
		collab: collab,
		vocab:  vocab,
		log:    logx.Component("intent"),
	}
}

func (c *Classifier) Vocabulary() Vocabulary { return c.vocab }

// Classify always returns a usable result. When the upstream reply is unusable
// the set is the configured default, the query is text and the error wraps
// contract.ErrClassification. Only the last HistoryWindow exchanges are sent.
func (c *Classifier) Classify(ctx context.Context, text string, history []Exchange) (Result, error) {
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	fallback := Result{Intents: c.vocab.Defaults, Query: text}

	raw, err := c.collab.ClassifyRaw(ctx, text, history, c.vocab.Enabled.Strings())
	if err != nil {
		return fallback, fmt.Errorf("%w: upstream: %v", contract.ErrClassification, err)
	}

	reply, err := ParseReply(raw)
	if err != nil {
		return fallback, fmt.Errorf("%w: %v", contract.ErrClassification, err)
	}

	var set Set
	var dropped []string
	for _, t := range reply.Tags {
		i, ok := Parse(t)
		if !ok || !c.vocab.Enabled.Has(i) {
			dropped = append(dropped, t)
			continue
		}
		set = set.With(i)
	}
	if len(dropped) > 0 {
		c.log.Warn().Strs("dropped", dropped).Str("kept", set.String()).Msg("unknown intent tags dropped")
	}
	if set.Empty() {
		return fallback, fmt.Errorf("%w: no known tags in %q", contract.ErrClassification, reply.Tags)
	}
	res := Result{Intents: set, Query: reply.ExpandedQuery}
	if res.Query == "" {
		res.Query = text
	}
	return res, nil
}

// ParseReply accepts a JSON array of tags or an
// {"intents": [...], "expanded_query": "..."} object, optionally wrapped in a
// markdown code fence.
func ParseReply(raw string) (Reply, error) {
	s := stripFence(raw)
	if s == "" {
		return Reply{}, errors.New("empty response")
	}

	var tags []string
	var expanded string
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &tags); err != nil {
			return Reply{}, fmt.Errorf("malformed tag array: %w", err)
		}
	} else {
		var obj struct {
			Intents       []string `json:"intents"`
			ExpandedQuery string   `json:"expanded_query"`
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return Reply{}, fmt.Errorf("malformed response: %w", err)
		}
		tags, expanded = obj.Intents, obj.ExpandedQuery
	}

	out := tags[:0]
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return Reply{}, errors.New("no tags returned")
	}
	return Reply{Tags: out, ExpandedQuery: strings.TrimSpace(expanded)}, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language hint (```json)
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
