package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// CompleteFunc runs a constrained completion: system instruction plus a
// single user input, plain text back. Wired from the provider layer so
// this package stays transport-agnostic.
type CompleteFunc func(ctx context.Context, system, input string) (string, error)

const consolidationSystemPrompt = `You analyze short chat snippets to maintain a user memory for a supportive mental health companion.

Return ONLY valid JSON with keys: profile (object of stable facts/preferences) and summary (a concise rolling summary of themes).
Be conservative: only add facts when explicitly stated by the user. Never infer sensitive attributes. Keep a calm, empathetic tone in the summary, reflecting themes rather than transcripts.`

// LLMConsolidator folds each finished exchange into the user's memory
// record through a second, constrained completion.
type LLMConsolidator struct {
	store    Store
	complete CompleteFunc
}

func NewLLMConsolidator(store Store, complete CompleteFunc) *LLMConsolidator {
	return &LLMConsolidator{store: store, complete: complete}
}

type consolidationInput struct {
	Current  Record     `json:"current"`
	Messages []Exchange `json:"messages"`
}

type consolidationReply struct {
	Profile json.RawMessage `json:"profile"`
	Summary string          `json:"summary"`
}

// Consolidate derives an updated memory record from the current one plus
// the new exchange and persists it as a full overwrite. A malformed model
// reply discards the update and leaves the prior record untouched; only
// transport and storage failures surface as errors.
func (c *LLMConsolidator) Consolidate(ctx context.Context, userID string, exchange []Exchange) (Record, error) {
	current, err := c.store.GetUserMemory(ctx, userID)
	if err != nil {
		return Record{}, fmt.Errorf("consolidate load memory: %w", err)
	}
	if len(exchange) == 0 {
		return current, nil
	}

	payload, err := json.Marshal(consolidationInput{Current: current, Messages: exchange})
	if err != nil {
		return Record{}, fmt.Errorf("consolidate marshal input: %w", err)
	}

	text, err := c.complete(ctx, consolidationSystemPrompt, "Update memory given the input:\n"+string(payload))
	if err != nil {
		return Record{}, fmt.Errorf("consolidate completion: %w", err)
	}

	updated, ok := parseConsolidationReply(text)
	if !ok {
		log.Warn().Str("user_id", userID).Msg("discarding unparseable consolidation reply")
		return current, nil
	}

	if err := c.store.SetUserMemory(ctx, userID, updated); err != nil {
		return Record{}, fmt.Errorf("consolidate persist memory: %w", err)
	}
	return updated, nil
}

// parseConsolidationReply accepts only a JSON object whose profile value
// is itself an object. Anything else is treated as an invalid update.
func parseConsolidationReply(text string) (Record, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Record{}, false
	}

	var reply consolidationReply
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		return Record{}, false
	}
	rawProfile := strings.TrimSpace(string(reply.Profile))
	if rawProfile == "" || rawProfile[0] != '{' {
		return Record{}, false
	}

	profile := map[string]interface{}{}
	if err := json.Unmarshal(reply.Profile, &profile); err != nil {
		return Record{}, false
	}

	return Record{Profile: profile, Summary: reply.Summary}, true
}
