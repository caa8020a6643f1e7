package chat

import (
	"encoding/json"
	"fmt"

	"github.com/dotsetgreg/mindful/pkg/memory"
	"github.com/dotsetgreg/mindful/pkg/providers"
)

const personaTemplate = `You are Mindful, a supportive mental health chat companion.

Style:
- Warm, empathetic, and concise (1-3 short paragraphs or a few bullets).
- Reflect the user's feelings in your own words. Vary phrasing; avoid repeating the same sentences across turns.
- Ask at most one gentle, open-ended question when it helps.
- You are not a therapist; do not give medical advice or diagnoses.
- If self-harm, harm to others, or crisis is mentioned, respond compassionately and encourage immediate help (e.g., local emergency number, trusted contacts, or crisis hotlines).

User memory (may be incomplete):
Profile: %s
Summary: %s`

// styleExemplars are fixed few-shot pairs demonstrating the companion's
// tone. They are prepended to the history when enabled and dropped
// entirely if they would push the list past the window.
var styleExemplars = []providers.Message{
	{Role: memory.RoleUser, Content: "I've had a really draining week and I can't seem to switch off."},
	{Role: memory.RoleAssistant, Content: "It sounds like the week has taken a lot out of you, and your mind is still running even when you want rest. That kind of tiredness is hard to carry. What does switching off usually look like for you, when it works?"},
	{Role: memory.RoleUser, Content: "I snapped at my sister and now I feel terrible."},
	{Role: memory.RoleAssistant, Content: "Feeling terrible afterwards says a lot about how much you care about her. One hard moment doesn't undo that. Would it help to talk through what was building up before it happened?"},
}

// ContextBuilder assembles the system instruction and message list for
// one completion call. It is pure: the same memory, history, and input
// always produce the same output.
type ContextBuilder struct {
	window    int
	exemplars []providers.Message
}

func NewContextBuilder(window int, withExemplars bool) *ContextBuilder {
	if window <= 0 {
		window = 16
	}
	b := &ContextBuilder{window: window}
	if withExemplars {
		b.exemplars = styleExemplars
	}
	return b
}

// SystemPrompt interpolates the persona template with the user's durable
// memory record.
func (b *ContextBuilder) SystemPrompt(rec memory.Record) string {
	profile := rec.Profile
	if profile == nil {
		profile = map[string]interface{}{}
	}
	serialized, err := json.Marshal(profile)
	if err != nil {
		serialized = []byte("{}")
	}
	return fmt.Sprintf(personaTemplate, serialized, rec.Summary)
}

// BuildMessages produces the ordered message list: optional exemplars,
// then the recent history ascending, always ending with the current user
// message. The result never exceeds the window; real history wins over
// exemplars when both cannot fit.
func (b *ContextBuilder) BuildMessages(history []memory.Message, current string) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, providers.Message{Role: m.Role, Content: m.Content})
	}

	last := len(msgs) - 1
	if last < 0 || msgs[last].Role != memory.RoleUser || msgs[last].Content != current {
		msgs = append(msgs, providers.Message{Role: memory.RoleUser, Content: current})
	}
	if len(msgs) > b.window {
		msgs = msgs[len(msgs)-b.window:]
	}

	exemplars := b.exemplars
	if len(exemplars)+len(msgs) > b.window {
		exemplars = nil
	}

	out := make([]providers.Message, 0, len(exemplars)+len(msgs))
	out = append(out, exemplars...)
	out = append(out, msgs...)
	return out
}
