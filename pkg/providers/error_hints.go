package providers

import "strings"

// augmentProviderError appends actionable guidance to the most common
// misconfiguration errors before they reach the logs.
func augmentProviderError(providerName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	providerName = NormalizeProviderName(providerName)

	switch providerName {
	case ProviderOpenAI:
		if strings.Contains(lower, "incorrect api key provided") {
			return msg + " Hint: provider openai expects a Platform API credential; check providers.openai.api_key."
		}
	case ProviderOpenRouter:
		if strings.Contains(lower, "no auth credentials found") ||
			strings.Contains(lower, "invalid api key") {
			return msg + " Hint: check providers.openrouter.api_key; keys are issued at openrouter.ai/keys."
		}
		if strings.Contains(lower, "insufficient credits") {
			return msg + " Hint: the OpenRouter account backing this key is out of credits."
		}
	}

	return msg
}
