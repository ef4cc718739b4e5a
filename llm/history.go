package llm

import "strings"

// EstimateTokens approximates the token count of text. ASCII runs about four
// characters per token, other scripts about one.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// TruncateHistory keeps the newest turns within messageLimit and tokenLimit,
// dropping the oldest first. The final turn is always kept. A limit <= 0
// disables that limit.
func TruncateHistory(history []Turn, tokenLimit, messageLimit int) []Turn {
	if len(history) == 0 {
		return history
	}
	if messageLimit > 0 && len(history) > messageLimit {
		history = history[len(history)-messageLimit:]
	}
	if tokenLimit <= 0 {
		return history
	}
	total := 0
	for _, t := range history {
		total += EstimateTokens(t.Content)
	}
	for total > tokenLimit && len(history) > 1 {
		total -= EstimateTokens(history[0].Content)
		history = history[1:]
	}
	return history
}

// Normalize makes a history acceptable to chat providers: consecutive turns
// of the same role are merged, blank turns are dropped, the first turn is
// from the user and the last one is not from the assistant.
func Normalize(history []Turn) []Turn {
	out := make([]Turn, 0, len(history)+1)
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Content += "\n\n" + t.Content
			continue
		}
		out = append(out, t)
	}
	if len(out) > 0 && out[0].Role == RoleAssistant {
		out = append([]Turn{{Role: RoleUser, Content: "(conversation continues)"}}, out...)
	}
	if len(out) == 0 || out[len(out)-1].Role == RoleAssistant {
		out = append(out, Turn{Role: RoleUser, Content: "Continue."})
	}
	return out
}
