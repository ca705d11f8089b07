// Package chat is the conversational gateway: it normalizes client-held
// history, injects live presale and donation figures into the system prompt,
// and streams the model's answer as newline-delimited JSON events.
package chat

import (
	"strings"

	"github.com/brojonat/owfn/service/ai"
)

// DefaultMaxHistory bounds how many turns are forwarded to the model.
const DefaultMaxHistory = 20

// SanitizeHistory normalizes history before it is sent to the model.
//
// Entries with an unknown role or without any non-empty text are dropped,
// consecutive turns of the same role are merged, and trailing user turns are
// removed, so the result alternates roles and ends on a model turn. When
// maxTurns > 0 only the most recent turns are kept, and a leading model turn
// left by the cut is dropped as well. The result is never nil.
func SanitizeHistory(history []ai.Content, maxTurns int) []ai.Content {
	out := make([]ai.Content, 0, len(history))
	for _, entry := range history {
		role := strings.ToLower(strings.TrimSpace(entry.Role))
		if role != ai.RoleUser && role != ai.RoleModel {
			continue
		}
		text := joinParts(entry.Parts)
		if text == "" {
			continue
		}

		if n := len(out); n > 0 && out[n-1].Role == role {
			merged := out[n-1].Parts[0].Text + "\n\n" + text
			out[n-1] = ai.Content{Role: role, Parts: []ai.Part{{Text: merged}}}
			continue
		}
		out = append(out, ai.Content{Role: role, Parts: []ai.Part{{Text: text}}})
	}

	for len(out) > 0 && out[len(out)-1].Role == ai.RoleUser {
		out = out[:len(out)-1]
	}

	if maxTurns > 0 && len(out) > maxTurns {
		out = out[len(out)-maxTurns:]
		if out[0].Role == ai.RoleModel {
			out = out[1:]
		}
	}
	return out
}

func joinParts(parts []ai.Part) string {
	var texts []string
	for _, p := range parts {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}
