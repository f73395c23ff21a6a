package provider

import (
	"strings"

	"agentdesk/internal/domain"
)

// turn is one provider-neutral chat turn. Assistant is false for user and
// tool_result messages.
type turn struct {
	Assistant bool
	Text      string
}

// buildTurns converts bounded history plus the new prompt into strictly
// alternating turns that start and end with the user. Tool results are sent
// as user text, consecutive same-side messages are joined, and leading
// assistant messages are dropped.
func buildTurns(history []domain.ConversationMessage, prompt string) []turn {
	var turns []turn
	push := func(assistant bool, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if len(turns) == 0 && assistant {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].Assistant == assistant {
			turns[n-1].Text += "\n\n" + text
			return
		}
		turns = append(turns, turn{Assistant: assistant, Text: text})
	}

	for _, m := range history {
		switch m.Role {
		case domain.RoleAssistant:
			push(true, m.Content)
		case domain.RoleToolResult:
			push(false, "[tool result]\n"+m.Content)
		case domain.RoleUser:
			push(false, m.Content)
		}
	}
	push(false, prompt)
	return turns
}
