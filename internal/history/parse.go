package history

import (
	"strings"

	"agentdesk/internal/domain"
)

// ParseMessage coerces one loosely-typed history entry into a message.
// It reports false for anything that is not a record with a string role in
// {user, assistant, tool_result} and non-blank string content. The returned
// content is trimmed.
func ParseMessage(entry any) (domain.ConversationMessage, bool) {
	var role, content any

	switch v := entry.(type) {
	case map[string]any:
		role, content = v["role"], v["content"]
	case map[string]string:
		role, content = v["role"], v["content"]
	case domain.ConversationMessage:
		role, content = string(v.Role), v.Content
	case *domain.ConversationMessage:
		if v == nil {
			return domain.ConversationMessage{}, false
		}
		role, content = string(v.Role), v.Content
	default:
		return domain.ConversationMessage{}, false
	}

	r, ok := role.(string)
	if !ok {
		return domain.ConversationMessage{}, false
	}
	c, ok := content.(string)
	if !ok {
		return domain.ConversationMessage{}, false
	}
	if !domain.Role(r).Conversational() {
		return domain.ConversationMessage{}, false
	}

	c = strings.TrimSpace(c)
	if c == "" {
		return domain.ConversationMessage{}, false
	}
	return domain.ConversationMessage{Role: domain.Role(r), Content: c}, true
}
