package channel

import (
	"strings"
	"unicode/utf8"
)

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible. Chunks never split a rune.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 1 && !utf8.RuneStart(msg[cut]) {
			cut--
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
