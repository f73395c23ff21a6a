// Package history turns stored, untrusted conversation history into a
// bounded message list that is safe to send to a language model.
package history

import (
	"encoding/json"
	"slices"
	"unicode/utf8"

	"agentdesk/internal/domain"
)

// TruncationPrefix marks a message whose head was cut to fit MaxMessageChars.
const TruncationPrefix = "[truncated] "

// Stats describes what a bounding pass did to its input.
type Stats struct {
	Input     int  // entries in the raw history
	Window    int  // entries considered after the message-count cut
	Invalid   int  // entries dropped by ParseMessage
	Truncated int  // accepted messages that were tail-truncated
	BudgetCut bool // scan stopped because MaxHistoryChars was reached
	Kept      int
	Chars     int // total content length of the kept messages
}

// Bounder applies a fixed set of limits. The zero value uses the defaults.
type Bounder struct {
	Limits Limits
}

func NewBounder(limits Limits) Bounder {
	return Bounder{Limits: limits.Resolve()}
}

func (b Bounder) Bound(raw []any) []domain.ConversationMessage {
	return Bound(raw, b.Limits)
}

// Bound keeps the most recent valid messages of raw within limits and
// returns them oldest-first. It never fails: malformed entries are
// dropped and an empty input yields an empty, non-nil slice.
func Bound(raw []any, limits Limits) []domain.ConversationMessage {
	msgs, _ := BoundWithStats(raw, limits)
	return msgs
}

// BoundWithStats is Bound plus a summary of what was dropped.
//
// The scan walks newest to oldest over the last MaxMessages entries.
// A message that would push the running total past MaxHistoryChars ends
// the scan, so the result is always a contiguous block of the newest
// valid messages rather than a sparse selection.
func BoundWithStats(raw []any, limits Limits) ([]domain.ConversationMessage, Stats) {
	l := limits.Resolve()
	st := Stats{Input: len(raw)}

	start := len(raw) - l.MaxMessages
	if start < 0 {
		start = 0
	}
	st.Window = len(raw) - start

	bounded := make([]domain.ConversationMessage, 0, st.Window)
	total := 0

	for i := len(raw) - 1; i >= start; i-- {
		msg, ok := ParseMessage(raw[i])
		if !ok {
			st.Invalid++
			continue
		}

		if content, cut := truncateTail(msg.Content, l.MaxMessageChars); cut {
			msg.Content = content
			st.Truncated++
		}

		n := len(msg.Content)
		if total+n > l.MaxHistoryChars {
			st.BudgetCut = true
			break
		}

		bounded = append(bounded, msg)
		total += n
	}

	slices.Reverse(bounded)
	st.Kept = len(bounded)
	st.Chars = total
	return bounded, st
}

// BoundJSON decodes a persisted JSON array and bounds it. Input that is not
// a JSON array produces an empty result.
func BoundJSON(data []byte, limits Limits) []domain.ConversationMessage {
	raw, ok := DecodeRaw(data)
	if !ok {
		return []domain.ConversationMessage{}
	}
	return Bound(raw, limits)
}

// DecodeRaw decodes stored history into loosely-typed entries.
func DecodeRaw(data []byte) ([]any, bool) {
	if len(data) == 0 {
		return nil, true
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	return raw, true
}

// truncateTail keeps the last max bytes of s, never splitting a rune, and
// prefixes TruncationPrefix. The prefix is not counted against max.
func truncateTail(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return TruncationPrefix + s[cut:], true
}
