package history

const (
	DefaultMaxMessages     = 24
	DefaultMaxHistoryChars = 24000
	DefaultMaxMessageChars = 3000
)

// Limits bounds the history replayed to a model. Fields below 1 mean
// "use the default"; they never cause an error.
type Limits struct {
	MaxMessages     int `json:"maxMessages,omitempty" yaml:"maxMessages,omitempty"`
	MaxHistoryChars int `json:"maxHistoryChars,omitempty" yaml:"maxHistoryChars,omitempty"`
	MaxMessageChars int `json:"maxMessageChars,omitempty" yaml:"maxMessageChars,omitempty"`
}

// DefaultLimits returns 24 messages / 24000 chars / 3000 chars per message.
func DefaultLimits() Limits {
	return Limits{
		MaxMessages:     DefaultMaxMessages,
		MaxHistoryChars: DefaultMaxHistoryChars,
		MaxMessageChars: DefaultMaxMessageChars,
	}
}

// Resolve replaces every unset or invalid field with its default.
func (l Limits) Resolve() Limits {
	return DefaultLimits().Merge(l)
}

// Merge returns l with each valid field of override applied on top.
func (l Limits) Merge(override Limits) Limits {
	if override.MaxMessages >= 1 {
		l.MaxMessages = override.MaxMessages
	}
	if override.MaxHistoryChars >= 1 {
		l.MaxHistoryChars = override.MaxHistoryChars
	}
	if override.MaxMessageChars >= 1 {
		l.MaxMessageChars = override.MaxMessageChars
	}
	return l
}
