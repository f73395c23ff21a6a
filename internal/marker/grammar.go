// Package marker extracts bracket-tag commands ([DATA: ...], [ESCALATE: ...],
// [GENERATE_IMAGE: ...], ...) that a model embeds in its replies, and scrubs
// them before the text is shown to a user.
package marker

import "regexp"

// Kind names a marker tag.
type Kind string

const (
	KindData          Kind = "DATA"
	KindEscalate      Kind = "ESCALATE"
	KindGenerateImage Kind = "GENERATE_IMAGE"
	KindAspect        Kind = "ASPECT"
	KindGenerateVideo Kind = "GENERATE_VIDEO"
	KindDuration      Kind = "DURATION"
	KindStyle         Kind = "STYLE"

	// Catalog workflow requests. They carry no payload the app acts on
	// beyond recording that the step was asked for.
	KindIngestData        Kind = "INGEST_DATA"
	KindNormalizeProducts Kind = "NORMALIZE_PRODUCTS"
	KindGenerateContent   Kind = "GENERATE_CONTENT"
	KindProcessImages     Kind = "PROCESS_IMAGES"
	KindExportDraft       Kind = "EXPORT_DRAFT"

	// KindPublish matches [PUBLISH...], [LIVE...] and [DEPLOY...] in any
	// case. Draft-only personas treat it as a scope violation.
	KindPublish Kind = "PUBLISH"

	// Emitted by the application after a generation job is queued. A model
	// must never produce these, so they are scrubbed from raw replies.
	KindImagePending Kind = "IMAGE_PENDING"
	KindVideoPending Kind = "VIDEO_PENDING"
)

// rule is the single declaration of a tag: extract finds the first
// occurrence and captures its payload, strip removes every occurrence.
type rule struct {
	extract *regexp.Regexp
	strip   *regexp.Regexp
}

var grammar = map[Kind]rule{
	KindData: {
		extract: regexp.MustCompile(`(?s)\[DATA: (.*?)\]`),
		strip:   regexp.MustCompile(`(?s)\[DATA:.*?\]`),
	},
	KindEscalate: {
		extract: regexp.MustCompile(`\[ESCALATE: ([^\]]+)\]`),
		strip:   regexp.MustCompile(`(?s)\[ESCALATE:.*?\]`),
	},
	KindGenerateImage: {
		extract: regexp.MustCompile(`(?s)\[GENERATE_IMAGE:(.*?)\]`),
		strip:   regexp.MustCompile(`(?s)\[GENERATE_IMAGE:.*?\]`),
	},
	KindAspect: {
		extract: regexp.MustCompile(`\[ASPECT:\s*((?i:landscape|portrait|square)|\d{1,2}:\d{1,2})\s*\]`),
		strip:   regexp.MustCompile(`(?s)\[ASPECT:.*?\]`),
	},
	KindGenerateVideo: {
		extract: regexp.MustCompile(`(?s)\[GENERATE_VIDEO:(.*?)\]`),
		strip:   regexp.MustCompile(`(?s)\[GENERATE_VIDEO:.*?\]`),
	},
	KindDuration: {
		extract: regexp.MustCompile(`\[DURATION:\s*(\d{1,4})\s*(?:s|sec|seconds)?\s*\]`),
		strip:   regexp.MustCompile(`(?s)\[DURATION:.*?\]`),
	},
	KindStyle: {
		extract: regexp.MustCompile(`\[STYLE:([^\]]+)\]`),
		strip:   regexp.MustCompile(`(?s)\[STYLE:.*?\]`),
	},
	KindIngestData:        activity("INGEST_DATA"),
	KindNormalizeProducts: activity("NORMALIZE_PRODUCTS"),
	KindGenerateContent:   activity("GENERATE_CONTENT"),
	KindProcessImages:     activity("PROCESS_IMAGES"),
	KindExportDraft:       activity("EXPORT_DRAFT"),
	KindPublish: {
		extract: regexp.MustCompile(`(?i)\[(PUBLISH|LIVE|DEPLOY)\b[^\]]*\]`),
		strip:   regexp.MustCompile(`(?is)\[(?:PUBLISH|LIVE|DEPLOY)\b.*?\]`),
	},
	KindImagePending: {
		extract: regexp.MustCompile(`\[IMAGE_PENDING:\s*([^\]\s]+)\s*\]`),
		strip:   regexp.MustCompile(`(?s)\[IMAGE_PENDING:.*?\]`),
	},
	KindVideoPending: {
		extract: regexp.MustCompile(`\[VIDEO_PENDING:\s*([^\]\s]+)\s*\]`),
		strip:   regexp.MustCompile(`(?s)\[VIDEO_PENDING:.*?\]`),
	},
}

// activity is the rule for a tag whose presence matters more than its payload.
func activity(tag string) rule {
	return rule{
		extract: regexp.MustCompile(`(?s)\[` + tag + `:(.*?)\]`),
		strip:   regexp.MustCompile(`(?s)\[` + tag + `:.*?\]`),
	}
}

// activityKinds are the catalog workflow tags, in reporting order.
var activityKinds = []Kind{
	KindIngestData,
	KindNormalizeProducts,
	KindGenerateContent,
	KindProcessImages,
	KindExportDraft,
}

// Order in which Process reports and strips markers.
var allKinds = []Kind{
	KindData,
	KindEscalate,
	KindGenerateImage,
	KindGenerateVideo,
	KindAspect,
	KindDuration,
	KindStyle,
	KindIngestData,
	KindNormalizeProducts,
	KindGenerateContent,
	KindProcessImages,
	KindExportDraft,
	KindPublish,
	KindImagePending,
	KindVideoPending,
}

// Kinds returns every known marker kind.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind maps a tag name such as "ESCALATE" to its Kind.
func ParseKind(name string) (Kind, bool) {
	k := Kind(name)
	_, ok := grammar[k]
	return k, ok
}

// first returns the first capture of kind's extract pattern.
func first(kind Kind, text string) (string, bool) {
	r, ok := grammar[kind]
	if !ok {
		return "", false
	}
	m := r.extract.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
