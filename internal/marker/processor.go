package marker

import (
	"regexp"
	"strings"
)

type Aspect string

const (
	AspectLandscape Aspect = "landscape"
	AspectPortrait  Aspect = "portrait"
	AspectSquare    Aspect = "square"
)

// DefaultAspect is used when a reply requests an image without [ASPECT: ...].
const DefaultAspect = AspectLandscape

var ratioAspects = map[string]Aspect{
	"16:9": AspectLandscape,
	"4:3":  AspectLandscape,
	"9:16": AspectPortrait,
	"4:5":  AspectPortrait,
	"3:4":  AspectPortrait,
	"1:1":  AspectSquare,
}

var aspectRatios = map[Aspect]string{
	AspectLandscape: "16:9",
	AspectPortrait:  "9:16",
	AspectSquare:    "1:1",
}

// ImageRequest is the payload of a [GENERATE_IMAGE: ...] marker.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Aspect Aspect `json:"aspect"`
}

// VideoRequest is the payload of a [GENERATE_VIDEO: ...] marker plus its
// optional [ASPECT: ...], [DURATION: ...] and [STYLE: ...] hints. Zero
// values mean "not specified"; callers apply their own defaults.
type VideoRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
	Style       string `json:"style,omitempty"`
}

// Marker is one extracted tag.
type Marker struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload"`
}

// Result is everything Process found in one reply. Activities holds the
// first occurrence of each catalog workflow tag; ScopeViolation is set when
// the reply tried to publish, go live or deploy.
type Result struct {
	Markers        []Marker      `json:"markers"`
	Data           string        `json:"data,omitempty"`
	HasData        bool          `json:"has_data"`
	Escalation     string        `json:"escalation,omitempty"`
	Image          *ImageRequest `json:"image,omitempty"`
	Video          *VideoRequest `json:"video,omitempty"`
	Activities     []Marker      `json:"activities,omitempty"`
	ScopeViolation bool          `json:"scope_violation,omitempty"`
	Cleaned        string        `json:"cleaned"`
}

// Escalated reports whether the reply asked for a human.
func (r Result) Escalated() bool { return r.Escalation != "" }

// ExtractDataCapture returns the raw payload of the first [DATA: ...] marker.
func ExtractDataCapture(text string) (string, bool) {
	return first(KindData, text)
}

// ExtractEscalation returns the trimmed reason of the first [ESCALATE: ...].
// A marker whose reason is blank counts as absent.
func ExtractEscalation(text string) (string, bool) {
	reason, ok := first(KindEscalate, text)
	if !ok {
		return "", false
	}
	reason = strings.TrimSpace(reason)
	return reason, reason != ""
}

// ExtractImageRequest returns the first [GENERATE_IMAGE: ...] prompt and the
// first [ASPECT: ...] hint, defaulting the aspect to landscape.
func ExtractImageRequest(text string) (ImageRequest, bool) {
	prompt, ok := first(KindGenerateImage, text)
	if !ok {
		return ImageRequest{}, false
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ImageRequest{}, false
	}
	return ImageRequest{Prompt: prompt, Aspect: ExtractAspect(text)}, true
}

// ExtractAspect returns the first aspect hint in text, or DefaultAspect.
// Ratio hints (16:9, 9:16, 1:1, 4:5) are mapped onto an orientation.
func ExtractAspect(text string) Aspect {
	v, ok := first(KindAspect, text)
	if !ok {
		return DefaultAspect
	}
	return toAspect(v)
}

// ExtractVideoRequest returns the first [GENERATE_VIDEO: ...] prompt along
// with any aspect ratio, duration and style hints.
func ExtractVideoRequest(text string) (VideoRequest, bool) {
	prompt, ok := first(KindGenerateVideo, text)
	if !ok {
		return VideoRequest{}, false
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return VideoRequest{}, false
	}

	req := VideoRequest{Prompt: prompt}
	if v, ok := first(KindAspect, text); ok {
		req.AspectRatio = toRatio(v)
	}
	if v, ok := first(KindDuration, text); ok {
		req.DurationSec = atoi(v)
	}
	if v, ok := first(KindStyle, text); ok {
		req.Style = strings.TrimSpace(v)
	}
	return req, true
}

// ExtractScopeViolation reports the first publish, live or deploy tag in
// text, returning its verb upper-cased.
func ExtractScopeViolation(text string) (string, bool) {
	verb, ok := first(KindPublish, text)
	if !ok {
		return "", false
	}
	return strings.ToUpper(verb), true
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Strip removes every occurrence of the given kinds, collapses runs of three
// or more newlines to two, and trims the result. Unlike extraction it is
// global: duplicates and malformed repeats are all scrubbed.
func Strip(text string, kinds ...Kind) string {
	for _, k := range kinds {
		if r, ok := grammar[k]; ok {
			text = r.strip.ReplaceAllString(text, "")
		}
	}
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// StripAll removes every known marker kind.
func StripAll(text string) string {
	return Strip(text, allKinds...)
}

// Process extracts every supported marker from a raw model reply and returns
// the reply with all markers removed.
func Process(text string) Result {
	res := Result{Markers: []Marker{}}

	if data, ok := ExtractDataCapture(text); ok {
		res.Data, res.HasData = data, true
		res.Markers = append(res.Markers, Marker{Kind: KindData, Payload: data})
	}
	if reason, ok := ExtractEscalation(text); ok {
		res.Escalation = reason
		res.Markers = append(res.Markers, Marker{Kind: KindEscalate, Payload: reason})
	}
	if img, ok := ExtractImageRequest(text); ok {
		res.Image = &img
		res.Markers = append(res.Markers, Marker{Kind: KindGenerateImage, Payload: img.Prompt})
	}
	if vid, ok := ExtractVideoRequest(text); ok {
		res.Video = &vid
		res.Markers = append(res.Markers, Marker{Kind: KindGenerateVideo, Payload: vid.Prompt})
	}
	for _, k := range []Kind{KindAspect, KindDuration, KindStyle} {
		if v, ok := first(k, text); ok {
			res.Markers = append(res.Markers, Marker{Kind: k, Payload: strings.TrimSpace(v)})
		}
	}
	for _, k := range activityKinds {
		if v, ok := first(k, text); ok {
			m := Marker{Kind: k, Payload: strings.TrimSpace(v)}
			res.Activities = append(res.Activities, m)
			res.Markers = append(res.Markers, m)
		}
	}
	if verb, ok := ExtractScopeViolation(text); ok {
		res.ScopeViolation = true
		res.Markers = append(res.Markers, Marker{Kind: KindPublish, Payload: verb})
	}

	res.Cleaned = StripAll(text)
	return res
}

// PendingTag renders the placeholder appended to a reply once a generation
// job is queued, e.g. "[IMAGE_PENDING: 3f2c...]".
func PendingTag(kind Kind, id string) string {
	return "[" + string(kind) + ": " + id + "]"
}

// AppendPending adds a pending tag on its own paragraph after text.
func AppendPending(text string, kind Kind, id string) string {
	tag := PendingTag(kind, id)
	if text == "" {
		return tag
	}
	return text + "\n\n" + tag
}

// PendingIDs returns the job ids of every pending tag of kind in text.
func PendingIDs(text string, kind Kind) []string {
	r, ok := grammar[kind]
	if !ok {
		return nil
	}
	var ids []string
	for _, m := range r.extract.FindAllStringSubmatch(text, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

func toAspect(v string) Aspect {
	if a, ok := ratioAspects[v]; ok {
		return a
	}
	switch a := Aspect(strings.ToLower(v)); a {
	case AspectLandscape, AspectPortrait, AspectSquare:
		return a
	}
	return DefaultAspect
}

func toRatio(v string) string {
	if _, ok := ratioAspects[v]; ok {
		return v
	}
	if r, ok := aspectRatios[Aspect(strings.ToLower(v))]; ok {
		return r
	}
	return v
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
