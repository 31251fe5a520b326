package encoder

import (
	"encoding/json"
	"strings"
)

// Media markers recognised inside message content. Each occurrence consumes
// the next reference from the record's corresponding list.
const (
	ImageMarker = "<image>"
	VideoMarker = "<video>"
	AudioMarker = "<audio>"
)

// Message is one role/content pair as it appears on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record is a raw conversation record as produced by dataset preprocessing:
// ordered messages plus optional media reference lists and tool definitions.
type Record struct {
	Messages []Message `json:"messages"`
	Images   []string  `json:"images,omitempty"`
	Videos   []string  `json:"videos,omitempty"`
	Audios   []string  `json:"audios,omitempty"`

	Tools []json.RawMessage `json:"tools,omitempty"`
}

var markerKinds = []struct {
	marker string
	kind   SpanKind
}{
	{ImageMarker, SpanImage},
	{VideoMarker, SpanVideo},
	{AudioMarker, SpanAudio},
}

// Conversation converts the record into the canonical schema, splitting
// message content on media markers and attaching references in order. It
// returns a *SchemaError when markers and reference lists disagree.
func (r *Record) Conversation() (*Conversation, error) {
	cursor := map[SpanKind]int{}
	lists := map[SpanKind][]string{
		SpanImage: r.Images,
		SpanVideo: r.Videos,
		SpanAudio: r.Audios,
	}

	conv := &Conversation{}
	for _, msg := range r.Messages {
		turn := Turn{Role: Role(msg.Role)}
		rest := msg.Content
		for {
			idx, kind := nextMarker(rest)
			if idx < 0 {
				if rest != "" || len(turn.Spans) == 0 {
					turn.Spans = append(turn.Spans, Span{Kind: SpanText, Text: rest})
				}
				break
			}
			if idx > 0 {
				turn.Spans = append(turn.Spans, Span{Kind: SpanText, Text: rest[:idx]})
			}
			refs := lists[kind]
			if cursor[kind] >= len(refs) {
				return nil, &SchemaError{Reason: "content references more " + string(kind) + " media than the record provides"}
			}
			turn.Spans = append(turn.Spans, Span{Kind: kind, Ref: refs[cursor[kind]]})
			cursor[kind]++
			rest = rest[idx+markerLen(kind):]
		}
		conv.Turns = append(conv.Turns, turn)
	}

	for kind, refs := range lists {
		if cursor[kind] < len(refs) {
			return nil, &SchemaError{Reason: "record provides " + string(kind) + " media never referenced by the content"}
		}
	}
	return conv, nil
}

func nextMarker(s string) (int, SpanKind) {
	best := -1
	var kind SpanKind
	for _, mk := range markerKinds {
		if idx := strings.Index(s, mk.marker); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			kind = mk.kind
		}
	}
	return best, kind
}

func markerLen(kind SpanKind) int {
	for _, mk := range markerKinds {
		if mk.kind == kind {
			return len(mk.marker)
		}
	}
	return 0
}
