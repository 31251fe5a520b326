package encoder

// IgnoreIndex marks a label position as excluded from the loss.
const IgnoreIndex = -100

// MediaSpan records the token range a media placeholder was expanded into,
// and which entry of the corresponding reference list it belongs to.
// Truncation uses it to avoid splitting a placeholder expansion.
type MediaSpan struct {
	Kind  SpanKind `json:"kind"`
	Start int      `json:"start"`
	End   int      `json:"end"`
	Index int      `json:"index"`
}

// Example is one encoded conversation: a flat token sequence with a parallel
// label sequence of the same length. Masked positions carry IgnoreIndex;
// assistant tokens carry their own id, implementing next-token loss.
type Example struct {
	TokenIDs []int `json:"token_ids"`
	Labels   []int `json:"labels"`

	Images []string `json:"images,omitempty"`
	Videos []string `json:"videos,omitempty"`
	Audios []string `json:"audios,omitempty"`

	MediaSpans []MediaSpan `json:"media_spans,omitempty"`
}

// Len returns the token length of the example.
func (e *Example) Len() int {
	return len(e.TokenIDs)
}

// TrainableTokens counts label positions included in the loss.
func (e *Example) TrainableTokens() int {
	n := 0
	for _, label := range e.Labels {
		if label != IgnoreIndex {
			n++
		}
	}
	return n
}

func (e *Example) refs(kind SpanKind) []string {
	switch kind {
	case SpanImage:
		return e.Images
	case SpanVideo:
		return e.Videos
	case SpanAudio:
		return e.Audios
	}
	return nil
}

func (e *Example) setRefs(kind SpanKind, refs []string) {
	switch kind {
	case SpanImage:
		e.Images = refs
	case SpanVideo:
		e.Videos = refs
	case SpanAudio:
		e.Audios = refs
	}
}

// TruncateLeft returns ex shortened from the front to at most maxLength
// tokens. The cut never lands inside a media placeholder expansion: when it
// would, it advances to the end of that expansion and the whole placeholder
// is removed together with its media reference. An example already within
// budget is returned unchanged.
func TruncateLeft(ex *Example, maxLength int) *Example {
	if maxLength <= 0 || ex.Len() <= maxLength {
		return ex
	}
	cut := ex.Len() - maxLength
	for _, span := range ex.MediaSpans {
		if span.Start < cut && cut < span.End {
			cut = span.End
			break
		}
	}

	out := &Example{
		TokenIDs: append([]int(nil), ex.TokenIDs[cut:]...),
		Labels:   append([]int(nil), ex.Labels[cut:]...),
	}

	// Removed placeholders take their reference with them; surviving span
	// offsets and reference indices shift down.
	removed := map[SpanKind]int{}
	for _, span := range ex.MediaSpans {
		if span.End <= cut {
			removed[span.Kind]++
			continue
		}
		out.MediaSpans = append(out.MediaSpans, MediaSpan{
			Kind:  span.Kind,
			Start: span.Start - cut,
			End:   span.End - cut,
			Index: span.Index - removed[span.Kind],
		})
	}
	for _, kind := range []SpanKind{SpanImage, SpanVideo, SpanAudio} {
		refs := ex.refs(kind)
		if n := removed[kind]; n > 0 {
			refs = refs[n:]
		}
		if len(refs) > 0 {
			out.setRefs(kind, append([]string(nil), refs...))
		}
	}
	return out
}
