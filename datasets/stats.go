package datasets

import (
	"errors"

	"github.com/phuslu/log"

	"github.com/chatgram/chatgram/encoder"
)

// Stats counts the outcome of a bulk or lazy encode: how many examples were
// produced and how many were dropped, by cause.
type Stats struct {
	Encoded int
	Dropped int
	ByKind  map[string]int
}

func NewStats() *Stats {
	return &Stats{ByKind: map[string]int{}}
}

// Observe records the outcome of one encode call.
func (s *Stats) Observe(err error) {
	if err == nil {
		s.Encoded++
		return
	}
	s.Dropped++
	s.ByKind[dropKind(err)]++
}

func dropKind(err error) string {
	var schemaErr *encoder.SchemaError
	var featErr *encoder.UnsupportedFeatureError
	var truncErr *encoder.TruncationImpossibleError
	switch {
	case errors.As(err, &schemaErr):
		return "schema"
	case errors.As(err, &featErr):
		return "unsupported_feature"
	case errors.As(err, &truncErr):
		return "truncation_impossible"
	case errors.Is(err, encoder.ErrDropped):
		return "over_length"
	default:
		return "other"
	}
}

// LogSummary emits one structured summary line for the whole operation.
// Per-example drops are deliberately not logged one by one.
func (s *Stats) LogSummary(operation string) {
	event := log.Info().
		Str("operation", operation).
		Int("encoded", s.Encoded).
		Int("dropped", s.Dropped)
	for kind, n := range s.ByKind {
		event = event.Int("dropped_"+kind, n)
	}
	event.Msg("encode summary")
}
