package datasets

import (
	"fmt"
	"math/rand"

	"github.com/phuslu/log"

	"github.com/chatgram/chatgram/encoder"
	"github.com/chatgram/chatgram/options"
)

// RawProvider is a randomly addressable source of raw conversation records.
type RawProvider interface {
	Len() int
	Get(i int) (*encoder.Record, error)
}

// SliceProvider serves records from memory.
type SliceProvider []encoder.Record

func (p SliceProvider) Len() int {
	return len(p)
}

func (p SliceProvider) Get(i int) (*encoder.Record, error) {
	if i < 0 || i >= len(p) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(p))
	}
	return &p[i], nil
}

// LazyEncodingSource encodes records on demand during training iteration.
// Under non-strict operation a position whose record fails to encode is
// filled by resampling other positions; the resampling is derived from the
// configured seed and the requested index only, so repeated and out-of-order
// Get calls are reproducible.
type LazyEncodingSource struct {
	provider    RawProvider
	enc         *encoder.Encoder
	strict      bool
	seed        int64
	maxAttempts int
	stats       *Stats
}

// NewLazyEncodingSource wraps provider and enc. A nil opts uses the defaults.
func NewLazyEncodingSource(provider RawProvider, enc *encoder.Encoder, opts *options.Options) (*LazyEncodingSource, error) {
	if provider == nil {
		return nil, fmt.Errorf("a raw provider is required")
	}
	if enc == nil {
		return nil, fmt.Errorf("an encoder is required")
	}
	if opts == nil {
		opts = options.Defaults()
	}
	return &LazyEncodingSource{
		provider:    provider,
		enc:         enc,
		strict:      opts.Strict,
		seed:        opts.Seed,
		maxAttempts: opts.MaxEncodeAttempts,
		stats:       NewStats(),
	}, nil
}

// Len returns the number of addressable positions.
func (s *LazyEncodingSource) Len() int {
	return s.provider.Len()
}

// Stats returns the drop/skip counters accumulated so far.
func (s *LazyEncodingSource) Stats() *Stats {
	return s.stats
}

// Get encodes the record at position i. Under strict operation any encode
// error propagates. Otherwise recoverable errors are counted and the slot is
// filled from deterministically resampled positions; the last error is
// returned when every attempt fails.
func (s *LazyEncodingSource) Get(i int) (*encoder.Example, error) {
	record, err := s.provider.Get(i)
	if err != nil {
		return nil, err
	}
	ex, err := encodeRecord(s.enc, record)
	s.stats.Observe(err)
	if err == nil {
		return ex, nil
	}
	if s.strict || !encoder.IsRecoverable(err) {
		return nil, err
	}

	// Deterministic per-index resampling: the rng depends only on the
	// seed and the requested index, never on call order.
	rng := rand.New(rand.NewSource(s.seed ^ int64(uint64(int64(i)+1)*0x9e3779b97f4a7c15)))
	lastErr := err
	for attempt := 1; attempt < s.maxAttempts; attempt++ {
		j := rng.Intn(s.provider.Len())
		record, err = s.provider.Get(j)
		if err != nil {
			return nil, err
		}
		ex, err = encodeRecord(s.enc, record)
		s.stats.Observe(err)
		if err == nil {
			return ex, nil
		}
		if !encoder.IsRecoverable(err) {
			return nil, err
		}
		lastErr = err
	}
	log.Warn().Int("index", i).Int("attempts", s.maxAttempts).Err(lastErr).Msg("lazy encode: all resampling attempts failed")
	return nil, lastErr
}
