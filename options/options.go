// Package options collects the knobs shared by the encoder, the packer and
// the dataset layer. Options are applied with the functional WithOption
// pattern and validated as they are applied.
package options

import (
	"fmt"
)

// TruncationStrategy selects what happens to an encoded example that exceeds
// the length budget.
type TruncationStrategy string

const (
	// TruncationDelete drops the whole example.
	TruncationDelete TruncationStrategy = "delete"
	// TruncationLeft removes tokens from the front, oldest turns first.
	TruncationLeft TruncationStrategy = "truncation_left"
)

// MediaExpansion describes how one media placeholder span is expanded into
// tokens: Count repetitions of TokenID.
type MediaExpansion struct {
	TokenID int
	Count   int
}

// Options holds the resolved configuration. Use New or Defaults.
type Options struct {
	// MaxLength is the encode length budget in tokens. 0 means unlimited.
	MaxLength int
	// Truncation is applied when an encoded example exceeds MaxLength.
	Truncation TruncationStrategy
	// Strict makes per-example schema and capability errors fatal instead
	// of drop-and-count.
	Strict bool
	// DefaultSystem is used when a conversation carries no system turn.
	// It overrides the grammar's own default when non-empty.
	DefaultSystem string
	// TrainSuffixEOS makes a trailing end-of-sequence token in the suffix
	// trainable. This is a per-encoder policy fixed at construction.
	TrainSuffixEOS bool
	// Media maps a span kind ("image", "video", "audio") to its token
	// expansion. Kinds without an entry cannot be encoded.
	Media map[string]MediaExpansion

	// PadID fills the tail of packed blocks.
	PadID int
	// BlockLength is the fixed length of packed blocks.
	BlockLength int

	// Seed drives any resampling done to fill skipped slots.
	Seed int64
	// MaxEncodeAttempts bounds resampling in non-strict lazy encoding.
	MaxEncodeAttempts int

	Verbose bool
}

// Defaults returns the default configuration.
func Defaults() *Options {
	return &Options{
		Truncation:        TruncationDelete,
		Media:             map[string]MediaExpansion{},
		BlockLength:       2048,
		MaxEncodeAttempts: 10,
	}
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// New applies opts on top of the defaults.
func New(opts ...WithOption) (*Options, error) {
	o := Defaults()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithMaxLength sets the encode length budget.
func WithMaxLength(n int) WithOption {
	return func(o *Options) error {
		if n < 0 {
			return fmt.Errorf("max length must be >= 0, got %d", n)
		}
		o.MaxLength = n
		return nil
	}
}

// WithTruncation selects the truncation strategy.
func WithTruncation(strategy TruncationStrategy) WithOption {
	return func(o *Options) error {
		switch strategy {
		case TruncationDelete, TruncationLeft:
			o.Truncation = strategy
			return nil
		default:
			return fmt.Errorf("unknown truncation strategy %q", strategy)
		}
	}
}

// WithStrict makes per-example errors fatal.
func WithStrict() WithOption {
	return func(o *Options) error {
		o.Strict = true
		return nil
	}
}

// WithDefaultSystem sets the system message used when a conversation has none.
func WithDefaultSystem(system string) WithOption {
	return func(o *Options) error {
		o.DefaultSystem = system
		return nil
	}
}

// WithTrainableSuffixEOS makes a trailing EOS token in the suffix trainable.
func WithTrainableSuffixEOS() WithOption {
	return func(o *Options) error {
		o.TrainSuffixEOS = true
		return nil
	}
}

// WithMedia configures the token expansion for one media span kind.
func WithMedia(kind string, tokenID, count int) WithOption {
	return func(o *Options) error {
		if count <= 0 {
			return fmt.Errorf("media expansion count must be > 0, got %d", count)
		}
		switch kind {
		case "image", "video", "audio":
			o.Media[kind] = MediaExpansion{TokenID: tokenID, Count: count}
			return nil
		default:
			return fmt.Errorf("unknown media kind %q", kind)
		}
	}
}

// WithPadID sets the padding token id for packed blocks.
func WithPadID(id int) WithOption {
	return func(o *Options) error {
		o.PadID = id
		return nil
	}
}

// WithBlockLength sets the fixed length of packed blocks.
func WithBlockLength(n int) WithOption {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("block length must be > 0, got %d", n)
		}
		o.BlockLength = n
		return nil
	}
}

// WithSeed sets the seed for deterministic resampling.
func WithSeed(seed int64) WithOption {
	return func(o *Options) error {
		o.Seed = seed
		return nil
	}
}

// WithMaxEncodeAttempts bounds resampling in non-strict lazy encoding.
func WithMaxEncodeAttempts(n int) WithOption {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("max encode attempts must be > 0, got %d", n)
		}
		o.MaxEncodeAttempts = n
		return nil
	}
}

// WithVerbose enables progress reporting on datasets.
func WithVerbose() WithOption {
	return func(o *Options) error {
		o.Verbose = true
		return nil
	}
}
