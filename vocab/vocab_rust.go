//go:build RUST || ALL

package vocab

import (
	"github.com/daulet/tokenizers"

	"github.com/chatgram/chatgram/grammar"
	"github.com/chatgram/chatgram/util/safeconv"
)

type rustVocabulary struct {
	tk       *tokenizers.Tokenizer
	specials map[string]int
}

func loadRustVocabulary(tokenizerBytes []byte, cfg Config) (grammar.Vocabulary, error) {
	tk, err := tokenizers.FromBytes(tokenizerBytes)
	if err != nil {
		return nil, err
	}
	v := &rustVocabulary{tk: tk}
	// The rust bindings expose no vocab map, so literals are probed by
	// encoding them: a special token encodes to exactly one id.
	v.specials = resolveSpecials(func(literal string) (int, bool) {
		ids, _ := tk.Encode(literal, false)
		if len(ids) != 1 {
			return 0, false
		}
		return int(ids[0]), true
	}, cfg.SpecialTokens)
	return v, nil
}

func (v *rustVocabulary) SpecialToken(name string) (int, bool) {
	id, ok := v.specials[name]
	return id, ok
}

func (v *rustVocabulary) Encode(text string) ([]int, error) {
	if text == "" {
		return nil, nil
	}
	ids, _ := v.tk.Encode(text, false)
	return safeconv.Uint32SliceToIntSlice(ids), nil
}

// Close releases the rust-side tokenizer.
func (v *rustVocabulary) Close() error {
	return v.tk.Close()
}
