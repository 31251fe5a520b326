package vocab

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/chatgram/chatgram/grammar"
)

var tiktokenAllSpecial = []string{"all"}

type tiktokenVocabulary struct {
	tke      *tiktoken.Tiktoken
	specials map[string]int
}

func loadTiktokenVocabulary(cfg Config) (grammar.Vocabulary, error) {
	if cfg.Encoding == "" {
		return nil, fmt.Errorf("the TIKTOKEN backend requires an encoding name, e.g. cl100k_base")
	}
	tke, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("loading tiktoken encoding %q: %w", cfg.Encoding, err)
	}
	v := &tiktokenVocabulary{tke: tke}
	v.specials = resolveSpecials(func(literal string) (int, bool) {
		ids := tke.Encode(literal, tiktokenAllSpecial, nil)
		if len(ids) != 1 {
			return 0, false
		}
		return ids[0], true
	}, cfg.SpecialTokens)
	return v, nil
}

func (v *tiktokenVocabulary) SpecialToken(name string) (int, bool) {
	id, ok := v.specials[name]
	return id, ok
}

func (v *tiktokenVocabulary) Encode(text string) ([]int, error) {
	if text == "" {
		return nil, nil
	}
	return v.tke.Encode(text, nil, nil), nil
}
