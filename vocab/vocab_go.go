package vocab

import (
	"bytes"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/chatgram/chatgram/grammar"
)

type goVocabulary struct {
	tk       *tokenizer.Tokenizer
	specials map[string]int
}

func loadGoVocabulary(tokenizerBytes []byte, cfg Config) (grammar.Vocabulary, error) {
	tk, err := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if err != nil {
		return nil, err
	}
	v := &goVocabulary{tk: tk}
	vocabulary := tk.GetVocab(true)
	v.specials = resolveSpecials(func(literal string) (int, bool) {
		id, ok := vocabulary[literal]
		return id, ok
	}, cfg.SpecialTokens)
	return v, nil
}

func (v *goVocabulary) SpecialToken(name string) (int, bool) {
	id, ok := v.specials[name]
	return id, ok
}

func (v *goVocabulary) Encode(text string) ([]int, error) {
	if text == "" {
		return nil, nil
	}
	encoding, err := v.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, err
	}
	return encoding.Ids, nil
}
