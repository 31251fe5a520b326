package grammar

// Well-known symbolic token names. Resolution goes through this closed set:
// a symbolic token naming anything else fails with *UnresolvedTokenError.
const (
	BOSTokenID = "bos_token_id"
	EOSTokenID = "eos_token_id"
	PadTokenID = "pad_token_id"
	UnkTokenID = "unk_token_id"
)

var wellKnownTokens = map[string]struct{}{
	BOSTokenID: {},
	EOSTokenID: {},
	PadTokenID: {},
	UnkTokenID: {},
}

// Vocabulary is the token lookup a grammar is bound against. Implementations
// live in the vocab package; tests use small in-memory fakes.
type Vocabulary interface {
	// SpecialToken returns the id of a well-known token (see the
	// *TokenID constants) and whether the vocabulary defines it.
	SpecialToken(name string) (int, bool)
	// Encode tokenizes literal text without adding any special tokens.
	Encode(text string) ([]int, error)
}

// Resolved is a Spec bound to one vocabulary: every symbolic token carries
// its concrete id. A Resolved grammar is produced once per (Spec, Vocabulary)
// pair, is read-only, and is safe to share across concurrent encodes.
type Resolved struct {
	Spec
	vocab Vocabulary
}

// Vocab returns the vocabulary the grammar was resolved against.
func (r *Resolved) Vocab() Vocabulary {
	return r.vocab
}

// Resolve binds spec to vocab, replacing every symbolic token with its
// integer id. Tokens that are already concrete pass through unchanged, so
// resolving an already-resolved grammar is a no-op. spec is not modified.
func Resolve(spec *Spec, vocab Vocabulary) (*Resolved, error) {
	r := &Resolved{
		Spec: Spec{
			TemplateType:      spec.TemplateType,
			Prefix:            spec.Prefix.clone(),
			Prompt:            spec.Prompt.clone(),
			ChatSep:           spec.ChatSep.clone(),
			Suffix:            spec.Suffix.clone(),
			SystemPrefix:      spec.SystemPrefix.clone(),
			ToolPrompt:        spec.ToolPrompt.clone(),
			DefaultSystem:     spec.DefaultSystem,
			AutoAddBOS:        spec.AutoAddBOS,
			systemPrompt:      spec.systemPrompt.clone(),
			toolSystemPrompt:  spec.toolSystemPrompt.clone(),
			supportSystem:     spec.supportSystem,
			supportMultiRound: spec.supportMultiRound,
			postSystem:        spec.postSystem,
		},
		vocab: vocab,
	}
	if spec.StopWords != nil {
		r.StopWords = append([]string(nil), spec.StopWords...)
	}
	if spec.PlaceholderTokens != nil {
		r.PlaceholderTokens = append([]Token(nil), spec.PlaceholderTokens...)
	}

	prompts := []Prompt{
		r.Prefix, r.Prompt, r.ChatSep, r.Suffix,
		r.SystemPrefix, r.ToolPrompt, r.systemPrompt, r.toolSystemPrompt,
	}
	for _, prompt := range prompts {
		if err := resolvePrompt(prompt, vocab); err != nil {
			return nil, err
		}
	}
	if err := resolveTokens(r.PlaceholderTokens, vocab); err != nil {
		return nil, err
	}
	return r, nil
}

func resolvePrompt(p Prompt, vocab Vocabulary) error {
	for i := range p {
		if err := resolveTokens(p[i].Tokens, vocab); err != nil {
			return err
		}
	}
	return nil
}

func resolveTokens(tokens []Token, vocab Vocabulary) error {
	for i, tok := range tokens {
		if tok.Resolved() {
			continue
		}
		if _, ok := wellKnownTokens[tok.Name]; !ok {
			return &UnresolvedTokenError{Name: tok.Name}
		}
		id, ok := vocab.SpecialToken(tok.Name)
		if !ok {
			return &UnresolvedTokenError{Name: tok.Name}
		}
		tokens[i] = Token{ID: id}
	}
	return nil
}
