// Package grammar describes how a chat model expects its prompt to be
// assembled: the literal text and special tokens emitted around and between
// conversation turns. A Spec is built once from static configuration,
// validated, and treated as immutable. Binding a Spec to a concrete
// vocabulary produces a Resolved grammar which is what the encoder consumes.
package grammar

import (
	"strings"
)

// Placeholders recognised inside the text of a Piece.
const (
	QueryPlaceholder  = "{{QUERY}}"
	SystemPlaceholder = "{{SYSTEM}}"
)

// Token is a single token reference inside a Piece. A token is either
// symbolic (Name holds a well-known tokenizer attribute such as
// "eos_token_id") or concrete (ID holds the integer id for one vocabulary).
// Resolve turns symbolic tokens into concrete ones.
type Token struct {
	Name string
	ID   int
}

// Sym returns a symbolic token reference to be bound at resolution time.
func Sym(name string) Token {
	return Token{Name: name, ID: -1}
}

// ID returns a concrete token with a fixed id, independent of vocabulary.
func ID(id int) Token {
	return Token{ID: id}
}

// Resolved reports whether the token already carries a concrete id.
func (t Token) Resolved() bool {
	return t.Name == ""
}

// Piece is one element of a Prompt: either literal text (which may embed
// {{QUERY}} or {{SYSTEM}} placeholders and is tokenized at encode time) or a
// run of tokens emitted verbatim. Exactly one of the two fields is set.
type Piece struct {
	Text   string
	Tokens []Token
}

// Text returns a literal text piece.
func Text(s string) Piece {
	return Piece{Text: s}
}

// Tokens returns a token-run piece.
func Tokens(ts ...Token) Piece {
	return Piece{Tokens: ts}
}

// IsText reports whether the piece is a literal text piece.
func (p Piece) IsText() bool {
	return len(p.Tokens) == 0
}

// Prompt is an ordered sequence of pieces.
type Prompt []Piece

func (p Prompt) clone() Prompt {
	if p == nil {
		return nil
	}
	out := make(Prompt, len(p))
	for i, piece := range p {
		out[i] = Piece{Text: piece.Text}
		if piece.Tokens != nil {
			out[i].Tokens = append([]Token(nil), piece.Tokens...)
		}
	}
	return out
}

func (p Prompt) hasPlaceholder(placeholder string) bool {
	for _, piece := range p {
		if piece.IsText() && strings.Contains(piece.Text, placeholder) {
			return true
		}
	}
	return false
}

// stripPlaceholder removes the given placeholder from every text piece.
func (p Prompt) stripPlaceholder(placeholder string) Prompt {
	out := p.clone()
	for i := range out {
		if out[i].IsText() {
			out[i].Text = strings.ReplaceAll(out[i].Text, placeholder, "")
		}
	}
	return out
}

// Config is the static description of a chat format from which a Spec is
// built. See the chatml example in templates registered by the root package:
//
//	prefix:        (empty)
//	prompt:        <|im_start|>user\n{{QUERY}}<|im_end|>\n<|im_start|>assistant\n
//	chat sep:      <|im_end|>\n
//	suffix:        <|im_end|>
//	system prefix: <|im_start|>system\n{{SYSTEM}}<|im_end|>\n
type Config struct {
	TemplateType string
	Prefix       Prompt
	Prompt       Prompt
	ChatSep      Prompt
	Suffix       Prompt
	SystemPrefix Prompt
	ToolPrompt   Prompt

	DefaultSystem string
	AutoAddBOS    bool

	// StopWords and PlaceholderTokens are carried for the generation side
	// and are not consumed during training encoding.
	StopWords         []string
	PlaceholderTokens []Token
}

// Spec is an immutable chat-format grammar. Build one with New; never mutate
// it afterwards. A Spec is safe for concurrent use.
type Spec struct {
	TemplateType string
	Prefix       Prompt
	Prompt       Prompt
	ChatSep      Prompt
	Suffix       Prompt
	SystemPrefix Prompt
	ToolPrompt   Prompt

	DefaultSystem string
	AutoAddBOS    bool

	StopWords         []string
	PlaceholderTokens []Token

	// systemPrompt is the {{SYSTEM}}-carrying variant of Prompt for
	// post-system grammars; Prompt itself has the placeholder stripped.
	systemPrompt Prompt
	// toolSystemPrompt is the {{SYSTEM}}-carrying variant of an explicitly
	// configured ToolPrompt, when it declares the placeholder itself.
	toolSystemPrompt Prompt

	supportSystem     bool
	supportMultiRound bool
	postSystem        bool
}

// New validates cfg and derives the grammar capability flags. The system
// placeholder may be declared in at most one place: embedded in the prefix,
// in a separate system prefix, or embedded in the prompt (post-system
// grammars). Declaring it twice is a *GrammarError.
func New(cfg Config) (*Spec, error) {
	s := &Spec{
		TemplateType:  cfg.TemplateType,
		Prefix:        cfg.Prefix.clone(),
		Prompt:        cfg.Prompt.clone(),
		ChatSep:       cfg.ChatSep.clone(),
		Suffix:        cfg.Suffix.clone(),
		SystemPrefix:  cfg.SystemPrefix.clone(),
		ToolPrompt:    cfg.ToolPrompt.clone(),
		DefaultSystem: cfg.DefaultSystem,
		AutoAddBOS:    cfg.AutoAddBOS,
	}
	if cfg.StopWords != nil {
		s.StopWords = append([]string(nil), cfg.StopWords...)
	}
	if cfg.PlaceholderTokens != nil {
		s.PlaceholderTokens = append([]Token(nil), cfg.PlaceholderTokens...)
	}

	prefixHasSystem := s.Prefix.hasPlaceholder(SystemPlaceholder)
	promptHasSystem := s.Prompt.hasPlaceholder(SystemPlaceholder)

	if prefixHasSystem && promptHasSystem {
		return nil, &GrammarError{TemplateType: s.TemplateType, Reason: "both prefix and prompt declare " + SystemPlaceholder}
	}
	if prefixHasSystem && s.SystemPrefix != nil {
		return nil, &GrammarError{TemplateType: s.TemplateType, Reason: "prefix already declares " + SystemPlaceholder + ", system prefix must not be set"}
	}
	if s.SystemPrefix != nil && promptHasSystem {
		return nil, &GrammarError{TemplateType: s.TemplateType, Reason: "both system prefix and prompt declare " + SystemPlaceholder}
	}

	if prefixHasSystem {
		// A prefix embedding the system placeholder doubles as the system
		// prefix; the plain prefix is the same sequence with the
		// placeholder stripped.
		s.SystemPrefix = s.Prefix.clone()
		s.Prefix = s.Prefix.stripPlaceholder(SystemPlaceholder)
	}

	s.postSystem = promptHasSystem
	if s.postSystem {
		s.systemPrompt = s.Prompt.clone()
		s.Prompt = s.Prompt.stripPlaceholder(SystemPlaceholder)
	}

	if s.ToolPrompt == nil {
		// Tool turns default to the user prompt, including its
		// post-system variant.
		s.ToolPrompt = s.Prompt.clone()
		s.toolSystemPrompt = s.systemPrompt.clone()
	} else if s.ToolPrompt.hasPlaceholder(SystemPlaceholder) {
		s.toolSystemPrompt = s.ToolPrompt.clone()
		s.ToolPrompt = s.ToolPrompt.stripPlaceholder(SystemPlaceholder)
	}

	s.supportSystem = s.SystemPrefix != nil || s.postSystem
	s.supportMultiRound = s.ChatSep != nil

	if s.DefaultSystem != "" && !s.supportSystem {
		return nil, &GrammarError{TemplateType: s.TemplateType, Reason: "default system set but the grammar has no system slot"}
	}
	return s, nil
}

// SupportsSystem reports whether the grammar has a slot for a system message.
func (s *Spec) SupportsSystem() bool {
	return s.supportSystem
}

// SupportsMultiRound reports whether more than one user/assistant round can
// be encoded (a chat separator is configured).
func (s *Spec) SupportsMultiRound() bool {
	return s.supportMultiRound
}

// IsPostSystem reports whether the system message is substituted into the
// first prompt occurrence rather than emitted before the first turn.
func (s *Spec) IsPostSystem() bool {
	return s.postSystem
}

// SystemPrompt returns the {{SYSTEM}}-carrying prompt variant for post-system
// grammars, or nil.
func (s *Spec) SystemPrompt() Prompt {
	return s.systemPrompt
}

// ToolSystemPrompt returns the {{SYSTEM}}-carrying tool prompt variant, or
// nil when the tool prompt does not declare the placeholder.
func (s *Spec) ToolSystemPrompt() Prompt {
	return s.toolSystemPrompt
}

// GenerationVariant derives an inference-only grammar: no prefix, the prompt
// reduced to the bare query, the suffix reduced to the end-of-sequence token.
// The receiver is not modified and no containers are shared with it.
func (s *Spec) GenerationVariant() *Spec {
	v := &Spec{
		TemplateType:      s.TemplateType,
		Prefix:            Prompt{},
		Prompt:            Prompt{Text(QueryPlaceholder)},
		ChatSep:           nil,
		Suffix:            Prompt{Tokens(Sym(EOSTokenID))},
		AutoAddBOS:        true,
		supportSystem:     false,
		supportMultiRound: false,
		postSystem:        false,
	}
	if s.StopWords != nil {
		v.StopWords = append([]string(nil), s.StopWords...)
	}
	if s.PlaceholderTokens != nil {
		v.PlaceholderTokens = append([]Token(nil), s.PlaceholderTokens...)
	}
	v.ToolPrompt = v.Prompt.clone()
	return v
}
