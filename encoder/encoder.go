package encoder

import (
	"fmt"
	"strings"

	"github.com/chatgram/chatgram/grammar"
	"github.com/chatgram/chatgram/options"
)

// Encoder renders conversations through one resolved grammar. Construct it
// once per (grammar, options) pair; Encode allocates all per-call state
// freshly, so a single Encoder is safe for concurrent use.
type Encoder struct {
	res           *grammar.Resolved
	opts          *options.Options
	defaultSystem string
	eosID         int
	hasEOS        bool
}

// New builds an encoder over a resolved grammar. A nil opts uses the
// defaults. Setting a default system on a grammar without a system slot is a
// configuration error and fails immediately.
func New(res *grammar.Resolved, opts *options.Options) (*Encoder, error) {
	if res == nil {
		return nil, fmt.Errorf("a resolved grammar is required")
	}
	if opts == nil {
		opts = options.Defaults()
	}
	defaultSystem := opts.DefaultSystem
	if defaultSystem == "" {
		defaultSystem = res.DefaultSystem
	}
	if defaultSystem != "" && !res.SupportsSystem() {
		return nil, fmt.Errorf("default system configured but grammar %q has no system slot", res.TemplateType)
	}
	e := &Encoder{res: res, opts: opts, defaultSystem: defaultSystem}
	e.eosID, e.hasEOS = res.Vocab().SpecialToken(grammar.EOSTokenID)
	return e, nil
}

// Grammar returns the resolved grammar the encoder renders through.
func (e *Encoder) Grammar() *grammar.Resolved {
	return e.res
}

// renderContext is the per-call mutable state of one encode: the token and
// label accumulators plus media bookkeeping. It is always freshly allocated,
// never shared, which is what keeps the grammar itself copy-free.
type renderContext struct {
	ids    []int
	labels []int

	images []string
	videos []string
	audios []string
	spans  []MediaSpan

	finalRoundStart int
}

func (c *renderContext) emit(ids []int, trainable bool) {
	for _, id := range ids {
		c.ids = append(c.ids, id)
		if trainable {
			c.labels = append(c.labels, id)
		} else {
			c.labels = append(c.labels, IgnoreIndex)
		}
	}
}

func (c *renderContext) example() *Example {
	return &Example{
		TokenIDs:   c.ids,
		Labels:     c.labels,
		Images:     c.images,
		Videos:     c.videos,
		Audios:     c.audios,
		MediaSpans: c.spans,
	}
}

// Encode turns conv into an Example under the encoder's length budget and
// truncation strategy. Per-example failures come back as *SchemaError,
// *UnsupportedFeatureError, *TruncationImpossibleError or ErrDropped; use
// IsRecoverable to separate them from fatal conditions.
func (e *Encoder) Encode(conv *Conversation) (*Example, error) {
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	res := e.res
	system, hasSystem, rounds := conv.splitRounds()
	if !hasSystem {
		system = e.defaultSystem
	}
	if system != "" && !res.SupportsSystem() {
		return nil, &UnsupportedFeatureError{TemplateType: res.TemplateType, Feature: "system messages"}
	}
	if len(rounds) > 1 && !res.SupportsMultiRound() {
		return nil, &UnsupportedFeatureError{TemplateType: res.TemplateType, Feature: "multi-round conversations"}
	}

	ctx := &renderContext{}
	if res.AutoAddBOS {
		if bos, ok := res.Vocab().SpecialToken(grammar.BOSTokenID); ok {
			ctx.emit([]int{bos}, false)
		}
	}

	// The system message is either rendered into the system prefix up
	// front, or held pending for substitution into the first prompt that
	// declares the placeholder (post-system grammars).
	pendingSystem := ""
	if system != "" && !res.IsPostSystem() {
		if err := e.emitPrompt(ctx, res.SystemPrefix, system, nil, false); err != nil {
			return nil, err
		}
	} else {
		if err := e.emitPrompt(ctx, res.Prefix, "", nil, false); err != nil {
			return nil, err
		}
		pendingSystem = system
	}

	for i, rd := range rounds {
		if i > 0 {
			if err := e.emitPrompt(ctx, res.ChatSep, "", nil, false); err != nil {
				return nil, err
			}
		}
		if i == len(rounds)-1 {
			ctx.finalRoundStart = len(ctx.ids)
		}
		prompt, promptSystem := e.roundPrompt(rd, &pendingSystem)
		if err := e.emitPrompt(ctx, prompt, promptSystem, &rd.query, false); err != nil {
			return nil, err
		}
		if rd.response != nil {
			if err := e.emitTurn(ctx, *rd.response, true); err != nil {
				return nil, err
			}
		}
	}
	if pendingSystem != "" {
		return nil, &UnsupportedFeatureError{TemplateType: res.TemplateType, Feature: "system substitution (no prompt in the conversation declares the system placeholder)"}
	}

	// A final round without a response is a generation prompt: stop after
	// the rendered prompt so the model continues from there.
	if last := rounds[len(rounds)-1]; last.response != nil {
		if err := e.emitPrompt(ctx, res.Suffix, "", nil, false); err != nil {
			return nil, err
		}
		if e.opts.TrainSuffixEOS && e.hasEOS && len(ctx.ids) > 0 && ctx.ids[len(ctx.ids)-1] == e.eosID {
			ctx.labels[len(ctx.labels)-1] = e.eosID
		}
	}

	ex := ctx.example()
	if e.opts.MaxLength > 0 && ex.Len() > e.opts.MaxLength {
		finalRoundLen := ex.Len() - ctx.finalRoundStart
		if finalRoundLen > e.opts.MaxLength {
			return nil, &TruncationImpossibleError{Length: finalRoundLen, MaxLength: e.opts.MaxLength}
		}
		switch e.opts.Truncation {
		case options.TruncationLeft:
			ex = TruncateLeft(ex, e.opts.MaxLength)
		default:
			return nil, ErrDropped
		}
	}
	return ex, nil
}

// roundPrompt picks the prompt variant for one round. A pending post-system
// message is substituted into the first round whose prompt declares the
// placeholder; tool rounds only accept it when their prompt does.
func (e *Encoder) roundPrompt(rd round, pendingSystem *string) (grammar.Prompt, string) {
	res := e.res
	base := res.Prompt
	sysVariant := res.SystemPrompt()
	if rd.query.Role == RoleTool {
		base = res.ToolPrompt
		sysVariant = res.ToolSystemPrompt()
	}
	if *pendingSystem != "" && sysVariant != nil {
		system := *pendingSystem
		*pendingSystem = ""
		return sysVariant, system
	}
	return base, ""
}

// emitPrompt renders the pieces of a prompt sequence, substituting system
// and query placeholders. All emitted tokens are masked unless trainable.
func (e *Encoder) emitPrompt(ctx *renderContext, prompt grammar.Prompt, system string, query *Turn, trainable bool) error {
	for _, piece := range prompt {
		if !piece.IsText() {
			ids := make([]int, len(piece.Tokens))
			for i, tok := range piece.Tokens {
				if !tok.Resolved() {
					return &grammar.UnresolvedTokenError{Name: tok.Name}
				}
				ids[i] = tok.ID
			}
			ctx.emit(ids, trainable)
			continue
		}
		text := strings.ReplaceAll(piece.Text, grammar.SystemPlaceholder, system)
		parts := strings.Split(text, grammar.QueryPlaceholder)
		for i, part := range parts {
			if i > 0 && query != nil {
				if err := e.emitTurn(ctx, *query, trainable); err != nil {
					return err
				}
			}
			if part == "" {
				continue
			}
			ids, err := e.res.Vocab().Encode(part)
			if err != nil {
				return fmt.Errorf("tokenizing grammar text: %w", err)
			}
			ctx.emit(ids, trainable)
		}
	}
	return nil
}

// emitTurn renders turn content span by span. Media placeholder expansions
// are always masked, and their token range is recorded so truncation and
// packing never split them.
func (e *Encoder) emitTurn(ctx *renderContext, turn Turn, trainable bool) error {
	for _, span := range turn.Spans {
		if span.Kind == SpanText {
			ids, err := e.res.Vocab().Encode(span.Text)
			if err != nil {
				return fmt.Errorf("tokenizing %s turn: %w", turn.Role, err)
			}
			ctx.emit(ids, trainable)
			continue
		}
		expansion, ok := e.opts.Media[string(span.Kind)]
		if !ok {
			return &UnsupportedFeatureError{TemplateType: e.res.TemplateType, Feature: string(span.Kind) + " media"}
		}
		start := len(ctx.ids)
		ids := make([]int, expansion.Count)
		for i := range ids {
			ids[i] = expansion.TokenID
		}
		ctx.emit(ids, false)

		var index int
		switch span.Kind {
		case SpanImage:
			index = len(ctx.images)
			ctx.images = append(ctx.images, span.Ref)
		case SpanVideo:
			index = len(ctx.videos)
			ctx.videos = append(ctx.videos, span.Ref)
		case SpanAudio:
			index = len(ctx.audios)
			ctx.audios = append(ctx.audios, span.Ref)
		}
		ctx.spans = append(ctx.spans, MediaSpan{Kind: span.Kind, Start: start, End: len(ctx.ids), Index: index})
	}
	return nil
}
