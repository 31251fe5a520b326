package encoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgram/chatgram/grammar"
	"github.com/chatgram/chatgram/options"
)

// testVocab assigns one id per whitespace-separated word, stable within one
// instance, so token counts and positions are easy to reason about.
type testVocab struct {
	specials map[string]int
	words    map[string]int
}

func newTestVocab() *testVocab {
	return &testVocab{
		specials: map[string]int{
			grammar.BOSTokenID: 1,
			grammar.EOSTokenID: 2,
			grammar.PadTokenID: 0,
		},
		words: map[string]int{},
	}
}

func (v *testVocab) SpecialToken(name string) (int, bool) {
	id, ok := v.specials[name]
	return id, ok
}

func (v *testVocab) Encode(text string) ([]int, error) {
	var ids []int
	for _, word := range strings.Fields(text) {
		ids = append(ids, v.id(word))
	}
	return ids, nil
}

func (v *testVocab) id(word string) int {
	id, ok := v.words[word]
	if !ok {
		id = 100 + len(v.words)
		v.words[word] = id
	}
	return id
}

func chatmlStyleSpec(t *testing.T) *grammar.Spec {
	t.Helper()
	spec, err := grammar.New(grammar.Config{
		TemplateType: "chatml-style",
		Prompt:       grammar.Prompt{grammar.Text("<user> {{QUERY}} <end> ")},
		ChatSep:      grammar.Prompt{grammar.Text("<sep> ")},
		Suffix:       grammar.Prompt{grammar.Text("<end>")},
		SystemPrefix: grammar.Prompt{grammar.Text("<sys> {{SYSTEM}} <end> ")},
	})
	require.NoError(t, err)
	return spec
}

func newTestEncoder(t *testing.T, spec *grammar.Spec, vocabulary grammar.Vocabulary, opts ...options.WithOption) (*Encoder, *testVocab) {
	t.Helper()
	var v *testVocab
	if vocabulary == nil {
		v = newTestVocab()
		vocabulary = v
	} else {
		v, _ = vocabulary.(*testVocab)
	}
	resolved, err := grammar.Resolve(spec, vocabulary)
	require.NoError(t, err)
	parsed, err := options.New(opts...)
	require.NoError(t, err)
	enc, err := New(resolved, parsed)
	require.NoError(t, err)
	return enc, v
}

func twoRounds() *Conversation {
	return &Conversation{Turns: []Turn{
		TextTurn(RoleUser, "a b"),
		TextTurn(RoleAssistant, "c"),
		TextTurn(RoleUser, "d"),
		TextTurn(RoleAssistant, "e f"),
	}}
}

func countID(ids []int, id int) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

func TestEncodeTwoRoundsNoSystem(t *testing.T) {
	enc, v := newTestEncoder(t, chatmlStyleSpec(t), nil)
	ex, err := enc.Encode(twoRounds())
	require.NoError(t, err)

	// <user> a b <end> c <sep> <user> d <end> e f <end>
	require.Equal(t, len(ex.TokenIDs), len(ex.Labels))
	assert.Equal(t, v.id("<user>"), ex.TokenIDs[0], "sequence must start with the user literal, not the system prefix")
	assert.Zero(t, countID(ex.TokenIDs, v.id("<sys>")))
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("<sep>")))

	// Labels are masked everywhere except the two assistant contents.
	assert.Equal(t, 3, ex.TrainableTokens())
	for i, label := range ex.Labels {
		if label != IgnoreIndex {
			assert.Equal(t, ex.TokenIDs[i], label)
		}
	}
}

func TestEncodeSystemPrefix(t *testing.T) {
	enc, v := newTestEncoder(t, chatmlStyleSpec(t), nil)
	conv := &Conversation{Turns: []Turn{
		TextTurn(RoleSystem, "rules"),
		TextTurn(RoleUser, "a"),
		TextTurn(RoleAssistant, "b"),
	}}
	ex, err := enc.Encode(conv)
	require.NoError(t, err)
	assert.Equal(t, v.id("<sys>"), ex.TokenIDs[0])
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("rules")))
	// The system turn is never trainable.
	assert.Equal(t, 1, ex.TrainableTokens())
}

func TestEncodeDefaultSystem(t *testing.T) {
	enc, v := newTestEncoder(t, chatmlStyleSpec(t), nil, options.WithDefaultSystem("fallback"))
	ex, err := enc.Encode(&Conversation{Turns: []Turn{
		TextTurn(RoleUser, "a"),
		TextTurn(RoleAssistant, "b"),
	}})
	require.NoError(t, err)
	assert.Equal(t, v.id("<sys>"), ex.TokenIDs[0])
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("fallback")))
}

func TestEncodeSystemUnsupported(t *testing.T) {
	spec, err := grammar.New(grammar.Config{
		TemplateType: "no-system",
		Prompt:       grammar.Prompt{grammar.Text("<user> {{QUERY}} ")},
		ChatSep:      grammar.Prompt{grammar.Text("<sep> ")},
		Suffix:       grammar.Prompt{grammar.Text("<end>")},
	})
	require.NoError(t, err)
	enc, _ := newTestEncoder(t, spec, nil)
	_, err = enc.Encode(&Conversation{Turns: []Turn{
		TextTurn(RoleSystem, "rules"),
		TextTurn(RoleUser, "a"),
		TextTurn(RoleAssistant, "b"),
	}})
	var featErr *UnsupportedFeatureError
	require.ErrorAs(t, err, &featErr)
	assert.True(t, IsRecoverable(err))
}

func TestEncodeMultiRoundUnsupported(t *testing.T) {
	spec, err := grammar.New(grammar.Config{
		TemplateType: "single-round",
		Prompt:       grammar.Prompt{grammar.Text("<user> {{QUERY}} ")},
		Suffix:       grammar.Prompt{grammar.Text("<end>")},
	})
	require.NoError(t, err)
	enc, _ := newTestEncoder(t, spec, nil)
	_, err = enc.Encode(twoRounds())
	var featErr *UnsupportedFeatureError
	require.ErrorAs(t, err, &featErr)
}

func TestEncodePostSystemFirstRoundOnly(t *testing.T) {
	spec, err := grammar.New(grammar.Config{
		TemplateType: "post-system",
		Prompt:       grammar.Prompt{grammar.Text("<inst> {{SYSTEM}} {{QUERY}} </inst> ")},
		ChatSep:      grammar.Prompt{grammar.Text("<sep> ")},
		Suffix:       grammar.Prompt{grammar.Text("<end>")},
	})
	require.NoError(t, err)
	enc, v := newTestEncoder(t, spec, nil)

	conv := &Conversation{Turns: []Turn{
		TextTurn(RoleSystem, "rules"),
		TextTurn(RoleUser, "a"),
		TextTurn(RoleAssistant, "b"),
		TextTurn(RoleUser, "c"),
		TextTurn(RoleAssistant, "d"),
	}}
	ex, err := enc.Encode(conv)
	require.NoError(t, err)
	// The system content appears exactly once, in the first round.
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("rules")))
	rulesPos := -1
	aPos := -1
	cPos := -1
	for i, id := range ex.TokenIDs {
		switch id {
		case v.id("rules"):
			rulesPos = i
		case v.id("a"):
			aPos = i
		case v.id("c"):
			cPos = i
		}
	}
	assert.Less(t, rulesPos, aPos)
	assert.Less(t, aPos, cPos)
}

func TestEncodeToolPromptRouting(t *testing.T) {
	spec, err := grammar.New(grammar.Config{
		TemplateType: "with-tools",
		Prompt:       grammar.Prompt{grammar.Text("<user> {{QUERY}} ")},
		ToolPrompt:   grammar.Prompt{grammar.Text("<tool> {{QUERY}} ")},
		ChatSep:      grammar.Prompt{grammar.Text("<sep> ")},
		Suffix:       grammar.Prompt{grammar.Text("<end>")},
	})
	require.NoError(t, err)
	enc, v := newTestEncoder(t, spec, nil)

	conv := &Conversation{Turns: []Turn{
		TextTurn(RoleUser, "a"),
		TextTurn(RoleAssistant, "b"),
		TextTurn(RoleTool, "result"),
		TextTurn(RoleAssistant, "c"),
	}}
	ex, err := enc.Encode(conv)
	require.NoError(t, err)
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("<user>")))
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("<tool>")))
}

// A post-system grammar whose tool prompt is defaulted shares the prompt's
// system variant, so a conversation opening with a tool round still hosts the
// system message.
func TestEncodePostSystemToolFirstRoundDefaultToolPrompt(t *testing.T) {
	spec, err := grammar.New(grammar.Config{
		TemplateType: "post-system-tools",
		Prompt:       grammar.Prompt{grammar.Text("<inst> {{SYSTEM}} {{QUERY}} </inst> ")},
		ChatSep:      grammar.Prompt{grammar.Text("<sep> ")},
		Suffix:       grammar.Prompt{grammar.Text("<end>")},
	})
	require.NoError(t, err)
	enc, v := newTestEncoder(t, spec, nil)

	conv := &Conversation{Turns: []Turn{
		TextTurn(RoleSystem, "rules"),
		TextTurn(RoleTool, "result"),
		TextTurn(RoleAssistant, "b"),
	}}
	ex, err := enc.Encode(conv)
	require.NoError(t, err)
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("rules")))
}

// With an explicit tool prompt that lacks the placeholder, the system message
// is deferred to the first round rendered through the user prompt; when no
// such round exists the conversation cannot host it.
func TestEncodePostSystemToolFirstRoundExplicitToolPrompt(t *testing.T) {
	spec, err := grammar.New(grammar.Config{
		TemplateType: "post-system-tools",
		Prompt:       grammar.Prompt{grammar.Text("<inst> {{SYSTEM}} {{QUERY}} </inst> ")},
		ToolPrompt:   grammar.Prompt{grammar.Text("<tool> {{QUERY}} ")},
		ChatSep:      grammar.Prompt{grammar.Text("<sep> ")},
		Suffix:       grammar.Prompt{grammar.Text("<end>")},
	})
	require.NoError(t, err)
	enc, v := newTestEncoder(t, spec, nil)

	deferred := &Conversation{Turns: []Turn{
		TextTurn(RoleSystem, "rules"),
		TextTurn(RoleTool, "result"),
		TextTurn(RoleAssistant, "b"),
		TextTurn(RoleUser, "a"),
		TextTurn(RoleAssistant, "c"),
	}}
	ex, err := enc.Encode(deferred)
	require.NoError(t, err)
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("rules")))

	onlyTools := &Conversation{Turns: []Turn{
		TextTurn(RoleSystem, "rules"),
		TextTurn(RoleTool, "result"),
		TextTurn(RoleAssistant, "b"),
	}}
	_, err = enc.Encode(onlyTools)
	var featErr *UnsupportedFeatureError
	require.ErrorAs(t, err, &featErr)
}

func TestEncodeInvalidSchema(t *testing.T) {
	enc, _ := newTestEncoder(t, chatmlStyleSpec(t), nil)
	tests := []struct {
		name  string
		turns []Turn
	}{
		{"empty", nil},
		{"system not first", []Turn{TextTurn(RoleUser, "a"), TextTurn(RoleSystem, "s")}},
		{"two user turns", []Turn{TextTurn(RoleUser, "a"), TextTurn(RoleUser, "b")}},
		{"assistant first", []Turn{TextTurn(RoleAssistant, "a")}},
		{"unknown role", []Turn{{Role: "narrator", Spans: []Span{{Kind: SpanText, Text: "x"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Encode(&Conversation{Turns: tt.turns})
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.True(t, IsRecoverable(err))
		})
	}
}

func TestEncodeTruncationDelete(t *testing.T) {
	vocabulary := newTestVocab()
	enc, _ := newTestEncoder(t, chatmlStyleSpec(t), vocabulary,
		options.WithMaxLength(8), options.WithTruncation(options.TruncationDelete))
	// 12 tokens total, final round is 6: droppable but not impossible.
	_, err := enc.Encode(twoRounds())
	require.ErrorIs(t, err, ErrDropped)
	assert.True(t, IsRecoverable(err))
}

func TestEncodeTruncationLeft(t *testing.T) {
	vocabulary := newTestVocab()
	enc, v := newTestEncoder(t, chatmlStyleSpec(t), vocabulary,
		options.WithMaxLength(7), options.WithTruncation(options.TruncationLeft))
	// <user> a b <end> c <sep> | <user> d <end> e f <end>
	ex, err := enc.Encode(twoRounds())
	require.NoError(t, err)
	assert.Equal(t, 7, ex.Len())
	assert.Equal(t, []int{v.id("<user>"), v.id("d"), v.id("<end>"), v.id("e"), v.id("f")}, ex.TokenIDs[1:6])
	// Only the surviving assistant turn is trainable.
	assert.Equal(t, 2, ex.TrainableTokens())
}

func TestEncodeTruncationImpossible(t *testing.T) {
	for _, strategy := range []options.TruncationStrategy{options.TruncationDelete, options.TruncationLeft} {
		t.Run(string(strategy), func(t *testing.T) {
			enc, _ := newTestEncoder(t, chatmlStyleSpec(t), nil,
				options.WithMaxLength(5), options.WithTruncation(strategy))
			// The single round needs 6 tokens: always drops.
			_, err := enc.Encode(&Conversation{Turns: []Turn{
				TextTurn(RoleUser, "a"),
				TextTurn(RoleAssistant, "x y"),
			}})
			var truncErr *TruncationImpossibleError
			require.ErrorAs(t, err, &truncErr)
			assert.True(t, IsRecoverable(err))
		})
	}
}

func TestEncodeGenerationPrompt(t *testing.T) {
	enc, v := newTestEncoder(t, chatmlStyleSpec(t), nil)
	// A final round without a response stops after the rendered prompt.
	ex, err := enc.Encode(&Conversation{Turns: []Turn{TextTurn(RoleUser, "a")}})
	require.NoError(t, err)
	assert.Equal(t, []int{v.id("<user>"), v.id("a"), v.id("<end>")}, ex.TokenIDs)
	assert.Zero(t, ex.TrainableTokens())
}

func TestEncodeGenerationVariant(t *testing.T) {
	vocabulary := newTestVocab()
	variant := chatmlStyleSpec(t).GenerationVariant()
	enc, v := newTestEncoder(t, variant, vocabulary)
	ex, err := enc.Encode(&Conversation{Turns: []Turn{
		TextTurn(RoleUser, "a"),
		TextTurn(RoleAssistant, "b"),
	}})
	require.NoError(t, err)
	bos, _ := vocabulary.SpecialToken(grammar.BOSTokenID)
	eos, _ := vocabulary.SpecialToken(grammar.EOSTokenID)
	assert.Equal(t, []int{bos, v.id("a"), v.id("b"), eos}, ex.TokenIDs)
}

func TestEncodeTrainableSuffixEOS(t *testing.T) {
	spec, err := grammar.New(grammar.Config{
		TemplateType: "eos-suffix",
		Prompt:       grammar.Prompt{grammar.Text("<user> {{QUERY}} ")},
		Suffix:       grammar.Prompt{grammar.Tokens(grammar.Sym(grammar.EOSTokenID))},
	})
	require.NoError(t, err)

	conv := &Conversation{Turns: []Turn{
		TextTurn(RoleUser, "a"),
		TextTurn(RoleAssistant, "b"),
	}}

	vocabulary := newTestVocab()
	masked, _ := newTestEncoder(t, spec, vocabulary)
	ex, err := masked.Encode(conv)
	require.NoError(t, err)
	assert.Equal(t, IgnoreIndex, ex.Labels[len(ex.Labels)-1])

	trainable, _ := newTestEncoder(t, spec, vocabulary, options.WithTrainableSuffixEOS())
	ex, err = trainable.Encode(conv)
	require.NoError(t, err)
	eos, _ := vocabulary.SpecialToken(grammar.EOSTokenID)
	assert.Equal(t, eos, ex.Labels[len(ex.Labels)-1])
}

func TestEncodeMediaExpansion(t *testing.T) {
	enc, v := newTestEncoder(t, chatmlStyleSpec(t), nil, options.WithMedia("image", 9000, 3))
	conv := &Conversation{Turns: []Turn{
		{Role: RoleUser, Spans: []Span{
			{Kind: SpanText, Text: "look "},
			{Kind: SpanImage, Ref: "cat.png"},
			{Kind: SpanText, Text: " now"},
		}},
		TextTurn(RoleAssistant, "ok"),
	}}
	ex, err := enc.Encode(conv)
	require.NoError(t, err)
	assert.Equal(t, 3, countID(ex.TokenIDs, 9000))
	require.Len(t, ex.MediaSpans, 1)
	span := ex.MediaSpans[0]
	assert.Equal(t, SpanImage, span.Kind)
	assert.Equal(t, 3, span.End-span.Start)
	assert.Equal(t, []string{"cat.png"}, ex.Images)
	// Placeholder tokens are masked even though they sit inside a turn.
	for i := span.Start; i < span.End; i++ {
		assert.Equal(t, IgnoreIndex, ex.Labels[i])
	}
	assert.Equal(t, 1, countID(ex.TokenIDs, v.id("look")))
}

func TestEncodeMediaUnconfigured(t *testing.T) {
	enc, _ := newTestEncoder(t, chatmlStyleSpec(t), nil)
	conv := &Conversation{Turns: []Turn{
		{Role: RoleUser, Spans: []Span{{Kind: SpanImage, Ref: "cat.png"}}},
		TextTurn(RoleAssistant, "ok"),
	}}
	_, err := enc.Encode(conv)
	var featErr *UnsupportedFeatureError
	require.ErrorAs(t, err, &featErr)
}

func TestEncodeConcurrent(t *testing.T) {
	enc, _ := newTestEncoder(t, chatmlStyleSpec(t), nil)
	conv := twoRounds()
	want, err := enc.Encode(conv)
	require.NoError(t, err)

	done := make(chan *Example, 16)
	for range 16 {
		go func() {
			ex, encodeErr := enc.Encode(conv)
			assert.NoError(t, encodeErr)
			done <- ex
		}()
	}
	for range 16 {
		got := <-done
		assert.Equal(t, want.TokenIDs, got.TokenIDs)
		assert.Equal(t, want.Labels, got.Labels)
	}
}
