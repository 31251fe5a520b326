package chatgram

import (
	"github.com/chatgram/chatgram/grammar"
)

// Built-in chat formats. Each one is pure data: the encoder never branches on
// the template type, only on the grammar fields.
var builtinTemplates = []grammar.Config{
	{
		TemplateType: "chatml",
		Prompt:       grammar.Prompt{grammar.Text("<|im_start|>user\n{{QUERY}}<|im_end|>\n<|im_start|>assistant\n")},
		ChatSep:      grammar.Prompt{grammar.Text("<|im_end|>\n")},
		Suffix:       grammar.Prompt{grammar.Text("<|im_end|>")},
		SystemPrefix: grammar.Prompt{grammar.Text("<|im_start|>system\n{{SYSTEM}}<|im_end|>\n")},
		StopWords:    []string{"<|im_end|>"},
	},
	{
		TemplateType:  "qwen",
		Prompt:        grammar.Prompt{grammar.Text("<|im_start|>user\n{{QUERY}}<|im_end|>\n<|im_start|>assistant\n")},
		ChatSep:       grammar.Prompt{grammar.Text("<|im_end|>\n")},
		Suffix:        grammar.Prompt{grammar.Text("<|im_end|>")},
		SystemPrefix:  grammar.Prompt{grammar.Text("<|im_start|>system\n{{SYSTEM}}<|im_end|>\n")},
		DefaultSystem: "You are a helpful assistant.",
		StopWords:     []string{"<|im_end|>"},
	},
	{
		TemplateType: "llama3",
		Prefix:       grammar.Prompt{grammar.Text("<|begin_of_text|>")},
		Prompt:       grammar.Prompt{grammar.Text("<|start_header_id|>user<|end_header_id|>\n\n{{QUERY}}<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n")},
		ChatSep:      grammar.Prompt{grammar.Text("<|eot_id|>")},
		Suffix:       grammar.Prompt{grammar.Text("<|eot_id|>")},
		SystemPrefix: grammar.Prompt{grammar.Text("<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\n{{SYSTEM}}<|eot_id|>")},
		StopWords:    []string{"<|eot_id|>", "<|end_of_text|>"},
	},
	{
		// Gemma has no system slot.
		TemplateType: "gemma",
		Prefix:       grammar.Prompt{grammar.Text("<bos>")},
		Prompt:       grammar.Prompt{grammar.Text("<start_of_turn>user\n{{QUERY}}<end_of_turn>\n<start_of_turn>model\n")},
		ChatSep:      grammar.Prompt{grammar.Text("<end_of_turn>\n")},
		Suffix:       grammar.Prompt{grammar.Text("<end_of_turn>")},
		StopWords:    []string{"<end_of_turn>"},
	},
	{
		TemplateType: "phi3",
		Prompt:       grammar.Prompt{grammar.Text("<|user|>\n{{QUERY}}<|end|>\n<|assistant|>\n")},
		ChatSep:      grammar.Prompt{grammar.Text("<|end|>\n")},
		Suffix:       grammar.Prompt{grammar.Text("<|end|>")},
		SystemPrefix: grammar.Prompt{grammar.Text("<|system|>\n{{SYSTEM}}<|end|>\n")},
		StopWords:    []string{"<|end|>"},
	},
	{
		// Mistral substitutes the system message into the first prompt
		// (post-system).
		TemplateType: "mistral",
		Prefix:       grammar.Prompt{grammar.Tokens(grammar.Sym(grammar.BOSTokenID))},
		Prompt:       grammar.Prompt{grammar.Text("[INST] {{SYSTEM}}\n\n{{QUERY}}[/INST]")},
		ChatSep:      grammar.Prompt{grammar.Tokens(grammar.Sym(grammar.EOSTokenID))},
		Suffix:       grammar.Prompt{grammar.Tokens(grammar.Sym(grammar.EOSTokenID))},
	},
}

// RegisterBuiltins adds the built-in chat formats to r.
func RegisterBuiltins(r *Registry) error {
	for _, cfg := range builtinTemplates {
		spec, err := grammar.New(cfg)
		if err != nil {
			return err
		}
		if err := r.Register(spec, false); err != nil {
			return err
		}
	}
	return nil
}
