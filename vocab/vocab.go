// Package vocab provides the concrete vocabulary backends a grammar can be
// resolved against: HuggingFace tokenizer.json files through the pure Go
// sugarme tokenizer, the rust tokenizer bindings (behind the RUST build tag),
// and tiktoken BPE encodings for GPT-style models.
package vocab

import (
	"fmt"
	"strings"

	"github.com/chatgram/chatgram/grammar"
	"github.com/chatgram/chatgram/util/fileutil"
)

const (
	BackendGo       = "GO"
	BackendRust     = "RUST"
	BackendTiktoken = "TIKTOKEN"
)

// HubPrefix marks a Path as a HuggingFace model name to download rather than
// a local file, e.g. "hf://Qwen/Qwen2.5-0.5B-Instruct".
const HubPrefix = "hf://"

// Config selects and parameterizes a vocabulary backend.
type Config struct {
	// Backend is one of BackendGo, BackendRust, BackendTiktoken.
	Backend string
	// Path locates the tokenizer.json file (GO and RUST backends). With the
	// hf:// prefix it names a hub model whose tokenizer is downloaded first.
	Path string
	// DownloadDir receives downloaded tokenizer files. Defaults to ./models.
	DownloadDir string
	// Encoding names a tiktoken encoding, e.g. "cl100k_base".
	Encoding string
	// SpecialTokens overrides the literal token string behind a well-known
	// name, e.g. "eos_token_id" -> "<|im_end|>". Names without an override
	// are probed against a fixed candidate table.
	SpecialTokens map[string]string
}

// Load opens the configured vocabulary.
func Load(cfg Config) (grammar.Vocabulary, error) {
	switch cfg.Backend {
	case BackendGo, BackendRust:
		if cfg.Path == "" {
			return nil, fmt.Errorf("backend %s requires a tokenizer.json path", cfg.Backend)
		}
		if modelName, isHub := strings.CutPrefix(cfg.Path, HubPrefix); isHub {
			downloadDir := cfg.DownloadDir
			if downloadDir == "" {
				downloadDir = "./models"
			}
			downloaded, err := DownloadTokenizer(modelName, downloadDir, NewDownloadOptions())
			if err != nil {
				return nil, fmt.Errorf("downloading tokenizer for %s: %w", modelName, err)
			}
			cfg.Path = downloaded
		}
		tokenizerBytes, err := fileutil.ReadFileBytes(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", cfg.Path, err)
		}
		if cfg.Backend == BackendGo {
			return loadGoVocabulary(tokenizerBytes, cfg)
		}
		return loadRustVocabulary(tokenizerBytes, cfg)
	case BackendTiktoken:
		return loadTiktokenVocabulary(cfg)
	default:
		return nil, fmt.Errorf("vocabulary backend %q not recognized", cfg.Backend)
	}
}

// specialCandidates is the fixed probe table for well-known token names:
// symbolic references are bound through this table, never through dynamic
// attribute lookup.
var specialCandidates = map[string][]string{
	grammar.BOSTokenID: {"<s>", "<|begin_of_text|>", "<bos>", "<|startoftext|>", "<|im_start|>"},
	grammar.EOSTokenID: {"</s>", "<|im_end|>", "<|eot_id|>", "<|endoftext|>", "<eos>", "<|end|>", "<end_of_turn>"},
	grammar.PadTokenID: {"<pad>", "<|pad|>", "[PAD]"},
	grammar.UnkTokenID: {"<unk>", "[UNK]"},
}

// resolveSpecials binds every well-known token name it can, preferring
// explicit overrides over the candidate table.
func resolveSpecials(tokenToID func(string) (int, bool), overrides map[string]string) map[string]int {
	specials := map[string]int{}
	for name, candidates := range specialCandidates {
		if literal, ok := overrides[name]; ok {
			if id, found := tokenToID(literal); found {
				specials[name] = id
			}
			continue
		}
		for _, literal := range candidates {
			if id, found := tokenToID(literal); found {
				specials[name] = id
				break
			}
		}
	}
	return specials
}
