//go:build !(RUST || ALL)

package vocab

import (
	"fmt"

	"github.com/chatgram/chatgram/grammar"
)

func loadRustVocabulary(_ []byte, _ Config) (grammar.Vocabulary, error) {
	return nil, fmt.Errorf("the RUST vocabulary backend requires building with -tags RUST or ALL")
}
