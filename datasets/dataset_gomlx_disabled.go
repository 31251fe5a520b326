//go:build !(XLA || ALL)

package datasets

import (
	"fmt"

	"github.com/chatgram/chatgram/encoder"
	"github.com/chatgram/chatgram/options"
)

// PackedConversationDataset requires the XLA or ALL build tag.
type PackedConversationDataset struct{}

func NewPackedConversationDataset(_ *ConversationDataset, _ *encoder.Encoder, _ *options.Options) (*PackedConversationDataset, error) {
	return nil, fmt.Errorf("PackedConversationDataset requires building with -tags XLA or ALL")
}
