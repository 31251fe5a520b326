// Package packing concatenates encoded examples into fixed-length blocks to
// cut padding waste during training. Packing is greedy, single pass and
// order-preserving, and therefore inherently sequential: feed one Packer from
// a single goroutine.
package packing

import (
	"fmt"

	"github.com/chatgram/chatgram/encoder"
)

// Block is one fixed-length concatenation of encoded examples plus padding.
// Boundaries holds the start offset of every contained example, so loss and
// attention can be computed per example without cross-example leakage.
type Block struct {
	TokenIDs []int `json:"token_ids"`
	Labels   []int `json:"labels"`

	// Boundaries[i] is the offset where example i starts; example i ends
	// at Boundaries[i+1] or Length for the last one.
	Boundaries []int `json:"boundaries"`
	// Length is the number of real tokens; positions beyond it are padding.
	Length int `json:"length"`
}

// Examples returns the number of examples packed into the block.
func (b *Block) Examples() int {
	return len(b.Boundaries)
}

// Packer accumulates examples into blocks of a fixed token length. An example
// longer than the block length is truncated from the left, the same policy
// the encoder applies, and becomes a block of its own.
type Packer struct {
	blockLength int
	padID       int

	ids        []int
	labels     []int
	boundaries []int
}

// New returns a packer producing blocks of blockLength tokens, padded with
// padID where needed.
func New(blockLength, padID int) (*Packer, error) {
	if blockLength <= 0 {
		return nil, fmt.Errorf("block length must be > 0, got %d", blockLength)
	}
	return &Packer{blockLength: blockLength, padID: padID}, nil
}

// BlockLength returns the configured block length.
func (p *Packer) BlockLength() int {
	return p.blockLength
}

// Add appends one example to the current buffer. When the example does not
// fit the remaining budget, the buffer is flushed first and returned as a
// completed block (nil otherwise). Empty examples are ignored.
func (p *Packer) Add(ex *encoder.Example) *Block {
	if ex == nil || ex.Len() == 0 {
		return nil
	}
	if ex.Len() > p.blockLength {
		ex = encoder.TruncateLeft(ex, p.blockLength)
	}
	var flushed *Block
	if len(p.ids)+ex.Len() > p.blockLength {
		flushed = p.Flush()
	}
	p.boundaries = append(p.boundaries, len(p.ids))
	p.ids = append(p.ids, ex.TokenIDs...)
	p.labels = append(p.labels, ex.Labels...)
	return flushed
}

// Flush pads and returns the current buffer as a block, or nil when the
// buffer is empty. The packer is ready for the next example afterwards.
func (p *Packer) Flush() *Block {
	if len(p.ids) == 0 {
		return nil
	}
	block := &Block{
		TokenIDs:   p.ids,
		Labels:     p.labels,
		Boundaries: p.boundaries,
		Length:     len(p.ids),
	}
	for len(block.TokenIDs) < p.blockLength {
		block.TokenIDs = append(block.TokenIDs, p.padID)
		block.Labels = append(block.Labels, encoder.IgnoreIndex)
	}
	p.ids = nil
	p.labels = nil
	p.boundaries = nil
	return block
}

// PackAll packs a finite example slice and flushes the remainder.
func PackAll(p *Packer, examples []*encoder.Example) []*Block {
	var blocks []*Block
	for _, ex := range examples {
		if flushed := p.Add(ex); flushed != nil {
			blocks = append(blocks, flushed)
		}
	}
	if last := p.Flush(); last != nil {
		blocks = append(blocks, last)
	}
	return blocks
}
