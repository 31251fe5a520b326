//go:build XLA || ALL

package datasets

import (
	"errors"
	"io"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"

	"github.com/chatgram/chatgram/encoder"
	"github.com/chatgram/chatgram/options"
	"github.com/chatgram/chatgram/packing"
)

// PackedConversationDataset adapts a conversation dataset to the gomlx
// train.Dataset interface: records are encoded, packed into fixed-length
// blocks and yielded as int64 tensors. Inputs are token ids, position ids
// (restarting per packed example) and document ids (for block-diagonal
// attention); labels carry the trainable mask via the ignore index.
type PackedConversationDataset struct {
	train.Dataset
	ds     *ConversationDataset
	enc    *encoder.Encoder
	packer *packing.Packer
	strict bool
	stats  *Stats

	queue []*packing.Block
	eof   bool
}

// NewPackedConversationDataset builds the adapter. Block length and pad id
// come from opts; a nil opts uses the defaults.
func NewPackedConversationDataset(ds *ConversationDataset, enc *encoder.Encoder, opts *options.Options) (*PackedConversationDataset, error) {
	if opts == nil {
		opts = options.Defaults()
	}
	packer, err := packing.New(opts.BlockLength, opts.PadID)
	if err != nil {
		return nil, err
	}
	return &PackedConversationDataset{
		ds:     ds,
		enc:    enc,
		packer: packer,
		strict: opts.Strict,
		stats:  NewStats(),
	}, nil
}

func (d *PackedConversationDataset) Name() string {
	return "packed conversations"
}

// Stats returns the drop/skip counters accumulated so far.
func (d *PackedConversationDataset) Stats() *Stats {
	return d.stats
}

// Yield produces the next packed block as tensors. io.EOF signals the end of
// the epoch; call Reset to start the next one.
func (d *PackedConversationDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	block, err := d.nextBlock()
	if err != nil {
		return nil, nil, nil, err
	}
	width := len(block.TokenIDs)
	ids := make([]int64, width)
	labelData := make([]int64, width)
	for i, id := range block.TokenIDs {
		ids[i] = int64(id)
	}
	for i, label := range block.Labels {
		labelData[i] = int64(label)
	}
	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(ids, 1, width),
		tensors.FromFlatDataAndDimensions(block.PositionIDs(), 1, width),
		tensors.FromFlatDataAndDimensions(block.DocumentIDs(), 1, width),
	}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelData, 1, width)}
	return nil, inputs, labels, nil
}

func (d *PackedConversationDataset) nextBlock() (*packing.Block, error) {
	for len(d.queue) == 0 && !d.eof {
		batch, err := d.ds.YieldRaw()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		for i := range batch {
			ex, encodeErr := encodeRecord(d.enc, &batch[i])
			d.stats.Observe(encodeErr)
			if encodeErr != nil {
				if d.strict || !encoder.IsRecoverable(encodeErr) {
					return nil, encodeErr
				}
				continue
			}
			if flushed := d.packer.Add(ex); flushed != nil {
				d.queue = append(d.queue, flushed)
			}
		}
		if errors.Is(err, io.EOF) {
			d.eof = true
			if last := d.packer.Flush(); last != nil {
				d.queue = append(d.queue, last)
			}
			d.stats.LogSummary("packed_epoch")
		}
	}
	if len(d.queue) == 0 {
		return nil, io.EOF
	}
	block := d.queue[0]
	d.queue = d.queue[1:]
	return block, nil
}

// Reset rewinds the underlying dataset for the next epoch.
func (d *PackedConversationDataset) Reset() {
	if err := d.ds.Reset(); err != nil {
		panic(err) // note: these panics will be catched later with the TryExcept
	}
	d.queue = nil
	d.eof = false
}
