package packing

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Tensors returns the block as [1, blockLength] int64 dense tensors, the
// shape trainers expect for a single packed row.
func (b *Block) Tensors() (ids, labels *tensor.Dense) {
	ids = tensor.New(tensor.WithShape(1, len(b.TokenIDs)), tensor.WithBacking(toInt64(b.TokenIDs)))
	labels = tensor.New(tensor.WithShape(1, len(b.Labels)), tensor.WithBacking(toInt64(b.Labels)))
	return ids, labels
}

// PositionIDs returns per-token positions that restart at every example
// boundary, so rotary or learned position embeddings see each packed example
// as starting at zero. Padding positions continue from the last example.
func (b *Block) PositionIDs() []int64 {
	out := make([]int64, len(b.TokenIDs))
	next := 1
	var pos int64
	for i := range out {
		if next < len(b.Boundaries) && i == b.Boundaries[next] {
			pos = 0
			next++
		}
		out[i] = pos
		pos++
	}
	return out
}

// DocumentIDs maps every token position to the ordinal of the example it
// belongs to; padding positions carry -1. Block-diagonal attention masks are
// built by comparing document ids for equality.
func (b *Block) DocumentIDs() []int64 {
	out := make([]int64, len(b.TokenIDs))
	next := 1
	var doc int64
	for i := range out {
		if i >= b.Length {
			out[i] = -1
			continue
		}
		if next < len(b.Boundaries) && i == b.Boundaries[next] {
			doc++
			next++
		}
		out[i] = doc
	}
	return out
}

// BatchTensors stacks blocks into [n, blockLength] id and label tensors. All
// blocks must share one length.
func BatchTensors(blocks []*Block) (ids, labels *tensor.Dense, err error) {
	if len(blocks) == 0 {
		return nil, nil, fmt.Errorf("no blocks to batch")
	}
	width := len(blocks[0].TokenIDs)
	idData := make([]int64, 0, len(blocks)*width)
	labelData := make([]int64, 0, len(blocks)*width)
	for _, b := range blocks {
		if len(b.TokenIDs) != width {
			return nil, nil, fmt.Errorf("block length mismatch: %d vs %d", len(b.TokenIDs), width)
		}
		idData = append(idData, toInt64(b.TokenIDs)...)
		labelData = append(labelData, toInt64(b.Labels)...)
	}
	ids = tensor.New(tensor.WithShape(len(blocks), width), tensor.WithBacking(idData))
	labels = tensor.New(tensor.WithShape(len(blocks), width), tensor.WithBacking(labelData))
	return ids, labels, nil
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
