package packing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/chatgram/chatgram/encoder"
)

func example(ids ...int) *encoder.Example {
	labels := make([]int, len(ids))
	copy(labels, ids)
	return &encoder.Example{TokenIDs: ids, Labels: labels}
}

func TestNewRejectsNonPositiveBlockLength(t *testing.T) {
	_, err := New(0, 0)
	require.Error(t, err)
	_, err = New(-1, 0)
	require.Error(t, err)
}

func TestPackerFillsBlocks(t *testing.T) {
	p, err := New(8, 0)
	require.NoError(t, err)

	assert.Nil(t, p.Add(example(1, 2, 3)))
	assert.Nil(t, p.Add(example(4, 5, 6)))

	// The third example does not fit the remaining 2 slots: the buffer is
	// flushed first.
	flushed := p.Add(example(7, 8, 9))
	require.NotNil(t, flushed)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 0, 0}, flushed.TokenIDs)
	assert.Equal(t, []int{0, 3}, flushed.Boundaries)
	assert.Equal(t, 6, flushed.Length)
	assert.Equal(t, 2, flushed.Examples())
	assert.Equal(t, encoder.IgnoreIndex, flushed.Labels[6])
	assert.Equal(t, encoder.IgnoreIndex, flushed.Labels[7])

	last := p.Flush()
	require.NotNil(t, last)
	assert.Equal(t, []int{7, 8, 9, 0, 0, 0, 0, 0}, last.TokenIDs)
	assert.Equal(t, []int{0}, last.Boundaries)
	assert.Equal(t, 3, last.Length)

	assert.Nil(t, p.Flush())
}

func TestPackerExactFit(t *testing.T) {
	p, err := New(4, 0)
	require.NoError(t, err)
	assert.Nil(t, p.Add(example(1, 2)))
	assert.Nil(t, p.Add(example(3, 4)))
	block := p.Flush()
	require.NotNil(t, block)
	assert.Equal(t, 4, block.Length)
	assert.Equal(t, []int{0, 2}, block.Boundaries)
}

func TestPackerTruncatesOversizeExample(t *testing.T) {
	p, err := New(4, 0)
	require.NoError(t, err)
	assert.Nil(t, p.Add(example(1, 2, 3, 4, 5, 6)))
	block := p.Flush()
	require.NotNil(t, block)
	assert.Equal(t, []int{3, 4, 5, 6}, block.TokenIDs)
	assert.Equal(t, 4, block.Length)
}

func TestPackerIgnoresEmptyExamples(t *testing.T) {
	p, err := New(4, 0)
	require.NoError(t, err)
	assert.Nil(t, p.Add(nil))
	assert.Nil(t, p.Add(&encoder.Example{}))
	assert.Nil(t, p.Flush())
}

// Every input token lands in exactly one block: the sum of block lengths
// equals the sum of example lengths clamped to the block length.
func TestPackAllConservesTokens(t *testing.T) {
	p, err := New(8, 0)
	require.NoError(t, err)
	examples := []*encoder.Example{
		example(1, 2, 3),
		example(4, 5, 6, 7, 8),
		example(9),
		example(10, 11, 12, 13, 14, 15, 16, 17, 18, 19), // clamped to 8
		example(20, 21),
	}
	blocks := PackAll(p, examples)

	want := 0
	for _, ex := range examples {
		want += min(ex.Len(), p.BlockLength())
	}
	got := 0
	packed := 0
	for _, b := range blocks {
		got += b.Length
		packed += b.Examples()
		assert.Len(t, b.TokenIDs, 8)
		assert.Len(t, b.Labels, 8)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, len(examples), packed)
}

func TestPositionIDsRestartPerExample(t *testing.T) {
	block := &Block{
		TokenIDs:   []int{1, 2, 3, 4, 5, 0, 0, 0},
		Boundaries: []int{0, 3},
		Length:     5,
	}
	assert.Equal(t, []int64{0, 1, 2, 0, 1, 2, 3, 4}, block.PositionIDs())
}

func TestDocumentIDs(t *testing.T) {
	block := &Block{
		TokenIDs:   []int{1, 2, 3, 4, 5, 0, 0, 0},
		Boundaries: []int{0, 3},
		Length:     5,
	}
	assert.Equal(t, []int64{0, 0, 0, 1, 1, -1, -1, -1}, block.DocumentIDs())
}

func TestBlockTensors(t *testing.T) {
	block := &Block{
		TokenIDs: []int{1, 2, 3, 4},
		Labels:   []int{encoder.IgnoreIndex, 2, 3, 4},
		Length:   4,
	}
	ids, labels := block.Tensors()
	assert.Equal(t, tensor.Shape{1, 4}, ids.Shape())
	assert.Equal(t, []int64{1, 2, 3, 4}, ids.Data())
	assert.Equal(t, []int64{int64(encoder.IgnoreIndex), 2, 3, 4}, labels.Data())
}

func TestBatchTensors(t *testing.T) {
	a := &Block{TokenIDs: []int{1, 2}, Labels: []int{1, 2}, Length: 2}
	b := &Block{TokenIDs: []int{3, 4}, Labels: []int{3, 4}, Length: 2}
	ids, labels, err := BatchTensors([]*Block{a, b})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, ids.Shape())
	assert.Equal(t, []int64{1, 2, 3, 4}, ids.Data())
	assert.Equal(t, []int64{1, 2, 3, 4}, labels.Data())

	_, _, err = BatchTensors(nil)
	require.Error(t, err)
	_, _, err = BatchTensors([]*Block{a, {TokenIDs: []int{1}}})
	require.Error(t, err)
}
