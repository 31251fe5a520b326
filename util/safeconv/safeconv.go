// Package safeconv holds clamped integer conversions for the tokenizer
// boundary, where backends speak uint32 and the encoder speaks int.
package safeconv

import "math"

// Uint32SliceToIntSlice converts tokenizer ids to int with clamping to MaxInt
// when necessary.
func Uint32SliceToIntSlice(input []uint32) []int {
	out := make([]int, len(input))
	for i, v := range input {
		if uint64(v) > uint64(math.MaxInt) {
			out[i] = math.MaxInt
		} else {
			out[i] = int(v)
		}
	}
	return out
}
