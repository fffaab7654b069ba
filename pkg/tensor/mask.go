package tensor

import "fmt"

// Masks are plain tensors holding 0/1 entries: a nonzero entry marks a
// position to suppress. MaskedFill overwrites suppressed positions with a
// fill value (typically negative infinity before a softmax), so excluded
// positions carry exactly zero weight after normalization.

// MaskedFill returns a copy of t with value written at every position where
// the mask entry is nonzero. The mask shape must be broadcastable to t's
// shape (trailing dimensions aligned, size-1 axes repeated).
func MaskedFill(t, mask *Tensor, value float32) (*Tensor, error) {
	outShape, err := broadcastShapes(t.Shape, mask.Shape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast mask shape %v to %v: %w", mask.Shape, t.Shape, err)
	}
	if !shapesMatch(outShape, t.Shape) {
		return nil, fmt.Errorf("mask shape %v broadcasts to %v, which does not match tensor shape %v",
			mask.Shape, outShape, t.Shape)
	}

	result := t.Clone()

	indices := make([]int, len(t.Shape))
	var iterate func(dim int)
	iterate = func(dim int) {
		if dim == len(t.Shape) {
			mIdx := broadcastIndex(indices, t.Shape, mask.Shape)
			if mask.Data[mIdx] != 0 {
				result.Data[result.FlatIndex(indices)] = value
			}
			return
		}
		for i := 0; i < t.Shape[dim]; i++ {
			indices[dim] = i
			iterate(dim + 1)
		}
	}
	iterate(0)

	return result, nil
}

// CausalMask builds a strict upper-triangular suppression mask of shape
// (tQ, tK): entry (i, j) is 1 when key index j exceeds query index i. Applied
// before softmax it restricts each query position to keys at or before itself.
func CausalMask(tQ, tK int) *Tensor {
	mask := NewTensor([]int{tQ, tK})
	for i := 0; i < tQ; i++ {
		for j := i + 1; j < tK; j++ {
			mask.Data[i*tK+j] = 1
		}
	}
	return mask
}

// broadcastShapes computes the broadcasted shape of two shapes.
func broadcastShapes(a, b []int) ([]int, error) {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	result := make([]int, maxLen)

	for i := 0; i < maxLen; i++ {
		dimA := 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		dimB := 1
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}

		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, fmt.Errorf("incompatible dimensions %d and %d", dimA, dimB)
		}

		if dimA > dimB {
			result[maxLen-1-i] = dimA
		} else {
			result[maxLen-1-i] = dimB
		}
	}

	return result, nil
}

// broadcastIndex computes the flat index into a broadcast operand for a given
// output position.
func broadcastIndex(outIndices []int, outShape, inShape []int) int {
	if len(inShape) == 0 {
		return 0
	}

	diff := len(outShape) - len(inShape)
	strides := computeStrides(inShape)

	idx := 0
	for i := 0; i < len(inShape); i++ {
		pos := outIndices[i+diff]
		if inShape[i] == 1 {
			pos = 0
		}
		idx += pos * strides[i]
	}
	return idx
}

// shapesMatch reports whether two shapes are identical.
func shapesMatch(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
