// Package tensor provides float32 tensor operations for attention models.
// It implements the small set of primitives the attention variants need:
// batched matrix multiplication, softmax, masking fills, splitting and
// concatenation along the feature axis, and dropout.
package tensor

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Tensor represents a multi-dimensional array of float32 values.
// It stores data in a flat slice with shape information for indexing.
type Tensor struct {
	Data    []float32 // Flattened data storage
	Shape   []int     // Dimensions (e.g., [batch, time, dim])
	Strides []int     // Precomputed strides for indexing
}

// NewTensor creates a new tensor with the given shape, initialized to zeros.
func NewTensor(shape []int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}

	return &Tensor{
		Data:    make([]float32, size),
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}
}

// FromSlice creates a tensor from existing data with the given shape.
// Returns an error if data size doesn't match the shape.
func FromSlice(data []float32, shape []int) (*Tensor, error) {
	expectedSize := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		expectedSize *= dim
	}
	if len(data) != expectedSize {
		return nil, fmt.Errorf("data size %d does not match shape %v (expected %d elements)",
			len(data), shape, expectedSize)
	}

	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)

	return &Tensor{
		Data:    dataCopy,
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}, nil
}

// NewTensorFromData creates a tensor from existing data with the given shape.
// It copies the data to ensure the tensor owns its memory. Panics on a size
// mismatch; use FromSlice when the caller needs an error instead.
func NewTensorFromData(data []float32, shape []int) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// View returns a new tensor with a different shape but sharing the same underlying data.
// Returns an error if total size doesn't match.
func (t *Tensor) View(newShape []int) (*Tensor, error) {
	newSize := 1
	for _, dim := range newShape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, newShape)
		}
		newSize *= dim
	}

	if newSize != len(t.Data) {
		return nil, fmt.Errorf("cannot view tensor of size %d as shape %v (total size %d)",
			len(t.Data), newShape, newSize)
	}

	return &Tensor{
		Data:    t.Data,
		Shape:   copyShape(newShape),
		Strides: computeStrides(newShape),
	}, nil
}

// Reshape returns a view with a different shape (same underlying data).
// Panics if the total size doesn't match.
func (t *Tensor) Reshape(newShape []int) *Tensor {
	result, err := t.View(newShape)
	if err != nil {
		panic(err)
	}
	return result
}

// Transpose exchanges two dimensions of the tensor, materializing the result.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if dim1 < 0 || dim1 >= len(t.Shape) || dim2 < 0 || dim2 >= len(t.Shape) {
		return nil, fmt.Errorf("invalid transpose dimensions %d and %d for tensor with %d dimensions",
			dim1, dim2, len(t.Shape))
	}

	if dim1 == dim2 {
		return t.Clone(), nil
	}

	newShape := copyShape(t.Shape)
	newShape[dim1], newShape[dim2] = newShape[dim2], newShape[dim1]

	result := NewTensor(newShape)

	// Iterate over source indices, swapping dim1/dim2 for the destination.
	srcIndices := make([]int, len(t.Shape))
	dstIndices := make([]int, len(t.Shape))
	var transposeRec func(pos int)
	transposeRec = func(pos int) {
		if pos == len(t.Shape) {
			copy(dstIndices, srcIndices)
			dstIndices[dim1], dstIndices[dim2] = dstIndices[dim2], dstIndices[dim1]
			result.Data[result.FlatIndex(dstIndices)] = t.Data[t.FlatIndex(srcIndices)]
			return
		}
		for i := 0; i < t.Shape[pos]; i++ {
			srcIndices[pos] = i
			transposeRec(pos + 1)
		}
	}
	transposeRec(0)

	return result, nil
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// NumDims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) NumDims() int {
	return len(t.Shape)
}

// FlatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) FlatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("indices length %d does not match shape dimensions %d",
			len(indices), len(t.Shape)))
	}

	idx := 0
	for i := 0; i < len(t.Shape); i++ {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d with size %d",
				indices[i], i, t.Shape[i]))
		}
		idx += indices[i] * t.Strides[i]
	}
	return idx
}

// Get retrieves a value at the specified indices.
func (t *Tensor) Get(indices []int) float32 {
	return t.Data[t.FlatIndex(indices)]
}

// Set sets a value at the specified indices.
func (t *Tensor) Set(indices []int, value float32) {
	t.Data[t.FlatIndex(indices)] = value
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return NewTensorFromData(t.Data, t.Shape)
}

// Equals checks if two tensors have the same shape and approximately equal values.
func (t *Tensor) Equals(other *Tensor, tolerance float32) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		if math32.Abs(t.Data[i]-other.Data[i]) > tolerance {
			return false
		}
	}
	return true
}

// ShapeEquals checks if two tensors have the same shape.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// SliceN extracts a sub-tensor from the given ranges for all dimensions.
func (t *Tensor) SliceN(starts, ends []int) (*Tensor, error) {
	if len(starts) != len(t.Shape) || len(ends) != len(t.Shape) {
		return nil, fmt.Errorf("starts and ends must have same length as tensor dimensions (%d), got %d and %d",
			len(t.Shape), len(starts), len(ends))
	}

	newShape := make([]int, len(t.Shape))
	for i := 0; i < len(t.Shape); i++ {
		if starts[i] < 0 || starts[i] > t.Shape[i] {
			return nil, fmt.Errorf("invalid start index %d for dimension %d with size %d", starts[i], i, t.Shape[i])
		}
		if ends[i] < starts[i] || ends[i] > t.Shape[i] {
			return nil, fmt.Errorf("invalid end index %d for dimension %d (start=%d, size=%d)", ends[i], i, starts[i], t.Shape[i])
		}
		newShape[i] = ends[i] - starts[i]
	}

	result := NewTensor(newShape)

	srcIndices := make([]int, len(t.Shape))
	dstIndices := make([]int, len(t.Shape))

	var copyData func(dim int)
	copyData = func(dim int) {
		if dim == len(t.Shape) {
			result.Data[result.FlatIndex(dstIndices)] = t.Data[t.FlatIndex(srcIndices)]
			return
		}

		for i := 0; i < newShape[dim]; i++ {
			srcIndices[dim] = starts[dim] + i
			dstIndices[dim] = i
			copyData(dim + 1)
		}
	}

	copyData(0)
	return result, nil
}

// Chunk splits the tensor into n equal parts along the given dimension.
// Returns an error if the dimension size is not evenly divisible by n.
func (t *Tensor) Chunk(n, dim int) ([]*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}
	if n <= 0 {
		return nil, fmt.Errorf("chunk count must be positive, got %d", n)
	}
	if t.Shape[dim]%n != 0 {
		return nil, fmt.Errorf("dimension %d with size %d is not divisible into %d chunks",
			dim, t.Shape[dim], n)
	}

	step := t.Shape[dim] / n
	chunks := make([]*Tensor, n)
	for i := 0; i < n; i++ {
		starts := make([]int, len(t.Shape))
		ends := copyShape(t.Shape)
		starts[dim] = i * step
		ends[dim] = (i + 1) * step

		part, err := t.SliceN(starts, ends)
		if err != nil {
			return nil, err
		}
		chunks[i] = part
	}
	return chunks, nil
}

// Matmul performs matrix multiplication on the last two dimensions.
// For tensors of shape (..., m, n) and (..., n, p), returns (..., m, p).
// Supports broadcasting: if one operand is 2D and the other is 3D, the 2D is broadcast.
// The inner 2D products are computed with gonum's blas32 Gemm kernel.
func Matmul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, fmt.Errorf("matmul requires at least 2D tensors, got %dD and %dD",
			len(a.Shape), len(b.Shape))
	}

	kA := a.Shape[len(a.Shape)-1]
	kB := b.Shape[len(b.Shape)-2]

	if kA != kB {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v (inner dimensions %d and %d don't match)",
			a.Shape, b.Shape, kA, kB)
	}

	if len(a.Shape) == 2 && len(b.Shape) == 3 {
		return matmul2D3D(a, b)
	}
	if len(a.Shape) == 3 && len(b.Shape) == 2 {
		return matmul3D2D(a, b)
	}

	return matmulBatched(a, b)
}

// gemm computes c = a @ b for row-major matrices of shape (m, n) and (n, p).
func gemm(a, b, c []float32, m, n, p int) {
	blas32.Gemm(blas.NoTrans, blas.NoTrans,
		1,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: a},
		blas32.General{Rows: n, Cols: p, Stride: p, Data: b},
		0,
		blas32.General{Rows: m, Cols: p, Stride: p, Data: c},
	)
}

// matmul3D2D handles (batch, m, n) @ (n, p) -> (batch, m, p)
func matmul3D2D(a, b *Tensor) (*Tensor, error) {
	batch, m, n := a.Shape[0], a.Shape[1], a.Shape[2]
	p := b.Shape[1]

	result := NewTensor([]int{batch, m, p})

	for bi := 0; bi < batch; bi++ {
		gemm(a.Data[bi*m*n:(bi+1)*m*n], b.Data, result.Data[bi*m*p:(bi+1)*m*p], m, n, p)
	}

	return result, nil
}

// matmul2D3D handles (m, n) @ (batch, n, p) -> (batch, m, p)
func matmul2D3D(a, b *Tensor) (*Tensor, error) {
	m, n := a.Shape[0], a.Shape[1]
	batch, p := b.Shape[0], b.Shape[2]

	result := NewTensor([]int{batch, m, p})

	for bi := 0; bi < batch; bi++ {
		gemm(a.Data, b.Data[bi*n*p:(bi+1)*n*p], result.Data[bi*m*p:(bi+1)*m*p], m, n, p)
	}

	return result, nil
}

// matmulBatched handles batched matrix multiplication with matching batch dimensions.
func matmulBatched(a, b *Tensor) (*Tensor, error) {
	m := a.Shape[len(a.Shape)-2]
	n := a.Shape[len(a.Shape)-1]
	p := b.Shape[len(b.Shape)-1]

	if len(a.Shape) != len(b.Shape) {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v", a.Shape, b.Shape)
	}
	batchDims := a.Shape[:len(a.Shape)-2]
	for i, dim := range batchDims {
		if b.Shape[i] != dim {
			return nil, fmt.Errorf("incompatible batch dimensions for matmul: %v and %v", a.Shape, b.Shape)
		}
	}

	batchSize := 1
	for _, dim := range batchDims {
		batchSize *= dim
	}

	resultShape := append([]int{}, batchDims...)
	resultShape = append(resultShape, m, p)
	result := NewTensor(resultShape)

	for batch := 0; batch < batchSize; batch++ {
		gemm(
			a.Data[batch*m*n:(batch+1)*m*n],
			b.Data[batch*n*p:(batch+1)*n*p],
			result.Data[batch*m*p:(batch+1)*m*p],
			m, n, p,
		)
	}

	return result, nil
}

// Scale multiplies all elements by a scalar.
func Scale(t *Tensor, scalar float32) *Tensor {
	result := NewTensor(t.Shape)
	for i := range t.Data {
		result.Data[i] = t.Data[i] * scalar
	}
	return result
}

// Scale multiplies all elements by a scalar (tensor method version).
func (t *Tensor) Scale(s float32) *Tensor {
	return Scale(t, s)
}

// Softmax applies softmax along the specified dimension.
//
// The computation subtracts the per-slice maximum before exponentiating for
// numerical stability. A slice whose entries are all negative infinity has no
// defined softmax and produces NaN values; callers masking scores must leave
// at least one finite entry per slice.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}

	result := NewTensor(t.Shape)

	sliceSize := t.Shape[dim]
	numSlices := len(t.Data) / sliceSize

	expVals := make([]float32, sliceSize)
	for sliceIdx := 0; sliceIdx < numSlices; sliceIdx++ {
		// Decompose sliceIdx into offsets over the non-softmax axes.
		offsets := make([]int, len(t.Shape))
		remaining := sliceIdx
		for i := len(t.Shape) - 1; i >= 0; i-- {
			if i == dim {
				continue
			}
			offsets[i] = remaining % t.Shape[i]
			remaining /= t.Shape[i]
		}

		// Max for numerical stability.
		maxVal := math32.Inf(-1)
		for i := 0; i < sliceSize; i++ {
			offsets[dim] = i
			if v := t.Data[t.FlatIndex(offsets)]; v > maxVal {
				maxVal = v
			}
		}

		expSum := float32(0)
		for i := 0; i < sliceSize; i++ {
			offsets[dim] = i
			expVals[i] = math32.Exp(t.Data[t.FlatIndex(offsets)] - maxVal)
			expSum += expVals[i]
		}

		for i := 0; i < sliceSize; i++ {
			offsets[dim] = i
			result.Data[result.FlatIndex(offsets)] = expVals[i] / expSum
		}
	}

	return result, nil
}

// SoftmaxLast applies softmax along the last dimension (convenience function).
func SoftmaxLast(t *Tensor) *Tensor {
	result, err := Softmax(t, len(t.Shape)-1)
	if err != nil {
		panic(err)
	}
	return result
}

// Concatenate concatenates tensors along a dimension. All operands must agree
// on every other dimension.
func Concatenate(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot concatenate empty list of tensors")
	}

	if dim < 0 || dim >= len(tensors[0].Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(tensors[0].Shape))
	}

	outShape := copyShape(tensors[0].Shape)
	concatSize := tensors[0].Shape[dim]

	for i := 1; i < len(tensors); i++ {
		t := tensors[i]
		if len(t.Shape) != len(outShape) {
			return nil, fmt.Errorf("tensor %d has %d dimensions, expected %d", i, len(t.Shape), len(outShape))
		}
		for j := 0; j < len(outShape); j++ {
			if j == dim {
				concatSize += t.Shape[j]
			} else if t.Shape[j] != outShape[j] {
				return nil, fmt.Errorf("tensor %d has shape %v, incompatible with %v at dimension %d", i, t.Shape, outShape, j)
			}
		}
	}
	outShape[dim] = concatSize

	result := NewTensor(outShape)

	offset := 0
	for _, t := range tensors {
		srcIndices := make([]int, len(t.Shape))
		dstIndices := make([]int, len(t.Shape))

		var copyData func(d int)
		copyData = func(d int) {
			if d == len(t.Shape) {
				copy(dstIndices, srcIndices)
				dstIndices[dim] += offset
				result.Data[result.FlatIndex(dstIndices)] = t.Data[t.FlatIndex(srcIndices)]
				return
			}
			for i := 0; i < t.Shape[d]; i++ {
				srcIndices[d] = i
				copyData(d + 1)
			}
		}
		copyData(0)

		offset += t.Shape[dim]
	}

	return result, nil
}

// String returns a string representation of the tensor.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor[")
	for i, dim := range t.Shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", dim))
	}
	sb.WriteString("]: ")
	sb.WriteString(t.formatData(t.Shape, t.Data, 0))

	return sb.String()
}

// formatData recursively formats tensor data, eliding long axes.
func (t *Tensor) formatData(shape []int, data []float32, offset int) string {
	if len(shape) == 0 {
		return fmt.Sprintf("%g", data[offset])
	}

	if len(shape) == 1 {
		var sb strings.Builder
		sb.WriteString("[")
		for i := 0; i < shape[0] && i < 6; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%g", data[offset+i]))
		}
		if shape[0] > 6 {
			sb.WriteString(", ...")
		}
		sb.WriteString("]")
		return sb.String()
	}

	var sb strings.Builder
	sb.WriteString("[")
	subSize := 1
	for i := 1; i < len(shape); i++ {
		subSize *= shape[i]
	}

	for i := 0; i < shape[0] && i < 3; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.formatData(shape[1:], data, offset+i*subSize))
	}
	if shape[0] > 3 {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}

// computeStrides precomputes row-major strides for a shape.
func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// copyShape creates a copy of a shape slice.
func copyShape(shape []int) []int {
	result := make([]int, len(shape))
	copy(result, shape)
	return result
}
