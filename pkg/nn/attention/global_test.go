package attention

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goseq/pkg/tensor"
)

func TestGlobalAttention_WeightsSumToOne(t *testing.T) {
	attn := NewGlobalAttention(GlobalAttentionConfig{Dim: 6, BatchFirst: true})

	rng := rand.New(rand.NewSource(20))
	query := randTensor(rng, []int{3, 6})
	context := randTensor(rng, []int{3, 5, 6})

	out, weights, err := attn.Forward(query, context, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 6}, out.Shape)
	assert.Equal(t, []int{3, 5}, weights.Shape)

	for b := 0; b < 3; b++ {
		sum := float32(0)
		for s := 0; s < 5; s++ {
			w := weights.Get([]int{b, s})
			assert.GreaterOrEqual(t, w, float32(0), "negative weight at (%d, %d)", b, s)
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "batch %d weights must sum to 1", b)
	}

	// tanh keeps the blended output saturated in (-1, 1).
	for i, v := range out.Data {
		assert.Less(t, math32.Abs(v), float32(1), "output %d outside tanh range", i)
	}
}

func TestGlobalAttention_TimeMajorContext(t *testing.T) {
	// The default layout is (sourceLen, batch, dim); batch-first is the same
	// computation on a pre-transposed context.
	batchFirst := NewGlobalAttention(GlobalAttentionConfig{Dim: 4, BatchFirst: true})
	timeMajor := NewGlobalAttention(GlobalAttentionConfig{Dim: 4})

	// Share weights so both modules compute the same function.
	timeMajor.LinearIn = batchFirst.LinearIn
	timeMajor.LinearOut = batchFirst.LinearOut

	rng := rand.New(rand.NewSource(21))
	query := randTensor(rng, []int{2, 4})
	context := randTensor(rng, []int{2, 3, 4}) // (batch, sourceLen, dim)

	outBF, attnBF, err := batchFirst.Forward(query, context, nil)
	require.NoError(t, err)

	contextTM, err := context.Transpose(0, 1) // (sourceLen, batch, dim)
	require.NoError(t, err)
	outTM, attnTM, err := timeMajor.Forward(query, contextTM, nil)
	require.NoError(t, err)

	if diff := cmp.Diff(outBF.Data, outTM.Data, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("Output mismatch between layouts (-batchFirst +timeMajor):\n%s", diff)
	}
	if diff := cmp.Diff(attnBF.Data, attnTM.Data, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("Attention mismatch between layouts (-batchFirst +timeMajor):\n%s", diff)
	}
}

func TestGlobalAttention_ContextDimDefaultsToDim(t *testing.T) {
	attn := NewGlobalAttention(GlobalAttentionConfig{Dim: 6})
	assert.Equal(t, 6, attn.ContextDim)

	wide := NewGlobalAttention(GlobalAttentionConfig{Dim: 4, ContextDim: 10, BatchFirst: true})
	assert.Equal(t, 10, wide.ContextDim)

	rng := rand.New(rand.NewSource(22))
	query := randTensor(rng, []int{2, 4})
	context := randTensor(rng, []int{2, 3, 10})

	out, weights, err := wide.Forward(query, context, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, out.Shape)
	assert.Equal(t, []int{2, 3}, weights.Shape)
}

func TestGlobalAttention_MaskedPositionsGetZeroWeight(t *testing.T) {
	attn := NewGlobalAttention(GlobalAttentionConfig{Dim: 4, BatchFirst: true})

	rng := rand.New(rand.NewSource(23))
	query := randTensor(rng, []int{2, 4})
	context := randTensor(rng, []int{2, 4, 4})

	// Suppress positions 1 and 3 of the first batch element only.
	mask, err := tensor.FromSlice([]float32{
		0, 1, 0, 1,
		0, 0, 0, 0,
	}, []int{2, 4})
	require.NoError(t, err)

	_, weights, err := attn.Forward(query, context, mask)
	require.NoError(t, err)

	assert.Zero(t, weights.Get([]int{0, 1}), "masked position must carry zero weight")
	assert.Zero(t, weights.Get([]int{0, 3}), "masked position must carry zero weight")

	for b := 0; b < 2; b++ {
		sum := float32(0)
		for s := 0; s < 4; s++ {
			sum += weights.Get([]int{b, s})
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "batch %d weights must still sum to 1", b)
	}
}

func TestGlobalAttention_FullyMaskedContextIsNaN(t *testing.T) {
	// Masking the entire 3-length context leaves softmax undefined. The NaN
	// distribution is the documented behavior; callers must keep at least one
	// valid position per query.
	attn := NewGlobalAttention(GlobalAttentionConfig{Dim: 4, BatchFirst: true})

	rng := rand.New(rand.NewSource(24))
	query := randTensor(rng, []int{1, 4})
	context := randTensor(rng, []int{1, 3, 4})

	mask, err := tensor.FromSlice([]float32{1, 1, 1}, []int{1, 3})
	require.NoError(t, err)

	_, weights, err := attn.Forward(query, context, mask)
	require.NoError(t, err)

	for i, w := range weights.Data {
		assert.True(t, math32.IsNaN(w), "expected NaN weight at %d, got %f", i, w)
	}
}

func TestGlobalAttention_ShapeErrors(t *testing.T) {
	attn := NewGlobalAttention(GlobalAttentionConfig{Dim: 4, BatchFirst: true})

	query := tensor.NewTensor([]int{2, 4})
	context := tensor.NewTensor([]int{2, 3, 4})

	tests := []struct {
		name      string
		query     *tensor.Tensor
		context   *tensor.Tensor
		mask      *tensor.Tensor
		errString string
	}{
		{"query feature mismatch", tensor.NewTensor([]int{2, 5}), context, nil, "does not match configured dim"},
		{"query rank", tensor.NewTensor([]int{2, 4, 1}), context, nil, "expected 2D"},
		{"context rank", query, tensor.NewTensor([]int{2, 4}), nil, "expected 3D context"},
		{"context feature mismatch", query, tensor.NewTensor([]int{2, 3, 5}), nil, "does not match configured context_dim"},
		{"batch mismatch", query, tensor.NewTensor([]int{3, 3, 4}), nil, "batch size"},
		{"mask mismatch", query, context, tensor.NewTensor([]int{2, 5}), "mask shape"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := attn.Forward(tt.query, tt.context, tt.mask)
			assert.ErrorContains(t, err, tt.errString)
		})
	}
}

func TestGlobalAttention_Parameters(t *testing.T) {
	assert.Len(t, NewGlobalAttention(GlobalAttentionConfig{Dim: 4}).Parameters(), 2)
	assert.Len(t, NewGlobalAttention(GlobalAttentionConfig{Dim: 4, Bias: true}).Parameters(), 4)
}
