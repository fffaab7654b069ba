// Package nn provides the learned layers the attention variants are built
// from. Layers hold their parameters as plain tensors; there is no module
// base type, only the Module capability interface.
package nn

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/chewxy/math32"

	"goseq/pkg/tensor"
)

// Module is implemented by every layer with learnable parameters. Optimizers
// and initialization code reach parameters through this interface; the layer
// types share nothing else.
type Module interface {
	Parameters() []*tensor.Tensor
}

// Linear is a learned affine projection y = x @ W (+ b).
type Linear struct {
	In, Out int
	Weight  *tensor.Tensor // (in, out)
	Bias    *tensor.Tensor // (out), nil when constructed without bias
}

// NewLinear creates a linear layer with weights drawn uniformly from
// [-1/sqrt(in), 1/sqrt(in)]. Bias, when enabled, starts at zero.
func NewLinear(in, out int, bias bool) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: tensor.NewTensor([]int{in, out}),
	}

	bound := 1 / math32.Sqrt(float32(in))
	initMu.Lock()
	for i := range l.Weight.Data {
		l.Weight.Data[i] = (initRand.Float32()*2 - 1) * bound
	}
	initMu.Unlock()

	if bias {
		l.Bias = tensor.NewTensor([]int{out})
	}
	return l
}

// Forward applies the projection pointwise across all leading axes.
//
// Input shape: (..., in), 2D or 3D
// Output shape: (..., out)
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.NumDims() < 2 || x.NumDims() > 3 {
		return nil, fmt.Errorf("expected 2D or 3D input, got %dD with shape %v", x.NumDims(), x.Shape)
	}

	features := x.Shape[len(x.Shape)-1]
	if features != l.In {
		return nil, fmt.Errorf("input feature dimension %d does not match layer input size %d", features, l.In)
	}

	out, err := tensor.Matmul(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("failed to apply linear projection: %w", err)
	}

	if l.Bias != nil {
		rows := out.Size() / l.Out
		for r := 0; r < rows; r++ {
			for j := 0; j < l.Out; j++ {
				out.Data[r*l.Out+j] += l.Bias.Data[j]
			}
		}
	}

	return out, nil
}

// Parameters returns the learnable tensors of the layer.
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.Bias == nil {
		return []*tensor.Tensor{l.Weight}
	}
	return []*tensor.Tensor{l.Weight, l.Bias}
}

var (
	initMu   sync.Mutex
	initRand = rand.New(rand.NewSource(42))
)

// SetInitSeed resets the weight initialization rng (useful for reproducible
// model construction).
func SetInitSeed(seed int64) {
	initMu.Lock()
	defer initMu.Unlock()
	initRand = rand.New(rand.NewSource(seed))
}
