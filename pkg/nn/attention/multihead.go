package attention

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"goseq/pkg/nn"
	"goseq/pkg/tensor"
)

// MultiHeadAttentionConfig holds construction parameters for MultiHeadAttention.
type MultiHeadAttentionConfig struct {
	InputSize  int     // embedding width, must be divisible by NumHeads
	OutputSize int     // width after the output projection
	NumHeads   int     // number of parallel attention heads
	Dropout    float32 // dropout rate on each head's attention weights
	Causal     bool    // causal restriction shared by all heads
	Bias       bool    // whether the linear projections carry bias terms
}

// MultiHeadAttention runs scaled dot-product attention across several
// independent representation subspaces in parallel and recombines them.
//
// Each head receives a contiguous InputSize/NumHeads-wide chunk of the
// projected q/k/v features. All heads share one SDPA unit, so the mask and
// causal configuration apply identically to every head.
type MultiHeadAttention struct {
	InputSize  int
	OutputSize int
	NumHeads   int
	HeadDim    int

	LinearQ   *nn.Linear // (input_size, input_size)
	LinearK   *nn.Linear // (input_size, input_size)
	LinearV   *nn.Linear // (input_size, input_size)
	LinearOut *nn.Linear // (input_size, output_size)

	Attn *SDPA
}

// NewMultiHeadAttention creates a multi-head attention layer.
// Returns an error when InputSize is not evenly divisible by NumHeads.
func NewMultiHeadAttention(config MultiHeadAttentionConfig) (*MultiHeadAttention, error) {
	if config.NumHeads <= 0 {
		return nil, fmt.Errorf("num_heads must be positive, got %d", config.NumHeads)
	}
	if config.InputSize%config.NumHeads != 0 {
		return nil, fmt.Errorf("input_size (%d) must be divisible by num_heads (%d)",
			config.InputSize, config.NumHeads)
	}

	return &MultiHeadAttention{
		InputSize:  config.InputSize,
		OutputSize: config.OutputSize,
		NumHeads:   config.NumHeads,
		HeadDim:    config.InputSize / config.NumHeads,
		LinearQ:    nn.NewLinear(config.InputSize, config.InputSize, config.Bias),
		LinearK:    nn.NewLinear(config.InputSize, config.InputSize, config.Bias),
		LinearV:    nn.NewLinear(config.InputSize, config.InputSize, config.Bias),
		LinearOut:  nn.NewLinear(config.InputSize, config.OutputSize, config.Bias),
		Attn:       NewSDPA(config.Dropout, config.Causal),
	}, nil
}

// Forward computes multi-head attention.
//
// Input shapes:
//   - q: (batch, t_q, input_size)
//   - k: (batch, t_k, input_size)
//   - v: (batch, t_k, input_size)
//   - mask: (batch, t_k) suppression mask applied to every head, or nil
//   - training: if true, apply dropout inside each head
//
// Output shape: (batch, t_q, output_size)
func (m *MultiHeadAttention) Forward(q, k, v, mask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	for name, t := range map[string]*tensor.Tensor{"q": q, "k": k, "v": v} {
		if t.NumDims() != 3 {
			return nil, fmt.Errorf("expected 3D (batch, time, dim) %s, got shape %v", name, t.Shape)
		}
		if t.Shape[2] != m.InputSize {
			return nil, fmt.Errorf("%s feature dimension %d does not match input_size %d",
				name, t.Shape[2], m.InputSize)
		}
	}

	qw, err := m.LinearQ.Forward(q)
	if err != nil {
		return nil, fmt.Errorf("failed to project q: %w", err)
	}
	kw, err := m.LinearK.Forward(k)
	if err != nil {
		return nil, fmt.Errorf("failed to project k: %w", err)
	}
	vw, err := m.LinearV.Forward(v)
	if err != nil {
		return nil, fmt.Errorf("failed to project v: %w", err)
	}

	// Split the feature axis into contiguous per-head chunks.
	qh, err := qw.Chunk(m.NumHeads, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to split q into heads: %w", err)
	}
	kh, err := kw.Chunk(m.NumHeads, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to split k into heads: %w", err)
	}
	vh, err := vw.Chunk(m.NumHeads, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to split v into heads: %w", err)
	}

	// Heads are independent; run them concurrently.
	heads := make([]*tensor.Tensor, m.NumHeads)
	var g errgroup.Group
	for i := 0; i < m.NumHeads; i++ {
		i := i
		g.Go(func() error {
			out, err := m.Attn.Forward(qh[i], kh[i], vh[i], mask, training)
			if err != nil {
				return fmt.Errorf("head %d: %w", i, err)
			}
			heads[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := tensor.Concatenate(heads, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to merge heads: %w", err)
	}

	out, err := m.LinearOut.Forward(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to apply output projection: %w", err)
	}
	return out, nil
}

// Parameters returns the learnable tensors of all four projections.
func (m *MultiHeadAttention) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, l := range []*nn.Linear{m.LinearQ, m.LinearK, m.LinearV, m.LinearOut} {
		params = append(params, l.Parameters()...)
	}
	return params
}
