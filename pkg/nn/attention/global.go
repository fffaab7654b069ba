package attention

import (
	"fmt"

	"github.com/chewxy/math32"

	"goseq/pkg/nn"
	"goseq/pkg/tensor"
)

// GlobalAttentionConfig holds construction parameters for GlobalAttention.
type GlobalAttentionConfig struct {
	Dim        int  // query and output feature size
	ContextDim int  // context feature size; 0 defaults to Dim
	Bias       bool // whether the linear projections carry bias terms
	BatchFirst bool // context arrives as (batch, sourceLen, dim) instead of (sourceLen, batch, dim)
}

// GlobalAttention computes a parameterized convex combination of a context
// sequence based on a single query vector per batch element.
//
// The full transformation is
//
//	tanh(W2 [softmax((W1 q) H^T) H, q])
//
// where H is the context (batch, sourceLen, context_dim) and q the query
// (batch, dim). Alongside the blended output it returns the attention
// distribution used to blend, for inspection or supervision.
type GlobalAttention struct {
	Dim        int
	ContextDim int
	BatchFirst bool

	LinearIn  *nn.Linear // (dim, context_dim)
	LinearOut *nn.Linear // (dim + context_dim, dim)
}

// NewGlobalAttention creates a global attention unit.
func NewGlobalAttention(config GlobalAttentionConfig) *GlobalAttention {
	contextDim := config.ContextDim
	if contextDim == 0 {
		contextDim = config.Dim
	}

	return &GlobalAttention{
		Dim:        config.Dim,
		ContextDim: contextDim,
		BatchFirst: config.BatchFirst,
		LinearIn:   nn.NewLinear(config.Dim, contextDim, config.Bias),
		LinearOut:  nn.NewLinear(config.Dim+contextDim, config.Dim, config.Bias),
	}
}

// Forward blends the context sequence under the query.
//
// Input shapes:
//   - query: (batch, dim)
//   - context: (sourceLen, batch, context_dim), or (batch, sourceLen,
//     context_dim) when configured batch-first
//   - mask: (batch, sourceLen) suppression mask, or nil
//
// Output shapes: blended output (batch, dim) and attention weights
// (batch, sourceLen). The weights sum to 1 across the source axis for every
// batch element with at least one unmasked position; a fully masked batch
// element yields NaN weights.
func (g *GlobalAttention) Forward(query, context, mask *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if query.NumDims() != 2 {
		return nil, nil, fmt.Errorf("expected 2D (batch, dim) query, got shape %v", query.Shape)
	}
	if context.NumDims() != 3 {
		return nil, nil, fmt.Errorf("expected 3D context, got shape %v", context.Shape)
	}

	if !g.BatchFirst {
		var err error
		context, err = context.Transpose(0, 1) // (batch, sourceLen, context_dim)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to reorder context: %w", err)
		}
	}

	batch, srcLen, contextDim := context.Shape[0], context.Shape[1], context.Shape[2]

	if query.Shape[0] != batch {
		return nil, nil, fmt.Errorf("query batch size %d does not match context batch size %d",
			query.Shape[0], batch)
	}
	if query.Shape[1] != g.Dim {
		return nil, nil, fmt.Errorf("query feature dimension %d does not match configured dim %d",
			query.Shape[1], g.Dim)
	}
	if contextDim != g.ContextDim {
		return nil, nil, fmt.Errorf("context feature dimension %d does not match configured context_dim %d",
			contextDim, g.ContextDim)
	}

	// Project the query into context space.
	target, err := g.LinearIn.Forward(query) // (batch, context_dim)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to project query: %w", err)
	}

	// Score each context position against the projected query:
	// (batch, sourceLen, context_dim) @ (batch, context_dim, 1).
	scores3, err := tensor.Matmul(context, target.Reshape([]int{batch, contextDim, 1}))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute attention scores: %w", err)
	}
	scores := scores3.Reshape([]int{batch, srcLen})

	if mask != nil {
		if mask.NumDims() != 2 || mask.Shape[0] != batch || mask.Shape[1] != srcLen {
			return nil, nil, fmt.Errorf("mask shape %v does not match (batch, sourceLen) = (%d, %d)",
				mask.Shape, batch, srcLen)
		}
		scores, err = tensor.MaskedFill(scores, mask, math32.Inf(-1))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to apply mask: %w", err)
		}
	}

	attn, err := tensor.Softmax(scores, 1) // (batch, sourceLen)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply softmax: %w", err)
	}

	// Blend the context: (batch, 1, sourceLen) @ (batch, sourceLen, context_dim).
	weighted3, err := tensor.Matmul(attn.Reshape([]int{batch, 1, srcLen}), context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to blend context: %w", err)
	}
	weighted := weighted3.Reshape([]int{batch, contextDim})

	combined, err := tensor.Concatenate([]*tensor.Tensor{weighted, query}, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to combine context with query: %w", err)
	}

	out, err := g.LinearOut.Forward(combined) // (batch, dim)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply output projection: %w", err)
	}

	return out.Tanh(), attn, nil
}

// Parameters returns the learnable tensors of both projections.
func (g *GlobalAttention) Parameters() []*tensor.Tensor {
	return append(g.LinearIn.Parameters(), g.LinearOut.Parameters()...)
}
