// Package attention implements attention mechanisms for sequence-to-sequence
// models.
//
// This package provides three independent variants:
//   - GlobalAttention: single-query attention over a context sequence
//   - SDPA: scaled dot-product attention over batched q/k/v sequences
//   - MultiHeadAttention: parallel SDPA heads over split embeddings
//
// Masks are passed per call rather than stored on the modules, so a module
// instance can serve concurrent forward passes with different masks. A mask
// entry of 1 marks a position to suppress.
package attention

import (
	"fmt"

	"github.com/chewxy/math32"

	"goseq/pkg/tensor"
)

// SDPA implements scaled dot-product attention.
//
// Scores are the batched product q @ k^T scaled by 1/sqrt(dim_k), masked,
// normalized with softmax over the key axis, and used to blend v.
type SDPA struct {
	Dropout float32 // dropout rate on the post-softmax weights
	Causal  bool    // restrict each query to keys at or before its position
}

// NewSDPA creates a scaled dot-product attention unit.
func NewSDPA(dropout float32, causal bool) *SDPA {
	return &SDPA{Dropout: dropout, Causal: causal}
}

// Forward computes attention over batched query/key/value sequences.
//
// Input shapes:
//   - q: (batch, t_q, dim)
//   - k: (batch, t_k, dim)
//   - v: (batch, t_k, dim_v)
//   - mask: (batch, t_k) suppression mask shared across query rows, or nil.
//     Requires t_q == t_k, matching the mask's batch x t_q contract.
//   - training: if true, apply dropout to the attention weights
//
// Output shape: (batch, t_q, dim_v). The weight matrix is not returned.
//
// A query row whose keys are all suppressed (by the mask, the causal
// restriction, or both) has no defined softmax and yields NaN output values;
// callers must leave at least one valid key per query.
func (s *SDPA) Forward(q, k, v, mask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if q.NumDims() != 3 || k.NumDims() != 3 || v.NumDims() != 3 {
		return nil, fmt.Errorf("expected 3D (batch, time, dim) inputs, got shapes q=%v k=%v v=%v",
			q.Shape, k.Shape, v.Shape)
	}

	bQ, tQ, dimQ := q.Shape[0], q.Shape[1], q.Shape[2]
	bK, tK, dimK := k.Shape[0], k.Shape[1], k.Shape[2]
	bV, tV := v.Shape[0], v.Shape[1]

	if bQ != bK || bK != bV {
		return nil, fmt.Errorf("batch sizes must match: q=%d k=%d v=%d", bQ, bK, bV)
	}
	if dimQ != dimK {
		return nil, fmt.Errorf("query feature dimension %d does not match key feature dimension %d", dimQ, dimK)
	}
	if tK != tV {
		return nil, fmt.Errorf("key time length %d does not match value time length %d", tK, tV)
	}

	// Raw scores: q @ k^T, (batch, t_q, t_k).
	kT, err := k.Transpose(1, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to transpose k: %w", err)
	}
	scores, err := tensor.Matmul(q, kT)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention scores: %w", err)
	}

	scores = scores.Scale(1 / math32.Sqrt(float32(dimK)))

	if mask != nil {
		if mask.NumDims() != 2 || mask.Shape[0] != bQ || mask.Shape[1] != tK {
			return nil, fmt.Errorf("mask shape %v does not match (batch, time) = (%d, %d)",
				mask.Shape, bQ, tK)
		}
		scores, err = tensor.MaskedFill(scores, mask.Reshape([]int{bQ, 1, tK}), math32.Inf(-1))
		if err != nil {
			return nil, fmt.Errorf("failed to apply mask: %w", err)
		}
	}

	if s.Causal {
		// Combines with the external mask: a position excluded by either
		// is excluded from the result.
		scores, err = tensor.MaskedFill(scores, tensor.CausalMask(tQ, tK), math32.Inf(-1))
		if err != nil {
			return nil, fmt.Errorf("failed to apply causal mask: %w", err)
		}
	}

	weights, err := tensor.Softmax(scores, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to apply softmax: %w", err)
	}

	weights = weights.Dropout(s.Dropout, training)

	out, err := tensor.Matmul(weights, v)
	if err != nil {
		return nil, fmt.Errorf("failed to apply attention weights to v: %w", err)
	}
	return out, nil
}

// Parameters returns no tensors; SDPA has no learnable state.
func (s *SDPA) Parameters() []*tensor.Tensor {
	return nil
}
