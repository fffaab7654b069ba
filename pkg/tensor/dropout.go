package tensor

import (
	"math/rand"
	"sync"
	"time"
)

// Dropout randomly zeros out elements with probability p during training.
// During inference (training=false), returns a copy of the input unchanged.
//
// Kept elements are scaled by 1/(1-p) (inverted dropout) so the expected
// activation magnitude is preserved. Safe for concurrent callers; attention
// heads apply dropout in parallel.
func (t *Tensor) Dropout(p float32, training bool) *Tensor {
	if !training || p == 0 {
		return t.Clone()
	}

	if p < 0 || p >= 1 {
		panic("dropout probability must be in [0, 1)")
	}

	result := NewTensor(t.Shape)
	scale := 1 / (1 - p)

	dropoutMu.Lock()
	defer dropoutMu.Unlock()
	for i := range t.Data {
		if dropoutRand.Float32() >= p {
			result.Data[i] = t.Data[i] * scale
		}
	}

	return result
}

var (
	dropoutMu   sync.Mutex
	dropoutRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// SetDropoutSeed sets the random seed for dropout (useful for testing).
func SetDropoutSeed(seed int64) {
	dropoutMu.Lock()
	defer dropoutMu.Unlock()
	dropoutRand = rand.New(rand.NewSource(seed))
}

// ApplyDropout applies dropout to a tensor using the given probability and
// training mode. This is a convenience function that calls the Dropout method.
func ApplyDropout(t *Tensor, p float32, training bool) *Tensor {
	return t.Dropout(p, training)
}
