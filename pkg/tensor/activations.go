package tensor

import "github.com/chewxy/math32"

// Tanh applies the hyperbolic tangent element-wise.
//
// This is the saturating nonlinearity used on the combined output of global
// attention, keeping values in (-1, 1).
//
// Input: tensor of any shape
// Output: tensor of the same shape with tanh applied element-wise
func (t *Tensor) Tanh() *Tensor {
	result := NewTensor(t.Shape)
	for i := range t.Data {
		result.Data[i] = math32.Tanh(t.Data[i])
	}
	return result
}

// Tanh is a standalone function that applies tanh to a tensor.
// This is a convenience wrapper around the Tensor.Tanh method.
func Tanh(t *Tensor) *Tensor {
	return t.Tanh()
}
