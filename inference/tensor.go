// Package inference - ONNX Runtime sessions and process-wide model lifecycle.
package inference

import (
	"context"

	"github.com/pkg/errors"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	// Shape lists the dimensions, outermost first.
	Shape []int64
	// Data holds the elements. len(Data) equals the product of Shape.
	Data []float32
}

// NewTensor creates a tensor over data, checking that the shape matches.
//
// Arguments:
//   - data: The elements. Not copied.
//   - shape: The dimensions.
//
// Returns:
//   - Tensor: The tensor.
//   - error: If the element count does not match the shape.
func NewTensor(data []float32, shape ...int64) (Tensor, error) {
	t := Tensor{Shape: shape, Data: data}
	if int64(len(data)) != t.Elements() {
		return Tensor{}, errors.Errorf("shape %v needs %d elements, got %d", shape, t.Elements(), len(data))
	}
	return t, nil
}

// Elements returns the number of elements described by the shape.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Dim returns the size of dimension i, or -1 when t has fewer dimensions.
func (t Tensor) Dim(i int) int64 {
	if i < 0 || i >= len(t.Shape) {
		return -1
	}
	return t.Shape[i]
}

// Runner executes a model over input tensors.
//
// Implementations must be safe for concurrent use.
type Runner interface {
	// Run feeds inputs in declaration order and returns the outputs in
	// declaration order.
	Run(ctx context.Context, inputs ...Tensor) ([]Tensor, error)
	// Close releases the model.
	Close() error
}
