// Package inference runs neural network models through the OpenCV DNN module.
package inference

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrShape is returned when a tensor does not have the expected layout.
var ErrShape = errors.New("unexpected tensor shape")

// Tensor is a dense float32 output blob in NCHW order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// CHW returns channel, height and width for a 4-d tensor with batch 1 or a 3-d tensor.
func (t Tensor) CHW() (c, h, w int, err error) {
	switch len(t.Shape) {
	case 4:
		if t.Shape[0] != 1 {
			return 0, 0, 0, fmt.Errorf("%w: batch %d", ErrShape, t.Shape[0])
		}
		c, h, w = t.Shape[1], t.Shape[2], t.Shape[3]
	case 3:
		c, h, w = t.Shape[0], t.Shape[1], t.Shape[2]
	default:
		return 0, 0, 0, fmt.Errorf("%w: %v", ErrShape, t.Shape)
	}
	if c*h*w != len(t.Data) {
		return 0, 0, 0, fmt.Errorf("%w: %v holds %d values", ErrShape, t.Shape, len(t.Data))
	}
	return c, h, w, nil
}

// Channel returns the h*w plane of channel c. The tensor must be 3-d or 4-d.
func (t Tensor) Channel(c int) []float32 {
	_, h, w, err := t.CHW()
	if err != nil {
		return nil
	}
	plane := h * w
	return t.Data[c*plane : (c+1)*plane]
}

// Flat returns the data as a vector. Embedding outputs are [1, D] or [1, D, 1, 1].
func (t Tensor) Flat() []float32 {
	return t.Data
}

// TensorFromMat copies a float32 blob out of m.
func TensorFromMat(m gocv.Mat) (Tensor, error) {
	if m.Empty() {
		return Tensor{}, fmt.Errorf("%w: empty blob", ErrShape)
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return Tensor{}, fmt.Errorf("read blob: %w", err)
	}
	return Tensor{
		Shape: m.Size(),
		Data:  append([]float32(nil), data...),
	}, nil
}
