package detector

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/inference"
)

// fakeEngine returns canned RetinaFace outputs for a square input of side size.
type fakeEngine struct {
	size   int
	out    inference.Outputs
	err    error
	inputs [][]int
	closed int
}

func newFakeEngine(size int) *fakeEngine {
	e := &fakeEngine{size: size, out: inference.Outputs{}}
	for _, l := range levels {
		n := 2
		h, w := size/l.stride, size/l.stride
		e.out[fmt.Sprintf(scoreOutput, l.stride)] = inference.NewTensor(1, 2*n, h, w)
		e.out[fmt.Sprintf(bboxOutput, l.stride)] = inference.NewTensor(1, 4*n, h, w)
		e.out[fmt.Sprintf(landmarkOutput, l.stride)] = inference.NewTensor(1, 10*n, h, w)
	}
	return e
}

// setFace marks anchor q at (row, col) of stride as a face with the given score.
func (e *fakeEngine) setFace(stride, q, row, col int, score float32) {
	t := e.out[fmt.Sprintf(scoreOutput, stride)]
	w := e.size / stride
	t.Channel(q + 2)[row*w+col] = score
}

// setDelta sets the bbox regression of anchor q at (row, col).
func (e *fakeEngine) setDelta(stride, q, row, col int, dx, dy, dw, dh float32) {
	t := e.out[fmt.Sprintf(bboxOutput, stride)]
	idx := row*(e.size/stride) + col
	for k, v := range []float32{dx, dy, dw, dh} {
		t.Channel(q*4 + k)[idx] = v
	}
}

func (e *fakeEngine) Run(input gocv.Mat) (inference.Outputs, error) {
	e.inputs = append(e.inputs, input.Size())
	if e.err != nil {
		return nil, e.err
	}
	return e.out, nil
}

func (e *fakeEngine) Close() error {
	e.closed++
	return nil
}
