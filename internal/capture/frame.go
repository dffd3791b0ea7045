package capture

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Frame is a captured image with its capture time.
// Each holder owns its Mat and must Close it; hand copies to other goroutines with Clone.
type Frame struct {
	Mat  *gocv.Mat
	Time time.Time
	// Seq is assigned by the Hub on publish.
	Seq uint64
}

// NewFrame wraps m, taking ownership of it.
func NewFrame(m gocv.Mat, t time.Time) Frame {
	return Frame{Mat: &m, Time: t}
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	if f.Mat == nil {
		return Frame{Time: f.Time, Seq: f.Seq}
	}
	m := f.Mat.Clone()
	return Frame{Mat: &m, Time: f.Time, Seq: f.Seq}
}

// Close releases the pixel buffer. It is safe to call more than once.
func (f *Frame) Close() {
	if f.Mat != nil {
		f.Mat.Close()
		f.Mat = nil
	}
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Mat == nil || f.Mat.Empty()
}

// Size returns width and height in pixels.
func (f Frame) Size() image.Point {
	if f.Mat == nil {
		return image.Point{}
	}
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}
