package detector

import (
	"image"
	"sync"

	"github.com/ayusman/watchpost/internal/capture"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	faces []FaceBox
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFaces sets the faces that will be returned by Detect.
func (m *MockDetector) SetFaces(faces []FaceBox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = faces
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns a copy of the pre-configured faces or error.
func (m *MockDetector) Detect(frame capture.Frame) ([]FaceBox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]FaceBox(nil), m.faces...), nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// FrontalFace returns a preset face filling the center of a w x h frame,
// with landmarks where an upright frontal face has them.
func FrontalFace(w, h int) FaceBox {
	side := min(w, h) / 2
	x0 := (w - side) / 2
	y0 := (h - side) / 2
	s := float32(side)
	fx, fy := float32(x0), float32(y0)

	face := FaceBox{
		Score: 0.99,
		Rect:  image.Rect(x0, y0, x0+side, y0+side),
	}
	face.Landmarks[LeftEye] = Point{X: fx + 0.34*s, Y: fy + 0.46*s}
	face.Landmarks[RightEye] = Point{X: fx + 0.66*s, Y: fy + 0.46*s}
	face.Landmarks[Nose] = Point{X: fx + 0.50*s, Y: fy + 0.64*s}
	face.Landmarks[LeftMouth] = Point{X: fx + 0.37*s, Y: fy + 0.82*s}
	face.Landmarks[RightMouth] = Point{X: fx + 0.63*s, Y: fy + 0.82*s}
	return face
}
