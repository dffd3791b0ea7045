package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Motion gate constants
const (
	// motionBlurSize is the Gaussian kernel applied before differencing.
	motionBlurSize = 21
	// motionDiffThreshold is the per-pixel intensity change counted as motion.
	motionDiffThreshold = 25
	// motionWidth is the width frames are downscaled to before comparison.
	motionWidth = 320
	// DefaultMotionHold keeps the gate open after the last motion.
	DefaultMotionHold = 2 * time.Second
)

// MotionGate decides whether a frame is worth running face detection on.
// It compares each frame with the previous one and stays open for a hold
// period after the last frame that changed by more than the threshold.
type MotionGate struct {
	threshold float64
	hold      time.Duration

	mu         sync.Mutex
	prev       gocv.Mat
	primed     bool
	lastMotion time.Time
}

// NewMotionGate creates a gate that opens when more than threshold percent of pixels change.
func NewMotionGate(threshold float64, hold time.Duration) *MotionGate {
	if threshold <= 0 {
		threshold = 1.0
	}
	if hold < 0 {
		hold = DefaultMotionHold
	}
	return &MotionGate{
		threshold: threshold,
		hold:      hold,
		prev:      gocv.NewMat(),
	}
}

// Open reports whether f should be processed, along with the percentage of pixels that changed.
// The first frame only primes the gate.
func (m *MotionGate) Open(f Frame) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.Empty() {
		return false, 0
	}

	cur := prepareMotionFrame(*f.Mat)
	if !m.primed || m.prev.Rows() != cur.Rows() || m.prev.Cols() != cur.Cols() {
		m.prev.Close()
		m.prev = cur
		m.primed = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(cur, m.prev, &diff)
	gocv.Threshold(diff, &diff, motionDiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(diff)) / float64(diff.Rows()*diff.Cols()) * 100.0

	m.prev.Close()
	m.prev = cur

	if changed > m.threshold {
		m.lastMotion = f.Time
	}
	open := !m.lastMotion.IsZero() && f.Time.Sub(m.lastMotion) <= m.hold
	return open, changed
}

// prepareMotionFrame returns a small blurred grayscale copy of src.
func prepareMotionFrame(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if src.Channels() > 1 {
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	} else {
		src.CopyTo(&gray)
	}

	if gray.Cols() > motionWidth {
		h := gray.Rows() * motionWidth / gray.Cols()
		small := gocv.NewMat()
		gocv.Resize(gray, &small, image.Pt(motionWidth, h), 0, 0, gocv.InterpolationArea)
		gray.Close()
		gray = small
	}

	gocv.GaussianBlur(gray, &gray, image.Pt(motionBlurSize, motionBlurSize), 0, 0, gocv.BorderDefault)
	return gray
}

// Reset forgets the previous frame and any pending hold.
func (m *MotionGate) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prev.Close()
	m.prev = gocv.NewMat()
	m.primed = false
	m.lastMotion = time.Time{}
}

// Close releases resources used by the gate. The gate re-primes if used again.
func (m *MotionGate) Close() {
	m.Reset()
}

// SetThreshold sets the percentage of pixels that must change.
// Values less than or equal to 0 are ignored.
func (m *MotionGate) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
}
