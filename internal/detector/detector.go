// Package detector finds faces and their five landmarks in video frames.
package detector

import (
	"github.com/ayusman/watchpost/internal/capture"
)

// Detector defines the interface for face detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns faces sorted by descending score.
	// Returns an empty slice if no faces are detected.
	Detect(frame capture.Frame) ([]FaceBox, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for face detection.
type Config struct {
	// InputSize is the square network input the frame is letterboxed to.
	InputSize int

	// ScoreThreshold is the minimum face probability kept (0.0-1.0).
	ScoreThreshold float32

	// NMSThreshold is the IoU above which a lower-scored box is suppressed.
	NMSThreshold float32
}

// DefaultConfig returns the settings the RetinaFace weights were trained with.
func DefaultConfig() Config {
	return Config{
		InputSize:      640,
		ScoreThreshold: 0.8,
		NMSThreshold:   0.4,
	}
}
