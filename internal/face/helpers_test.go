package face

import (
	"path/filepath"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/inference"
	"github.com/ayusman/watchpost/internal/store"
)

// vectorEngine returns the same embedding output for every input.
type vectorEngine struct {
	mu     sync.Mutex
	vec    []float32
	output string
	calls  int
	err    error
}

func newVectorEngine(vec ...float32) *vectorEngine {
	return &vectorEngine{vec: vec, output: DefaultOutput}
}

func (e *vectorEngine) Run(input gocv.Mat) (inference.Outputs, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return inference.Outputs{
		e.output: {Shape: []int{1, len(e.vec)}, Data: append([]float32(nil), e.vec...)},
	}, nil
}

func (e *vectorEngine) Close() error { return nil }

func (e *vectorEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestQueue(t *testing.T) *store.Queue {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	q := store.NewQueue(s)
	q.Start()
	t.Cleanup(func() {
		q.Stop()
		s.Close()
	})
	return q
}

func grayImage(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), rows, cols, gocv.MatTypeCV8UC3)
}
