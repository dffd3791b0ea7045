package detector

import (
	"errors"
	"image"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/inference"
)

func TestGenerateAnchors(t *testing.T) {
	anchors := GenerateAnchors(anchorBaseSize, anchorRatios, []float32{2, 1})
	require.Len(t, anchors, 2)

	assert.Equal(t, Anchor{X0: -16, Y0: -16, X1: 16, Y1: 16}, anchors[0])
	assert.Equal(t, Anchor{X0: -8, Y0: -8, X1: 8, Y1: 8}, anchors[1])
	assert.Equal(t, float32(16), anchors[1].Width())
	assert.Equal(t, float32(16), anchors[1].Height())
}

func TestOutputLayers(t *testing.T) {
	names := OutputLayers()
	require.Len(t, names, 9)
	assert.Equal(t, "face_rpn_cls_prob_reshape_stride32", names[0])
	assert.Equal(t, "face_rpn_landmark_pred_stride8", names[8])
}

func TestLetterbox(t *testing.T) {
	tests := []struct {
		name       string
		w, h, size int
		want       Letterbox
	}{
		{"square", 64, 64, 64, Letterbox{Size: 64, Scale: 1, Width: 64, Height: 64}},
		{"wide", 128, 64, 64, Letterbox{Size: 64, Scale: 0.5, Width: 64, Height: 32, PadY: 16}},
		{"tall", 64, 128, 64, Letterbox{Size: 64, Scale: 0.5, Width: 32, Height: 64, PadX: 16}},
		{"vga", 640, 480, 640, Letterbox{Size: 640, Scale: 1, Width: 640, Height: 480, PadY: 80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewLetterbox(tt.w, tt.h, tt.size))
		})
	}
}

func TestLetterbox_Apply(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 64, 128, gocv.MatTypeCV8UC3)
	defer src.Close()

	lb := NewLetterbox(128, 64, 64)
	dst := lb.Apply(src)
	defer dst.Close()

	assert.Equal(t, 64, dst.Rows())
	assert.Equal(t, 64, dst.Cols())
	// padding rows are black, content rows are white
	assert.Equal(t, uint8(0), dst.GetVecbAt(0, 32)[0])
	assert.Equal(t, uint8(255), dst.GetVecbAt(32, 32)[0])
}

func TestNMS(t *testing.T) {
	ps := []proposal{
		{score: 0.9, box: box{X: 0, Y: 0, W: 10, H: 10}},
		{score: 0.8, box: box{X: 1, Y: 1, W: 10, H: 10}},
		{score: 0.7, box: box{X: 50, Y: 50, W: 10, H: 10}},
	}

	assert.Equal(t, []int{0, 2}, nms(ps, 0.4))
	assert.Equal(t, []int{0, 1, 2}, nms(ps, 0.99))
	assert.Empty(t, nms(nil, 0.4))
}

func TestSortProposals_StableOnTies(t *testing.T) {
	ps := []proposal{
		{score: 0.8, box: box{X: 1}},
		{score: 0.9, box: box{X: 2}},
		{score: 0.8, box: box{X: 3}},
	}
	sortProposals(ps)

	assert.Equal(t, float32(2), ps[0].box.X)
	assert.Equal(t, float32(1), ps[1].box.X)
	assert.Equal(t, float32(3), ps[2].box.X)
}

func TestClip(t *testing.T) {
	tests := []struct {
		name string
		in   box
		want box
		ok   bool
	}{
		{"inside", box{X: 10, Y: 10, W: 5, H: 5}, box{X: 10, Y: 10, W: 5, H: 5}, true},
		{"overhang", box{X: -5, Y: -5, W: 20, H: 200}, box{X: 0, Y: 0, W: 15, H: 63}, true},
		{"outside", box{X: 100, Y: 10, W: 5, H: 5}, box{X: 63, Y: 10, W: 0, H: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := clip(tt.in, 64, 64)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIoU(t *testing.T) {
	a := image.Rect(0, 0, 10, 10)
	assert.InDelta(t, 1.0, IoU(a, a), 1e-9)
	assert.InDelta(t, 0.0, IoU(a, image.Rect(20, 20, 30, 30)), 1e-9)
	assert.InDelta(t, 25.0/175.0, IoU(a, image.Rect(5, 5, 15, 15)), 1e-9)
}

func TestPostprocess(t *testing.T) {
	t.Run("no faces", func(t *testing.T) {
		e := newFakeEngine(64)
		r := NewRetinaFace(e, Config{InputSize: 64})

		faces, err := r.postprocess(e.out, NewLetterbox(64, 64, 64), 64, 64)
		require.NoError(t, err)
		assert.Empty(t, faces)
	})

	t.Run("single anchor decodes to pixel box", func(t *testing.T) {
		e := newFakeEngine(64)
		e.setFace(8, 1, 2, 3, 0.95)
		r := NewRetinaFace(e, Config{InputSize: 64})

		faces, err := r.postprocess(e.out, NewLetterbox(64, 64, 64), 64, 64)
		require.NoError(t, err)
		require.Len(t, faces, 1)

		f := faces[0]
		assert.Equal(t, float32(0.95), f.Score)
		assert.Equal(t, image.Rect(16, 8, 33, 25), f.Rect)
		for _, p := range f.Landmarks {
			assert.Equal(t, Point{X: 24, Y: 16}, p)
		}
	})

	t.Run("below threshold dropped", func(t *testing.T) {
		e := newFakeEngine(64)
		e.setFace(8, 1, 2, 3, 0.5)
		r := NewRetinaFace(e, Config{InputSize: 64})

		faces, err := r.postprocess(e.out, NewLetterbox(64, 64, 64), 64, 64)
		require.NoError(t, err)
		assert.Empty(t, faces)
	})

	t.Run("overlapping lower score suppressed", func(t *testing.T) {
		e := newFakeEngine(64)
		e.setFace(8, 1, 2, 3, 0.95)
		// shifted back half an anchor onto the same box
		e.setFace(8, 1, 2, 4, 0.9)
		e.setDelta(8, 1, 2, 4, -0.5, 0, 0, 0)
		e.setFace(8, 1, 6, 6, 0.85)
		r := NewRetinaFace(e, Config{InputSize: 64})

		faces, err := r.postprocess(e.out, NewLetterbox(64, 64, 64), 64, 64)
		require.NoError(t, err)
		require.Len(t, faces, 2)
		assert.Equal(t, float32(0.95), faces[0].Score)
		assert.Equal(t, float32(0.85), faces[1].Score)
		assert.Equal(t, image.Rect(40, 40, 57, 57), faces[1].Rect)
	})

	t.Run("equal scores keep coarse stride first", func(t *testing.T) {
		e := newFakeEngine(64)
		e.setFace(8, 1, 2, 3, 0.9)
		e.setFace(32, 1, 0, 0, 0.9)
		r := NewRetinaFace(e, Config{InputSize: 64})

		faces, err := r.postprocess(e.out, NewLetterbox(64, 64, 64), 64, 64)
		require.NoError(t, err)
		require.Len(t, faces, 2)
		assert.Equal(t, image.Rect(0, 0, 63, 63), faces[0].Rect)
		assert.Equal(t, image.Rect(16, 8, 33, 25), faces[1].Rect)
	})

	t.Run("maps back through letterbox", func(t *testing.T) {
		e := newFakeEngine(64)
		e.setFace(8, 1, 4, 3, 0.9)
		r := NewRetinaFace(e, Config{InputSize: 64})

		faces, err := r.postprocess(e.out, NewLetterbox(128, 64, 64), 128, 64)
		require.NoError(t, err)
		require.Len(t, faces, 1)
		assert.Equal(t, image.Rect(32, 16, 66, 50), faces[0].Rect)
		assert.Equal(t, Point{X: 48, Y: 32}, faces[0].Landmarks[Nose])
	})

	t.Run("bad shape", func(t *testing.T) {
		e := newFakeEngine(64)
		e.out["face_rpn_cls_prob_reshape_stride16"] = inference.NewTensor(1, 3, 4, 4)
		r := NewRetinaFace(e, Config{InputSize: 64})

		_, err := r.postprocess(e.out, NewLetterbox(64, 64, 64), 64, 64)
		assert.ErrorIs(t, err, inference.ErrShape)
	})

	t.Run("missing output", func(t *testing.T) {
		e := newFakeEngine(64)
		delete(e.out, "face_rpn_bbox_pred_stride8")
		r := NewRetinaFace(e, Config{InputSize: 64})

		_, err := r.postprocess(e.out, NewLetterbox(64, 64, 64), 64, 64)
		assert.ErrorIs(t, err, inference.ErrShape)
	})
}

func TestSelectFaces_SuppressesAfterClipping(t *testing.T) {
	// Both boxes run off the left edge. Unclipped they overlap below the threshold,
	// clipped to the frame they do not.
	props := []proposal{
		{score: 0.9, box: box{X: -40, Y: 0, W: 64, H: 64}},
		{score: 0.85, box: box{X: -8, Y: 0, W: 64, H: 64}},
	}
	require.Less(t, props[0].box.iou(props[1].box), float32(0.4))

	faces := selectFaces(props, NewLetterbox(64, 64, 64), 64, 64, 0.4)
	require.Len(t, faces, 1)
	assert.Equal(t, float32(0.9), faces[0].Score)
	assert.Equal(t, image.Rect(0, 0, 24, 63), faces[0].Rect)
}

func TestPostprocess_RandomOutputs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sizes := []image.Point{{64, 64}, {128, 64}, {50, 90}, {37, 200}}

	for round := 0; round < 40; round++ {
		e := newFakeEngine(64)
		for _, l := range levels {
			n := e.size / l.stride
			for q := 0; q < 2; q++ {
				for row := 0; row < n; row++ {
					for col := 0; col < n; col++ {
						e.setFace(l.stride, q, row, col, rng.Float32())
						e.setDelta(l.stride, q, row, col,
							rng.Float32()*2-1, rng.Float32()*2-1,
							rng.Float32()*2-1, rng.Float32()*2-1)
					}
				}
			}
		}
		r := NewRetinaFace(e, Config{InputSize: 64})

		size := sizes[round%len(sizes)]
		faces, err := r.postprocess(e.out, NewLetterbox(size.X, size.Y, 64), size.X, size.Y)
		require.NoError(t, err)

		bounds := image.Rect(0, 0, size.X, size.Y)
		for i, f := range faces {
			if !f.Rect.In(bounds) || f.Rect.Empty() {
				t.Errorf("round %d: face %d rect %v outside %v", round, i, f.Rect, bounds)
			}
			if f.Score < DefaultConfig().ScoreThreshold {
				t.Errorf("round %d: face %d score %v below threshold", round, i, f.Score)
			}
			if i > 0 && f.Score > faces[i-1].Score {
				t.Errorf("round %d: faces not ordered by score", round)
			}
			for j := 0; j < i; j++ {
				if iou := IoU(f.Rect, faces[j].Rect); iou > 0.4+1e-6 {
					t.Errorf("round %d: faces %d and %d overlap with IoU %.3f", round, j, i, iou)
				}
			}
		}
	}
}

func TestRetinaFace_Detect(t *testing.T) {
	e := newFakeEngine(64)
	e.setFace(8, 1, 2, 3, 0.95)
	r := NewRetinaFace(e, Config{InputSize: 64})
	defer r.Close()

	frame := capture.NewFrame(gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 64, 64, gocv.MatTypeCV8UC3), time.Now())
	defer frame.Close()

	faces, err := r.Detect(frame)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	require.Len(t, e.inputs, 1)
	assert.Equal(t, []int{1, 3, 64, 64}, e.inputs[0])
}

func TestRetinaFace_Errors(t *testing.T) {
	t.Run("empty frame", func(t *testing.T) {
		r := NewRetinaFace(newFakeEngine(64), Config{InputSize: 64})
		defer r.Close()

		_, err := r.Detect(capture.Frame{})
		assert.ErrorIs(t, err, ErrEmptyFrame)
	})

	t.Run("engine failure", func(t *testing.T) {
		e := newFakeEngine(64)
		e.err = errors.New("boom")
		r := NewRetinaFace(e, Config{InputSize: 64})
		defer r.Close()

		frame := capture.NewFrame(gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3), time.Now())
		defer frame.Close()

		_, err := r.Detect(frame)
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("close releases engine once", func(t *testing.T) {
		e := newFakeEngine(64)
		r := NewRetinaFace(e, Config{InputSize: 64})

		require.NoError(t, r.Close())
		require.NoError(t, r.Close())
		assert.Equal(t, 1, e.closed)

		frame := capture.NewFrame(gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3), time.Now())
		defer frame.Close()
		_, err := r.Detect(frame)
		assert.Error(t, err)
	})
}

func TestMockDetector(t *testing.T) {
	m := NewMockDetector()
	face := FrontalFace(640, 480)
	m.SetFaces([]FaceBox{face})

	got, err := m.Detect(capture.Frame{})
	require.NoError(t, err)
	assert.Equal(t, []FaceBox{face}, got)
	assert.Equal(t, image.Rect(200, 120, 440, 360), face.Rect)

	m.SetError(errors.New("fail"))
	_, err = m.Detect(capture.Frame{})
	assert.Error(t, err)
	assert.Equal(t, 2, m.Calls())
}
